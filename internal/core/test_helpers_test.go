package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tracecore/internal/infra/persistence/memory"
	"tracecore/pkg/domain"
)

var base = time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)

func qty(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func qtyPtr(n int64) *decimal.Decimal {
	d := qty(n)
	return &d
}

func strPtr(s string) *string { return &s }

// world builds a memory store record by record.
type world struct {
	t *testing.T
	s *memory.Store
}

func newWorld(t *testing.T, facilities ...string) *world {
	t.Helper()
	w := &world{t: t, s: memory.NewStore()}
	for _, id := range facilities {
		w.must(w.s.PutFacility(domain.Facility{ID: id, Name: "Facility " + id}))
	}
	return w
}

func (w *world) must(err error) {
	w.t.Helper()
	if err != nil {
		w.t.Fatalf("seed: %v", err)
	}
}

func (w *world) lot(tlc, facility string, production int64, producedAt time.Time) {
	w.t.Helper()
	w.must(w.s.PutLot(domain.Lot{
		TLC:                tlc,
		ProductID:          "product-" + tlc,
		FacilityID:         facility,
		ProductionQuantity: qty(production),
		Unit:               "kg",
		Status:             domain.LotStatusActive,
		ProductionDate:     producedAt,
		CreatedAt:          producedAt,
	}))
}

func (w *world) ship(id, tlc, origin, dest string, q int64, status domain.ShipmentStatus, at time.Time) {
	w.t.Helper()
	sh := domain.Shipment{
		ID:               id,
		LotTLC:           tlc,
		OriginFacilityID: origin,
		Quantity:         qty(q),
		Unit:             "kg",
		Status:           status,
		ShippedAt:        at,
		CreatedAt:        at,
	}
	if dest != "" {
		sh.DestinationFacilityID = strPtr(dest)
	}
	w.must(w.s.PutShipment(sh))
}

func (w *world) receive(id, tlc, facility, shipmentID string, q int64, at time.Time) {
	w.t.Helper()
	ev := domain.CTE{
		ID:                id,
		LotTLC:            tlc,
		Type:              domain.EventReceiving,
		OccurredAt:        at,
		FacilityID:        facility,
		QuantityProcessed: qtyPtr(q),
		Unit:              "kg",
		Status:            domain.EventStatusEffective,
		CreatedAt:         at,
	}
	if shipmentID != "" {
		ev.SourceShipmentID = strPtr(shipmentID)
	}
	w.must(w.s.PutEvent(ev))
}

func (w *world) event(ev domain.CTE) {
	w.t.Helper()
	if ev.Status == "" {
		ev.Status = domain.EventStatusEffective
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = ev.OccurredAt
	}
	w.must(w.s.PutEvent(ev))
}

func (w *world) transform(id, facility string, at time.Time, inputs, outputs []domain.LotQuantity) {
	w.t.Helper()
	w.must(w.s.PutTransformation(domain.Transformation{ID: id, FacilityID: facility, OccurredAt: at, Inputs: inputs, Outputs: outputs, CreatedAt: at}))
}

func lq(tlc string, q int64) domain.LotQuantity {
	return domain.LotQuantity{LotTLC: tlc, Quantity: qty(q), Unit: "kg"}
}

func (w *world) service(opts ...Option) *Service {
	opts = append([]Option{WithClock(ClockFunc(func() time.Time { return base.Add(30 * 24 * time.Hour) }))}, opts...)
	return NewService(w.s, opts...)
}

// simpleChain: LOT-A (1000 kg at F1) ships 400 to F2, received there as LOT-B,
// which ships 400 on to F3.
func simpleChain(t *testing.T) *world {
	t.Helper()
	w := newWorld(t, "F1", "F2", "F3")
	w.lot("LOT-A", "F1", 1000, base)
	w.lot("LOT-B", "F2", 0, base.Add(27*time.Hour))
	w.ship("SH-1", "LOT-A", "F1", "F2", 400, domain.ShipmentDelivered, base.Add(6*time.Hour))
	w.receive("EV-RECV", "LOT-B", "F2", "SH-1", 400, base.Add(27*time.Hour))
	w.ship("SH-2", "LOT-B", "F2", "F3", 400, domain.ShipmentInTransit, base.Add(50*time.Hour))
	return w
}

func nodeIDs(nodes []domain.TraceNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func hasWarning(ws []domain.Warning, kind domain.WarningKind) bool {
	for _, w := range ws {
		if w.Kind == kind {
			return true
		}
	}
	return false
}

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureLogger) record(s string) {
	c.mu.Lock()
	c.calls = append(c.calls, s)
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.record("d:" + msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.record("i:" + msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.record("w:" + msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.record("e:" + msg) }

// scriptedReader wraps a reader and lets a test fail or cancel specific calls.
type scriptedReader struct {
	domain.EventReader
	mu          sync.Mutex
	loads       int
	cancelAfter int
	cancel      context.CancelFunc
	fail        error
}

func (r *scriptedReader) LoadLotContext(ctx context.Context, tlc string) (domain.LotContext, error) {
	r.mu.Lock()
	r.loads++
	n := r.loads
	r.mu.Unlock()
	if r.fail != nil {
		return domain.LotContext{}, r.fail
	}
	if r.cancel != nil && n >= r.cancelAfter {
		r.cancel()
		return domain.LotContext{}, ctx.Err()
	}
	return r.EventReader.LoadLotContext(ctx, tlc)
}
