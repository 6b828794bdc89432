// Package memory provides an in-memory event store used for tests, fixtures
// and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tracecore/internal/infra/persistence/fixture"
	"tracecore/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.EventReader      = (*Store)(nil)
	_ domain.LotLister        = (*Store)(nil)
	_ domain.StockCacheWriter = (*Store)(nil)
)

type state struct {
	facilities      map[string]domain.Facility
	lots            map[string]domain.Lot
	events          map[string]domain.CTE
	shipments       map[string]domain.Shipment
	transformations map[string]domain.Transformation
}

func newState() state {
	return state{
		facilities:      make(map[string]domain.Facility),
		lots:            make(map[string]domain.Lot),
		events:          make(map[string]domain.CTE),
		shipments:       make(map[string]domain.Shipment),
		transformations: make(map[string]domain.Transformation),
	}
}

// Store keeps the dataset in maps guarded by a RWMutex. Reads return copies.
type Store struct {
	mu    sync.RWMutex
	state state
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: newState()}
}

// NewStoreFromDataset builds a store preloaded with ds.
func NewStoreFromDataset(ds fixture.Dataset) (*Store, error) {
	s := NewStore()
	if err := s.Load(ds); err != nil {
		return nil, err
	}
	return s, nil
}

// Load adds every record of ds, rejecting duplicate ids.
func (s *Store) Load(ds fixture.Dataset) error {
	for _, f := range ds.Facilities {
		if err := s.PutFacility(f); err != nil {
			return err
		}
	}
	for _, l := range ds.Lots {
		if err := s.PutLot(l); err != nil {
			return err
		}
	}
	for _, e := range ds.Events {
		if err := s.PutEvent(e); err != nil {
			return err
		}
	}
	for _, sh := range ds.Shipments {
		if err := s.PutShipment(sh); err != nil {
			return err
		}
	}
	for _, t := range ds.Transformations {
		if err := s.PutTransformation(t); err != nil {
			return err
		}
	}
	return nil
}

func duplicate(entity domain.EntityType, id string) error {
	return &domain.InvalidRecordError{Entity: entity, ID: id, Err: fmt.Errorf("duplicate %s id", entity)}
}

// PutFacility inserts a facility.
func (s *Store) PutFacility(f domain.Facility) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.facilities[f.ID]; ok {
		return duplicate(domain.EntityFacility, f.ID)
	}
	s.state.facilities[f.ID] = f
	return nil
}

// PutLot inserts a lot.
func (s *Store) PutLot(l domain.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.lots[l.TLC]; ok {
		return duplicate(domain.EntityLot, l.TLC)
	}
	s.state.lots[l.TLC] = cloneLot(l)
	return nil
}

// PutEvent inserts a critical tracking event.
func (s *Store) PutEvent(e domain.CTE) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.events[e.ID]; ok {
		return duplicate(domain.EntityEvent, e.ID)
	}
	s.state.events[e.ID] = cloneEvent(e)
	return nil
}

// PutShipment inserts a shipment.
func (s *Store) PutShipment(sh domain.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.shipments[sh.ID]; ok {
		return duplicate(domain.EntityShipment, sh.ID)
	}
	s.state.shipments[sh.ID] = cloneShipment(sh)
	return nil
}

// PutTransformation inserts a transformation junction record.
func (s *Store) PutTransformation(t domain.Transformation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.transformations[t.ID]; ok {
		return duplicate(domain.EntityTransformation, t.ID)
	}
	s.state.transformations[t.ID] = cloneTransformation(t)
	return nil
}

// Snapshot exports the store contents in deterministic order.
func (s *Store) Snapshot() fixture.Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ds fixture.Dataset
	for _, f := range s.state.facilities {
		ds.Facilities = append(ds.Facilities, f)
	}
	sort.Slice(ds.Facilities, func(i, j int) bool { return ds.Facilities[i].ID < ds.Facilities[j].ID })
	for _, l := range s.state.lots {
		ds.Lots = append(ds.Lots, cloneLot(l))
	}
	sort.Slice(ds.Lots, func(i, j int) bool { return ds.Lots[i].TLC < ds.Lots[j].TLC })
	for _, e := range s.state.events {
		ds.Events = append(ds.Events, cloneEvent(e))
	}
	domain.SortEvents(ds.Events)
	for _, sh := range s.state.shipments {
		ds.Shipments = append(ds.Shipments, cloneShipment(sh))
	}
	domain.SortShipments(ds.Shipments)
	for _, t := range s.state.transformations {
		ds.Transformations = append(ds.Transformations, cloneTransformation(t))
	}
	domain.SortTransformations(ds.Transformations)
	return ds
}

// LoadLotContext implements domain.EventReader.
func (s *Store) LoadLotContext(ctx context.Context, tlc string) (domain.LotContext, error) {
	if err := ctx.Err(); err != nil {
		return domain.LotContext{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	lot, ok := s.state.lots[tlc]
	if !ok {
		return domain.LotContext{}, domain.NewNotFound(domain.EntityLot, tlc)
	}
	lc := domain.LotContext{Lot: cloneLot(lot), Events: []domain.CTE{}, Shipments: []domain.Shipment{}}
	for _, e := range s.state.events {
		if e.LotTLC == tlc {
			lc.Events = append(lc.Events, cloneEvent(e))
		}
	}
	for _, sh := range s.state.shipments {
		if sh.LotTLC == tlc {
			lc.Shipments = append(lc.Shipments, cloneShipment(sh))
		}
	}
	domain.SortEvents(lc.Events)
	domain.SortShipments(lc.Shipments)
	return lc, nil
}

// GetLot implements domain.EventReader.
func (s *Store) GetLot(ctx context.Context, tlc string) (domain.Lot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Lot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	lot, ok := s.state.lots[tlc]
	if !ok {
		return domain.Lot{}, domain.NewNotFound(domain.EntityLot, tlc)
	}
	return cloneLot(lot), nil
}

// GetFacility implements domain.EventReader.
func (s *Store) GetFacility(ctx context.Context, id string) (domain.Facility, error) {
	if err := ctx.Err(); err != nil {
		return domain.Facility{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.state.facilities[id]
	if !ok {
		return domain.Facility{}, domain.NewNotFound(domain.EntityFacility, id)
	}
	return f, nil
}

// GetShipment implements domain.EventReader.
func (s *Store) GetShipment(ctx context.Context, id string) (domain.Shipment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Shipment{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.state.shipments[id]
	if !ok {
		return domain.Shipment{}, domain.NewNotFound(domain.EntityShipment, id)
	}
	return cloneShipment(sh), nil
}

// ReceivingsForShipment implements domain.EventReader.
func (s *Store) ReceivingsForShipment(ctx context.Context, shipmentID string) ([]domain.CTE, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CTE
	for _, e := range s.state.events {
		if e.Type == domain.EventReceiving && e.SourceShipmentID != nil && *e.SourceShipmentID == shipmentID {
			out = append(out, cloneEvent(e))
		}
	}
	domain.SortEvents(out)
	return out, nil
}

// TransformationsForLot implements domain.EventReader.
func (s *Store) TransformationsForLot(ctx context.Context, tlc string) ([]domain.Transformation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Transformation
	for _, t := range s.state.transformations {
		if involves(t, tlc) {
			out = append(out, cloneTransformation(t))
		}
	}
	domain.SortTransformations(out)
	return out, nil
}

func involves(t domain.Transformation, tlc string) bool {
	for _, lq := range t.Inputs {
		if lq.LotTLC == tlc {
			return true
		}
	}
	for _, lq := range t.Outputs {
		if lq.LotTLC == tlc {
			return true
		}
	}
	return false
}

// TransformationEventsAt implements domain.EventReader.
func (s *Store) TransformationEventsAt(ctx context.Context, facilityID string, from, to time.Time) ([]domain.CTE, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CTE
	for _, e := range s.state.events {
		if e.Type != domain.EventTransformation || e.FacilityID != facilityID {
			continue
		}
		if e.OccurredAt.Before(from) || e.OccurredAt.After(to) {
			continue
		}
		out = append(out, cloneEvent(e))
	}
	domain.SortEvents(out)
	return out, nil
}

// ListLotTLCs implements domain.LotLister.
func (s *Store) ListLotTLCs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.state.lots))
	for tlc := range s.state.lots {
		out = append(out, tlc)
	}
	sort.Strings(out)
	return out, nil
}

// WriteStockCache overwrites the lot's cache columns.
func (s *Store) WriteStockCache(ctx context.Context, tlc string, shipped, available decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lot, ok := s.state.lots[tlc]
	if !ok {
		return domain.NewNotFound(domain.EntityLot, tlc)
	}
	lot.ShippedQuantity = &shipped
	lot.AvailableQuantity = &available
	s.state.lots[tlc] = lot
	return nil
}

// Close is a no-op kept for parity with the SQL stores.
func (s *Store) Close() error { return nil }

func cloneLot(l domain.Lot) domain.Lot {
	l.ExpiryDate = cloneTime(l.ExpiryDate)
	l.ShippedQuantity = cloneDecimal(l.ShippedQuantity)
	l.AvailableQuantity = cloneDecimal(l.AvailableQuantity)
	return l
}

func cloneEvent(e domain.CTE) domain.CTE {
	e.QuantityProcessed = cloneDecimal(e.QuantityProcessed)
	e.Temperature = cloneDecimal(e.Temperature)
	e.SupersedesID = cloneString(e.SupersedesID)
	e.SourceShipmentID = cloneString(e.SourceShipmentID)
	e.SourceFacilityID = cloneString(e.SourceFacilityID)
	return e
}

func cloneShipment(sh domain.Shipment) domain.Shipment {
	sh.DestinationFacilityID = cloneString(sh.DestinationFacilityID)
	return sh
}

func cloneTransformation(t domain.Transformation) domain.Transformation {
	t.EventID = cloneString(t.EventID)
	t.Inputs = append([]domain.LotQuantity(nil), t.Inputs...)
	t.Outputs = append([]domain.LotQuantity(nil), t.Outputs...)
	return t
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
