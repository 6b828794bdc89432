package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tracecore/pkg/domain"
)

// GraphNode is an arena entry keyed by a stable id (lot:<TLC>, facility:<id>).
type GraphNode struct {
	ID         string          `json:"id"`
	Kind       domain.NodeKind `json:"kind"`
	TLC        string          `json:"tlc,omitempty"`
	FacilityID string          `json:"facility_id,omitempty"`
	Label      string          `json:"label,omitempty"`
}

// GraphEdge references its endpoints by arena index.
type GraphEdge struct {
	From       int             `json:"from"`
	To         int             `json:"to"`
	Kind       domain.EdgeKind `json:"kind"`
	Quantity   decimal.Decimal `json:"quantity"`
	Unit       domain.Unit     `json:"unit,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	SourceID   string          `json:"source_id,omitempty"`
	Inferred   bool            `json:"inferred"`
}

// Graph is the genealogy discovered by one traversal. It is owned by the
// caller and never shared between requests.
type Graph struct {
	Seed      string
	Direction domain.Direction
	nodes     []GraphNode
	edges     []GraphEdge
	index     map[string]int
	out       map[int][]int
}

func newGraph(seed string, dir domain.Direction) *Graph {
	return &Graph{
		Seed:      seed,
		Direction: dir,
		index:     make(map[string]int),
		out:       make(map[int][]int),
	}
}

// addNode inserts n unless a node with the same id exists and returns its index.
func (g *Graph) addNode(n GraphNode) int {
	if idx, ok := g.index[n.ID]; ok {
		if g.nodes[idx].Label == "" {
			g.nodes[idx].Label = n.Label
		}
		return idx
	}
	g.nodes = append(g.nodes, n)
	idx := len(g.nodes) - 1
	g.index[n.ID] = idx
	return idx
}

func (g *Graph) addEdge(e GraphEdge) int {
	g.edges = append(g.edges, e)
	idx := len(g.edges) - 1
	g.out[e.From] = append(g.out[e.From], idx)
	return idx
}

// Nodes returns a copy of the node arena in insertion order.
func (g *Graph) Nodes() []GraphNode {
	out := make([]GraphNode, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns a copy of the edge list in traversal order.
func (g *Graph) Edges() []GraphEdge {
	out := make([]GraphEdge, len(g.edges))
	copy(out, g.edges)
	return out
}

func (g *Graph) node(id string) (GraphNode, bool) {
	idx, ok := g.index[id]
	if !ok {
		return GraphNode{}, false
	}
	return g.nodes[idx], true
}

func (g *Graph) outEdges(id string) []GraphEdge {
	idx, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]GraphEdge, 0, len(g.out[idx]))
	for _, e := range g.out[idx] {
		out = append(out, g.edges[e])
	}
	return out
}

// candidate is an edge produced by expanding a node before it is committed to
// the arena. via carries the shipment that reached a facility node.
type candidate struct {
	kind     domain.EdgeKind
	target   GraphNode
	qty      decimal.Decimal
	unit     domain.Unit
	at       time.Time
	sourceID string
	inferred bool
	via      string
}

// builder performs the reader I/O behind node expansion. Lookups are cached for
// the lifetime of one traversal.
type builder struct {
	reader     domain.EventReader
	dir        domain.Direction
	window     time.Duration
	lots       map[string]*domain.Lot
	facilities map[string]*domain.Facility
	contexts   map[string]domain.LotContext
	invalid    map[string]error
	warnings   []domain.Warning
	warned     map[string]bool
}

func newBuilder(reader domain.EventReader, dir domain.Direction, window time.Duration) *builder {
	return &builder{
		reader:     reader,
		dir:        dir,
		window:     window,
		lots:       make(map[string]*domain.Lot),
		facilities: make(map[string]*domain.Facility),
		contexts:   make(map[string]domain.LotContext),
		invalid:    make(map[string]error),
		warned:     make(map[string]bool),
	}
}

func (b *builder) warn(w domain.Warning) {
	key := string(w.Kind) + "|" + w.LotTLC + "|" + string(w.Entity) + "|" + w.EntityID + "|" + w.Message
	if b.warned[key] {
		return
	}
	b.warned[key] = true
	b.warnings = append(b.warnings, w)
}

func (b *builder) lotContext(ctx context.Context, tlc string) (domain.LotContext, error) {
	if lc, ok := b.contexts[tlc]; ok {
		return lc, nil
	}
	lc, err := b.reader.LoadLotContext(ctx, tlc)
	if err != nil {
		return domain.LotContext{}, err
	}
	b.contexts[tlc] = lc
	lot := lc.Lot
	b.lots[tlc] = &lot
	return lc, nil
}

// lot resolves a lot, returning nil without error when it does not exist.
// Invalid rows are remembered so the store is asked once.
func (b *builder) lot(ctx context.Context, tlc string) (*domain.Lot, error) {
	if l, ok := b.lots[tlc]; ok {
		return l, nil
	}
	if err, ok := b.invalid[domain.NodeID(domain.NodeLot, tlc)]; ok {
		return nil, err
	}
	l, err := b.reader.GetLot(ctx, tlc)
	if errors.Is(err, domain.ErrNotFound) {
		b.lots[tlc] = nil
		return nil, nil
	}
	if errors.Is(err, domain.ErrInvalidRecord) {
		b.invalid[domain.NodeID(domain.NodeLot, tlc)] = err
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	b.lots[tlc] = &l
	return &l, nil
}

func (b *builder) facility(ctx context.Context, id string) (*domain.Facility, error) {
	if f, ok := b.facilities[id]; ok {
		return f, nil
	}
	if err, ok := b.invalid[domain.NodeID(domain.NodeFacility, id)]; ok {
		return nil, err
	}
	f, err := b.reader.GetFacility(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		b.facilities[id] = nil
		return nil, nil
	}
	if errors.Is(err, domain.ErrInvalidRecord) {
		b.invalid[domain.NodeID(domain.NodeFacility, id)] = err
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	b.facilities[id] = &f
	return &f, nil
}

func lotNode(l domain.Lot) GraphNode {
	return GraphNode{ID: domain.NodeID(domain.NodeLot, l.TLC), Kind: domain.NodeLot, TLC: l.TLC, Label: l.ProductID}
}

// facilityNode resolves a facility target. A missing facility still yields a
// node so the material movement stays visible; the dangling id is warned.
func (b *builder) facilityNode(ctx context.Context, id, fromTLC string, entity domain.EntityType, entityID string) (GraphNode, error) {
	n := GraphNode{ID: domain.NodeID(domain.NodeFacility, id), Kind: domain.NodeFacility, FacilityID: id}
	f, err := b.facility(ctx, id)
	if errors.Is(err, domain.ErrInvalidRecord) {
		b.warn(invalidRecord(fromTLC, n.ID, err))
		return n, nil
	}
	if err != nil {
		return n, err
	}
	if f == nil {
		b.warn(orphaned(fromTLC, entity, entityID, domain.EntityFacility, id))
		return n, nil
	}
	n.Label = f.Name
	return n, nil
}

// lotTarget resolves a lot target or warns and returns false when it is
// missing or unreadable.
func (b *builder) lotTarget(ctx context.Context, tlc, fromTLC string, entity domain.EntityType, entityID string) (GraphNode, bool, error) {
	l, err := b.lot(ctx, tlc)
	if errors.Is(err, domain.ErrInvalidRecord) {
		b.warn(invalidRecord(fromTLC, domain.NodeID(domain.NodeLot, tlc), err))
		return GraphNode{}, false, nil
	}
	if err != nil {
		return GraphNode{}, false, err
	}
	if l == nil {
		b.warn(orphaned(fromTLC, entity, entityID, domain.EntityLot, tlc))
		return GraphNode{}, false, nil
	}
	return lotNode(*l), true, nil
}

// expand returns the outgoing candidates of a node in deterministic order.
// With infer false no correlation queries run; pending then reports whether
// inference could have added edges.
func (b *builder) expand(ctx context.Context, n GraphNode, via string, infer bool) (out []candidate, pending bool, err error) {
	switch {
	case n.Kind == domain.NodeFacility && b.dir == domain.Forward:
		out, err = b.expandFacilityForward(ctx, n, via)
	case n.Kind == domain.NodeFacility:
		return nil, false, nil
	case b.dir == domain.Forward:
		out, pending, err = b.expandLotForward(ctx, n.TLC, infer)
	default:
		out, pending, err = b.expandLotBackward(ctx, n.TLC, infer)
	}
	if err != nil {
		return nil, false, err
	}
	sortCandidates(out)
	return out, pending, nil
}

func sortCandidates(cs []candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, c := cs[i], cs[j]
		if !a.at.Equal(c.at) {
			return a.at.Before(c.at)
		}
		if a.target.ID != c.target.ID {
			return a.target.ID < c.target.ID
		}
		if a.kind != c.kind {
			return a.kind < c.kind
		}
		return a.sourceID < c.sourceID
	})
}

func (b *builder) expandLotForward(ctx context.Context, tlc string, infer bool) ([]candidate, bool, error) {
	lc, err := b.lotContext(ctx, tlc)
	if err != nil {
		return nil, false, err
	}
	var out []candidate
	for _, sh := range lc.Shipments {
		if !sh.Status.ReservesStock() || sh.DestinationFacilityID == nil || *sh.DestinationFacilityID == "" {
			continue
		}
		target, err := b.facilityNode(ctx, *sh.DestinationFacilityID, tlc, domain.EntityShipment, sh.ID)
		if err != nil {
			return nil, false, err
		}
		out = append(out, candidate{
			kind:     domain.EdgeShippedTo,
			target:   target,
			qty:      sh.Quantity,
			unit:     unitOr(sh.Unit, lc.Lot.Unit),
			at:       sh.ShippedAt,
			sourceID: sh.ID,
			via:      sh.ID,
		})
	}
	transformed, pending, err := b.transformationEdges(ctx, lc, infer)
	if err != nil {
		return nil, false, err
	}
	return append(out, transformed...), pending, nil
}

func (b *builder) expandFacilityForward(ctx context.Context, n GraphNode, shipmentID string) ([]candidate, error) {
	if shipmentID == "" {
		return nil, nil
	}
	receipts, err := b.reader.ReceivingsForShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	superseded := supersededEvents(receipts)
	var out []candidate
	for _, r := range receipts {
		if !isEffective(r, superseded) {
			continue
		}
		target, ok, err := b.lotTarget(ctx, r.LotTLC, "", domain.EntityEvent, r.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		qty, unit, err := b.receivedQuantity(ctx, r, shipmentID)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate{
			kind:     domain.EdgeReceivedAs,
			target:   target,
			qty:      qty,
			unit:     unit,
			at:       r.OccurredAt,
			sourceID: r.ID,
		})
	}
	return out, nil
}

// receivedQuantity is the booked-in quantity, falling back to the shipment's
// quantity when the receipt carries none.
func (b *builder) receivedQuantity(ctx context.Context, r domain.CTE, shipmentID string) (decimal.Decimal, domain.Unit, error) {
	if r.QuantityProcessed != nil {
		unit := r.Unit
		if unit == "" {
			if l, err := b.lot(ctx, r.LotTLC); err != nil {
				return decimal.Zero, "", err
			} else if l != nil {
				unit = l.Unit
			}
		}
		return *r.QuantityProcessed, unit, nil
	}
	sh, err := b.reader.GetShipment(ctx, shipmentID)
	if errors.Is(err, domain.ErrNotFound) {
		return decimal.Zero, r.Unit, nil
	}
	if errors.Is(err, domain.ErrInvalidRecord) {
		b.warn(invalidRecord(r.LotTLC, "shipment "+shipmentID, err))
		return decimal.Zero, r.Unit, nil
	}
	if err != nil {
		return decimal.Zero, "", err
	}
	return sh.Quantity, sh.Unit, nil
}

func (b *builder) expandLotBackward(ctx context.Context, tlc string, infer bool) ([]candidate, bool, error) {
	lc, err := b.lotContext(ctx, tlc)
	if err != nil {
		return nil, false, err
	}
	superseded := supersededEvents(lc.Events)
	var out []candidate
	for _, ev := range lc.Events {
		if ev.Type != domain.EventReceiving || !isEffective(ev, superseded) {
			continue
		}
		c, ok, err := b.receivedFrom(ctx, lc.Lot, ev)
		if err != nil {
			return nil, false, err
		}
		if ok {
			out = append(out, c)
		}
	}
	transformed, pending, err := b.transformationEdges(ctx, lc, infer)
	if err != nil {
		return nil, false, err
	}
	return append(out, transformed...), pending, nil
}

// receivedFrom links a receiving event to the lot that was shipped in, or to
// the ship-from facility when the shipment is not on record.
func (b *builder) receivedFrom(ctx context.Context, lot domain.Lot, ev domain.CTE) (candidate, bool, error) {
	c := candidate{kind: domain.EdgeReceivedFrom, at: ev.OccurredAt, sourceID: ev.ID, unit: unitOr(ev.Unit, lot.Unit)}
	if ev.QuantityProcessed != nil {
		c.qty = *ev.QuantityProcessed
	} else {
		b.warn(domain.Warning{
			Kind:     domain.WarningMissingQuantity,
			Message:  fmt.Sprintf("receiving event %s has no quantity", ev.ID),
			LotTLC:   lot.TLC,
			Entity:   domain.EntityEvent,
			EntityID: ev.ID,
		})
	}
	switch {
	case ev.SourceShipmentID != nil && *ev.SourceShipmentID != "":
		sh, err := b.reader.GetShipment(ctx, *ev.SourceShipmentID)
		if errors.Is(err, domain.ErrNotFound) {
			b.warn(orphaned(lot.TLC, domain.EntityEvent, ev.ID, domain.EntityShipment, *ev.SourceShipmentID))
			return c, false, nil
		}
		if errors.Is(err, domain.ErrInvalidRecord) {
			b.warn(invalidRecord(lot.TLC, "shipment "+*ev.SourceShipmentID, err))
			return c, false, nil
		}
		if err != nil {
			return c, false, err
		}
		target, ok, err := b.lotTarget(ctx, sh.LotTLC, lot.TLC, domain.EntityShipment, sh.ID)
		if err != nil || !ok {
			return c, false, err
		}
		c.target = target
		c.sourceID = sh.ID
		if ev.QuantityProcessed == nil || (domain.SameUnit(sh.Unit, c.unit) && sh.Quantity.LessThan(c.qty)) {
			c.qty, c.unit = sh.Quantity, sh.Unit
		}
		return c, true, nil
	case ev.SourceFacilityID != nil && *ev.SourceFacilityID != "":
		target, err := b.facilityNode(ctx, *ev.SourceFacilityID, lot.TLC, domain.EntityEvent, ev.ID)
		if err != nil {
			return c, false, err
		}
		c.target = target
		return c, true, nil
	}
	return c, false, nil
}

// transformationEdges links the lot through explicit junction records first
// and falls back to facility/time-window inference for uncovered events.
// Without infer, pending reports uncovered events instead of querying them.
func (b *builder) transformationEdges(ctx context.Context, lc domain.LotContext, infer bool) ([]candidate, bool, error) {
	records, err := b.reader.TransformationsForLot(ctx, lc.Lot.TLC)
	if err != nil {
		return nil, false, err
	}
	domain.SortTransformations(records)
	var out []candidate
	linked := make(map[string]bool)
	for _, t := range records {
		edges, err := b.explicitEdges(ctx, lc.Lot.TLC, t)
		if err != nil {
			return nil, false, err
		}
		for _, c := range edges {
			linked[c.target.ID] = true
		}
		out = append(out, edges...)
	}
	uncovered := b.uncoveredEvents(lc, records)
	if !infer {
		return out, len(uncovered) > 0, nil
	}
	inferred, err := b.inferredEdges(ctx, lc.Lot, uncovered, linked)
	if err != nil {
		return nil, false, err
	}
	return append(out, inferred...), false, nil
}

// invalidRecord reports a record the store could not decode. The subject is
// left out of the trace and the traversal carries on.
func invalidRecord(tlc, subject string, err error) domain.Warning {
	w := domain.Warning{
		Kind:    domain.WarningInvalidRecord,
		Message: fmt.Sprintf("%s skipped: %v", subject, err),
		LotTLC:  tlc,
	}
	var ire *domain.InvalidRecordError
	if errors.As(err, &ire) {
		w.Entity, w.EntityID = ire.Entity, ire.ID
	}
	return w
}

// explicitEdges attributes min(consumed, produced) to each input/output pair so
// a split never credits the full input to every branch.
func (b *builder) explicitEdges(ctx context.Context, tlc string, t domain.Transformation) ([]candidate, error) {
	var (
		self  []domain.LotQuantity
		other []domain.LotQuantity
		kind  domain.EdgeKind
	)
	if b.dir == domain.Forward {
		self, other, kind = matching(t.Inputs, tlc), t.Outputs, domain.EdgeTransformedInto
	} else {
		self, other, kind = matching(t.Outputs, tlc), t.Inputs, domain.EdgeTransformedFrom
	}
	var out []candidate
	for _, s := range self {
		for _, o := range other {
			if o.LotTLC == tlc {
				continue
			}
			target, ok, err := b.lotTarget(ctx, o.LotTLC, tlc, domain.EntityTransformation, t.ID)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			c := candidate{kind: kind, target: target, at: t.OccurredAt, sourceID: t.ID}
			c.qty, c.unit = b.pairQuantity(s, o, tlc, t.ID)
			out = append(out, c)
		}
	}
	return out, nil
}

func matching(side []domain.LotQuantity, tlc string) []domain.LotQuantity {
	var out []domain.LotQuantity
	for _, lq := range side {
		if lq.LotTLC == tlc {
			out = append(out, lq)
		}
	}
	return out
}

// pairQuantity returns the smaller of the two sides. Across units the far
// side's quantity is used and a mismatch is reported.
func (b *builder) pairQuantity(self, far domain.LotQuantity, tlc, transformationID string) (decimal.Decimal, domain.Unit) {
	if !domain.SameUnit(self.Unit, far.Unit) {
		q := far.Quantity
		b.warn(domain.Warning{
			Kind:     domain.WarningUnitMismatch,
			Message:  fmt.Sprintf("transformation %s relates %s %s to %s %s", transformationID, self.LotTLC, self.Unit, far.LotTLC, far.Unit),
			LotTLC:   tlc,
			Entity:   domain.EntityTransformation,
			EntityID: transformationID,
			Value:    &q,
			Unit:     far.Unit,
		})
		return far.Quantity, far.Unit
	}
	return decimal.Min(self.Quantity, far.Quantity), far.Unit
}
