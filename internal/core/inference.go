package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tracecore/pkg/domain"
)

// lotRole is a lot's part in an unrecorded transformation.
type lotRole int

const (
	roleUnknown lotRole = iota
	roleInput
	roleOutput
)

func (r lotRole) opposite() lotRole {
	switch r {
	case roleInput:
		return roleOutput
	case roleOutput:
		return roleInput
	}
	return roleUnknown
}

func (r lotRole) String() string {
	switch r {
	case roleInput:
		return "input"
	case roleOutput:
		return "output"
	}
	return "unknown"
}

// roleAt classifies a lot against a transformation at the given time. A
// production timestamp inside the window marks an output. A date-only
// production date (midnight UTC) on the event's calendar day is ambiguous,
// since raw product is often harvested and processed the same day.
func roleAt(l domain.Lot, at time.Time, window time.Duration) lotRole {
	if dateOnly(l.ProductionDate) {
		if sameDay(l.ProductionDate, at) {
			return roleUnknown
		}
		return roleInput
	}
	if within(l.ProductionDate, at, window) {
		return roleOutput
	}
	return roleInput
}

// resolveRoles settles an ambiguous pair. A known side fixes the other one;
// when neither is known the later event is taken as the output. Events at the
// same instant stay unknown.
func resolveRoles(self, peer lotRole, selfAt, peerAt time.Time) (lotRole, lotRole) {
	switch {
	case self == roleUnknown && peer == roleUnknown:
		switch {
		case peerAt.After(selfAt):
			return roleInput, roleOutput
		case peerAt.Before(selfAt):
			return roleOutput, roleInput
		}
	case self == roleUnknown:
		return peer.opposite(), peer
	case peer == roleUnknown:
		return self, self.opposite()
	}
	return self, peer
}

// wantRole is the role the expanded lot must play for an edge in b's direction.
func (b *builder) wantRole() lotRole {
	if b.dir == domain.Forward {
		return roleInput
	}
	return roleOutput
}

// uncoveredEvents returns the lot's effective transformation events that no
// junction record covers and whose role fits the traversal direction.
func (b *builder) uncoveredEvents(lc domain.LotContext, records []domain.Transformation) []domain.CTE {
	superseded := supersededEvents(lc.Events)
	want := b.wantRole()
	var out []domain.CTE
	for _, ev := range lc.Events {
		if ev.Type != domain.EventTransformation || !isEffective(ev, superseded) {
			continue
		}
		if coveredByRecord(ev, records, b.window) {
			continue
		}
		if r := roleAt(lc.Lot, ev.OccurredAt, b.window); r != roleUnknown && r != want {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// inferredEdges correlates uncovered transformation events with other lots'
// transformation events at the same facility within the window. An event with
// no linkable peer is reported so a missing link never reads as a leaf.
func (b *builder) inferredEdges(ctx context.Context, lot domain.Lot, events []domain.CTE, linked map[string]bool) ([]candidate, error) {
	want := b.wantRole()
	seen := make(map[string]bool)
	var out []candidate
	for _, ev := range events {
		selfRole := roleAt(lot, ev.OccurredAt, b.window)
		peers, err := b.reader.TransformationEventsAt(ctx, ev.FacilityID, ev.OccurredAt.Add(-b.window), ev.OccurredAt.Add(b.window))
		if err != nil {
			return nil, err
		}
		found, settled := false, false
		for _, p := range peers {
			if p.LotTLC == lot.TLC || p.Type != domain.EventTransformation || p.Status == domain.EventStatusSuperseded {
				continue
			}
			id := domain.NodeID(domain.NodeLot, p.LotTLC)
			if linked[id] || seen[id] {
				found = true
				continue
			}
			peer, err := b.lot(ctx, p.LotTLC)
			if errors.Is(err, domain.ErrInvalidRecord) {
				b.warn(invalidRecord(lot.TLC, id, err))
				continue
			}
			if err != nil {
				return nil, err
			}
			if peer == nil {
				b.warn(orphaned(lot.TLC, domain.EntityEvent, p.ID, domain.EntityLot, p.LotTLC))
				continue
			}
			self, other := resolveRoles(selfRole, roleAt(*peer, p.OccurredAt, b.window), ev.OccurredAt, p.OccurredAt)
			if self == want.opposite() {
				settled = true
			}
			if self != want || other != want.opposite() {
				continue
			}
			seen[id] = true
			found = true
			out = append(out, b.inferredCandidate(lot, *peer, ev, p))
		}
		if !found && (selfRole != roleUnknown || !settled) {
			b.warn(domain.Warning{
				Kind:     domain.WarningOrphanedReference,
				Message:  fmt.Sprintf("transformation event %s at facility %s has no correlated %s lot", ev.ID, ev.FacilityID, want.opposite()),
				LotTLC:   lot.TLC,
				Entity:   domain.EntityEvent,
				EntityID: ev.ID,
			})
		}
	}
	return out, nil
}

func (b *builder) inferredCandidate(lot, peer domain.Lot, ev, p domain.CTE) candidate {
	var (
		input, output domain.LotQuantity
		ok            bool
	)
	if b.dir == domain.Forward {
		input, ok = processed(ev, lot)
		output = produced(peer)
	} else {
		input, ok = processed(p, peer)
		output = produced(lot)
	}
	if !ok {
		input.Quantity, input.Unit = output.Quantity, output.Unit
	}
	c := candidate{
		kind:     domain.EdgeTransformedInto,
		target:   lotNode(peer),
		at:       ev.OccurredAt,
		sourceID: ev.ID,
		inferred: true,
	}
	if b.dir == domain.Backward {
		c.kind = domain.EdgeTransformedFrom
		c.qty, c.unit = b.pairQuantity(output, input, lot.TLC, ev.ID)
	} else {
		c.qty, c.unit = b.pairQuantity(input, output, lot.TLC, ev.ID)
	}
	q := c.qty
	b.warn(domain.Warning{
		Kind:     domain.WarningInferredEdge,
		Message:  fmt.Sprintf("%s link between %s and %s inferred from facility %s activity at %s", c.kind, lot.TLC, peer.TLC, ev.FacilityID, ev.OccurredAt.UTC().Format(time.RFC3339)),
		LotTLC:   lot.TLC,
		Entity:   domain.EntityEvent,
		EntityID: ev.ID,
		Value:    &q,
		Unit:     c.unit,
	})
	return c
}

// processed is the quantity an input lot fed into a transformation event.
func processed(ev domain.CTE, l domain.Lot) (domain.LotQuantity, bool) {
	lq := domain.LotQuantity{LotTLC: l.TLC}
	if ev.QuantityProcessed == nil {
		return lq, false
	}
	lq.Quantity, lq.Unit = *ev.QuantityProcessed, unitOr(ev.Unit, l.Unit)
	return lq, true
}

func produced(l domain.Lot) domain.LotQuantity {
	return domain.LotQuantity{LotTLC: l.TLC, Quantity: l.ProductionQuantity, Unit: l.Unit}
}

func coveredByRecord(ev domain.CTE, records []domain.Transformation, window time.Duration) bool {
	for _, t := range records {
		if t.EventID != nil && *t.EventID == ev.ID {
			return true
		}
		if t.FacilityID == ev.FacilityID && within(t.OccurredAt, ev.OccurredAt, window) {
			return true
		}
	}
	return false
}

func within(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}

func dateOnly(t time.Time) bool {
	u := t.UTC()
	return u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
