package core

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/shopspring/decimal"

	"tracecore/pkg/domain"
)

type traversal struct {
	graph  *Graph
	result domain.TraceResult
}

// queueItem is one pending expansion. key differs from the node id for
// facilities reached by a shipment, since what a facility leads to depends on
// which shipment arrived.
type queueItem struct {
	node     int
	key      string
	depth    int
	pathQty  *decimal.Decimal
	unit     domain.Unit
	via      string
	inferred bool
	parent   *queueItem
}

func (q *queueItem) hasAncestor(key string) bool {
	for p := q; p != nil; p = p.parent {
		if p.key == key {
			return true
		}
	}
	return false
}

func expansionKey(n GraphNode, via string) string {
	if n.Kind == domain.NodeFacility && via != "" {
		return n.ID + "#" + via
	}
	return n.ID
}

// traverse runs a breadth-first expansion from the seed lot. The seed must
// exist and be readable; everything after it is best effort and the result is
// marked truncated when the depth bound, a cycle or the context stops it.
// Nodes at the bound are expanded without correlation queries, only to tell a
// leaf from a cut.
func (s *Service) traverse(ctx context.Context, tlc string, dir domain.Direction, maxDepth int) (*traversal, error) {
	seed, err := s.reader.GetLot(ctx, tlc)
	if err != nil {
		return nil, fmt.Errorf("load seed lot %s: %w", tlc, err)
	}

	b := newBuilder(s.reader, dir, s.inferenceWindow)
	g := newGraph(domain.NodeID(domain.NodeLot, seed.TLC), dir)
	res := domain.TraceResult{
		Seed:      seed.TLC,
		Direction: dir,
		MaxDepth:  maxDepth,
		Nodes:     []domain.TraceNode{},
		Edges:     []domain.TraceEdge{},
		Warnings:  []domain.Warning{},
	}
	truncate := func(reason domain.TruncationReason) {
		if res.TruncationReason == domain.TruncatedTimeout {
			return
		}
		if !res.Truncated || reason == domain.TruncatedTimeout {
			res.Truncated = true
			res.TruncationReason = reason
		}
	}

	root := &queueItem{node: g.addNode(lotNode(seed))}
	root.key = g.nodes[root.node].ID
	visited := mapset.NewThreadUnsafeSet[string](root.key)
	listed := mapset.NewThreadUnsafeSet[string](root.key)
	queue := []*queueItem{root}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if ctx.Err() != nil {
			truncate(domain.TruncatedTimeout)
			break
		}
		from := g.nodes[item.node]
		atBound := item.depth >= maxDepth
		cands, pending, err := b.expand(ctx, from, item.via, !atBound)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				truncate(domain.TruncatedTimeout)
				break
			}
			if item != root && errors.Is(err, domain.ErrInvalidRecord) {
				b.warn(invalidRecord(seed.TLC, from.ID, err))
				continue
			}
			return nil, fmt.Errorf("expand %s: %w", from.ID, err)
		}
		if pending {
			truncate(domain.TruncatedDepthLimit)
		}

		for _, c := range cands {
			key := expansionKey(c.target, c.via)
			cycle := item.hasAncestor(key)
			if atBound && !cycle {
				truncate(domain.TruncatedDepthLimit)
				continue
			}
			to := g.addNode(c.target)
			g.addEdge(GraphEdge{
				From:       item.node,
				To:         to,
				Kind:       c.kind,
				Quantity:   c.qty,
				Unit:       c.unit,
				OccurredAt: c.at,
				SourceID:   c.sourceID,
				Inferred:   c.inferred,
			})
			res.Edges = append(res.Edges, domain.TraceEdge{
				From:       from.ID,
				To:         c.target.ID,
				Kind:       c.kind,
				Quantity:   c.qty,
				Unit:       c.unit,
				OccurredAt: c.at,
				SourceID:   c.sourceID,
				Inferred:   c.inferred,
			})

			if cycle {
				truncate(domain.TruncatedCycle)
				b.warn(domain.Warning{
					Kind:     domain.WarningCycleDetected,
					Message:  fmt.Sprintf("%s edge from %s leads back to %s", c.kind, from.ID, c.target.ID),
					LotTLC:   seed.TLC,
					Entity:   edgeEntity(c.kind),
					EntityID: c.sourceID,
				})
				continue
			}
			if visited.Contains(key) {
				continue
			}
			visited.Add(key)

			next := &queueItem{
				node:     to,
				key:      key,
				depth:    item.depth + 1,
				via:      c.via,
				inferred: item.inferred || c.inferred,
				parent:   item,
			}
			qty, unit := c.qty, c.unit
			if item.pathQty != nil {
				switch {
				case domain.SameUnit(item.unit, c.unit):
					qty, unit = decimal.Min(*item.pathQty, c.qty), item.unit
				default:
					b.warn(domain.Warning{
						Kind:     domain.WarningUnitMismatch,
						Message:  fmt.Sprintf("path quantity unit changes from %s to %s at %s", item.unit, c.unit, c.target.ID),
						LotTLC:   seed.TLC,
						Entity:   edgeEntity(c.kind),
						EntityID: c.sourceID,
					})
				}
			}
			next.pathQty, next.unit = &qty, unit
			queue = append(queue, next)

			if listed.Contains(c.target.ID) {
				continue
			}
			listed.Add(c.target.ID)
			res.Nodes = append(res.Nodes, domain.TraceNode{
				ID:           c.target.ID,
				Kind:         c.target.Kind,
				TLC:          c.target.TLC,
				FacilityID:   c.target.FacilityID,
				Label:        c.target.Label,
				Depth:        next.depth,
				PathQuantity: qty,
				Unit:         unit,
				Parent:       from.ID,
				Via:          c.kind,
				Inferred:     next.inferred,
			})
		}
	}

	res.Warnings = append(res.Warnings, b.warnings...)
	res.GeneratedAt = s.clock.Now()
	return &traversal{graph: g, result: res}, nil
}

func edgeEntity(kind domain.EdgeKind) domain.EntityType {
	switch kind {
	case domain.EdgeShippedTo, domain.EdgeReceivedFrom:
		return domain.EntityShipment
	case domain.EdgeReceivedAs:
		return domain.EntityEvent
	default:
		return domain.EntityTransformation
	}
}
