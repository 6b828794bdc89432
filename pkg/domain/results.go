package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// WarningKind classifies a non-fatal data anomaly.
type WarningKind string

// Warning kinds surfaced alongside best-effort results.
const (
	WarningNegativeStock     WarningKind = "negative_stock"
	WarningUnitMismatch      WarningKind = "unit_mismatch"
	WarningOrphanedReference WarningKind = "orphaned_reference"
	WarningInferredEdge      WarningKind = "inferred_edge"
	WarningMissingQuantity   WarningKind = "missing_quantity"
	WarningCacheDrift        WarningKind = "cache_drift"
	WarningCycleDetected     WarningKind = "cycle_detected"
	WarningInvalidRecord     WarningKind = "invalid_record"
)

// Warning is attached to a successful result. Warnings are never dropped.
type Warning struct {
	Kind     WarningKind      `json:"kind"`
	Message  string           `json:"message"`
	LotTLC   string           `json:"lot_tlc,omitempty"`
	Entity   EntityType       `json:"entity,omitempty"`
	EntityID string           `json:"entity_id,omitempty"`
	Value    *decimal.Decimal `json:"value,omitempty"`
	Unit     Unit             `json:"unit,omitempty"`
}

// StockBreakdown is the ledger view of a lot's available quantity.
type StockBreakdown struct {
	TLC             string          `json:"tlc"`
	Unit            Unit            `json:"unit"`
	CurrentStock    decimal.Decimal `json:"current_stock"`
	TotalProduction decimal.Decimal `json:"total_production"`
	TotalReceiving  decimal.Decimal `json:"total_receiving"`
	TotalShipping   decimal.Decimal `json:"total_shipping"`
	// Untouched is true when no receiving event and no reserving shipment was counted.
	Untouched      bool      `json:"untouched"`
	Negative       bool      `json:"negative"`
	ReceivingCount int       `json:"receiving_count"`
	ShipmentCount  int       `json:"shipment_count"`
	Warnings       []Warning `json:"warnings"`
	ComputedAt     time.Time `json:"computed_at"`
}

// Direction selects downstream (forward) or upstream (backward) traversal.
type Direction string

// Trace directions.
const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

// ParseDirection validates a direction string.
func ParseDirection(raw string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(raw))); d {
	case Forward, Backward:
		return d, nil
	}
	return "", fmt.Errorf("unknown trace direction %q", raw)
}

// NodeKind distinguishes lot and facility nodes in a genealogy graph.
type NodeKind string

// Node kinds.
const (
	NodeLot      NodeKind = "lot"
	NodeFacility NodeKind = "facility"
)

// EdgeKind is the relationship carried by a genealogy edge.
type EdgeKind string

// Edge kinds. Forward traversal follows shipped_to, received_as and
// transformed_into; backward traversal follows received_from and transformed_from.
const (
	EdgeShippedTo       EdgeKind = "shipped_to"
	EdgeReceivedAs      EdgeKind = "received_as"
	EdgeTransformedInto EdgeKind = "transformed_into"
	EdgeTransformedFrom EdgeKind = "transformed_from"
	EdgeReceivedFrom    EdgeKind = "received_from"
)

// TruncationReason explains why a trace result may be incomplete.
type TruncationReason string

// Truncation reasons.
const (
	TruncatedDepthLimit TruncationReason = "depth_limit"
	TruncatedTimeout    TruncationReason = "timeout"
	TruncatedCycle      TruncationReason = "cycle"
)

// NodeID builds the stable arena key for a node.
func NodeID(kind NodeKind, id string) string {
	return string(kind) + ":" + id
}

// TraceNode is a node reached from the seed.
type TraceNode struct {
	ID         string   `json:"id"`
	Kind       NodeKind `json:"kind"`
	TLC        string   `json:"tlc,omitempty"`
	FacilityID string   `json:"facility_id,omitempty"`
	Label      string   `json:"label,omitempty"`
	Depth      int      `json:"depth"`
	// PathQuantity is the minimum edge quantity along the discovery path.
	PathQuantity decimal.Decimal `json:"path_quantity"`
	Unit         Unit            `json:"unit,omitempty"`
	Parent       string          `json:"parent"`
	Via          EdgeKind        `json:"via"`
	// Inferred is true when any edge on the discovery path was inferred.
	Inferred bool `json:"inferred"`
}

// TraceEdge is a traversed relationship.
type TraceEdge struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	Kind       EdgeKind        `json:"kind"`
	Quantity   decimal.Decimal `json:"quantity"`
	Unit       Unit            `json:"unit,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	SourceID   string          `json:"source_id,omitempty"`
	Inferred   bool            `json:"inferred"`
}

// TraceResult is the ordered set of nodes reachable from a seed lot.
type TraceResult struct {
	Seed             string           `json:"seed"`
	Direction        Direction        `json:"direction"`
	MaxDepth         int              `json:"max_depth"`
	Nodes            []TraceNode      `json:"nodes"`
	Edges            []TraceEdge      `json:"edges"`
	Truncated        bool             `json:"truncated"`
	TruncationReason TruncationReason `json:"reason,omitempty"`
	Warnings         []Warning        `json:"warnings"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// Node returns the trace node with the given arena id.
func (r TraceResult) Node(id string) (TraceNode, bool) {
	for _, n := range r.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return TraceNode{}, false
}
