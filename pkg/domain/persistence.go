package domain

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// EventReader is the read-only accessor over lots, events, shipments and
// transformation links. Implementations return NotFoundError for missing
// records, StoreError for backend failures, and InvalidRecordError for rows
// that fail enum validation.
type EventReader interface {
	// LoadLotContext returns the lot with events and shipments in ascending
	// timestamp order (ties broken by creation time, then id).
	LoadLotContext(ctx context.Context, tlc string) (LotContext, error)
	GetLot(ctx context.Context, tlc string) (Lot, error)
	GetFacility(ctx context.Context, id string) (Facility, error)
	GetShipment(ctx context.Context, id string) (Shipment, error)
	// ReceivingsForShipment returns receiving events whose SourceShipmentID matches.
	ReceivingsForShipment(ctx context.Context, shipmentID string) ([]CTE, error)
	// TransformationsForLot returns explicit transformations in which the lot is an input or output.
	TransformationsForLot(ctx context.Context, tlc string) ([]Transformation, error)
	// TransformationEventsAt returns transformation events at a facility within [from, to].
	TransformationEventsAt(ctx context.Context, facilityID string, from, to time.Time) ([]CTE, error)
}

// LotLister enumerates lot codes for batch jobs.
type LotLister interface {
	ListLotTLCs(ctx context.Context) ([]string, error)
}

// StockCacheWriter receives freshly computed stock from the reconciliation job.
type StockCacheWriter interface {
	WriteStockCache(ctx context.Context, tlc string, shipped, available decimal.Decimal) error
}

// SortEvents orders events by occurrence time, then creation time, then id.
func SortEvents(events []CTE) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// SortShipments orders shipments by ship time, then creation time, then id.
func SortShipments(shipments []Shipment) {
	sort.SliceStable(shipments, func(i, j int) bool {
		a, b := shipments[i], shipments[j]
		if !a.ShippedAt.Equal(b.ShippedAt) {
			return a.ShippedAt.Before(b.ShippedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// SortTransformations orders transformations by occurrence time, then id.
func SortTransformations(ts []Transformation) {
	sort.SliceStable(ts, func(i, j int) bool {
		if !ts[i].OccurredAt.Equal(ts[j].OccurredAt) {
			return ts[i].OccurredAt.Before(ts[j].OccurredAt)
		}
		return ts[i].ID < ts[j].ID
	})
}
