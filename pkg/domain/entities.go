// Package domain defines the traceability records (lots, critical tracking
// events, shipments, transformations), their validated enums, and the result
// shapes produced by the reconstruction engine.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the kind of record referenced by errors and warnings.
type EntityType string

// Record kinds read by the engine.
const (
	EntityLot            EntityType = "lot"
	EntityFacility       EntityType = "facility"
	EntityEvent          EntityType = "cte"
	EntityShipment       EntityType = "shipment"
	EntityTransformation EntityType = "transformation"
)

// LotStatus captures the lifecycle state of a traceability lot.
type LotStatus string

// Canonical lot statuses. Lots are never deleted, only moved to a terminal status.
const (
	LotStatusActive   LotStatus = "active"
	LotStatusRecalled LotStatus = "recalled"
	LotStatusExpired  LotStatus = "expired"
	LotStatusDepleted LotStatus = "depleted"
)

// ParseLotStatus validates a stored lot status.
func ParseLotStatus(raw string) (LotStatus, error) {
	switch s := LotStatus(normalizeEnum(raw)); s {
	case LotStatusActive, LotStatusRecalled, LotStatusExpired, LotStatusDepleted:
		return s, nil
	}
	return "", fmt.Errorf("unknown lot status %q", raw)
}

// EventType enumerates the critical tracking events recorded against a lot.
type EventType string

// Critical tracking event types (FSMA 204).
const (
	EventHarvest        EventType = "harvest"
	EventCooling        EventType = "cooling"
	EventPacking        EventType = "packing"
	EventReceiving      EventType = "receiving"
	EventTransformation EventType = "transformation"
	EventShipping       EventType = "shipping"
)

// ParseEventType validates a stored event type.
func ParseEventType(raw string) (EventType, error) {
	switch t := EventType(normalizeEnum(raw)); t {
	case EventHarvest, EventCooling, EventPacking, EventReceiving, EventTransformation, EventShipping:
		return t, nil
	}
	return "", fmt.Errorf("unknown event type %q", raw)
}

// EventStatus distinguishes live events from events replaced by a correction.
type EventStatus string

// Event statuses.
const (
	EventStatusEffective  EventStatus = "effective"
	EventStatusSuperseded EventStatus = "superseded"
)

// ParseEventStatus validates a stored event status. An empty value is read as effective.
func ParseEventStatus(raw string) (EventStatus, error) {
	switch s := EventStatus(normalizeEnum(raw)); s {
	case "":
		return EventStatusEffective, nil
	case EventStatusEffective, EventStatusSuperseded:
		return s, nil
	}
	return "", fmt.Errorf("unknown event status %q", raw)
}

// ShipmentStatus captures the custody state of a shipment.
type ShipmentStatus string

// Shipment statuses. Every status except cancelled reserves stock on the source lot.
const (
	ShipmentPending   ShipmentStatus = "pending"
	ShipmentInTransit ShipmentStatus = "in_transit"
	ShipmentDelivered ShipmentStatus = "delivered"
	ShipmentCancelled ShipmentStatus = "cancelled"
)

// ParseShipmentStatus validates a stored shipment status.
func ParseShipmentStatus(raw string) (ShipmentStatus, error) {
	switch s := ShipmentStatus(normalizeEnum(raw)); s {
	case ShipmentPending, ShipmentInTransit, ShipmentDelivered, ShipmentCancelled:
		return s, nil
	}
	return "", fmt.Errorf("unknown shipment status %q", raw)
}

// ReservesStock reports whether a shipment in this status decrements available quantity.
func (s ShipmentStatus) ReservesStock() bool {
	return s != ShipmentCancelled
}

// Unit is a unit of measure label (kg, lb, case, ...).
type Unit string

// SameUnit compares two units ignoring case and surrounding whitespace.
func SameUnit(a, b Unit) bool {
	return strings.EqualFold(strings.TrimSpace(string(a)), strings.TrimSpace(string(b)))
}

func normalizeEnum(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.ReplaceAll(s, "-", "_")
}

// Facility is a physical location that produces, holds, or receives lots.
type Facility struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Kind     string `json:"kind,omitempty" yaml:"kind"`
	Location string `json:"location,omitempty" yaml:"location"`
}

// Lot is a traceability lot identified by its TLC.
type Lot struct {
	TLC                string          `json:"tlc"`
	ProductID          string          `json:"product_id"`
	FacilityID         string          `json:"facility_id"`
	ProductionQuantity decimal.Decimal `json:"production_quantity"`
	Unit               Unit            `json:"unit"`
	Status             LotStatus       `json:"status"`
	ProductionDate     time.Time       `json:"production_date"`
	ExpiryDate         *time.Time      `json:"expiry_date,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	// Cache columns maintained by the reconciliation job. Never read as truth.
	ShippedQuantity   *decimal.Decimal `json:"shipped_quantity,omitempty"`
	AvailableQuantity *decimal.Decimal `json:"available_quantity,omitempty"`
}

// CTE is a critical tracking event recorded against exactly one lot.
type CTE struct {
	ID                string           `json:"id"`
	LotTLC            string           `json:"lot_tlc"`
	Type              EventType        `json:"event_type"`
	OccurredAt        time.Time        `json:"occurred_at"`
	FacilityID        string           `json:"facility_id"`
	QuantityProcessed *decimal.Decimal `json:"quantity_processed,omitempty"`
	Unit              Unit             `json:"unit,omitempty"`
	Temperature       *decimal.Decimal `json:"temperature,omitempty"`
	Description       string           `json:"description,omitempty"`
	ResponsiblePerson string           `json:"responsible_person,omitempty"`
	Status            EventStatus      `json:"status"`
	IsCorrection      bool             `json:"is_correction"`
	SupersedesID      *string          `json:"supersedes_id,omitempty"`
	// SourceShipmentID links a receiving event to the inbound shipment it books in.
	SourceShipmentID *string `json:"source_shipment_id,omitempty"`
	// SourceFacilityID is the ship-from location when the shipment is not recorded here.
	SourceFacilityID *string   `json:"source_facility_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Shipment moves quantity of one source lot out of its origin facility.
type Shipment struct {
	ID                    string          `json:"id"`
	LotTLC                string          `json:"lot_tlc"`
	OriginFacilityID      string          `json:"origin_facility_id"`
	DestinationFacilityID *string         `json:"destination_facility_id,omitempty"`
	Quantity              decimal.Decimal `json:"quantity"`
	Unit                  Unit            `json:"unit"`
	Status                ShipmentStatus  `json:"status"`
	ShippedAt             time.Time       `json:"shipped_at"`
	CreatedAt             time.Time       `json:"created_at"`
}

// LotQuantity is one side of a transformation: a lot and the quantity consumed or produced.
type LotQuantity struct {
	LotTLC   string          `json:"lot_tlc"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     Unit            `json:"unit"`
}

// Transformation is an explicit junction record relating input lots to output lots.
type Transformation struct {
	ID         string        `json:"id"`
	FacilityID string        `json:"facility_id"`
	OccurredAt time.Time     `json:"occurred_at"`
	EventID    *string       `json:"event_id,omitempty"`
	Inputs     []LotQuantity `json:"inputs"`
	Outputs    []LotQuantity `json:"outputs"`
	CreatedAt  time.Time     `json:"created_at"`
}

// LotContext bundles a lot with its ordered event history.
type LotContext struct {
	Lot       Lot        `json:"lot"`
	Events    []CTE      `json:"events"`
	Shipments []Shipment `json:"shipments"`
}
