package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tracecore/pkg/domain"
)

// timeLayout is fixed width so SQLite text comparisons order chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var parseLayouts = []string{
	timeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// dbTime scans timestamps from drivers that return time.Time (pgx) as well as
// text (SQLite).
type dbTime struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (t *dbTime) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	for _, layout := range parseLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", raw)
}

func (t dbTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

type lotRow struct {
	TLC                string         `db:"tlc"`
	ProductID          string         `db:"product_id"`
	FacilityID         string         `db:"facility_id"`
	ProductionQuantity string         `db:"production_quantity"`
	Unit               string         `db:"unit"`
	Status             string         `db:"status"`
	ProductionDate     dbTime         `db:"production_date"`
	ExpiryDate         dbTime         `db:"expiry_date"`
	CreatedAt          dbTime         `db:"created_at"`
	ShippedQuantity    sql.NullString `db:"shipped_quantity"`
	AvailableQuantity  sql.NullString `db:"available_quantity"`
}

func (r lotRow) domain() (domain.Lot, error) {
	status, err := domain.ParseLotStatus(r.Status)
	if err != nil {
		return domain.Lot{}, invalid(domain.EntityLot, r.TLC, err)
	}
	qty, err := parseDecimal(r.ProductionQuantity)
	if err != nil {
		return domain.Lot{}, invalid(domain.EntityLot, r.TLC, fmt.Errorf("production_quantity: %w", err))
	}
	shipped, err := nullDecimal(r.ShippedQuantity)
	if err != nil {
		return domain.Lot{}, invalid(domain.EntityLot, r.TLC, fmt.Errorf("shipped_quantity: %w", err))
	}
	available, err := nullDecimal(r.AvailableQuantity)
	if err != nil {
		return domain.Lot{}, invalid(domain.EntityLot, r.TLC, fmt.Errorf("available_quantity: %w", err))
	}
	return domain.Lot{
		TLC:                r.TLC,
		ProductID:          r.ProductID,
		FacilityID:         r.FacilityID,
		ProductionQuantity: qty,
		Unit:               domain.Unit(r.Unit),
		Status:             status,
		ProductionDate:     r.ProductionDate.Time,
		ExpiryDate:         r.ExpiryDate.ptr(),
		CreatedAt:          r.CreatedAt.Time,
		ShippedQuantity:    shipped,
		AvailableQuantity:  available,
	}, nil
}

type eventRow struct {
	ID                string         `db:"id"`
	LotTLC            string         `db:"lot_tlc"`
	EventType         string         `db:"event_type"`
	OccurredAt        dbTime         `db:"occurred_at"`
	FacilityID        string         `db:"facility_id"`
	QuantityProcessed sql.NullString `db:"quantity_processed"`
	Unit              string         `db:"unit"`
	Temperature       sql.NullString `db:"temperature"`
	Description       string         `db:"description"`
	ResponsiblePerson string         `db:"responsible_person"`
	Status            string         `db:"status"`
	IsCorrection      bool           `db:"is_correction"`
	SupersedesID      sql.NullString `db:"supersedes_id"`
	SourceShipmentID  sql.NullString `db:"source_shipment_id"`
	SourceFacilityID  sql.NullString `db:"source_facility_id"`
	CreatedAt         dbTime         `db:"created_at"`
}

const eventColumns = `id, lot_tlc, event_type, occurred_at, facility_id, quantity_processed, unit,
	temperature, description, responsible_person, status, is_correction, supersedes_id,
	source_shipment_id, source_facility_id, created_at`

func (r eventRow) domain() (domain.CTE, error) {
	typ, err := domain.ParseEventType(r.EventType)
	if err != nil {
		return domain.CTE{}, invalid(domain.EntityEvent, r.ID, err)
	}
	status, err := domain.ParseEventStatus(r.Status)
	if err != nil {
		return domain.CTE{}, invalid(domain.EntityEvent, r.ID, err)
	}
	qty, err := nullDecimal(r.QuantityProcessed)
	if err != nil {
		return domain.CTE{}, invalid(domain.EntityEvent, r.ID, fmt.Errorf("quantity_processed: %w", err))
	}
	temp, err := nullDecimal(r.Temperature)
	if err != nil {
		return domain.CTE{}, invalid(domain.EntityEvent, r.ID, fmt.Errorf("temperature: %w", err))
	}
	return domain.CTE{
		ID:                r.ID,
		LotTLC:            r.LotTLC,
		Type:              typ,
		OccurredAt:        r.OccurredAt.Time,
		FacilityID:        r.FacilityID,
		QuantityProcessed: qty,
		Unit:              domain.Unit(r.Unit),
		Temperature:       temp,
		Description:       r.Description,
		ResponsiblePerson: r.ResponsiblePerson,
		Status:            status,
		IsCorrection:      r.IsCorrection,
		SupersedesID:      nullString(r.SupersedesID),
		SourceShipmentID:  nullString(r.SourceShipmentID),
		SourceFacilityID:  nullString(r.SourceFacilityID),
		CreatedAt:         r.CreatedAt.Time,
	}, nil
}

type shipmentRow struct {
	ID                    string         `db:"id"`
	LotTLC                string         `db:"lot_tlc"`
	OriginFacilityID      string         `db:"origin_facility_id"`
	DestinationFacilityID sql.NullString `db:"destination_facility_id"`
	Quantity              string         `db:"quantity"`
	Unit                  string         `db:"unit"`
	Status                string         `db:"status"`
	ShippedAt             dbTime         `db:"shipped_at"`
	CreatedAt             dbTime         `db:"created_at"`
}

const shipmentColumns = `id, lot_tlc, origin_facility_id, destination_facility_id, quantity, unit, status, shipped_at, created_at`

func (r shipmentRow) domain() (domain.Shipment, error) {
	status, err := domain.ParseShipmentStatus(r.Status)
	if err != nil {
		return domain.Shipment{}, invalid(domain.EntityShipment, r.ID, err)
	}
	qty, err := parseDecimal(r.Quantity)
	if err != nil {
		return domain.Shipment{}, invalid(domain.EntityShipment, r.ID, fmt.Errorf("quantity: %w", err))
	}
	return domain.Shipment{
		ID:                    r.ID,
		LotTLC:                r.LotTLC,
		OriginFacilityID:      r.OriginFacilityID,
		DestinationFacilityID: nullString(r.DestinationFacilityID),
		Quantity:              qty,
		Unit:                  domain.Unit(r.Unit),
		Status:                status,
		ShippedAt:             r.ShippedAt.Time,
		CreatedAt:             r.CreatedAt.Time,
	}, nil
}

type transformationRow struct {
	ID         string         `db:"id"`
	FacilityID string         `db:"facility_id"`
	OccurredAt dbTime         `db:"occurred_at"`
	EventID    sql.NullString `db:"event_id"`
	CreatedAt  dbTime         `db:"created_at"`
}

type transformationLotRow struct {
	TransformationID string `db:"transformation_id"`
	Role             string `db:"role"`
	Position         int    `db:"position"`
	LotTLC           string `db:"lot_tlc"`
	Quantity         string `db:"quantity"`
	Unit             string `db:"unit"`
}

// Junction roles.
const (
	roleInput  = "input"
	roleOutput = "output"
)

func invalid(entity domain.EntityType, id string, err error) error {
	return &domain.InvalidRecordError{Entity: entity, ID: id, Err: err}
}

func nullDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(ns.String))
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(raw))
}
