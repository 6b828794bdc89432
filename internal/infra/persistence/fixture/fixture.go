// Package fixture decodes YAML datasets of lots, events, shipments and
// transformations into validated domain records. The memory store loads them
// directly and the seed command writes them into a SQL store.
package fixture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tracecore/pkg/domain"
)

// File is the YAML document shape.
type File struct {
	Facilities      []domain.Facility `yaml:"facilities"`
	Lots            []Lot             `yaml:"lots"`
	Events          []Event           `yaml:"events"`
	Shipments       []Shipment        `yaml:"shipments"`
	Transformations []Transformation  `yaml:"transformations"`
}

// Lot is the raw YAML form of a domain.Lot. Quantities are strings so they
// keep exact decimal precision.
type Lot struct {
	TLC                string     `yaml:"tlc"`
	ProductID          string     `yaml:"product_id"`
	FacilityID         string     `yaml:"facility_id"`
	ProductionQuantity string     `yaml:"production_quantity"`
	Unit               string     `yaml:"unit"`
	Status             string     `yaml:"status"`
	ProductionDate     time.Time  `yaml:"production_date"`
	ExpiryDate         *time.Time `yaml:"expiry_date"`
	CreatedAt          time.Time  `yaml:"created_at"`
	ShippedQuantity    string     `yaml:"shipped_quantity"`
	AvailableQuantity  string     `yaml:"available_quantity"`
}

// Event is the raw YAML form of a domain.CTE.
type Event struct {
	ID                string    `yaml:"id"`
	LotTLC            string    `yaml:"lot_tlc"`
	Type              string    `yaml:"type"`
	OccurredAt        time.Time `yaml:"occurred_at"`
	FacilityID        string    `yaml:"facility_id"`
	Quantity          string    `yaml:"quantity"`
	Unit              string    `yaml:"unit"`
	Temperature       string    `yaml:"temperature"`
	Description       string    `yaml:"description"`
	ResponsiblePerson string    `yaml:"responsible_person"`
	Status            string    `yaml:"status"`
	IsCorrection      bool      `yaml:"is_correction"`
	SupersedesID      string    `yaml:"supersedes_id"`
	SourceShipmentID  string    `yaml:"source_shipment_id"`
	SourceFacilityID  string    `yaml:"source_facility_id"`
	CreatedAt         time.Time `yaml:"created_at"`
}

// Shipment is the raw YAML form of a domain.Shipment.
type Shipment struct {
	ID                    string    `yaml:"id"`
	LotTLC                string    `yaml:"lot_tlc"`
	OriginFacilityID      string    `yaml:"origin_facility_id"`
	DestinationFacilityID string    `yaml:"destination_facility_id"`
	Quantity              string    `yaml:"quantity"`
	Unit                  string    `yaml:"unit"`
	Status                string    `yaml:"status"`
	ShippedAt             time.Time `yaml:"shipped_at"`
	CreatedAt             time.Time `yaml:"created_at"`
}

// LotQuantity is one side of a raw transformation.
type LotQuantity struct {
	LotTLC   string `yaml:"lot_tlc"`
	Quantity string `yaml:"quantity"`
	Unit     string `yaml:"unit"`
}

// Transformation is the raw YAML form of a domain.Transformation.
type Transformation struct {
	ID         string        `yaml:"id"`
	FacilityID string        `yaml:"facility_id"`
	OccurredAt time.Time     `yaml:"occurred_at"`
	EventID    string        `yaml:"event_id"`
	Inputs     []LotQuantity `yaml:"inputs"`
	Outputs    []LotQuantity `yaml:"outputs"`
	CreatedAt  time.Time     `yaml:"created_at"`
}

// Dataset is a validated fixture.
type Dataset struct {
	Facilities      []domain.Facility
	Lots            []domain.Lot
	Events          []domain.CTE
	Shipments       []domain.Shipment
	Transformations []domain.Transformation
}

// LoadFile reads and validates a YAML fixture from disk.
func LoadFile(path string) (Dataset, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied fixture path
	if err != nil {
		return Dataset{}, fmt.Errorf("read fixture: %w", err)
	}
	return Decode(bytes.NewReader(raw))
}

// Decode parses and validates a YAML fixture.
func Decode(r io.Reader) (Dataset, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Dataset{}, fmt.Errorf("decode fixture: %w", err)
	}
	return f.Dataset()
}

// Dataset converts the raw records, rejecting unknown enum variants and
// malformed quantities with domain.InvalidRecordError.
func (f File) Dataset() (Dataset, error) {
	ds := Dataset{Facilities: f.Facilities}
	for _, l := range f.Lots {
		lot, err := l.domain()
		if err != nil {
			return Dataset{}, &domain.InvalidRecordError{Entity: domain.EntityLot, ID: l.TLC, Err: err}
		}
		ds.Lots = append(ds.Lots, lot)
	}
	for _, e := range f.Events {
		ev, err := e.domain()
		if err != nil {
			return Dataset{}, &domain.InvalidRecordError{Entity: domain.EntityEvent, ID: e.ID, Err: err}
		}
		ds.Events = append(ds.Events, ev)
	}
	for _, s := range f.Shipments {
		sh, err := s.domain()
		if err != nil {
			return Dataset{}, &domain.InvalidRecordError{Entity: domain.EntityShipment, ID: s.ID, Err: err}
		}
		ds.Shipments = append(ds.Shipments, sh)
	}
	for _, t := range f.Transformations {
		tr, err := t.domain()
		if err != nil {
			return Dataset{}, &domain.InvalidRecordError{Entity: domain.EntityTransformation, ID: t.ID, Err: err}
		}
		ds.Transformations = append(ds.Transformations, tr)
	}
	return ds, nil
}

func (l Lot) domain() (domain.Lot, error) {
	status := l.Status
	if status == "" {
		status = string(domain.LotStatusActive)
	}
	st, err := domain.ParseLotStatus(status)
	if err != nil {
		return domain.Lot{}, err
	}
	qty, err := decimal.NewFromString(l.ProductionQuantity)
	if err != nil {
		return domain.Lot{}, fmt.Errorf("production_quantity: %w", err)
	}
	shipped, err := optionalDecimal(l.ShippedQuantity)
	if err != nil {
		return domain.Lot{}, fmt.Errorf("shipped_quantity: %w", err)
	}
	available, err := optionalDecimal(l.AvailableQuantity)
	if err != nil {
		return domain.Lot{}, fmt.Errorf("available_quantity: %w", err)
	}
	return domain.Lot{
		TLC:                l.TLC,
		ProductID:          l.ProductID,
		FacilityID:         l.FacilityID,
		ProductionQuantity: qty,
		Unit:               domain.Unit(l.Unit),
		Status:             st,
		ProductionDate:     l.ProductionDate.UTC(),
		ExpiryDate:         l.ExpiryDate,
		CreatedAt:          createdAt(l.CreatedAt, l.ProductionDate),
		ShippedQuantity:    shipped,
		AvailableQuantity:  available,
	}, nil
}

func (e Event) domain() (domain.CTE, error) {
	typ, err := domain.ParseEventType(e.Type)
	if err != nil {
		return domain.CTE{}, err
	}
	status, err := domain.ParseEventStatus(e.Status)
	if err != nil {
		return domain.CTE{}, err
	}
	qty, err := optionalDecimal(e.Quantity)
	if err != nil {
		return domain.CTE{}, fmt.Errorf("quantity: %w", err)
	}
	temp, err := optionalDecimal(e.Temperature)
	if err != nil {
		return domain.CTE{}, fmt.Errorf("temperature: %w", err)
	}
	return domain.CTE{
		ID:                e.ID,
		LotTLC:            e.LotTLC,
		Type:              typ,
		OccurredAt:        e.OccurredAt.UTC(),
		FacilityID:        e.FacilityID,
		QuantityProcessed: qty,
		Unit:              domain.Unit(e.Unit),
		Temperature:       temp,
		Description:       e.Description,
		ResponsiblePerson: e.ResponsiblePerson,
		Status:            status,
		IsCorrection:      e.IsCorrection,
		SupersedesID:      optionalString(e.SupersedesID),
		SourceShipmentID:  optionalString(e.SourceShipmentID),
		SourceFacilityID:  optionalString(e.SourceFacilityID),
		CreatedAt:         createdAt(e.CreatedAt, e.OccurredAt),
	}, nil
}

func (s Shipment) domain() (domain.Shipment, error) {
	status, err := domain.ParseShipmentStatus(s.Status)
	if err != nil {
		return domain.Shipment{}, err
	}
	qty, err := decimal.NewFromString(s.Quantity)
	if err != nil {
		return domain.Shipment{}, fmt.Errorf("quantity: %w", err)
	}
	return domain.Shipment{
		ID:                    s.ID,
		LotTLC:                s.LotTLC,
		OriginFacilityID:      s.OriginFacilityID,
		DestinationFacilityID: optionalString(s.DestinationFacilityID),
		Quantity:              qty,
		Unit:                  domain.Unit(s.Unit),
		Status:                status,
		ShippedAt:             s.ShippedAt.UTC(),
		CreatedAt:             createdAt(s.CreatedAt, s.ShippedAt),
	}, nil
}

func (t Transformation) domain() (domain.Transformation, error) {
	inputs, err := lotQuantities(t.Inputs)
	if err != nil {
		return domain.Transformation{}, fmt.Errorf("inputs: %w", err)
	}
	outputs, err := lotQuantities(t.Outputs)
	if err != nil {
		return domain.Transformation{}, fmt.Errorf("outputs: %w", err)
	}
	return domain.Transformation{
		ID:         t.ID,
		FacilityID: t.FacilityID,
		OccurredAt: t.OccurredAt.UTC(),
		EventID:    optionalString(t.EventID),
		Inputs:     inputs,
		Outputs:    outputs,
		CreatedAt:  createdAt(t.CreatedAt, t.OccurredAt),
	}, nil
}

func lotQuantities(raw []LotQuantity) ([]domain.LotQuantity, error) {
	out := make([]domain.LotQuantity, 0, len(raw))
	for _, r := range raw {
		q, err := decimal.NewFromString(r.Quantity)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.LotTLC, err)
		}
		out = append(out, domain.LotQuantity{LotTLC: r.LotTLC, Quantity: q, Unit: domain.Unit(r.Unit)})
	}
	return out, nil
}

func optionalDecimal(raw string) (*decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func optionalString(raw string) *string {
	if raw == "" {
		return nil
	}
	return &raw
}

// createdAt defaults a missing creation time to the business timestamp.
func createdAt(created, fallback time.Time) time.Time {
	if created.IsZero() {
		return fallback.UTC()
	}
	return created.UTC()
}
