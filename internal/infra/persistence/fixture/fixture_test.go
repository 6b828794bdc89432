package fixture

import (
	"errors"
	"strings"
	"testing"

	"tracecore/pkg/domain"
)

func TestLoadFileSimpleChain(t *testing.T) {
	ds, err := LoadFile("testdata/simple_chain.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(ds.Facilities) != 3 || len(ds.Lots) != 2 || len(ds.Events) != 2 || len(ds.Shipments) != 2 {
		t.Fatalf("unexpected record counts: %+v", ds)
	}
	lot := ds.Lots[0]
	if lot.Status != domain.LotStatusActive {
		t.Fatalf("expected blank lot status to default to active, got %q", lot.Status)
	}
	if lot.ProductionQuantity.String() != "1000" {
		t.Fatalf("unexpected production quantity %s", lot.ProductionQuantity)
	}
	recv := ds.Events[1]
	if recv.Type != domain.EventReceiving || recv.SourceShipmentID == nil || *recv.SourceShipmentID != "SH-1" {
		t.Fatalf("unexpected receiving event %+v", recv)
	}
	if recv.Status != domain.EventStatusEffective {
		t.Fatalf("expected blank event status to read as effective")
	}
	if !recv.CreatedAt.Equal(recv.OccurredAt) {
		t.Fatalf("expected created_at to default to occurred_at")
	}
	if ds.Shipments[1].Status != domain.ShipmentInTransit {
		t.Fatalf("unexpected shipment status %q", ds.Shipments[1].Status)
	}
}

func TestDecodeRejectsUnknownVariants(t *testing.T) {
	cases := map[string]string{
		"event type": `
events:
  - id: E1
    lot_tlc: L1
    type: teleport
    occurred_at: 2025-03-01T06:00:00Z
`,
		"shipment status": `
shipments:
  - id: S1
    lot_tlc: L1
    quantity: "1"
    status: lost
    shipped_at: 2025-03-01T06:00:00Z
`,
		"lot quantity": `
lots:
  - tlc: L1
    production_quantity: lots
    production_date: 2025-03-01T06:00:00Z
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(doc))
			if !errors.Is(err, domain.ErrInvalidRecord) {
				t.Fatalf("expected invalid record error, got %v", err)
			}
		})
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	if _, err := Decode(strings.NewReader("lots:\n  - tlc: L1\n    colour: red\n")); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

func TestDecodeEmptyDocument(t *testing.T) {
	ds, err := Decode(strings.NewReader(""))
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if len(ds.Lots) != 0 {
		t.Fatalf("expected empty dataset")
	}
}

func TestTransformationQuantities(t *testing.T) {
	doc := `
transformations:
  - id: T1
    facility_id: F2
    occurred_at: 2025-03-02T10:00:00Z
    inputs:
      - {lot_tlc: A, quantity: "500", unit: kg}
    outputs:
      - {lot_tlc: B, quantity: "300", unit: kg}
      - {lot_tlc: C, quantity: "200.5", unit: kg}
`
	ds, err := Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tr := ds.Transformations[0]
	if len(tr.Inputs) != 1 || len(tr.Outputs) != 2 || tr.Outputs[1].Quantity.String() != "200.5" {
		t.Fatalf("unexpected transformation %+v", tr)
	}
	if tr.EventID != nil {
		t.Fatalf("expected nil event id")
	}
}
