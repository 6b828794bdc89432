package sqlstore

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"tracecore/internal/infra/persistence/fixture"
	"tracecore/pkg/domain"
)

// SeedStats counts rows written by Seed.
type SeedStats struct {
	Facilities      int
	Lots            int
	Events          int
	Shipments       int
	Transformations int
}

// Seed writes a fixture dataset in one transaction. Rows that already exist
// fail the whole load.
func (s *Store) Seed(ctx context.Context, ds fixture.Dataset) (stats SeedStats, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return SeedStats{}, storeErr("begin seed", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, f := range ds.Facilities {
		if err = s.exec(ctx, tx, "seed facility", `INSERT INTO facilities (id, name, kind, location) VALUES (?, ?, ?, ?)`,
			f.ID, f.Name, f.Kind, f.Location); err != nil {
			return SeedStats{}, err
		}
		stats.Facilities++
	}
	for _, l := range ds.Lots {
		if err = s.exec(ctx, tx, "seed lot", `INSERT INTO lots (tlc, product_id, facility_id, production_quantity, unit, status,
			production_date, expiry_date, created_at, shipped_quantity, available_quantity)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.TLC, l.ProductID, l.FacilityID, l.ProductionQuantity.String(), string(l.Unit), string(l.Status),
			s.timeArg(l.ProductionDate), s.optTimeArg(l.ExpiryDate), s.timeArg(l.CreatedAt),
			decimalArg(l.ShippedQuantity), decimalArg(l.AvailableQuantity)); err != nil {
			return SeedStats{}, err
		}
		stats.Lots++
	}
	for _, e := range ds.Events {
		status := e.Status
		if status == "" {
			status = domain.EventStatusEffective
		}
		if err = s.exec(ctx, tx, "seed event", `INSERT INTO ctes (`+eventColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.LotTLC, string(e.Type), s.timeArg(e.OccurredAt), e.FacilityID,
			decimalArg(e.QuantityProcessed), string(e.Unit), decimalArg(e.Temperature),
			e.Description, e.ResponsiblePerson, string(status), e.IsCorrection,
			stringArg(e.SupersedesID), stringArg(e.SourceShipmentID), stringArg(e.SourceFacilityID),
			s.timeArg(e.CreatedAt)); err != nil {
			return SeedStats{}, err
		}
		stats.Events++
	}
	for _, sh := range ds.Shipments {
		if err = s.exec(ctx, tx, "seed shipment", `INSERT INTO shipments (`+shipmentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sh.ID, sh.LotTLC, sh.OriginFacilityID, stringArg(sh.DestinationFacilityID),
			sh.Quantity.String(), string(sh.Unit), string(sh.Status),
			s.timeArg(sh.ShippedAt), s.timeArg(sh.CreatedAt)); err != nil {
			return SeedStats{}, err
		}
		stats.Shipments++
	}
	for _, t := range ds.Transformations {
		if err = s.seedTransformation(ctx, tx, t); err != nil {
			return SeedStats{}, err
		}
		stats.Transformations++
	}

	if err = tx.Commit(); err != nil {
		return SeedStats{}, storeErr("commit seed", err)
	}
	return stats, nil
}

func (s *Store) seedTransformation(ctx context.Context, tx *sqlx.Tx, t domain.Transformation) error {
	if err := s.exec(ctx, tx, "seed transformation", `INSERT INTO transformations (id, facility_id, occurred_at, event_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.FacilityID, s.timeArg(t.OccurredAt), stringArg(t.EventID), s.timeArg(t.CreatedAt)); err != nil {
		return err
	}
	insert := func(role string, lots []domain.LotQuantity) error {
		for i, lq := range lots {
			if err := s.exec(ctx, tx, "seed transformation lot", `INSERT INTO transformation_lots
				(transformation_id, role, position, lot_tlc, quantity, unit) VALUES (?, ?, ?, ?, ?, ?)`,
				t.ID, role, i, lq.LotTLC, lq.Quantity.String(), string(lq.Unit)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := insert(roleInput, t.Inputs); err != nil {
		return err
	}
	return insert(roleOutput, t.Outputs)
}

func (s *Store) exec(ctx context.Context, tx *sqlx.Tx, op, query string, args ...any) error {
	if _, err := tx.ExecContext(ctx, s.q(query), args...); err != nil {
		return storeErr(op, err)
	}
	return nil
}

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return sql.NullString{}
	}
	return d.String()
}

func stringArg(v *string) any {
	if v == nil {
		return sql.NullString{}
	}
	return *v
}
