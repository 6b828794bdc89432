// Package sqlstore implements the event store over database/sql using sqlx.
// The same queries serve SQLite and PostgreSQL; placeholders are rebound per
// dialect and timestamps are encoded per dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"tracecore/pkg/domain"
)

// Dialect selects placeholder and type encoding.
type Dialect string

const (
	// SQLite stores timestamps and decimals as text.
	SQLite Dialect = "sqlite"
	// Postgres uses native TIMESTAMPTZ and NUMERIC columns.
	Postgres Dialect = "postgres"
)

// Store is a SQL-backed event store.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

var (
	_ domain.EventReader      = (*Store)(nil)
	_ domain.LotLister        = (*Store)(nil)
	_ domain.StockCacheWriter = (*Store)(nil)
)

// New wraps an open connection.
func New(db *sqlx.DB, dialect Dialect) *Store {
	if dialect == "" {
		dialect = SQLite
	}
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sqlx.DB { return s.db }

// Dialect reports the configured dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) q(query string) string { return s.db.Rebind(query) }

// timeArg encodes t for a query parameter.
func (s *Store) timeArg(t time.Time) any {
	if s.dialect == Postgres {
		return t.UTC()
	}
	return t.UTC().Format(timeLayout)
}

func (s *Store) optTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return s.timeArg(*t)
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.StoreError{Op: op, Err: err}
}

// LoadLotContext fetches the lot, its events and its shipments. Events and
// shipments load concurrently once the lot is known to exist.
func (s *Store) LoadLotContext(ctx context.Context, tlc string) (domain.LotContext, error) {
	lot, err := s.GetLot(ctx, tlc)
	if err != nil {
		return domain.LotContext{}, err
	}
	lc := domain.LotContext{Lot: lot}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events, err := s.selectEvents(gctx, "load events", `SELECT `+eventColumns+` FROM ctes WHERE lot_tlc = ?`, tlc)
		lc.Events = events
		return err
	})
	g.Go(func() error {
		shipments, err := s.shipmentsForLot(gctx, tlc)
		lc.Shipments = shipments
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.LotContext{}, err
	}
	return lc, nil
}

// GetLot returns a lot by code.
func (s *Store) GetLot(ctx context.Context, tlc string) (domain.Lot, error) {
	var row lotRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT tlc, product_id, facility_id, production_quantity, unit, status,
		production_date, expiry_date, created_at, shipped_quantity, available_quantity
		FROM lots WHERE tlc = ?`), tlc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Lot{}, domain.NewNotFound(domain.EntityLot, tlc)
	}
	if err != nil {
		return domain.Lot{}, storeErr("get lot", err)
	}
	return row.domain()
}

// GetFacility returns a facility by id.
func (s *Store) GetFacility(ctx context.Context, id string) (domain.Facility, error) {
	var f domain.Facility
	err := s.db.QueryRowxContext(ctx, s.q(`SELECT id, name, kind, location FROM facilities WHERE id = ?`), id).
		Scan(&f.ID, &f.Name, &f.Kind, &f.Location)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Facility{}, domain.NewNotFound(domain.EntityFacility, id)
	}
	if err != nil {
		return domain.Facility{}, storeErr("get facility", err)
	}
	return f, nil
}

// GetShipment returns a shipment by id.
func (s *Store) GetShipment(ctx context.Context, id string) (domain.Shipment, error) {
	var row shipmentRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+shipmentColumns+` FROM shipments WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Shipment{}, domain.NewNotFound(domain.EntityShipment, id)
	}
	if err != nil {
		return domain.Shipment{}, storeErr("get shipment", err)
	}
	return row.domain()
}

// ReceivingsForShipment returns receiving events referencing the shipment.
func (s *Store) ReceivingsForShipment(ctx context.Context, shipmentID string) ([]domain.CTE, error) {
	return s.selectEvents(ctx, "receivings for shipment",
		`SELECT `+eventColumns+` FROM ctes WHERE source_shipment_id = ? AND event_type = ?`,
		shipmentID, string(domain.EventReceiving))
}

// TransformationEventsAt returns transformation events at the facility within [from, to].
func (s *Store) TransformationEventsAt(ctx context.Context, facilityID string, from, to time.Time) ([]domain.CTE, error) {
	return s.selectEvents(ctx, "transformation events",
		`SELECT `+eventColumns+` FROM ctes
		WHERE facility_id = ? AND event_type = ? AND occurred_at >= ? AND occurred_at <= ?`,
		facilityID, string(domain.EventTransformation), s.timeArg(from), s.timeArg(to))
}

// TransformationsForLot returns the explicit transformations that list the lot
// as an input or an output.
func (s *Store) TransformationsForLot(ctx context.Context, tlc string) ([]domain.Transformation, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, s.q(`SELECT DISTINCT transformation_id FROM transformation_lots WHERE lot_tlc = ?`), tlc); err != nil {
		return nil, storeErr("transformations for lot", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT id, facility_id, occurred_at, event_id, created_at FROM transformations WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build transformation query: %w", err)
	}
	var heads []transformationRow
	if err := s.db.SelectContext(ctx, &heads, s.q(query), args...); err != nil {
		return nil, storeErr("load transformations", err)
	}

	query, args, err = sqlx.In(`SELECT transformation_id, role, position, lot_tlc, quantity, unit
		FROM transformation_lots WHERE transformation_id IN (?) ORDER BY transformation_id, role, position`, ids)
	if err != nil {
		return nil, fmt.Errorf("build junction query: %w", err)
	}
	var links []transformationLotRow
	if err := s.db.SelectContext(ctx, &links, s.q(query), args...); err != nil {
		return nil, storeErr("load transformation lots", err)
	}
	return assembleTransformations(heads, links)
}

func assembleTransformations(heads []transformationRow, links []transformationLotRow) ([]domain.Transformation, error) {
	byID := make(map[string]*domain.Transformation, len(heads))
	out := make([]domain.Transformation, len(heads))
	for i, h := range heads {
		out[i] = domain.Transformation{
			ID:         h.ID,
			FacilityID: h.FacilityID,
			OccurredAt: h.OccurredAt.Time,
			EventID:    nullString(h.EventID),
			CreatedAt:  h.CreatedAt.Time,
		}
		byID[h.ID] = &out[i]
	}
	sort.SliceStable(links, func(i, j int) bool {
		if links[i].TransformationID != links[j].TransformationID {
			return links[i].TransformationID < links[j].TransformationID
		}
		if links[i].Role != links[j].Role {
			return links[i].Role < links[j].Role
		}
		return links[i].Position < links[j].Position
	})
	for _, l := range links {
		t, ok := byID[l.TransformationID]
		if !ok {
			continue
		}
		q, err := parseDecimal(l.Quantity)
		if err != nil {
			return nil, invalid(domain.EntityTransformation, l.TransformationID, fmt.Errorf("%s %s quantity: %w", l.Role, l.LotTLC, err))
		}
		lq := domain.LotQuantity{LotTLC: l.LotTLC, Quantity: q, Unit: domain.Unit(l.Unit)}
		switch l.Role {
		case roleInput:
			t.Inputs = append(t.Inputs, lq)
		case roleOutput:
			t.Outputs = append(t.Outputs, lq)
		default:
			return nil, invalid(domain.EntityTransformation, l.TransformationID, fmt.Errorf("unknown role %q", l.Role))
		}
	}
	domain.SortTransformations(out)
	return out, nil
}

func (s *Store) selectEvents(ctx context.Context, op, query string, args ...any) ([]domain.CTE, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, storeErr(op, err)
	}
	out := make([]domain.CTE, 0, len(rows))
	for _, r := range rows {
		e, err := r.domain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	domain.SortEvents(out)
	return out, nil
}

func (s *Store) shipmentsForLot(ctx context.Context, tlc string) ([]domain.Shipment, error) {
	var rows []shipmentRow
	if err := s.db.SelectContext(ctx, &rows, s.q(`SELECT `+shipmentColumns+` FROM shipments WHERE lot_tlc = ?`), tlc); err != nil {
		return nil, storeErr("load shipments", err)
	}
	out := make([]domain.Shipment, 0, len(rows))
	for _, r := range rows {
		sh, err := r.domain()
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	domain.SortShipments(out)
	return out, nil
}
