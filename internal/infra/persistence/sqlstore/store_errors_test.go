package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"tracecore/pkg/domain"
)

func mockStore(t *testing.T, dialect Dialect) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	driver := "sqlite"
	if dialect == Postgres {
		driver = "pgx"
	}
	s := New(sqlx.NewDb(db, driver), dialect)
	t.Cleanup(func() { _ = s.Close() })
	return s, mock
}

func TestBackendFailuresAreStoreErrors(t *testing.T) {
	s, mock := mockStore(t, SQLite)
	boom := errors.New("connection reset")
	mock.ExpectQuery("FROM lots WHERE tlc").WillReturnError(boom)
	mock.ExpectQuery("FROM ctes WHERE source_shipment_id").WillReturnError(boom)
	mock.ExpectQuery("SELECT tlc FROM lots").WillReturnError(boom)
	mock.ExpectExec("UPDATE lots").WillReturnError(boom)

	ctx := context.Background()
	_, err := s.GetLot(ctx, "LOT-A")
	var storeErr *domain.StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != "get lot" || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if _, err := s.ReceivingsForShipment(ctx, "SH-1"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if _, err := s.ListLotTLCs(ctx); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if err := s.WriteStockCache(ctx, "LOT-A", decimal.Zero, decimal.Zero); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestContextErrorsAreNotStoreErrors(t *testing.T) {
	s, mock := mockStore(t, SQLite)
	mock.ExpectQuery("FROM shipments WHERE id").WillReturnError(context.DeadlineExceeded)
	_, err := s.GetShipment(context.Background(), "SH-1")
	if !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected bare deadline error, got %v", err)
	}
}

func TestPostgresDialectRebindsAndPassesTimes(t *testing.T) {
	s, mock := mockStore(t, Postgres)
	from := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	to := from.Add(2 * time.Hour)
	mock.ExpectQuery(`facility_id = \$1 AND event_type = \$2 AND occurred_at >= \$3 AND occurred_at <= \$4`).
		WithArgs("F2", "transformation", from, to).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "lot_tlc", "event_type", "occurred_at", "facility_id", "quantity_processed", "unit",
			"temperature", "description", "responsible_person", "status", "is_correction", "supersedes_id",
			"source_shipment_id", "source_facility_id", "created_at",
		}).AddRow("EV-T", "LOT-B", "transformation", from.Add(time.Hour), "F2", "400.50", "kg",
			nil, "", "", "effective", false, nil, nil, nil, from))

	evs, err := s.TransformationEventsAt(context.Background(), "F2", from, to)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(evs) != 1 || !evs[0].QuantityProcessed.Equal(decimal.RequireFromString("400.5")) || !evs[0].OccurredAt.Equal(from.Add(time.Hour)) {
		t.Fatalf("unexpected events %+v", evs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
