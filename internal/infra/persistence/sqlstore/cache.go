package sqlstore

import (
	"context"

	"github.com/shopspring/decimal"

	"tracecore/pkg/domain"
)

// ListLotTLCs returns every lot code in ascending order.
func (s *Store) ListLotTLCs(ctx context.Context) ([]string, error) {
	var tlcs []string
	if err := s.db.SelectContext(ctx, &tlcs, `SELECT tlc FROM lots ORDER BY tlc`); err != nil {
		return nil, storeErr("list lots", err)
	}
	return tlcs, nil
}

// WriteStockCache overwrites the denormalised stock columns on the lot row.
func (s *Store) WriteStockCache(ctx context.Context, tlc string, shipped, available decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE lots SET shipped_quantity = ?, available_quantity = ? WHERE tlc = ?`),
		shipped.String(), available.String(), tlc)
	if err != nil {
		return storeErr("write stock cache", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("write stock cache", err)
	}
	if n == 0 {
		return domain.NewNotFound(domain.EntityLot, tlc)
	}
	return nil
}
