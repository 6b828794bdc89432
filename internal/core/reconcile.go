package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tracecore/pkg/domain"
)

// DefaultReconcileConcurrency bounds concurrent lot recomputation.
const DefaultReconcileConcurrency = 4

// ReconcileReport summarises one reconciliation run.
type ReconcileReport struct {
	Lots       int               `json:"lots"`
	Updated    int               `json:"updated"`
	Drifted    []string          `json:"drifted"`
	Negative   []string          `json:"negative"`
	Failed     map[string]string `json:"failed,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Reconciler recomputes every lot through the ledger and overwrites the
// configured caches. It is the only writer of cached stock.
type Reconciler struct {
	svc         *Service
	lister      domain.LotLister
	writers     []domain.StockCacheWriter
	concurrency int
}

// NewReconciler wires the ledger to one or more cache writers.
func NewReconciler(svc *Service, lister domain.LotLister, concurrency int, writers ...domain.StockCacheWriter) *Reconciler {
	if concurrency <= 0 {
		concurrency = DefaultReconcileConcurrency
	}
	return &Reconciler{svc: svc, lister: lister, writers: writers, concurrency: concurrency}
}

// Run recomputes all lots. Per-lot failures are collected in the report; the
// returned error is reserved for listing failures and cancellation.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	report := ReconcileReport{Failed: map[string]string{}}
	err := r.svc.run(ctx, "reconcile_stock", func(ctx context.Context) error {
		report.StartedAt = r.svc.clock.Now()
		tlcs, err := r.lister.ListLotTLCs(ctx)
		if err != nil {
			return fmt.Errorf("list lots: %w", err)
		}
		report.Lots = len(tlcs)

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.concurrency)
		for _, tlc := range tlcs {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				drifted, negative, err := r.reconcileLot(gctx, tlc)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return err
					}
					report.Failed[tlc] = err.Error()
					return nil
				}
				report.Updated++
				if drifted {
					report.Drifted = append(report.Drifted, tlc)
				}
				if negative {
					report.Negative = append(report.Negative, tlc)
				}
				return nil
			})
		}
		err = g.Wait()
		sort.Strings(report.Drifted)
		sort.Strings(report.Negative)
		report.FinishedAt = r.svc.clock.Now()
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		r.svc.logger.Info("stock reconciled", "lots", report.Lots, "updated", report.Updated, "drifted", len(report.Drifted), "failed", len(report.Failed))
		return nil
	})
	return report, err
}

func (r *Reconciler) reconcileLot(ctx context.Context, tlc string) (drifted, negative bool, err error) {
	sb, err := r.svc.ComputeStock(ctx, tlc)
	if err != nil {
		return false, false, err
	}
	for _, w := range sb.Warnings {
		if w.Kind == domain.WarningCacheDrift {
			drifted = true
		}
	}
	for _, w := range r.writers {
		if err := w.WriteStockCache(ctx, tlc, sb.TotalShipping, sb.CurrentStock); err != nil {
			return drifted, sb.Negative, fmt.Errorf("write cache for %s: %w", tlc, err)
		}
	}
	return drifted, sb.Negative, nil
}
