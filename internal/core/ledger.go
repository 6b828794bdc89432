package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tracecore/pkg/domain"
)

// computeLedger nets production against effective receivings and reserving
// shipments. It never clamps and never reads the lot's cache columns as input.
func computeLedger(lc domain.LotContext, now time.Time) domain.StockBreakdown {
	lot := lc.Lot
	out := domain.StockBreakdown{
		TLC:             lot.TLC,
		Unit:            lot.Unit,
		TotalProduction: lot.ProductionQuantity,
		TotalReceiving:  decimal.Zero,
		TotalShipping:   decimal.Zero,
		Warnings:        []domain.Warning{},
		ComputedAt:      now,
	}

	superseded := supersededEvents(lc.Events)
	for _, ev := range lc.Events {
		if ev.Type != domain.EventReceiving || !isEffective(ev, superseded) {
			continue
		}
		if ev.QuantityProcessed == nil {
			out.Warnings = append(out.Warnings, domain.Warning{
				Kind:     domain.WarningMissingQuantity,
				Message:  fmt.Sprintf("receiving event %s has no quantity and contributes nothing", ev.ID),
				LotTLC:   lot.TLC,
				Entity:   domain.EntityEvent,
				EntityID: ev.ID,
			})
			continue
		}
		unit := unitOr(ev.Unit, lot.Unit)
		if !domain.SameUnit(unit, lot.Unit) {
			out.Warnings = append(out.Warnings, unitMismatch(lot, domain.EntityEvent, ev.ID, *ev.QuantityProcessed, unit))
			continue
		}
		out.TotalReceiving = out.TotalReceiving.Add(*ev.QuantityProcessed)
		out.ReceivingCount++
	}

	for _, sh := range lc.Shipments {
		if !sh.Status.ReservesStock() {
			continue
		}
		unit := unitOr(sh.Unit, lot.Unit)
		if !domain.SameUnit(unit, lot.Unit) {
			out.Warnings = append(out.Warnings, unitMismatch(lot, domain.EntityShipment, sh.ID, sh.Quantity, unit))
			continue
		}
		out.TotalShipping = out.TotalShipping.Add(sh.Quantity)
		out.ShipmentCount++
	}

	out.CurrentStock = out.TotalProduction.Add(out.TotalReceiving).Sub(out.TotalShipping)
	out.Untouched = out.ReceivingCount == 0 && out.ShipmentCount == 0
	if out.CurrentStock.IsNegative() {
		out.Negative = true
		v := out.CurrentStock
		out.Warnings = append(out.Warnings, domain.Warning{
			Kind:    domain.WarningNegativeStock,
			Message: fmt.Sprintf("lot %s has negative available quantity %s %s", lot.TLC, v.String(), lot.Unit),
			LotTLC:  lot.TLC,
			Entity:  domain.EntityLot,
			Value:   &v,
			Unit:    lot.Unit,
		})
	}
	out.Warnings = append(out.Warnings, cacheDrift(lot, out)...)
	return out
}

// supersededEvents returns the ids replaced by an effective correction.
func supersededEvents(events []domain.CTE) map[string]bool {
	out := make(map[string]bool)
	for _, ev := range events {
		if ev.IsCorrection && ev.SupersedesID != nil && ev.Status != domain.EventStatusSuperseded {
			out[*ev.SupersedesID] = true
		}
	}
	return out
}

func isEffective(ev domain.CTE, superseded map[string]bool) bool {
	return ev.Status != domain.EventStatusSuperseded && !superseded[ev.ID]
}

// unitOr treats a blank unit as the lot's declared unit.
func unitOr(u, fallback domain.Unit) domain.Unit {
	if u == "" {
		return fallback
	}
	return u
}

func unitMismatch(lot domain.Lot, entity domain.EntityType, id string, qty decimal.Decimal, unit domain.Unit) domain.Warning {
	return domain.Warning{
		Kind:     domain.WarningUnitMismatch,
		Message:  fmt.Sprintf("%s %s is recorded in %s but lot %s is tracked in %s; excluded", entity, id, unit, lot.TLC, lot.Unit),
		LotTLC:   lot.TLC,
		Entity:   entity,
		EntityID: id,
		Value:    &qty,
		Unit:     unit,
	}
}

func cacheDrift(lot domain.Lot, fresh domain.StockBreakdown) []domain.Warning {
	var out []domain.Warning
	if lot.AvailableQuantity != nil && !lot.AvailableQuantity.Equal(fresh.CurrentStock) {
		v := *lot.AvailableQuantity
		out = append(out, domain.Warning{
			Kind:    domain.WarningCacheDrift,
			Message: fmt.Sprintf("cached available quantity %s differs from computed %s", v.String(), fresh.CurrentStock.String()),
			LotTLC:  lot.TLC,
			Entity:  domain.EntityLot,
			Value:   &v,
			Unit:    lot.Unit,
		})
	}
	if lot.ShippedQuantity != nil && !lot.ShippedQuantity.Equal(fresh.TotalShipping) {
		v := *lot.ShippedQuantity
		out = append(out, domain.Warning{
			Kind:    domain.WarningCacheDrift,
			Message: fmt.Sprintf("cached shipped quantity %s differs from computed %s", v.String(), fresh.TotalShipping.String()),
			LotTLC:  lot.TLC,
			Entity:  domain.EntityLot,
			Value:   &v,
			Unit:    lot.Unit,
		})
	}
	return out
}

// referenceWarnings resolves every facility the lot's records point at and
// reports the ones that do not exist. Store failures are returned.
func (s *Service) referenceWarnings(ctx context.Context, lc domain.LotContext) ([]domain.Warning, error) {
	checked := make(map[string]bool)
	var out []domain.Warning
	check := func(facilityID string, entity domain.EntityType, entityID string) error {
		if facilityID == "" {
			return nil
		}
		ok, seen := checked[facilityID]
		if !seen {
			_, err := s.reader.GetFacility(ctx, facilityID)
			switch {
			case err == nil:
				ok = true
			case errors.Is(err, domain.ErrNotFound):
				ok = false
			default:
				return fmt.Errorf("resolve facility %s: %w", facilityID, err)
			}
			checked[facilityID] = ok
		}
		if !ok {
			out = append(out, orphaned(lc.Lot.TLC, entity, entityID, domain.EntityFacility, facilityID))
		}
		return nil
	}

	if err := check(lc.Lot.FacilityID, domain.EntityLot, lc.Lot.TLC); err != nil {
		return nil, err
	}
	for _, ev := range lc.Events {
		if err := check(ev.FacilityID, domain.EntityEvent, ev.ID); err != nil {
			return nil, err
		}
	}
	for _, sh := range lc.Shipments {
		if err := check(sh.OriginFacilityID, domain.EntityShipment, sh.ID); err != nil {
			return nil, err
		}
		if sh.DestinationFacilityID != nil {
			if err := check(*sh.DestinationFacilityID, domain.EntityShipment, sh.ID); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func orphaned(tlc string, entity domain.EntityType, entityID string, target domain.EntityType, targetID string) domain.Warning {
	return domain.Warning{
		Kind:     domain.WarningOrphanedReference,
		Message:  fmt.Sprintf("%s %s references missing %s %s", entity, entityID, target, targetID),
		LotTLC:   tlc,
		Entity:   entity,
		EntityID: entityID,
	}
}
