package service

import (
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hisabimbola/ostrom-bridge/clients/ostrom"
)

// PriceEntry is one hour of normalized, timezone-local price data.
// Price is the single gross per-kWh price; there is no separate
// gross-price field.
type PriceEntry struct {
	StartsAt          time.Time       `json:"datetime"`
	Price             decimal.Decimal `json:"price"`
	NetPrice          decimal.Decimal `json:"net_price"`
	NetMwhPrice       decimal.Decimal `json:"net_mwh_price"`
	NetTaxAndLevies   decimal.Decimal `json:"net_tax_and_levies"`
	GrossTaxAndLevies decimal.Decimal `json:"gross_tax_and_levies"`
}

// normalize converts raw UTC records into a local, date-filtered, ascending
// series. Pure: same input always yields the same output, stably ordered.
// Records with an unparseable timestamp or a missing required field are
// skipped with a warning so one malformed record cannot fail the whole
// batch — and so an absent price never enters the series as a zero.
func normalize(records []ostrom.RawPriceRecord, targetDate time.Time, loc *time.Location) []PriceEntry {
	targetY, targetM, targetD := targetDate.In(loc).Date()

	entries := make([]PriceEntry, 0, len(records))
	for _, r := range records {
		ts, err := time.Parse(time.RFC3339, r.Date)
		if err != nil {
			slog.Warn("skipping price record with unparseable timestamp", "date", r.Date, "error", err)
			continue
		}
		if r.GrossKwhPrice == nil || r.NetKwhPrice == nil || r.NetMwhPrice == nil ||
			r.NetKwhTaxAndLevies == nil || r.GrossKwhTaxAndLevies == nil {
			slog.Warn("skipping price record with missing required fields", "date", r.Date)
			continue
		}

		local := ts.In(loc)
		y, m, d := local.Date()
		if y != targetY || m != targetM || d != targetD {
			continue
		}

		entries = append(entries, PriceEntry{
			StartsAt:          local,
			Price:             *r.GrossKwhPrice,
			NetPrice:          *r.NetKwhPrice,
			NetMwhPrice:       *r.NetMwhPrice,
			NetTaxAndLevies:   *r.NetKwhTaxAndLevies,
			GrossTaxAndLevies: *r.GrossKwhTaxAndLevies,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartsAt.Before(entries[j].StartsAt)
	})

	return entries
}
