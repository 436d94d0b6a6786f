package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hisabimbola/ostrom-bridge/clients/ostrom"
)

// Attribution names the data source, displayed alongside every snapshot.
const Attribution = "Data provided by Ostrom GmbH"

// Snapshot is the complete output of one refresh cycle. Immutable once
// produced; the coordinator replaces the previous snapshot atomically.
type Snapshot struct {
	CurrentPrice      decimal.Decimal  `json:"current_price"`
	NextHourPrice     *decimal.Decimal `json:"next_hour_price"`
	LowestPriceToday  decimal.Decimal  `json:"lowest_price_today"`
	HighestPriceToday decimal.Decimal  `json:"highest_price_today"`
	BaseFee           decimal.Decimal  `json:"base_fee"`
	GridFee           decimal.Decimal  `json:"grid_fee"`
	PricesToday       []PriceEntry     `json:"prices_today"`
	PricesTomorrow    []PriceEntry     `json:"prices_tomorrow"`
	Attribution       string           `json:"attribution"`
	FetchedAt         time.Time        `json:"fetched_at"`
}

// Coordinator orchestrates token validation, windowed price fetching,
// normalization, and aggregation into a Snapshot. It owns no timer; the
// host invokes Refresh on its own cadence.
type Coordinator struct {
	source  PriceSource
	zipCode string
	loc     *time.Location
	nowFunc func() time.Time // clock function for testing

	// refreshMu serializes refresh cycles: one cycle runs to completion
	// before the next starts, even when a price lookup and a scheduler
	// tick coincide.
	refreshMu sync.Mutex

	mu        sync.RWMutex
	snapshot  *Snapshot
	lastErr   error
	succeeded uint64
	failed    uint64
}

// NewCoordinator creates a coordinator for one configured zip code.
func NewCoordinator(source PriceSource, zipCode string, loc *time.Location) *Coordinator {
	if loc == nil {
		loc = time.UTC
	}
	return &Coordinator{
		source:  source,
		zipCode: zipCode,
		loc:     loc,
		nowFunc: time.Now,
	}
}

// SetClock sets the clock function for testing. Not thread-safe, call
// before the first refresh.
func (c *Coordinator) SetClock(fn func() time.Time) {
	c.nowFunc = fn
}

// ZipCode returns the zip code this coordinator serves.
func (c *Coordinator) ZipCode() string { return c.zipCode }

// DisplayName returns the human-readable instance name.
func (c *Coordinator) DisplayName() string {
	return fmt.Sprintf("Ostrom Energy (%s)", c.zipCode)
}

func (c *Coordinator) now() time.Time {
	return c.nowFunc().In(c.loc)
}

// Snapshot returns the latest successful snapshot, or nil before the first
// successful refresh. Readers always see a complete snapshot.
func (c *Coordinator) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// LastError returns the failure of the most recent refresh, or nil if it
// succeeded.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Stats returns how many refresh cycles succeeded and failed.
func (c *Coordinator) Stats() (succeeded, failed uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.succeeded, c.failed
}

// Healthy reports whether the most recent refresh succeeded.
func (c *Coordinator) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot != nil && c.lastErr == nil
}

// Refresh runs one full cycle: token, two fetch windows, normalization,
// current/next-hour reconciliation, and aggregates. Every failure is
// reported as a RefreshError carrying the originating kind; the previous
// snapshot stays in place so readers keep complete data.
func (c *Coordinator) Refresh(ctx context.Context) (*Snapshot, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	snap, err := c.update(ctx)

	c.mu.Lock()
	if err != nil {
		c.lastErr = err
		c.failed++
	} else {
		c.snapshot = snap
		c.lastErr = nil
		c.succeeded++
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *Coordinator) update(ctx context.Context) (*Snapshot, error) {
	token, err := c.source.EnsureValidToken(ctx)
	if err != nil {
		return nil, wrapRefreshFailure(err)
	}

	now := c.now()
	todayStart := startOfDay(now)

	// Window A spans yesterday..tomorrow so today survives timezone
	// boundary effects; Window B spans today..day-after-tomorrow to catch
	// tomorrow once published.
	windowAStart := todayStart.AddDate(0, 0, -1)
	windowAEnd := todayStart.AddDate(0, 0, 1)
	windowBStart := todayStart
	windowBEnd := todayStart.AddDate(0, 0, 2)

	slog.Debug("fetching price windows",
		"zip", c.zipCode,
		"window_a", fmt.Sprintf("%s..%s", windowAStart, windowAEnd),
		"window_b", fmt.Sprintf("%s..%s", windowBStart, windowBEnd),
	)

	todayRaw, err := c.source.FetchSpotPrices(ctx, token, c.zipCode, windowAStart, windowAEnd)
	if err != nil {
		return nil, wrapRefreshFailure(err)
	}
	tomorrowRaw, err := c.source.FetchSpotPrices(ctx, token, c.zipCode, windowBStart, windowBEnd)
	if err != nil {
		return nil, wrapRefreshFailure(err)
	}

	todayEntries := normalize(todayRaw, now, c.loc)
	tomorrowEntries := normalize(tomorrowRaw, now.AddDate(0, 0, 1), c.loc)

	if len(todayEntries) == 0 {
		return nil, wrapRefreshFailure(&ostrom.EmptyResultError{Window: todayStart.Format("2006-01-02")})
	}

	currentHour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, c.loc)
	nextHour := currentHour.Add(time.Hour)

	current, ok := findEntry(todayEntries, currentHour)
	if !ok {
		slog.Error("current hour missing from today's series",
			"hour", currentHour, "entries", len(todayEntries))
		return nil, wrapRefreshFailure(&MissingCurrentHourError{Hour: currentHour})
	}

	// Tomorrow's prices may be unpublished, so a missing next hour is not
	// an error.
	var nextHourPrice *decimal.Decimal
	combined := make([]PriceEntry, 0, len(todayEntries)+len(tomorrowEntries))
	combined = append(combined, todayEntries...)
	combined = append(combined, tomorrowEntries...)
	if next, ok := findEntry(combined, nextHour); ok {
		p := next.Price
		nextHourPrice = &p
	}

	lowest, highest := priceRange(todayEntries)

	return &Snapshot{
		CurrentPrice:      current.Price,
		NextHourPrice:     nextHourPrice,
		LowestPriceToday:  lowest,
		HighestPriceToday: highest,
		BaseFee:           todayRaw[0].GrossMonthlyBaseFee,
		GridFee:           todayRaw[0].GrossMonthlyGridFees,
		PricesToday:       todayEntries,
		PricesTomorrow:    tomorrowEntries,
		Attribution:       Attribution,
		FetchedAt:         now,
	}, nil
}

// GetPricesForDate triggers a refresh, then filters the latest snapshot's
// today entries by calendar date. A failed refresh is tolerated as long as
// a previous snapshot exists.
func (c *Coordinator) GetPricesForDate(ctx context.Context, date time.Time) ([]PriceEntry, error) {
	if _, err := c.Refresh(ctx); err != nil {
		slog.Warn("refresh failed while serving price lookup", "error", err)
	}

	snap := c.Snapshot()
	if snap == nil {
		return nil, &NotFoundError{Date: date}
	}

	y, m, d := date.In(c.loc).Date()
	var matched []PriceEntry
	for _, entry := range snap.PricesToday {
		ey, em, ed := entry.StartsAt.Date()
		if ey == y && em == m && ed == d {
			matched = append(matched, entry)
		}
	}

	if len(matched) == 0 {
		return nil, &NotFoundError{Date: date}
	}
	return matched, nil
}

// findEntry returns the entry whose start equals hour exactly. No nearest
// match: a gap must surface as an error, not a silently wrong price.
func findEntry(entries []PriceEntry, hour time.Time) (PriceEntry, bool) {
	for _, e := range entries {
		if e.StartsAt.Equal(hour) {
			return e, true
		}
	}
	return PriceEntry{}, false
}

func priceRange(entries []PriceEntry) (lowest, highest decimal.Decimal) {
	lowest = entries[0].Price
	highest = entries[0].Price
	for _, e := range entries[1:] {
		if e.Price.LessThan(lowest) {
			lowest = e.Price
		}
		if e.Price.GreaterThan(highest) {
			highest = e.Price
		}
	}
	return lowest, highest
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
