package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hisabimbola/ostrom-bridge/clients/ostrom"
)

// --- Mock implementations ---

type fetchResult struct {
	Records []ostrom.RawPriceRecord
	Err     error
}

type fetchCall struct {
	Zip   string
	Start time.Time
	End   time.Time
}

// MockPriceSource implements PriceSource for testing. Fetch results are
// consumed in call order: first Window A, then Window B.
type MockPriceSource struct {
	Token      ostrom.Token
	TokenErr   error
	TokenCalls int

	FetchResults []fetchResult
	FetchCalls   []fetchCall
}

func (m *MockPriceSource) EnsureValidToken(ctx context.Context) (ostrom.Token, error) {
	m.TokenCalls++
	return m.Token, m.TokenErr
}

func (m *MockPriceSource) FetchSpotPrices(ctx context.Context, token ostrom.Token, zip string, start, end time.Time) ([]ostrom.RawPriceRecord, error) {
	m.FetchCalls = append(m.FetchCalls, fetchCall{Zip: zip, Start: start, End: end})
	if len(m.FetchResults) == 0 {
		return nil, &ostrom.EmptyResultError{Window: "unconfigured"}
	}
	next := m.FetchResults[0]
	m.FetchResults = m.FetchResults[1:]
	return next.Records, next.Err
}

// newTestCoordinator returns a coordinator pinned to 14:30 local time on
// 2024-01-15 in Berlin (UTC+1 in January).
func newTestCoordinator(t *testing.T, source PriceSource) *Coordinator {
	t.Helper()
	loc := berlin(t)
	c := NewCoordinator(source, "10115", loc)
	c.SetClock(fixedTime(time.Date(2024, 1, 15, 14, 30, 0, 0, loc)))
	return c
}

func fixedTime(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRefresh_Success(t *testing.T) {
	// 13:00 UTC is 14:00 local, the current hour at a 14:30 clock.
	windowA := []ostrom.RawPriceRecord{
		rawRecord("2024-01-15T13:00:00.000Z", 0.30),
		rawRecord("2024-01-15T14:00:00.000Z", 0.35),
	}
	source := &MockPriceSource{
		Token:        ostrom.Token{AccessToken: "tok"},
		FetchResults: []fetchResult{{Records: windowA}, {Records: windowA}},
	}
	c := newTestCoordinator(t, source)

	snap, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if !snap.CurrentPrice.Equal(decimal.NewFromFloat(0.30)) {
		t.Errorf("CurrentPrice = %s, want 0.30", snap.CurrentPrice)
	}
	if snap.NextHourPrice == nil || !snap.NextHourPrice.Equal(decimal.NewFromFloat(0.35)) {
		t.Errorf("NextHourPrice = %v, want 0.35", snap.NextHourPrice)
	}
	if !snap.LowestPriceToday.Equal(decimal.NewFromFloat(0.30)) {
		t.Errorf("LowestPriceToday = %s, want 0.30", snap.LowestPriceToday)
	}
	if !snap.HighestPriceToday.Equal(decimal.NewFromFloat(0.35)) {
		t.Errorf("HighestPriceToday = %s, want 0.35", snap.HighestPriceToday)
	}
	if !snap.BaseFee.Equal(decimal.NewFromFloat(5.0)) {
		t.Errorf("BaseFee = %s, want 5.0", snap.BaseFee)
	}
	if !snap.GridFee.Equal(decimal.NewFromFloat(4.0)) {
		t.Errorf("GridFee = %s, want 4.0", snap.GridFee)
	}
	if snap.Attribution != Attribution {
		t.Errorf("Attribution = %q, want %q", snap.Attribution, Attribution)
	}
	if len(snap.PricesToday) != 2 {
		t.Errorf("len(PricesToday) = %d, want 2", len(snap.PricesToday))
	}
	if len(snap.PricesTomorrow) != 0 {
		t.Errorf("len(PricesTomorrow) = %d, want 0 (tomorrow unpublished)", len(snap.PricesTomorrow))
	}

	if got := c.Snapshot(); got != snap {
		t.Error("Snapshot() does not return the refreshed snapshot")
	}
	if !c.Healthy() {
		t.Error("Healthy() = false after successful refresh")
	}
}

func TestRefresh_FetchWindows(t *testing.T) {
	windowA := []ostrom.RawPriceRecord{rawRecord("2024-01-15T13:00:00.000Z", 0.30)}
	source := &MockPriceSource{
		Token:        ostrom.Token{AccessToken: "tok"},
		FetchResults: []fetchResult{{Records: windowA}, {Records: windowA}},
	}
	c := newTestCoordinator(t, source)

	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if source.TokenCalls != 1 {
		t.Errorf("TokenCalls = %d, want 1", source.TokenCalls)
	}
	if len(source.FetchCalls) != 2 {
		t.Fatalf("len(FetchCalls) = %d, want 2", len(source.FetchCalls))
	}

	loc := berlin(t)
	wantA := fetchCall{
		Zip:   "10115",
		Start: time.Date(2024, 1, 14, 0, 0, 0, 0, loc),
		End:   time.Date(2024, 1, 16, 0, 0, 0, 0, loc),
	}
	wantB := fetchCall{
		Zip:   "10115",
		Start: time.Date(2024, 1, 15, 0, 0, 0, 0, loc),
		End:   time.Date(2024, 1, 17, 0, 0, 0, 0, loc),
	}

	gotA, gotB := source.FetchCalls[0], source.FetchCalls[1]
	if gotA.Zip != wantA.Zip || !gotA.Start.Equal(wantA.Start) || !gotA.End.Equal(wantA.End) {
		t.Errorf("window A = %+v, want %+v", gotA, wantA)
	}
	if gotB.Zip != wantB.Zip || !gotB.Start.Equal(wantB.Start) || !gotB.End.Equal(wantB.End) {
		t.Errorf("window B = %+v, want %+v", gotB, wantB)
	}
}

func TestRefresh_NextHourFromTomorrow(t *testing.T) {
	loc := berlin(t)

	// Clock at 23:30 local: the next hour is tomorrow's midnight.
	windowA := []ostrom.RawPriceRecord{
		rawRecord("2024-01-15T22:00:00.000Z", 0.30), // 23:00 local
	}
	windowB := []ostrom.RawPriceRecord{
		rawRecord("2024-01-15T23:00:00.000Z", 0.28), // 00:00 local on the 16th
	}
	source := &MockPriceSource{
		Token:        ostrom.Token{AccessToken: "tok"},
		FetchResults: []fetchResult{{Records: windowA}, {Records: windowB}},
	}
	c := NewCoordinator(source, "10115", loc)
	c.SetClock(fixedTime(time.Date(2024, 1, 15, 23, 30, 0, 0, loc)))

	snap, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if snap.NextHourPrice == nil || !snap.NextHourPrice.Equal(decimal.NewFromFloat(0.28)) {
		t.Errorf("NextHourPrice = %v, want 0.28 (from tomorrow's series)", snap.NextHourPrice)
	}
	if len(snap.PricesTomorrow) != 1 {
		t.Errorf("len(PricesTomorrow) = %d, want 1", len(snap.PricesTomorrow))
	}
}

func TestRefresh_NextHourUnavailable(t *testing.T) {
	// Only the current hour exists. A missing next hour is not an error.
	windowA := []ostrom.RawPriceRecord{rawRecord("2024-01-15T13:00:00.000Z", 0.30)}
	source := &MockPriceSource{
		Token:        ostrom.Token{AccessToken: "tok"},
		FetchResults: []fetchResult{{Records: windowA}, {Records: windowA}},
	}
	c := newTestCoordinator(t, source)

	snap, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if snap.NextHourPrice != nil {
		t.Errorf("NextHourPrice = %v, want nil", snap.NextHourPrice)
	}
}

func TestRefresh_EmptyWindow(t *testing.T) {
	source := &MockPriceSource{
		Token:        ostrom.Token{AccessToken: "tok"},
		FetchResults: []fetchResult{{Err: &ostrom.EmptyResultError{Window: "2024-01-14..2024-01-16"}}},
	}
	c := newTestCoordinator(t, source)

	_, err := c.Refresh(context.Background())
	var re *RefreshError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *RefreshError", err)
	}
	if re.Kind != KindEmptyResult {
		t.Errorf("Kind = %s, want %s", re.Kind, KindEmptyResult)
	}
	if c.Healthy() {
		t.Error("Healthy() = true after failed refresh")
	}
}

func TestRefresh_AllRecordsOutsideToday(t *testing.T) {
	// The fetch succeeds but nothing survives the date filter: still an
	// empty-result failure, not a missing-hour one.
	windowA := []ostrom.RawPriceRecord{rawRecord("2024-01-10T13:00:00.000Z", 0.30)}
	source := &MockPriceSource{
		Token:        ostrom.Token{AccessToken: "tok"},
		FetchResults: []fetchResult{{Records: windowA}, {Records: windowA}},
	}
	c := newTestCoordinator(t, source)

	_, err := c.Refresh(context.Background())
	var re *RefreshError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *RefreshError", err)
	}
	if re.Kind != KindEmptyResult {
		t.Errorf("Kind = %s, want %s", re.Kind, KindEmptyResult)
	}
}

func TestRefresh_AuthFailure(t *testing.T) {
	source := &MockPriceSource{
		TokenErr: &ostrom.AuthError{Reason: "token endpoint returned status 401"},
	}
	c := newTestCoordinator(t, source)

	_, err := c.Refresh(context.Background())
	var re *RefreshError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *RefreshError", err)
	}
	if re.Kind != KindAuth {
		t.Errorf("Kind = %s, want %s", re.Kind, KindAuth)
	}

	var authErr *ostrom.AuthError
	if !errors.As(err, &authErr) {
		t.Error("RefreshError does not unwrap to the originating *ostrom.AuthError")
	}
	if len(source.FetchCalls) != 0 {
		t.Errorf("FetchCalls = %d, want 0 (no fetch after auth failure)", len(source.FetchCalls))
	}
}

func TestRefresh_MissingCurrentHour(t *testing.T) {
	// Data for today exists, but not for the exact current hour. A nearest
	// match must never be substituted.
	windowA := []ostrom.RawPriceRecord{
		rawRecord("2024-01-15T14:00:00.000Z", 0.35), // 15:00 local, not 14:00
	}
	source := &MockPriceSource{
		Token:        ostrom.Token{AccessToken: "tok"},
		FetchResults: []fetchResult{{Records: windowA}, {Records: windowA}},
	}
	c := newTestCoordinator(t, source)

	_, err := c.Refresh(context.Background())
	var re *RefreshError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *RefreshError", err)
	}
	if re.Kind != KindMissingCurrentHour {
		t.Errorf("Kind = %s, want %s", re.Kind, KindMissingCurrentHour)
	}
}

func TestRefresh_KeepsPreviousSnapshotOnFailure(t *testing.T) {
	windowA := []ostrom.RawPriceRecord{rawRecord("2024-01-15T13:00:00.000Z", 0.30)}
	source := &MockPriceSource{
		Token: ostrom.Token{AccessToken: "tok"},
		FetchResults: []fetchResult{
			{Records: windowA}, {Records: windowA}, // first refresh succeeds
			{Err: &ostrom.ConnectionError{Op: "fetch spot prices"}}, // second fails
		},
	}
	c := newTestCoordinator(t, source)

	first, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}

	if _, err := c.Refresh(context.Background()); err == nil {
		t.Fatal("second Refresh() error = nil, want failure")
	}

	if got := c.Snapshot(); got != first {
		t.Error("failed refresh replaced the previous snapshot")
	}
	if c.Healthy() {
		t.Error("Healthy() = true after failed refresh")
	}
	if c.LastError() == nil {
		t.Error("LastError() = nil after failed refresh")
	}

	succeeded, failed := c.Stats()
	if succeeded != 1 || failed != 1 {
		t.Errorf("Stats() = (%d, %d), want (1, 1)", succeeded, failed)
	}
}

// sequencedSource records the order of upstream calls so interleaving
// between concurrent refresh cycles is observable.
type sequencedSource struct {
	mu     sync.Mutex
	events []string
}

func (s *sequencedSource) EnsureValidToken(ctx context.Context) (ostrom.Token, error) {
	s.mu.Lock()
	s.events = append(s.events, "token")
	s.mu.Unlock()
	// Widen the window between the token call and the fetch so an
	// unserialized second cycle would interleave here.
	time.Sleep(10 * time.Millisecond)
	return ostrom.Token{AccessToken: "tok"}, nil
}

func (s *sequencedSource) FetchSpotPrices(ctx context.Context, token ostrom.Token, zip string, start, end time.Time) ([]ostrom.RawPriceRecord, error) {
	s.mu.Lock()
	s.events = append(s.events, "fetch")
	s.mu.Unlock()
	return nil, &ostrom.EmptyResultError{Window: "unpublished"}
}

func TestRefresh_SerializesConcurrentCycles(t *testing.T) {
	source := &sequencedSource{}
	c := newTestCoordinator(t, source)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Refresh(context.Background())
		}()
	}
	wg.Wait()

	// Each cycle is token then fetch; cycles must not interleave.
	want := []string{"token", "fetch", "token", "fetch"}
	if len(source.events) != len(want) {
		t.Fatalf("events = %v, want %v", source.events, want)
	}
	for i, event := range want {
		if source.events[i] != event {
			t.Fatalf("events = %v, want %v (refresh cycles overlapped)", source.events, want)
		}
	}
}

func TestGetPricesForDate(t *testing.T) {
	loc := berlin(t)
	windowA := []ostrom.RawPriceRecord{
		rawRecord("2024-01-15T13:00:00.000Z", 0.30),
		rawRecord("2024-01-15T14:00:00.000Z", 0.35),
	}
	source := &MockPriceSource{
		Token: ostrom.Token{AccessToken: "tok"},
		FetchResults: []fetchResult{
			{Records: windowA}, {Records: windowA},
		},
	}
	c := newTestCoordinator(t, source)

	prices, err := c.GetPricesForDate(context.Background(), time.Date(2024, 1, 15, 0, 0, 0, 0, loc))
	if err != nil {
		t.Fatalf("GetPricesForDate() error = %v", err)
	}
	if len(prices) != 2 {
		t.Fatalf("len(prices) = %d, want 2", len(prices))
	}
}

func TestGetPricesForDate_NotFound(t *testing.T) {
	loc := berlin(t)
	windowA := []ostrom.RawPriceRecord{rawRecord("2024-01-15T13:00:00.000Z", 0.30)}
	source := &MockPriceSource{
		Token: ostrom.Token{AccessToken: "tok"},
		FetchResults: []fetchResult{
			{Records: windowA}, {Records: windowA},
		},
	}
	c := newTestCoordinator(t, source)

	_, err := c.GetPricesForDate(context.Background(), time.Date(2024, 2, 1, 0, 0, 0, 0, loc))
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want *NotFoundError", err)
	}
}

func TestGetPricesForDate_ServesStaleSnapshotOnRefreshFailure(t *testing.T) {
	loc := berlin(t)
	windowA := []ostrom.RawPriceRecord{rawRecord("2024-01-15T13:00:00.000Z", 0.30)}
	source := &MockPriceSource{
		Token: ostrom.Token{AccessToken: "tok"},
		FetchResults: []fetchResult{
			{Records: windowA}, {Records: windowA}, // initial refresh succeeds
			{Err: &ostrom.ConnectionError{Op: "fetch spot prices"}}, // lookup refresh fails
		},
	}
	c := newTestCoordinator(t, source)

	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	prices, err := c.GetPricesForDate(context.Background(), time.Date(2024, 1, 15, 0, 0, 0, 0, loc))
	if err != nil {
		t.Fatalf("GetPricesForDate() error = %v, want stale snapshot served", err)
	}
	if len(prices) != 1 {
		t.Fatalf("len(prices) = %d, want 1", len(prices))
	}
}
