// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/govsense/govsense/internal/config"
	"github.com/govsense/govsense/internal/database"
	"github.com/govsense/govsense/internal/ingest"
	"github.com/govsense/govsense/internal/models"
	"github.com/govsense/govsense/internal/registry"
)

// fakeFetcher serves canned rows per dataset and can inject failures
// or block until released.
type fakeFetcher struct {
	mu      sync.Mutex
	rows    map[string][]ingest.RawRecord
	errs    map[string]error
	block   chan struct{}
	fetches int
}

func (f *fakeFetcher) Fetch(ctx context.Context, spec registry.DatasetSpec) ([]ingest.RawRecord, error) {
	if f.block != nil {
		<-f.block
	}
	if err := ctx.Err(); err != nil {
		return nil, &models.SourceUnavailableError{DatasetID: spec.ID, Transient: true, Err: err}
	}
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	if err := f.errs[spec.ID]; err != nil {
		return nil, err
	}
	return f.rows[spec.ID], nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// fakeStore keeps rows keyed the way the real tables are.
type fakeStore struct {
	mu         sync.Mutex
	budgets    map[string]models.RegionBudget
	communes   map[string]models.Commune
	employment map[string]models.RegionEmployment
	stats      []models.RegionStat
	failTable  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		budgets:    make(map[string]models.RegionBudget),
		communes:   make(map[string]models.Commune),
		employment: make(map[string]models.RegionEmployment),
	}
}

func (s *fakeStore) UpsertBudgets(_ context.Context, records []models.RegionBudget) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTable == "region_budgets" {
		return 0, &models.StorageCommitError{Table: "region_budgets", Err: errors.New("disk full")}
	}
	for _, b := range records {
		s.budgets[strconv.Itoa(b.Year)+"|"+b.RegionCode] = b
	}
	return len(records), nil
}

func (s *fakeStore) UpsertCommunes(_ context.Context, records []models.Commune) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTable == "communes" {
		return 0, &models.StorageCommitError{Table: "communes", Err: errors.New("disk full")}
	}
	for _, c := range records {
		s.communes[c.CodeINSEE] = c
	}
	return len(records), nil
}

func (s *fakeStore) UpsertEmployment(_ context.Context, records []models.RegionEmployment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range records {
		s.employment[e.RegionCode+e.Month] = e
	}
	return len(records), nil
}

func (s *fakeStore) UpsertRegionStats(_ context.Context, records []models.RegionStat) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append([]models.RegionStat(nil), records...)
	return len(records), nil
}

func (s *fakeStore) ListBudgets(context.Context, database.BudgetFilter) ([]models.RegionBudget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RegionBudget, 0, len(s.budgets))
	for _, b := range s.budgets {
		out = append(out, b)
	}
	return out, nil
}

func (s *fakeStore) ListCommunes(context.Context, database.CommuneFilter) ([]models.Commune, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Commune, 0, len(s.communes))
	for _, c := range s.communes {
		out = append(out, c)
	}
	return out, nil
}

func (s *fakeStore) ListEmployment(context.Context, database.EmploymentFilter) ([]models.RegionEmployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RegionEmployment, 0, len(s.employment))
	for _, e := range s.employment {
		out = append(out, e)
	}
	return out, nil
}

// fakeListener records commit notifications.
type fakeListener struct {
	mu     sync.Mutex
	events []models.RefreshCompleted
}

func (l *fakeListener) OnRefreshCompleted(e models.RefreshCompleted) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *fakeListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func testRows() map[string][]ingest.RawRecord {
	return map[string][]ingest.RawRecord{
		registry.DatasetRegionBudgets: {
			{Fields: map[string]string{"exer": "2023", "reg": "84", "lbudg": "ARA", "rec_totales_f": "1000", "dep_totales_f": "400"}},
		},
		registry.DatasetCommunes: {
			{Fields: map[string]string{"code_insee": "69123", "nom_standard": "Lyon", "reg_code": "84", "population": "500"}},
		},
		registry.DatasetChomageRegional: {
			{Fields: map[string]string{"reg": "84", "dernier_jour_du_mois": "2023-01-31", "masse_salariale_brute": "10"}},
		},
	}
}

func newTestManager(fetcher Fetcher, store Store) *Manager {
	cfg := config.RefreshConfig{Interval: time.Hour, HistoryEntries: 20}
	return NewManager(cfg, registry.Default(), fetcher, store)
}

func TestTriggerRefreshSuccess(t *testing.T) {
	store := newFakeStore()
	listener := &fakeListener{}
	m := newTestManager(&fakeFetcher{rows: testRows()}, store)
	m.AddListener(listener)

	run, err := m.TriggerRefresh(context.Background())
	if err != nil {
		t.Fatalf("TriggerRefresh: %v", err)
	}
	if !run.Succeeded() {
		t.Fatalf("run status = %s, error = %s", run.Status, run.Error)
	}
	if len(run.FailedDatasets) != 0 {
		t.Errorf("failed datasets = %v, want none", run.FailedDatasets)
	}
	if run.CommittedRows["region_budgets"] != 1 || run.CommittedRows["communes"] != 1 {
		t.Errorf("committed rows = %v", run.CommittedRows)
	}
	if run.FinishedAt == nil {
		t.Error("finished run must carry a finish time")
	}

	if len(store.stats) == 0 {
		t.Fatal("statistics were not derived")
	}
	stat := store.stats[0]
	if stat.RevenuePerCapita == nil || *stat.RevenuePerCapita != 2.0 {
		t.Errorf("revenue per capita = %v, want 2.0", stat.RevenuePerCapita)
	}

	if listener.count() != 1 {
		t.Errorf("listener notified %d times, want 1", listener.count())
	}
}

func TestTriggerRefreshMutualExclusion(t *testing.T) {
	block := make(chan struct{})
	fetcher := &fakeFetcher{rows: testRows(), block: block}
	m := newTestManager(fetcher, newFakeStore())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.TriggerRefresh(context.Background())
	}()

	// Wait for the first run to take the guard.
	for !m.IsRunning() {
		time.Sleep(time.Millisecond)
	}

	if _, err := m.TriggerRefresh(context.Background()); !errors.Is(err, models.ErrAlreadyRunning) {
		t.Fatalf("second trigger: err = %v, want ErrAlreadyRunning", err)
	}

	close(block)
	<-done

	if m.IsRunning() {
		t.Error("guard not released after run finished")
	}
	if _, err := m.TriggerRefresh(context.Background()); err != nil {
		t.Errorf("trigger after release: %v", err)
	}
}

func TestDegradedRunCommitsSurvivors(t *testing.T) {
	rows := testRows()
	fetcher := &fakeFetcher{
		rows: rows,
		errs: map[string]error{
			registry.DatasetChomageRegional: &models.SourceUnavailableError{
				DatasetID: registry.DatasetChomageRegional,
				Transient: true,
				Err:       errors.New("503"),
			},
		},
	}
	store := newFakeStore()
	listener := &fakeListener{}
	m := newTestManager(fetcher, store)
	m.AddListener(listener)

	run, err := m.TriggerRefresh(context.Background())
	if err != nil {
		t.Fatalf("TriggerRefresh: %v", err)
	}
	if !run.Succeeded() {
		t.Fatalf("degraded run should still succeed, status = %s", run.Status)
	}
	if len(run.FailedDatasets) != 1 || run.FailedDatasets[0] != registry.DatasetChomageRegional {
		t.Errorf("failed datasets = %v", run.FailedDatasets)
	}
	if len(store.budgets) != 1 || len(store.communes) != 1 {
		t.Error("surviving datasets were not committed")
	}
	if len(store.employment) != 0 {
		t.Error("failed dataset must not be committed")
	}
	if listener.count() != 1 {
		t.Errorf("listener notified %d times, want 1 for a committed degraded run", listener.count())
	}
	if len(listener.events[0].FailedDatasets) != 1 {
		t.Errorf("notification failed datasets = %v", listener.events[0].FailedDatasets)
	}
}

func TestAllDatasetsFailedFailsRun(t *testing.T) {
	boom := &models.SourceUnavailableError{DatasetID: "any", Transient: true, Err: errors.New("down")}
	fetcher := &fakeFetcher{errs: map[string]error{
		registry.DatasetRegionBudgets:   boom,
		registry.DatasetCommunes:        boom,
		registry.DatasetChomageRegional: boom,
	}}
	store := newFakeStore()
	listener := &fakeListener{}
	m := newTestManager(fetcher, store)
	m.AddListener(listener)

	run, err := m.TriggerRefresh(context.Background())
	if err != nil {
		t.Fatalf("TriggerRefresh: %v", err)
	}
	if run.Status != models.RunFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
	if len(store.stats) != 0 {
		t.Error("failed run must not derive statistics")
	}
	if listener.count() != 0 {
		t.Error("failed run must not notify listeners")
	}
}

func TestStorageFailureFailsRun(t *testing.T) {
	store := newFakeStore()
	store.failTable = "region_budgets"
	listener := &fakeListener{}
	m := newTestManager(&fakeFetcher{rows: testRows()}, store)
	m.AddListener(listener)

	run, err := m.TriggerRefresh(context.Background())
	if err != nil {
		t.Fatalf("TriggerRefresh: %v", err)
	}
	if run.Status != models.RunFailed {
		t.Fatalf("run status = %s, want failed on storage error", run.Status)
	}
	if listener.count() != 0 {
		t.Error("failed run must not notify listeners")
	}
}

func TestHistoryBounded(t *testing.T) {
	cfg := config.RefreshConfig{Interval: time.Hour, HistoryEntries: 2}
	m := NewManager(cfg, registry.Default(), &fakeFetcher{rows: testRows()}, newFakeStore())

	var lastID string
	for i := 0; i < 3; i++ {
		run, err := m.TriggerRefresh(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		lastID = run.ID
	}

	history := m.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].ID != lastID {
		t.Error("history is not most-recent-first")
	}
}

func TestBeginRefreshReturnsRunningSnapshot(t *testing.T) {
	block := make(chan struct{})
	fetcher := &fakeFetcher{rows: testRows(), block: block}
	m := newTestManager(fetcher, newFakeStore())

	snapshot, err := m.BeginRefresh(context.Background())
	if err != nil {
		t.Fatalf("BeginRefresh: %v", err)
	}
	if snapshot.Status != models.RunRunning {
		t.Errorf("snapshot status = %s, want running", snapshot.Status)
	}
	if _, err := m.BeginRefresh(context.Background()); !errors.Is(err, models.ErrAlreadyRunning) {
		t.Errorf("second begin: err = %v, want ErrAlreadyRunning", err)
	}

	close(block)
	for m.IsRunning() {
		time.Sleep(time.Millisecond)
	}

	last := m.LastRun()
	if last == nil || last.ID != snapshot.ID {
		t.Fatalf("last run = %+v, want id %s", last, snapshot.ID)
	}
	if !last.Succeeded() {
		t.Errorf("background run status = %s, error = %s", last.Status, last.Error)
	}
}

func TestLastRunWhileRunning(t *testing.T) {
	block := make(chan struct{})
	m := newTestManager(&fakeFetcher{rows: testRows(), block: block}, newFakeStore())

	if m.LastRun() != nil {
		t.Error("LastRun before any run should be nil")
	}

	snapshot, err := m.BeginRefresh(context.Background())
	if err != nil {
		t.Fatalf("BeginRefresh: %v", err)
	}

	live := m.LastRun()
	if live == nil || live.ID != snapshot.ID || live.Status != models.RunRunning {
		t.Errorf("live run = %+v", live)
	}

	close(block)
	for m.IsRunning() {
		time.Sleep(time.Millisecond)
	}
}

func TestStatusReadsDuringRun(t *testing.T) {
	block := make(chan struct{})
	m := newTestManager(&fakeFetcher{rows: testRows(), block: block}, newFakeStore())

	if _, err := m.BeginRefresh(context.Background()); err != nil {
		t.Fatalf("BeginRefresh: %v", err)
	}

	// Hammer the status surface while the run is in flight.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = m.LastRun()
					_ = m.History()
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	close(block)
	for m.IsRunning() {
		time.Sleep(time.Millisecond)
	}
	close(stop)
	wg.Wait()

	last := m.LastRun()
	if last == nil || !last.Succeeded() {
		t.Fatalf("run = %+v", last)
	}

	// Snapshots must not share cleaning reports.
	outcome := last.Datasets[registry.DatasetRegionBudgets]
	if outcome.Report == nil {
		t.Fatal("budget outcome missing cleaning report")
	}
	outcome.Report.Kept = -1
	again := m.LastRun()
	if again.Datasets[registry.DatasetRegionBudgets].Report.Kept == -1 {
		t.Error("cleaning report shared between snapshots")
	}
}

func TestServeManualOnlyMode(t *testing.T) {
	fetcher := &fakeFetcher{rows: testRows()}
	cfg := config.RefreshConfig{Interval: 0, HistoryEntries: 20}
	m := NewManager(cfg, registry.Default(), fetcher, newFakeStore())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not stop after cancellation")
	}

	if fetcher.fetchCount() != 0 {
		t.Errorf("fetches = %d, want 0 without a trigger", fetcher.fetchCount())
	}
	if _, err := m.TriggerRefresh(context.Background()); err != nil {
		t.Errorf("manual trigger: %v", err)
	}
}

func TestSchedulerShutdownLeavesRunInFlight(t *testing.T) {
	block := make(chan struct{})
	fetcher := &fakeFetcher{rows: testRows(), block: block}
	cfg := config.RefreshConfig{Interval: time.Hour, RunOnStartup: true, HistoryEntries: 20}
	m := NewManager(cfg, registry.Default(), fetcher, newFakeStore())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx) }()

	for !m.IsRunning() {
		time.Sleep(time.Millisecond)
	}
	cancel()
	close(block)

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Serve returned %v, want context.Canceled", err)
	}
	last := m.LastRun()
	if last == nil || !last.Succeeded() {
		t.Fatalf("in-flight run did not finish cleanly: %+v", last)
	}
}
