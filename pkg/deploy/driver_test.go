package deploy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stagegate/stagegate/pkg/history"
	"github.com/stagegate/stagegate/pkg/quorum"
	"github.com/stagegate/stagegate/pkg/schema"
	"github.com/stagegate/stagegate/pkg/staging"
)

// recordingExecutor collects the refs it applied, optionally failing on a
// specific migration.
type recordingExecutor struct {
	mu      sync.Mutex
	applied []string
	failOn  string
}

func (e *recordingExecutor) Apply(_ context.Context, entry staging.PlanEntry) error {
	ref := entry.Migration.Ref().String()
	if e.failOn != "" && ref == e.failOn {
		return errors.New("boom")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = append(e.applied, ref)
	return nil
}

func (e *recordingExecutor) appliedRefs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.applied...)
}

// recordingStore captures run lifecycle calls in memory.
type recordingStore struct {
	mu       sync.Mutex
	started  []*history.Run
	finished map[string]history.RunStatus
}

func newRecordingStore() *recordingStore {
	return &recordingStore{finished: make(map[string]history.RunStatus)}
}

func (s *recordingStore) RecordStart(_ context.Context, run *history.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, run)
	return nil
}

func (s *recordingStore) RecordFinish(_ context.Context, id string, status history.RunStatus, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished[id] = status
	return nil
}

func (s *recordingStore) SetWinner(context.Context, string, bool) error { return nil }

func (s *recordingStore) GetRun(context.Context, string) (*history.Run, error) {
	return nil, errors.New("not implemented")
}

func (s *recordingStore) ListRuns(context.Context, string) ([]*history.Run, error) {
	return nil, nil
}

func (s *recordingStore) Close() error { return nil }

func (s *recordingStore) statuses() []history.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []history.RunStatus
	for _, run := range s.started {
		out = append(out, s.finished[run.ID])
	}
	return out
}

func testCoordinator(t *testing.T) quorum.Coordinator {
	t.Helper()
	coord, err := quorum.NewCounterCoordinator(quorum.CounterCoordinatorConfig{
		Counter: quorum.NewMemoryCounter(),
	})
	if err != nil {
		t.Fatalf("creating coordinator: %v", err)
	}
	return coord
}

func testPlan() staging.Plan {
	create := &staging.Migration{
		AppLabel: "shop",
		Name:     "0001_init",
		Operations: []staging.Operation{
			&schema.CreateTable{Table: "orders"},
		},
	}
	cleanup := &staging.Migration{
		AppLabel: "shop",
		Name:     "0002_cleanup",
		Operations: []staging.Operation{
			&schema.DropColumn{Table: "orders", Column: "legacy_id"},
		},
		Dependencies: []staging.MigrationRef{create.Ref()},
	}
	return staging.Plan{
		{Migration: create, Direction: staging.DirectionForward},
		{Migration: cleanup, Direction: staging.DirectionForward},
	}
}

func testDriver(t *testing.T, cfg Config, coord quorum.Coordinator, exec Executor, store history.Store) *Driver {
	t.Helper()
	driver, err := New(Options{
		Config:      cfg,
		Coordinator: coord,
		Executor:    exec,
		Stager:      staging.NewStager(staging.NewResolver(staging.ResolverConfig{})),
		Store:       store,
	})
	if err != nil {
		t.Fatalf("creating driver: %v", err)
	}
	return driver
}

func TestSingleAgentBothPhases(t *testing.T) {
	exec := &recordingExecutor{}
	store := newRecordingStore()
	driver := testDriver(t, Config{Database: "default", Quorum: 1}, testCoordinator(t), exec, store)

	plan := testPlan()
	ctx := context.Background()

	pre, err := driver.ApplyPreDeploy(ctx, plan)
	if err != nil {
		t.Fatalf("ApplyPreDeploy failed: %v", err)
	}
	if len(pre) != 1 || pre[0].Migration.Name != "0001_init" {
		t.Fatalf("pre-deploy prefix = %v", pre)
	}

	post, err := driver.ApplyPostDeploy(ctx, plan)
	if err != nil {
		t.Fatalf("ApplyPostDeploy failed: %v", err)
	}
	if len(post) != 1 || post[0].Migration.Name != "0002_cleanup" {
		t.Fatalf("post-deploy remainder = %v", post)
	}

	want := []string{"shop.0001_init", "shop.0002_cleanup"}
	got := exec.appliedRefs()
	if len(got) != len(want) {
		t.Fatalf("applied %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("applied[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	for _, status := range store.statuses() {
		if status != history.RunStatusSucceeded {
			t.Errorf("run status = %q, want succeeded", status)
		}
	}
}

func TestTwoAgentsRendezvous(t *testing.T) {
	coord := testCoordinator(t)
	cfg := Config{
		Database:     "default",
		Quorum:       2,
		PollInterval: 10 * time.Millisecond,
		WaitTimeout:  5 * time.Second,
	}
	plan := testPlan()

	execA := &recordingExecutor{}
	execB := &recordingExecutor{}
	driverA := testDriver(t, cfg, coord, execA, nil)
	driverB := testDriver(t, cfg, coord, execB, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, driver := range []*Driver{driverA, driverB} {
		wg.Add(1)
		go func(d *Driver) {
			defer wg.Done()
			if _, err := d.ApplyPreDeploy(ctx, plan); err != nil {
				errs <- err
			}
		}(driver)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("ApplyPreDeploy failed: %v", err)
	}

	for name, exec := range map[string]*recordingExecutor{"A": execA, "B": execB} {
		got := exec.appliedRefs()
		if len(got) != 1 || got[0] != "shop.0001_init" {
			t.Errorf("agent %s applied %v, want [shop.0001_init]", name, got)
		}
	}
}

func TestPostDeployFailureDissolvesPeers(t *testing.T) {
	coord := testCoordinator(t)
	cfg := Config{
		Database:     "default",
		Quorum:       2,
		PollInterval: 10 * time.Millisecond,
		WaitTimeout:  5 * time.Second,
	}
	plan := testPlan()

	healthy := testDriver(t, cfg, coord, &recordingExecutor{}, nil)
	brokenStore := newRecordingStore()
	broken := testDriver(t, cfg, coord, &recordingExecutor{failOn: "shop.0002_cleanup"}, brokenStore)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	healthyErr := make(chan error, 1)
	go func() {
		_, err := healthy.ApplyPostDeploy(ctx, plan)
		healthyErr <- err
	}()

	// The healthy agent applies its remainder and joins before the broken
	// agent severs the round.
	time.Sleep(100 * time.Millisecond)

	if _, err := broken.ApplyPostDeploy(ctx, plan); err == nil {
		t.Fatal("broken agent did not report its apply failure")
	}
	statuses := brokenStore.statuses()
	if len(statuses) != 1 || statuses[0] != history.RunStatusFailed {
		t.Errorf("broken run statuses = %v, want [failed]", statuses)
	}

	select {
	case err := <-healthyErr:
		if !errors.Is(err, quorum.ErrQuorumDissolved) {
			t.Errorf("healthy agent error = %v, want ErrQuorumDissolved", err)
		}
	case <-ctx.Done():
		t.Fatal("healthy agent never observed the dissolution")
	}
}

func TestPreDeployFailureDoesNotPoisonRetry(t *testing.T) {
	coord := testCoordinator(t)
	cfg := Config{
		Database:     "default",
		Quorum:       2,
		PollInterval: 10 * time.Millisecond,
		WaitTimeout:  5 * time.Second,
	}
	plan := testPlan()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// First round: the rendezvous completes, then one agent's apply fails.
	// The failure is local; the round's namespace has already drained and
	// must stay reusable.
	failing := testDriver(t, cfg, coord, &recordingExecutor{failOn: "shop.0001_init"}, nil)
	healthy := testDriver(t, cfg, coord, &recordingExecutor{}, nil)

	failingErr := make(chan error, 1)
	healthyErr := make(chan error, 1)
	go func() {
		_, err := failing.ApplyPreDeploy(ctx, plan)
		failingErr <- err
	}()
	go func() {
		_, err := healthy.ApplyPreDeploy(ctx, plan)
		healthyErr <- err
	}()

	if err := <-failingErr; err == nil {
		t.Fatal("failing agent did not report its apply failure")
	} else if errors.Is(err, quorum.ErrQuorumDissolved) {
		t.Fatalf("apply failure surfaced as dissolution: %v", err)
	}
	if err := <-healthyErr; err != nil {
		t.Fatalf("healthy agent failed in the first round: %v", err)
	}

	// Retry of the same plan derives the same namespace. Both agents must
	// rendezvous and apply; neither may observe a dissolution left over
	// from the failed round.
	retryErrs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		driver := testDriver(t, cfg, coord, &recordingExecutor{}, nil)
		go func(d *Driver) {
			_, err := d.ApplyPreDeploy(ctx, plan)
			retryErrs <- err
		}(driver)
	}
	for i := 0; i < 2; i++ {
		select {
		case err := <-retryErrs:
			if errors.Is(err, quorum.ErrQuorumDissolved) {
				t.Fatalf("retry round dissolved by the previous round: %v", err)
			}
			if err != nil {
				t.Fatalf("retry round failed: %v", err)
			}
		case <-ctx.Done():
			t.Fatal("retry round never completed")
		}
	}
}

func TestSeverRecordsRun(t *testing.T) {
	store := newRecordingStore()
	driver := testDriver(t, Config{Database: "default", Quorum: 2}, testCoordinator(t), &recordingExecutor{}, store)

	plan := testPlan()
	if err := driver.Sever(context.Background(), plan, quorum.PhasePreDeploy); err != nil {
		t.Fatalf("Sever failed: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.started) != 1 {
		t.Fatalf("got %d recorded runs, want 1", len(store.started))
	}
	run := store.started[0]
	if run.Phase != "pre" || run.PlanHash != staging.HashPlan(plan) {
		t.Errorf("severed run = %+v", run)
	}
	if status := store.finished[run.ID]; status != history.RunStatusSevered {
		t.Errorf("run status = %q, want %q", status, history.RunStatusSevered)
	}
}

func TestSeverDissolvesWaitingAgent(t *testing.T) {
	coord := testCoordinator(t)
	cfg := Config{
		Database:     "default",
		Quorum:       2,
		PollInterval: 10 * time.Millisecond,
		WaitTimeout:  5 * time.Second,
	}
	plan := testPlan()

	waiting := testDriver(t, cfg, coord, &recordingExecutor{}, nil)
	withdrawn := testDriver(t, cfg, coord, &recordingExecutor{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	waitingErr := make(chan error, 1)
	go func() {
		_, err := waiting.ApplyPreDeploy(ctx, plan)
		waitingErr <- err
	}()

	time.Sleep(100 * time.Millisecond)
	if err := withdrawn.Sever(ctx, plan, quorum.PhasePreDeploy); err != nil {
		t.Fatalf("Sever failed: %v", err)
	}

	select {
	case err := <-waitingErr:
		if !errors.Is(err, quorum.ErrQuorumDissolved) {
			t.Errorf("waiting agent error = %v, want ErrQuorumDissolved", err)
		}
	case <-ctx.Done():
		t.Fatal("waiting agent never observed the dissolution")
	}
}

func TestQuorumTimeout(t *testing.T) {
	cfg := Config{
		Database:     "default",
		Quorum:       2,
		PollInterval: 10 * time.Millisecond,
		WaitTimeout:  100 * time.Millisecond,
	}
	store := newRecordingStore()
	driver := testDriver(t, cfg, testCoordinator(t), &recordingExecutor{}, store)

	_, err := driver.ApplyPreDeploy(context.Background(), testPlan())
	if !errors.Is(err, ErrQuorumTimeout) {
		t.Fatalf("error = %v, want ErrQuorumTimeout", err)
	}
	statuses := store.statuses()
	if len(statuses) != 1 || statuses[0] != history.RunStatusTimedOut {
		t.Errorf("run statuses = %v, want [timed_out]", statuses)
	}
}

func TestAmbiguousPlanSurfacesBeforeRendezvous(t *testing.T) {
	dependent := &staging.Migration{
		AppLabel: "shop",
		Name:     "0003_backfill",
		Operations: []staging.Operation{
			&schema.AddColumn{Table: "orders", Column: "total"},
		},
		Dependencies: []staging.MigrationRef{{AppLabel: "shop", Name: "0002_cleanup"}},
	}
	plan := append(testPlan(), staging.PlanEntry{Migration: dependent, Direction: staging.DirectionForward})

	driver := testDriver(t, Config{Database: "default", Quorum: 1}, testCoordinator(t), &recordingExecutor{}, nil)
	_, err := driver.ApplyPreDeploy(context.Background(), plan)
	if !staging.IsAmbiguousPlan(err) {
		t.Fatalf("error = %v, want AmbiguousPlanError", err)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	coord := testCoordinator(t)
	exec := &recordingExecutor{}
	stager := staging.NewStager(staging.NewResolver(staging.ResolverConfig{}))

	tests := []struct {
		name string
		opts Options
	}{
		{"missing coordinator", Options{Config: Config{Database: "d", Quorum: 1}, Executor: exec, Stager: stager}},
		{"missing executor", Options{Config: Config{Database: "d", Quorum: 1}, Coordinator: coord, Stager: stager}},
		{"missing stager", Options{Config: Config{Database: "d", Quorum: 1}, Coordinator: coord, Executor: exec}},
		{"missing database", Options{Config: Config{Quorum: 1}, Coordinator: coord, Executor: exec, Stager: stager}},
		{"zero quorum", Options{Config: Config{Database: "d"}, Coordinator: coord, Executor: exec, Stager: stager}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
