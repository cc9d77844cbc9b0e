package quorum

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestCoordinator(t *testing.T) *CounterCoordinator {
	t.Helper()
	coordinator, err := NewCounterCoordinator(CounterCoordinatorConfig{
		Counter: NewMemoryCounter(),
	})
	if err != nil {
		t.Fatalf("NewCounterCoordinator failed: %v", err)
	}
	return coordinator
}

func TestCounterCoordinatorConfigValidation(t *testing.T) {
	if _, err := NewCounterCoordinator(CounterCoordinatorConfig{}); err == nil {
		t.Error("expected error for missing counter store")
	}
	if _, err := NewCounterCoordinator(CounterCoordinatorConfig{
		Counter: NewMemoryCounter(),
		TTL:     -time.Second,
	}); err == nil {
		t.Error("expected error for negative TTL")
	}
}

func TestJoinSingleWinner(t *testing.T) {
	ctx := context.Background()
	coordinator := newTestCoordinator(t)

	const quorum = 5
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < quorum; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := coordinator.Join(ctx, "pre:default:abc", quorum)
			if err != nil {
				t.Errorf("Join failed: %v", err)
				return
			}
			if won {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("got %d winners, want exactly 1", winners)
	}
}

func TestPollDrainsAndClearsNamespace(t *testing.T) {
	ctx := context.Background()
	counter := NewMemoryCounter()
	coordinator, err := NewCounterCoordinator(CounterCoordinatorConfig{Counter: counter})
	if err != nil {
		t.Fatalf("NewCounterCoordinator failed: %v", err)
	}

	const (
		namespace = "pre:default:abc"
		quorum    = 3
	)
	var winners int
	for i := 0; i < quorum; i++ {
		won, err := coordinator.Join(ctx, namespace, quorum)
		if err != nil {
			t.Fatalf("Join failed: %v", err)
		}
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("got %d winners, want 1", winners)
	}

	// Both non-winning joiners observe success.
	for i := 0; i < quorum-1; i++ {
		reached, err := coordinator.Poll(ctx, namespace, quorum)
		if err != nil {
			t.Fatalf("Poll failed: %v", err)
		}
		if !reached {
			t.Fatal("Poll returned false after quorum was reached")
		}
	}

	// The last acknowledgment cleared the namespace.
	if _, ok, _ := counter.Get(ctx, coordinator.countKey(namespace)); ok {
		t.Error("count key still present after full drain")
	}
	if _, ok, _ := counter.Get(ctx, coordinator.drainKey(namespace)); ok {
		t.Error("drain key still present after full drain")
	}

	// A fresh round on the same namespace behaves as new.
	won, err := coordinator.Join(ctx, namespace, quorum)
	if err != nil {
		t.Fatalf("Join on reused namespace failed: %v", err)
	}
	if won {
		t.Error("first Join of a fresh round reported quorum")
	}
	reached, err := coordinator.Poll(ctx, namespace, quorum)
	if err != nil {
		t.Fatalf("Poll on reused namespace failed: %v", err)
	}
	if reached {
		t.Error("Poll reported quorum after a single Join of a fresh round")
	}
}

func TestPollBeforeQuorum(t *testing.T) {
	ctx := context.Background()
	coordinator := newTestCoordinator(t)

	if _, err := coordinator.Join(ctx, "pre:default:abc", 3); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	reached, err := coordinator.Poll(ctx, "pre:default:abc", 3)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if reached {
		t.Error("Poll reported quorum after a single Join of three")
	}
}

func TestQuorumOfOneSelfClears(t *testing.T) {
	ctx := context.Background()
	counter := NewMemoryCounter()
	coordinator, err := NewCounterCoordinator(CounterCoordinatorConfig{Counter: counter})
	if err != nil {
		t.Fatalf("NewCounterCoordinator failed: %v", err)
	}

	for round := 0; round < 2; round++ {
		won, err := coordinator.Join(ctx, "post:default:abc", 1)
		if err != nil {
			t.Fatalf("round %d: Join failed: %v", round, err)
		}
		if !won {
			t.Fatalf("round %d: sole participant did not win", round)
		}
	}
	if _, ok, _ := counter.Get(ctx, coordinator.countKey("post:default:abc")); ok {
		t.Error("count key leaked after quorum of one")
	}
}

func TestSeverDissolvesPollers(t *testing.T) {
	ctx := context.Background()
	coordinator := newTestCoordinator(t)

	const (
		namespace = "pre:default:abc"
		quorum    = 3
	)
	// Two agents join, the third severs instead.
	for i := 0; i < quorum-1; i++ {
		won, err := coordinator.Join(ctx, namespace, quorum)
		if err != nil {
			t.Fatalf("Join failed: %v", err)
		}
		if won {
			t.Fatal("Join reported quorum despite missing participant")
		}
	}
	if err := coordinator.Sever(ctx, namespace, quorum); err != nil {
		t.Fatalf("Sever failed: %v", err)
	}

	for i := 0; i < quorum-1; i++ {
		reached, err := coordinator.Poll(ctx, namespace, quorum)
		if reached {
			t.Fatal("Poll reported success after sever")
		}
		if !errors.Is(err, ErrQuorumDissolved) {
			t.Fatalf("expected ErrQuorumDissolved, got %v", err)
		}
	}

	// Dissolution acknowledgments drained the namespace; a fresh round works.
	won, err := coordinator.Join(ctx, namespace, quorum)
	if err != nil {
		t.Fatalf("Join on reused namespace failed: %v", err)
	}
	if won {
		t.Error("first Join of a fresh round reported quorum")
	}
}

func TestJoinRejectsInvalidQuorum(t *testing.T) {
	ctx := context.Background()
	coordinator := newTestCoordinator(t)

	if _, err := coordinator.Join(ctx, "pre:default:abc", 0); err == nil {
		t.Error("expected error for quorum of zero")
	}
	if err := coordinator.Sever(ctx, "pre:default:abc", -1); err == nil {
		t.Error("expected error for negative quorum")
	}
}

func TestPhaseNamespace(t *testing.T) {
	got := PhaseNamespace(PhasePreDeploy, "default", "deadbeef")
	if want := "pre:default:deadbeef"; got != want {
		t.Errorf("PhaseNamespace = %q, want %q", got, want)
	}
	post := PhaseNamespace(PhasePostDeploy, "default", "deadbeef")
	if post == got {
		t.Error("pre and post phases derived the same namespace")
	}
}

func TestMemoryCounterTTL(t *testing.T) {
	ctx := context.Background()
	counter := NewMemoryCounter()
	base := time.Now()
	counter.now = func() time.Time { return base }

	if err := counter.AddIfAbsent(ctx, "k", 7, time.Minute); err != nil {
		t.Fatalf("AddIfAbsent failed: %v", err)
	}
	if value, ok, _ := counter.Get(ctx, "k"); !ok || value != 7 {
		t.Fatalf("Get = (%d, %v), want (7, true)", value, ok)
	}

	counter.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok, _ := counter.Get(ctx, "k"); ok {
		t.Error("key survived past its TTL")
	}
	// Re-creating after expiry takes the new initial value.
	if err := counter.AddIfAbsent(ctx, "k", 3, time.Minute); err != nil {
		t.Fatalf("AddIfAbsent failed: %v", err)
	}
	if value, ok, _ := counter.Get(ctx, "k"); !ok || value != 3 {
		t.Errorf("Get = (%d, %v), want (3, true)", value, ok)
	}
}
