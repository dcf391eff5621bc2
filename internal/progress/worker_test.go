package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tag-server/internal/achievement"
	"tag-server/internal/protocol"
	"tag-server/internal/store"
)

type sent struct {
	connID string
	env    protocol.Envelope
}

type mockNotifier struct {
	mu       sync.Mutex
	messages []sent
}

func (m *mockNotifier) SendTo(connID string, env protocol.Envelope) {
	m.mu.Lock()
	m.messages = append(m.messages, sent{connID, env})
	m.mu.Unlock()
}

func (m *mockNotifier) unlocksFor(connID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, s := range m.messages {
		if s.connID != connID || s.env.T != protocol.MsgAchievementUnlocked {
			continue
		}
		ids = append(ids, s.env.Data.(protocol.AchievementUnlockedMsg).Achievement)
	}
	return ids
}

// flakyStore commits IncrementItTime but reports failure for the first n calls
type flakyStore struct {
	store.Store
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakyStore) IncrementItTime(ctx context.Context, eventID, account string, seconds float64) (float64, error) {
	total, err := f.Store.IncrementItTime(ctx, eventID, account, seconds)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return 0, errors.New("timeout")
	}
	return total, err
}

func newTestWorker(st store.Store, n Notifier) *Worker {
	w := NewWorker(st, n, zap.NewNop().Sugar())
	w.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return w
}

func streak(holder, holderConn string, elapsed time.Duration, tagger *Participant) StreakEnd {
	return StreakEnd{
		EventID: uuid.NewString(),
		Holder:  Participant{holder, holderConn},
		Elapsed: elapsed,
		Tagger:  tagger,
		At:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestStreakPersistsTimeAndTag(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	n := &mockNotifier{}
	w := newTestWorker(st, n)

	w.StreakEnded(streak("alice", "ca", 5*time.Second, &Participant{"bob", "cb"}))
	w.Stop()

	a, err := st.GetStats(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if a.ItSeconds != 5 || a.BestStreak != 5 {
		t.Errorf("expected 5s it and best 5, got %+v", a)
	}
	b, err := st.GetStats(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if b.TagCount != 1 {
		t.Errorf("expected bob tag count 1, got %d", b.TagCount)
	}
	if ids := n.unlocksFor("cb"); len(ids) != 1 || ids[0] != achievement.FirstTag {
		t.Errorf("expected first_tag for bob, got %v", ids)
	}
	if ids := n.unlocksFor("ca"); len(ids) != 0 {
		t.Errorf("alice should not be notified, got %v", ids)
	}
}

func TestDisconnectStreakNoTagCount(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	n := &mockNotifier{}
	w := newTestWorker(st, n)

	w.StreakEnded(streak("alice", "ca", 3*time.Second, nil))
	w.Stop()

	a, _ := st.GetStats(ctx, "alice")
	if a.TagCount != 0 || a.ItSeconds != 3 {
		t.Errorf("unexpected stats %+v", a)
	}
	if len(n.messages) != 0 {
		t.Errorf("expected no notifications, got %d", len(n.messages))
	}
}

func TestFirstTagNotifiedOnce(t *testing.T) {
	st := store.NewMemory()
	n := &mockNotifier{}
	w := newTestWorker(st, n)

	bob := &Participant{"bob", "cb"}
	w.StreakEnded(streak("alice", "ca", time.Second, bob))
	w.StreakEnded(streak("carol", "cc", time.Second, bob))
	w.Stop()

	if ids := n.unlocksFor("cb"); len(ids) != 1 {
		t.Errorf("expected one first_tag notification, got %v", ids)
	}
}

func TestThresholdCrossing(t *testing.T) {
	st := store.NewMemory()
	n := &mockNotifier{}
	w := newTestWorker(st, n)

	w.StreakEnded(streak("alice", "ca", 9*time.Minute, nil))
	w.StreakEnded(streak("alice", "ca", 2*time.Minute, nil)) // crosses 10m
	w.StreakEnded(streak("alice", "ca", 2*time.Minute, nil)) // already past
	w.StreakEnded(streak("alice", "ca", time.Hour, nil))     // crosses 1h
	w.Stop()

	ids := n.unlocksFor("ca")
	if len(ids) != 2 || ids[0] != achievement.It10m || ids[1] != achievement.It1h {
		t.Errorf("expected [it_10m it_1h], got %v", ids)
	}
	got, _ := st.GetAchievements(context.Background(), "alice")
	if len(got) != 2 {
		t.Errorf("expected 2 stored achievements, got %v", got)
	}
}

func TestBestStreakKeepsMax(t *testing.T) {
	st := store.NewMemory()
	w := newTestWorker(st, &mockNotifier{})

	w.StreakEnded(streak("alice", "ca", 40*time.Second, nil))
	w.StreakEnded(streak("alice", "ca", 10*time.Second, nil))
	w.Stop()

	a, _ := st.GetStats(context.Background(), "alice")
	if a.BestStreak != 40 {
		t.Errorf("expected best 40, got %v", a.BestStreak)
	}
	if a.ItSeconds != 50 {
		t.Errorf("expected total 50, got %v", a.ItSeconds)
	}
}

func TestRetryIsIdempotent(t *testing.T) {
	mem := store.NewMemory()
	st := &flakyStore{Store: mem, fails: 2}
	w := newTestWorker(st, &mockNotifier{})

	w.StreakEnded(streak("alice", "ca", 7*time.Second, nil))
	w.Stop()

	if st.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", st.calls)
	}
	a, _ := mem.GetStats(context.Background(), "alice")
	if a.ItSeconds != 7 {
		t.Errorf("retried increment applied more than once: %v", a.ItSeconds)
	}
}

func TestRetryGivesUp(t *testing.T) {
	mem := store.NewMemory()
	st := &flakyStore{Store: mem, fails: 100}
	n := &mockNotifier{}
	w := newTestWorker(st, n)

	w.StreakEnded(streak("alice", "ca", time.Hour, nil))
	w.Stop()

	if st.calls != maxAttempts {
		t.Errorf("expected %d attempts, got %d", maxAttempts, st.calls)
	}
	// with the new total unknown no threshold can be judged
	if ids := n.unlocksFor("ca"); len(ids) != 0 {
		t.Errorf("expected no unlocks, got %v", ids)
	}
}

func TestSendAchievements(t *testing.T) {
	st := store.NewMemory()
	at := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	st.UnlockAchievement(context.Background(), "alice", achievement.FirstTag, at)
	n := &mockNotifier{}
	w := newTestWorker(st, n)

	w.SendAchievements("alice", "ca")
	w.Stop()

	if len(n.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(n.messages))
	}
	m := n.messages[0]
	if m.connID != "ca" || m.env.T != protocol.MsgAchievementsUpdate {
		t.Fatalf("unexpected message %+v", m)
	}
	upd := m.env.Data.(protocol.AchievementsUpdateMsg)
	if !upd.Achievements[achievement.FirstTag].Unlocked {
		t.Error("expected first_tag unlocked")
	}
	if upd.Achievements[achievement.It10m].Unlocked {
		t.Error("expected it_10m locked")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	w := newTestWorker(store.NewMemory(), &mockNotifier{})
	w.Stop()
	w.Stop()
	// jobs after stop are dropped without panicking
	w.StreakEnded(streak("alice", "ca", time.Second, nil))
}

func TestEnqueueDuringStop(t *testing.T) {
	n := &mockNotifier{}
	w := newTestWorker(store.NewMemory(), n)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				w.SendAchievements("alice", "ca")
			}
		}()
	}
	w.Stop()
	wg.Wait()

	// nothing is handled once Stop has returned
	n.mu.Lock()
	handled := len(n.messages)
	n.mu.Unlock()
	w.SendAchievements("alice", "ca")
	time.Sleep(20 * time.Millisecond)
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) != handled {
		t.Errorf("expected %d messages after stop, got %d", handled, len(n.messages))
	}
}
