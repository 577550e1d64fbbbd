package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"skillswap-backend/internal/models"
	"skillswap-backend/internal/notify"
	"skillswap-backend/internal/repository"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// recordingNotifier keeps every published event
type recordingNotifier struct {
	mu     sync.Mutex
	events map[string][]notify.Event
	err    error
}

func (n *recordingNotifier) Publish(userID string, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.events == nil {
		n.events = make(map[string][]notify.Event)
	}
	n.events[userID] = append(n.events[userID], ev)
	return n.err
}

func (n *recordingNotifier) For(userID string) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events[userID]...)
}

// fakeClock advances one second per reading so orderings are deterministic
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type testEnv struct {
	store    repository.Store
	matching *MatchingService
	query    *QueryService
	notifier *recordingNotifier
}

var directory = []models.User{
	{ID: "u1", Name: "Alice Johnson", Email: "alice@example.com", Skill: "Guitar", Location: "Lisbon"},
	{ID: "u2", Name: "Bruno Costa", Email: "bruno@example.com", Skill: "Spanish", Location: "Porto"},
	{ID: "u3", Name: "Chen Wei", Email: "chen@example.com", Skill: "Python"},
}

func newTestEnv(t *testing.T, store repository.Store) *testEnv {
	t.Helper()
	ctx := context.Background()
	for i := range directory {
		u := directory[i]
		require.NoError(t, store.CreateUser(ctx, &u))
	}

	notifier := &recordingNotifier{}
	matching := NewMatchingService(store, notifier, 5*time.Second)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	matching.now = clock.Now

	return &testEnv{
		store:    store,
		matching: matching,
		query:    NewQueryService(store),
		notifier: notifier,
	}
}

func newMemoryEnv(t *testing.T) (*testEnv, *repository.InMemoryStore) {
	store := repository.NewInMemoryStore()
	return newTestEnv(t, store), store
}

// forEachStore runs fn against the in-memory and SQLite stores
func forEachStore(t *testing.T, fn func(t *testing.T, env *testEnv)) {
	t.Run("memory", func(t *testing.T) {
		env, _ := newMemoryEnv(t)
		fn(t, env)
	})
	t.Run("sqlite", func(t *testing.T) {
		store, err := repository.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "swap.db"))
		require.NoError(t, err)
		t.Cleanup(store.Close)
		fn(t, newTestEnv(t, store))
	})
}

func guitarForSpanish(sender, recipient string) NewRequest {
	return NewRequest{
		SenderID:         sender,
		RecipientID:      recipient,
		SenderSkill:      "Guitar",
		RequestedSkill:   "Spanish",
		TimeAvailability: "Weekends",
	}
}

func (e *testEnv) mustCreate(t *testing.T, in NewRequest) *models.SwapRequest {
	t.Helper()
	req, err := e.matching.CreateRequest(context.Background(), in)
	require.NoError(t, err)
	return req
}

func (e *testEnv) mustAccept(t *testing.T, in NewRequest) *AcceptResult {
	t.Helper()
	req := e.mustCreate(t, in)
	res, err := e.matching.Accept(context.Background(), req.ID, "")
	require.NoError(t, err)
	return res
}
