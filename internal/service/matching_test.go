package service

import (
	"context"
	"sync"
	"testing"

	"skillswap-backend/internal/models"
	"skillswap-backend/internal/notify"
	"skillswap-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRequest(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		in := guitarForSpanish("u1", "u2")
		in.Message = "Happy to swap on Saturdays"

		req, err := env.matching.CreateRequest(ctx, in)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, req.ID)
		assert.Equal(t, models.RequestPending, req.Status)

		stored, err := env.store.GetRequestByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, "Happy to swap on Saturdays", stored.Message)

		invites, err := env.store.GetInvitesByReceiver(ctx, "u2", "")
		require.NoError(t, err)
		require.Len(t, invites, 1)
		assert.Equal(t, req.ID, invites[0].RequestID)
		assert.Equal(t, models.InviteStatusPending, invites[0].Status)

		events := env.notifier.For("u2")
		require.Len(t, events, 1)
		assert.Equal(t, notify.EventNewRequest, events[0].Type)
		var p notify.NewRequestPayload
		require.NoError(t, events[0].DecodePayload(&p))
		assert.Equal(t, req.ID, p.RequestID)
		assert.Equal(t, "Alice Johnson", p.SenderName)
		assert.Empty(t, env.notifier.For("u1"))
	})
}

func TestCreateRequest_Rejections(t *testing.T) {
	env, _ := newMemoryEnv(t)
	ctx := context.Background()

	_, err := env.matching.CreateRequest(ctx, guitarForSpanish("u1", "ghost"))
	assert.ErrorIs(t, err, ErrInvalidParty)

	_, err = env.matching.CreateRequest(ctx, guitarForSpanish("ghost", "u2"))
	assert.ErrorIs(t, err, ErrInvalidParty)

	_, err = env.matching.CreateRequest(ctx, guitarForSpanish("u1", "u1"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.matching.CreateRequest(ctx, NewRequest{SenderID: "u1", RecipientID: "u2"})
	assert.ErrorIs(t, err, ErrValidation)

	env.mustCreate(t, guitarForSpanish("u1", "u2"))
	_, err = env.matching.CreateRequest(ctx, guitarForSpanish("u1", "u2"))
	assert.ErrorIs(t, err, ErrDuplicatePending)

	assert.Len(t, env.notifier.For("u2"), 1, "rejected calls publish nothing")
}

func TestCreateRequest_NotificationFailureIsNotFatal(t *testing.T) {
	env, _ := newMemoryEnv(t)
	env.notifier.err = notify.ErrChannelUnavailable

	req, err := env.matching.CreateRequest(context.Background(), guitarForSpanish("u1", "u2"))
	require.NoError(t, err)

	incoming, err := env.query.ListIncoming(context.Background(), "u2")
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, req.ID, incoming[0].RequestID)
}

func TestCreateRequest_ConcurrentDuplicates(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		const callers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			dupes     int
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.matching.CreateRequest(context.Background(), guitarForSpanish("u1", "u2"))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case assert.ErrorIs(t, err, ErrDuplicatePending):
					dupes++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		assert.Equal(t, callers-1, dupes)
	})
}

func TestAccept(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		req := env.mustCreate(t, guitarForSpanish("u1", "u2"))

		res, err := env.matching.Accept(ctx, req.ID, "u2")
		require.NoError(t, err)
		assert.False(t, res.AlreadyMatched)
		assert.Equal(t, Contact{SenderEmail: "alice@example.com", RecipientEmail: "bruno@example.com"}, res.Contact)

		m := res.Match
		assert.Equal(t, req.ID, m.RequestID)
		assert.Equal(t, "Guitar", m.SenderSkill)
		assert.Equal(t, "Spanish", m.RequestedSkill)
		assert.Equal(t, "Lisbon", m.Location)
		assert.Equal(t, "Weekends", m.TimeAvailability)
		assert.Zero(t, m.SessionsCompleted)
		assert.Equal(t, models.MatchActive, m.Status)

		stored, err := env.store.GetRequestByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RequestAccepted, stored.Status)

		invites, err := env.store.GetInvitesByReceiver(ctx, "u2", "")
		require.NoError(t, err)
		assert.Equal(t, models.InviteStatusAccepted, invites[0].Status)

		// accepting again returns the same match
		again, err := env.matching.Accept(ctx, req.ID, "u2")
		require.NoError(t, err)
		assert.True(t, again.AlreadyMatched)
		assert.Equal(t, m.ID, again.Match.ID)
		assert.Equal(t, res.Contact, again.Contact)

		matches, err := env.store.ListMatchesByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, matches, 1)
	})
}

func TestAccept_DefaultLocation(t *testing.T) {
	env, _ := newMemoryEnv(t)
	res := env.mustAccept(t, NewRequest{
		SenderID:         "u3",
		RecipientID:      "u1",
		SenderSkill:      "Python",
		RequestedSkill:   "Guitar",
		TimeAvailability: "Weekdays",
	})
	assert.Equal(t, "Online", res.Match.Location)
}

func TestAccept_ExistingTripleShortCircuits(t *testing.T) {
	env, _ := newMemoryEnv(t)
	ctx := context.Background()
	first := env.mustAccept(t, guitarForSpanish("u1", "u2"))

	// same pair and skill again: no second match
	second := env.mustCreate(t, guitarForSpanish("u1", "u2"))
	res, err := env.matching.Accept(ctx, second.ID, "")
	require.NoError(t, err)
	assert.True(t, res.AlreadyMatched)
	assert.Equal(t, first.Match.ID, res.Match.ID)

	stored, err := env.store.GetRequestByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, stored.Status)

	// and accepting that request again still finds the shared match
	again, err := env.matching.Accept(ctx, second.ID, "")
	require.NoError(t, err)
	assert.Equal(t, first.Match.ID, again.Match.ID)

	matches, err := env.store.ListMatchesByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestAccept_Concurrent(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		req := env.mustCreate(t, guitarForSpanish("u1", "u2"))

		const callers = 8
		results := make([]*AcceptResult, callers)
		errs := make([]error, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = env.matching.Accept(ctx, req.ID, "")
			}(i)
		}
		wg.Wait()

		fresh := 0
		for i := range results {
			require.NoError(t, errs[i])
			if !results[i].AlreadyMatched {
				fresh++
			}
			assert.Equal(t, results[0].Match.ID, results[i].Match.ID)
		}
		assert.Equal(t, 1, fresh)

		matches, err := env.store.ListMatchesByUser(ctx, "u2")
		require.NoError(t, err)
		assert.Len(t, matches, 1)
	})
}

func TestAccept_RollsBackOnFailure(t *testing.T) {
	env, store := newMemoryEnv(t)
	ctx := context.Background()
	req := env.mustCreate(t, guitarForSpanish("u1", "u2"))

	// the match insert succeeds, the status flip fails
	store.FailNext("TransitionRequest", errBoom)
	_, err := env.matching.Accept(ctx, req.ID, "")
	require.ErrorIs(t, err, ErrTransactionFailure)
	require.ErrorIs(t, err, errBoom)

	matches, err := store.ListMatchesByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, matches)
	stored, err := store.GetRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, stored.Status)

	// nothing is left half-done, so a retry works
	res, err := env.matching.Accept(ctx, req.ID, "")
	require.NoError(t, err)
	assert.False(t, res.AlreadyMatched)
}

func TestCreateRequest_RollsBackOnInviteFailure(t *testing.T) {
	env, store := newMemoryEnv(t)
	ctx := context.Background()

	store.FailNext("CreateInvite", errBoom)
	_, err := env.matching.CreateRequest(ctx, guitarForSpanish("u1", "u2"))
	require.ErrorIs(t, err, ErrTransactionFailure)

	incoming, err := env.query.ListIncoming(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, incoming)
	assert.Empty(t, env.notifier.For("u2"))
}

func TestDecisionsRequirePending(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		req := env.mustCreate(t, guitarForSpanish("u1", "u2"))
		require.NoError(t, env.matching.Reject(ctx, req.ID, "u2"))

		_, err := env.matching.Accept(ctx, req.ID, "")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, env.matching.Reject(ctx, req.ID, ""), ErrNotFound)
		assert.ErrorIs(t, env.matching.Withdraw(ctx, req.ID, ""), ErrNotFound)

		stored, err := env.store.GetRequestByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RequestDeclined, stored.Status)
		matches, err := env.store.ListMatchesByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, matches)

		unknown := uuid.New()
		_, err = env.matching.Accept(ctx, unknown, "")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, env.matching.Reject(ctx, unknown, ""), ErrNotFound)
		assert.ErrorIs(t, env.matching.Withdraw(ctx, unknown, ""), ErrNotFound)
	})
}

func TestDecisionsCheckTheActor(t *testing.T) {
	env, _ := newMemoryEnv(t)
	ctx := context.Background()
	req := env.mustCreate(t, guitarForSpanish("u1", "u2"))

	_, err := env.matching.Accept(ctx, req.ID, "u1")
	assert.ErrorIs(t, err, ErrNotFound, "the sender cannot accept")
	assert.ErrorIs(t, env.matching.Reject(ctx, req.ID, "u3"), ErrNotFound)
	assert.ErrorIs(t, env.matching.Withdraw(ctx, req.ID, "u2"), ErrNotFound, "the recipient cannot withdraw")

	require.NoError(t, env.matching.Withdraw(ctx, req.ID, "u1"))
	stored, err := env.store.GetRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestWithdrawn, stored.Status)
}

func TestReject_InviteSyncFailureIsNotFatal(t *testing.T) {
	env, store := newMemoryEnv(t)
	ctx := context.Background()
	req := env.mustCreate(t, guitarForSpanish("u1", "u2"))

	store.FailNext("SyncInviteStatus", errBoom)
	require.NoError(t, env.matching.Reject(ctx, req.ID, ""))

	stored, err := store.GetRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestDeclined, stored.Status)

	invites, err := store.GetInvitesByReceiver(ctx, "u2", "")
	require.NoError(t, err)
	assert.Equal(t, models.InviteStatusPending, invites[0].Status, "mirror stays stale")
}

func TestWithdraw_SyncsInvite(t *testing.T) {
	env, store := newMemoryEnv(t)
	ctx := context.Background()
	req := env.mustCreate(t, guitarForSpanish("u1", "u2"))

	require.NoError(t, env.matching.Withdraw(ctx, req.ID, ""))
	invites, err := store.GetInvitesByReceiver(ctx, "u2", "")
	require.NoError(t, err)
	assert.Equal(t, models.InviteStatusWithdrawn, invites[0].Status)

	// the pair can start over
	env.mustCreate(t, guitarForSpanish("u1", "u2"))
}

func TestUpdateProgress(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		res := env.mustAccept(t, guitarForSpanish("u1", "u2"))
		other := env.mustAccept(t, NewRequest{
			SenderID: "u3", RecipientID: "u1", SenderSkill: "Python", RequestedSkill: "Guitar", TimeAvailability: "Weekdays",
		})

		m, err := env.matching.UpdateProgress(ctx, res.Match.ID, ProgressUpdate{SessionsCompleted: 3}, "")
		require.NoError(t, err)
		assert.Equal(t, 3, m.SessionsCompleted)

		// overwrite, not increment; lower values are accepted
		m, err = env.matching.UpdateProgress(ctx, res.Match.ID, ProgressUpdate{SessionsCompleted: 1, Feedback: "patient tutor"}, "u2")
		require.NoError(t, err)
		assert.Equal(t, 1, m.SessionsCompleted)
		assert.Equal(t, "patient tutor", m.RecipientFeedback)
		assert.Empty(t, m.SenderFeedback)

		m, err = env.matching.UpdateProgress(ctx, res.Match.ID, ProgressUpdate{SessionsCompleted: 2, Feedback: "great student"}, "u1")
		require.NoError(t, err)
		assert.Equal(t, "great student", m.SenderFeedback)
		assert.Equal(t, "patient tutor", m.RecipientFeedback)

		views, err := env.query.ListMatches(ctx, "u2")
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, 2, views[0].SessionsCompleted)

		untouched, err := env.store.GetMatchByID(ctx, other.Match.ID)
		require.NoError(t, err)
		assert.Zero(t, untouched.SessionsCompleted)
	})
}

func TestUpdateProgress_Rejections(t *testing.T) {
	env, _ := newMemoryEnv(t)
	ctx := context.Background()
	res := env.mustAccept(t, guitarForSpanish("u1", "u2"))

	_, err := env.matching.UpdateProgress(ctx, res.Match.ID, ProgressUpdate{SessionsCompleted: -1}, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.matching.UpdateProgress(ctx, res.Match.ID, ProgressUpdate{SessionsCompleted: 1, Feedback: "anon"}, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.matching.UpdateProgress(ctx, res.Match.ID, ProgressUpdate{SessionsCompleted: 1}, "u3")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.matching.UpdateProgress(ctx, uuid.New(), ProgressUpdate{SessionsCompleted: 1}, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteMatch(t *testing.T) {
	env, _ := newMemoryEnv(t)
	ctx := context.Background()
	res := env.mustAccept(t, guitarForSpanish("u1", "u2"))

	_, err := env.matching.CompleteMatch(ctx, res.Match.ID, "u3")
	assert.ErrorIs(t, err, ErrNotFound)

	m, err := env.matching.CompleteMatch(ctx, res.Match.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchCompleted, m.Status)

	_, err = env.matching.CompleteMatch(ctx, res.Match.ID, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.matching.UpdateProgress(ctx, res.Match.ID, ProgressUpdate{SessionsCompleted: 5}, "")
	assert.ErrorIs(t, err, ErrNotFound, "completed matches are frozen")
}

func TestTxFailure(t *testing.T) {
	assert.ErrorIs(t, txFailure("op", repository.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, txFailure("op", ErrDuplicatePending), ErrDuplicatePending)

	err := txFailure("op", errBoom)
	assert.ErrorIs(t, err, ErrTransactionFailure)
	assert.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, ErrNotFound)
}
