package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"skillswap-backend/internal/models"
	"skillswap-backend/internal/notify"
	"skillswap-backend/internal/repository"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

var (
	requestsCreated   = metrics.NewCounter(`swap_requests_total{outcome="created"}`)
	requestsAccepted  = metrics.NewCounter(`swap_requests_total{outcome="accepted"}`)
	requestsDeclined  = metrics.NewCounter(`swap_requests_total{outcome="declined"}`)
	requestsWithdrawn = metrics.NewCounter(`swap_requests_total{outcome="withdrawn"}`)
	matchesCreated    = metrics.NewCounter("matches_created_total")
	inviteSyncErrors  = metrics.NewCounter("invite_sync_errors_total")
)

// defaultLocation is used for matches whose sender has no location
const defaultLocation = "Online"

// Notifier pushes an event to the live sessions of a user
type Notifier interface {
	Publish(userID string, ev notify.Event) error
}

// MatchingService runs the swap request workflow. Every mutation is a single
// store transaction bounded by the configured timeout.
type MatchingService struct {
	store    repository.Store
	notifier Notifier
	timeout  time.Duration
	now      func() time.Time
}

// NewMatchingService creates the service. notifier may be nil.
func NewMatchingService(store repository.Store, notifier Notifier, timeout time.Duration) *MatchingService {
	return &MatchingService{
		store:    store,
		notifier: notifier,
		timeout:  timeout,
		now:      time.Now,
	}
}

// NewRequest holds the parameters of a swap request
type NewRequest struct {
	SenderID         string `json:"senderId" validate:"required,max=128"`
	RecipientID      string `json:"recipientId" validate:"required,max=128"`
	SenderSkill      string `json:"senderSkill" validate:"required,max=100"`
	RequestedSkill   string `json:"requestedSkill" validate:"required,max=100"`
	TimeAvailability string `json:"timeAvailability" validate:"required,max=100"`
	Message          string `json:"message,omitempty" validate:"max=1000"`
}

// Contact is revealed to both parties once a request is accepted
type Contact struct {
	SenderEmail    string `json:"senderEmail"`
	RecipientEmail string `json:"recipientEmail"`
}

// AcceptResult is the outcome of Accept
type AcceptResult struct {
	Match          *models.Match
	AlreadyMatched bool
	Contact        Contact
}

// ProgressUpdate overwrites the session counter of a match
type ProgressUpdate struct {
	SessionsCompleted int
	Feedback          string
}

func (s *MatchingService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// CreateRequest stores a pending request and notifies the recipient
func (s *MatchingService) CreateRequest(ctx context.Context, in NewRequest) (*models.SwapRequest, error) {
	in.SenderID = strings.TrimSpace(in.SenderID)
	in.RecipientID = strings.TrimSpace(in.RecipientID)
	if in.SenderID == "" || in.RecipientID == "" || in.SenderSkill == "" || in.RequestedSkill == "" {
		return nil, fmt.Errorf("%w: sender, recipient and both skills are required", ErrValidation)
	}
	if in.SenderID == in.RecipientID {
		return nil, fmt.Errorf("%w: cannot send a swap request to yourself", ErrValidation)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now().UTC()
	req := &models.SwapRequest{
		ID:               uuid.New(),
		SenderID:         in.SenderID,
		RecipientID:      in.RecipientID,
		SenderSkill:      in.SenderSkill,
		RequestedSkill:   in.RequestedSkill,
		TimeAvailability: in.TimeAvailability,
		Message:          in.Message,
		Status:           models.RequestPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var sender *models.User
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		if sender, err = lookupParty(ctx, tx, "sender", in.SenderID); err != nil {
			return err
		}
		if _, err = lookupParty(ctx, tx, "recipient", in.RecipientID); err != nil {
			return err
		}

		_, err = tx.FindPendingRequest(ctx, in.SenderID, in.RecipientID)
		if err == nil {
			return fmt.Errorf("%w: %s already has a pending request to %s", ErrDuplicatePending, in.SenderID, in.RecipientID)
		}
		if !errors.Is(err, repository.ErrNoRows) {
			return err
		}

		if err := tx.CreateRequest(ctx, req); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: %s already has a pending request to %s", ErrDuplicatePending, in.SenderID, in.RecipientID)
			}
			return err
		}

		return tx.CreateInvite(ctx, &models.Invite{
			RequestID:        req.ID,
			SenderID:         req.SenderID,
			ReceiverID:       req.RecipientID,
			TimeAvailability: req.TimeAvailability,
			Status:           models.InviteStatusPending,
			UpdatedAt:        now,
		})
	})
	if err != nil {
		return nil, txFailure("create request", err)
	}

	requestsCreated.Inc()
	s.notifyNewRequest(sender, req)
	return req, nil
}

// Accept confirms a pending request and returns its match. Accepting a
// request that is already accepted returns the same match again.
func (s *MatchingService) Accept(ctx context.Context, requestID uuid.UUID, actorID string) (*AcceptResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		result       AcceptResult
		created      bool
		transitioned bool
	)
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		result = AcceptResult{}
		created, transitioned = false, false

		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if actorID != "" && actorID != req.RecipientID {
			return fmt.Errorf("request %s: %w", requestID, ErrNotFound)
		}

		sender, err := lookupParty(ctx, tx, "sender", req.SenderID)
		if err != nil {
			return err
		}
		recipient, err := lookupParty(ctx, tx, "recipient", req.RecipientID)
		if err != nil {
			return err
		}
		result.Contact = Contact{SenderEmail: sender.Email, RecipientEmail: recipient.Email}

		switch {
		case req.Status == models.RequestAccepted:
			result.Match, err = acceptedMatch(ctx, tx, req)
			result.AlreadyMatched = true
			return err
		case req.Status.Terminal():
			return fmt.Errorf("request %s is %s: %w", requestID, req.Status, ErrNotFound)
		}

		existing, err := existingMatch(ctx, tx, req)
		switch {
		case err == nil:
			result.Match = existing
			result.AlreadyMatched = true
		case errors.Is(err, repository.ErrNoRows):
			match := newMatch(req, sender, s.now().UTC())
			if err := tx.CreateMatch(ctx, match); err != nil {
				if !errors.Is(err, repository.ErrConflict) {
					return err
				}
				// lost the race to a concurrent accept between the same users
				if match, err = existingMatch(ctx, tx, req); err != nil {
					return err
				}
				result.AlreadyMatched = true
			} else {
				created = true
			}
			result.Match = match
		default:
			return err
		}

		if err := tx.TransitionRequest(ctx, req.ID, models.RequestPending, models.RequestAccepted, s.now().UTC()); err != nil {
			return err
		}
		transitioned = true
		return nil
	})
	if err != nil {
		return nil, txFailure("accept request", err)
	}

	if created {
		matchesCreated.Inc()
	}
	if transitioned {
		requestsAccepted.Inc()
		s.syncInvite(ctx, requestID, models.InviteStatusAccepted)
	}
	return &result, nil
}

// existingMatch finds a match that makes a new one for req redundant: the
// active match between the two users, or an earlier match of the same triple.
func existingMatch(ctx context.Context, tx repository.Tx, req *models.SwapRequest) (*models.Match, error) {
	match, err := tx.GetActiveMatchByPair(ctx, req.SenderID, req.RecipientID)
	if errors.Is(err, repository.ErrNoRows) {
		return tx.GetMatchByTriple(ctx, req.SenderID, req.RecipientID, req.SenderSkill)
	}
	return match, err
}

// acceptedMatch finds the match of a request accepted earlier. A request
// accepted through an existing match has none of its own.
func acceptedMatch(ctx context.Context, tx repository.Tx, req *models.SwapRequest) (*models.Match, error) {
	match, err := tx.GetMatchByRequestID(ctx, req.ID)
	if errors.Is(err, repository.ErrNoRows) {
		return existingMatch(ctx, tx, req)
	}
	return match, err
}

func newMatch(req *models.SwapRequest, sender *models.User, now time.Time) *models.Match {
	location := sender.Location
	if location == "" {
		location = defaultLocation
	}
	return &models.Match{
		ID:               uuid.New(),
		RequestID:        req.ID,
		SenderID:         req.SenderID,
		RecipientID:      req.RecipientID,
		SenderSkill:      req.SenderSkill,
		RequestedSkill:   req.RequestedSkill,
		Location:         location,
		TimeAvailability: req.TimeAvailability,
		Status:           models.MatchActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Reject declines a pending request. Only the recipient may reject.
func (s *MatchingService) Reject(ctx context.Context, requestID uuid.UUID, actorID string) error {
	if err := s.decide(ctx, requestID, actorID, models.RequestDeclined); err != nil {
		return txFailure("reject request", err)
	}
	requestsDeclined.Inc()
	s.syncInvite(ctx, requestID, models.InviteStatusRejected)
	return nil
}

// Withdraw cancels a pending request. Only the sender may withdraw.
func (s *MatchingService) Withdraw(ctx context.Context, requestID uuid.UUID, actorID string) error {
	if err := s.decide(ctx, requestID, actorID, models.RequestWithdrawn); err != nil {
		return txFailure("withdraw request", err)
	}
	requestsWithdrawn.Inc()
	s.syncInvite(ctx, requestID, models.InviteStatusWithdrawn)
	return nil
}

func (s *MatchingService) decide(ctx context.Context, requestID uuid.UUID, actorID string, to models.RequestStatus) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.store.InTx(ctx, func(tx repository.Tx) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}

		party := req.RecipientID
		if to == models.RequestWithdrawn {
			party = req.SenderID
		}
		if actorID != "" && actorID != party {
			return fmt.Errorf("request %s: %w", requestID, ErrNotFound)
		}
		if req.Status.Terminal() {
			return fmt.Errorf("request %s is %s: %w", requestID, req.Status, ErrNotFound)
		}

		return tx.TransitionRequest(ctx, req.ID, models.RequestPending, to, s.now().UTC())
	})
}

// UpdateProgress overwrites the number of completed sessions of an active
// match. Any non-negative count is accepted.
func (s *MatchingService) UpdateProgress(ctx context.Context, matchID uuid.UUID, update ProgressUpdate, actorID string) (*models.Match, error) {
	if update.SessionsCompleted < 0 {
		return nil, fmt.Errorf("%w: sessionsCompleted must not be negative", ErrValidation)
	}
	if update.Feedback != "" && actorID == "" {
		return nil, fmt.Errorf("%w: feedback needs an authenticated party", ErrValidation)
	}

	return s.mutateMatch(ctx, "update progress", matchID, actorID, func(match *models.Match) {
		match.SessionsCompleted = update.SessionsCompleted
		if update.Feedback == "" {
			return
		}
		if actorID == match.SenderID {
			match.SenderFeedback = update.Feedback
		} else {
			match.RecipientFeedback = update.Feedback
		}
	})
}

// CompleteMatch closes an active match
func (s *MatchingService) CompleteMatch(ctx context.Context, matchID uuid.UUID, actorID string) (*models.Match, error) {
	return s.mutateMatch(ctx, "complete match", matchID, actorID, func(match *models.Match) {
		match.Status = models.MatchCompleted
	})
}

func (s *MatchingService) mutateMatch(ctx context.Context, op string, matchID uuid.UUID, actorID string, apply func(*models.Match)) (*models.Match, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var match *models.Match
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		match, err = tx.GetMatchForUpdate(ctx, matchID)
		if err != nil {
			return err
		}
		if actorID != "" && !match.Involves(actorID) {
			return fmt.Errorf("match %s: %w", matchID, ErrNotFound)
		}
		if match.Status != models.MatchActive {
			return fmt.Errorf("match %s is %s: %w", matchID, match.Status, ErrNotFound)
		}

		apply(match)
		match.UpdatedAt = s.now().UTC()
		return tx.UpdateMatch(ctx, match)
	})
	if err != nil {
		return nil, txFailure(op, err)
	}
	return match, nil
}

func lookupParty(ctx context.Context, tx repository.Tx, role, id string) (*models.User, error) {
	user, err := tx.GetUserByID(ctx, id)
	if errors.Is(err, repository.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s '%s' does not exist", ErrInvalidParty, role, id)
	}
	return user, err
}

// syncInvite updates the invite mirror after the decision has committed. A
// failure leaves the mirror stale but never fails the decision.
func (s *MatchingService) syncInvite(ctx context.Context, requestID uuid.UUID, status string) {
	ctx, cancel := s.withTimeout(context.WithoutCancel(ctx))
	defer cancel()

	if err := s.store.SyncInviteStatus(ctx, requestID, status); err != nil {
		inviteSyncErrors.Inc()
		log.Printf("Invite sync for request %s to '%s' failed: %v", requestID, status, err)
	}
}

func (s *MatchingService) notifyNewRequest(sender *models.User, req *models.SwapRequest) {
	if s.notifier == nil {
		return
	}

	ev, err := notify.NewEvent(notify.EventNewRequest, notify.NewRequestPayload{
		RequestID:      req.ID,
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		SenderSkill:    req.SenderSkill,
		RequestedSkill: req.RequestedSkill,
	}, s.now())
	if err != nil {
		log.Printf("Failed to build new_request event for %s: %v", req.ID, err)
		return
	}

	if err := s.notifier.Publish(req.RecipientID, ev); err != nil {
		log.Printf("new_request for %s not delivered to %s: %v", req.ID, req.RecipientID, err)
	}
}
