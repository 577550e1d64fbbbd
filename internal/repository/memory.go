package repository

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"skillswap-backend/internal/models"

	"github.com/google/uuid"
)

// InMemoryStore is an in-memory implementation of Store. Records are kept by
// value so a failed transaction can restore the snapshot taken at begin.
type InMemoryStore struct {
	mu       sync.RWMutex
	users    map[string]models.User
	requests map[uuid.UUID]models.SwapRequest
	matches  map[uuid.UUID]models.Match
	invites  map[uuid.UUID]models.Invite

	// failNext makes the next write inside a transaction fail; tests use it
	// to exercise rollback
	failNext map[string]error
}

// NewInMemoryStore creates an empty in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    make(map[string]models.User),
		requests: make(map[uuid.UUID]models.SwapRequest),
		matches:  make(map[uuid.UUID]models.Match),
		invites:  make(map[uuid.UUID]models.Invite),
		failNext: make(map[string]error),
	}
}

func (s *InMemoryStore) Close() {}

// FailNext makes the next call of the named Tx operation return err
func (s *InMemoryStore) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = err
}

// InTx holds the write lock for the whole of fn, so transactions are
// serialisable. On error the maps are restored.
func (s *InMemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	requests := maps.Clone(s.requests)
	matches := maps.Clone(s.matches)
	invites := maps.Clone(s.invites)

	if err := fn(&memTx{s: s}); err != nil {
		s.requests = requests
		s.matches = matches
		s.invites = invites
		return err
	}
	return nil
}

// --- UserStore ---

func (s *InMemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("user '%s': %w", user.ID, ErrConflict)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = *user
	return nil
}

func (s *InMemoryStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUser(id)
}

func (s *InMemoryStore) getUser(id string) (*models.User, error) {
	user, exists := s.users[id]
	if !exists {
		return nil, fmt.Errorf("user '%s': %w", id, ErrNoRows)
	}
	return &user, nil
}

func (s *InMemoryStore) SearchUsers(ctx context.Context, filter UserFilter) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		user := u
		if filter.matches(&user) {
			users = append(users, &user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

// --- SwapStore ---

func (s *InMemoryStore) GetRequestByID(ctx context.Context, id uuid.UUID) (*models.SwapRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, exists := s.requests[id]
	if !exists {
		return nil, ErrNoRows
	}
	return &req, nil
}

func (s *InMemoryStore) ListRequestsByRecipient(ctx context.Context, recipientID string, status models.RequestStatus) ([]*models.SwapRequest, error) {
	return s.listRequests(func(r *models.SwapRequest) bool {
		return r.RecipientID == recipientID && r.Status == status
	}), nil
}

func (s *InMemoryStore) ListRequestsBySender(ctx context.Context, senderID string, status models.RequestStatus) ([]*models.SwapRequest, error) {
	return s.listRequests(func(r *models.SwapRequest) bool {
		return r.SenderID == senderID && r.Status == status
	}), nil
}

func (s *InMemoryStore) listRequests(keep func(*models.SwapRequest) bool) []*models.SwapRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	requests := []*models.SwapRequest{}
	for _, r := range s.requests {
		req := r
		if keep(&req) {
			requests = append(requests, &req)
		}
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].CreatedAt.After(requests[j].CreatedAt) })
	return requests
}

func (s *InMemoryStore) GetMatchByID(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	match, exists := s.matches[id]
	if !exists {
		return nil, ErrNoRows
	}
	return &match, nil
}

func (s *InMemoryStore) ListMatchesByUser(ctx context.Context, userID string) ([]*models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := []*models.Match{}
	for _, m := range s.matches {
		match := m
		if match.Involves(userID) {
			matches = append(matches, &match)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	return matches, nil
}

// --- InviteStore ---

func (s *InMemoryStore) SyncInviteStatus(ctx context.Context, requestID uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.failNext["SyncInviteStatus"]; ok {
		delete(s.failNext, "SyncInviteStatus")
		return err
	}

	invite, exists := s.invites[requestID]
	if !exists {
		return fmt.Errorf("invite for request %s: %w", requestID, ErrNoRows)
	}
	invite.Status = status
	invite.UpdatedAt = time.Now().UTC()
	s.invites[requestID] = invite
	return nil
}

func (s *InMemoryStore) GetInvitesByReceiver(ctx context.Context, receiverID, status string) ([]*models.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invites := []*models.Invite{}
	for _, i := range s.invites {
		invite := i
		if invite.ReceiverID == receiverID && (status == "" || invite.Status == status) {
			invites = append(invites, &invite)
		}
	}
	sort.Slice(invites, func(i, j int) bool { return invites[i].UpdatedAt.After(invites[j].UpdatedAt) })
	return invites, nil
}

// --- Tx ---

// memTx runs with s.mu held by InTx
type memTx struct {
	s *InMemoryStore
}

func (t *memTx) injected(op string) error {
	if err, ok := t.s.failNext[op]; ok {
		delete(t.s.failNext, op)
		return err
	}
	return nil
}

func (t *memTx) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return t.s.getUser(id)
}

func (t *memTx) CreateRequest(ctx context.Context, req *models.SwapRequest) error {
	if err := t.injected("CreateRequest"); err != nil {
		return err
	}
	if _, err := t.FindPendingRequest(ctx, req.SenderID, req.RecipientID); err == nil {
		return ErrConflict
	}
	t.s.requests[req.ID] = *req
	return nil
}

func (t *memTx) FindPendingRequest(ctx context.Context, senderID, recipientID string) (*models.SwapRequest, error) {
	for _, r := range t.s.requests {
		if r.SenderID == senderID && r.RecipientID == recipientID && r.Status == models.RequestPending {
			req := r
			return &req, nil
		}
	}
	return nil, ErrNoRows
}

func (t *memTx) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*models.SwapRequest, error) {
	req, exists := t.s.requests[id]
	if !exists {
		return nil, ErrNoRows
	}
	return &req, nil
}

func (t *memTx) TransitionRequest(ctx context.Context, id uuid.UUID, from, to models.RequestStatus, at time.Time) error {
	if err := t.injected("TransitionRequest"); err != nil {
		return err
	}
	req, exists := t.s.requests[id]
	if !exists || req.Status != from {
		return ErrNoRows
	}
	req.Status = to
	req.UpdatedAt = at
	t.s.requests[id] = req
	return nil
}

func (t *memTx) CreateMatch(ctx context.Context, match *models.Match) error {
	if err := t.injected("CreateMatch"); err != nil {
		return err
	}
	if _, err := t.GetMatchByTriple(ctx, match.SenderID, match.RecipientID, match.SenderSkill); err == nil {
		return ErrConflict
	}
	if match.Status == models.MatchActive {
		if _, err := t.GetActiveMatchByPair(ctx, match.SenderID, match.RecipientID); err == nil {
			return ErrConflict
		}
	}
	t.s.matches[match.ID] = *match
	return nil
}

func (t *memTx) GetMatchByTriple(ctx context.Context, senderID, recipientID, senderSkill string) (*models.Match, error) {
	for _, m := range t.s.matches {
		if m.SenderID == senderID && m.RecipientID == recipientID && m.SenderSkill == senderSkill {
			match := m
			return &match, nil
		}
	}
	return nil, ErrNoRows
}

func (t *memTx) GetActiveMatchByPair(ctx context.Context, a, b string) (*models.Match, error) {
	for _, m := range t.s.matches {
		if m.Status == models.MatchActive && m.Involves(a) && m.Involves(b) {
			match := m
			return &match, nil
		}
	}
	return nil, ErrNoRows
}

func (t *memTx) GetMatchByRequestID(ctx context.Context, requestID uuid.UUID) (*models.Match, error) {
	for _, m := range t.s.matches {
		if m.RequestID == requestID {
			match := m
			return &match, nil
		}
	}
	return nil, ErrNoRows
}

func (t *memTx) GetMatchForUpdate(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	match, exists := t.s.matches[id]
	if !exists {
		return nil, ErrNoRows
	}
	return &match, nil
}

func (t *memTx) UpdateMatch(ctx context.Context, match *models.Match) error {
	if err := t.injected("UpdateMatch"); err != nil {
		return err
	}
	if _, exists := t.s.matches[match.ID]; !exists {
		return ErrNoRows
	}
	t.s.matches[match.ID] = *match
	return nil
}

func (t *memTx) CreateInvite(ctx context.Context, invite *models.Invite) error {
	if err := t.injected("CreateInvite"); err != nil {
		return err
	}
	t.s.invites[invite.RequestID] = *invite
	return nil
}
