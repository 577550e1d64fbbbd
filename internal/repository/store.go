package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"skillswap-backend/internal/models"

	"github.com/google/uuid"
)

var (
	// ErrNoRows is returned when a lookup or a guarded update matches nothing
	ErrNoRows = errors.New("record not found")
	// ErrConflict is returned when an insert hits a unique constraint
	ErrConflict = errors.New("unique constraint violated")
)

// UserFilter narrows a directory search. Skill and TimeAvailability match
// substrings, Location the whole value, all ignoring case. Empty fields match
// everything.
type UserFilter struct {
	Skill            string
	Location         string
	TimeAvailability string
}

// UserStore is the read side of the user directory plus seeding
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	// SearchUsers lists the users passing filter, ordered by name
	SearchUsers(ctx context.Context, filter UserFilter) ([]*models.User, error)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// where renders the filter as SQL conditions. like is the case-insensitive
// pattern operator and placeholder numbers the bind parameters.
func (f UserFilter) where(like string, placeholder func(n int) string) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(format, value string) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(format, placeholder(len(args))))
	}
	if f.Skill != "" {
		add("skill "+like+" %s ESCAPE '\\'", "%"+likeEscaper.Replace(f.Skill)+"%")
	}
	if f.Location != "" {
		add("lower(location) = lower(%s)", f.Location)
	}
	if f.TimeAvailability != "" {
		add("time_availability "+like+" %s ESCAPE '\\'", "%"+likeEscaper.Replace(f.TimeAvailability)+"%")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (f UserFilter) matches(u *models.User) bool {
	contains := func(s, sub string) bool {
		return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
	}
	if f.Skill != "" && !contains(u.Skill, f.Skill) {
		return false
	}
	if f.Location != "" && !strings.EqualFold(u.Location, f.Location) {
		return false
	}
	if f.TimeAvailability != "" && !contains(u.TimeAvailability, f.TimeAvailability) {
		return false
	}
	return true
}

// Tx is the store bound to a single transaction. Every mutation of the
// matching workflow goes through one.
type Tx interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// CreateRequest returns ErrConflict when a pending request already
	// exists for the same ordered pair.
	CreateRequest(ctx context.Context, req *models.SwapRequest) error
	FindPendingRequest(ctx context.Context, senderID, recipientID string) (*models.SwapRequest, error)
	// GetRequestForUpdate locks the row until the transaction ends.
	GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*models.SwapRequest, error)
	// TransitionRequest moves a request from one status to another and
	// returns ErrNoRows if the row is not in the expected status.
	TransitionRequest(ctx context.Context, id uuid.UUID, from, to models.RequestStatus, at time.Time) error

	// CreateMatch returns ErrConflict when a match for the same
	// (sender, recipient, skill) triple exists or when the two users already
	// share an active match. The transaction stays usable.
	CreateMatch(ctx context.Context, match *models.Match) error
	GetMatchByTriple(ctx context.Context, senderID, recipientID, senderSkill string) (*models.Match, error)
	// GetActiveMatchByPair finds the active match between a and b in either
	// direction.
	GetActiveMatchByPair(ctx context.Context, a, b string) (*models.Match, error)
	GetMatchByRequestID(ctx context.Context, requestID uuid.UUID) (*models.Match, error)
	GetMatchForUpdate(ctx context.Context, id uuid.UUID) (*models.Match, error)
	UpdateMatch(ctx context.Context, match *models.Match) error

	CreateInvite(ctx context.Context, invite *models.Invite) error
}

// SwapStore holds swap requests and matches
type SwapStore interface {
	// InTx runs fn inside a transaction. It commits when fn returns nil and
	// rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetRequestByID(ctx context.Context, id uuid.UUID) (*models.SwapRequest, error)
	ListRequestsByRecipient(ctx context.Context, recipientID string, status models.RequestStatus) ([]*models.SwapRequest, error)
	ListRequestsBySender(ctx context.Context, senderID string, status models.RequestStatus) ([]*models.SwapRequest, error)

	GetMatchByID(ctx context.Context, id uuid.UUID) (*models.Match, error)
	ListMatchesByUser(ctx context.Context, userID string) ([]*models.Match, error)
}

// InviteStore is the legacy invite mirror
type InviteStore interface {
	SyncInviteStatus(ctx context.Context, requestID uuid.UUID, status string) error
	// GetInvitesByReceiver lists the invites of a receiver, most recently
	// updated first. An empty status matches every invite.
	GetInvitesByReceiver(ctx context.Context, receiverID, status string) ([]*models.Invite, error)
}

// Store aggregates every store interface for dependency injection
type Store interface {
	UserStore
	SwapStore
	InviteStore
	Close()
}
