package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"skillswap-backend/internal/models"
	"skillswap-backend/internal/repository"

	"github.com/google/uuid"
)

// QueryService serves the read side of the workflow
type QueryService struct {
	store repository.Store
}

func NewQueryService(store repository.Store) *QueryService {
	return &QueryService{store: store}
}

// RequestView is a pending request with the name of the other party
type RequestView struct {
	RequestID        uuid.UUID `json:"requestId"`
	SenderID         string    `json:"senderId"`
	RecipientID      string    `json:"recipientId"`
	PartnerName      string    `json:"partnerName"`
	SenderSkill      string    `json:"senderSkill"`
	RequestedSkill   string    `json:"requestedSkill"`
	TimeAvailability string    `json:"timeAvailability"`
	Message          string    `json:"message,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// MatchView is a match seen from one of its parties
type MatchView struct {
	MatchID           uuid.UUID          `json:"matchId"`
	PartnerID         string             `json:"partnerId"`
	PartnerName       string             `json:"partnerName"`
	PartnerSkill      string             `json:"partnerSkill"`
	PartnerEmail      string             `json:"partnerEmail"`
	YourSkill         string             `json:"yourSkill"`
	Location          string             `json:"location"`
	TimeAvailability  string             `json:"timeAvailability"`
	SessionsCompleted int                `json:"sessionsCompleted"`
	YourFeedback      string             `json:"yourFeedback,omitempty"`
	PartnerFeedback   string             `json:"partnerFeedback,omitempty"`
	Status            models.MatchStatus `json:"status"`
	CreatedAt         time.Time          `json:"createdAt"`
}

// InviteView is a pending invite with the sender's name and skill
type InviteView struct {
	RequestID        uuid.UUID `json:"requestId"`
	SenderID         string    `json:"senderId"`
	SenderName       string    `json:"senderName"`
	SenderSkill      string    `json:"senderSkill"`
	TimeAvailability string    `json:"timeAvailability"`
	Status           string    `json:"status"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Dashboard is everything a user sees on the matches page
type Dashboard struct {
	Incoming []RequestView `json:"incoming"`
	Outgoing []RequestView `json:"outgoing"`
	Matches  []MatchView   `json:"matches"`
}

// ListIncoming returns the pending requests addressed to userID, newest first
func (s *QueryService) ListIncoming(ctx context.Context, userID string) ([]RequestView, error) {
	if _, err := s.resolve(ctx, userID); err != nil {
		return nil, err
	}
	return s.listIncoming(ctx, userID)
}

// ListOutgoing returns the pending requests sent by userID, newest first
func (s *QueryService) ListOutgoing(ctx context.Context, userID string) ([]RequestView, error) {
	if _, err := s.resolve(ctx, userID); err != nil {
		return nil, err
	}
	return s.listOutgoing(ctx, userID)
}

// ListMatches returns one match per partner of userID. The active match wins,
// otherwise the earliest one.
func (s *QueryService) ListMatches(ctx context.Context, userID string) ([]MatchView, error) {
	if _, err := s.resolve(ctx, userID); err != nil {
		return nil, err
	}
	return s.listMatches(ctx, userID)
}

// ListPendingInvites reads the invite mirror of userID
func (s *QueryService) ListPendingInvites(ctx context.Context, userID string) ([]InviteView, error) {
	if _, err := s.resolve(ctx, userID); err != nil {
		return nil, err
	}

	invites, err := s.store.GetInvitesByReceiver(ctx, userID, models.InviteStatusPending)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}

	users := s.nameCache(ctx)
	views := make([]InviteView, 0, len(invites))
	for _, i := range invites {
		sender := users(i.SenderID)
		views = append(views, InviteView{
			RequestID:        i.RequestID,
			SenderID:         i.SenderID,
			SenderName:       sender.Name,
			SenderSkill:      sender.Skill,
			TimeAvailability: i.TimeAvailability,
			Status:           i.Status,
			UpdatedAt:        i.UpdatedAt,
		})
	}
	return views, nil
}

// Dashboard combines the three lists
func (s *QueryService) Dashboard(ctx context.Context, userID string) (*Dashboard, error) {
	if _, err := s.resolve(ctx, userID); err != nil {
		return nil, err
	}

	incoming, err := s.listIncoming(ctx, userID)
	if err != nil {
		return nil, err
	}
	outgoing, err := s.listOutgoing(ctx, userID)
	if err != nil {
		return nil, err
	}
	matches, err := s.listMatches(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Dashboard{Incoming: incoming, Outgoing: outgoing, Matches: matches}, nil
}

func (s *QueryService) resolve(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, repository.ErrNoRows) {
		return nil, fmt.Errorf("%w: user '%s' does not exist", ErrInvalidParty, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *QueryService) listIncoming(ctx context.Context, userID string) ([]RequestView, error) {
	requests, err := s.store.ListRequestsByRecipient(ctx, userID, models.RequestPending)
	if err != nil {
		return nil, fmt.Errorf("list incoming requests: %w", err)
	}
	return s.requestViews(ctx, requests, func(r *models.SwapRequest) string { return r.SenderID }), nil
}

func (s *QueryService) listOutgoing(ctx context.Context, userID string) ([]RequestView, error) {
	requests, err := s.store.ListRequestsBySender(ctx, userID, models.RequestPending)
	if err != nil {
		return nil, fmt.Errorf("list outgoing requests: %w", err)
	}
	return s.requestViews(ctx, requests, func(r *models.SwapRequest) string { return r.RecipientID }), nil
}

func (s *QueryService) requestViews(ctx context.Context, requests []*models.SwapRequest, partnerOf func(*models.SwapRequest) string) []RequestView {
	names := s.nameCache(ctx)
	views := make([]RequestView, 0, len(requests))
	for _, r := range requests {
		views = append(views, RequestView{
			RequestID:        r.ID,
			SenderID:         r.SenderID,
			RecipientID:      r.RecipientID,
			PartnerName:      names(partnerOf(r)).Name,
			SenderSkill:      r.SenderSkill,
			RequestedSkill:   r.RequestedSkill,
			TimeAvailability: r.TimeAvailability,
			Message:          r.Message,
			CreatedAt:        r.CreatedAt,
		})
	}
	return views
}

func (s *QueryService) listMatches(ctx context.Context, userID string) ([]MatchView, error) {
	matches, err := s.store.ListMatchesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}

	users := s.nameCache(ctx)
	slot := make(map[string]int, len(matches))
	views := make([]MatchView, 0, len(matches))
	// matches come oldest first
	for _, m := range matches {
		partnerID := m.Counterparty(userID)
		i, seen := slot[partnerID]
		if seen && (views[i].Status == models.MatchActive || m.Status != models.MatchActive) {
			continue
		}

		partner := users(partnerID)
		view := MatchView{
			MatchID:           m.ID,
			PartnerID:         partnerID,
			PartnerName:       partner.Name,
			PartnerEmail:      partner.Email,
			Location:          m.Location,
			TimeAvailability:  m.TimeAvailability,
			SessionsCompleted: m.SessionsCompleted,
			Status:            m.Status,
			CreatedAt:         m.CreatedAt,
		}
		if m.SenderID == userID {
			view.YourSkill, view.PartnerSkill = m.SenderSkill, m.RequestedSkill
			view.YourFeedback, view.PartnerFeedback = m.SenderFeedback, m.RecipientFeedback
		} else {
			view.YourSkill, view.PartnerSkill = m.RequestedSkill, m.SenderSkill
			view.YourFeedback, view.PartnerFeedback = m.RecipientFeedback, m.SenderFeedback
		}
		if seen {
			views[i] = view
			continue
		}
		slot[partnerID] = len(views)
		views = append(views, view)
	}
	return views, nil
}

// nameCache memoizes directory lookups for one read. A missing user yields
// an empty record rather than failing the whole list.
func (s *QueryService) nameCache(ctx context.Context) func(id string) models.User {
	cache := make(map[string]models.User)
	return func(id string) models.User {
		if u, ok := cache[id]; ok {
			return u
		}
		var user models.User
		if u, err := s.store.GetUserByID(ctx, id); err == nil {
			user = *u
		} else {
			log.Printf("Directory lookup for '%s' failed: %v", id, err)
		}
		cache[id] = user
		return user
	}
}
