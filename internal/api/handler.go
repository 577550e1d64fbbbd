package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"skillswap-backend/internal/auth"
	"skillswap-backend/internal/notify"
	"skillswap-backend/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// Error kinds carried in the error envelope
const (
	kindValidation       = "ValidationError"
	kindInvalidParty     = "InvalidParty"
	kindDuplicatePending = "DuplicatePending"
	kindNotFound         = "NotFound"
	kindTransaction      = "TransactionFailure"
	kindUnauthorized     = "Unauthorized"
	kindForbidden        = "Forbidden"
)

// Handler holds the dependencies of the HTTP handlers
type Handler struct {
	matchingService *service.MatchingService
	queryService    *service.QueryService
	userService     *service.UserService
	tokenService    *auth.TokenService
	hub             *notify.Hub
	validate        *validator.Validate
	options         Options
}

// Options configures the router
type Options struct {
	// AuthRequired rejects requests without a valid bearer token
	AuthRequired   bool
	AllowedOrigins []string
}

// NewHandler creates a Handler. tokenSvc may be nil when tokens are not in
// use; hub may be nil to disable the event channel.
func NewHandler(
	matchingSvc *service.MatchingService,
	querySvc *service.QueryService,
	userSvc *service.UserService,
	tokenSvc *auth.TokenService,
	hub *notify.Hub,
	opts Options,
) *Handler {
	return &Handler{
		matchingService: matchingSvc,
		queryService:    querySvc,
		userService:     userSvc,
		tokenService:    tokenSvc,
		hub:             hub,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		options:         opts,
	}
}

// === Response helpers ===

func (h *Handler) respondWithError(w http.ResponseWriter, code int, kind, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"kind":    kind,
			"message": message,
		},
	})
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to encode response: %v", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":500,"kind":"TransactionFailure","message":"failed to encode response"}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithServiceError maps a service error to its status code
func (h *Handler) respondWithServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		h.respondWithError(w, http.StatusBadRequest, kindValidation, err.Error())
	case errors.Is(err, service.ErrInvalidParty):
		h.respondWithError(w, http.StatusBadRequest, kindInvalidParty, err.Error())
	case errors.Is(err, service.ErrDuplicatePending):
		h.respondWithError(w, http.StatusBadRequest, kindDuplicatePending, err.Error())
	case errors.Is(err, service.ErrNotFound):
		h.respondWithError(w, http.StatusNotFound, kindNotFound, "not found")
	default:
		log.Printf("Internal error: %v", err)
		h.respondWithError(w, http.StatusInternalServerError, kindTransaction, "internal error, nothing was changed")
	}
}

// decodeJSON reads exactly one JSON object into v and validates it
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON payload: trailing data")
	}
	return h.validate.Struct(v)
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s is not a valid id", name)
	}
	return id, nil
}

// === Matching handlers ===

// handleCreateRequest (POST /matches/request)
func (h *Handler) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var req service.NewRequest
	actor := actorID(r)
	if err := h.decodeJSON(w, r, &req); err != nil {
		// the sender may be implied by the token
		var verrs validator.ValidationErrors
		if !(actor != "" && errors.As(err, &verrs) && req.SenderID == "" && onlySenderMissing(verrs)) {
			h.respondWithError(w, http.StatusBadRequest, kindValidation, err.Error())
			return
		}
		req.SenderID = actor
	}
	if actor != "" && req.SenderID != actor {
		h.respondWithError(w, http.StatusForbidden, kindForbidden, "senderId must be the authenticated user")
		return
	}

	created, err := h.matchingService.CreateRequest(r.Context(), req)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"requestId": created.ID,
		"status":    created.Status,
	})
}

func onlySenderMissing(verrs validator.ValidationErrors) bool {
	for _, fe := range verrs {
		if fe.Field() != "SenderID" {
			return false
		}
	}
	return len(verrs) > 0
}

// AcceptResponse is the body of a successful accept
type AcceptResponse struct {
	MatchID         uuid.UUID       `json:"matchId"`
	AlreadyMatched  bool            `json:"alreadyMatched"`
	RevealedContact service.Contact `json:"revealedContact"`
}

// handleAccept (POST /matches/accept/{requestId})
func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "requestId")
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, kindValidation, err.Error())
		return
	}

	result, err := h.matchingService.Accept(r.Context(), id, actorID(r))
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, AcceptResponse{
		MatchID:         result.Match.ID,
		AlreadyMatched:  result.AlreadyMatched,
		RevealedContact: result.Contact,
	})
}

// handleReject (POST /matches/reject/{requestId})
func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, h.matchingService.Reject, "declined")
}

// handleWithdraw (POST /matches/withdraw/{requestId})
func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, h.matchingService.Withdraw, "withdrawn")
}

type decisionFunc func(ctx context.Context, requestID uuid.UUID, actorID string) error

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request, decide decisionFunc, status string) {
	id, err := uuidParam(r, "requestId")
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, kindValidation, err.Error())
		return
	}

	if err := decide(r.Context(), id, actorID(r)); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"requestId": id,
		"status":    status,
	})
}

type progressRequest struct {
	SessionsCompleted *int   `json:"sessionsCompleted" validate:"required,gte=0"`
	Feedback          string `json:"feedback,omitempty" validate:"max=2000"`
}

// handleUpdateProgress (PUT /matches/progress/{matchId})
func (h *Handler) handleUpdateProgress(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "matchId")
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, kindValidation, err.Error())
		return
	}

	var req progressRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, kindValidation, err.Error())
		return
	}

	match, err := h.matchingService.UpdateProgress(r.Context(), id, service.ProgressUpdate{
		SessionsCompleted: *req.SessionsCompleted,
		Feedback:          req.Feedback,
	}, actorID(r))
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"match": match})
}

// handleComplete (POST /matches/complete/{matchId})
func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "matchId")
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, kindValidation, err.Error())
		return
	}

	match, err := h.matchingService.CompleteMatch(r.Context(), id, actorID(r))
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"match": match})
}

// handleDashboard (GET /matches?userId=)
func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subjectUser(w, r)
	if !ok {
		return
	}

	dashboard, err := h.queryService.Dashboard(r.Context(), userID)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, dashboard)
}

// handleListPendingInvites (GET /invites/pending?userId=)
func (h *Handler) handleListPendingInvites(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subjectUser(w, r)
	if !ok {
		return
	}

	invites, err := h.queryService.ListPendingInvites(r.Context(), userID)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, invites)
}

// subjectUser resolves the userId query parameter against the caller
func (h *Handler) subjectUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.URL.Query().Get("userId")
	actor := actorID(r)
	if userID == "" {
		userID = actor
	}
	if userID == "" {
		h.respondWithError(w, http.StatusBadRequest, kindValidation, "userId is required")
		return "", false
	}
	if actor != "" && userID != actor {
		h.respondWithError(w, http.StatusForbidden, kindForbidden, "userId must be the authenticated user")
		return "", false
	}
	return userID, true
}

// === Directory handlers ===

// UserResponse is the public view of a directory user
type UserResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Skill             string `json:"skill"`
	Location          string `json:"location"`
	TimeAvailability  string `json:"timeAvailability"`
	YearsOfExperience int    `json:"yearsOfExperience"`
}

// handleGetAllUsers (GET /users?skill=&location=&timeAvailability=)
func (h *Handler) handleGetAllUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := h.userService.SearchUsers(r.Context(), service.UserFilter{
		Skill:            q.Get("skill"),
		Location:         q.Get("location"),
		TimeAvailability: q.Get("timeAvailability"),
	})
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	response := make([]UserResponse, 0, len(users))
	for _, u := range users {
		response = append(response, UserResponse{
			ID:                u.ID,
			Name:              u.Name,
			Skill:             u.Skill,
			Location:          u.Location,
			TimeAvailability:  u.TimeAvailability,
			YearsOfExperience: u.YearsOfExperience,
		})
	}
	h.respondWithJSON(w, http.StatusOK, response)
}

// === Event channel ===

// handleWebSocket (GET /ws?userId=)
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, kindTransaction, "event channel disabled")
		return
	}

	userID, ok := h.subjectUser(w, r)
	if !ok {
		return
	}
	if _, err := h.userService.GetUserByID(r.Context(), userID); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.hub.ServeWS(w, r, userID)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
