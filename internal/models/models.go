package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the state of a swap request
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestDeclined  RequestStatus = "declined"
	RequestWithdrawn RequestStatus = "withdrawn"
)

// Terminal reports whether no further transition is allowed
func (s RequestStatus) Terminal() bool {
	return s != RequestPending
}

// MatchStatus is the state of a confirmed match
type MatchStatus string

const (
	MatchActive    MatchStatus = "active"
	MatchCompleted MatchStatus = "completed"
)

// InviteStatus values of the legacy invite mirror
const (
	InviteStatusPending   = "pending"
	InviteStatusAccepted  = "accepted"
	InviteStatusRejected  = "rejected"
	InviteStatusWithdrawn = "withdrawn"
)

// User is a record of the user directory. The matching core only reads it.
type User struct {
	ID                string    `json:"id" yaml:"id"`
	Name              string    `json:"name" yaml:"name"`
	Email             string    `json:"-" yaml:"email"` // revealed only through a match
	Skill             string    `json:"skill" yaml:"skill"`
	Location          string    `json:"location" yaml:"location"`
	TimeAvailability  string    `json:"timeAvailability" yaml:"timeAvailability"`
	YearsOfExperience int       `json:"yearsOfExperience" yaml:"yearsOfExperience"`
	CreatedAt         time.Time `json:"createdAt" yaml:"-"`
}

// SwapRequest is an offer from one user to exchange skills with another
type SwapRequest struct {
	ID               uuid.UUID     `json:"id"`
	SenderID         string        `json:"senderId"`
	RecipientID      string        `json:"recipientId"`
	SenderSkill      string        `json:"senderSkill"`
	RequestedSkill   string        `json:"requestedSkill"`
	TimeAvailability string        `json:"timeAvailability"`
	Message          string        `json:"message,omitempty"`
	Status           RequestStatus `json:"status"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Match is the durable record of an accepted swap request
type Match struct {
	ID                uuid.UUID   `json:"id"`
	RequestID         uuid.UUID   `json:"requestId"`
	SenderID          string      `json:"senderId"`
	RecipientID       string      `json:"recipientId"`
	SenderSkill       string      `json:"senderSkill"`
	RequestedSkill    string      `json:"requestedSkill"`
	Location          string      `json:"location"`
	TimeAvailability  string      `json:"timeAvailability"`
	SessionsCompleted int         `json:"sessionsCompleted"`
	SenderFeedback    string      `json:"senderFeedback,omitempty"`
	RecipientFeedback string      `json:"recipientFeedback,omitempty"`
	Status            MatchStatus `json:"status"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// Involves reports whether userID is one of the two parties
func (m *Match) Involves(userID string) bool {
	return m.SenderID == userID || m.RecipientID == userID
}

// Counterparty returns the other party of the match
func (m *Match) Counterparty(userID string) string {
	if m.SenderID == userID {
		return m.RecipientID
	}
	return m.SenderID
}

// Invite mirrors a swap request for the legacy invite views
type Invite struct {
	RequestID        uuid.UUID `json:"requestId"`
	SenderID         string    `json:"senderId"`
	ReceiverID       string    `json:"receiverId"`
	TimeAvailability string    `json:"timeAvailability"`
	Status           string    `json:"status"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
