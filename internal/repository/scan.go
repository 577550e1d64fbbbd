package repository

import (
	"skillswap-backend/internal/models"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, name, email, skill, location, time_availability, years_of_experience, created_at`

const requestColumns = `id, sender_id, recipient_id, sender_skill, requested_skill, time_availability,
        message, status, created_at, updated_at`

const matchColumns = `id, request_id, sender_id, recipient_id, sender_skill, requested_skill, location,
        time_availability, sessions_completed, sender_feedback, recipient_feedback, status, created_at, updated_at`

const inviteColumns = `request_id, sender_id, receiver_id, time_availability, status, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Skill,
		&user.Location,
		&user.TimeAvailability,
		&user.YearsOfExperience,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func scanRequest(row rowScanner) (*models.SwapRequest, error) {
	req := &models.SwapRequest{}
	var status string
	err := row.Scan(
		&req.ID,
		&req.SenderID,
		&req.RecipientID,
		&req.SenderSkill,
		&req.RequestedSkill,
		&req.TimeAvailability,
		&req.Message,
		&status,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Status = models.RequestStatus(status)
	return req, nil
}

func scanMatch(row rowScanner) (*models.Match, error) {
	match := &models.Match{}
	var status string
	err := row.Scan(
		&match.ID,
		&match.RequestID,
		&match.SenderID,
		&match.RecipientID,
		&match.SenderSkill,
		&match.RequestedSkill,
		&match.Location,
		&match.TimeAvailability,
		&match.SessionsCompleted,
		&match.SenderFeedback,
		&match.RecipientFeedback,
		&status,
		&match.CreatedAt,
		&match.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	match.Status = models.MatchStatus(status)
	return match, nil
}

func scanInvite(row rowScanner) (*models.Invite, error) {
	invite := &models.Invite{}
	err := row.Scan(
		&invite.RequestID,
		&invite.SenderID,
		&invite.ReceiverID,
		&invite.TimeAvailability,
		&invite.Status,
		&invite.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return invite, nil
}
