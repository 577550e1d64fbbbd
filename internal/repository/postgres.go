package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"time"

	"skillswap-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/postgres.sql
var postgresSchema string

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the Store implementation for PostgreSQL
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates the connection pool and checks it with a ping
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not ping database: %w", err)
	}

	log.Println("PostgreSQL connection pool established.")
	return &PostgresStore{db: pool}, nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() {
	s.db.Close()
}

// RunMigrations applies the embedded schema. It is idempotent.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to run migration: %w", err)
	}
	return nil
}

// InTx runs fn in a read-committed transaction. Row locks taken through
// GetRequestForUpdate/GetMatchForUpdate serialise concurrent mutators.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	})
}

// --- UserStore ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	sql := `
        INSERT INTO users (id, name, email, skill, location, time_availability, years_of_experience, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx, sql,
		user.ID,
		user.Name,
		user.Email,
		user.Skill,
		user.Location,
		user.TimeAvailability,
		user.YearsOfExperience,
		user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user '%s': %w", user.ID, ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return pgGetUser(ctx, s.db, id)
}

func (s *PostgresStore) SearchUsers(ctx context.Context, filter UserFilter) ([]*models.User, error) {
	where, args := filter.where("ILIKE", func(n int) string { return fmt.Sprintf("$%d", n) })
	rows, err := s.db.Query(ctx, `SELECT `+userColumns+` FROM users`+where+` ORDER BY name`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// --- SwapStore ---

func (s *PostgresStore) GetRequestByID(ctx context.Context, id uuid.UUID) (*models.SwapRequest, error) {
	row := s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM swap_requests WHERE id = $1`, id)
	v, err := scanRequest(row)
	if err != nil {
		return nil, pgNoRows(err)
	}
	return v, nil
}

func (s *PostgresStore) ListRequestsByRecipient(ctx context.Context, recipientID string, status models.RequestStatus) ([]*models.SwapRequest, error) {
	sql := `SELECT ` + requestColumns + `
        FROM swap_requests
        WHERE recipient_id = $1 AND status = $2
        ORDER BY created_at DESC`
	return pgListRequests(ctx, s.db, sql, recipientID, string(status))
}

func (s *PostgresStore) ListRequestsBySender(ctx context.Context, senderID string, status models.RequestStatus) ([]*models.SwapRequest, error) {
	sql := `SELECT ` + requestColumns + `
        FROM swap_requests
        WHERE sender_id = $1 AND status = $2
        ORDER BY created_at DESC`
	return pgListRequests(ctx, s.db, sql, senderID, string(status))
}

func (s *PostgresStore) GetMatchByID(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	row := s.db.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id)
	v, err := scanMatch(row)
	if err != nil {
		return nil, pgNoRows(err)
	}
	return v, nil
}

func (s *PostgresStore) ListMatchesByUser(ctx context.Context, userID string) ([]*models.Match, error) {
	sql := `SELECT ` + matchColumns + `
        FROM matches
        WHERE sender_id = $1 OR recipient_id = $1
        ORDER BY created_at ASC`

	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	matches := []*models.Match{}
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", err)
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}
	return matches, nil
}

// --- InviteStore ---

func (s *PostgresStore) SyncInviteStatus(ctx context.Context, requestID uuid.UUID, status string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE invites SET status = $2, updated_at = $3 WHERE request_id = $1`,
		requestID, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to sync invite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invite for request %s: %w", requestID, ErrNoRows)
	}
	return nil
}

func (s *PostgresStore) GetInvitesByReceiver(ctx context.Context, receiverID, status string) ([]*models.Invite, error) {
	rows, err := s.db.Query(ctx, `SELECT `+inviteColumns+`
        FROM invites
        WHERE receiver_id = $1 AND ($2 = '' OR status = $2)
        ORDER BY updated_at DESC`, receiverID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}
	defer rows.Close()

	invites := []*models.Invite{}
	for rows.Next() {
		invite, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invite row: %w", err)
		}
		invites = append(invites, invite)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invites: %w", err)
	}
	return invites, nil
}

// --- Tx ---

type pgTx struct {
	q pgQuerier
}

func (t *pgTx) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return pgGetUser(ctx, t.q, id)
}

func (t *pgTx) CreateRequest(ctx context.Context, req *models.SwapRequest) error {
	// the partial unique index on (sender_id, recipient_id) WHERE pending
	// is the only constraint a fresh id can hit
	sql := `
        INSERT INTO swap_requests (id, sender_id, recipient_id, sender_skill, requested_skill,
            time_availability, message, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT DO NOTHING`

	tag, err := t.q.Exec(ctx, sql,
		req.ID,
		req.SenderID,
		req.RecipientID,
		req.SenderSkill,
		req.RequestedSkill,
		req.TimeAvailability,
		req.Message,
		string(req.Status),
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create swap request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (t *pgTx) FindPendingRequest(ctx context.Context, senderID, recipientID string) (*models.SwapRequest, error) {
	row := t.q.QueryRow(ctx, `SELECT `+requestColumns+`
        FROM swap_requests
        WHERE sender_id = $1 AND recipient_id = $2 AND status = 'pending'`, senderID, recipientID)
	v, err := scanRequest(row)
	if err != nil {
		return nil, pgNoRows(err)
	}
	return v, nil
}

func (t *pgTx) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*models.SwapRequest, error) {
	row := t.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM swap_requests WHERE id = $1 FOR UPDATE`, id)
	v, err := scanRequest(row)
	if err != nil {
		return nil, pgNoRows(err)
	}
	return v, nil
}

func (t *pgTx) TransitionRequest(ctx context.Context, id uuid.UUID, from, to models.RequestStatus, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE swap_requests SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("failed to update swap request status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

func (t *pgTx) CreateMatch(ctx context.Context, match *models.Match) error {
	sql := `
        INSERT INTO matches (id, request_id, sender_id, recipient_id, sender_skill, requested_skill,
            location, time_availability, sessions_completed, sender_feedback, recipient_feedback,
            status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        ON CONFLICT DO NOTHING`

	tag, err := t.q.Exec(ctx, sql,
		match.ID,
		match.RequestID,
		match.SenderID,
		match.RecipientID,
		match.SenderSkill,
		match.RequestedSkill,
		match.Location,
		match.TimeAvailability,
		match.SessionsCompleted,
		match.SenderFeedback,
		match.RecipientFeedback,
		string(match.Status),
		match.CreatedAt,
		match.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (t *pgTx) GetMatchByTriple(ctx context.Context, senderID, recipientID, senderSkill string) (*models.Match, error) {
	row := t.q.QueryRow(ctx, `SELECT `+matchColumns+`
        FROM matches
        WHERE sender_id = $1 AND recipient_id = $2 AND sender_skill = $3`, senderID, recipientID, senderSkill)
	v, err := scanMatch(row)
	if err != nil {
		return nil, pgNoRows(err)
	}
	return v, nil
}

func (t *pgTx) GetActiveMatchByPair(ctx context.Context, a, b string) (*models.Match, error) {
	row := t.q.QueryRow(ctx, `SELECT `+matchColumns+`
        FROM matches
        WHERE status = 'active'
          AND ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
        FOR UPDATE`, a, b)
	v, err := scanMatch(row)
	if err != nil {
		return nil, pgNoRows(err)
	}
	return v, nil
}

func (t *pgTx) GetMatchByRequestID(ctx context.Context, requestID uuid.UUID) (*models.Match, error) {
	row := t.q.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE request_id = $1`, requestID)
	v, err := scanMatch(row)
	if err != nil {
		return nil, pgNoRows(err)
	}
	return v, nil
}

func (t *pgTx) GetMatchForUpdate(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	row := t.q.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1 FOR UPDATE`, id)
	v, err := scanMatch(row)
	if err != nil {
		return nil, pgNoRows(err)
	}
	return v, nil
}

func (t *pgTx) UpdateMatch(ctx context.Context, match *models.Match) error {
	sql := `
        UPDATE matches
        SET sessions_completed = $2, sender_feedback = $3, recipient_feedback = $4, status = $5, updated_at = $6
        WHERE id = $1`

	tag, err := t.q.Exec(ctx, sql,
		match.ID,
		match.SessionsCompleted,
		match.SenderFeedback,
		match.RecipientFeedback,
		string(match.Status),
		match.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

func (t *pgTx) CreateInvite(ctx context.Context, invite *models.Invite) error {
	_, err := t.q.Exec(ctx, `
        INSERT INTO invites (`+inviteColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		invite.RequestID,
		invite.SenderID,
		invite.ReceiverID,
		invite.TimeAvailability,
		invite.Status,
		invite.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invite: %w", err)
	}
	return nil
}

// --- helpers ---

func pgGetUser(ctx context.Context, q pgQuerier, id string) (*models.User, error) {
	row := q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user '%s': %w", id, ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

func pgListRequests(ctx context.Context, q pgQuerier, sql string, args ...any) ([]*models.SwapRequest, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list swap requests: %w", err)
	}
	defer rows.Close()

	// empty slice, not nil, so the JSON stays an array
	requests := []*models.SwapRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan swap request row: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating swap requests: %w", err)
	}
	return requests, nil
}

// pgNoRows translates pgx.ErrNoRows into ErrNoRows
func pgNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNoRows
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" // unique_violation
}
