package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"skillswap-backend/internal/models"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

//go:embed migrations/sqlite.sql
var sqliteSchema string

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is the Store implementation for local development and tests.
// SQLite has a single writer, so the pool is limited to one connection and
// transactions start with BEGIN IMMEDIATE. That serialises every mutator.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() {
	s.db.Close()
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	if err := fn(&sqliteTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- UserStore ---

func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO users (`+userColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
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
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("user '%s': %w", user.ID, ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return sqliteGetUser(ctx, s.db, id)
}

func (s *SQLiteStore) SearchUsers(ctx context.Context, filter UserFilter) ([]*models.User, error) {
	// LIKE ignores ASCII case in sqlite
	where, args := filter.where("LIKE", func(int) string { return "?" })
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users`+where+` ORDER BY name`, args...)
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
	return users, rows.Err()
}

// --- SwapStore ---

func (s *SQLiteStore) GetRequestByID(ctx context.Context, id uuid.UUID) (*models.SwapRequest, error) {
	return sqliteGetRequest(ctx, s.db, id)
}

func (s *SQLiteStore) ListRequestsByRecipient(ctx context.Context, recipientID string, status models.RequestStatus) ([]*models.SwapRequest, error) {
	return sqliteListRequests(ctx, s.db, `SELECT `+requestColumns+`
        FROM swap_requests
        WHERE recipient_id = ? AND status = ?
        ORDER BY created_at DESC`, recipientID, string(status))
}

func (s *SQLiteStore) ListRequestsBySender(ctx context.Context, senderID string, status models.RequestStatus) ([]*models.SwapRequest, error) {
	return sqliteListRequests(ctx, s.db, `SELECT `+requestColumns+`
        FROM swap_requests
        WHERE sender_id = ? AND status = ?
        ORDER BY created_at DESC`, senderID, string(status))
}

func (s *SQLiteStore) GetMatchByID(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	return sqliteGetMatch(ctx, s.db, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id)
}

func (s *SQLiteStore) ListMatchesByUser(ctx context.Context, userID string) ([]*models.Match, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+matchColumns+`
        FROM matches
        WHERE sender_id = ? OR recipient_id = ?
        ORDER BY created_at ASC`, userID, userID)
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
	return matches, rows.Err()
}

// --- InviteStore ---

func (s *SQLiteStore) SyncInviteStatus(ctx context.Context, requestID uuid.UUID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invites SET status = ?, updated_at = ? WHERE request_id = ?`,
		status, time.Now().UTC(), requestID)
	if err != nil {
		return fmt.Errorf("failed to sync invite: %w", err)
	}
	return requireAffected(res, fmt.Sprintf("invite for request %s", requestID))
}

func (s *SQLiteStore) GetInvitesByReceiver(ctx context.Context, receiverID, status string) ([]*models.Invite, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+inviteColumns+`
        FROM invites
        WHERE receiver_id = ? AND (? = '' OR status = ?)
        ORDER BY updated_at DESC`, receiverID, status, status)
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
	return invites, rows.Err()
}

// --- Tx ---

type sqliteTx struct {
	q sqlQuerier
}

func (t *sqliteTx) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return sqliteGetUser(ctx, t.q, id)
}

func (t *sqliteTx) CreateRequest(ctx context.Context, req *models.SwapRequest) error {
	res, err := t.q.ExecContext(ctx, `
        INSERT INTO swap_requests (`+requestColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT DO NOTHING`,
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
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrConflict
	}
	return nil
}

func (t *sqliteTx) FindPendingRequest(ctx context.Context, senderID, recipientID string) (*models.SwapRequest, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+requestColumns+`
        FROM swap_requests
        WHERE sender_id = ? AND recipient_id = ? AND status = 'pending'`, senderID, recipientID)
	req, err := scanRequest(row)
	if err != nil {
		return nil, sqlNoRows(err)
	}
	return req, nil
}

// GetRequestForUpdate needs no row lock: the transaction already holds the
// database write lock.
func (t *sqliteTx) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*models.SwapRequest, error) {
	return sqliteGetRequest(ctx, t.q, id)
}

func (t *sqliteTx) TransitionRequest(ctx context.Context, id uuid.UUID, from, to models.RequestStatus, at time.Time) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE swap_requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), at, id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update swap request status: %w", err)
	}
	return requireAffected(res, "swap request")
}

func (t *sqliteTx) CreateMatch(ctx context.Context, match *models.Match) error {
	res, err := t.q.ExecContext(ctx, `
        INSERT INTO matches (`+matchColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT DO NOTHING`,
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
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrConflict
	}
	return nil
}

func (t *sqliteTx) GetMatchByTriple(ctx context.Context, senderID, recipientID, senderSkill string) (*models.Match, error) {
	return sqliteGetMatch(ctx, t.q, `SELECT `+matchColumns+`
        FROM matches
        WHERE sender_id = ? AND recipient_id = ? AND sender_skill = ?`, senderID, recipientID, senderSkill)
}

func (t *sqliteTx) GetActiveMatchByPair(ctx context.Context, a, b string) (*models.Match, error) {
	return sqliteGetMatch(ctx, t.q, `SELECT `+matchColumns+`
        FROM matches
        WHERE status = 'active'
          AND ((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))`, a, b, b, a)
}

func (t *sqliteTx) GetMatchByRequestID(ctx context.Context, requestID uuid.UUID) (*models.Match, error) {
	return sqliteGetMatch(ctx, t.q, `SELECT `+matchColumns+` FROM matches WHERE request_id = ?`, requestID)
}

func (t *sqliteTx) GetMatchForUpdate(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	return sqliteGetMatch(ctx, t.q, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id)
}

func (t *sqliteTx) UpdateMatch(ctx context.Context, match *models.Match) error {
	res, err := t.q.ExecContext(ctx, `
        UPDATE matches
        SET sessions_completed = ?, sender_feedback = ?, recipient_feedback = ?, status = ?, updated_at = ?
        WHERE id = ?`,
		match.SessionsCompleted,
		match.SenderFeedback,
		match.RecipientFeedback,
		string(match.Status),
		match.UpdatedAt,
		match.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update match: %w", err)
	}
	return requireAffected(res, "match")
}

func (t *sqliteTx) CreateInvite(ctx context.Context, invite *models.Invite) error {
	_, err := t.q.ExecContext(ctx, `
        INSERT INTO invites (`+inviteColumns+`)
        VALUES (?, ?, ?, ?, ?, ?)`,
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

func sqliteGetUser(ctx context.Context, q sqlQuerier, id string) (*models.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user '%s': %w", id, ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

func sqliteGetRequest(ctx context.Context, q sqlQuerier, id uuid.UUID) (*models.SwapRequest, error) {
	row := q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM swap_requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err != nil {
		return nil, sqlNoRows(err)
	}
	return req, nil
}

func sqliteGetMatch(ctx context.Context, q sqlQuerier, query string, args ...any) (*models.Match, error) {
	match, err := scanMatch(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, sqlNoRows(err)
	}
	return match, nil
}

func sqliteListRequests(ctx context.Context, q sqlQuerier, query string, args ...any) ([]*models.SwapRequest, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list swap requests: %w", err)
	}
	defer rows.Close()

	requests := []*models.SwapRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan swap request row: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func sqlNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoRows
	}
	return err
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNoRows)
	}
	return nil
}
