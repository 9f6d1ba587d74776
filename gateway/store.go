// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kpuvote/kpu-vote/db"
	"github.com/kpuvote/kpu-vote/models"
)

// SQLStore implements the poll, ballot and message tables over database/sql.
// Queries are written with ? placeholders and rebound for Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

func NewSQLStore(conn *sql.DB, dialect string) *SQLStore {
	return &SQLStore{db: conn, dialect: dialect}
}

// DB exposes the underlying pool for health checks.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) rebind(query string) string {
	if s.dialect != db.Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const pollColumns = `id, title, description, due_date, options, votes_count, tally_rev, is_public,
	allow_multiple, allow_comments, tags, image_url, category_id, created_by, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPoll(row rowScanner) (models.Poll, error) {
	var (
		p            models.Poll
		due, created sqlTime
		options      []byte
		tags         []byte
	)
	err := row.Scan(&p.ID, &p.Title, &p.Description, &due, &options, &p.VotesCount, &p.TallyRev, &p.IsPublic,
		&p.AllowMultiple, &p.AllowComments, &tags, &p.ImageURL, &p.CategoryID, &p.CreatedBy, &created)
	if err != nil {
		return models.Poll{}, err
	}
	p.DueDate = due.Time
	p.CreatedAt = created.Time

	if err := json.Unmarshal(options, &p.Options); err != nil {
		return models.Poll{}, fmt.Errorf("decode options: %w", err)
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &p.Tags); err != nil {
			return models.Poll{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	return p, nil
}

// GetPoll fetches one poll by id.
func (s *SQLStore) GetPoll(ctx context.Context, id string) (models.Poll, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+pollColumns+` FROM votes WHERE id = ?`), id)
	p, err := scanPoll(row)
	if err != nil {
		return models.Poll{}, classify("get poll", err)
	}
	return p, nil
}

// ListFilter narrows ListPolls. Zero values mean no restriction.
type ListFilter struct {
	PublicOnly bool
	CreatedBy  string
	// VotedBy keeps only polls this user has a ballot on.
	VotedBy string
	// Popular keeps polls with at least one vote, most voted first.
	Popular bool
	Limit   int
}

// ListPolls returns polls newest first, or most voted first when
// f.Popular is set.
func (s *SQLStore) ListPolls(ctx context.Context, f ListFilter) ([]models.Poll, error) {
	query := `SELECT ` + pollColumns + ` FROM votes WHERE 1 = 1`
	var args []any
	if f.PublicOnly {
		query += ` AND is_public = ?`
		args = append(args, true)
	}
	if f.CreatedBy != "" {
		query += ` AND created_by = ?`
		args = append(args, f.CreatedBy)
	}
	if f.VotedBy != "" {
		query += ` AND id IN (SELECT vote_id FROM user_poll_votes WHERE user_id = ?)`
		args = append(args, f.VotedBy)
	}
	if f.Popular {
		query += ` AND votes_count > 0 ORDER BY votes_count DESC, created_at DESC`
	} else {
		query += ` ORDER BY created_at DESC`
	}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, classify("list polls", err)
	}
	defer rows.Close()

	polls := []models.Poll{}
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, classify("list polls", err)
		}
		polls = append(polls, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list polls", err)
	}
	return polls, nil
}

// InsertPoll stores a new poll, assigning an id and creation time when unset.
func (s *SQLStore) InsertPoll(ctx context.Context, p models.Poll) (models.Poll, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.DueDate = p.DueDate.UTC()

	options, err := json.Marshal(p.Options)
	if err != nil {
		return models.Poll{}, fmt.Errorf("encode options: %w", err)
	}
	var tags any
	if p.Tags != nil {
		b, err := json.Marshal(p.Tags)
		if err != nil {
			return models.Poll{}, fmt.Errorf("encode tags: %w", err)
		}
		tags = string(b)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO votes (`+pollColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), p.ID, p.Title, p.Description, p.DueDate, string(options), p.VotesCount, p.TallyRev, p.IsPublic,
		p.AllowMultiple, p.AllowComments, tags, p.ImageURL, p.CategoryID, p.CreatedBy, p.CreatedAt)
	if err != nil {
		return models.Poll{}, classify("insert poll", err)
	}
	return p, nil
}

// CompareAndSwapTally writes options and votesCount only if the stored
// tally_rev still equals expectedRev, and bumps tally_rev on success. It
// reports whether the write happened.
func (s *SQLStore) CompareAndSwapTally(ctx context.Context, pollID string, expectedRev int64, options []models.Option, votesCount int) (bool, error) {
	encoded, err := json.Marshal(options)
	if err != nil {
		return false, fmt.Errorf("encode options: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE votes SET options = ?, votes_count = ?, tally_rev = tally_rev + 1
		WHERE id = ? AND tally_rev = ?
	`), string(encoded), votesCount, pollID, expectedRev)
	if err != nil {
		return false, classify("update tally", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("update tally", err)
	}
	return n == 1, nil
}

// DeletePoll removes a poll and its ballots.
func (s *SQLStore) DeletePoll(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("delete poll", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM user_poll_votes WHERE vote_id = ?`), id); err != nil {
		return classify("delete poll", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM votes WHERE id = ?`), id)
	if err != nil {
		return classify("delete poll", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return classify("delete poll", err)
	} else if n == 0 {
		return notFound("delete poll")
	}

	if err := tx.Commit(); err != nil {
		return classify("delete poll", err)
	}
	return nil
}

const ballotColumns = `id, user_id, vote_id, selected_option_index, selected_option_indices, created_at`

func scanBallot(row rowScanner) (models.Ballot, error) {
	var (
		b       models.Ballot
		indices []byte
		created sqlTime
	)
	if err := row.Scan(&b.ID, &b.UserID, &b.PollID, &b.SelectedIndex, &indices, &created); err != nil {
		return models.Ballot{}, err
	}
	b.CreatedAt = created.Time
	if len(indices) > 0 {
		if err := json.Unmarshal(indices, &b.SelectedIndices); err != nil {
			return models.Ballot{}, fmt.Errorf("decode selected indices: %w", err)
		}
	}
	return b, nil
}

// FindBallot returns the user's ballot for a poll, or nil when none exists.
func (s *SQLStore) FindBallot(ctx context.Context, pollID, userID string) (*models.Ballot, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+ballotColumns+` FROM user_poll_votes
		WHERE vote_id = ? AND user_id = ?
	`), pollID, userID)
	b, err := scanBallot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find ballot", err)
	}
	return &b, nil
}

// InsertBallot records a ballot. A second ballot for the same (user, poll)
// fails with a KindConflict error.
func (s *SQLStore) InsertBallot(ctx context.Context, b models.Ballot) (models.Ballot, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.CreatedAt = b.CreatedAt.UTC()
	if len(b.SelectedIndices) > 0 {
		b.SelectedIndex = b.SelectedIndices[0]
	}

	var indices any
	if len(b.SelectedIndices) > 0 {
		encoded, err := json.Marshal(b.SelectedIndices)
		if err != nil {
			return models.Ballot{}, fmt.Errorf("encode selected indices: %w", err)
		}
		indices = string(encoded)
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO user_poll_votes (`+ballotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`), b.ID, b.UserID, b.PollID, b.SelectedIndex, indices, b.CreatedAt)
	if err != nil {
		return models.Ballot{}, classify("insert ballot", err)
	}
	return b, nil
}

// CountSelections returns how many ballots chose each option index.
func (s *SQLStore) CountSelections(ctx context.Context, pollID string) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+ballotColumns+` FROM user_poll_votes WHERE vote_id = ?
	`), pollID)
	if err != nil {
		return nil, classify("count selections", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		b, err := scanBallot(rows)
		if err != nil {
			return nil, classify("count selections", err)
		}
		for _, i := range b.Indices() {
			counts[i]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify("count selections", err)
	}
	return counts, nil
}

const messageColumns = `id, room_id, sender_name, sender_id, content, file_url, file_name, timestamp`

// ListMessages returns the newest limit messages of a room in ascending
// timestamp order.
func (s *SQLStore) ListMessages(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+messageColumns+` FROM chat_messages
		WHERE room_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`), roomID, limit)
	if err != nil {
		return nil, classify("list messages", err)
	}
	defer rows.Close()

	msgs := []models.ChatMessage{}
	for rows.Next() {
		var (
			m        models.ChatMessage
			senderID sql.NullString
			ts       sqlTime
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderName, &senderID, &m.Content, &m.FileURL, &m.FileName, &ts); err != nil {
			return nil, classify("list messages", err)
		}
		m.SenderID = senderID.String
		m.Timestamp = ts.Time
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list messages", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// InsertMessage stores a chat message, assigning an id and timestamp when
// unset.
func (s *SQLStore) InsertMessage(ctx context.Context, m models.ChatMessage) (models.ChatMessage, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	m.Timestamp = m.Timestamp.UTC()

	var senderID any
	if m.SenderID != "" {
		senderID = m.SenderID
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO chat_messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), m.ID, m.RoomID, m.SenderName, senderID, m.Content, m.FileURL, m.FileName, m.Timestamp)
	if err != nil {
		return models.ChatMessage{}, classify("insert message", err)
	}
	return m, nil
}
