// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kpuvote/kpu-vote/auth"
	"github.com/kpuvote/kpu-vote/cliparse"
	"github.com/kpuvote/kpu-vote/db"
	"github.com/kpuvote/kpu-vote/models"
	"github.com/kpuvote/kpu-vote/session"
)

// TestSecret signs tokens in tests
const TestSecret = "test-jwt-secret"

// SetupTestDB creates a fresh SQLite database with the full schema in a
// temp dir. It is closed when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.Open(db.SQLite, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.CreateSchema(conn, db.SQLite); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return conn
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:         3318,
		DatabaseURL:  "file:test.db",
		DatabaseType: db.SQLite,
		JWTSecret:    TestSecret,
		HistoryLimit: cliparse.DefaultHistoryLimit,
		SendRPS:      100,
		SendBurst:    100,
	}
}

// PollFixture describes a poll to insert. Zero values get sensible defaults.
type PollFixture struct {
	Title         string
	Options       []string
	Counts        []int
	DueDate       time.Time
	AllowMultiple bool
	Private       bool
	CreatedBy     string
	CreatedAt     time.Time
}

// CreateTestPoll inserts a poll and returns its ID. votes_count is the sum
// of Counts.
func CreateTestPoll(t *testing.T, conn *sql.DB, f PollFixture) string {
	t.Helper()

	if f.Title == "" {
		f.Title = "Test Poll"
	}
	if f.Options == nil {
		f.Options = []string{"A", "B"}
	}
	if f.DueDate.IsZero() {
		f.DueDate = time.Now().Add(24 * time.Hour)
	}
	if f.CreatedBy == "" {
		f.CreatedBy = "creator"
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	options := make([]models.Option, len(f.Options))
	total := 0
	for i, text := range f.Options {
		options[i].Text = text
		if i < len(f.Counts) {
			options[i].Votes = f.Counts[i]
			total += f.Counts[i]
		}
	}
	encoded, _ := json.Marshal(options)

	pollID := uuid.NewString()
	_, err := conn.Exec(`
		INSERT INTO votes (id, title, description, due_date, options, votes_count, is_public,
			allow_multiple, allow_comments, created_by, created_at)
		VALUES (?, ?, 'A test poll', ?, ?, ?, ?, ?, 1, ?, ?)
	`, pollID, f.Title, f.DueDate.UTC(), string(encoded), total, !f.Private,
		f.AllowMultiple, f.CreatedBy, f.CreatedAt.UTC())
	if err != nil {
		t.Fatalf("Failed to create test poll: %v", err)
	}

	return pollID
}

// InsertTestBallot records a ballot directly, bypassing the tally.
func InsertTestBallot(t *testing.T, conn *sql.DB, pollID, userID string, indices ...int) {
	t.Helper()

	encoded, _ := json.Marshal(indices)
	_, err := conn.Exec(`
		INSERT INTO user_poll_votes (id, user_id, vote_id, selected_option_index, selected_option_indices, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), userID, pollID, indices[0], string(encoded), time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test ballot: %v", err)
	}
}

// ReadTally returns the stored option counts and votes_count of a poll.
func ReadTally(t *testing.T, conn *sql.DB, pollID string) ([]int, int) {
	t.Helper()

	var raw []byte
	var total int
	err := conn.QueryRow(`SELECT options, votes_count FROM votes WHERE id = ?`, pollID).Scan(&raw, &total)
	if err != nil {
		t.Fatalf("Failed to read tally: %v", err)
	}
	var options []models.Option
	if err := json.Unmarshal(raw, &options); err != nil {
		t.Fatalf("Failed to decode options: %v", err)
	}
	counts := make([]int, len(options))
	for i, o := range options {
		counts[i] = o.Votes
	}
	return counts, total
}

// CountBallots returns the number of ballots stored for (pollID, userID).
// An empty userID counts every ballot of the poll.
func CountBallots(t *testing.T, conn *sql.DB, pollID, userID string) int {
	t.Helper()

	query := `SELECT COUNT(*) FROM user_poll_votes WHERE vote_id = ?`
	args := []any{pollID}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	var n int
	if err := conn.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("Failed to count ballots: %v", err)
	}
	return n
}

// Token issues a bearer token for a test user.
func Token(t *testing.T, userID, email string) string {
	t.Helper()

	token, err := auth.IssueToken(TestSecret, session.Identity{ID: userID, Email: email}, time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return token
}

// AuthHeader returns headers carrying a bearer token for userID.
func AuthHeader(t *testing.T, userID string) map[string]string {
	t.Helper()
	return map[string]string{"Authorization": "Bearer " + Token(t, userID, userID+"@kpu.go.id")}
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
