// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kpuvote/kpu-vote/db"
	"github.com/kpuvote/kpu-vote/gateway"
	"github.com/kpuvote/kpu-vote/models"
	"github.com/kpuvote/kpu-vote/realtime"
	"github.com/kpuvote/kpu-vote/session"
	"github.com/kpuvote/kpu-vote/tally"
	"github.com/kpuvote/kpu-vote/testutil"
)

type testEnv struct {
	conn  *sql.DB
	gw    *gateway.Gateway
	tally *tally.Reconciler
	hub   *realtime.Hub
}

func setupTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn := testutil.SetupTestDB(t)
	hub := realtime.NewHub(nil)
	t.Cleanup(func() { hub.Close() })
	gw := gateway.New(gateway.NewSQLStore(conn, db.SQLite), hub)
	return testEnv{conn: conn, gw: gw, tally: tally.New(gw.SQLStore), hub: hub}
}

// asUser attaches a signed-in identity as the auth middleware would
func asUser(req *http.Request, userID string) *http.Request {
	id := &session.Identity{ID: userID, Email: userID + "@kpu.go.id"}
	return req.WithContext(session.NewContext(req.Context(), id))
}

func TestCreatePoll(t *testing.T) {
	env := setupTestEnv(t)
	handler := NewPollHandler(env.gw, env.tally)
	future := time.Now().Add(48 * time.Hour)

	testCases := []struct {
		name           string
		body           interface{}
		expectedStatus int
	}{
		{
			name: "valid poll",
			body: models.CreatePollRequest{
				Title:   "Ketua RT 05",
				DueDate: future,
				Options: []string{"Budi", "Sari", "Joko"},
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "missing title",
			body:           models.CreatePollRequest{Title: "  ", DueDate: future, Options: []string{"A", "B"}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "one option",
			body:           models.CreatePollRequest{Title: "T", DueDate: future, Options: []string{"A"}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "blank option",
			body:           models.CreatePollRequest{Title: "T", DueDate: future, Options: []string{"A", " "}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "due date in the past",
			body:           models.CreatePollRequest{Title: "T", DueDate: time.Now().Add(-time.Hour), Options: []string{"A", "B"}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing due date",
			body:           models.CreatePollRequest{Title: "T", Options: []string{"A", "B"}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			body:           "not json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := asUser(testutil.MakeRequest("POST", "/votes", tc.body, nil), "u1")
			w := httptest.NewRecorder()

			handler.CreatePoll(w, req)

			testutil.AssertStatus(t, w, tc.expectedStatus)
			if tc.expectedStatus != http.StatusCreated {
				return
			}

			var resp models.CreatePollResponse
			testutil.AssertJSON(t, w, &resp)
			poll, err := env.gw.GetPoll(req.Context(), resp.ID)
			if err != nil {
				t.Fatalf("created poll not readable: %v", err)
			}
			if poll.CreatedBy != "u1" || len(poll.Options) != 3 || poll.VotesCount != 0 || !poll.IsPublic {
				t.Errorf("unexpected stored poll %+v", poll)
			}
			for _, o := range poll.Options {
				if o.Votes != 0 {
					t.Errorf("new option %q has %d votes", o.Text, o.Votes)
				}
			}
		})
	}
}

func TestListPolls(t *testing.T) {
	env := setupTestEnv(t)
	handler := NewPollHandler(env.gw, env.tally)
	now := time.Now()

	older := testutil.CreateTestPoll(t, env.conn, testutil.PollFixture{Title: "older", CreatedAt: now.Add(-2 * time.Hour)})
	newer := testutil.CreateTestPoll(t, env.conn, testutil.PollFixture{Title: "newer", CreatedAt: now.Add(-time.Hour)})
	private := testutil.CreateTestPoll(t, env.conn, testutil.PollFixture{Title: "private", Private: true, CreatedBy: "u1"})

	t.Run("public newest first", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ListPolls(w, testutil.MakeRequest("GET", "/votes", nil, nil))

		testutil.AssertStatus(t, w, http.StatusOK)
		var resp models.PollListResponse
		testutil.AssertJSON(t, w, &resp)
		if len(resp.Polls) != 2 || resp.Polls[0].ID != newer || resp.Polls[1].ID != older {
			t.Errorf("unexpected list %+v", resp.Polls)
		}
	})

	t.Run("mine includes private", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ListPolls(w, asUser(testutil.MakeRequest("GET", "/votes?mine=true", nil, nil), "u1"))

		testutil.AssertStatus(t, w, http.StatusOK)
		var resp models.PollListResponse
		testutil.AssertJSON(t, w, &resp)
		if len(resp.Polls) != 1 || resp.Polls[0].ID != private {
			t.Errorf("unexpected list %+v", resp.Polls)
		}
	})

	t.Run("mine requires sign in", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ListPolls(w, testutil.MakeRequest("GET", "/votes?mine=true", nil, nil))
		testutil.AssertStatus(t, w, http.StatusUnauthorized)
	})

	t.Run("limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ListPolls(w, testutil.MakeRequest("GET", "/votes?limit=1", nil, nil))

		var resp models.PollListResponse
		testutil.AssertJSON(t, w, &resp)
		if len(resp.Polls) != 1 || resp.Polls[0].ID != newer {
			t.Errorf("unexpected list %+v", resp.Polls)
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ListPolls(w, testutil.MakeRequest("GET", "/votes?limit=zero", nil, nil))
		testutil.AssertStatus(t, w, http.StatusBadRequest)
	})
}

func TestListPolls_VotedAndPopular(t *testing.T) {
	env := setupTestEnv(t)
	handler := NewPollHandler(env.gw, env.tally)
	now := time.Now()

	quiet := testutil.CreateTestPoll(t, env.conn, testutil.PollFixture{Title: "quiet", Counts: []int{1, 0}, CreatedAt: now.Add(-3 * time.Hour)})
	busy := testutil.CreateTestPoll(t, env.conn, testutil.PollFixture{Title: "busy", Counts: []int{3, 2}, CreatedAt: now.Add(-2 * time.Hour)})
	testutil.CreateTestPoll(t, env.conn, testutil.PollFixture{Title: "empty", CreatedAt: now.Add(-time.Hour)})
	hidden := testutil.CreateTestPoll(t, env.conn, testutil.PollFixture{Title: "hidden", Private: true, Counts: []int{0, 1}, CreatedAt: now})

	testutil.InsertTestBallot(t, env.conn, quiet, "u2", 0)
	testutil.InsertTestBallot(t, env.conn, hidden, "u2", 1)
	testutil.InsertTestBallot(t, env.conn, busy, "u3", 0)

	ids := func(t *testing.T, w *httptest.ResponseRecorder) []string {
		t.Helper()
		var resp models.PollListResponse
		testutil.AssertJSON(t, w, &resp)
		out := make([]string, len(resp.Polls))
		for i, p := range resp.Polls {
			out[i] = p.ID
		}
		return out
	}

	testCases := []struct {
		name           string
		url            string
		user           string
		expectedStatus int
		expectedIDs    []string
	}{
		{"voted includes private", "/votes?voted=true", "u2", http.StatusOK, []string{hidden, quiet}},
		{"voted by someone else", "/votes?voted=true", "u3", http.StatusOK, []string{busy}},
		{"voted with no ballots", "/votes?voted=true", "u9", http.StatusOK, []string{}},
		{"voted requires sign in", "/votes?voted=true", "", http.StatusUnauthorized, nil},
		{"popular skips empty and private", "/votes?sort=popular", "", http.StatusOK, []string{busy, quiet}},
		{"popular and voted ties break newest first", "/votes?sort=popular&voted=true", "u2", http.StatusOK, []string{hidden, quiet}},
		{"unknown sort", "/votes?sort=random", "", http.StatusBadRequest, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := testutil.MakeRequest("GET", tc.url, nil, nil)
			if tc.user != "" {
				req = asUser(req, tc.user)
			}
			w := httptest.NewRecorder()
			handler.ListPolls(w, req)

			testutil.AssertStatus(t, w, tc.expectedStatus)
			if tc.expectedIDs == nil {
				return
			}
			got := ids(t, w)
			if len(got) != len(tc.expectedIDs) {
				t.Fatalf("got %v, want %v", got, tc.expectedIDs)
			}
			for i := range got {
				if got[i] != tc.expectedIDs[i] {
					t.Errorf("got %v, want %v", got, tc.expectedIDs)
					break
				}
			}
		})
	}
}

func TestDeletePoll(t *testing.T) {
	env := setupTestEnv(t)
	handler := NewPollHandler(env.gw, env.tally)

	pollID := testutil.CreateTestPoll(t, env.conn, testutil.PollFixture{CreatedBy: "owner"})
	testutil.InsertTestBallot(t, env.conn, pollID, "voter", 0)

	testCases := []struct {
		name           string
		pollID         string
		user           string
		expectedStatus int
	}{
		{"not the creator", pollID, "intruder", http.StatusForbidden},
		{"missing poll", "nope", "owner", http.StatusNotFound},
		{"creator", pollID, "owner", http.StatusNoContent},
		{"already deleted", pollID, "owner", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := asUser(testutil.MakeRequest("DELETE", "/votes/"+tc.pollID, nil, nil), tc.user)
			req.SetPathValue("id", tc.pollID)
			w := httptest.NewRecorder()

			handler.DeletePoll(w, req)

			testutil.AssertStatus(t, w, tc.expectedStatus)
		})
	}

	if n := testutil.CountBallots(t, env.conn, pollID, ""); n != 0 {
		t.Errorf("ballots should be removed with the poll, %d left", n)
	}
}

func TestRecount(t *testing.T) {
	env := setupTestEnv(t)
	handler := NewPollHandler(env.gw, env.tally)

	pollID := testutil.CreateTestPoll(t, env.conn, testutil.PollFixture{Counts: []int{4, 0}})
	testutil.InsertTestBallot(t, env.conn, pollID, "u1", 1)

	req := asUser(testutil.MakeRequest("POST", "/votes/"+pollID+"/recount", nil, nil), "u1")
	req.SetPathValue("id", pollID)
	w := httptest.NewRecorder()

	handler.Recount(w, req)

	testutil.AssertStatus(t, w, http.StatusOK)
	var poll models.Poll
	testutil.AssertJSON(t, w, &poll)
	if poll.VotesCount != 1 || poll.Options[0].Votes != 0 || poll.Options[1].Votes != 1 {
		t.Errorf("unexpected recount %+v", poll)
	}
	if counts, total := testutil.ReadTally(t, env.conn, pollID); counts[1] != 1 || total != 1 {
		t.Errorf("stored tally %v / %d", counts, total)
	}

	req = asUser(testutil.MakeRequest("POST", "/votes/nope/recount", nil, nil), "u1")
	req.SetPathValue("id", "nope")
	w = httptest.NewRecorder()
	handler.Recount(w, req)
	testutil.AssertStatus(t, w, http.StatusNotFound)
}
