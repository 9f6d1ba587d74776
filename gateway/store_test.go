package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/kpuvote/kpu-vote/db"
	"github.com/kpuvote/kpu-vote/models"
	"github.com/kpuvote/kpu-vote/realtime"
	"github.com/kpuvote/kpu-vote/testutil"
)

func newStore(t *testing.T) *SQLStore {
	t.Helper()
	return NewSQLStore(testutil.SetupTestDB(t), db.SQLite)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: db.Postgres}
	got := pg.rebind("SELECT * FROM votes WHERE id = ? AND votes_count = ?")
	if got != "SELECT * FROM votes WHERE id = $1 AND votes_count = $2" {
		t.Errorf("rebind() = %q", got)
	}

	lite := &SQLStore{dialect: db.SQLite}
	if got := lite.rebind("id = ?"); got != "id = ?" {
		t.Errorf("sqlite rebind should be identity, got %q", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"plain error", errors.New("connection reset"), KindTransport},
		{"sql no rows", notFound("get"), KindNotFound},
		{"pq unique", &pq.Error{Code: "23505"}, KindConflict},
		{"pq other", &pq.Error{Code: "08006"}, KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := kindOf(classify("op", tt.err)); got != tt.want {
				t.Errorf("classify() kind = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPollRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	desc := "Pick one"
	due := time.Date(2099, 1, 2, 3, 4, 5, 0, time.UTC)
	in := models.Poll{
		Title:         "Lunch",
		Description:   &desc,
		DueDate:       due,
		Options:       []models.Option{{Text: "A"}, {Text: "B"}},
		IsPublic:      true,
		AllowMultiple: true,
		Tags:          []string{"food"},
		CreatedBy:     "u1",
	}

	stored, err := s.InsertPoll(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ID == "" {
		t.Fatal("InsertPoll() did not assign an id")
	}

	got, err := s.GetPoll(ctx, stored.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Lunch" || got.Description == nil || *got.Description != desc {
		t.Errorf("unexpected poll %+v", got)
	}
	if !got.DueDate.Equal(due) {
		t.Errorf("DueDate = %v, want %v", got.DueDate, due)
	}
	if len(got.Options) != 2 || got.Options[1].Text != "B" {
		t.Errorf("Options = %+v", got.Options)
	}
	if !got.AllowMultiple || !got.IsPublic || len(got.Tags) != 1 {
		t.Errorf("flags or tags lost: %+v", got)
	}
	if got.ImageURL != nil || got.CategoryID != nil {
		t.Errorf("expected nil optional fields, got %+v", got)
	}
}

func TestGetPoll_NotFound(t *testing.T) {
	_, err := newStore(t).GetPoll(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestListPolls_Filter(t *testing.T) {
	ctx := context.Background()
	conn := testutil.SetupTestDB(t)
	s := NewSQLStore(conn, db.SQLite)

	now := time.Now()
	older := testutil.CreateTestPoll(t, conn, testutil.PollFixture{Title: "old", CreatedAt: now.Add(-time.Hour)})
	newer := testutil.CreateTestPoll(t, conn, testutil.PollFixture{Title: "new", CreatedAt: now})
	testutil.CreateTestPoll(t, conn, testutil.PollFixture{Title: "private", Private: true, CreatedBy: "u9"})

	public, err := s.ListPolls(ctx, ListFilter{PublicOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(public) != 2 || public[0].ID != newer || public[1].ID != older {
		t.Errorf("expected [new old], got %+v", public)
	}

	mine, err := s.ListPolls(ctx, ListFilter{CreatedBy: "u9"})
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].Title != "private" {
		t.Errorf("expected only the private poll, got %+v", mine)
	}
}

func TestInsertBallot_Conflict(t *testing.T) {
	ctx := context.Background()
	conn := testutil.SetupTestDB(t)
	s := NewSQLStore(conn, db.SQLite)
	pollID := testutil.CreateTestPoll(t, conn, testutil.PollFixture{})

	if _, err := s.InsertBallot(ctx, models.Ballot{UserID: "u1", PollID: pollID, SelectedIndices: []int{1}}); err != nil {
		t.Fatal(err)
	}
	_, err := s.InsertBallot(ctx, models.Ballot{UserID: "u1", PollID: pollID, SelectedIndices: []int{0}})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	b, err := s.FindBallot(ctx, pollID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if b == nil || b.SelectedIndex != 1 || len(b.Indices()) != 1 {
		t.Errorf("unexpected ballot %+v", b)
	}

	none, err := s.FindBallot(ctx, pollID, "u2")
	if err != nil || none != nil {
		t.Errorf("expected no ballot for u2, got %+v, %v", none, err)
	}
}

func TestCompareAndSwapTally(t *testing.T) {
	ctx := context.Background()
	conn := testutil.SetupTestDB(t)
	s := NewSQLStore(conn, db.SQLite)
	pollID := testutil.CreateTestPoll(t, conn, testutil.PollFixture{})

	next := []models.Option{{Text: "A", Votes: 1}, {Text: "B"}}
	ok, err := s.CompareAndSwapTally(ctx, pollID, 0, next, 1)
	if err != nil || !ok {
		t.Fatalf("first CAS: ok=%v err=%v", ok, err)
	}

	ok, err = s.CompareAndSwapTally(ctx, pollID, 0, next, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("stale CAS should not apply")
	}

	counts, total := testutil.ReadTally(t, conn, pollID)
	if counts[0] != 1 || counts[1] != 0 || total != 1 {
		t.Errorf("tally = %v / %d, want [1 0] / 1", counts, total)
	}
}

func TestCompareAndSwapTally_RevisionGuardsSameTotal(t *testing.T) {
	ctx := context.Background()
	conn := testutil.SetupTestDB(t)
	s := NewSQLStore(conn, db.SQLite)
	pollID := testutil.CreateTestPoll(t, conn, testutil.PollFixture{Counts: []int{3, 2}})

	stale, err := s.GetPoll(ctx, pollID)
	if err != nil {
		t.Fatal(err)
	}

	// A recount moves a vote between options without changing the total.
	repaired := []models.Option{{Text: "A", Votes: 4}, {Text: "B", Votes: 1}}
	if ok, err := s.CompareAndSwapTally(ctx, pollID, stale.TallyRev, repaired, 5); err != nil || !ok {
		t.Fatalf("recount CAS: ok=%v err=%v", ok, err)
	}

	next := []models.Option{{Text: "A", Votes: 3}, {Text: "B", Votes: 3}}
	ok, err := s.CompareAndSwapTally(ctx, pollID, stale.TallyRev, next, 6)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("swap built from counts read before the recount should not apply")
	}

	counts, total := testutil.ReadTally(t, conn, pollID)
	if counts[0] != 4 || counts[1] != 1 || total != 5 {
		t.Errorf("tally = %v / %d, want [4 1] / 5", counts, total)
	}

	current, err := s.GetPoll(ctx, pollID)
	if err != nil {
		t.Fatal(err)
	}
	if current.TallyRev != stale.TallyRev+1 {
		t.Errorf("TallyRev = %d, want %d", current.TallyRev, stale.TallyRev+1)
	}
}

func TestCountSelections(t *testing.T) {
	ctx := context.Background()
	conn := testutil.SetupTestDB(t)
	s := NewSQLStore(conn, db.SQLite)
	pollID := testutil.CreateTestPoll(t, conn, testutil.PollFixture{Options: []string{"A", "B", "C"}, AllowMultiple: true})

	testutil.InsertTestBallot(t, conn, pollID, "u1", 0, 2)
	testutil.InsertTestBallot(t, conn, pollID, "u2", 2)

	counts, err := s.CountSelections(ctx, pollID)
	if err != nil {
		t.Fatal(err)
	}
	if counts[0] != 1 || counts[1] != 0 || counts[2] != 2 {
		t.Errorf("CountSelections() = %v", counts)
	}
}

func TestDeletePoll(t *testing.T) {
	ctx := context.Background()
	conn := testutil.SetupTestDB(t)
	s := NewSQLStore(conn, db.SQLite)
	pollID := testutil.CreateTestPoll(t, conn, testutil.PollFixture{})
	testutil.InsertTestBallot(t, conn, pollID, "u1", 0)

	if err := s.DeletePoll(ctx, pollID); err != nil {
		t.Fatal(err)
	}
	if testutil.CountBallots(t, conn, pollID, "") != 0 {
		t.Error("ballots not deleted with poll")
	}
	if err := s.DeletePoll(ctx, pollID); !IsNotFound(err) {
		t.Errorf("second delete: expected not found, got %v", err)
	}
}

func TestListMessages_NewestPageAscending(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		content := string(rune('a' + i))
		_, err := s.InsertMessage(ctx, models.ChatMessage{
			RoomID:     "r1",
			SenderName: "ayu",
			Content:    &content,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	other := "x"
	if _, err := s.InsertMessage(ctx, models.ChatMessage{RoomID: "r2", SenderName: "b", Content: &other}); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.ListMessages(ctx, "r1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	want := []string{"c", "d", "e"}
	for i, m := range msgs {
		if m.Content == nil || *m.Content != want[i] {
			t.Errorf("msgs[%d] = %v, want %s", i, m.Content, want[i])
		}
		if m.RoomID != "r1" {
			t.Errorf("message from wrong room: %+v", m)
		}
	}
	if !msgs[0].Timestamp.Before(msgs[2].Timestamp) {
		t.Error("expected ascending timestamps")
	}
}

func TestGateway_InsertMessagePublishes(t *testing.T) {
	ctx := context.Background()
	hub := realtime.NewHub(nil)
	defer hub.Close()
	g := New(newStore(t), hub)

	got := make(chan models.ChatMessage, 1)
	ready := make(chan struct{})
	_, err := g.Subscribe(ctx, "r1", func(m models.ChatMessage) { got <- m }, func(s realtime.Status, _ error) {
		if s == realtime.Subscribed {
			close(ready)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	<-ready

	content := "hello"
	stored, err := g.InsertMessage(ctx, models.ChatMessage{RoomID: "r1", SenderName: "ayu", Content: &content})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-got:
		if m.ID != stored.ID {
			t.Errorf("published id %s, stored id %s", m.ID, stored.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message was not published")
	}
}

func TestGateway_PublishFailureNotReturned(t *testing.T) {
	hub := realtime.NewHub(nil)
	hub.Close()
	g := New(newStore(t), hub)

	content := "hello"
	if _, err := g.InsertMessage(context.Background(), models.ChatMessage{RoomID: "r1", SenderName: "a", Content: &content}); err != nil {
		t.Errorf("publish failure should not fail the insert: %v", err)
	}
}
