package tally

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kpuvote/kpu-vote/apperr"
	"github.com/kpuvote/kpu-vote/db"
	"github.com/kpuvote/kpu-vote/gateway"
	"github.com/kpuvote/kpu-vote/models"
	"github.com/kpuvote/kpu-vote/testutil"
)

// failingTally lets Phase A through and breaks the aggregate write.
type failingTally struct {
	*gateway.SQLStore
	casErr error
	lose   int // number of CAS calls that report contention
	calls  int
}

func (f *failingTally) CompareAndSwapTally(ctx context.Context, pollID string, expected int64, options []models.Option, count int) (bool, error) {
	f.calls++
	if f.casErr != nil {
		return false, f.casErr
	}
	if f.calls <= f.lose {
		return false, nil
	}
	return f.SQLStore.CompareAndSwapTally(ctx, pollID, expected, options, count)
}

func setup(t *testing.T) (*gateway.SQLStore, func(testutil.PollFixture) string, func(string) ([]int, int)) {
	t.Helper()
	conn := testutil.SetupTestDB(t)
	store := gateway.NewSQLStore(conn, db.SQLite)
	create := func(f testutil.PollFixture) string { return testutil.CreateTestPoll(t, conn, f) }
	read := func(id string) ([]int, int) { return testutil.ReadTally(t, conn, id) }
	return store, create, read
}

func TestValidate(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	open := models.Poll{DueDate: now.Add(time.Hour), Options: []models.Option{{Text: "A"}, {Text: "B"}, {Text: "C"}}}
	multi := open
	multi.AllowMultiple = true
	closed := open
	closed.DueDate = now

	tests := []struct {
		name    string
		poll    models.Poll
		indices []int
		want    []int
		wantErr bool
	}{
		{"single", open, []int{1}, []int{1}, false},
		{"empty", open, nil, nil, true},
		{"out of range", open, []int{3}, nil, true},
		{"negative", open, []int{-1}, nil, true},
		{"two on single select", open, []int{0, 1}, nil, true},
		{"duplicate collapses", open, []int{2, 2}, []int{2}, false},
		{"multi sorted", multi, []int{2, 0, 2}, []int{0, 2}, false},
		{"closed at due date", closed, []int{0}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.poll, tt.indices, now)
			if tt.wantErr {
				if !apperr.Is(err, apperr.Validation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Validate() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Validate() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSubmit_SingleVote(t *testing.T) {
	store, create, read := setup(t)
	pollID := create(testutil.PollFixture{Options: []string{"A", "B"}})

	out, err := New(store).Submit(context.Background(), pollID, "u1", []int{0})
	if err != nil {
		t.Fatal(err)
	}

	counts, total := read(pollID)
	if counts[0] != 1 || counts[1] != 0 || total != 1 {
		t.Errorf("stored tally = %v / %d, want [1 0] / 1", counts, total)
	}
	if out.Poll.Options[0].Votes != 1 || out.Poll.VotesCount != 1 || out.Partial {
		t.Errorf("unexpected outcome %+v", out)
	}
	if !out.Poll.TallyConsistent() {
		t.Error("outcome poll violates votes_count == sum(counts)")
	}
}

func TestSubmit_PastDueWritesNothing(t *testing.T) {
	store, create, read := setup(t)
	conn := store.DB()
	pollID := create(testutil.PollFixture{DueDate: time.Now().Add(-time.Minute)})

	_, err := New(store).Submit(context.Background(), pollID, "u1", []int{0})
	if !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := testutil.CountBallots(t, conn, pollID, ""); n != 0 {
		t.Errorf("expected no ballots, got %d", n)
	}
	if _, total := read(pollID); total != 0 {
		t.Errorf("tally changed: %d", total)
	}
}

func TestSubmit_SecondAttemptAlreadyVoted(t *testing.T) {
	store, create, read := setup(t)
	pollID := create(testutil.PollFixture{})
	r := New(store)

	if _, err := r.Submit(context.Background(), pollID, "u1", []int{0}); err != nil {
		t.Fatal(err)
	}
	_, err := r.Submit(context.Background(), pollID, "u1", []int{1})
	if !apperr.Is(err, apperr.AlreadyVoted) {
		t.Fatalf("expected AlreadyVoted, got %v", err)
	}
	if counts, total := read(pollID); counts[1] != 0 || total != 1 {
		t.Errorf("second attempt changed tally: %v / %d", counts, total)
	}
}

func TestSubmit_ConcurrentSameUser(t *testing.T) {
	store, create, read := setup(t)
	conn := store.DB()
	pollID := create(testutil.PollFixture{})
	r := New(store)

	const tabs = 8
	var wg sync.WaitGroup
	var ok, already atomic.Int32

	for i := 0; i < tabs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Submit(context.Background(), pollID, "u1", []int{0})
			switch {
			case err == nil:
				ok.Add(1)
			case apperr.Is(err, apperr.AlreadyVoted):
				already.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 1 || already.Load() != tabs-1 {
		t.Errorf("ok=%d already=%d, want 1 and %d", ok.Load(), already.Load(), tabs-1)
	}
	if n := testutil.CountBallots(t, conn, pollID, "u1"); n != 1 {
		t.Errorf("expected exactly one ballot, got %d", n)
	}
	if counts, total := read(pollID); counts[0] != 1 || total != 1 {
		t.Errorf("tally = %v / %d, want [1 0] / 1", counts, total)
	}
}

func TestSubmit_ConcurrentUsersNoLostUpdate(t *testing.T) {
	store, create, read := setup(t)
	pollID := create(testutil.PollFixture{})
	r := New(store)

	users := []string{"u1", "u2", "u3", "u4", "u5"}
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			if _, err := r.Submit(context.Background(), pollID, user, []int{1}); err != nil {
				t.Errorf("submit %s: %v", user, err)
			}
		}(u)
	}
	wg.Wait()

	counts, total := read(pollID)
	if counts[1] != len(users) || total != len(users) {
		t.Errorf("tally = %v / %d, want option B = %d", counts, total, len(users))
	}
}

func TestSubmit_MultiSelect(t *testing.T) {
	store, create, read := setup(t)
	pollID := create(testutil.PollFixture{Options: []string{"A", "B", "C"}, AllowMultiple: true})

	if _, err := New(store).Submit(context.Background(), pollID, "u1", []int{2, 0}); err != nil {
		t.Fatal(err)
	}
	counts, total := read(pollID)
	if counts[0] != 1 || counts[1] != 0 || counts[2] != 1 || total != 2 {
		t.Errorf("tally = %v / %d, want [1 0 1] / 2", counts, total)
	}
}

func TestSubmit_PartialSuccess(t *testing.T) {
	store, create, read := setup(t)
	pollID := create(testutil.PollFixture{})
	broken := &failingTally{SQLStore: store, casErr: errors.New("connection reset")}

	out, err := New(broken).Submit(context.Background(), pollID, "u1", []int{0})
	if !apperr.Is(err, apperr.PartialSuccess) {
		t.Fatalf("expected PartialSuccess, got %v", err)
	}
	if !out.Partial || out.Ballot.ID == "" {
		t.Errorf("expected partial outcome with ballot, got %+v", out)
	}
	if out.Poll.Options[0].Votes != 1 {
		t.Errorf("optimistic poll not updated: %+v", out.Poll)
	}

	b, err := store.FindBallot(context.Background(), pollID, "u1")
	if err != nil || b == nil {
		t.Fatalf("ballot should be recorded after partial success: %v", err)
	}
	if _, total := read(pollID); total != 0 {
		t.Errorf("stored tally should be stale, got %d", total)
	}

	// Recount repairs it
	poll, err := New(store).Recount(context.Background(), pollID)
	if err != nil {
		t.Fatal(err)
	}
	if poll.VotesCount != 1 || poll.Options[0].Votes != 1 {
		t.Errorf("recount = %+v", poll)
	}
	if counts, total := read(pollID); counts[0] != 1 || total != 1 {
		t.Errorf("stored tally after recount = %v / %d", counts, total)
	}
}

func TestSubmit_ContentionRetries(t *testing.T) {
	store, create, read := setup(t)
	pollID := create(testutil.PollFixture{})
	flaky := &failingTally{SQLStore: store, lose: 3}

	out, err := New(flaky).Submit(context.Background(), pollID, "u1", []int{1})
	if err != nil {
		t.Fatal(err)
	}
	if out.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", out.Attempts)
	}
	if counts, total := read(pollID); counts[1] != 1 || total != 1 {
		t.Errorf("tally = %v / %d", counts, total)
	}
}

func TestSubmit_ContentionExhausted(t *testing.T) {
	store, create, _ := setup(t)
	pollID := create(testutil.PollFixture{})
	flaky := &failingTally{SQLStore: store, lose: MaxCASAttempts}

	_, err := New(flaky).Submit(context.Background(), pollID, "u1", []int{1})
	if !apperr.Is(err, apperr.PartialSuccess) || !errors.Is(err, ErrContention) {
		t.Errorf("expected PartialSuccess wrapping ErrContention, got %v", err)
	}
}

func TestSubmit_Errors(t *testing.T) {
	store, _, _ := setup(t)
	r := New(store)

	if _, err := r.Submit(context.Background(), "missing", "u1", []int{0}); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if _, err := r.Submit(context.Background(), "missing", "", []int{0}); !apperr.Is(err, apperr.Unauthenticated) {
		t.Errorf("expected Unauthenticated, got %v", err)
	}
}

func TestRecount_RepairsDrift(t *testing.T) {
	store, create, read := setup(t)
	conn := store.DB()
	pollID := create(testutil.PollFixture{Options: []string{"A", "B"}, Counts: []int{5, 5}})
	testutil.InsertTestBallot(t, conn, pollID, "u1", 0)
	testutil.InsertTestBallot(t, conn, pollID, "u2", 0)
	testutil.InsertTestBallot(t, conn, pollID, "u3", 1)

	r := New(store)
	for i := 0; i < 2; i++ {
		if _, err := r.Recount(context.Background(), pollID); err != nil {
			t.Fatal(err)
		}
		counts, total := read(pollID)
		if counts[0] != 2 || counts[1] != 1 || total != 3 {
			t.Errorf("pass %d: tally = %v / %d, want [2 1] / 3", i+1, counts, total)
		}
	}
}

// recountFirst runs a full recount just before the first tally swap, after
// the caller has already read the counts it will write from.
type recountFirst struct {
	*gateway.SQLStore
	fired bool
}

func (s *recountFirst) CompareAndSwapTally(ctx context.Context, pollID string, expected int64, options []models.Option, count int) (bool, error) {
	if !s.fired {
		s.fired = true
		if _, err := New(s.SQLStore).Recount(ctx, pollID); err != nil {
			return false, err
		}
	}
	return s.SQLStore.CompareAndSwapTally(ctx, pollID, expected, options, count)
}

func TestSubmit_RecountBetweenReadAndSwap(t *testing.T) {
	store, create, read := setup(t)
	conn := store.DB()
	// Drifted split with the right total.
	pollID := create(testutil.PollFixture{Options: []string{"A", "B"}, Counts: []int{3, 3}})
	for _, u := range []string{"u1", "u2", "u3", "u4"} {
		testutil.InsertTestBallot(t, conn, pollID, u, 0)
	}
	testutil.InsertTestBallot(t, conn, pollID, "u5", 1)

	out, err := New(&recountFirst{SQLStore: store}).Submit(context.Background(), pollID, "u6", []int{1})
	if err != nil {
		t.Fatal(err)
	}
	if out.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", out.Attempts)
	}

	counts, total := read(pollID)
	if counts[0] != 4 {
		t.Errorf("recount repair of option A lost: tally = %v / %d", counts, total)
	}
	if counts[0]+counts[1] != total {
		t.Errorf("votes_count %d != sum %v", total, counts)
	}

	if _, err := New(store).Recount(context.Background(), pollID); err != nil {
		t.Fatal(err)
	}
	if counts, total := read(pollID); counts[0] != 4 || counts[1] != 2 || total != 6 {
		t.Errorf("after recount tally = %v / %d, want [4 2] / 6", counts, total)
	}
}

func TestApply(t *testing.T) {
	p := models.Poll{Options: []models.Option{{Text: "A"}, {Text: "B"}}}
	next := Apply(p, []int{0})

	if next.Options[0].Votes != 1 || next.Options[1].Votes != 0 || next.VotesCount != 1 {
		t.Errorf("Apply() = %+v", next)
	}
	if p.Options[0].Votes != 0 {
		t.Error("Apply() mutated its input")
	}
}
