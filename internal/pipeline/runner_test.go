package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/coordinator"
	"github.com/scoutlab/scholarhunt/internal/history"
	"github.com/scoutlab/scholarhunt/internal/hunter"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job%05d", g.n), nil
}

func newRunner(t *testing.T) (*Runner, *fakeMailer, *coordinator.Coordinator) {
	t.Helper()
	clock := fixedClock{t: time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)}
	coord, err := coordinator.New(t.TempDir(), "job_lock.json", "job_queue.json", "jobs", 4*time.Hour, clock, &seqIDs{}, zap.NewNop())
	if err != nil {
		t.Fatalf("coordinator.New() error = %v", err)
	}

	src := &fakeSource{name: "portal", postings: []hunter.Posting{
		{Title: "PhD Position in 6G Networks", URL: "https://example.edu/1"},
	}}
	prober := &fakeProber{results: map[string]hunter.ProbeResult{
		"https://example.edu/1": {StatusCode: http.StatusOK, BodyText: "open"},
	}}
	store := history.Open(filepath.Join(t.TempDir(), "job_history.json"), clock, zap.NewNop())
	mailer := &fakeMailer{}

	r := &Runner{
		Coord: coord,
		Pipe: &Pipeline{
			Sources: []hunter.Source{src},
			History: store,
			Prober:  prober,
			Links:   &passLinks{},
			Mailer:  mailer,
			Clock:   clock,
			Logger:  zap.NewNop(),
		},
		IDGen:               &seqIDs{},
		Clock:               clock,
		Logger:              zap.NewNop(),
		DefaultPositionType: hunter.PositionPhD,
	}
	return r, mailer, coord
}

func TestExecuteRunsAndReleases(t *testing.T) {
	t.Parallel()

	r, mailer, coord := newRunner(t)
	if err := r.Execute(context.Background(), "manual", "", "", openParams()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if coord.IsLocked() {
		t.Fatal("expected lock released after run")
	}
	if len(mailer.reports) != 1 {
		t.Fatalf("expected one digest, got %d", len(mailer.reports))
	}

	state, err := coord.Status("job00001")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if state == nil || state.Status != coordinator.StatusSuccess {
		t.Fatalf("expected terminal success status, got %+v", state)
	}
	if !strings.Contains(state.Result, "1 new") {
		t.Fatalf("expected summary in result, got %q", state.Result)
	}
}

func TestExecuteWhileLockedReturnsErrLocked(t *testing.T) {
	t.Parallel()

	r, _, coord := newRunner(t)
	if _, ok := coord.Acquire("manual", openParams()); !ok {
		t.Fatal("expected acquire to succeed")
	}
	err := r.Execute(context.Background(), "manual", "", "", openParams())
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if !coord.IsLocked() {
		t.Fatal("expected existing lock untouched")
	}
}

func TestExecuteWithPresetJobIDSkipsAcquire(t *testing.T) {
	t.Parallel()

	r, _, coord := newRunner(t)
	// Dashboard flow: lock already held for this job.
	token, ok := coord.Acquire("dashboard", openParams())
	if !ok {
		t.Fatal("expected acquire to succeed")
	}
	if err := r.Execute(context.Background(), "dashboard", "abc12345", token, openParams()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if coord.IsLocked() {
		t.Fatal("expected lock released after run")
	}
	state, err := coord.Status("abc12345")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if state == nil || state.Status != coordinator.StatusSuccess {
		t.Fatalf("expected success for preset job id, got %+v", state)
	}
}

func TestExecuteFailureStillReleasesAndRecords(t *testing.T) {
	t.Parallel()

	r, mailer, coord := newRunner(t)
	mailer.err = errors.New("smtp refused")

	err := r.Execute(context.Background(), "manual", "", "", openParams())
	if err == nil {
		t.Fatal("expected run error surfaced")
	}
	if coord.IsLocked() {
		t.Fatal("expected lock released despite failure")
	}
	state, serr := coord.Status("job00001")
	if serr != nil {
		t.Fatalf("Status() error = %v", serr)
	}
	if state == nil || state.Status != coordinator.StatusFailed {
		t.Fatalf("expected failed terminal status, got %+v", state)
	}
	if !strings.Contains(state.Result, "smtp refused") {
		t.Fatalf("expected failure reason recorded, got %q", state.Result)
	}
}

func TestExecuteDrainsQueuedRuns(t *testing.T) {
	t.Parallel()

	r, mailer, coord := newRunner(t)

	firstID, err := coord.Enqueue(hunter.RunParams{User: "bob", Recipient: "bob@example.com"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	secondID, err := coord.Enqueue(hunter.RunParams{User: "carol", Recipient: "carol@example.com"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := r.Execute(context.Background(), "manual", "", "", openParams()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if coord.QueueLen() != 0 {
		t.Fatalf("expected queue drained, got %d entries", coord.QueueLen())
	}
	if coord.IsLocked() {
		t.Fatal("expected lock released after drain")
	}
	// Digest per run: the direct run plus both queued runs.
	if len(mailer.reports) != 3 {
		t.Fatalf("expected 3 digests, got %d", len(mailer.reports))
	}
	for _, id := range []string{firstID, secondID} {
		state, err := coord.Status(id)
		if err != nil {
			t.Fatalf("Status(%s) error = %v", id, err)
		}
		if state == nil || state.Status != coordinator.StatusSuccess {
			t.Fatalf("expected queued job %s to finish, got %+v", id, state)
		}
	}
}

func TestDrainPreservesQueuedRunParams(t *testing.T) {
	t.Parallel()

	r, mailer, coord := newRunner(t)
	r.Pipe.Sources = []hunter.Source{&fakeSource{name: "portal", postings: []hunter.Posting{
		{Title: "Postdoctoral Fellow in Massive MIMO", URL: "https://example.edu/pd"},
	}}}
	r.Pipe.Prober = &fakeProber{results: map[string]hunter.ProbeResult{
		"https://example.edu/pd": {StatusCode: http.StatusOK, BodyText: "open"},
	}}

	queued := hunter.RunParams{
		User:         "bob",
		Recipient:    "bob@example.com",
		PositionType: hunter.PositionPostDoc,
	}
	if _, err := coord.Enqueue(queued); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := r.Execute(context.Background(), "manual", "", "", openParams()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(mailer.reports) != 2 {
		t.Fatalf("expected 2 digests, got %d", len(mailer.reports))
	}
	// The direct run searches for PhD positions and must skip the postdoc
	// posting; the drained run keeps the postdoc filter it was queued with.
	if len(mailer.reports[0].NewJobs) != 0 {
		t.Fatalf("expected no matches for the direct phd run, got %+v", mailer.reports[0].NewJobs)
	}
	if len(mailer.reports[1].NewJobs) != 1 {
		t.Fatalf("expected the queued postdoc run to match, got %+v", mailer.reports[1].NewJobs)
	}
}

func TestExecuteWithSupersededTokenLeavesHolderAndQueue(t *testing.T) {
	t.Parallel()

	r, _, coord := newRunner(t)
	if _, ok := coord.Acquire("manual", openParams()); !ok {
		t.Fatal("expected acquire to succeed")
	}
	queuedID, err := coord.Enqueue(hunter.RunParams{User: "bob", Recipient: "bob@example.com"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	// A run whose lock was torn down and re-granted elsewhere: its release
	// must not unlock the current holder, and the queue entry it pops
	// while failing to reacquire must go back to the head.
	if err := r.Execute(context.Background(), "dashboard", "zzz12345", "superseded", openParams()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	info := coord.LockInfo()
	if info == nil || info.User != "alice" {
		t.Fatalf("expected alice's lock intact, got %+v", info)
	}
	if got := coord.Position(queuedID); got != 1 {
		t.Fatalf("expected queued entry back at position 1, got %d", got)
	}
}

type blockingSource struct {
	started     chan struct{}
	release     chan struct{}
	honorCancel bool
}

func (s *blockingSource) Name() string { return "slow-portal" }

func (s *blockingSource) Fetch(ctx context.Context) ([]hunter.Posting, error) {
	close(s.started)
	if s.honorCancel {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.release:
		}
		return nil, nil
	}
	<-s.release
	return nil, nil
}

func TestTerminateStopsInProcessRun(t *testing.T) {
	t.Parallel()

	r, _, coord := newRunner(t)
	src := &blockingSource{started: make(chan struct{}), release: make(chan struct{}), honorCancel: true}
	r.Pipe.Sources = []hunter.Source{src}

	token, ok := coord.Acquire("dashboard", openParams())
	if !ok {
		t.Fatal("expected acquire to succeed")
	}
	done := make(chan error, 1)
	go func() {
		done <- r.Execute(context.Background(), "dashboard", "abc12345", token, openParams())
	}()
	<-src.started

	coord.Terminate(2 * time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run still in flight after terminate returned")
	}
	if coord.IsLocked() {
		t.Fatal("expected lock cleared by terminate")
	}
	if got := coord.QueueLen(); got != 0 {
		t.Fatalf("expected queue cleared by terminate, got %d", got)
	}
}

func TestTerminateStuckRunCannotClobberSuccessor(t *testing.T) {
	t.Parallel()

	r, _, coord := newRunner(t)
	src := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	r.Pipe.Sources = []hunter.Source{src}

	token, ok := coord.Acquire("dashboard", openParams())
	if !ok {
		t.Fatal("expected acquire to succeed")
	}
	done := make(chan error, 1)
	go func() {
		done <- r.Execute(context.Background(), "dashboard", "abc12345", token, openParams())
	}()
	<-src.started

	// The run ignores cancellation, so terminate gives up after the grace
	// period and force-clears the lock.
	coord.Terminate(50 * time.Millisecond)
	if coord.IsLocked() {
		t.Fatal("expected lock force-cleared after the grace period")
	}

	successor, ok := coord.Acquire("manual", hunter.RunParams{User: "bob", Recipient: "bob@example.com"})
	if !ok {
		t.Fatal("expected a new run to acquire after terminate")
	}

	// Let the abandoned run finish: its release carries a superseded token
	// and must leave the successor's lock in place.
	close(src.release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("abandoned run never finished")
	}
	info := coord.LockInfo()
	if info == nil || info.User != "bob" {
		t.Fatalf("expected the successor's lock to survive the late release, got %+v", info)
	}
	coord.Release(successor)
}
