package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/restolabs/possync/internal/models"
	"github.com/restolabs/possync/internal/repository"
	"github.com/restolabs/possync/internal/toast"
)

type queueCall struct {
	op      string
	jobID   string
	errCode string
}

// fakeQueue hands out a fixed list of jobs and records every finalization.
type fakeQueue struct {
	jobs  []*models.SyncJob
	calls []queueCall

	staleRecovered int64
	gcDeleted      int64
}

func (q *fakeQueue) ClaimNext(ctx context.Context) (*models.SyncJob, error) {
	if len(q.jobs) == 0 {
		return nil, repository.ErrNoPendingJobs
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	job.Status = models.JobStatusProcessing
	job.Attempts++
	return job, nil
}

func (q *fakeQueue) Complete(ctx context.Context, jobID string, result models.SyncResult) error {
	q.calls = append(q.calls, queueCall{op: "complete", jobID: jobID})
	return nil
}

func (q *fakeQueue) Requeue(ctx context.Context, jobID, errMsg, errCode string) error {
	q.calls = append(q.calls, queueCall{op: "requeue", jobID: jobID, errCode: errCode})
	return nil
}

func (q *fakeQueue) Fail(ctx context.Context, jobID, errMsg, errCode string) error {
	q.calls = append(q.calls, queueCall{op: "fail", jobID: jobID, errCode: errCode})
	return nil
}

func (q *fakeQueue) RequeueStale(ctx context.Context, now time.Time) (int64, error) {
	n := q.staleRecovered
	q.staleRecovered = 0
	return n, nil
}

func (q *fakeQueue) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n := q.gcDeleted
	q.gcDeleted = 0
	return n, nil
}

type fakeProcessor struct {
	errs map[string]error
	runs int
}

func (p *fakeProcessor) Process(ctx context.Context, job *models.SyncJob) (models.SyncResult, error) {
	p.runs++
	if err := p.errs[job.ID]; err != nil {
		return models.SyncResult{}, err
	}
	return models.SyncResult{RecordsImported: 10, WindowsProcessed: 1}, nil
}

func newTestWatcher(queue JobQueue, processor Processor) *Watcher {
	return New(queue, processor, 10*time.Millisecond, 24*time.Hour)
}

func TestTickCompletesSuccessfulJob(t *testing.T) {
	queue := &fakeQueue{jobs: []*models.SyncJob{
		{ID: "job-ok", TenantID: "t1", MaxAttempts: 3},
	}}
	proc := &fakeProcessor{}
	w := newTestWatcher(queue, proc)

	w.tick(context.Background())

	if proc.runs != 1 {
		t.Fatalf("expected 1 run, got %d", proc.runs)
	}
	if len(queue.calls) != 1 || queue.calls[0].op != "complete" || queue.calls[0].jobID != "job-ok" {
		t.Errorf("expected complete(job-ok), got %+v", queue.calls)
	}
}

func TestTickDrainsAllPendingJobs(t *testing.T) {
	queue := &fakeQueue{jobs: []*models.SyncJob{
		{ID: "job-1", TenantID: "t1", MaxAttempts: 3},
		{ID: "job-2", TenantID: "t2", MaxAttempts: 3},
		{ID: "job-3", TenantID: "t3", MaxAttempts: 3},
	}}
	proc := &fakeProcessor{}
	w := newTestWatcher(queue, proc)

	w.tick(context.Background())

	if proc.runs != 3 {
		t.Errorf("expected all 3 jobs processed in one tick, got %d", proc.runs)
	}
}

func TestTickRequeuesRetryableFailure(t *testing.T) {
	queue := &fakeQueue{jobs: []*models.SyncJob{
		{ID: "job-flaky", TenantID: "t1", MaxAttempts: 3},
	}}
	proc := &fakeProcessor{errs: map[string]error{
		"job-flaky": errors.New("vendor timeout"),
	}}
	w := newTestWatcher(queue, proc)

	w.tick(context.Background())

	if len(queue.calls) != 1 || queue.calls[0].op != "requeue" {
		t.Fatalf("expected a requeue, got %+v", queue.calls)
	}
	if queue.calls[0].errCode != models.ErrCodeVendor {
		t.Errorf("expected %s, got %s", models.ErrCodeVendor, queue.calls[0].errCode)
	}
}

func TestTickFailsWhenAttemptsExhausted(t *testing.T) {
	// Attempts is bumped to MaxAttempts by the claim, so this retryable
	// failure is the last one allowed.
	queue := &fakeQueue{jobs: []*models.SyncJob{
		{ID: "job-exhausted", TenantID: "t1", Attempts: 2, MaxAttempts: 3},
	}}
	proc := &fakeProcessor{errs: map[string]error{
		"job-exhausted": errors.New("vendor timeout"),
	}}
	w := newTestWatcher(queue, proc)

	w.tick(context.Background())

	if len(queue.calls) != 1 || queue.calls[0].op != "fail" {
		t.Fatalf("expected a terminal fail, got %+v", queue.calls)
	}
	if queue.calls[0].errCode != models.ErrCodeMaxAttempts {
		t.Errorf("expected %s, got %s", models.ErrCodeMaxAttempts, queue.calls[0].errCode)
	}
}

func TestTickFailsNonRetryableImmediately(t *testing.T) {
	queue := &fakeQueue{jobs: []*models.SyncJob{
		{ID: "job-badcreds", TenantID: "t1", MaxAttempts: 3},
	}}
	proc := &fakeProcessor{errs: map[string]error{
		"job-badcreds": toast.ErrAuthenticationFailed,
	}}
	w := newTestWatcher(queue, proc)

	w.tick(context.Background())

	if len(queue.calls) != 1 || queue.calls[0].op != "fail" {
		t.Fatalf("expected a terminal fail on first attempt, got %+v", queue.calls)
	}
	if queue.calls[0].errCode != models.ErrCodeAuthFailed {
		t.Errorf("expected %s, got %s", models.ErrCodeAuthFailed, queue.calls[0].errCode)
	}
}

func TestTickAbandonsLostLease(t *testing.T) {
	queue := &fakeQueue{jobs: []*models.SyncJob{
		{ID: "job-stolen", TenantID: "t1", MaxAttempts: 3},
	}}
	proc := &fakeProcessor{errs: map[string]error{
		"job-stolen": repository.ErrLeaseLost,
	}}
	w := newTestWatcher(queue, proc)

	w.tick(context.Background())

	// The sweeper owns the job now; no finalization of any kind.
	if len(queue.calls) != 0 {
		t.Errorf("expected no finalization for a lost lease, got %+v", queue.calls)
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	queue := &fakeQueue{}
	w := newTestWatcher(queue, &fakeProcessor{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
