package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/vidsub/internal/apperr"
	"github.com/MimeLyc/vidsub/pkg/log"
)

// Executor runs one job. ctx is cancelled by Queue.Cancel and Queue.Stop.
type Executor func(ctx context.Context, job *ExtractionJob) (*Result, error)

// Queue runs extraction jobs on a fixed worker pool in front of the
// transcoding engine.
type Queue struct {
	workerCount int
	maxJobs     int
	store       Store

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu         sync.RWMutex
	jobs       map[string]*ExtractionJob
	dedupe     map[string]string
	running    map[string]context.CancelFunc
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewQueue(workerCount int, store Store) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		workerCount: workerCount,
		maxJobs:     1000,
		store:       store,
		baseCtx:     ctx,
		baseCancel:  cancel,
		jobs:        make(map[string]*ExtractionJob),
		dedupe:      make(map[string]string),
		running:     make(map[string]context.CancelFunc),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
	}
	q.hydrateFromStore(context.Background())
	return q
}

// Enqueue adds a job. When an active job with the same dedupe key exists it
// is returned instead and created is false.
func (q *Queue) Enqueue(req EnqueueRequest) (job *ExtractionJob, created bool) {
	now := time.Now().UTC()

	q.mu.Lock()
	if id, ok := q.dedupe[req.DedupeKey]; ok {
		if existing, exists := q.jobs[id]; exists {
			snapshot := cloneJob(existing)
			q.mu.Unlock()
			return snapshot, false
		}
		delete(q.dedupe, req.DedupeKey)
	}

	id := uuid.NewString()
	fresh := &ExtractionJob{
		ID:        id,
		Source:    req.Source,
		DedupeKey: req.DedupeKey,
		Payload:   req.Payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.jobs[id] = fresh
	if req.DedupeKey != "" {
		q.dedupe[req.DedupeKey] = id
	}
	started := q.started
	snapshot := cloneJob(fresh)
	q.mu.Unlock()

	q.persistJob(snapshot)
	if started {
		q.enqueuePendingID(id)
	}
	return snapshot, true
}

func (q *Queue) Get(id string) (*ExtractionJob, bool) {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// List returns a snapshot of every job, newest first.
func (q *Queue) List() []*ExtractionJob {
	q.mu.RLock()
	ret := make([]*ExtractionJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		ret = append(ret, cloneJob(job))
	}
	q.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].CreatedAt.After(ret[j].CreatedAt)
	})
	return ret
}

// Cancel stops a pending or running job. A pending job is marked cancelled
// immediately; a running job is marked once its executor returns.
func (q *Queue) Cancel(id string) (*ExtractionJob, error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return nil, apperr.New(apperr.ErrNotFound, "job not found").WithContext("job_id", id)
	}

	switch job.Status {
	case StatusPending:
		job.Status = StatusCancelled
		job.UpdatedAt = time.Now().UTC()
		q.releaseDedupeLocked(job)
		snapshot := cloneJob(job)
		q.mu.Unlock()
		q.persistJob(snapshot)
		log.Info("Cancelled pending extraction job %s", id)
		return snapshot, nil
	case StatusRunning:
		if cancel, ok := q.running[id]; ok {
			cancel()
		}
		snapshot := cloneJob(job)
		q.mu.Unlock()
		log.Info("Cancellation requested for running extraction job %s", id)
		return snapshot, nil
	default:
		snapshot := cloneJob(job)
		q.mu.Unlock()
		return snapshot, nil
	}
}

// Delete forgets a finished job.
func (q *Queue) Delete(id string) error {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return apperr.New(apperr.ErrNotFound, "job not found").WithContext("job_id", id)
	}
	if !job.Status.Terminal() {
		q.mu.Unlock()
		return apperr.Newf(apperr.ErrValidation, "job is %s; cancel it first", job.Status).
			WithContext("job_id", id)
	}
	delete(q.jobs, id)
	q.mu.Unlock()

	q.deleteJobsFromStore([]string{id})
	return nil
}

func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true

	pending := make([]*ExtractionJob, 0)
	for _, job := range q.jobs {
		if job.Status == StatusPending {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	ids := make([]string, 0, len(pending))
	for _, job := range pending {
		ids = append(ids, job.ID)
	}
	q.mu.Unlock()

	for _, id := range ids {
		q.enqueuePendingID(id)
	}

	for range q.workerCount {
		q.wg.Add(1)
		go q.worker(exec)
	}
}

// Stop cancels running jobs and waits for the workers to exit. Interrupted
// jobs are persisted as running and resume as pending on the next start.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.baseCancel()
		q.wg.Wait()
	})
}

func (q *Queue) worker(exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case id := <-q.pendingIDs:
			job, ctx, ok := q.markRunning(id)
			if !ok {
				continue
			}

			result, err := exec(ctx, job)
			q.finish(id, result, err, ctx.Err())
		}
	}
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() {
			select {
			case q.pendingIDs <- id:
			case <-q.stopCh:
			}
		}()
	}
}

func (q *Queue) markRunning(id string) (*ExtractionJob, context.Context, bool) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != StatusPending {
		q.mu.Unlock()
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(q.baseCtx)
	q.running[id] = cancel
	job.Status = StatusRunning
	job.UpdatedAt = time.Now().UTC()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	return snapshot, ctx, true
}

func (q *Queue) finish(id string, result *Result, err error, ctxErr error) {
	q.mu.Lock()
	if cancel, ok := q.running[id]; ok {
		cancel()
		delete(q.running, id)
	}
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}

	stopping := false
	select {
	case <-q.stopCh:
		stopping = true
	default:
	}

	switch {
	case err == nil:
		job.Status = StatusSuccess
		job.Error = ""
		job.Result = result
	case ctxErr != nil && stopping:
		// leave it running so hydrateFromStore requeues it
		snapshot := cloneJob(job)
		q.mu.Unlock()
		log.Warn("Extraction job %s interrupted by shutdown", id)
		q.persistJob(snapshot)
		return
	case ctxErr != nil || errors.Is(err, context.Canceled):
		job.Status = StatusCancelled
		job.Error = err.Error()
	default:
		job.Status = StatusFailed
		job.Error = err.Error()
	}
	job.UpdatedAt = time.Now().UTC()
	q.releaseDedupeLocked(job)
	pruned := q.pruneTerminalJobsLocked()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	switch snapshot.Status {
	case StatusFailed:
		log.Error("Extraction job %s failed: %s", id, snapshot.Error)
	case StatusCancelled:
		log.Info("Extraction job %s cancelled", id)
	default:
		log.Info("Extraction job %s finished", id)
	}
	q.persistJob(snapshot)
	q.deleteJobsFromStore(pruned)
}

func (q *Queue) releaseDedupeLocked(job *ExtractionJob) {
	if job == nil || job.DedupeKey == "" {
		return
	}
	if id, ok := q.dedupe[job.DedupeKey]; ok && id == job.ID {
		delete(q.dedupe, job.DedupeKey)
	}
}

func (q *Queue) pruneTerminalJobsLocked() []string {
	if q.maxJobs <= 0 || len(q.jobs) <= q.maxJobs {
		return nil
	}

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(q.jobs))
	for id, job := range q.jobs {
		if job == nil || !job.Status.Terminal() {
			continue
		}
		terminal = append(terminal, candidate{id: id, updatedAt: job.UpdatedAt})
	}
	if len(terminal) == 0 {
		return nil
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := min(len(q.jobs)-q.maxJobs, len(terminal))
	pruned := make([]string, 0, toRemove)
	for i := 0; i < toRemove; i++ {
		id := terminal[i].id
		if job := q.jobs[id]; job != nil {
			q.releaseDedupeLocked(job)
		}
		delete(q.jobs, id)
		pruned = append(pruned, id)
	}
	return pruned
}

func (q *Queue) deleteJobsFromStore(ids []string) {
	if q.store == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := q.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete job %s from store: %v", id, err)
		}
	}
}

func (q *Queue) hydrateFromStore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	now := time.Now().UTC()
	toPersist := make([]*ExtractionJob, 0)
	q.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		if job.Status == StatusRunning {
			job.Status = StatusPending
			job.UpdatedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		q.jobs[job.ID] = job
		if job.Status == StatusPending && job.DedupeKey != "" {
			q.dedupe[job.DedupeKey] = job.ID
		}
	}
	q.mu.Unlock()

	for _, job := range toPersist {
		q.persistJob(job)
	}
	if len(loaded) > 0 {
		log.Info("Recovered %d extraction jobs from store (%d requeued)", len(loaded), len(toPersist))
	}
}

func (q *Queue) persistJob(job *ExtractionJob) {
	if q.store == nil || job == nil {
		return
	}
	if err := q.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func cloneJob(job *ExtractionJob) *ExtractionJob {
	if job == nil {
		return nil
	}
	tmp := *job
	if job.Result != nil {
		r := *job.Result
		tmp.Result = &r
	}
	return &tmp
}
