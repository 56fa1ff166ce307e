// Package jobqueue implements spec.md §4.7's asynchronous ingestion
// queue: a bounded FIFO of jobs drained by a fixed worker pool, with
// per-file sub-state tracking, cooperative cancellation, and
// lazily-GC'd job retention.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueFull is returned when Submit is called against a full queue.
	ErrQueueFull = errors.New("jobqueue: queue is full")
	// ErrJobNotFound is returned for an unknown or evicted job id.
	ErrJobNotFound = errors.New("jobqueue: job not found")
)

// JobStatus is a job's overall lifecycle state, monotonic:
// Pending -> Running -> (Completed | Failed | Cancelled).
type JobStatus string

const (
	JobPending   JobStatus = "Pending"
	JobRunning   JobStatus = "Running"
	JobCompleted JobStatus = "Completed"
	JobFailed    JobStatus = "Failed"
	JobCancelled JobStatus = "Cancelled"
)

// FileStatus is a single file's progress within a job.
type FileStatus string

const (
	FilePending   FileStatus = "Pending"
	FileParsing   FileStatus = "Parsing"
	FileChunking  FileStatus = "Chunking"
	FileEmbedding FileStatus = "Embedding"
	FileIndexing  FileStatus = "Indexing"
	FileDone      FileStatus = "Done"
	FileFailed    FileStatus = "Failed"
)

// stagePercent mirrors spec.md §4.7's per-file percent table.
var stagePercent = map[FileStatus]int{
	FilePending:   0,
	FileParsing:   20,
	FileChunking:  40,
	FileEmbedding: 80,
	FileIndexing:  100,
	FileDone:      100,
	FileFailed:    0,
}

// InputFile is one file submitted as part of a job.
type InputFile struct {
	Filename string
	Data     []byte
}

// FileProgress is the observable state of a single file within a job.
type FileProgress struct {
	Filename string
	Status   FileStatus
	Percent  int
	Error    string
}

// JobProgress is the observable snapshot returned by GetJobProgress.
type JobProgress struct {
	ID             string
	Status         JobStatus
	Files          []FileProgress
	TotalFiles     int
	CompletedFiles int
	Percent        float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Error          string
}

// FileContext is handed to a Processor for one file; it reports stage
// transitions back to the job and exposes cooperative cancellation.
type FileContext struct {
	job *job
	idx int
}

// SetStatus records this file's current processing stage.
func (fc *FileContext) SetStatus(s FileStatus) {
	fc.job.setFileStatus(fc.idx, s, "")
}

// SetFailed records a terminal per-file failure.
func (fc *FileContext) SetFailed(err error) {
	fc.job.setFileStatus(fc.idx, FileFailed, err.Error())
}

// Cancelled reports whether the job has been asked to cancel.
// Processors should check this between chunks/stages and wind down to
// a consistent, rolled-back point rather than stopping mid-write.
func (fc *FileContext) Cancelled() bool {
	return fc.job.cancelled.Load()
}

// ChunkSemaphore is the per-job weighted semaphore a Processor acquires
// once per chunk before embedding it, capping concurrent embedding
// calls within a single file/job (spec.md §4.7).
func (fc *FileContext) ChunkSemaphore() *semaphore.Weighted {
	return fc.job.chunkSem
}

// Processor performs the actual per-file ingestion work. It is wired to
// the ingestion orchestrator (C6); jobqueue itself knows nothing about
// parsing, chunking, or embedding.
type Processor interface {
	ProcessFile(ctx context.Context, fc *FileContext, filename string, data []byte) error
}

type job struct {
	id        string
	status    JobStatus
	files     []FileProgress
	inputs    []InputFile
	createdAt time.Time
	updatedAt time.Time
	err       string
	cancelled atomic.Bool
	chunkSem  *semaphore.Weighted
	queue     *Queue

	mu sync.Mutex
}

func (j *job) setFileStatus(idx int, status FileStatus, errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.files[idx].Status = status
	j.files[idx].Percent = stagePercent[status]
	j.files[idx].Error = errMsg
	j.updatedAt = time.Now()
}

func (j *job) snapshot() JobProgress {
	j.mu.Lock()
	defer j.mu.Unlock()

	files := make([]FileProgress, len(j.files))
	copy(files, j.files)

	completed := 0
	for _, f := range files {
		if f.Status == FileDone {
			completed++
		}
	}
	total := len(files)
	percent := 0.0
	if total > 0 {
		percent = 100.0 * float64(completed) / float64(total)
	}

	return JobProgress{
		ID:             j.id,
		Status:         j.status,
		Files:          files,
		TotalFiles:     total,
		CompletedFiles: completed,
		Percent:        percent,
		CreatedAt:      j.createdAt,
		UpdatedAt:      j.updatedAt,
		Error:          j.err,
	}
}

// Queue is a bounded FIFO of ingestion jobs drained by a fixed worker
// pool (spec.md §4.7).
type Queue struct {
	processor        Processor
	chunkConcurrency int
	retention        time.Duration

	pending chan *job

	mu   sync.Mutex
	jobs map[string]*job

	nextID int64
}

// Config sizes the queue and its worker pool.
type Config struct {
	Workers          int           // default: logical CPU count
	QueueCapacity    int           // default: 256
	ChunkConcurrency int           // default: 8
	Retention        time.Duration // default: 24h
}

// New creates a Queue and starts its worker pool. Callers should cancel
// ctx to stop all workers.
func New(ctx context.Context, processor Processor, cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.ChunkConcurrency <= 0 {
		cfg.ChunkConcurrency = 8
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}

	q := &Queue{
		processor:        processor,
		chunkConcurrency: cfg.ChunkConcurrency,
		retention:        cfg.Retention,
		pending:          make(chan *job, cfg.QueueCapacity),
		jobs:             make(map[string]*job),
	}

	for i := 0; i < cfg.Workers; i++ {
		go q.worker(ctx)
	}
	return q
}

// Submit enqueues a new job. It returns ErrQueueFull immediately rather
// than blocking when the queue is at capacity.
func (q *Queue) Submit(files []InputFile) (string, error) {
	q.mu.Lock()
	q.nextID++
	id := fmt.Sprintf("job-%d-%d", time.Now().UnixNano(), q.nextID)
	q.mu.Unlock()

	fileStates := make([]FileProgress, len(files))
	for i, f := range files {
		fileStates[i] = FileProgress{Filename: f.Filename, Status: FilePending}
	}

	j := &job{
		id:        id,
		status:    JobPending,
		files:     fileStates,
		inputs:    files,
		createdAt: time.Now(),
		updatedAt: time.Now(),
		chunkSem:  semaphore.NewWeighted(int64(q.chunkConcurrency)),
		queue:     q,
	}

	q.mu.Lock()
	q.jobs[id] = j
	q.mu.Unlock()

	select {
	case q.pending <- j:
		return id, nil
	default:
		q.mu.Lock()
		delete(q.jobs, id)
		q.mu.Unlock()
		return "", ErrQueueFull
	}
}

// Cancel requests cooperative cancellation of a running or pending job.
// The current file in flight finishes to a consistent point rather than
// aborting mid-write; no already-indexed file is rolled back.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	j, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	j.cancelled.Store(true)
	return nil
}

// GetJobProgress returns a job's current snapshot, lazily evicting jobs
// past their retention TTL.
func (q *Queue) GetJobProgress(id string) (*JobProgress, error) {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if ok && q.expired(j) {
		delete(q.jobs, id)
		ok = false
	}
	q.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	snap := j.snapshot()
	return &snap, nil
}

func (q *Queue) expired(j *job) bool {
	terminal := j.status == JobCompleted || j.status == JobFailed || j.status == JobCancelled
	return terminal && time.Since(j.updatedAt) > q.retention
}

// Stats is the queue-level summary behind GET /api/jobs.
type Stats struct {
	PendingCount   int
	RunningCount   int
	Capacity       int
	Jobs           []JobProgress
}

// ListJobs returns queue stats plus every non-evicted job, lazily
// garbage-collecting expired ones first.
func (q *Queue) ListJobs() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{Capacity: cap(q.pending)}
	for id, j := range q.jobs {
		if q.expired(j) {
			delete(q.jobs, id)
			continue
		}
		switch j.status {
		case JobPending:
			stats.PendingCount++
		case JobRunning:
			stats.RunningCount++
		}
		stats.Jobs = append(stats.Jobs, j.snapshot())
	}
	return stats
}

func (q *Queue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q.pending:
			if !ok {
				return
			}
			q.run(ctx, j)
		}
	}
}

func (q *Queue) run(ctx context.Context, j *job) {
	j.mu.Lock()
	j.status = JobRunning
	j.updatedAt = time.Now()
	j.mu.Unlock()

	var firstErr error
	for i, in := range j.inputs {
		if j.cancelled.Load() {
			j.mu.Lock()
			j.status = JobCancelled
			j.updatedAt = time.Now()
			j.mu.Unlock()
			return
		}

		fc := &FileContext{job: j, idx: i}
		if err := q.processor.ProcessFile(ctx, fc, in.Filename, in.Data); err != nil {
			fc.SetFailed(err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fc.SetStatus(FileDone)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelled.Load() {
		j.status = JobCancelled
	} else if firstErr != nil {
		j.status = JobFailed
		j.err = firstErr.Error()
	} else {
		j.status = JobCompleted
	}
	j.updatedAt = time.Now()
}
