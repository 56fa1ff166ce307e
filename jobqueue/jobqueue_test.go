package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeProcessor struct {
	delay  time.Duration
	failOn string
	seen   chan string
	block  chan struct{} // if set, ProcessFile waits to receive before returning
}

func (p *fakeProcessor) ProcessFile(ctx context.Context, fc *FileContext, filename string, data []byte) error {
	fc.SetStatus(FileParsing)
	fc.SetStatus(FileChunking)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	fc.SetStatus(FileEmbedding)
	fc.SetStatus(FileIndexing)
	if p.seen != nil {
		p.seen <- filename
	}
	if p.block != nil {
		<-p.block
	}
	if filename == p.failOn {
		return errors.New("simulated failure")
	}
	return nil
}

func waitForTerminal(t *testing.T, q *Queue, id string) *JobProgress {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p, err := q.GetJobProgress(id)
		if err != nil {
			t.Fatalf("GetJobProgress: %v", err)
		}
		switch p.Status {
		case JobCompleted, JobFailed, JobCancelled:
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state in time", id)
	return nil
}

func TestSubmitAndCompleteJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New(ctx, &fakeProcessor{}, Config{Workers: 2, QueueCapacity: 4})
	id, err := q.Submit([]InputFile{{Filename: "a.txt", Data: []byte("hello")}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	p := waitForTerminal(t, q, id)
	if p.Status != JobCompleted {
		t.Fatalf("expected JobCompleted, got %v (err=%q)", p.Status, p.Error)
	}
	if p.CompletedFiles != 1 || p.TotalFiles != 1 {
		t.Errorf("expected 1/1 completed, got %d/%d", p.CompletedFiles, p.TotalFiles)
	}
	if p.Files[0].Status != FileDone || p.Files[0].Percent != 100 {
		t.Errorf("expected file Done at 100%%, got %v at %d%%", p.Files[0].Status, p.Files[0].Percent)
	}
}

func TestJobFailsWhenAFileFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New(ctx, &fakeProcessor{failOn: "bad.txt"}, Config{Workers: 1, QueueCapacity: 4})
	id, err := q.Submit([]InputFile{
		{Filename: "good.txt", Data: []byte("ok")},
		{Filename: "bad.txt", Data: []byte("boom")},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	p := waitForTerminal(t, q, id)
	if p.Status != JobFailed {
		t.Fatalf("expected JobFailed, got %v", p.Status)
	}
	if p.Error == "" {
		t.Error("expected a non-empty job error")
	}
	if p.Files[1].Status != FileFailed {
		t.Errorf("expected bad.txt to be FileFailed, got %v", p.Files[1].Status)
	}
}

func TestSubmitReturnsErrQueueFullWhenAtCapacity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A single worker wedged mid-file via the block gate leaves the
	// pending channel as the only thing absorbing further Submits.
	gate := make(chan struct{})
	defer close(gate)
	q := New(ctx, &fakeProcessor{block: gate}, Config{Workers: 1, QueueCapacity: 1})

	if _, err := q.Submit([]InputFile{{Filename: "a.txt"}}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	// Give the worker time to pick up "a.txt" and block inside ProcessFile,
	// leaving the buffered channel empty again before the next Submit.
	time.Sleep(20 * time.Millisecond)
	if _, err := q.Submit([]InputFile{{Filename: "b.txt"}}); err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if _, err := q.Submit([]InputFile{{Filename: "c.txt"}}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestGetJobProgressUnknownID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New(ctx, &fakeProcessor{}, Config{})
	if _, err := q.GetJobProgress("does-not-exist"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestCancelStopsRemainingFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan string, 4)
	q := New(ctx, &fakeProcessor{delay: 50 * time.Millisecond, seen: seen}, Config{Workers: 1, QueueCapacity: 4})
	id, err := q.Submit([]InputFile{
		{Filename: "one.txt"},
		{Filename: "two.txt"},
		{Filename: "three.txt"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	<-seen // let the first file finish processing
	if err := q.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	p := waitForTerminal(t, q, id)
	if p.Status != JobCancelled {
		t.Fatalf("expected JobCancelled, got %v", p.Status)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New(ctx, &fakeProcessor{}, Config{})
	if err := q.Cancel("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestListJobsReportsCounts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New(ctx, &fakeProcessor{}, Config{Workers: 2, QueueCapacity: 4})
	id, err := q.Submit([]InputFile{{Filename: "a.txt"}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForTerminal(t, q, id)

	stats := q.ListJobs()
	if stats.Capacity != 4 {
		t.Errorf("expected capacity 4, got %d", stats.Capacity)
	}
	if len(stats.Jobs) != 1 {
		t.Errorf("expected 1 tracked job, got %d", len(stats.Jobs))
	}
}
