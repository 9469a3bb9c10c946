package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vanshika/paystream/internal/domain"
)

// TaskError accumulates per-request failures produced during a bulk run.
type TaskError struct {
	Errors []error
}

func (e *TaskError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := "multiple errors:"
	for _, err := range e.Errors {
		msg += " " + err.Error() + ";"
	}
	return msg
}

func (e *TaskError) append(err error) {
	if err == nil {
		return
	}
	e.Errors = append(e.Errors, err)
}

func (e *TaskError) asError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// BulkResult tallies outcomes of a bulk run.
type BulkResult struct {
	Total    int                   `json:"total"`
	ByStatus map[domain.Status]int `json:"byStatus"`
}

// BulkProcessor replays many requests through a Processor using a worker pool.
type BulkProcessor struct {
	processor *Processor
	workers   int
}

// NewBulkProcessor creates a BulkProcessor with the provided concurrency.
func NewBulkProcessor(processor *Processor, workers int) *BulkProcessor {
	if workers <= 0 {
		workers = 4
	}
	return &BulkProcessor{processor: processor, workers: workers}
}

// ProcessAll processes reqs concurrently. Requests that end in ERROR are
// reported through a *TaskError; declines are ordinary outcomes.
func (bp *BulkProcessor) ProcessAll(ctx context.Context, reqs []domain.TransactionRequest) (BulkResult, error) {
	result := BulkResult{ByStatus: make(map[domain.Status]int)}
	var mu sync.Mutex

	err := bp.run(ctx, len(reqs), func(idx int) error {
		tx := bp.processor.Process(ctx, reqs[idx])
		mu.Lock()
		result.Total++
		result.ByStatus[tx.Status]++
		mu.Unlock()
		if tx.Status == domain.StatusError {
			return fmt.Errorf("request %s: %v", reqs[idx].ID, tx.Metadata["error"])
		}
		return nil
	})
	return result, err
}

func (bp *BulkProcessor) run(ctx context.Context, total int, workerFn func(idx int) error) error {
	if total == 0 {
		return nil
	}
	indexCh := make(chan int)
	errCh := make(chan error, total)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range indexCh {
			if err := workerFn(idx); err != nil {
				select {
				case errCh <- err:
				case <-ctx.Done():
					return
				}
			}
		}
	}

	for i := 0; i < bp.workers; i++ {
		wg.Add(1)
		go worker()
	}

Loop:
	for i := 0; i < total; i++ {
		select {
		case indexCh <- i:
		case <-ctx.Done():
			break Loop
		}
	}
	close(indexCh)
	wg.Wait()
	close(errCh)

	if err := ctx.Err(); err != nil {
		return err
	}
	var taskErr TaskError
	for err := range errCh {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		taskErr.append(err)
	}
	return taskErr.asError()
}
