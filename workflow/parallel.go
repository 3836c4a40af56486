package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// JoinStrategy decides when a parallel fan-out completes.
type JoinStrategy string

const (
	// JoinAll waits for every branch; the join fails if any branch failed.
	JoinAll JoinStrategy = "all"

	// JoinAny completes as soon as one branch succeeds, cancelling the
	// rest. It fails only when every branch fails.
	JoinAny JoinStrategy = "any"

	// JoinFirst completes when the first branch finishes, success or not,
	// cancelling the rest.
	JoinFirst JoinStrategy = "first"
)

// BranchTask is one unit of a parallel fan-out.
type BranchTask struct {
	ID  string
	Run StepFunc
}

// BranchResult is the outcome of one branch.
type BranchResult struct {
	ID         string `json:"id"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Succeeded reports whether the branch completed without error.
func (r BranchResult) Succeeded() bool { return r.Error == "" }

// ParallelExecutor runs branch tasks concurrently under a concurrency cap
// and joins them with a configurable strategy.
type ParallelExecutor struct {
	// MaxConcurrency caps branches in flight. Values below 1 mean no cap.
	MaxConcurrency int
}

// NewParallelExecutor creates a parallel executor with the given cap.
func NewParallelExecutor(maxConcurrency int) *ParallelExecutor {
	return &ParallelExecutor{MaxConcurrency: maxConcurrency}
}

// Execute runs the tasks under the join strategy. The returned slice holds
// one result per settled branch, ordered by task declaration; branches
// cancelled by an early join are omitted. The error is non-nil when the
// join as a whole failed (JoinAll with a failed branch, JoinAny with every
// branch failed, or JoinFirst whose first branch failed).
func (p *ParallelExecutor) Execute(ctx context.Context, tasks []BranchTask, join JoinStrategy) ([]BranchResult, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	limit := int64(p.MaxConcurrency)
	if limit < 1 {
		limit = int64(len(tasks))
	}
	sem := semaphore.NewWeighted(limit)

	type indexed struct {
		index  int
		result BranchResult
	}
	resultCh := make(chan indexed, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task BranchTask) {
			defer wg.Done()
			if err := sem.Acquire(runCtx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			started := time.Now()
			output, err := runBranch(runCtx, task)
			br := BranchResult{
				ID:         task.ID,
				Output:     output,
				DurationMS: time.Since(started).Milliseconds(),
			}
			if err != nil {
				br.Error = err.Error()
			}
			resultCh <- indexed{index: i, result: br}
		}(i, task)
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var settled []indexed
	var joinErr error

collect:
	for res := range resultCh {
		settled = append(settled, res)

		switch join {
		case JoinAny:
			if res.result.Succeeded() {
				cancel()
				break collect
			}
		case JoinFirst:
			if !res.result.Succeeded() {
				joinErr = &EngineError{
					Message: "first branch failed: " + res.result.Error,
					Code:    "PARALLEL_FIRST_FAILED",
				}
			}
			cancel()
			break collect
		}
	}

	sort.Slice(settled, func(a, b int) bool { return settled[a].index < settled[b].index })
	out := make([]BranchResult, 0, len(settled))
	failures := 0
	for _, s := range settled {
		out = append(out, s.result)
		if !s.result.Succeeded() {
			failures++
		}
	}

	switch join {
	case JoinAll:
		if failures > 0 {
			joinErr = &EngineError{
				Message: "parallel branches failed",
				Code:    "PARALLEL_BRANCH_FAILED",
			}
		}
	case JoinAny:
		succeeded := false
		for _, r := range out {
			if r.Succeeded() {
				succeeded = true
				break
			}
		}
		if !succeeded {
			joinErr = &EngineError{
				Message: "all parallel branches failed",
				Code:    "PARALLEL_ALL_FAILED",
			}
		}
	}

	if ctx.Err() != nil && joinErr == nil && len(out) < len(tasks) {
		joinErr = ctx.Err()
	}
	return out, joinErr
}

// runBranch isolates branch panics into errors.
func runBranch(ctx context.Context, task BranchTask) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &EngineError{Message: fmt.Sprintf("branch panicked: %v", r), Code: "PARALLEL_PANIC"}
		}
	}()
	return task.Run(ctx)
}
