package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vlikcc/yargisalzekav2/internal/progress"
)

// Dispatcher fans a keyword set out to parallel sessions, bounded to
// min(len(keywords), MaxConcurrency) workers. Completions are collected in
// finishing order; a failed or panicking session never disturbs its
// siblings, and every keyword yields exactly one report.
type Dispatcher struct {
	runner         Runner
	newQueue       QueueFactory
	maxConcurrency int
	clock          Clock
	emitter        progress.Emitter
	logger         *zap.Logger
}

// NewDispatcher constructs a Dispatcher around a session runner.
func NewDispatcher(
	runner Runner,
	newQueue QueueFactory,
	maxConcurrency int,
	clock Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Dispatcher {
	if maxConcurrency <= 0 {
		maxConcurrency = Defaults().MaxConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		runner:         runner,
		newQueue:       newQueue,
		maxConcurrency: maxConcurrency,
		clock:          clock,
		emitter:        emitter,
		logger:         logger,
	}
}

// Dispatch runs one session per keyword and returns all reports plus the
// wall-clock elapsed time. Keywords that never ran because the context ended
// are reported as failures, so the result always covers the full set.
func (d *Dispatcher) Dispatch(ctx context.Context, dispatchID string, keywords []string) ([]Report, time.Duration) {
	start := d.clock.Now()
	n := len(keywords)
	if n == 0 {
		return nil, d.clock.Now().Sub(start)
	}
	d.emitDispatch(progress.StageDispatchStart, dispatchID, n, 0)

	queue := d.newQueue(n)
	for _, keyword := range keywords {
		// The queue is sized to the keyword count, so intake cannot block
		// and must not be lost to an already-canceled dispatch context.
		if err := queue.Enqueue(context.Background(), Job{
			DispatchID: dispatchID,
			Keyword:    keyword,
			Submitted:  start,
		}); err != nil {
			d.logger.Error("enqueue keyword failed", zap.String("keyword", keyword), zap.Error(err))
		}
	}
	queue.Close()

	results := make(chan Report, n)
	workers := min(n, d.maxConcurrency)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx, queue, results)
		}()
	}
	wg.Wait()

	// Workers bail out when the context ends; whatever jobs they left
	// behind still owe the caller an outcome.
	cause := context.Cause(ctx)
	if cause == nil {
		cause = errors.New("dispatch interrupted")
	}
	for {
		job, err := queue.Dequeue(context.Background())
		if err != nil {
			break
		}
		results <- Report{
			Keyword: job.Keyword,
			Outcome: Outcome{Success: false, Message: "session not started: " + cause.Error()},
		}
	}
	close(results)

	reports := make([]Report, 0, n)
	for report := range results {
		reports = append(reports, report)
	}
	elapsed := d.clock.Now().Sub(start)
	d.emitDispatch(progress.StageDispatchDone, dispatchID, n, elapsed)
	return reports, elapsed
}

func (d *Dispatcher) work(ctx context.Context, queue Queue, results chan<- Report) {
	for {
		job, err := queue.Dequeue(ctx)
		if err != nil {
			return
		}
		d.logger.Debug("session starting", zap.String("keyword", job.Keyword))
		results <- d.runner.Run(ctx, job)
	}
}

func (d *Dispatcher) emitDispatch(stage progress.Stage, dispatchID string, keywords int, dur time.Duration) {
	if d.emitter == nil {
		return
	}
	d.emitter.Emit(progress.Event{
		DispatchID: dispatchID,
		Stage:      stage,
		Found:      keywords,
		Dur:        dur,
		TS:         d.clock.Now(),
	})
}

// sessionRunner is the production Runner: one Session per job against the
// live driver pool.
type sessionRunner struct {
	cfg     Config
	drivers DriverProvider
	parser  RowParser
	clock   Clock
	emitter progress.Emitter
	logger  *zap.Logger
}

// NewSessionRunner builds the Runner used outside of tests.
func NewSessionRunner(
	cfg Config,
	drivers DriverProvider,
	parser RowParser,
	clock Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) Runner {
	return &sessionRunner{
		cfg:     cfg,
		drivers: drivers,
		parser:  parser,
		clock:   clock,
		emitter: emitter,
		logger:  logger,
	}
}

func (r *sessionRunner) Run(ctx context.Context, job Job) Report {
	return NewSession(r.cfg, r.drivers, r.parser, r.clock, r.emitter, r.logger, job).Run(ctx)
}
