package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vlikcc/yargisalzekav2/internal/progress"
)

// Session drives one keyword through the portal: submit the query, walk the
// result pages row by row, read each row's detail pane, stop at the
// per-keyword target or the page ceiling. A session owns its driver for its
// whole lifetime and shares no state with sibling sessions.
type Session struct {
	cfg     Config
	drivers DriverProvider
	parser  RowParser
	clock   Clock
	emitter progress.Emitter
	logger  *zap.Logger

	job        Job
	pageNumber int
	processed  map[string]struct{}
	items      []ResultItem
	lastDetail string
}

// NewSession constructs a session for one keyword job.
func NewSession(
	cfg Config,
	drivers DriverProvider,
	parser RowParser,
	clock Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
	job Job,
) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:        cfg,
		drivers:    drivers,
		parser:     parser,
		clock:      clock,
		emitter:    emitter,
		logger:     logger.With(zap.String("dispatch_id", job.DispatchID), zap.String("keyword", job.Keyword)),
		job:        job,
		pageNumber: 1,
		processed:  make(map[string]struct{}),
	}
}

// Run executes the session to a terminal state and reports the outcome.
// Whatever items were collected before a fatal error are kept in the report.
// A panic inside the session is converted into a failed outcome so a broken
// session can never take down its siblings.
func (s *Session) Run(ctx context.Context) (report Report) {
	start := s.clock.Now()
	report.Keyword = s.job.Keyword

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session panicked", zap.Any("panic", r))
			report.Outcome = Outcome{Success: false, Message: fmt.Sprintf("session panic: %v", r)}
		}
		report.Items = s.items
		report.Pages = s.pageNumber
		report.Elapsed = s.clock.Now().Sub(start)
		s.emitTerminal(report)
	}()

	if s.cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SessionTimeout)
		defer cancel()
	}

	s.emit(progress.StageSessionStart, 0, "")

	driver, err := s.drivers.Acquire(ctx)
	if err != nil {
		report.Outcome = s.failed(fmt.Errorf("acquire driver: %w", err))
		return report
	}
	// Release exactly once on every exit path, even when ctx is already done.
	defer func() {
		if cerr := driver.Close(context.WithoutCancel(ctx)); cerr != nil {
			s.logger.Warn("driver release failed", zap.Error(cerr))
		}
	}()

	if err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return driver.Navigate(ctx, s.cfg.PortalURL)
	}); err != nil {
		report.Outcome = s.failed(fmt.Errorf("initial page load: %w", err))
		return report
	}

	if err := s.submitQuery(ctx, driver); err != nil {
		report.Outcome = s.failed(fmt.Errorf("submit query: %w", err))
		return report
	}
	s.emit(progress.StageQuerySubmitted, 0, "")

	if err := driver.WaitForElement(ctx, s.cfg.ResultRowsLocator, s.cfg.ElementTimeout); err != nil {
		if errors.Is(err, ErrElementTimeout) && ctx.Err() == nil {
			s.logger.Info("no results for keyword")
			report.Outcome = Outcome{Success: true, Count: 0, Message: "no results"}
			return report
		}
		report.Outcome = s.failed(fmt.Errorf("wait results: %w", err))
		return report
	}
	s.emit(progress.StageResultsLoaded, 0, "")

	for {
		rows, err := driver.FindAll(ctx, s.cfg.ResultRowsLocator)
		if err != nil {
			report.Outcome = s.failed(fmt.Errorf("snapshot rows on page %d: %w", s.pageNumber, err))
			return report
		}
		if err := s.processRows(ctx, driver, rows); err != nil {
			report.Outcome = s.failed(err)
			return report
		}
		s.emit(progress.StagePageDone, len(rows), "")

		if len(s.items) >= s.cfg.TargetPerKeyword || s.pageNumber >= s.cfg.MaxPages {
			break
		}
		advanced, err := s.advancePage(ctx, driver)
		if err != nil {
			report.Outcome = s.failed(err)
			return report
		}
		if !advanced {
			break
		}
		s.pageNumber++
	}

	report.Outcome = Outcome{
		Success: true,
		Count:   len(s.items),
		Message: countMessage(len(s.items)),
	}
	return report
}

// submitQuery clears the search input, types the keyword, and invokes the
// submit control.
func (s *Session) submitQuery(ctx context.Context, driver Driver) error {
	if err := driver.WaitForElement(ctx, s.cfg.SearchInputLocator, s.cfg.ElementTimeout); err != nil {
		return fmt.Errorf("wait search input: %w", err)
	}
	script := fmt.Sprintf(
		"const el = document.querySelector(%q); el.value = %q; el.dispatchEvent(new Event('input', {bubbles: true}));",
		s.cfg.SearchInputLocator, s.job.Keyword,
	)
	if err := driver.ExecuteScript(ctx, script, nil); err != nil {
		return fmt.Errorf("set keyword: %w", err)
	}
	if err := driver.Click(ctx, s.cfg.SubmitLocator); err != nil {
		return fmt.Errorf("click submit: %w", err)
	}
	return nil
}

// processRows walks one page's snapshot in document order. Row-level
// failures are logged and skipped; only a finished context stops the page.
func (s *Session) processRows(ctx context.Context, driver Driver, rows []Element) error {
	for i, row := range rows {
		if len(s.items) >= s.cfg.TargetPerKeyword {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("row processing interrupted on page %d: %w", s.pageNumber, err)
		}

		fields, err := s.parser.Parse(row.HTML)
		if err != nil {
			s.logger.Warn("row parse failed", zap.Int("row", i), zap.Int("page", s.pageNumber), zap.Error(err))
			s.emit(progress.StageRowSkipped, i, err.Error())
			continue
		}
		caseID := fields.CaseID()
		if fields.CaseNumber == "" && fields.DecisionNumber == "" {
			s.emit(progress.StageRowSkipped, i, "empty case identity")
			continue
		}
		if _, seen := s.processed[caseID]; seen {
			continue
		}

		if err := driver.ActivateRow(ctx, row); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("activate row on page %d: %w", s.pageNumber, err)
			}
			s.logger.Warn("row activation failed", zap.Int("row", i), zap.String("case_id", caseID), zap.Error(err))
			s.emit(progress.StageRowSkipped, i, err.Error())
			continue
		}
		text, err := driver.ReadUpdatedDetail(ctx, s.cfg.DetailPaneLocator, s.lastDetail, s.cfg.DetailTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("read detail on page %d: %w", s.pageNumber, err)
			}
			s.logger.Warn("detail read failed", zap.Int("row", i), zap.String("case_id", caseID), zap.Error(err))
			s.emit(progress.StageRowSkipped, i, err.Error())
			continue
		}
		s.lastDetail = text

		s.processed[caseID] = struct{}{}
		s.items = append(s.items, ResultItem{
			Chamber:        fields.Chamber,
			CaseNumber:     fields.CaseNumber,
			DecisionNumber: fields.DecisionNumber,
			DecisionDate:   fields.DecisionDate,
			DecisionText:   text,
			MatchedKeyword: s.job.Keyword,
		})
		s.emit(progress.StageRowDone, i, "")
	}
	return nil
}

// advancePage clicks the next-page control and waits for the new page. A
// missing or disabled control, or an error locating it, ends pagination
// gracefully; only a finished context is fatal.
func (s *Session) advancePage(ctx context.Context, driver Driver) (bool, error) {
	controls, err := driver.FindAll(ctx, s.cfg.NextPageLocator)
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("locate next control: %w", err)
		}
		s.logger.Info("next control lookup failed, stopping pagination", zap.Error(err))
		return false, nil
	}
	if len(controls) == 0 || strings.Contains(controls[0].HTML, "disabled") {
		return false, nil
	}

	if err := driver.Click(ctx, s.cfg.NextPageLocator); err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("click next control: %w", err)
		}
		s.logger.Info("next control click failed, stopping pagination", zap.Error(err))
		return false, nil
	}
	if err := s.waitDocumentReady(ctx, driver); err != nil {
		return false, err
	}
	if err := driver.WaitForElement(ctx, s.cfg.ResultRowsLocator, s.cfg.ElementTimeout); err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("wait rows after pagination: %w", err)
		}
		s.logger.Info("no rows after pagination, stopping", zap.Error(err))
		return false, nil
	}
	return true, nil
}

// waitDocumentReady polls document.readyState until the new page reports
// complete or the element timeout elapses.
func (s *Session) waitDocumentReady(ctx context.Context, driver Driver) error {
	deadline := time.NewTimer(s.cfg.ElementTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		var ready bool
		if err := driver.ExecuteScript(ctx, "document.readyState === 'complete'", &ready); err == nil && ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait document ready: %w", ctx.Err())
		case <-deadline.C:
			// Treat a stuck readyState like a missing results container:
			// the rows wait that follows decides whether the page advanced.
			return nil
		case <-tick.C:
		}
	}
}

func (s *Session) failed(err error) Outcome {
	s.logger.Error("session failed", zap.Int("page", s.pageNumber), zap.Int("collected", len(s.items)), zap.Error(err))
	return Outcome{Success: false, Count: len(s.items), Message: err.Error()}
}

func (s *Session) emit(stage progress.Stage, row int, note string) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(progress.Event{
		DispatchID: s.job.DispatchID,
		Keyword:    s.job.Keyword,
		Stage:      stage,
		Page:       s.pageNumber,
		Row:        row,
		Found:      len(s.items),
		TS:         s.clock.Now(),
		Note:       note,
	})
}

func (s *Session) emitTerminal(report Report) {
	if s.emitter == nil {
		return
	}
	stage := progress.StageSessionDone
	switch {
	case !report.Outcome.Success:
		stage = progress.StageSessionError
	case report.Outcome.Count == 0:
		stage = progress.StageSessionEmpty
	}
	s.emitter.Emit(progress.Event{
		DispatchID: s.job.DispatchID,
		Keyword:    s.job.Keyword,
		Stage:      stage,
		Page:       s.pageNumber,
		Found:      report.Outcome.Count,
		Dur:        report.Elapsed,
		TS:         s.clock.Now(),
		Note:       report.Outcome.Message,
	})
}

func countMessage(n int) string {
	if n == 0 {
		return "no results"
	}
	return fmt.Sprintf("%d results found", n)
}
