package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lendfabric/loanmatch/internal/notification"
	"github.com/lendfabric/loanmatch/internal/origination"
	"github.com/lendfabric/loanmatch/internal/repository"
	"github.com/lendfabric/loanmatch/internal/valuation"
	"github.com/lendfabric/loanmatch/pkg/metrics"
	"github.com/lendfabric/loanmatch/pkg/models"
)

// Defaults applied when a run request leaves them unset.
const (
	DefaultBatchSize      = 50
	DefaultMaxRunSize     = 1000
	DefaultOfferPageLimit = 200
)

// runState tracks the scheduler's position in a run.
type runState int

const (
	stateIdle runState = iota
	stateFetching
	stateProcessingPage
	stateDone
)

// Config bounds a run's page size, total work and candidate-offer fan-in.
type Config struct {
	BatchSize      int
	MaxRunSize     int
	OfferPageLimit int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxRunSize <= 0 {
		c.MaxRunSize = DefaultMaxRunSize
	}
	if c.OfferPageLimit <= 0 {
		c.OfferPageLimit = DefaultOfferPageLimit
	}
	return c
}

// Request configures one matching run.
type Request struct {
	// AsOfDate is the valuation instant; zero means now.
	AsOfDate *time.Time `json:"as_of_date,omitempty"`
	// BatchSize overrides the page size for this run.
	BatchSize int `json:"batch_size,omitempty"`
	// TargetApplicationID switches to single-item mode, bypassing pagination.
	TargetApplicationID *uuid.UUID `json:"target_application_id,omitempty"`
	// TargetOfferID restricts candidate offers to one offer.
	TargetOfferID *uuid.UUID `json:"target_offer_id,omitempty"`
	// LenderCriteria and BorrowerCriteria apply uniformly to the whole run.
	LenderCriteria   *LenderCriteria   `json:"lender_criteria,omitempty"`
	BorrowerCriteria *BorrowerCriteria `json:"borrower_criteria,omitempty"`
	// Trigger labels the run for metrics (manual, scheduled).
	Trigger string `json:"-"`
}

// Report is the outcome of one run. All failure modes surface here; the
// engine never returns an error from RunMatching.
type Report struct {
	ProcessedApplications int            `json:"processed_applications"`
	ProcessedOffers       int            `json:"processed_offers"`
	MatchedPairs          int            `json:"matched_pairs"`
	MatchedLoans          []*models.Loan `json:"matched_loans"`
	Errors                []string       `json:"errors"`
	HasMore               bool           `json:"has_more"`
}

// Engine drives one matching run: pagination, per-application evaluation,
// match recording, origination and notification. A single logical worker
// processes applications sequentially within a run; concurrent runs are
// tolerated because RecordMatch is the sole mutation path and is atomic.
type Engine struct {
	store      repository.Store
	calculator *valuation.Calculator
	ranker     *Ranker
	recorder   *Recorder
	originator *origination.Orchestrator
	notifier   notification.Dispatcher
	logger     *zap.Logger
	cfg        Config
}

// NewEngine wires the matching pipeline.
func NewEngine(
	store repository.Store,
	calculator *valuation.Calculator,
	originator *origination.Orchestrator,
	notifier notification.Dispatcher,
	logger *zap.Logger,
	cfg Config,
) *Engine {
	if notifier == nil {
		notifier = notification.NopDispatcher{}
	}
	return &Engine{
		store:      store,
		calculator: calculator,
		ranker:     NewRanker(store, logger),
		recorder:   NewRecorder(store, logger),
		originator: originator,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg.withDefaults(),
	}
}

// RunMatching executes one engine run and returns its report. Per-item
// failures are collected in Errors and the loop continues; only the
// inability to read from persistence aborts the run, returning the partial
// report with the fatal error appended.
func (e *Engine) RunMatching(ctx context.Context, req Request) *Report {
	start := time.Now()
	trigger := req.Trigger
	if trigger == "" {
		trigger = "manual"
	}
	metrics.MatchingRuns.WithLabelValues(trigger).Inc()
	defer func() {
		metrics.RunDuration.Observe(time.Since(start).Seconds())
	}()

	report := &Report{
		MatchedLoans: []*models.Loan{},
		Errors:       []string{},
	}

	now := time.Now().UTC()
	asOf := now
	if req.AsOfDate != nil && !req.AsOfDate.IsZero() {
		asOf = req.AsOfDate.UTC()
	}
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = e.cfg.BatchSize
	}

	// Sweep expired applications out of the matchable set first. A failed
	// sweep is logged, not fatal: stale rows only cost wasted evaluation.
	if swept, err := e.store.ExpireApplications(ctx, now); err != nil {
		e.logger.Warn("application expiry sweep failed", zap.Error(err))
	} else if swept > 0 {
		e.logger.Info("expired applications swept", zap.Int64("count", swept))
	}

	finder := NewOfferFinder(req.LenderCriteria, req.BorrowerCriteria)

	// Single-item mode bypasses pagination entirely.
	if req.TargetApplicationID != nil {
		e.runTargeted(ctx, req, finder, report, now, asOf)
		e.logRunDone(report, start)
		return report
	}

	state := stateIdle
	page := 0
	for state != stateDone {
		state = stateFetching
		apps, hasMore, err := e.store.ListMatchableApplications(ctx, page, batchSize)
		if err != nil {
			// Run-fatal: persistence is unreachable. Return the partial
			// report; retries belong to the invocation layer.
			report.Errors = append(report.Errors, fmt.Sprintf("fatal: %v", err))
			e.logger.Error("matching run aborted", zap.Error(err))
			e.logRunDone(report, start)
			return report
		}
		if len(apps) == 0 {
			state = stateDone
			break
		}

		state = stateProcessingPage
		for _, app := range apps {
			if report.ProcessedApplications >= e.cfg.MaxRunSize {
				// Hard ceiling reached with work remaining.
				report.HasMore = true
				state = stateDone
				break
			}
			e.processApplication(ctx, app, req.TargetOfferID, finder, report, now, asOf)
		}
		if state == stateDone {
			break
		}
		if !hasMore {
			state = stateDone
			break
		}
		page++
	}

	e.logRunDone(report, start)
	return report
}

// runTargeted processes exactly one application.
func (e *Engine) runTargeted(ctx context.Context, req Request, finder OfferFinder, report *Report, now, asOf time.Time) {
	app, err := e.store.GetApplication(ctx, *req.TargetApplicationID)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("application %s: %v", req.TargetApplicationID, err))
		return
	}
	if app.Status != models.ApplicationStatusPublished {
		report.Errors = append(report.Errors, fmt.Sprintf("application %s: not matchable in status %s", app.ID, app.Status))
		return
	}
	e.processApplication(ctx, app, req.TargetOfferID, finder, report, now, asOf)
}

// processApplication runs the full pipeline for one application. Any
// failure, including a panic in downstream code, is converted to a
// per-application error so the rest of the page survives.
func (e *Engine) processApplication(ctx context.Context, app *models.LoanApplication, targetOfferID *uuid.UUID, finder OfferFinder, report *Report, now, asOf time.Time) {
	report.ProcessedApplications++

	defer func() {
		if r := recover(); r != nil {
			metrics.ItemErrors.Inc()
			report.Errors = append(report.Errors, fmt.Sprintf("application %s: panic: %v", app.ID, r))
			e.logger.Error("panic while processing application",
				zap.String("application_id", app.ID.String()),
				zap.Any("panic", r))
		}
	}()

	if err := e.matchOne(ctx, app, targetOfferID, finder, report, now, asOf); err != nil {
		metrics.ItemErrors.Inc()
		report.Errors = append(report.Errors, fmt.Sprintf("application %s: %v", app.ID, err))
		e.logger.Warn("application skipped",
			zap.String("application_id", app.ID.String()),
			zap.Error(err))
	}
}

// matchOne evaluates, ranks, values, records, notifies and originates for
// one application. A nil return with no recorded pair simply means no
// compatible offer existed.
func (e *Engine) matchOne(ctx context.Context, app *models.LoanApplication, targetOfferID *uuid.UUID, finder OfferFinder, report *Report, now, asOf time.Time) error {
	var offers []*models.LoanOffer
	if targetOfferID != nil {
		offer, err := e.store.GetOffer(ctx, *targetOfferID)
		if err != nil {
			return fmt.Errorf("target offer lookup: %w", err)
		}
		offers = []*models.LoanOffer{offer}
	} else {
		var err error
		offers, err = e.store.ListAvailableOffers(ctx, app.PrincipalCurrency, e.cfg.OfferPageLimit)
		if err != nil {
			return fmt.Errorf("offer lookup: %w", err)
		}
	}
	report.ProcessedOffers += len(offers)

	compatible := finder.FindCompatibleOffers(app, offers, now)
	if len(compatible) == 0 {
		e.logger.Debug("no compatible offers",
			zap.String("application_id", app.ID.String()),
			zap.Int("candidates", len(offers)))
		return nil
	}

	ranked := e.ranker.Rank(ctx, compatible)
	best := ranked[0]

	val, err := e.calculator.ValueCollateral(ctx, app.CollateralCurrency, app.PrincipalCurrency, app.CollateralAmount, app.RequestedAmount, asOf)
	if err != nil {
		return fmt.Errorf("collateral valuation: %w", err)
	}
	if val.CollateralValue.LessThanOrEqual(decimal.Zero) {
		return errors.New("collateral valuation unavailable")
	}

	pair, err := e.recorder.Record(ctx, app, best, val, now)
	if err != nil {
		return fmt.Errorf("match recording: %w", err)
	}
	report.MatchedPairs++
	metrics.MatchesCreated.Inc()

	if loan := e.originator.ProcessMatch(ctx, app, best, pair, now); loan != nil {
		report.MatchedLoans = append(report.MatchedLoans, loan)
	}

	// Fire-and-forget: the dispatcher swallows failures internally.
	e.notifier.DispatchMatchEvents(ctx,
		notification.MatchEvent{
			Type:              notification.EventBorrowerMatched,
			UserID:            app.BorrowerID,
			LoanApplicationID: app.ID,
			LoanOfferID:       best.ID,
			PrincipalAmount:   app.RequestedAmount,
			InterestRate:      best.InterestRate,
			TermInMonths:      app.TermInMonths,
			MatchedDate:       now,
		},
		notification.MatchEvent{
			Type:              notification.EventLenderMatched,
			UserID:            best.LenderID,
			LoanApplicationID: app.ID,
			LoanOfferID:       best.ID,
			PrincipalAmount:   app.RequestedAmount,
			InterestRate:      best.InterestRate,
			TermInMonths:      app.TermInMonths,
			MatchedDate:       now,
		},
	)
	return nil
}

func (e *Engine) logRunDone(report *Report, start time.Time) {
	e.logger.Info("matching run finished",
		zap.Int("processed_applications", report.ProcessedApplications),
		zap.Int("processed_offers", report.ProcessedOffers),
		zap.Int("matched_pairs", report.MatchedPairs),
		zap.Int("errors", len(report.Errors)),
		zap.Bool("has_more", report.HasMore),
		zap.Duration("duration", time.Since(start)))
}
