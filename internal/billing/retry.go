package billing

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/onnwee/courseledger/internal/ledger"
	"github.com/stripe/stripe-go/v81"
)

// RetryService periodically re-dispatches errored ledger entries from their
// stored payloads. The webhook always acknowledges events to the provider, so
// this job is the only retry path for handler failures; attempts are bounded
// and exhausted entries are left for manual reconciliation.
type RetryService struct {
	ledger      ledger.Ledger
	dispatcher  *Dispatcher
	logger      *slog.Logger
	metrics     *Metrics
	interval    time.Duration
	maxAttempts int
	batchSize   int
	stopChan    chan struct{}
	doneChan    chan struct{}
}

// RetryConfig contains configuration for the retry service.
type RetryConfig struct {
	// Interval is how often to scan for errored entries. Default: 5 minutes.
	Interval time.Duration

	// MaxAttempts is the total number of handler runs allowed per event,
	// including the original webhook delivery. Default: 5.
	MaxAttempts int

	// BatchSize is the maximum number of entries retried per scan. Default: 50.
	BatchSize int
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Interval:    5 * time.Minute,
		MaxAttempts: 5,
		BatchSize:   50,
	}
}

// NewRetryService creates a new retry service.
func NewRetryService(led ledger.Ledger, dispatcher *Dispatcher, logger *slog.Logger, metrics *Metrics, config RetryConfig) *RetryService {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Interval == 0 {
		config.Interval = 5 * time.Minute
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 5
	}
	if config.BatchSize == 0 {
		config.BatchSize = 50
	}
	return &RetryService{
		ledger:      led,
		dispatcher:  dispatcher,
		logger:      logger,
		metrics:     metrics,
		interval:    config.Interval,
		maxAttempts: config.MaxAttempts,
		batchSize:   config.BatchSize,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
	}
}

// Start begins the retry service in a background goroutine.
func (s *RetryService) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop gracefully stops the retry service.
func (s *RetryService) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

// run executes the retry loop.
func (s *RetryService) run(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("retry service started",
		slog.Duration("interval", s.interval),
		slog.Int("max_attempts", s.maxAttempts))

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce scans the ledger for retryable errored entries and re-dispatches
// them. Returns the number of entries that ended done and errored.
func (s *RetryService) RunOnce(ctx context.Context) (recovered, failed int) {
	entries, err := s.ledger.ListErrored(ctx, s.maxAttempts, s.batchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list errored events", "error", err)
		return 0, 0
	}

	for _, entry := range entries {
		outcome, err := s.retryEntry(ctx, entry)
		if err != nil {
			s.metrics.RecordRetry(StatusFailure)
			s.logger.ErrorContext(ctx, "failed to retry event",
				"event_id", entry.EventID, "error", err)
			failed++
			continue
		}
		if outcome == OutcomeProcessed || outcome == OutcomeIgnored {
			s.metrics.RecordRetry(StatusSuccess)
			recovered++
		} else {
			s.metrics.RecordRetry(StatusFailure)
			failed++
		}
	}

	if len(entries) > 0 {
		s.logger.InfoContext(ctx, "retry scan complete",
			"scanned", len(entries),
			"recovered", recovered,
			"failed", failed)
	}
	return recovered, failed
}

// Status constants for retry results.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// retryEntry rebuilds the typed event from the stored payload and dispatches
// it; the claim gate turns the errored entry back into a processing one.
func (s *RetryService) retryEntry(ctx context.Context, entry *ledger.Entry) (Outcome, error) {
	var stripeEvent stripe.Event
	if err := json.Unmarshal(entry.Payload, &stripeEvent); err != nil {
		return "", err
	}
	ev, err := Decode(stripeEvent, entry.Payload)
	if err != nil {
		return "", err
	}
	return s.dispatcher.Dispatch(ctx, ev)
}
