package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/solwatch/solwatch/service/events"
	"github.com/solwatch/solwatch/service/ledger"
	"github.com/solwatch/solwatch/service/metrics"
	"github.com/solwatch/solwatch/service/solana"
)

// LedgerClient is the narrow slice of the Solana client the poller needs.
type LedgerClient interface {
	FetchRecentSignatures(ctx context.Context, address solanago.PublicKey, limit int) ([]solanago.Signature, error)
	FetchTransaction(ctx context.Context, sig solanago.Signature) (*solana.RawTransaction, error)
}

// Store is the persistence surface the poller writes to.
type Store interface {
	InsertTransfer(ctx context.Context, rec ledger.TransferRecord) (bool, error)
	DeleteTransfersBefore(ctx context.Context, unixSeconds int64) (int64, error)
}

// Options configures a Poller.
type Options struct {
	// Address is the account being monitored.
	Address solanago.PublicKey

	// Interval is the wall-clock tick interval.
	Interval time.Duration

	// SignatureLimit bounds per-cycle work: at most this many of the most
	// recent signatures are considered each tick.
	SignatureLimit int

	// Retention, when positive, prunes records whose block time is older
	// than now minus Retention at the end of each cycle.
	Retention time.Duration
}

// Poller owns the fixed-interval scheduling loop. It orchestrates
// fetch, parse, validate and persist for each tick and guarantees that two
// cycles never overlap: the loop runs cycles serially, and a tick that
// fires while a cycle is still running is dropped, not queued.
//
// All process-wide scheduling state lives here, behind an explicit
// Start/Stop lifecycle.
type Poller struct {
	client    LedgerClient
	store     Store
	publisher events.Publisher // nil disables event publishing
	opts      Options
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Poller. The publisher and metrics may be nil.
func New(client LedgerClient, store Store, publisher events.Publisher, opts Options, m *metrics.Metrics, logger *slog.Logger) *Poller {
	return &Poller{
		client:    client,
		store:     store,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		metrics:   m,
	}
}

// Start launches the polling loop in a background goroutine.
// It is an error to start an already-running poller.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	// Capture the channel under the lock: Stop nils the field, and the
	// goroutine may not be scheduled until after Stop has run.
	done := p.done
	go func() {
		defer close(done)
		p.Run(runCtx)
	}()
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run drives the polling loop until ctx is cancelled. The first cycle runs
// immediately; subsequent cycles run on the tick interval. Cancellation is
// cooperative: no new ticks are accepted, and the in-flight cycle completes
// its current batch before returning.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller starting",
		"address", p.opts.Address.String(),
		"interval", p.opts.Interval,
		"signature_limit", p.opts.SignatureLimit,
	)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			p.RunOnce(ctx)

			// A tick that fired while the cycle was running is stale.
			// Drop it so a slow cycle delays the schedule instead of
			// producing a burst of back-to-back cycles.
			select {
			case <-ticker.C:
				p.logger.Debug("tick skipped: previous cycle still running")
				if p.metrics != nil {
					p.metrics.RecordPollTickSkipped()
				}
			default:
			}
		}
	}
}

// RunOnce executes a single poll cycle: fetch signatures, fetch each
// transaction, parse, validate, persist, publish. Per-record failures never
// escalate to cycle failures; a cycle-level failure ends the cycle early
// and the next scheduled tick proceeds independently.
func (p *Poller) RunOnce(ctx context.Context) {
	start := time.Now()
	status := "success"
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordPollCycle(status, time.Since(start).Seconds())
		}
	}()

	sigs, err := p.client.FetchRecentSignatures(ctx, p.opts.Address, p.opts.SignatureLimit)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to fetch signatures, skipping cycle",
			"address", p.opts.Address.String(),
			"error", err,
		)
		status = "error"
		return
	}

	var written int
	for _, sig := range sigs {
		if ctx.Err() != nil {
			status = "cancelled"
			return
		}
		if p.processSignature(ctx, sig) {
			written++
		}
	}

	if p.opts.Retention > 0 {
		cutoff := time.Now().Add(-p.opts.Retention).Unix()
		if pruned, err := p.store.DeleteTransfersBefore(ctx, cutoff); err != nil {
			p.logger.ErrorContext(ctx, "failed to prune old transfers", "error", err)
		} else if pruned > 0 {
			p.logger.Info("pruned old transfers", "count", pruned)
		}
	}

	p.logger.InfoContext(ctx, "poll cycle complete",
		"signatures", len(sigs),
		"written", written,
		"duration", time.Since(start),
	)
}

// processSignature runs one signature through fetch, parse, validate and
// persist. Returns true when a new record was written.
func (p *Poller) processSignature(ctx context.Context, sig solanago.Signature) bool {
	raw, err := p.client.FetchTransaction(ctx, sig)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to fetch transaction, skipping",
			"signature", sig.String(),
			"error", err,
		)
		p.recordSkip("fetch_error")
		return false
	}
	if raw == nil {
		// The node cannot locate or decode the transaction. A skip, not a
		// pipeline failure.
		p.logger.DebugContext(ctx, "transaction absent on node, skipping",
			"signature", sig.String(),
		)
		p.recordSkip("absent")
		return false
	}

	rec := solana.ParseTransfer(raw)
	if rec == nil {
		p.logger.DebugContext(ctx, "transaction not parseable as transfer, skipping",
			"signature", sig.String(),
		)
		if p.metrics != nil {
			p.metrics.RecordTransferParsed("skipped")
		}
		p.recordSkip("unparseable")
		return false
	}
	if p.metrics != nil {
		p.metrics.RecordTransferParsed("parsed")
	}

	if err := rec.Validate(); err != nil {
		// Rejection is informational, never an error-severity event.
		p.logger.InfoContext(ctx, "transfer record rejected by validator",
			"signature", rec.Signature,
			"reason", err,
		)
		p.recordSkip("invalid")
		return false
	}

	inserted, err := p.store.InsertTransfer(ctx, *rec)
	if err != nil {
		// Skip this record's persistence and continue the batch. Repeated
		// storage failure across cycles is an operator health signal, not
		// something the poller handles.
		p.logger.ErrorContext(ctx, "failed to persist transfer",
			"signature", rec.Signature,
			"error", err,
		)
		p.recordSkip("storage_error")
		return false
	}
	if !inserted {
		p.logger.DebugContext(ctx, "transfer already persisted",
			"signature", rec.Signature,
		)
		p.recordSkip("duplicate")
		return false
	}

	if p.metrics != nil {
		p.metrics.RecordTransferWritten(p.opts.Address.String())
	}

	if p.publisher != nil {
		event := events.FromRecord(*rec)
		if err := p.publisher.PublishTransfer(ctx, p.opts.Address.String(), event); err != nil {
			// The record is durable; losing the event is tolerable.
			p.logger.WarnContext(ctx, "failed to publish transfer event",
				"signature", rec.Signature,
				"error", err,
			)
			if p.metrics != nil {
				p.metrics.RecordEventPublished("transfers."+p.opts.Address.String(), "error")
			}
		} else if p.metrics != nil {
			p.metrics.RecordEventPublished("transfers."+p.opts.Address.String(), "success")
		}
	}

	return true
}

func (p *Poller) recordSkip(reason string) {
	if p.metrics != nil {
		p.metrics.RecordTransferSkipped(reason)
	}
}
