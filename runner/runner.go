// Package runner drives one scan: list labelled messages, drop those the
// ledger already knows, extract a purchase from each remaining message,
// and report the tracking numbers found.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/dhcgn/parcelscan/body"
	"github.com/dhcgn/parcelscan/classify"
	"github.com/dhcgn/parcelscan/extract"
	"github.com/dhcgn/parcelscan/model"
	"github.com/dhcgn/parcelscan/state"
	"github.com/dhcgn/parcelscan/stats"
)

// ErrPanic marks an extraction step that panicked.
var ErrPanic = errors.New("extraction panicked")

// Mailbox lists and downloads messages.
type Mailbox interface {
	List(ctx context.Context, label string, limit int) ([]string, error)
	Raw(ctx context.Context, id string) ([]byte, error)
}

// Progress is told about the run as it goes.
type Progress interface {
	Start(total, known int)
	Record(evt stats.Event)
	Stop(summary stats.Summary)
}

type Phase string

const (
	PhaseFetching   Phase = "fetching"
	PhaseFiltering  Phase = "filtering"
	PhaseExtracting Phase = "extracting"
	PhaseReporting  Phase = "reporting"
	PhaseDone       Phase = "done"
)

type Config struct {
	Mailbox   Mailbox
	Ledger    state.Ledger
	Parser    body.Parser
	Registry  *extract.Registry
	Assembler *classify.Assembler
	Logger    *zap.Logger
	// Output receives one new tracking number per line.
	Output   io.Writer
	Progress Progress

	Label       string
	MaxMessages int
}

type Runner struct {
	cfg      Config
	logger   *zap.Logger
	reporter *stats.Reporter
	phase    Phase
}

// Result describes a finished run.
type Result struct {
	TrackingNumbers []string
	Summary         stats.Summary
}

func New(cfg Config) (*Runner, error) {
	switch {
	case cfg.Mailbox == nil:
		return nil, fmt.Errorf("runner: mailbox is nil")
	case cfg.Ledger == nil:
		return nil, fmt.Errorf("runner: ledger is nil")
	case cfg.Registry == nil:
		return nil, fmt.Errorf("runner: extractor registry is nil")
	case cfg.MaxMessages <= 0:
		return nil, fmt.Errorf("runner: max messages must be positive, got %d", cfg.MaxMessages)
	}
	if cfg.Parser == nil {
		cfg.Parser = body.ParserFunc(body.ParsePositional)
	}
	if cfg.Assembler == nil {
		cfg.Assembler = classify.NewAssembler(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}

	return &Runner{
		cfg:      cfg,
		logger:   cfg.Logger,
		reporter: stats.NewReporter(cfg.Logger),
	}, nil
}

// Phase is the phase the runner is in, or last finished in.
func (r *Runner) Phase() Phase {
	return r.phase
}

// Run performs a single pass. It returns an error when listing fails, when
// the ledger cannot be written, or when ctx is cancelled. Ledger entries
// written before a failure stay in place.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	started := time.Now()

	r.enter(PhaseFetching)
	ids, err := r.cfg.Mailbox.List(ctx, r.cfg.Label, r.cfg.MaxMessages)
	if err != nil {
		return Result{}, fmt.Errorf("list messages: %w", err)
	}
	for _, id := range ids {
		r.record(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeListed, MessageID: id})
	}

	r.enter(PhaseFiltering)
	pending := r.filter(ids)
	if r.cfg.Progress != nil {
		r.cfg.Progress.Start(len(pending), len(ids)-len(pending))
	}

	r.enter(PhaseExtracting)
	var found []string
	var runErr error
	for _, id := range pending {
		if err := ctx.Err(); err != nil {
			runErr = err
			r.logger.Warn("run interrupted", zap.Error(err))
			break
		}
		tracking, err := r.processMessage(ctx, id)
		if err != nil {
			runErr = err
			break
		}
		if tracking != "" {
			found = append(found, tracking)
		}
	}

	r.enter(PhaseReporting)
	for _, tracking := range found {
		if _, err := fmt.Fprintln(r.cfg.Output, tracking); err != nil {
			return Result{}, fmt.Errorf("write tracking number: %w", err)
		}
	}
	summary := r.reporter.Finish()
	if r.cfg.Progress != nil {
		r.cfg.Progress.Stop(summary)
	}

	r.enter(PhaseDone)
	r.logger.Info("run finished", zap.Duration("duration", time.Since(started)), zap.Int("newTrackingNumbers", len(found)))
	return Result{TrackingNumbers: found, Summary: summary}, runErr
}

// filter drops ids the ledger knows and repeats within the listing.
func (r *Runner) filter(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	pending := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			r.record(stats.Event{Stage: stats.StageFilter, Type: stats.EventTypeDuplicate, MessageID: id})
			continue
		}
		seen[id] = struct{}{}
		if r.cfg.Ledger.Contains(id) {
			r.record(stats.Event{Stage: stats.StageFilter, Type: stats.EventTypeKnown, MessageID: id})
			continue
		}
		pending = append(pending, id)
	}
	r.logger.Debug("filtered listing", zap.Int("listed", len(ids)), zap.Int("pending", len(pending)))
	return pending
}

// processMessage returns the tracking number of a newly recorded purchase,
// or "" when nothing new was recorded. Only ledger failures and
// cancellation are returned as errors.
func (r *Runner) processMessage(ctx context.Context, id string) (string, error) {
	logger := r.logger.With(zap.String("messageID", id))

	raw, err := r.cfg.Mailbox.Raw(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Warn("message fetch failed, will retry next run", zap.Error(err))
		r.record(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeTransport, MessageID: id, Err: err})
		return "", nil
	}

	meta, purchase, err := r.extract(ctx, id, raw)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Warn("extraction failed",
			zap.String("from", meta.From),
			zap.String("subject", meta.Subject),
			zap.Error(err))
		if _, appendErr := r.cfg.Ledger.AppendError(meta); appendErr != nil {
			return "", fmt.Errorf("record failure %s: %w", id, appendErr)
		}
		r.record(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeFailed, MessageID: id, Err: err})
		return "", nil
	}

	added, err := r.cfg.Ledger.AppendSuccess(purchase)
	if err != nil {
		return "", fmt.Errorf("record purchase %s: %w", id, err)
	}
	if !added {
		r.record(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeUnchanged, MessageID: id})
		return "", nil
	}

	logger.Info("purchase recorded",
		zap.String("trackingNumber", purchase.TrackingNumber),
		zap.Stringer("carrier", purchase.Carrier),
		zap.Stringer("senderCarrier", purchase.SenderCarrier),
		zap.Stringer("organization", purchase.Organization))
	r.record(stats.Event{
		Stage:        stats.StageExtract,
		Type:         stats.EventTypeExtracted,
		MessageID:    id,
		Carrier:      purchase.Carrier.String(),
		Organization: purchase.Organization.String(),
	})
	return purchase.TrackingNumber, nil
}

// extract runs every heuristic step for one message. A panic in any step
// is returned as ErrPanic. meta always carries id.
func (r *Runner) extract(ctx context.Context, id string, raw []byte) (meta model.MessageMeta, p model.Purchase, err error) {
	meta = model.MessageMeta{ID: id}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, rec)
		}
	}()

	msg, err := r.cfg.Parser.Parse(raw)
	if err != nil {
		return meta, p, fmt.Errorf("parse message: %w", err)
	}
	meta.To = msg.Header("To")
	meta.From = msg.Header("From")
	meta.Date = msg.Header("Date")
	meta.Subject = msg.Header("Subject")

	carrier := classify.BySender(meta.From)
	res, err := r.cfg.Registry.Extract(ctx, carrier, msg)
	if err != nil {
		return meta, p, err
	}
	return meta, r.cfg.Assembler.Assemble(meta, res.TrackingID, res.Address), nil
}

func (r *Runner) enter(phase Phase) {
	r.phase = phase
	r.logger.Info("phase", zap.String("phase", string(phase)))
}

func (r *Runner) record(evt stats.Event) {
	r.reporter.Record(evt)
	if r.cfg.Progress != nil {
		r.cfg.Progress.Record(evt)
	}
}
