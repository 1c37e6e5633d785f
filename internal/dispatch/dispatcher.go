// Package dispatch delivers matched messages to their rules' endpoints.
package dispatch

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/google/uuid"

	"github.com/nhle/mailpost/internal/logger"
	"github.com/nhle/mailpost/internal/mailstore"
	"github.com/nhle/mailpost/internal/metrics"
	"github.com/nhle/mailpost/internal/model"
	"github.com/nhle/mailpost/internal/rules"
	"github.com/nhle/mailpost/internal/run"
)

// Ledger journals dispatch results.
type Ledger interface {
	RecordDispatch(ctx context.Context, rec model.DispatchRecord) error
}

// Result is the outcome of dispatching one message. Err is nil when the
// endpoint accepted the request, in which case Body holds its response.
type Result struct {
	URL        string
	Rule       string
	Mailbox    string
	UID        imap.UID
	MessageID  string
	Body       string
	StatusCode int
	Digest     string
	Err        error
	Duration   time.Duration
}

// OK reports whether the message was delivered.
func (r Result) OK() bool {
	return r.Err == nil
}

// Record converts the result into a ledger entry.
func (r Result) Record(runID string, at time.Time) model.DispatchRecord {
	rec := model.DispatchRecord{
		ID:           uuid.NewString(),
		RunID:        runID,
		Rule:         r.Rule,
		URL:          r.URL,
		Mailbox:      r.Mailbox,
		UID:          uint32(r.UID),
		MessageID:    r.MessageID,
		StatusCode:   r.StatusCode,
		Digest:       r.Digest,
		DispatchedAt: at.UTC(),
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// Dispatcher is created once per run. It claims each message at most
// once, applies the rule's actions and posts the payload.
type Dispatcher struct {
	Sender  Sender
	BaseURL string
	State   *run.State
	// Ledger is optional.
	Ledger Ledger
	Now    func() time.Time
}

// New creates a dispatcher for one run.
func New(sender Sender, baseURL string, state *run.State, ledger Ledger) *Dispatcher {
	return &Dispatcher{
		Sender:  sender,
		BaseURL: baseURL,
		State:   state,
		Ledger:  ledger,
		Now:     time.Now,
	}
}

// Dispatch consumes matches and yields one result per delivered message.
// A message already claimed earlier in the run is skipped. Delivery and
// action failures are reported in Result.Err and do not stop the
// sequence; an evaluation error from matches is yielded and ends it.
func (d *Dispatcher) Dispatch(ctx context.Context, matches iter.Seq2[rules.Match, error]) iter.Seq2[Result, error] {
	return func(yield func(Result, error) bool) {
		for m, err := range matches {
			if err != nil {
				yield(Result{}, err)
				return
			}
			msg := m.Message
			if !d.State.Claim(msg.Mailbox(), uint32(msg.UID())) {
				logger.DebugContext(ctx, "Skipping message already dispatched in this run",
					"mailbox", msg.Mailbox(), "uid", msg.UID(), "rule", m.Rule.Name, "run_id", d.State.ID)
				metrics.DuplicatesSkipped.Inc()
				continue
			}

			res := d.deliver(ctx, msg, m.Rule)
			d.record(ctx, res)
			if !yield(res, nil) {
				return
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg *mailstore.Message, rule *model.Rule) Result {
	res := Result{
		URL:       JoinURL(d.BaseURL, rule.URL),
		Rule:      rule.Name,
		Mailbox:   msg.Mailbox(),
		UID:       msg.UID(),
		MessageID: msg.MessageID(),
	}
	log := logger.With("rule", rule.Name, "mailbox", res.Mailbox, "uid", res.UID, "url", res.URL, "run_id", d.State.ID)

	for _, action := range rule.Actions {
		if err := Apply(ctx, msg, action); err != nil {
			res.Err = fmt.Errorf("action %s: %w", action, err)
			log.WarnContext(ctx, "Action failed, message not dispatched", "action", action.String(), "error", err)
			metrics.DispatchTotal.WithLabelValues(metrics.OutcomeActionError).Inc()
			return res
		}
	}

	payload, err := BuildPayload(ctx, msg, rule)
	if err != nil {
		res.Err = fmt.Errorf("building payload: %w", err)
		log.WarnContext(ctx, "Could not build payload", "error", err)
		metrics.DispatchTotal.WithLabelValues(metrics.OutcomeActionError).Inc()
		return res
	}

	start := time.Now()
	resp, err := d.Sender.Send(ctx, &Request{
		URL:     res.URL,
		Payload: payload,
		Auth:    rule.Auth,
		RunID:   d.State.ID,
	})
	res.Duration = time.Since(start)
	metrics.DispatchDuration.Observe(res.Duration.Seconds())

	if resp != nil {
		res.StatusCode = resp.StatusCode
		res.Body = resp.Body
		res.Digest = resp.Digest
	}
	switch {
	case err == nil:
		log.InfoContext(ctx, "Message dispatched", "status", res.StatusCode)
		metrics.DispatchTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	case IsStatusError(err):
		res.Err = err
		log.WarnContext(ctx, "Endpoint rejected message", "status", res.StatusCode)
		metrics.DispatchTotal.WithLabelValues(metrics.OutcomeHTTPError).Inc()
	default:
		res.Err = err
		log.WarnContext(ctx, "Dispatch failed", "error", err)
		metrics.DispatchTotal.WithLabelValues(metrics.OutcomeTransport).Inc()
	}
	return res
}

func (d *Dispatcher) record(ctx context.Context, res Result) {
	if d.Ledger == nil {
		return
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	if err := d.Ledger.RecordDispatch(ctx, res.Record(d.State.ID, now())); err != nil {
		logger.WarnContext(ctx, "Failed to record dispatch in ledger",
			"mailbox", res.Mailbox, "uid", res.UID, "run_id", d.State.ID, "error", err)
	}
}

// Apply performs a single rule action on msg.
func Apply(ctx context.Context, msg *mailstore.Message, action model.Action) error {
	switch action.Kind {
	case model.ActionMarkAsRead:
		return msg.MarkAsRead(ctx)
	case model.ActionMarkAsUnread:
		return msg.MarkAsUnread(ctx)
	case model.ActionFlag:
		return msg.Flag(ctx)
	case model.ActionDelete:
		return msg.Delete(ctx)
	case model.ActionMove:
		return msg.Move(ctx, action.Mailbox)
	case model.ActionCopy:
		return msg.Copy(ctx, action.Mailbox)
	default:
		return fmt.Errorf("unknown action %q", action.Kind)
	}
}
