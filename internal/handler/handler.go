// Package handler runs one complete mailpost cycle: rule evaluation,
// dispatch and archival over a single mail session.
package handler

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/mailpost/internal/archive"
	"github.com/nhle/mailpost/internal/credential"
	"github.com/nhle/mailpost/internal/dispatch"
	"github.com/nhle/mailpost/internal/logger"
	"github.com/nhle/mailpost/internal/mailstore"
	"github.com/nhle/mailpost/internal/model"
	"github.com/nhle/mailpost/internal/rules"
	"github.com/nhle/mailpost/internal/run"
)

// logoutTimeout bounds the final logout, which runs even when the cycle's
// context has been cancelled.
const logoutTimeout = 10 * time.Second

// Options override the collaborators a Handler builds from its config.
type Options struct {
	// Dial defaults to an IMAP dialer for the configured server.
	Dial mailstore.Dialer
	// Sender defaults to an HTTPSender honouring timeout, dispatch_rate
	// and user_agent.
	Sender dispatch.Sender
	// Ledger is optional.
	Ledger dispatch.Ledger
	Now    func() time.Time
}

// Summary counts what one cycle did.
type Summary struct {
	RunID      string
	Dispatched int
	Failed     int
	Archive    archive.Report
}

// Handler processes the configured rules. Each call to Process is an
// independent run with its own session and run state.
type Handler struct {
	cfg  *model.Config
	opts Options
}

// New creates a handler for a validated configuration.
func New(cfg *model.Config, opts Options) *Handler {
	if opts.Dial == nil {
		opts.Dial = mailstore.IMAPDialer(cfg.IMAP())
	}
	if opts.Sender == nil {
		opts.Sender = dispatch.NewHTTPSender(dispatch.SenderOptions{
			Timeout:   cfg.Timeout,
			Rate:      cfg.DispatchRate,
			UserAgent: cfg.UserAgent,
		})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{cfg: cfg, opts: opts}
}

// Process runs one cycle, calling emit for every dispatched message in
// order. Delivery failures are reported through emit only. Mail-store
// failures during evaluation end the cycle and are returned; archival
// failures are returned after the session has been logged out.
func (h *Handler) Process(ctx context.Context, emit func(dispatch.Result)) (Summary, error) {
	password, err := credential.Resolve(h.cfg.Password)
	if err != nil {
		return Summary{}, &model.ConfigurationError{Key: "password", Message: err.Error(), Err: err}
	}

	session := mailstore.NewSession(h.opts.Dial, h.cfg.Username, password)
	state := run.NewState()
	summary := Summary{RunID: state.ID}
	log := logger.With("run_id", state.ID)

	engine := rules.NewEngine(session, state)
	dispatcher := dispatch.New(h.opts.Sender, h.cfg.BaseURL, state, h.opts.Ledger)
	dispatcher.Now = h.opts.Now

	log.InfoContext(ctx, "Starting run", "rules", len(h.cfg.Rules))

	var runErr error
	for res, err := range dispatcher.Dispatch(ctx, engine.Evaluate(ctx, h.cfg.Rules)) {
		if err != nil {
			runErr = err
			break
		}
		summary.Dispatched++
		if !res.OK() {
			summary.Failed++
		}
		if emit != nil {
			emit(res)
		}
	}

	if runErr == nil && h.cfg.Archive != "" {
		archiver := archive.New(session, state, h.cfg.Archive, h.cfg.Retention)
		archiver.Now = h.opts.Now
		summary.Archive, runErr = archiver.Run(ctx)
	}

	logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
	defer cancel()
	if err := session.Logout(logoutCtx); err != nil {
		log.WarnContext(ctx, "Logout failed", "error", err)
		runErr = errors.Join(runErr, err)
	}

	if runErr != nil {
		log.ErrorContext(ctx, "Run failed", "dispatched", summary.Dispatched, "error", runErr)
		return summary, runErr
	}
	log.InfoContext(ctx, "Run finished",
		"dispatched", summary.Dispatched,
		"failed", summary.Failed,
		"archived", summary.Archive.Total(),
		"expired", summary.Archive.Expired,
	)
	return summary, nil
}
