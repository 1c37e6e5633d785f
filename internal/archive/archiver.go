// Package archive moves messages no rule claimed into an archive mailbox
// and expires old archived mail.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailpost/internal/logger"
	"github.com/nhle/mailpost/internal/mailstore"
	"github.com/nhle/mailpost/internal/metrics"
	"github.com/nhle/mailpost/internal/run"
)

// Report summarises one archival pass.
type Report struct {
	// Archived counts moved messages per source mailbox.
	Archived map[string]int
	Failed   int
	Expired  int
}

// Total returns the number of messages moved to the archive.
func (r Report) Total() int {
	n := 0
	for _, c := range r.Archived {
		n += c
	}
	return n
}

// Archiver runs after dispatch, on the same session and run state.
type Archiver struct {
	Session   *mailstore.Session
	State     *run.State
	Mailbox   string
	Retention time.Duration
	Now       func() time.Time
}

// New creates an archiver moving unclaimed mail to mailbox.
func New(session *mailstore.Session, state *run.State, mailbox string, retention time.Duration) *Archiver {
	return &Archiver{
		Session:   session,
		State:     state,
		Mailbox:   mailbox,
		Retention: retention,
		Now:       time.Now,
	}
}

// Run sweeps every mailbox touched during the run, then expires archived
// messages older than the retention.
//
// A message that cannot be copied stays where it is and the sweep goes
// on; such failures are returned joined once the pass is over. Failing to
// select or search a mailbox ends the pass immediately.
func (a *Archiver) Run(ctx context.Context) (Report, error) {
	report := Report{Archived: make(map[string]int)}
	var failures []error

	for _, mailbox := range a.State.Touched() {
		if mailbox == a.Mailbox {
			continue
		}
		moved, errs, err := a.sweep(ctx, mailbox)
		report.Archived[mailbox] = moved
		report.Failed += len(errs)
		failures = append(failures, errs...)
		if err != nil {
			return report, errors.Join(append(failures, err)...)
		}
	}

	if a.Retention > 0 {
		expired, err := a.expire(ctx)
		report.Expired = expired
		if err != nil {
			return report, errors.Join(append(failures, err)...)
		}
	}

	return report, errors.Join(failures...)
}

func (a *Archiver) sweep(ctx context.Context, mailbox string) (int, []error, error) {
	log := logger.With("mailbox", mailbox, "archive", a.Mailbox, "run_id", a.State.ID)

	if err := a.Session.SelectMailbox(ctx, mailbox); err != nil {
		return 0, nil, err
	}
	coll, err := a.Session.All(ctx)
	if err != nil {
		return 0, nil, err
	}
	uids, err := coll.UIDs(ctx)
	if err != nil {
		return 0, nil, err
	}

	moved := 0
	var failures []error
	for _, uid := range uids {
		if a.State.Claimed(mailbox, uint32(uid)) {
			continue
		}
		if err := a.Session.Copy(ctx, []imap.UID{uid}, a.Mailbox); err != nil {
			log.WarnContext(ctx, "Could not archive message, leaving it in place", "uid", uid, "error", err)
			metrics.ArchiveFailures.Inc()
			failures = append(failures, fmt.Errorf("archiving %s/%d: %w", mailbox, uid, err))
			continue
		}
		if err := a.Session.Store(ctx, []imap.UID{uid}, imap.StoreFlagsAdd, imap.FlagDeleted); err != nil {
			log.WarnContext(ctx, "Archived message could not be removed from source", "uid", uid, "error", err)
			metrics.ArchiveFailures.Inc()
			failures = append(failures, fmt.Errorf("removing archived %s/%d: %w", mailbox, uid, err))
			continue
		}
		moved++
		metrics.ArchivedTotal.Inc()
	}

	if moved > 0 {
		log.InfoContext(ctx, "Archived unclaimed messages", "count", moved)
	}
	return moved, failures, nil
}

func (a *Archiver) expire(ctx context.Context) (int, error) {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	cutoff := now().Add(-a.Retention)

	if err := a.Session.SelectMailbox(ctx, a.Mailbox); err != nil {
		return 0, err
	}
	before := time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, time.UTC)
	coll, err := a.Session.SearchCriteria(ctx, &imap.SearchCriteria{Before: before})
	if err != nil {
		return 0, err
	}
	uids, err := coll.UIDs(ctx)
	if err != nil {
		return 0, err
	}
	if len(uids) == 0 {
		return 0, nil
	}
	if err := a.Session.Store(ctx, uids, imap.StoreFlagsAdd, imap.FlagDeleted); err != nil {
		return 0, err
	}

	metrics.ExpiredTotal.Add(float64(len(uids)))
	logger.InfoContext(ctx, "Expired archived messages",
		"mailbox", a.Mailbox, "count", len(uids), "before", cutoff.Format(time.DateOnly), "run_id", a.State.ID)
	return len(uids), nil
}
