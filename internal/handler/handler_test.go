package handler_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpost/internal/dispatch"
	"github.com/nhle/mailpost/internal/handler"
	"github.com/nhle/mailpost/internal/mailstore"
	"github.com/nhle/mailpost/internal/mailstore/mailstoretest"
	"github.com/nhle/mailpost/internal/model"
	"github.com/nhle/mailpost/internal/store"
	"github.com/nhle/mailpost/tests/testutil"
)

var testDate = time.Date(2011, time.January, 10, 9, 30, 0, 0, time.UTC)

type endpoint struct {
	*httptest.Server
	mu       sync.Mutex
	subjects map[string][]string
}

func newEndpoint(t *testing.T) *endpoint {
	t.Helper()
	e := &endpoint{subjects: map[string][]string{}}
	e.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		e.mu.Lock()
		e.subjects[r.URL.Path] = append(e.subjects[r.URL.Path], r.FormValue("subject"))
		e.mu.Unlock()
		_, _ = io.WriteString(w, "thanks")
	}))
	t.Cleanup(e.Close)
	return e
}

func appendMail(srv *mailstoretest.Server, mailbox, subject string, flags ...imap.Flag) imap.UID {
	raw := mailstoretest.Builder{
		From:    "Client <client@odesk.com>",
		To:      "translators@example.com",
		Subject: subject,
		Date:    testDate,
		Text:    "Please translate the attached manual.",
	}.Bytes()
	return srv.Append(mailbox, raw, testDate, flags...)
}

func newConfig(t *testing.T, baseURL string, rules ...map[string]any) *model.Config {
	t.Helper()
	cfg := &model.Config{
		Backend:  model.BackendIMAP,
		Host:     "imap.example.com",
		Username: "user",
		Password: "secret",
		BaseURL:  baseURL,
	}
	for _, raw := range rules {
		r, err := model.DecodeRule(raw)
		require.NoError(t, err)
		cfg.Rules = append(cfg.Rules, r)
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestProcessTranslationScenario(t *testing.T) {
	srv := mailstoretest.NewServer("user", "secret")
	unseen := appendMail(srv, "INBOX", "[AVAILABLE FOR TRANSLATION] user manual")
	seen := appendMail(srv, "INBOX", "[AVAILABLE FOR TRANSLATION] user manual", imap.FlagSeen)

	ep := newEndpoint(t)
	cfg := newConfig(t, ep.URL,
		map[string]any{
			"name":       "translation",
			"url":        "/translation_mail/",
			"query":      "UNSEEN",
			"conditions": map[string]any{"subject": "*AVAILABLE FOR TRANSLATION*"},
			"actions":    []any{"mark_as_read"},
		},
		map[string]any{"name": "catch-all", "url": "/mail/"},
	)

	var results []dispatch.Result
	summary, err := handler.New(cfg, handler.Options{Dial: srv.Dial}).Process(context.Background(), func(r dispatch.Result) {
		results = append(results, r)
	})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, ep.URL+"/translation_mail/", results[0].URL)
	assert.Equal(t, unseen, results[0].UID)
	assert.Equal(t, "thanks", results[0].Body)
	assert.Equal(t, ep.URL+"/mail/", results[1].URL)
	assert.Equal(t, seen, results[1].UID)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
	assert.Equal(t, 2, summary.Dispatched)
	assert.Equal(t, 0, summary.Failed)
	assert.NotEmpty(t, summary.RunID)

	m, ok := srv.Message("INBOX", unseen)
	require.True(t, ok)
	assert.True(t, m.HasFlag(imap.FlagSeen))
	assert.Equal(t, 1, srv.CountCalls("STORE"))

	assert.Len(t, ep.subjects["/translation_mail/"], 1)
	assert.Len(t, ep.subjects["/mail/"], 1)
	calls := srv.Calls()
	assert.Equal(t, "LOGOUT", calls[len(calls)-1])
}

func TestProcessArchivesUnclaimedMail(t *testing.T) {
	srv := mailstoretest.NewServer("user", "secret")
	srv.CreateMailbox("Archive")
	srv.CreateMailbox("Untouched")
	appendMail(srv, "INBOX", "invoice 42")
	appendMail(srv, "INBOX", "newsletter")
	appendMail(srv, "Untouched", "leave me")

	ep := newEndpoint(t)
	cfg := newConfig(t, ep.URL, map[string]any{
		"url":        "/invoices",
		"conditions": map[string]any{"subject": "invoice*"},
	})
	cfg.Archive = "Archive"

	summary, err := handler.New(cfg, handler.Options{Dial: srv.Dial}).Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Archive.Total())

	inbox := srv.Messages("INBOX")
	require.Len(t, inbox, 1, "archived message is expunged at logout")
	assert.Equal(t, imap.UID(1), inbox[0].UID)
	assert.Len(t, srv.Messages("Archive"), 1)
	assert.Len(t, srv.Messages("Untouched"), 1)
}

func TestProcessExpiresArchive(t *testing.T) {
	now := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	srv := mailstoretest.NewServer("user", "secret")
	srv.CreateMailbox("Archive")
	appendMail(srv, "INBOX", "fresh")
	old := mailstoretest.Builder{From: "a@example.com", Subject: "old", Text: "x"}.Bytes()
	srv.Append("Archive", old, now.AddDate(0, -8, 0))

	ep := newEndpoint(t)
	cfg := newConfig(t, ep.URL, map[string]any{"url": "/all"})
	cfg.Archive = "Archive"
	cfg.ArchiveLife = "26 weeks"
	require.NoError(t, cfg.Validate())

	summary, err := handler.New(cfg, handler.Options{Dial: srv.Dial, Now: func() time.Time { return now }}).
		Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Archive.Expired)
	assert.Empty(t, srv.Messages("Archive"))
}

func TestProcessStopsOnProtocolError(t *testing.T) {
	srv := mailstoretest.NewServer("user", "secret")
	appendMail(srv, "INBOX", "one")

	ep := newEndpoint(t)
	cfg := newConfig(t, ep.URL,
		map[string]any{"url": "/missing", "mailbox": "Nope"},
		map[string]any{"url": "/never"},
	)

	var results []dispatch.Result
	_, err := handler.New(cfg, handler.Options{Dial: srv.Dial}).Process(context.Background(), func(r dispatch.Result) {
		results = append(results, r)
	})
	require.Error(t, err)
	assert.True(t, mailstore.IsProtocolError(err))
	assert.Empty(t, results)
	assert.Empty(t, ep.subjects)
	assert.Equal(t, 1, srv.CountCalls("LOGOUT"))
}

func TestProcessLoginFailure(t *testing.T) {
	srv := mailstoretest.NewServer("user", "other-password")
	ep := newEndpoint(t)
	cfg := newConfig(t, ep.URL, map[string]any{"url": "/a"})

	_, err := handler.New(cfg, handler.Options{Dial: srv.Dial}).Process(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, mailstore.IsProtocolError(err))
}

func TestProcessRecordsLedger(t *testing.T) {
	srv := mailstoretest.NewServer("user", "secret")
	appendMail(srv, "INBOX", "one")
	appendMail(srv, "INBOX", "two")
	ledger := testutil.NewTestStore(t)

	ep := newEndpoint(t)
	cfg := newConfig(t, ep.URL, map[string]any{"url": "/a"})

	summary, err := handler.New(cfg, handler.Options{Dial: srv.Dial, Ledger: ledger}).Process(context.Background(), nil)
	require.NoError(t, err)

	n, err := ledger.CountDispatches(context.Background(), storeFilterForRun(summary.RunID))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func storeFilterForRun(runID string) store.DispatchFilter {
	return store.DispatchFilter{RunID: &runID}
}
