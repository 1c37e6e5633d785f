package dispatch_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpost/internal/mailstore"
	"github.com/nhle/mailpost/internal/mailstore/mailstoretest"
	"github.com/nhle/mailpost/internal/model"
)

var testDate = time.Date(2011, time.January, 10, 9, 30, 0, 0, time.UTC)

func newRule(t *testing.T, raw map[string]any) model.Rule {
	t.Helper()
	r, err := model.DecodeRule(raw)
	require.NoError(t, err)
	require.NoError(t, r.Validate())
	return r
}

func getMessage(t *testing.T, s *mailstore.Session, mailbox string, uid imap.UID) *mailstore.Message {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SelectMailbox(ctx, mailbox))
	coll, err := s.Search(ctx, "ALL")
	require.NoError(t, err)
	msg, err := coll.Get(ctx, uid)
	require.NoError(t, err)
	return msg
}

func richMessage() []byte {
	return mailstoretest.Builder{
		From:      "Alice <alice@example.com>",
		To:        "bob@example.com",
		Subject:   "quarterly report",
		MessageID: "r1@example.com",
		Date:      testDate,
		Text:      "see attached",
		HTML:      "<p>see attached</p>",
		Attachments: []mailstore.Attachment{
			{Filename: "q1.csv", ContentType: "text/csv", Content: []byte("a,b\n1,2\n")},
			{Filename: "logo.png", ContentType: "image/png", Content: []byte{0x89, 'P', 'N', 'G'}},
		},
	}.Bytes()
}

// recordingLedger keeps every record in memory.
type recordingLedger struct {
	records []model.DispatchRecord
	err     error
}

func (l *recordingLedger) RecordDispatch(_ context.Context, rec model.DispatchRecord) error {
	l.records = append(l.records, rec)
	return l.err
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
