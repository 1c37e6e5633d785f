package mailstore_test

import (
	"context"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpost/internal/mailstore"
)

func TestCollectionOrderAndLookup(t *testing.T) {
	srv := newServer(t)
	for _, subj := range []string{"a", "b", "c"} {
		appendText(srv, "INBOX", subj)
	}
	s := newSession(srv)
	ctx := context.Background()

	coll, err := s.Search(ctx, "ALL")
	require.NoError(t, err)

	uids, err := coll.UIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []imap.UID{1, 2, 3}, uids)

	var subjects []string
	for msg, err := range coll.All(ctx) {
		require.NoError(t, err)
		subjects = append(subjects, msg.Subject())
	}
	assert.Equal(t, []string{"a", "b", "c"}, subjects)

	last, err := coll.At(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, imap.UID(3), last.UID())

	_, err = coll.At(ctx, 3)
	assert.Error(t, err)
}

func TestCollectionCachesMessagesAndUIDs(t *testing.T) {
	srv := newServer(t)
	uid := appendText(srv, "INBOX", "a")
	s := newSession(srv)
	ctx := context.Background()

	coll, err := s.Search(ctx, "ALL")
	require.NoError(t, err)

	first, err := coll.Get(ctx, uid)
	require.NoError(t, err)
	again, err := coll.Get(ctx, uid)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, srv.CountCalls("FETCH"))

	// Membership is fixed once computed.
	appendText(srv, "INBOX", "late")
	n, err := coll.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, srv.CountCalls("SEARCH"))
}

func TestCollectionUnknownUID(t *testing.T) {
	srv := newServer(t)
	appendText(srv, "INBOX", "seen", imap.FlagSeen)
	unseen := appendText(srv, "INBOX", "unseen")
	s := newSession(srv)
	ctx := context.Background()

	coll, err := s.Search(ctx, "SEEN")
	require.NoError(t, err)

	ok, err := coll.Contains(ctx, unseen)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = coll.Get(ctx, unseen)
	assert.ErrorIs(t, err, mailstore.ErrUnknownUID)
}

func TestCollectionStopsEarly(t *testing.T) {
	srv := newServer(t)
	for range 3 {
		appendText(srv, "INBOX", "x")
	}
	s := newSession(srv)
	ctx := context.Background()

	coll, err := s.Search(ctx, "ALL")
	require.NoError(t, err)
	for msg, err := range coll.All(ctx) {
		require.NoError(t, err)
		assert.Equal(t, imap.UID(1), msg.UID())
		break
	}
	assert.Equal(t, 1, srv.CountCalls("FETCH"))
}

func TestCollectionSearchesItsOwnMailbox(t *testing.T) {
	srv := newServer(t)
	srv.CreateMailbox("Work")
	appendText(srv, "Work", "w")
	s := newSession(srv)
	ctx := context.Background()

	require.NoError(t, s.SelectMailbox(ctx, "Work"))
	coll, err := s.Search(ctx, "ALL")
	require.NoError(t, err)
	require.NoError(t, s.SelectMailbox(ctx, "INBOX"))

	n, err := coll.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "Work", s.Mailbox())
}

func TestCollectionFromCriteria(t *testing.T) {
	srv := newServer(t)
	appendText(srv, "INBOX", "seen", imap.FlagSeen)
	unseen := appendText(srv, "INBOX", "unseen")
	s := newSession(srv)
	ctx := context.Background()

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ALL"}, all.Query())
	n, err := all.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	coll, err := s.SearchCriteria(ctx, &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}})
	require.NoError(t, err)
	assert.Empty(t, coll.Query())
	uids, err := coll.UIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []imap.UID{unseen}, uids)
}
