// Package mailstore wraps an IMAP connection as a single-mailbox session
// and exposes search results as lazily loaded message views.
package mailstore

import (
	"context"
	"time"

	"github.com/emersion/go-imap/v2"
)

// Part selects how much of a message a fetch returns.
type Part int

const (
	// PartHeader fetches only the header block.
	PartHeader Part = iota
	// PartFull fetches the complete RFC 822 source.
	PartFull
)

func (p Part) String() string {
	if p == PartHeader {
		return "BODY.PEEK[HEADER]"
	}
	return "BODY.PEEK[]"
}

// FetchResult holds the data returned by one UID FETCH.
type FetchResult struct {
	UID          imap.UID
	Flags        []imap.Flag
	InternalDate time.Time
	Size         int64

	// Literal is the header block for PartHeader or the full message
	// source for PartFull.
	Literal []byte
}

// Backend is one connection to a mail store. Implementations report
// failures as plain errors; Session translates them into ProtocolError.
// A Backend is not safe for concurrent use.
type Backend interface {
	Login(ctx context.Context, username, password string) error
	Select(ctx context.Context, mailbox string) error

	// Close leaves the selected mailbox, expunging messages flagged
	// \Deleted.
	Close(ctx context.Context) error

	Search(ctx context.Context, criteria *imap.SearchCriteria) ([]imap.UID, error)
	Fetch(ctx context.Context, uid imap.UID, part Part) (*FetchResult, error)
	Store(ctx context.Context, uids []imap.UID, op imap.StoreFlagsOp, flags []imap.Flag) error
	Copy(ctx context.Context, uids []imap.UID, dest string) error
	List(ctx context.Context) ([]string, error)
	Logout(ctx context.Context) error
}

// Dialer opens a new connected Backend.
type Dialer func(ctx context.Context) (Backend, error)
