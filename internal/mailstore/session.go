package mailstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailpost/internal/logger"
)

// DefaultMailbox is selected when a search is issued before any mailbox
// has been selected.
const DefaultMailbox = "INBOX"

// SessionState is the connection state of a Session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnected
	StateLoggedIn
	StateSelected
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateLoggedIn:
		return "logged-in"
	case StateSelected:
		return "selected"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Session is one authenticated connection to a mail store with at most
// one selected mailbox. It connects and logs in lazily on first use.
// A Session is not safe for concurrent use.
type Session struct {
	dial     Dialer
	username string
	password string

	backend Backend
	state   SessionState
	mailbox string

	// generation changes on every logout; collections and messages
	// issued under an older generation are no longer usable.
	generation uint64
}

// NewSession creates a disconnected session.
func NewSession(dial Dialer, username, password string) *Session {
	return &Session{dial: dial, username: username, password: password}
}

// State returns the current connection state.
func (s *Session) State() SessionState {
	return s.state
}

// Mailbox returns the selected mailbox, or "" when none is selected.
func (s *Session) Mailbox() string {
	return s.mailbox
}

func (s *Session) connect(ctx context.Context) error {
	if s.state != StateDisconnected {
		return nil
	}
	b, err := s.dial(ctx)
	if err != nil {
		return protocolError("CONNECT", "", err)
	}
	s.backend = b
	s.state = StateConnected
	return nil
}

// Login authenticates the session, connecting first if needed. Calling it
// again after a successful login does nothing.
func (s *Session) Login(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	if s.state >= StateLoggedIn {
		return nil
	}
	if err := s.backend.Login(ctx, s.username, s.password); err != nil {
		return protocolError("LOGIN", "", err)
	}
	s.state = StateLoggedIn
	logger.DebugContext(ctx, "Mail store login succeeded", "username", s.username)
	return nil
}

// SelectMailbox makes name the selected mailbox. A previously selected
// mailbox, even the same one, is closed first, which expunges messages
// flagged \Deleted there.
func (s *Session) SelectMailbox(ctx context.Context, name string) error {
	if err := s.Login(ctx); err != nil {
		return err
	}
	if s.state == StateSelected {
		prev := s.mailbox
		if err := s.backend.Close(ctx); err != nil {
			return protocolError("CLOSE", prev, err)
		}
		s.state = StateLoggedIn
		s.mailbox = ""
	}
	if err := s.backend.Select(ctx, name); err != nil {
		return protocolError("SELECT", name, err)
	}
	s.state = StateSelected
	s.mailbox = name
	return nil
}

// ensureSelected selects mailbox unless it is already the selected one.
func (s *Session) ensureSelected(ctx context.Context, mailbox string) error {
	if s.state == StateSelected && s.mailbox == mailbox {
		return nil
	}
	return s.SelectMailbox(ctx, mailbox)
}

func (s *Session) ready(ctx context.Context) error {
	if s.state == StateSelected {
		return nil
	}
	return s.SelectMailbox(ctx, DefaultMailbox)
}

// Search returns the messages of the selected mailbox matching the given
// search tokens, selecting INBOX if nothing is selected yet. The search
// itself runs on first access to the collection.
func (s *Session) Search(ctx context.Context, tokens ...string) (*Collection, error) {
	criteria, err := ParseQuery(tokens...)
	if err != nil {
		return nil, err
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return newCollection(s, s.mailbox, criteria, tokens), nil
}

// SearchCriteria is like Search with prebuilt criteria.
func (s *Session) SearchCriteria(ctx context.Context, criteria *imap.SearchCriteria) (*Collection, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return newCollection(s, s.mailbox, criteria, nil), nil
}

// All returns every message of the selected mailbox.
func (s *Session) All(ctx context.Context) (*Collection, error) {
	return s.Search(ctx, "ALL")
}

// ListMailboxes returns the names of all mailboxes on the server.
func (s *Session) ListMailboxes(ctx context.Context) ([]string, error) {
	if err := s.Login(ctx); err != nil {
		return nil, err
	}
	names, err := s.backend.List(ctx)
	if err != nil {
		return nil, protocolError("LIST", "", err)
	}
	return names, nil
}

// Store changes flags on messages of the selected mailbox.
func (s *Session) Store(ctx context.Context, uids []imap.UID, op imap.StoreFlagsOp, flags ...imap.Flag) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if len(uids) == 0 {
		return nil
	}
	if err := s.backend.Store(ctx, uids, op, flags); err != nil {
		return protocolError("STORE", s.mailbox, err)
	}
	return nil
}

// Copy copies messages of the selected mailbox to dest.
func (s *Session) Copy(ctx context.Context, uids []imap.UID, dest string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if len(uids) == 0 {
		return nil
	}
	if err := s.backend.Copy(ctx, uids, dest); err != nil {
		return protocolError("COPY", s.mailbox, err)
	}
	return nil
}

// CloseMailbox leaves the selected mailbox, expunging messages flagged
// \Deleted. It does nothing when no mailbox is selected.
func (s *Session) CloseMailbox(ctx context.Context) error {
	if s.state != StateSelected {
		return nil
	}
	mailbox := s.mailbox
	s.state = StateLoggedIn
	s.mailbox = ""
	if err := s.backend.Close(ctx); err != nil {
		return protocolError("CLOSE", mailbox, err)
	}
	return nil
}

// Logout closes any selected mailbox and ends the connection. Collections
// and messages obtained before Logout fail with ErrSessionClosed
// afterwards. The session may be used again and reconnects on demand.
func (s *Session) Logout(ctx context.Context) error {
	if s.state == StateDisconnected {
		return nil
	}

	closeErr := s.CloseMailbox(ctx)

	var logoutErr error
	if err := s.backend.Logout(ctx); err != nil {
		logoutErr = protocolError("LOGOUT", "", err)
	}

	s.backend = nil
	s.state = StateDisconnected
	s.mailbox = ""
	s.generation++

	return errors.Join(closeErr, logoutErr)
}

func (s *Session) checkGeneration(gen uint64) error {
	if gen != s.generation {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) search(ctx context.Context, gen uint64, mailbox string, criteria *imap.SearchCriteria) ([]imap.UID, error) {
	if err := s.checkGeneration(gen); err != nil {
		return nil, err
	}
	if err := s.ensureSelected(ctx, mailbox); err != nil {
		return nil, err
	}
	uids, err := s.backend.Search(ctx, criteria)
	if err != nil {
		return nil, protocolError("SEARCH", mailbox, err)
	}
	return uids, nil
}

func (s *Session) fetch(ctx context.Context, gen uint64, mailbox string, uid imap.UID, part Part) (*FetchResult, error) {
	if err := s.checkGeneration(gen); err != nil {
		return nil, err
	}
	if err := s.ensureSelected(ctx, mailbox); err != nil {
		return nil, err
	}
	res, err := s.backend.Fetch(ctx, uid, part)
	if err != nil {
		return nil, protocolError("FETCH", mailbox, err)
	}
	return res, nil
}

func (s *Session) store(ctx context.Context, gen uint64, mailbox string, uid imap.UID, op imap.StoreFlagsOp, flags ...imap.Flag) error {
	if err := s.checkGeneration(gen); err != nil {
		return err
	}
	if err := s.ensureSelected(ctx, mailbox); err != nil {
		return err
	}
	if err := s.backend.Store(ctx, []imap.UID{uid}, op, flags); err != nil {
		return protocolError("STORE", mailbox, err)
	}
	return nil
}

func (s *Session) copy(ctx context.Context, gen uint64, mailbox string, uid imap.UID, dest string) error {
	if err := s.checkGeneration(gen); err != nil {
		return err
	}
	if err := s.ensureSelected(ctx, mailbox); err != nil {
		return err
	}
	if err := s.backend.Copy(ctx, []imap.UID{uid}, dest); err != nil {
		return protocolError("COPY", mailbox, err)
	}
	return nil
}
