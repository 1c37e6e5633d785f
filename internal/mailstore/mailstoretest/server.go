// Package mailstoretest provides an in-memory mail store for tests.
package mailstoretest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/nhle/mailpost/internal/mailstore"
)

// Message is a message stored by the fake server.
type Message struct {
	UID          imap.UID
	Flags        []imap.Flag
	InternalDate time.Time
	Raw          []byte
}

// HasFlag reports whether the message carries flag.
func (m Message) HasFlag(flag imap.Flag) bool {
	return hasFlag(m.Flags, flag)
}

type mailbox struct {
	nextUID  imap.UID
	messages []*Message
}

// Server is an in-memory mail store. Every Dial returns a new connection
// sharing the same mailboxes.
type Server struct {
	mu sync.Mutex

	Username string
	Password string

	// DialError, when set, is returned by Dial.
	DialError error
	// FailCopy, when set, is consulted before every copy of a single
	// message; a non-nil result fails the COPY command.
	FailCopy func(mailbox string, uid imap.UID, dest string) error
	// FailStore, when set, is consulted before every STORE.
	FailStore func(mailbox string, uid imap.UID) error

	mailboxes map[string]*mailbox
	calls     []string
	dials     int
}

// NewServer creates a server accepting username/password that already
// holds an empty INBOX.
func NewServer(username, password string) *Server {
	s := &Server{
		Username:  username,
		Password:  password,
		mailboxes: make(map[string]*mailbox),
	}
	s.CreateMailbox(mailstore.DefaultMailbox)
	return s
}

// CreateMailbox adds an empty mailbox if it does not exist yet.
func (s *Server) CreateMailbox(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mailboxes[name]; !ok {
		s.mailboxes[name] = &mailbox{nextUID: 1}
	}
}

// Append stores raw in mailbox and returns its UID. The mailbox is created
// when missing.
func (s *Server) Append(mailboxName string, raw []byte, internalDate time.Time, flags ...imap.Flag) imap.UID {
	s.mu.Lock()
	defer s.mu.Unlock()
	mbox, ok := s.mailboxes[mailboxName]
	if !ok {
		mbox = &mailbox{nextUID: 1}
		s.mailboxes[mailboxName] = mbox
	}
	return mbox.append(&Message{
		Flags:        slices.Clone(flags),
		InternalDate: internalDate,
		Raw:          bytes.Clone(raw),
	})
}

func (mb *mailbox) append(m *Message) imap.UID {
	m.UID = mb.nextUID
	mb.nextUID++
	mb.messages = append(mb.messages, m)
	return m.UID
}

// Messages returns a snapshot of the messages in mailbox.
func (s *Server) Messages(mailboxName string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	mbox, ok := s.mailboxes[mailboxName]
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(mbox.messages))
	for _, m := range mbox.messages {
		out = append(out, Message{
			UID:          m.UID,
			Flags:        slices.Clone(m.Flags),
			InternalDate: m.InternalDate,
			Raw:          bytes.Clone(m.Raw),
		})
	}
	return out
}

// Message returns one message by UID.
func (s *Server) Message(mailboxName string, uid imap.UID) (Message, bool) {
	for _, m := range s.Messages(mailboxName) {
		if m.UID == uid {
			return m, true
		}
	}
	return Message{}, false
}

// Calls returns the commands received so far, e.g. "SELECT INBOX".
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CountCalls returns how many received commands start with prefix.
func (s *Server) CountCalls(prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Dials returns the number of connections opened.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *Server) record(format string, args ...any) {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

// Dial opens a connection. It satisfies mailstore.Dialer.
func (s *Server) Dial(context.Context) (mailstore.Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DialError != nil {
		return nil, s.DialError
	}
	s.dials++
	return &conn{srv: s}, nil
}

func no(format string, args ...any) error {
	return &imap.Error{Type: imap.StatusResponseTypeNo, Text: fmt.Sprintf(format, args...)}
}

func bad(format string, args ...any) error {
	return &imap.Error{Type: imap.StatusResponseTypeBad, Text: fmt.Sprintf(format, args...)}
}

type conn struct {
	srv      *Server
	loggedIn bool
	selected string
	closed   bool
}

func (c *conn) check(needSelected bool) error {
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	if !c.loggedIn {
		return bad("not authenticated")
	}
	if needSelected && c.selected == "" {
		return bad("no mailbox selected")
	}
	return nil
}

func (c *conn) Login(_ context.Context, username, password string) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.record("LOGIN %s", username)
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	if username != c.srv.Username || password != c.srv.Password {
		return no("[AUTHENTICATIONFAILED] invalid credentials")
	}
	c.loggedIn = true
	return nil
}

func (c *conn) Select(_ context.Context, name string) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.record("SELECT %s", name)
	if err := c.check(false); err != nil {
		return err
	}
	if _, ok := c.srv.mailboxes[name]; !ok {
		c.selected = ""
		return no("[NONEXISTENT] no such mailbox %s", name)
	}
	c.selected = name
	return nil
}

func (c *conn) Close(context.Context) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.record("CLOSE")
	if err := c.check(true); err != nil {
		return err
	}
	mbox := c.srv.mailboxes[c.selected]
	mbox.messages = slices.DeleteFunc(mbox.messages, func(m *Message) bool {
		return hasFlag(m.Flags, imap.FlagDeleted)
	})
	c.selected = ""
	return nil
}

func (c *conn) Search(_ context.Context, criteria *imap.SearchCriteria) ([]imap.UID, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.record("SEARCH")
	if err := c.check(true); err != nil {
		return nil, err
	}
	var uids []imap.UID
	for i, m := range c.srv.mailboxes[c.selected].messages {
		if matches(m, uint32(i+1), criteria) {
			uids = append(uids, m.UID)
		}
	}
	return uids, nil
}

func (c *conn) find(uid imap.UID) *Message {
	for _, m := range c.srv.mailboxes[c.selected].messages {
		if m.UID == uid {
			return m
		}
	}
	return nil
}

func (c *conn) Fetch(_ context.Context, uid imap.UID, part mailstore.Part) (*mailstore.FetchResult, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.record("FETCH %d %s", uid, part)
	if err := c.check(true); err != nil {
		return nil, err
	}
	m := c.find(uid)
	if m == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}
	literal := m.Raw
	if part == mailstore.PartHeader {
		literal = headerBlock(m.Raw)
	}
	return &mailstore.FetchResult{
		UID:          m.UID,
		Flags:        slices.Clone(m.Flags),
		InternalDate: m.InternalDate,
		Size:         int64(len(m.Raw)),
		Literal:      bytes.Clone(literal),
	}, nil
}

func (c *conn) Store(_ context.Context, uids []imap.UID, op imap.StoreFlagsOp, flags []imap.Flag) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	for _, uid := range uids {
		c.srv.record("STORE %d %s %s", uid, storeOp(op), joinFlags(flags))
	}
	if err := c.check(true); err != nil {
		return err
	}
	for _, uid := range uids {
		if c.srv.FailStore != nil {
			if err := c.srv.FailStore(c.selected, uid); err != nil {
				return err
			}
		}
		m := c.find(uid)
		if m == nil {
			continue
		}
		switch op {
		case imap.StoreFlagsAdd:
			for _, f := range flags {
				if !hasFlag(m.Flags, f) {
					m.Flags = append(m.Flags, f)
				}
			}
		case imap.StoreFlagsDel:
			m.Flags = slices.DeleteFunc(m.Flags, func(f imap.Flag) bool {
				return hasFlag(flags, f)
			})
		case imap.StoreFlagsSet:
			m.Flags = slices.Clone(flags)
		}
	}
	return nil
}

func (c *conn) Copy(_ context.Context, uids []imap.UID, dest string) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	for _, uid := range uids {
		c.srv.record("COPY %d %s", uid, dest)
	}
	if err := c.check(true); err != nil {
		return err
	}
	target, ok := c.srv.mailboxes[dest]
	if !ok {
		return no("[TRYCREATE] no such mailbox %s", dest)
	}
	var copies []*Message
	for _, uid := range uids {
		if c.srv.FailCopy != nil {
			if err := c.srv.FailCopy(c.selected, uid, dest); err != nil {
				return err
			}
		}
		m := c.find(uid)
		if m == nil {
			continue
		}
		copies = append(copies, &Message{
			Flags:        slices.Clone(m.Flags),
			InternalDate: m.InternalDate,
			Raw:          bytes.Clone(m.Raw),
		})
	}
	for _, m := range copies {
		target.append(m)
	}
	return nil
}

func (c *conn) List(context.Context) ([]string, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.record("LIST")
	if err := c.check(false); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(c.srv.mailboxes))
	for name := range c.srv.mailboxes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (c *conn) Logout(context.Context) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.record("LOGOUT")
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	c.closed = true
	c.loggedIn = false
	c.selected = ""
	return nil
}

func storeOp(op imap.StoreFlagsOp) string {
	switch op {
	case imap.StoreFlagsAdd:
		return "+FLAGS"
	case imap.StoreFlagsDel:
		return "-FLAGS"
	default:
		return "FLAGS"
	}
}

func joinFlags(flags []imap.Flag) string {
	parts := make([]string, len(flags))
	for i, f := range flags {
		parts[i] = string(f)
	}
	return strings.Join(parts, " ")
}

func hasFlag(flags []imap.Flag, flag imap.Flag) bool {
	for _, f := range flags {
		if strings.EqualFold(string(f), string(flag)) {
			return true
		}
	}
	return false
}

// headerBlock returns the header of raw including the blank line that
// ends it.
func headerBlock(raw []byte) []byte {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return raw[:i+4]
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return raw[:i+2]
	}
	return raw
}

func bodyOf(raw []byte) []byte {
	return raw[len(headerBlock(raw)):]
}

func parseHeader(raw []byte) mail.Header {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(headerBlock(raw))))
	if err != nil {
		return mail.Header{}
	}
	return mail.Header{Header: message.Header{Header: h}}
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// matches evaluates the subset of SEARCH keys the fake understands.
func matches(m *Message, seq uint32, c *imap.SearchCriteria) bool {
	for _, set := range c.SeqNum {
		if !set.Contains(seq) {
			return false
		}
	}
	for _, set := range c.UID {
		if !set.Contains(m.UID) {
			return false
		}
	}

	internal := day(m.InternalDate)
	if !c.Since.IsZero() && internal.Before(day(c.Since)) {
		return false
	}
	if !c.Before.IsZero() && !internal.Before(day(c.Before)) {
		return false
	}

	header := parseHeader(m.Raw)
	if !c.SentSince.IsZero() || !c.SentBefore.IsZero() {
		sent, err := header.Date()
		if err != nil {
			return false
		}
		if !c.SentSince.IsZero() && day(sent).Before(day(c.SentSince)) {
			return false
		}
		if !c.SentBefore.IsZero() && !day(sent).Before(day(c.SentBefore)) {
			return false
		}
	}

	for _, hf := range c.Header {
		if !header.Has(hf.Key) {
			return false
		}
		v, err := header.Text(hf.Key)
		if err != nil {
			v = header.Get(hf.Key)
		}
		if !containsFold(v, hf.Value) {
			return false
		}
	}
	for _, b := range c.Body {
		if !containsFold(string(bodyOf(m.Raw)), b) {
			return false
		}
	}
	for _, t := range c.Text {
		if !containsFold(string(m.Raw), t) {
			return false
		}
	}

	for _, f := range c.Flag {
		if !hasFlag(m.Flags, f) {
			return false
		}
	}
	for _, f := range c.NotFlag {
		if hasFlag(m.Flags, f) {
			return false
		}
	}

	size := int64(len(m.Raw))
	if c.Larger > 0 && size <= c.Larger {
		return false
	}
	if c.Smaller > 0 && size >= c.Smaller {
		return false
	}

	for i := range c.Not {
		if matches(m, seq, &c.Not[i]) {
			return false
		}
	}
	for _, pair := range c.Or {
		if !matches(m, seq, &pair[0]) && !matches(m, seq, &pair[1]) {
			return false
		}
	}
	return true
}
