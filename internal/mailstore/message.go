package mailstore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/k3a/html2text"
)

// addressPattern finds a bare address in a header that does not parse as
// an address list.
var addressPattern = regexp.MustCompile(`[\w.]+@[\w.-]+`)

// Message is a view of one message in one mailbox. The header block,
// flags, internal date and size are fetched when the view is created;
// the full source is fetched once, by the first accessor that needs it.
type Message struct {
	session *Session
	gen     uint64
	mailbox string
	uid     imap.UID

	header       mail.Header
	flags        []imap.Flag
	internalDate time.Time
	size         int64

	// loaded is nil while only the header is known.
	loaded *loadedMessage
}

type loadedMessage struct {
	raw  []byte
	body *mimeBody
}

func newMessage(ctx context.Context, s *Session, gen uint64, mailbox string, uid imap.UID) (*Message, error) {
	res, err := s.fetch(ctx, gen, mailbox, uid, PartHeader)
	if err != nil {
		return nil, err
	}

	header, err := parseHeader(res.Literal)
	if err != nil {
		return nil, fmt.Errorf("parsing header of %s/%d: %w", mailbox, uid, err)
	}

	return &Message{
		session:      s,
		gen:          gen,
		mailbox:      mailbox,
		uid:          uid,
		header:       header,
		flags:        res.Flags,
		internalDate: res.InternalDate,
		size:         res.Size,
	}, nil
}

func parseHeader(literal []byte) (mail.Header, error) {
	if len(literal) == 0 {
		return mail.Header{}, nil
	}
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(literal)))
	if err != nil {
		return mail.Header{}, err
	}
	return mail.Header{Header: message.Header{Header: h}}, nil
}

// ensureLoaded fetches and parses the full message on first use.
func (m *Message) ensureLoaded(ctx context.Context) (*loadedMessage, error) {
	if err := m.session.checkGeneration(m.gen); err != nil {
		return nil, err
	}
	if m.loaded != nil {
		return m.loaded, nil
	}
	res, err := m.session.fetch(ctx, m.gen, m.mailbox, m.uid, PartFull)
	if err != nil {
		return nil, err
	}
	if res.Flags != nil {
		m.flags = res.Flags
	}
	m.loaded = &loadedMessage{raw: res.Literal, body: parseMIMEBody(res.Literal)}
	return m.loaded, nil
}

// Loaded reports whether the full message has been fetched.
func (m *Message) Loaded() bool {
	return m.loaded != nil
}

func (m *Message) UID() imap.UID {
	return m.uid
}

func (m *Message) Mailbox() string {
	return m.mailbox
}

// Header returns the decoded value of the named header field, or "" when
// it is absent.
func (m *Message) Header(name string) string {
	v, err := m.header.Text(name)
	if err != nil {
		return m.header.Get(name)
	}
	return v
}

// HasHeader reports whether the named header field is present.
func (m *Message) HasHeader(name string) bool {
	return m.header.Has(name)
}

func (m *Message) From() string      { return m.Header("From") }
func (m *Message) To() string        { return m.Header("To") }
func (m *Message) Subject() string   { return m.Header("Subject") }
func (m *Message) Date() string      { return m.Header("Date") }
func (m *Message) MessageID() string { return m.Header("Message-ID") }

// Timestamp returns the parsed Date header, falling back to the internal
// date when the header is missing or malformed.
func (m *Message) Timestamp() time.Time {
	if t, err := m.header.Date(); err == nil && !t.IsZero() {
		return t
	}
	return m.internalDate
}

// Sender returns the first address of the From header without its
// display name.
func (m *Message) Sender() string {
	return m.firstAddress("From")
}

// Receiver returns the first address of the To header without its
// display name.
func (m *Message) Receiver() string {
	return m.firstAddress("To")
}

func (m *Message) firstAddress(field string) string {
	if addrs, err := m.header.AddressList(field); err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	return addressPattern.FindString(m.header.Get(field))
}

// Flags returns the message flags as last seen by this view.
func (m *Message) Flags() []imap.Flag {
	return slices.Clone(m.flags)
}

// HasFlag reports whether the view has seen flag set on the message.
func (m *Message) HasFlag(flag imap.Flag) bool {
	for _, f := range m.flags {
		if strings.EqualFold(string(f), string(flag)) {
			return true
		}
	}
	return false
}

func (m *Message) Size() int64 {
	return m.size
}

func (m *Message) InternalDate() time.Time {
	return m.internalDate
}

// TextBodies returns every text/plain part.
func (m *Message) TextBodies(ctx context.Context) ([]string, error) {
	l, err := m.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(l.body.textBodies), nil
}

// HTMLBodies returns every text/html part.
func (m *Message) HTMLBodies(ctx context.Context) ([]string, error) {
	l, err := m.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(l.body.htmlBodies), nil
}

// Body returns the text/plain parts joined by newlines.
func (m *Message) Body(ctx context.Context) (string, error) {
	l, err := m.ensureLoaded(ctx)
	if err != nil {
		return "", err
	}
	return strings.Join(l.body.textBodies, "\n"), nil
}

// Text returns the plain-text rendering of the message: the text/plain
// body when there is one, otherwise the HTML body converted to text.
func (m *Message) Text(ctx context.Context) (string, error) {
	l, err := m.ensureLoaded(ctx)
	if err != nil {
		return "", err
	}
	if body := strings.Join(l.body.textBodies, "\n"); strings.TrimSpace(body) != "" {
		return body, nil
	}
	if len(l.body.htmlBodies) == 0 {
		return "", nil
	}
	return strings.TrimSpace(html2text.HTML2Text(strings.Join(l.body.htmlBodies, "\n"))), nil
}

// Attachments returns the file parts of the message.
func (m *Message) Attachments(ctx context.Context) ([]Attachment, error) {
	l, err := m.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(l.body.attachments), nil
}

// Raw returns the complete RFC 822 source.
func (m *Message) Raw(ctx context.Context) ([]byte, error) {
	l, err := m.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(l.raw), nil
}

// AddFlag sets flag on the message.
func (m *Message) AddFlag(ctx context.Context, flag imap.Flag) error {
	if err := m.session.store(ctx, m.gen, m.mailbox, m.uid, imap.StoreFlagsAdd, flag); err != nil {
		return err
	}
	if !m.HasFlag(flag) {
		m.flags = append(m.flags, flag)
	}
	return nil
}

// RemoveFlag clears flag on the message.
func (m *Message) RemoveFlag(ctx context.Context, flag imap.Flag) error {
	if err := m.session.store(ctx, m.gen, m.mailbox, m.uid, imap.StoreFlagsDel, flag); err != nil {
		return err
	}
	m.flags = slices.DeleteFunc(m.flags, func(f imap.Flag) bool {
		return strings.EqualFold(string(f), string(flag))
	})
	return nil
}

func (m *Message) MarkAsRead(ctx context.Context) error {
	return m.AddFlag(ctx, imap.FlagSeen)
}

func (m *Message) MarkAsUnread(ctx context.Context) error {
	return m.RemoveFlag(ctx, imap.FlagSeen)
}

func (m *Message) Flag(ctx context.Context) error {
	return m.AddFlag(ctx, imap.FlagFlagged)
}

// Delete flags the message \Deleted. It disappears when its mailbox is
// next closed.
func (m *Message) Delete(ctx context.Context) error {
	return m.AddFlag(ctx, imap.FlagDeleted)
}

// Copy copies the message to dest. The copy gets a new UID there.
func (m *Message) Copy(ctx context.Context, dest string) error {
	return m.session.copy(ctx, m.gen, m.mailbox, m.uid, dest)
}

// Move copies the message to dest and deletes it here. Nothing is
// deleted when the copy fails.
func (m *Message) Move(ctx context.Context, dest string) error {
	if err := m.Copy(ctx, dest); err != nil {
		return err
	}
	return m.Delete(ctx)
}

func (m *Message) String() string {
	return fmt.Sprintf("%s/%d From: %s Subject: %s", m.mailbox, m.uid, m.From(), m.Subject())
}
