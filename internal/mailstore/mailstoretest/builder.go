package mailstoretest

import (
	"bytes"
	"io"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailpost/internal/mailstore"
)

// Builder assembles RFC 822 messages for tests.
type Builder struct {
	From      string
	To        string
	Subject   string
	MessageID string
	Date      time.Time
	Headers   map[string]string

	Text        string
	HTML        string
	Attachments []mailstore.Attachment
}

// Bytes renders the message. A message with only a text body is written
// as a single part; anything else becomes multipart/mixed.
func (b Builder) Bytes() []byte {
	var h mail.Header
	if b.From != "" {
		h.Set("From", b.From)
	}
	if b.To != "" {
		h.Set("To", b.To)
	}
	if b.Subject != "" {
		h.SetSubject(b.Subject)
	}
	if b.MessageID != "" {
		h.Set("Message-Id", "<"+b.MessageID+">")
	}
	if !b.Date.IsZero() {
		h.SetDate(b.Date)
	}
	for k, v := range b.Headers {
		h.Set(k, v)
	}

	var buf bytes.Buffer
	if b.HTML == "" && len(b.Attachments) == 0 {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			panic(err)
		}
		_, _ = io.WriteString(w, b.Text)
		_ = w.Close()
		return buf.Bytes()
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		panic(err)
	}

	if b.Text != "" || b.HTML != "" {
		iw, err := mw.CreateInline()
		if err != nil {
			panic(err)
		}
		if b.Text != "" {
			writeInline(iw, "text/plain", b.Text)
		}
		if b.HTML != "" {
			writeInline(iw, "text/html", b.HTML)
		}
		_ = iw.Close()
	}

	for _, a := range b.Attachments {
		var ah mail.AttachmentHeader
		ah.SetContentType(a.ContentType, nil)
		ah.SetFilename(a.Filename)
		ah.Set("Content-Transfer-Encoding", "base64")
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			panic(err)
		}
		_, _ = w.Write(a.Content)
		_ = w.Close()
	}
	_ = mw.Close()

	return buf.Bytes()
}

func writeInline(iw *mail.InlineWriter, contentType, content string) {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(ph)
	if err != nil {
		panic(err)
	}
	_, _ = io.WriteString(w, content)
	_ = w.Close()
}
