package mailstore

import (
	"bytes"
	"errors"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Attachment is a file part of a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Size returns the decoded size of the attachment in bytes.
func (a Attachment) Size() int64 {
	return int64(len(a.Content))
}

type mimeBody struct {
	textBodies  []string
	htmlBodies  []string
	attachments []Attachment
}

// parseMIMEBody walks a full RFC 822 message and separates text/plain
// bodies, text/html bodies and attachments. Any part carrying a filename
// counts as an attachment.
func parseMIMEBody(raw []byte) *mimeBody {
	body := &mimeBody{}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Not parseable as MIME; treat everything as plain text.
		body.textBodies = []string{string(raw)}
		return body
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, params, _ := h.ContentType()
			content, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			filename := params["name"]
			if _, dispParams, err := h.ContentDisposition(); err == nil && dispParams["filename"] != "" {
				filename = dispParams["filename"]
			}
			if filename != "" {
				body.attachments = append(body.attachments, Attachment{
					Filename:    filename,
					ContentType: contentType,
					Content:     content,
				})
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"), contentType == "":
				body.textBodies = append(body.textBodies, string(content))
			case strings.HasPrefix(contentType, "text/html"):
				body.htmlBodies = append(body.htmlBodies, string(content))
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			content, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			body.attachments = append(body.attachments, Attachment{
				Filename:    filename,
				ContentType: contentType,
				Content:     content,
			})
		}
	}

	return body
}
