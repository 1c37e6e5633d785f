package mailstore

import (
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"
)

var (
	// ErrSessionClosed is returned when a Collection or Message is used
	// after the session that issued it logged out.
	ErrSessionClosed = errors.New("mail session closed")

	// ErrUnknownUID is returned when a UID is looked up in a Collection
	// whose search result does not contain it.
	ErrUnknownUID = errors.New("uid not in collection")
)

// ProtocolError reports a non-success status from a mail-store primitive.
// It carries the raw status and text the server answered with.
type ProtocolError struct {
	Op      string
	Mailbox string
	Status  string
	Text    string
	Err     error
}

func (e *ProtocolError) Error() string {
	where := e.Op
	if e.Mailbox != "" {
		where = fmt.Sprintf("%s %s", e.Op, e.Mailbox)
	}
	if e.Text != "" {
		return fmt.Sprintf("mail store %s failed: %s %s", where, e.Status, e.Text)
	}
	return fmt.Sprintf("mail store %s failed: %s", where, e.Status)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err (or any error in its chain) is a
// ProtocolError.
func IsProtocolError(err error) bool {
	var protoErr *ProtocolError
	return errors.As(err, &protoErr)
}

// protocolError converts a backend failure into a ProtocolError. Every
// backend call made by Session goes through here.
func protocolError(op, mailbox string, err error) error {
	if err == nil {
		return nil
	}

	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return err
	}
	if errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrUnknownUID) {
		return err
	}

	pe := &ProtocolError{Op: op, Mailbox: mailbox, Status: "ERROR", Text: err.Error(), Err: err}

	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		pe.Status = string(imapErr.Type)
		pe.Text = imapErr.Text
	}

	return pe
}
