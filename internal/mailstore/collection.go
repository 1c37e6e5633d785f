package mailstore

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/emersion/go-imap/v2"
)

// Collection is the result of one search in one mailbox. The matching
// UIDs are computed on first access and fixed from then on; build a new
// Collection to search again. Messages are created on demand and cached
// by UID.
type Collection struct {
	session  *Session
	gen      uint64
	mailbox  string
	criteria *imap.SearchCriteria
	query    []string

	uids     []imap.UID
	searched bool
	messages map[imap.UID]*Message
}

func newCollection(s *Session, mailbox string, criteria *imap.SearchCriteria, query []string) *Collection {
	return &Collection{
		session:  s,
		gen:      s.generation,
		mailbox:  mailbox,
		criteria: criteria,
		query:    slices.Clone(query),
		messages: make(map[imap.UID]*Message),
	}
}

// Mailbox returns the mailbox the collection was searched in.
func (c *Collection) Mailbox() string {
	return c.mailbox
}

// Query returns the search tokens the collection was built from.
func (c *Collection) Query() []string {
	return slices.Clone(c.query)
}

func (c *Collection) load(ctx context.Context) error {
	if err := c.session.checkGeneration(c.gen); err != nil {
		return err
	}
	if c.searched {
		return nil
	}
	uids, err := c.session.search(ctx, c.gen, c.mailbox, c.criteria)
	if err != nil {
		return err
	}
	slices.Sort(uids)
	c.uids = slices.Compact(uids)
	c.searched = true
	return nil
}

// UIDs returns the matching UIDs in ascending order.
func (c *Collection) UIDs(ctx context.Context) ([]imap.UID, error) {
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(c.uids), nil
}

// Len returns the number of matching messages.
func (c *Collection) Len(ctx context.Context) (int, error) {
	if err := c.load(ctx); err != nil {
		return 0, err
	}
	return len(c.uids), nil
}

// Contains reports whether uid is part of the result.
func (c *Collection) Contains(ctx context.Context, uid imap.UID) (bool, error) {
	if err := c.load(ctx); err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(c.uids, uid)
	return found, nil
}

// Get returns the message with the given UID. It fails with ErrUnknownUID
// when uid is not part of the result.
func (c *Collection) Get(ctx context.Context, uid imap.UID) (*Message, error) {
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	if m, ok := c.messages[uid]; ok {
		return m, nil
	}
	if _, found := slices.BinarySearch(c.uids, uid); !found {
		return nil, fmt.Errorf("%w: %s/%d", ErrUnknownUID, c.mailbox, uid)
	}

	m, err := newMessage(ctx, c.session, c.gen, c.mailbox, uid)
	if err != nil {
		return nil, err
	}
	c.messages[uid] = m
	return m, nil
}

// At returns the i-th message in ascending UID order. Negative indexes
// count from the end.
func (c *Collection) At(ctx context.Context, i int) (*Message, error) {
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	n := len(c.uids)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return nil, fmt.Errorf("index %d out of range for %d messages", i, n)
	}
	return c.Get(ctx, c.uids[i])
}

// All iterates over the messages in ascending UID order. The first error
// is yielded with a nil message and ends the iteration.
func (c *Collection) All(ctx context.Context) iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		if err := c.load(ctx); err != nil {
			yield(nil, err)
			return
		}
		for _, uid := range slices.Clone(c.uids) {
			m, err := c.Get(ctx, uid)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}
