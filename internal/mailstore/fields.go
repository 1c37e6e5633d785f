package mailstore

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"
)

// FieldValue is the value of a named message field: either a single text
// or a list of texts.
type FieldValue struct {
	Text   string
	List   []string
	IsList bool
}

// TextValue wraps a single text.
func TextValue(s string) FieldValue {
	return FieldValue{Text: s}
}

// ListValue wraps a list of texts.
func ListValue(l []string) FieldValue {
	return FieldValue{List: l, IsList: true}
}

// Empty reports whether the value carries nothing. Empty values are
// treated as absent.
func (v FieldValue) Empty() bool {
	if v.IsList {
		return len(v.List) == 0
	}
	return v.Text == ""
}

// Values returns the texts a pattern is matched against.
func (v FieldValue) Values() []string {
	if v.IsList {
		return v.List
	}
	return []string{v.Text}
}

type computedField func(ctx context.Context, m *Message) (FieldValue, error)

// computedFields are consulted when no header of the same name exists.
var computedFields = map[string]computedField{
	"uid": func(_ context.Context, m *Message) (FieldValue, error) {
		return TextValue(strconv.FormatUint(uint64(m.uid), 10)), nil
	},
	"mailbox": func(_ context.Context, m *Message) (FieldValue, error) {
		return TextValue(m.mailbox), nil
	},
	"sender": func(_ context.Context, m *Message) (FieldValue, error) {
		return TextValue(m.Sender()), nil
	},
	"receiver": func(_ context.Context, m *Message) (FieldValue, error) {
		return TextValue(m.Receiver()), nil
	},
	"timestamp": func(_ context.Context, m *Message) (FieldValue, error) {
		return TextValue(formatTime(m.Timestamp())), nil
	},
	"internal_date": func(_ context.Context, m *Message) (FieldValue, error) {
		return TextValue(formatTime(m.internalDate)), nil
	},
	"size": func(_ context.Context, m *Message) (FieldValue, error) {
		if m.size == 0 {
			return FieldValue{}, nil
		}
		return TextValue(strconv.FormatInt(m.size, 10)), nil
	},
	"flags": func(_ context.Context, m *Message) (FieldValue, error) {
		flags := make([]string, 0, len(m.flags))
		for _, f := range m.flags {
			flags = append(flags, string(f))
		}
		return ListValue(flags), nil
	},
	"body": func(ctx context.Context, m *Message) (FieldValue, error) {
		s, err := m.Body(ctx)
		return TextValue(s), err
	},
	"text": func(ctx context.Context, m *Message) (FieldValue, error) {
		s, err := m.Text(ctx)
		return TextValue(s), err
	},
	"text_bodies": func(ctx context.Context, m *Message) (FieldValue, error) {
		l, err := m.TextBodies(ctx)
		return ListValue(l), err
	},
	"html_bodies": func(ctx context.Context, m *Message) (FieldValue, error) {
		l, err := m.HTMLBodies(ctx)
		return ListValue(l), err
	},
	"attachments": func(ctx context.Context, m *Message) (FieldValue, error) {
		atts, err := m.Attachments(ctx)
		if err != nil {
			return FieldValue{}, err
		}
		names := make([]string, 0, len(atts))
		for _, a := range atts {
			names = append(names, a.Filename)
		}
		return ListValue(names), nil
	},
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// Fields returns the names of the computed fields in sorted order. Any
// header name is resolvable in addition to these.
func Fields() []string {
	names := make([]string, 0, len(computedFields))
	for name := range computedFields {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve looks up a field by name: a header of that name first, then a
// computed field. It reports false when neither yields a non-empty value.
// It fails with ErrSessionClosed once the session has logged out.
func (m *Message) Resolve(ctx context.Context, name string) (FieldValue, bool, error) {
	if err := m.session.checkGeneration(m.gen); err != nil {
		return FieldValue{}, false, err
	}
	if m.HasHeader(name) {
		if v := TextValue(m.Header(name)); !v.Empty() {
			return v, true, nil
		}
	}

	fn, ok := computedFields[strings.ToLower(name)]
	if !ok {
		return FieldValue{}, false, nil
	}
	v, err := fn(ctx, m)
	if err != nil {
		return FieldValue{}, false, err
	}
	if v.Empty() {
		return FieldValue{}, false, nil
	}
	return v, true, nil
}
