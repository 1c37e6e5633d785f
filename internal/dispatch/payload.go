package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/nhle/mailpost/internal/mailstore"
	"github.com/nhle/mailpost/internal/model"
)

// RawMessageField carries the full message source for raw rules.
const RawMessageField = "raw_message"

// Field is a named form value.
type Field struct {
	Name  string
	Value []byte
}

// File is a named file part.
type File struct {
	Name        string
	Filename    string
	ContentType string
	Content     []byte
}

// Payload is the form sent for one message. Field order is preserved on
// the wire.
type Payload struct {
	Fields []Field
	Files  []File
}

// Get returns the value of the named field.
func (p *Payload) Get(name string) ([]byte, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Names returns the field names in order.
func (p *Payload) Names() []string {
	names := make([]string, len(p.Fields))
	for i, f := range p.Fields {
		names[i] = f.Name
	}
	return names
}

func (p *Payload) set(name string, value []byte) {
	for i := range p.Fields {
		if p.Fields[i].Name == name {
			p.Fields[i].Value = value
			return
		}
	}
	p.Fields = append(p.Fields, Field{Name: name, Value: value})
}

// BuildPayload assembles the form for msg as configured by rule.
//
// A raw rule sends the message source as the single raw_message field.
// Otherwise every msg_params field the message has is sent, list values
// JSON encoded, and add_params are applied on top. Attachments are added
// as attachment[n] file parts when send_files is set.
func BuildPayload(ctx context.Context, msg *mailstore.Message, rule *model.Rule) (*Payload, error) {
	p := &Payload{}

	if rule.Raw {
		raw, err := msg.Raw(ctx)
		if err != nil {
			return nil, err
		}
		p.Fields = append(p.Fields, Field{Name: RawMessageField, Value: raw})
	} else {
		for _, name := range rule.MsgParams {
			v, found, err := msg.Resolve(ctx, name)
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			value, err := encodeValue(v)
			if err != nil {
				return nil, fmt.Errorf("encoding field %s: %w", name, err)
			}
			p.set(name, value)
		}
		for _, name := range slices.Sorted(maps.Keys(rule.AddParams)) {
			p.set(name, []byte(rule.AddParams[name]))
		}
	}

	if rule.SendFiles {
		atts, err := msg.Attachments(ctx)
		if err != nil {
			return nil, err
		}
		for i, a := range atts {
			p.Files = append(p.Files, File{
				Name:        fmt.Sprintf("attachment[%d]", i),
				Filename:    a.Filename,
				ContentType: a.ContentType,
				Content:     a.Content,
			})
		}
	}
	return p, nil
}

func encodeValue(v mailstore.FieldValue) ([]byte, error) {
	if !v.IsList {
		return []byte(v.Text), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v.List); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// JoinURL prefixes url with base, joined by exactly one slash. An empty
// base leaves url unchanged. The join is textual, so an absolute url is
// not detected.
func JoinURL(base, url string) string {
	if base == "" {
		return url
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(url, "/")
}
