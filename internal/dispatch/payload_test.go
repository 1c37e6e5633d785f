package dispatch_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpost/internal/dispatch"
	"github.com/nhle/mailpost/internal/mailstore"
	"github.com/nhle/mailpost/internal/mailstore/mailstoretest"
)

func TestBuildPayloadStructured(t *testing.T) {
	srv := mailstoretest.NewServer("user", "secret")
	uid := srv.Append("INBOX", richMessage(), testDate)
	msg := getMessage(t, mailstore.NewSession(srv.Dial, "user", "secret"), "INBOX", uid)

	rule := newRule(t, map[string]any{
		"url":        "/hook",
		"msg_params": []any{"subject", "sender", "X-Missing", "html_bodies", "body"},
		"add_params": map[string]any{"subject": "overridden", "Message-Type": "test"},
		"send_files": false,
	})

	p, err := dispatch.BuildPayload(context.Background(), msg, &rule)
	require.NoError(t, err)

	want := []dispatch.Field{
		{Name: "subject", Value: []byte("overridden")},
		{Name: "sender", Value: []byte("alice@example.com")},
		{Name: "html_bodies", Value: []byte(`["<p>see attached</p>"]`)},
		{Name: "body", Value: []byte("see attached")},
		{Name: "Message-Type", Value: []byte("test")},
	}
	if diff := cmp.Diff(want, p.Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, p.Files)
}

func TestBuildPayloadDefaultParams(t *testing.T) {
	srv := mailstoretest.NewServer("user", "secret")
	uid := srv.Append("INBOX", richMessage(), testDate)
	msg := getMessage(t, mailstore.NewSession(srv.Dial, "user", "secret"), "INBOX", uid)

	rule := newRule(t, map[string]any{"url": "/hook"})
	p, err := dispatch.BuildPayload(context.Background(), msg, &rule)
	require.NoError(t, err)

	assert.Equal(t, []string{"from", "sender", "to", "receiver", "subject", "body", "date", "Message-ID"}, p.Names())
	messageID, _ := p.Get("Message-ID")
	assert.Equal(t, "<r1@example.com>", string(messageID))

	want := []dispatch.File{
		{Name: "attachment[0]", Filename: "q1.csv", ContentType: "text/csv", Content: []byte("a,b\n1,2\n")},
		{Name: "attachment[1]", Filename: "logo.png", ContentType: "image/png", Content: []byte{0x89, 'P', 'N', 'G'}},
	}
	if diff := cmp.Diff(want, p.Files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildPayloadRaw(t *testing.T) {
	srv := mailstoretest.NewServer("user", "secret")
	raw := richMessage()
	uid := srv.Append("INBOX", raw, testDate)
	msg := getMessage(t, mailstore.NewSession(srv.Dial, "user", "secret"), "INBOX", uid)

	rule := newRule(t, map[string]any{
		"url":        "/hook",
		"raw":        true,
		"send_files": false,
		"add_params": map[string]any{"ignored": "yes"},
	})
	p, err := dispatch.BuildPayload(context.Background(), msg, &rule)
	require.NoError(t, err)

	require.Len(t, p.Fields, 1)
	assert.Equal(t, dispatch.RawMessageField, p.Fields[0].Name)
	assert.Equal(t, raw, p.Fields[0].Value)
	assert.Empty(t, p.Files)
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		url  string
		want string
	}{
		{"no base", "", "http://localhost:8000/hook/", "http://localhost:8000/hook/"},
		{"plain join", "http://localhost:8000", "mail_test/", "http://localhost:8000/mail_test/"},
		{"both slashes", "http://localhost:8000/", "/mail_test/", "http://localhost:8000/mail_test/"},
		{"many slashes", "http://h//", "//x", "http://h/x"},
		{"absolute rule url is joined textually", "http://h", "http://other/x", "http://h/http://other/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dispatch.JoinURL(tt.base, tt.url))
		})
	}
}
