package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpost/internal/pattern"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const sampleConfig = `
backend: imap
host: imap.example.com
username: clientg.test@example.com
password: secret
ssl: true
archive: Archive
rules:
  - url: http://localhost:8000/translation_mail_test/
    conditions:
      sender: ['*@gmail.com', '*@odesk.com']
    add_params:
      Message-Type: test
    actions: [mark_as_read, "move:Processed"]
    query: [SUBJECT, translation, SINCE, 15-Dec-2010]
  - url: /mail_test/
    conditions:
      subject: '*task*'
    query: BEFORE 1-Nov-2010
    send_files: false
    msg_params: []
`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "imap", cfg.Backend)
	assert.True(t, cfg.SSL)
	assert.Equal(t, 0, cfg.Port)
	assert.Equal(t, "imap.example.com:993", cfg.IMAP().Addr())
	assert.Equal(t, "26 weeks", cfg.ArchiveLife)
	assert.Equal(t, 26*7*24*time.Hour, cfg.Retention)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.PollInterval)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.Len(t, cfg.Rules, 2)

	a := cfg.Rules[0]
	assert.Equal(t, "INBOX", a.Mailbox)
	assert.Equal(t, pattern.SyntaxGlob, a.Syntax)
	assert.Equal(t, Query{"SUBJECT", "translation", "SINCE", "15-Dec-2010"}, a.Query)
	assert.Equal(t, DefaultMsgParams, a.MsgParams)
	assert.True(t, a.SendFiles)
	assert.False(t, a.Raw)
	assert.Equal(t, map[string]string{"Message-Type": "test"}, a.AddParams)
	assert.Equal(t, []Action{
		{Kind: ActionMarkAsRead},
		{Kind: ActionMove, Mailbox: "Processed"},
	}, a.Actions)
	assert.Equal(t, a.URL, a.Name)

	b := cfg.Rules[1]
	assert.Equal(t, Query{"BEFORE 1-Nov-2010"}, b.Query)
	assert.False(t, b.SendFiles)
	assert.Empty(t, b.MsgParams)
	assert.Empty(t, b.Actions)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("MAILPOST_PASSWORD", "from-env")
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Password)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestLoadConfigErrors(t *testing.T) {
	base := "backend: imap\nhost: h\nusername: u\npassword: p\n"

	tests := []struct {
		name    string
		body    string
		wantKey string
	}{
		{"missing backend", "host: h\nusername: u\npassword: p\nrules: [{url: x}]\n", "backend"},
		{"unsupported backend", "backend: pop3\nhost: h\nusername: u\npassword: p\nrules: [{url: x}]\n", "backend"},
		{"missing host", "backend: imap\nusername: u\npassword: p\nrules: [{url: x}]\n", "host"},
		{"no rules", base, "rules"},
		{"rule without url", base + "rules: [{mailbox: INBOX}]\n", "rules[0].url"},
		{"bad syntax", base + "rules: [{url: x, syntax: sql}]\n", "rules[0].syntax"},
		{"bad condition type", base + "rules: [{url: x, conditions: {subject: 5}}]\n", "rules[0].conditions.subject"},
		{"bad regex", base + "rules: [{url: x, syntax: regex, conditions: {subject: '('}}]\n", "rules[0].conditions.subject"},
		{"bad query", base + "rules: [{url: x, query: [SINCE, someday]}]\n", "rules[0].query"},
		{"bad action", base + "rules: [{url: x, actions: [explode]}]\n", "rules[0]"},
		{"move without mailbox", base + "rules: [{url: x, actions: [move]}]\n", "rules[0]"},
		{"unknown rule key", base + "rules: [{url: x, colour: red}]\n", "rules[0]"},
		{"bad archive life", base + "archive_life: forever\nrules: [{url: x}]\n", "archive_life"},
		{"bad auth type", base + "rules: [{url: x, auth: {type: digest}}]\n", "rules[0].auth.type"},
		{"jwt without secret", base + "rules: [{url: x, auth: {type: jwt}}]\n", "rules[0].auth.secret"},
		{"bad method", base + "rules: [{url: x, method: get}]\n", "rules[0].method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, IsConfigurationError(err), "got %T: %v", err, err)
			assert.Contains(t, err.Error(), "configuration "+tt.wantKey)
		})
	}
}

func TestRegexpSyntaxAlias(t *testing.T) {
	body := "backend: imap\nhost: h\nusername: u\npassword: p\n" +
		"rules: [{url: x, syntax: regexp, conditions: {subject: '.*task'}}]\n"
	cfg, err := LoadConfig(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, pattern.SyntaxRegex, cfg.Rules[0].Syntax)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{
		Backend:  BackendIMAP,
		Host:     "imap.example.com",
		Username: "me",
		Password: "keyring:imap/me",
		SSL:      true,
		Rules: []Rule{{
			URL:       "https://hooks.example.com/mail",
			Query:     Query{"UNSEEN"},
			SendFiles: true,
			Actions:   []Action{{Kind: ActionMarkAsRead}},
		}},
	}
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "keyring:imap/me", loaded.Password)
	require.Len(t, loaded.Rules, 1)
	assert.Equal(t, Query{"UNSEEN"}, loaded.Rules[0].Query)
	assert.Equal(t, []Action{{Kind: ActionMarkAsRead}}, loaded.Rules[0].Actions)
	assert.True(t, loaded.Rules[0].SendFiles)
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{in: "mark_as_read", want: Action{Kind: ActionMarkAsRead}},
		{in: "Delete", want: Action{Kind: ActionDelete}},
		{in: "copy: Backup", want: Action{Kind: ActionCopy, Mailbox: "Backup"}},
		{in: "move:Work/Done", want: Action{Kind: ActionMove, Mailbox: "Work/Done"}},
		{in: "flag:x", wantErr: true},
		{in: "copy", wantErr: true},
		{in: "download", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAction(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
