package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpost/internal/dispatch"
)

const testConfig = `
backend: imap
host: imap.example.com
username: me
password: secret
ssl: true
archive: Archive
base_url: https://hooks.example.com
logging:
  level: error
rules:
  - url: /translations/
    conditions:
      subject: '*TRANSLATION*'
    actions: [mark_as_read]
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		jsonOutput = false
		checkConnect = false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "mailpost version dev\n", out)
}

func TestCheckPrintsRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	out, err := execute(t, "check", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "imap.example.com:993")
	assert.Contains(t, out, "https://hooks.example.com/translations/")
	assert.Contains(t, out, "mark_as_read")
}

func TestCheckRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: pop3\n"), 0o600))

	_, err := execute(t, "check", "--config", path)
	assert.Error(t, err)
}

func TestPrintResultJSON(t *testing.T) {
	var out bytes.Buffer
	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })

	printResult(&out)(dispatch.Result{URL: "https://example.com/hook", Body: "ok", StatusCode: 200})
	assert.Contains(t, out.String(), `"url":"https://example.com/hook"`)
}
