// Package setup builds the interactive form behind "mailpost init".
package setup

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/mailpost/internal/credential"
	"github.com/nhle/mailpost/internal/model"
)

// Answers holds the values collected by the form.
type Answers struct {
	Host     string
	Port     string
	Username string
	Password string
	SSL      bool

	WebhookURL string
	Mailbox    string
	Archive    string
	MarkRead   bool
}

// NewAnswers returns answers prefilled with the usual defaults.
func NewAnswers() *Answers {
	return &Answers{
		Port:     "993",
		SSL:      true,
		Mailbox:  "INBOX",
		MarkRead: true,
	}
}

// Form builds the two-page setup form writing into a.
func Form(a *Answers) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP Host").
				Description("IMAP server hostname").
				Placeholder("imap.example.com").
				Value(&a.Host).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Description("IMAP server port (e.g., 993)").
				Placeholder("993").
				Value(&a.Port).
				Validate(validatePort),
			huh.NewInput().
				Title("Username").
				Description("Mail account username").
				Value(&a.Username).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Stored in the system keyring, never in the config file").
				EchoMode(huh.EchoModePassword).
				Value(&a.Password).
				Validate(validateRequired("Password")),
			huh.NewConfirm().
				Title("Use TLS").
				Description("Connect with implicit TLS").
				Affirmative("Yes").
				Negative("No").
				Value(&a.SSL),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Webhook URL").
				Description("Endpoint that receives matching mail").
				Placeholder("https://hooks.example.com/mail").
				Value(&a.WebhookURL).
				Validate(validateURL),
			huh.NewInput().
				Title("Mailbox").
				Description("Mailbox the first rule searches").
				Value(&a.Mailbox).
				Validate(validateRequired("Mailbox")),
			huh.NewInput().
				Title("Archive Mailbox").
				Description("Optional; unprocessed mail is moved here after each run").
				Placeholder("Archive").
				Value(&a.Archive),
			huh.NewConfirm().
				Title("Mark dispatched mail as read").
				Affirmative("Yes").
				Negative("No").
				Value(&a.MarkRead),
		),
	)
}

// KeyringKey names the keyring entry holding the account password.
func (a *Answers) KeyringKey() string {
	return fmt.Sprintf("imap/%s@%s", strings.TrimSpace(a.Username), strings.TrimSpace(a.Host))
}

// Config turns the answers into a starter configuration. The password is
// referenced through the keyring; callers store it with StorePassword.
func (a *Answers) Config() (*model.Config, error) {
	port, err := strconv.Atoi(strings.TrimSpace(a.Port))
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", a.Port, err)
	}

	rule := model.Rule{
		URL:       strings.TrimSpace(a.WebhookURL),
		Mailbox:   strings.TrimSpace(a.Mailbox),
		Query:     model.Query{"UNSEEN"},
		SendFiles: true,
	}
	if a.MarkRead {
		rule.Actions = []model.Action{{Kind: model.ActionMarkAsRead}}
	}

	return &model.Config{
		Backend:  model.BackendIMAP,
		Host:     strings.TrimSpace(a.Host),
		Port:     port,
		Username: strings.TrimSpace(a.Username),
		Password: credential.Ref(a.KeyringKey()),
		SSL:      a.SSL,
		Archive:  strings.TrimSpace(a.Archive),
		Rules:    []model.Rule{rule},
	}, nil
}

// StorePassword saves the collected password in the keyring.
func (a *Answers) StorePassword() error {
	return credential.Set(a.KeyringKey(), a.Password)
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("URL must include scheme and host (e.g., https://example.com)")
	}
	return nil
}

func validatePort(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("port is required")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port must be a number")
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}
