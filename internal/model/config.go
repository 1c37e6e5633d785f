package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/nhle/mailpost/internal/archive"
	"github.com/nhle/mailpost/internal/logger"
	"github.com/nhle/mailpost/internal/mailstore"
	"github.com/nhle/mailpost/internal/pattern"
)

// BackendIMAP is the only supported mail-store backend.
const BackendIMAP = "imap"

// DefaultMsgParams are the message fields sent when a rule does not list
// its own.
var DefaultMsgParams = []string{"from", "sender", "to", "receiver", "subject", "body", "date", "Message-ID"}

// Query is a list of IMAP SEARCH tokens. In YAML it may be written as a
// single string or as a list.
type Query []string

// AuthConfig holds the credentials a rule presents to its endpoint.
type AuthConfig struct {
	// Type is one of basic, bearer or jwt.
	Type string `mapstructure:"type" yaml:"type"`

	Username string `mapstructure:"username" yaml:"username,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// Token is sent as-is for bearer auth.
	Token string `mapstructure:"token" yaml:"token,omitempty"`

	// Secret signs HS256 tokens for jwt auth.
	Secret  string        `mapstructure:"secret" yaml:"secret,omitempty"`
	Issuer  string        `mapstructure:"issuer" yaml:"issuer,omitempty"`
	Subject string        `mapstructure:"subject" yaml:"subject,omitempty"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl,omitempty"`
}

// Rule maps a mailbox query and a set of conditions to a destination URL.
type Rule struct {
	// Name labels the rule in logs and metrics. It defaults to the URL.
	Name string `mapstructure:"name" yaml:"name,omitempty"`

	URL     string `mapstructure:"url" yaml:"url"`
	Method  string `mapstructure:"method" yaml:"method,omitempty"`
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox,omitempty"`
	Query   Query  `mapstructure:"query" yaml:"query,omitempty"`

	// Conditions maps a field name to a pattern or a list of patterns.
	Conditions map[string]any `mapstructure:"conditions" yaml:"conditions,omitempty"`
	Syntax     pattern.Syntax `mapstructure:"syntax" yaml:"syntax,omitempty"`

	Raw       bool              `mapstructure:"raw" yaml:"raw,omitempty"`
	MsgParams []string          `mapstructure:"msg_params" yaml:"msg_params,omitempty"`
	AddParams map[string]string `mapstructure:"add_params" yaml:"add_params,omitempty"`
	SendFiles bool              `mapstructure:"send_files" yaml:"send_files"`
	Actions   []Action          `mapstructure:"actions" yaml:"actions,omitempty"`

	Auth *AuthConfig `mapstructure:"auth" yaml:"auth,omitempty"`
}

// Config is the top-level mailpost configuration.
type Config struct {
	Backend       string `mapstructure:"backend" yaml:"backend"`
	Host          string `mapstructure:"host" yaml:"host"`
	Port          int    `mapstructure:"port" yaml:"port,omitempty"`
	Username      string `mapstructure:"username" yaml:"username"`
	Password      string `mapstructure:"password" yaml:"password"`
	SSL           bool   `mapstructure:"ssl" yaml:"ssl"`
	StartTLS      bool   `mapstructure:"starttls" yaml:"starttls,omitempty"`
	AuthMechanism string `mapstructure:"auth_mechanism" yaml:"auth_mechanism,omitempty"`

	BaseURL     string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Archive     string `mapstructure:"archive" yaml:"archive,omitempty"`
	ArchiveLife string `mapstructure:"archive_life" yaml:"archive_life,omitempty"`

	// Timeout bounds IMAP commands and HTTP requests.
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
	DispatchRate float64       `mapstructure:"dispatch_rate" yaml:"dispatch_rate,omitempty"`
	UserAgent    string        `mapstructure:"user_agent" yaml:"user_agent,omitempty"`

	// Ledger is the sqlite path of the dispatch journal. Empty disables it.
	Ledger       string        `mapstructure:"ledger" yaml:"ledger,omitempty"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval,omitempty"`
	MetricsAddr  string        `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`

	Logging logger.Config `mapstructure:"logging" yaml:"logging,omitempty"`

	Rules []Rule `mapstructure:"-" yaml:"rules"`

	// Retention is ArchiveLife parsed by Validate.
	Retention time.Duration `mapstructure:"-" yaml:"-"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailpost/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailpost", "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ssl", false)
	v.SetDefault("starttls", false)
	v.SetDefault("auth_mechanism", string(mailstore.AuthLogin))
	v.SetDefault("archive_life", archive.DefaultRetention)
	v.SetDefault("timeout", "30s")
	v.SetDefault("dispatch_rate", 0)
	v.SetDefault("user_agent", "mailpost")
	v.SetDefault("poll_interval", "5m")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.level", "info")
}

// LoadConfig reads and validates the YAML configuration at path.
// Top-level keys can be overridden with MAILPOST_* environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILPOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"host", "port", "username", "password", "base_url", "archive", "ledger"} {
		_ = v.BindEnv(key)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return nil, &ConfigurationError{Message: fmt.Sprintf("config file %s not found", path), Err: err}
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, &ConfigurationError{Message: fmt.Sprintf("parsing %s: %v", path, err), Err: err}
	}

	// Rules are decoded from the file directly: viper folds map keys to
	// lower case, which would rename add_params fields.
	rules, err := loadRules(path)
	if err != nil {
		return nil, err
	}
	cfg.Rules = rules

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type rulesFile struct {
	Rules []map[string]any `yaml:"rules"`
}

func loadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &ConfigurationError{Key: "rules", Message: err.Error(), Err: err}
	}

	rules := make([]Rule, 0, len(f.Rules))
	for i, raw := range f.Rules {
		r, err := DecodeRule(raw)
		if err != nil {
			var cfgErr *ConfigurationError
			if errors.As(err, &cfgErr) {
				cfgErr.Key = fmt.Sprintf("rules[%d]%s", i, keySuffix(cfgErr.Key))
				return nil, cfgErr
			}
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func keySuffix(key string) string {
	if key == "" {
		return ""
	}
	return "." + key
}

// DecodeRule builds a Rule from its generic map form, applying defaults
// for every key that is absent.
func DecodeRule(raw map[string]any) (Rule, error) {
	var r Rule
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       decodeHook(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &r,
	})
	if err != nil {
		return Rule{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Rule{}, &ConfigurationError{Message: err.Error(), Err: err}
	}

	if _, ok := raw["send_files"]; !ok {
		r.SendFiles = true
	}
	if _, ok := raw["msg_params"]; !ok {
		r.MsgParams = append([]string(nil), DefaultMsgParams...)
	}
	r.applyDefaults()
	return r, nil
}

func (r *Rule) applyDefaults() {
	if r.Mailbox == "" {
		r.Mailbox = mailstore.DefaultMailbox
	}
	if len(r.Query) == 0 {
		r.Query = Query{"ALL"}
	}
	if r.Syntax == "" {
		r.Syntax = pattern.SyntaxGlob
	}
	if r.Name == "" {
		r.Name = r.URL
	}
	if r.Conditions == nil {
		r.Conditions = map[string]any{}
	}
	if r.AddParams == nil {
		r.AddParams = map[string]string{}
	}
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		queryHook,
		actionHook,
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// queryHook lets a query be written as one string.
func queryHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(Query{}) || from.Kind() != reflect.String {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return Query{}, nil
	}
	return Query{s}, nil
}

func actionHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(Action{}) || from.Kind() != reflect.String {
		return data, nil
	}
	return ParseAction(data.(string))
}

// Validate checks the configuration and fills derived fields. Every
// problem is reported as a ConfigurationError; all of them are returned
// joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Backend == "" {
		errs = append(errs, configErrorf("backend", "'backend' configuration option is required"))
	} else if c.Backend != BackendIMAP {
		errs = append(errs, configErrorf("backend", "backend %q is not supported", c.Backend))
	}
	for key, val := range map[string]string{"host": c.Host, "username": c.Username, "password": c.Password} {
		if val == "" {
			errs = append(errs, configErrorf(key, "'%s' configuration option is required", key))
		}
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, configErrorf("port", "port %d out of range", c.Port))
	}
	if c.SSL && c.StartTLS {
		errs = append(errs, configErrorf("starttls", "ssl and starttls are mutually exclusive"))
	}
	switch mailstore.AuthMechanism(strings.ToLower(c.AuthMechanism)) {
	case "", mailstore.AuthLogin, mailstore.AuthPlain:
	default:
		errs = append(errs, configErrorf("auth_mechanism", "unsupported mechanism %q", c.AuthMechanism))
	}
	if c.Timeout < 0 {
		errs = append(errs, configErrorf("timeout", "must not be negative"))
	}
	if c.DispatchRate < 0 {
		errs = append(errs, configErrorf("dispatch_rate", "must not be negative"))
	}

	retention, err := archive.ParseRetention(c.ArchiveLife)
	if err != nil {
		errs = append(errs, &ConfigurationError{Key: "archive_life", Message: err.Error(), Err: err})
	}
	c.Retention = retention

	if len(c.Rules) == 0 {
		errs = append(errs, configErrorf("rules", "'rules' configuration option is required"))
	}
	for i := range c.Rules {
		if err := c.Rules[i].Validate(); err != nil {
			var cfgErr *ConfigurationError
			if errors.As(err, &cfgErr) && !strings.HasPrefix(cfgErr.Key, "rules[") {
				cfgErr.Key = fmt.Sprintf("rules[%d]%s", i, keySuffix(cfgErr.Key))
			}
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Validate checks a single rule.
func (r *Rule) Validate() error {
	r.applyDefaults()

	if r.URL == "" {
		return configErrorf("url", "URL is required for rules")
	}
	switch strings.ToLower(r.Method) {
	case "", "post":
	default:
		return configErrorf("method", "only POST is supported, got %q", r.Method)
	}

	syntax, err := pattern.ParseSyntax(string(r.Syntax))
	if err != nil {
		return &ConfigurationError{Key: "syntax", Message: err.Error(), Err: err}
	}
	r.Syntax = syntax

	if _, err := mailstore.ParseQuery(r.Query...); err != nil {
		return &ConfigurationError{Key: "query", Message: err.Error(), Err: err}
	}

	m := pattern.NewMatcher()
	for key, cond := range r.Conditions {
		patterns, err := pattern.Patterns(cond)
		if err != nil {
			return &ConfigurationError{Key: "conditions." + key, Message: err.Error(), Err: err}
		}
		for _, p := range patterns {
			if _, err := m.Compile(p, syntax); err != nil {
				return &ConfigurationError{Key: "conditions." + key, Message: err.Error(), Err: err}
			}
		}
	}

	if r.Auth != nil {
		switch strings.ToLower(r.Auth.Type) {
		case "basic":
			if r.Auth.Username == "" {
				return configErrorf("auth.username", "basic auth needs a username")
			}
		case "bearer":
			if r.Auth.Token == "" {
				return configErrorf("auth.token", "bearer auth needs a token")
			}
		case "jwt":
			if r.Auth.Secret == "" {
				return configErrorf("auth.secret", "jwt auth needs a signing secret")
			}
		default:
			return configErrorf("auth.type", "unsupported auth type %q", r.Auth.Type)
		}
	}
	return nil
}

// IMAP returns the connection settings for the mail store.
func (c *Config) IMAP() mailstore.IMAPConfig {
	return mailstore.IMAPConfig{
		Host:     c.Host,
		Port:     c.Port,
		SSL:      c.SSL,
		StartTLS: c.StartTLS,
		Auth:     mailstore.AuthMechanism(strings.ToLower(c.AuthMechanism)),
		Timeout:  c.Timeout,
	}
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

// MarshalYAML writes an action in its "kind:mailbox" form.
func (a Action) MarshalYAML() (any, error) {
	return a.String(), nil
}
