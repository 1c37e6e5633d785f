package mailstore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
)

// AuthMechanism selects how the IMAP backend authenticates.
type AuthMechanism string

const (
	AuthLogin AuthMechanism = "login"
	AuthPlain AuthMechanism = "plain"
)

// IMAPConfig describes how to reach an IMAP server.
type IMAPConfig struct {
	Host     string
	Port     int
	SSL      bool
	StartTLS bool
	Auth     AuthMechanism

	// Timeout bounds dialing and every subsequent command. Zero means no
	// deadline.
	Timeout time.Duration

	// TLSConfig overrides the default client TLS settings.
	TLSConfig *tls.Config
}

// Addr returns host:port, defaulting the port to 993 with SSL and 143
// without.
func (c IMAPConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 143
		if c.SSL {
			port = 993
		}
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// IMAPDialer returns a Dialer that connects to the server described by cfg.
func IMAPDialer(cfg IMAPConfig) Dialer {
	return func(ctx context.Context) (Backend, error) {
		return DialIMAP(ctx, cfg)
	}
}

// imapBackend wraps go-imap v2 for a single long-lived connection.
type imapBackend struct {
	client  *imapclient.Client
	conn    net.Conn
	auth    AuthMechanism
	timeout time.Duration
}

// DialIMAP opens a connection to the IMAP server. The returned backend is
// connected but not authenticated.
func DialIMAP(ctx context.Context, cfg IMAPConfig) (Backend, error) {
	addr := cfg.Addr()

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	tlsConfig := cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: cfg.Host}
	}
	opts := &imapclient.Options{TLSConfig: tlsConfig}

	b := &imapBackend{conn: conn, auth: cfg.Auth, timeout: cfg.Timeout}
	b.arm()

	switch {
	case cfg.SSL:
		b.client = imapclient.New(tls.Client(conn, tlsConfig), opts)
	case cfg.StartTLS:
		b.client, err = imapclient.NewStartTLS(conn, opts)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("negotiating STARTTLS with %s: %w", addr, err)
		}
	default:
		b.client = imapclient.New(conn, opts)
	}

	if err := b.client.WaitGreeting(); err != nil {
		_ = b.client.Close()
		return nil, fmt.Errorf("waiting for IMAP greeting from %s: %w", addr, err)
	}
	b.disarm()

	return b, nil
}

// arm sets the connection deadline for the next command.
func (b *imapBackend) arm() {
	if b.timeout > 0 {
		_ = b.conn.SetDeadline(time.Now().Add(b.timeout))
	}
}

func (b *imapBackend) disarm() {
	if b.timeout > 0 {
		_ = b.conn.SetDeadline(time.Time{})
	}
}

// do runs one command under the connection deadline, aborting it when ctx
// is cancelled first.
func (b *imapBackend) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.arm()
	defer b.disarm()

	stop := context.AfterFunc(ctx, func() {
		_ = b.conn.SetDeadline(time.Now())
	})
	defer stop()

	return fn()
}

func (b *imapBackend) Login(ctx context.Context, username, password string) error {
	return b.do(ctx, func() error {
		if b.auth == AuthPlain {
			return b.client.Authenticate(sasl.NewPlainClient("", username, password))
		}
		return b.client.Login(username, password).Wait()
	})
}

func (b *imapBackend) Select(ctx context.Context, mailbox string) error {
	return b.do(ctx, func() error {
		_, err := b.client.Select(mailbox, nil).Wait()
		return err
	})
}

func (b *imapBackend) Close(ctx context.Context) error {
	return b.do(ctx, func() error {
		return b.client.UnselectAndExpunge().Wait()
	})
}

func (b *imapBackend) Search(ctx context.Context, criteria *imap.SearchCriteria) ([]imap.UID, error) {
	var uids []imap.UID
	err := b.do(ctx, func() error {
		data, err := b.client.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return err
		}
		uids = data.AllUIDs()
		return nil
	})
	return uids, err
}

func (b *imapBackend) Fetch(ctx context.Context, uid imap.UID, part Part) (*FetchResult, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	if part == PartHeader {
		section.Specifier = imap.PartSpecifierHeader
	}

	fetchOpts := &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		InternalDate: true,
		RFC822Size:   true,
		BodySection:  []*imap.FetchItemBodySection{section},
	}

	var result *FetchResult
	err := b.do(ctx, func() error {
		fetchCmd := b.client.Fetch(imap.UIDSetNum(uid), fetchOpts)
		defer fetchCmd.Close()

		msg := fetchCmd.Next()
		if msg == nil {
			if err := fetchCmd.Close(); err != nil {
				return err
			}
			return fmt.Errorf("message UID %d not found", uid)
		}

		buf, err := msg.Collect()
		if err != nil {
			return fmt.Errorf("collecting message data: %w", err)
		}

		result = &FetchResult{
			UID:          buf.UID,
			Flags:        buf.Flags,
			InternalDate: buf.InternalDate,
			Size:         buf.RFC822Size,
			Literal:      buf.FindBodySection(section),
		}
		if result.UID == 0 {
			result.UID = uid
		}

		return fetchCmd.Close()
	})
	return result, err
}

func (b *imapBackend) Store(ctx context.Context, uids []imap.UID, op imap.StoreFlagsOp, flags []imap.Flag) error {
	return b.do(ctx, func() error {
		return b.client.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
			Op:     op,
			Silent: true,
			Flags:  flags,
		}, nil).Close()
	})
}

func (b *imapBackend) Copy(ctx context.Context, uids []imap.UID, dest string) error {
	return b.do(ctx, func() error {
		_, err := b.client.Copy(imap.UIDSetNum(uids...), dest).Wait()
		return err
	})
}

func (b *imapBackend) List(ctx context.Context) ([]string, error) {
	var names []string
	err := b.do(ctx, func() error {
		mailboxes, err := b.client.List("", "*", nil).Collect()
		if err != nil {
			return err
		}
		for _, mbox := range mailboxes {
			names = append(names, mbox.Mailbox)
		}
		return nil
	})
	return names, err
}

func (b *imapBackend) Logout(ctx context.Context) error {
	err := b.do(ctx, func() error {
		return b.client.Logout().Wait()
	})
	if closeErr := b.client.Close(); err == nil && closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		err = closeErr
	}
	return err
}
