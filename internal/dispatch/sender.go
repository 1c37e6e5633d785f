package dispatch

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
	"lukechampine.com/blake3"

	"github.com/nhle/mailpost/internal/credential"
	"github.com/nhle/mailpost/internal/model"
)

// Request headers added to every webhook call.
const (
	HeaderRunID  = "X-Mailpost-Run"
	HeaderDigest = "X-Mailpost-Digest"
)

const (
	defaultTimeout = 30 * time.Second
	defaultJWTTTL  = 5 * time.Minute
)

// Request is one webhook call.
type Request struct {
	URL     string
	Payload *Payload
	Auth    *model.AuthConfig
	RunID   string
}

// Response is what the endpoint answered. Digest is the hex BLAKE3 hash
// of the encoded request body.
type Response struct {
	StatusCode int
	Body       string
	Digest     string
}

// Sender delivers a payload to an endpoint. A non-2xx answer is reported
// as a *StatusError together with the response.
type Sender interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// SenderOptions configures an HTTPSender.
type SenderOptions struct {
	Timeout   time.Duration
	Rate      float64
	UserAgent string
	Client    *http.Client
	Now       func() time.Time
}

// HTTPSender posts payloads as multipart/form-data.
type HTTPSender struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	now       func() time.Time
}

// NewHTTPSender creates a sender. A zero Rate disables rate limiting.
func NewHTTPSender(opts SenderOptions) *HTTPSender {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	s := &HTTPSender{
		client:    client,
		userAgent: opts.UserAgent,
		now:       opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Rate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}
	return s
}

// Send encodes the payload and posts it to req.URL.
func (s *HTTPSender) Send(ctx context.Context, req *Request) (*Response, error) {
	body, contentType, err := Encode(req.Payload)
	if err != nil {
		return nil, err
	}
	sum := blake3.Sum256(body)
	digest := hex.EncodeToString(sum[:])

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return &Response{Digest: digest}, fmt.Errorf("waiting for dispatch slot: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return &Response{Digest: digest}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set(HeaderDigest, digest)
	if req.RunID != "" {
		httpReq.Header.Set(HeaderRunID, req.RunID)
	}
	if s.userAgent != "" {
		httpReq.Header.Set("User-Agent", s.userAgent)
	}
	if err := s.authorize(httpReq, req.Auth); err != nil {
		return &Response{Digest: digest}, err
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return &Response{Digest: digest}, fmt.Errorf("posting to %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Response{StatusCode: resp.StatusCode, Digest: digest}, fmt.Errorf("reading response from %s: %w", req.URL, err)
	}

	out := &Response{StatusCode: resp.StatusCode, Body: string(respBody), Digest: digest}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &StatusError{StatusCode: resp.StatusCode, Body: out.Body}
	}
	return out, nil
}

func (s *HTTPSender) authorize(req *http.Request, auth *model.AuthConfig) error {
	if auth == nil {
		return nil
	}
	switch strings.ToLower(auth.Type) {
	case "basic":
		password, err := credential.Resolve(auth.Password)
		if err != nil {
			return fmt.Errorf("resolving basic auth password: %w", err)
		}
		req.SetBasicAuth(auth.Username, password)
	case "bearer":
		token, err := credential.Resolve(auth.Token)
		if err != nil {
			return fmt.Errorf("resolving bearer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case "jwt":
		token, err := s.signToken(auth)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	default:
		return fmt.Errorf("unsupported auth type %q", auth.Type)
	}
	return nil
}

func (s *HTTPSender) signToken(auth *model.AuthConfig) (string, error) {
	secret, err := credential.Resolve(auth.Secret)
	if err != nil {
		return "", fmt.Errorf("resolving jwt secret: %w", err)
	}
	ttl := auth.TTL
	if ttl <= 0 {
		ttl = defaultJWTTTL
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    auth.Issuer,
		Subject:   auth.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Encode renders the payload as a multipart/form-data body and returns it
// with its content type.
func Encode(p *Payload) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range p.Fields {
		if err := w.WriteField(f.Name, string(f.Value)); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", f.Name, err)
		}
	}
	for _, f := range p.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(f.Name), quoteEscaper.Replace(f.Filename)))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("writing file %s: %w", f.Name, err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, "", fmt.Errorf("writing file %s: %w", f.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
