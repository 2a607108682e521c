package isapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// maxResponseBody caps how much of a device reply is buffered. Event pages
// with a few hundred records stay well under this.
const maxResponseBody = 8 << 20

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient replaces the default per-device http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// WithLogger attaches a logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// WithCNonceSource overrides client nonce generation.
func WithCNonceSource(f func() (string, error)) Option {
	return func(t *Transport) { t.cnonce = f }
}

// Transport performs the two-phase digest exchange against one device.
// It keeps no state between calls.
type Transport struct {
	device Device
	client *http.Client
	log    zerolog.Logger
	cnonce func() (string, error)
}

func NewTransport(d Device, opts ...Option) *Transport {
	t := &Transport{
		device: d,
		log:    zerolog.Nop(),
		cnonce: NewCNonce,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.client == nil {
		t.client = newHTTPClient(d)
	}

	return t
}

func newHTTPClient(d Device) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext:       (&net.Dialer{Timeout: d.timeout()}).DialContext,
			DisableKeepAlives: true,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: d.InsecureSkipVerify, //nolint:gosec // terminals use self-signed certs
			},
		},
	}
}

// Device returns the descriptor this transport talks to.
func (t *Transport) Device() Device { return t.device }

// Response is a buffered device reply.
type Response struct {
	StatusCode  int
	Header      http.Header
	ContentType string
	Body        []byte

	// JSON holds the body when it parsed as JSON, either because the
	// content type said so or because the text looked like an object/array.
	JSON json.RawMessage
	Text string
}

func (r *Response) IsJSON() bool { return len(r.JSON) > 0 }

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if !r.IsJSON() {
		return &Error{Kind: KindProtocol, StatusCode: r.StatusCode, Body: truncate(r.Text),
			Err: fmt.Errorf("expected JSON body, got %q", r.ContentType)}
	}

	if err := json.Unmarshal(r.JSON, v); err != nil {
		return &Error{Kind: KindProtocol, StatusCode: r.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}

	return nil
}

func newResponse(code int, h http.Header, body []byte) *Response {
	r := &Response{
		StatusCode:  code,
		Header:      h,
		ContentType: h.Get("Content-Type"),
		Body:        body,
	}

	trimmed := bytes.TrimSpace(body)

	if isJSONContentType(r.ContentType) && json.Valid(trimmed) {
		r.JSON = trimmed
		return r
	}

	r.Text = string(body)

	// Some firmware labels JSON as text/plain or text/html.
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
		r.JSON = trimmed
	}

	return r
}

func isJSONContentType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}

	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// Do sends method/path with an optional body. body may be nil, a []byte of
// encoded JSON, or any value json.Marshal accepts. Both legs of the
// exchange share the device timeout.
func (t *Transport) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	target, err := requestURI(path)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: method + " " + path, Err: err}
	}

	op := method + " " + strings.SplitN(target, "?", 2)[0]

	payload, err := encodeBody(body)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: op, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, t.device.timeout())
	defer cancel()

	start := time.Now()

	resp, err := t.send(ctx, op, method, target, payload, "")
	if err != nil {
		return nil, err
	}

	if isSuccess(resp.StatusCode) {
		t.logExchange(op, resp.StatusCode, false, start)
		return resp, nil
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return nil, statusError(op, resp)
	}

	ch, err := challengeFrom(resp.Header)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	cnonce, err := t.cnonce()
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: op, Err: err}
	}

	authz := Authorization(t.device.credentials(), ch, method, target, cnonce)

	resp, err = t.send(ctx, op, method, target, payload, authz)
	if err != nil {
		return nil, err
	}

	t.logExchange(op, resp.StatusCode, true, start)

	if !isSuccess(resp.StatusCode) {
		return nil, statusError(op, resp)
	}

	return resp, nil
}

func (t *Transport) send(ctx context.Context, op, method, target string, payload []byte, authz string) (*Response, error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	var started atomic.Bool

	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotFirstResponseByte: func() { started.Store(true) },
	})

	req, err := http.NewRequestWithContext(ctx, method, t.device.BaseURL()+target, body)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: op, Err: err}
	}

	req.Header.Set("Accept", "application/json, text/plain, */*")

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authz != "" {
		req.Header.Set("Authorization", authz)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, op, err, started.Load())
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return nil, classifyTransportError(ctx, op, err, true)
	}

	return newResponse(res.StatusCode, res.Header, data), nil
}

func (t *Transport) logExchange(op string, status int, digest bool, start time.Time) {
	t.log.Debug().
		Str("op", op).
		Int("status", status).
		Bool("digest", digest).
		Dur("dur", time.Since(start)).
		Msg("isapi exchange")
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func statusError(op string, resp *Response) *Error {
	e := &Error{
		Kind:       KindProtocol,
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       truncate(string(resp.Body)),
	}

	if resp.IsJSON() {
		e.Status = parseResponseStatus(resp.JSON)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		e.Kind = KindAuthenticationFailed
	case e.Status != nil:
		e.Kind = e.Status.kind()
	}

	return e
}

func challengeFrom(h http.Header) (Challenge, error) {
	values := h.Values("WWW-Authenticate")
	if len(values) == 0 {
		return Challenge{}, fmt.Errorf("%w: missing WWW-Authenticate header", ErrChallengeParse)
	}

	var firstErr error

	for _, v := range values {
		ch, err := ParseChallenge(v)
		if err == nil {
			return ch, nil
		}

		if firstErr == nil {
			firstErr = err
		}
	}

	return Challenge{}, firstErr
}

func classifyTransportError(ctx context.Context, op string, err error, started bool) *Error {
	e := &Error{Kind: KindTransport, Op: op, ResponseStarted: started, Err: err}

	var netErr net.Error

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		e.Kind = KindTimeout
	case !started && isUnreachable(err):
		e.Kind = KindNetworkUnreachable
	}

	return e
}

func isUnreachable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTDOWN) {
		return true
	}

	var opErr *net.OpError

	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// IsAbruptClose reports whether err is the device tearing the connection
// down (RST or EOF mid-body) rather than a refusal or timeout.
func IsAbruptClose(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF)
}

func requestURI(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse path %q: %w", path, err)
	}

	q := u.Query()
	if q.Get("format") == "" {
		q.Set("format", "json")
	}

	u.RawQuery = q.Encode()

	return u.RequestURI(), nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}

		return data, nil
	}
}

func truncate(s string) string {
	const limit = 512
	if len(s) <= limit {
		return s
	}

	return s[:limit] + "..."
}
