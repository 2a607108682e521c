package isapi

import (
	"crypto/md5" //nolint:gosec // RFC 2617 digest is MD5 by definition
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	digestScheme = "Digest"
	qopAuth      = "auth"

	// nonceCount stays at 1: every request re-probes for a fresh server nonce.
	nonceCount = "00000001"
)

// Credentials are the device account used for digest authentication.
type Credentials struct {
	Username string
	Password string
}

// Challenge is a parsed Digest WWW-Authenticate header. It belongs to a
// single request and is never reused.
type Challenge struct {
	Realm     string
	Nonce     string
	QOP       string
	Opaque    string
	Algorithm string
}

// ParseChallenge parses a WWW-Authenticate header value offering the Digest
// scheme. A missing qop defaults to "auth"; a qop list without "auth" is
// rejected.
func ParseChallenge(header string) (Challenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Challenge{}, fmt.Errorf("%w: empty header", ErrChallengeParse)
	}

	scheme, rest, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, digestScheme) {
		return Challenge{}, fmt.Errorf("%w: scheme %q", ErrChallengeParse, scheme)
	}

	params, err := parseAuthParams(rest)
	if err != nil {
		return Challenge{}, err
	}

	ch := Challenge{
		Realm:     params["realm"],
		Nonce:     params["nonce"],
		Opaque:    params["opaque"],
		Algorithm: params["algorithm"],
	}

	if ch.Realm == "" || ch.Nonce == "" {
		return Challenge{}, fmt.Errorf("%w: realm and nonce are required", ErrChallengeParse)
	}

	if ch.Algorithm != "" && !strings.EqualFold(ch.Algorithm, "MD5") {
		return Challenge{}, fmt.Errorf("%w: unsupported algorithm %q", ErrChallengeParse, ch.Algorithm)
	}

	qop, ok := params["qop"]
	if !ok {
		ch.QOP = qopAuth
		return ch, nil
	}

	for _, q := range strings.Split(qop, ",") {
		if strings.EqualFold(strings.TrimSpace(q), qopAuth) {
			ch.QOP = qopAuth
			return ch, nil
		}
	}

	return Challenge{}, fmt.Errorf("%w: qop %q does not offer auth", ErrChallengeParse, qop)
}

// parseAuthParams splits `k1="v, 1", k2=v2` into a map with lower-cased keys.
func parseAuthParams(s string) (map[string]string, error) {
	params := make(map[string]string)

	for {
		s = strings.TrimLeft(s, " \t,")
		if s == "" {
			return params, nil
		}

		eq := strings.IndexByte(s, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("%w: expected key=value near %q", ErrChallengeParse, s)
		}

		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = strings.TrimLeft(s[eq+1:], " \t")

		var val string

		if strings.HasPrefix(s, `"`) {
			var b strings.Builder

			i := 1
			closed := false

			for ; i < len(s); i++ {
				c := s[i]
				if c == '\\' && i+1 < len(s) {
					i++
					b.WriteByte(s[i])

					continue
				}

				if c == '"' {
					closed = true
					break
				}

				b.WriteByte(c)
			}

			if !closed {
				return nil, fmt.Errorf("%w: unterminated quoted value for %q", ErrChallengeParse, key)
			}

			val = b.String()
			s = s[i+1:]
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				end = len(s)
			}

			val = strings.TrimSpace(s[:end])
			s = s[end:]
		}

		params[key] = val
	}
}

// NewCNonce returns a random client nonce.
func NewCNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate cnonce: %w", err)
	}

	return hex.EncodeToString(b), nil
}

// DigestResponse computes the RFC 2617 request-digest for qop=auth.
func DigestResponse(cred Credentials, ch Challenge, method, uri, cnonce string) string {
	ha1 := md5Hex(cred.Username + ":" + ch.Realm + ":" + cred.Password)
	ha2 := md5Hex(method + ":" + uri)

	return md5Hex(strings.Join([]string{ha1, ch.Nonce, nonceCount, cnonce, qopAuth, ha2}, ":"))
}

// Authorization builds the Authorization header value answering ch.
func Authorization(cred Credentials, ch Challenge, method, uri, cnonce string) string {
	var b strings.Builder

	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s"`,
		quote(cred.Username), quote(ch.Realm), quote(ch.Nonce), quote(uri))

	if ch.Algorithm != "" {
		fmt.Fprintf(&b, ", algorithm=%s", ch.Algorithm)
	}

	fmt.Fprintf(&b, `, qop=%s, nc=%s, cnonce="%s", response="%s"`,
		qopAuth, nonceCount, cnonce, DigestResponse(cred, ch, method, uri, cnonce))

	if ch.Opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, quote(ch.Opaque))
	}

	return b.String()
}

func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}
