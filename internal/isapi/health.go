package isapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// ResetPolicy decides how the prober treats a connection reset that happens
// after the device has already started answering.
type ResetPolicy int

const (
	// ResetAfterResponseIsHealthy reports such resets as a reachable device.
	// Several terminal firmwares tear the socket down right after a valid
	// reply.
	ResetAfterResponseIsHealthy ResetPolicy = iota

	// ResetIsFailure reports every reset as a failure.
	ResetIsFailure
)

func (p ResetPolicy) String() string {
	if p == ResetIsFailure {
		return "reset_is_failure"
	}

	return "reset_after_response_is_healthy"
}

// ParseResetPolicy maps a config string to a policy. An empty string means
// ResetAfterResponseIsHealthy; anything unrecognized is an error.
func ParseResetPolicy(s string) (ResetPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", ResetAfterResponseIsHealthy.String(), "lenient":
		return ResetAfterResponseIsHealthy, nil
	case ResetIsFailure.String(), "strict":
		return ResetIsFailure, nil
	default:
		return ResetAfterResponseIsHealthy, fmt.Errorf("unknown reset policy %q", s)
	}
}

type ProberOption func(*Prober)

func WithResetPolicy(p ResetPolicy) ProberOption {
	return func(pr *Prober) { pr.policy = p }
}

func WithProberLogger(l zerolog.Logger) ProberOption {
	return func(pr *Prober) { pr.log = l }
}

// Prober classifies device reachability with one harmless event search.
type Prober struct {
	transport *Transport
	policy    ResetPolicy
	log       zerolog.Logger
}

func NewProber(t *Transport, opts ...ProberOption) *Prober {
	p := &Prober{transport: t, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// TestConnection issues a one-result event search and classifies the
// outcome. It never returns an error.
func (p *Prober) TestConnection(ctx context.Context) HealthStatus {
	body := acsEventRequest{Cond: acsEventCond{
		SearchID:             newSearchID(),
		SearchResultPosition: 0,
		MaxResults:           1,
		Major:                0,
		Minor:                0,
	}}

	_, err := p.transport.Do(ctx, http.MethodPost, acsEventPath, body)

	return p.classify(err)
}

func (p *Prober) classify(err error) HealthStatus {
	if err == nil {
		return HealthStatus{OK: true}
	}

	var e *Error
	if !errors.As(err, &e) {
		return HealthStatus{OK: false, Reason: err.Error()}
	}

	switch {
	case e.Kind == KindNetworkUnreachable, e.Kind == KindTimeout:
		return HealthStatus{OK: false, Reason: ReasonUnreachable}
	case e.Kind == KindAuthenticationFailed:
		return HealthStatus{OK: false, Reason: ReasonAuthenticationFailed}
	case e.ResponseStarted && IsAbruptClose(err) && p.policy == ResetAfterResponseIsHealthy:
		p.log.Warn().
			Str("device", p.transport.Device().BaseURL()).
			Str("policy", p.policy.String()).
			Err(err).
			Msg("connection reset after device replied; reporting healthy")

		return HealthStatus{OK: true}
	default:
		return HealthStatus{OK: false, Reason: err.Error()}
	}
}
