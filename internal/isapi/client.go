// Package isapi is a client for ISAPI access-control terminals: digest
// authentication, reachability probing, user and credential provisioning,
// and access-event polling.
//
// A Client serves one device and issues one request at a time. To scan
// several devices concurrently, create one Client per device.
package isapi

import (
	"github.com/rs/zerolog"
)

// Client bundles the components that share one device transport.
type Client struct {
	Transport   *Transport
	Prober      *Prober
	Provisioner *Provisioner
	Events      *Synchronizer
}

// ClientConfig carries the optional knobs for NewClient.
type ClientConfig struct {
	Logger        *zerolog.Logger // nil discards
	ResetPolicy   ResetPolicy
	UserScanLimit int
	TransportOpts []Option
}

func NewClient(d Device, cfg ClientConfig) *Client {
	base := zerolog.Nop()
	if cfg.Logger != nil {
		base = *cfg.Logger
	}

	log := base.With().Str("device", d.BaseURL()).Logger()

	opts := append([]Option{WithLogger(log)}, cfg.TransportOpts...)
	t := NewTransport(d, opts...)

	return &Client{
		Transport:   t,
		Prober:      NewProber(t, WithResetPolicy(cfg.ResetPolicy), WithProberLogger(log)),
		Provisioner: NewProvisioner(t, WithProvisionerLogger(log), WithUserScanLimit(cfg.UserScanLimit)),
		Events:      NewSynchronizer(t, WithSyncLogger(log)),
	}
}
