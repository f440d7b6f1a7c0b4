package panda

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/mod/semver"
)

type Option func(p *Panda) error

func WithLogger(logger log.FieldLogger) Option {
	return func(p *Panda) error {
		if logger == nil {
			return errors.New("logger is nil")
		}
		p.log = logger
		return nil
	}
}

// WithRetryPolicy sets how transient errors on the CAN endpoints are retried
func WithRetryPolicy(rp RetryPolicy) Option {
	return func(p *Panda) error {
		p.retry = rp
		return nil
	}
}

// WithConnectPolicy sets how failing dials are retried by Connect. Every dial error
// is retried, not only transient ones.
func WithConnectPolicy(rp RetryPolicy) Option {
	return func(p *Panda) error {
		p.connectRetry = rp
		return nil
	}
}

func WithEchoPolicy(policy EchoPolicy) Option {
	return func(p *Panda) error {
		switch policy {
		case EchoStrict, EchoLenient:
			p.echo = policy
			return nil
		}
		return fmt.Errorf("unknown echo policy %d", policy)
	}
}

// WithMinimumFirmware makes Connect fail when the device reports an older version
func WithMinimumFirmware(version string) Option {
	return func(p *Panda) error {
		if !semver.IsValid(canonicalVersion(version)) {
			return fmt.Errorf("invalid firmware version %q", version)
		}
		p.minFirmware = canonicalVersion(version)
		return nil
	}
}
