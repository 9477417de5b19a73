package fleet

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// Config describes one backend node connection.
type Config struct {
	// Name identifies the node within the fleet. Must be unique.
	Name string
	// Address is the host:port of the node's control endpoint.
	Address string
	// Authorization is the shared secret sent on the handshake.
	Authorization string
	// UserID identifies the bot account on whose behalf sessions run.
	UserID string
	// Region is an optional label used to prefer nearby nodes at selection.
	Region string
	// Secure switches the control connection to wss.
	Secure bool

	// ResumeKey, when set, asks the node to buffer session state for
	// ResumeTimeout after a connection drop.
	ResumeKey     string
	ResumeTimeout time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxReconnectAttempts bounds one reconnect cycle before the node is
	// declared terminally disconnected. Zero means the default.
	MaxReconnectAttempts int
}

const defaultMaxReconnectAttempts = 10

// Validate rejects configurations that could never connect.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.Wrap(ErrBadConfig, "name is required")
	}
	if c.Address == "" {
		return errors.Wrap(ErrBadConfig, "address is required")
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return errors.Wrapf(ErrBadConfig, "address %q is not host:port", c.Address)
	}
	if c.Authorization == "" {
		return errors.Wrap(ErrBadConfig, "authorization is required")
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.Wrap(ErrBadConfig, "negative reconnect attempts")
	}
	return nil
}

func (c Config) maxAttempts() int {
	if c.MaxReconnectAttempts > 0 {
		return c.MaxReconnectAttempts
	}
	return defaultMaxReconnectAttempts
}
