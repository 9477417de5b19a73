// Package config loads the daemon configuration from YAML or JSON and maps
// it onto fleet node configurations.
package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/audiowire/audiowire/internal/core/fleet"
)

// ErrBadFile marks a configuration that could not be read or parsed.
var ErrBadFile = errors.New("unreadable config")

// Duration accepts Go duration strings ("30s", "1m") in both YAML and JSON,
// and bare integers as seconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(ErrBadFile, "bad duration %q", v)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	case int64:
		*d = Duration(time.Duration(v) * time.Second)
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	default:
		return errors.Wrapf(ErrBadFile, "bad duration value %v", raw)
	}
	return nil
}

// Config is the full daemon configuration, describable in JSON or YAML.
type Config struct {
	// UserID is the bot account all sessions run under.
	UserID string `json:"user_id" yaml:"user_id"`
	// LogLevel is one of debug, info, warn, error. Empty means info.
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	// Resume, when set, enables connection resuming on every node.
	Resume ResumeConfig `json:"resume,omitempty" yaml:"resume,omitempty"`
	// Nodes lists the backend nodes to register at startup.
	Nodes []NodeConfig `json:"nodes" yaml:"nodes"`
}

// ResumeConfig controls node-side session buffering across reconnects.
type ResumeConfig struct {
	Key     string        `json:"key,omitempty" yaml:"key,omitempty"`
	Timeout Duration      `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// NodeConfig describes one backend node.
type NodeConfig struct {
	Name     string `json:"name" yaml:"name"`
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	Secure   bool   `json:"secure,omitempty" yaml:"secure,omitempty"`

	ReadTimeout       Duration `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
	WriteTimeout      Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
	ReconnectAttempts int           `json:"reconnect_attempts,omitempty" yaml:"reconnect_attempts,omitempty"`
}

// LoadJSON loads config from a JSON reader.
func LoadJSON(r io.Reader) (*Config, error) {
	var c Config
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, errors.Wrap(ErrBadFile, err.Error())
	}
	return &c, nil
}

// LoadYAML loads config from a YAML reader.
func LoadYAML(r io.Reader) (*Config, error) {
	var c Config
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return nil, errors.Wrap(ErrBadFile, err.Error())
	}
	return &c, nil
}

// LoadFile loads config from a path, picking the format by extension.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(ErrBadFile, err.Error())
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadJSON(f)
	default:
		return LoadYAML(f)
	}
}

// Validate checks the fields no daemon can run without. Node-level
// validation happens again at registration; this catches file mistakes
// before any connection is attempted.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return errors.Wrap(fleet.ErrBadConfig, "user_id is required")
	}
	if len(c.Nodes) == 0 {
		return errors.Wrap(fleet.ErrBadConfig, "at least one node is required")
	}
	seen := make(map[string]struct{}, len(c.Nodes))
	for _, n := range c.Nodes {
		if _, dup := seen[n.Name]; dup {
			return errors.Wrapf(fleet.ErrBadConfig, "duplicate node name %q", n.Name)
		}
		seen[n.Name] = struct{}{}
		if err := c.FleetConfig(n).Validate(); err != nil {
			return errors.Wrapf(err, "node %q", n.Name)
		}
	}
	return nil
}

// FleetConfig maps one node entry onto the fleet's connection config,
// folding in the daemon-wide user and resume settings.
func (c *Config) FleetConfig(n NodeConfig) fleet.Config {
	return fleet.Config{
		Name:                 n.Name,
		Address:              n.Address,
		Authorization:        n.Password,
		UserID:               c.UserID,
		Region:               n.Region,
		Secure:               n.Secure,
		ResumeKey:            c.Resume.Key,
		ResumeTimeout:        c.Resume.Timeout.Std(),
		ReadTimeout:          n.ReadTimeout.Std(),
		WriteTimeout:         n.WriteTimeout.Std(),
		MaxReconnectAttempts: n.ReconnectAttempts,
	}
}
