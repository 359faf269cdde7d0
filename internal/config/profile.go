package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	dperrors "github.com/sahmadiut/dapnet-proxy/internal/errors"
	"github.com/spf13/viper"
)

// Profile keys, as used in profile files.
const (
	KeyProfileName    = "profileName"
	KeyReconnectDelay = "reconnectSleepTime"
	KeyFrontendName   = "frontend.name"
	KeyFrontendKey    = "frontend.key"
	KeyFrontendHost   = "frontend.host"
	KeyFrontendPort   = "frontend.port"
	KeyBackendHost    = "backend.host"
	KeyBackendPort    = "backend.port"
	KeyBackendTimeout = "backend.timeout"
)

var profileKeys = []string{
	KeyProfileName,
	KeyReconnectDelay,
	KeyFrontendName,
	KeyFrontendKey,
	KeyFrontendHost,
	KeyFrontendPort,
	KeyBackendHost,
	KeyBackendPort,
	KeyBackendTimeout,
}

// Profile describes one proxy instance. It is immutable once loaded.
type Profile struct {
	// Name identifies the profile in logs and the status endpoint
	Name string
	// FrontendAddr is the "host:port" of the frontend peer
	FrontendAddr string
	// FrontendAuthName is injected into the welcome banner
	FrontendAuthName string
	// FrontendAuthKey is injected into the welcome banner
	FrontendAuthKey string
	// BackendAddr is the "host:port" of the backend peer
	BackendAddr string
	// BackendTimeout is the backend idle window; zero or less disables keepalive
	BackendTimeout time.Duration
	// ReconnectDelay is the fixed delay between attempts; zero disables reconnects
	ReconnectDelay time.Duration
}

// KeepaliveEnabled reports whether the backend idle timer is armed.
func (p *Profile) KeepaliveEnabled() bool {
	return p.BackendTimeout > 0
}

// ReconnectEnabled reports whether sessions are retried after they end.
func (p *Profile) ReconnectEnabled() bool {
	return p.ReconnectDelay > 0
}

// Validate checks the profile for missing or malformed values.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return dperrors.Wrap("validate profile", dperrors.ErrMissingKey, fmt.Errorf("profile name is required"))
	}
	if p.FrontendAuthName == "" {
		return dperrors.WrapProfile("validate profile", p.Name, dperrors.ErrMissingKey, fmt.Errorf("frontend auth name is required"))
	}
	if p.FrontendAuthKey == "" {
		return dperrors.WrapProfile("validate profile", p.Name, dperrors.ErrMissingKey, fmt.Errorf("frontend auth key is required"))
	}
	if err := validateAddr(p.FrontendAddr); err != nil {
		return dperrors.WrapProfile("validate profile", p.Name, dperrors.ErrInvalidValue, fmt.Errorf("frontend address: %w", err))
	}
	if err := validateAddr(p.BackendAddr); err != nil {
		return dperrors.WrapProfile("validate profile", p.Name, dperrors.ErrInvalidValue, fmt.Errorf("backend address: %w", err))
	}
	if p.ReconnectDelay < 0 {
		return dperrors.WrapProfile("validate profile", p.Name, dperrors.ErrInvalidValue, fmt.Errorf("reconnect delay must not be negative: %v", p.ReconnectDelay))
	}
	return nil
}

func validateAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return fmt.Errorf("host is required")
	}
	if _, err := parsePort(port); err != nil {
		return err
	}
	return nil
}

// isValidPort checks if a port number is in the valid range (1-65535).
func isValidPort(port int) bool {
	return port >= 1 && port <= 65535
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if !isValidPort(port) {
		return 0, fmt.Errorf("port out of range: %d", port)
	}
	return port, nil
}

func parseMillis(key, s string) (time.Duration, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, dperrors.Wrap("load profile", dperrors.ErrInvalidValue, fmt.Errorf("%s: %q is not a number of milliseconds", key, s))
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// LoadProfile loads one profile file. Files ending in .properties (or
// without an extension) are read as Java-style properties; any other
// extension is handed to viper (yaml, json, toml).
func LoadProfile(path string) (*Profile, error) {
	v := viper.New()

	switch strings.ToLower(filepath.Ext(path)) {
	case "", ".properties", ".props":
		props, err := readProperties(path)
		if err != nil {
			return nil, fmt.Errorf("error reading profile: %w", err)
		}
		if err := v.MergeConfigMap(props); err != nil {
			return nil, fmt.Errorf("error reading profile %s: %w", path, err)
		}
	default:
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading profile: %w", err)
		}
	}

	p, err := ProfileFromViper(v)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// ProfileFromViper builds and validates a profile from the keys in v.
func ProfileFromViper(v *viper.Viper) (*Profile, error) {
	var missing []string
	for _, key := range profileKeys {
		if !v.IsSet(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, dperrors.Wrap("load profile", dperrors.ErrMissingKey, fmt.Errorf("%s", strings.Join(missing, ", ")))
	}

	get := func(key string) string {
		return strings.TrimSpace(v.GetString(key))
	}

	reconnect, err := parseMillis(KeyReconnectDelay, get(KeyReconnectDelay))
	if err != nil {
		return nil, err
	}
	timeout, err := parseMillis(KeyBackendTimeout, get(KeyBackendTimeout))
	if err != nil {
		return nil, err
	}

	p := &Profile{
		Name:             get(KeyProfileName),
		FrontendAddr:     net.JoinHostPort(get(KeyFrontendHost), get(KeyFrontendPort)),
		FrontendAuthName: get(KeyFrontendName),
		FrontendAuthKey:  get(KeyFrontendKey),
		BackendAddr:      net.JoinHostPort(get(KeyBackendHost), get(KeyBackendPort)),
		BackendTimeout:   timeout,
		ReconnectDelay:   reconnect,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// SampleProfile returns a commented sample profile in properties format.
func SampleProfile() string {
	return `# DAPNET proxy profile
#
# One file per proxy instance. Times are in milliseconds.

# Name used in logs and on the status endpoint
profileName=db0abc

# Delay between reconnect attempts, 0 disables reconnecting
reconnectSleepTime=5000

# Frontend peer and the credentials injected into the welcome banner
frontend.host=localhost
frontend.port=43434
frontend.name=db0abc
frontend.key=secret

# Backend peer and its idle window, 0 disables keepalive probes
backend.host=dapnet.example.org
backend.port=43434
backend.timeout=60000
`
}
