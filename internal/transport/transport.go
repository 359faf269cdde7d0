// Package transport provides the TCP dialer and the connection actor used by
// the session bridge.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/sahmadiut/dapnet-proxy/internal/constants"
)

// Config holds dialer configuration.
type Config struct {
	// DialTimeout bounds a single connection attempt
	DialTimeout time.Duration
	// TCPKeepAlive is the OS level keep-alive period, negative disables it
	TCPKeepAlive time.Duration
	// IPVersion forces IPv4 ("4") or IPv6 ("6"), empty for auto
	IPVersion string
	// TCPNoDelay disables Nagle's algorithm for lower latency
	TCPNoDelay bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:  constants.DefaultDialTimeout,
		TCPKeepAlive: constants.DefaultTCPKeepAlive,
		TCPNoDelay:   true,
	}
}

// Dialer opens TCP connections to frontend and backend peers.
type Dialer struct {
	config *Config
}

// NewDialer creates a dialer. A nil config uses DefaultConfig.
func NewDialer(config *Config) *Dialer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Dialer{config: config}
}

// createDialer creates a net.Dialer configured based on Config settings.
func createDialer(config *Config) *net.Dialer {
	return &net.Dialer{
		Timeout:   config.DialTimeout,
		KeepAlive: config.TCPKeepAlive,
	}
}

// getNetworkType returns the network type based on IP version setting.
func getNetworkType(ipVersion string) string {
	switch ipVersion {
	case "4":
		return "tcp4"
	case "6":
		return "tcp6"
	default:
		return "tcp"
	}
}

// Dial connects to addr ("host:port"). It returns when the connection is
// established, the dial timeout elapses or ctx is cancelled.
func (d *Dialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := createDialer(d.config).DialContext(ctx, getNetworkType(d.config.IPVersion), addr)
	if err != nil {
		return nil, err
	}

	// Apply TCP options (best effort)
	if tcpConn, ok := conn.(*net.TCPConn); ok && d.config.TCPNoDelay {
		_ = tcpConn.SetNoDelay(true)
	}

	return conn, nil
}
