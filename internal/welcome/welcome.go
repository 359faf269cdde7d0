// Package welcome rewrites the backend's welcome banner so that it carries
// the frontend authentication credentials.
package welcome

import (
	"fmt"
	"regexp"

	dperrors "github.com/sahmadiut/dapnet-proxy/internal/errors"
)

// bannerPattern matches "[<name> v<version>]". The "v" is optional on input.
var bannerPattern = regexp.MustCompile(`^\[([/A-Za-z0-9]+) v?(\d[\d.]+[[:graph:]]*)\]$`)

// Mode tells whether a rewriter still looks for the banner.
type Mode int

const (
	Armed    Mode = iota // Waiting for the banner
	Disarmed             // Banner already rewritten
)

// String returns a string representation of the mode.
func (m Mode) String() string {
	switch m {
	case Armed:
		return "armed"
	case Disarmed:
		return "disarmed"
	default:
		return "unknown"
	}
}

// Rewriter injects the auth name and key into the first banner frame it
// sees. A rewriter belongs to exactly one connection and is not safe for
// concurrent use.
type Rewriter struct {
	authName string
	authKey  string
	mode     Mode
}

// New creates an armed rewriter. Both credentials are required.
func New(authName, authKey string) (*Rewriter, error) {
	if authName == "" {
		return nil, dperrors.Wrap("welcome", dperrors.ErrMissingKey, fmt.Errorf("frontend auth name is empty"))
	}
	if authKey == "" {
		return nil, dperrors.Wrap("welcome", dperrors.ErrMissingKey, fmt.Errorf("frontend auth key is empty"))
	}
	return &Rewriter{authName: authName, authKey: authKey, mode: Armed}, nil
}

// Rewrite returns frame with the credentials injected if frame is the
// banner, and frame unchanged otherwise. After the first match the
// rewriter disarms and passes every later frame through.
func (r *Rewriter) Rewrite(frame string) string {
	if r.mode == Disarmed {
		return frame
	}

	m := bannerPattern.FindStringSubmatch(frame)
	if m == nil {
		return frame
	}

	r.mode = Disarmed
	return fmt.Sprintf("[%s v%s %s %s]", m[1], m[2], r.authName, r.authKey)
}

// Mode returns the current mode.
func (r *Rewriter) Mode() Mode {
	return r.mode
}
