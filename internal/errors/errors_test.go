package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestProxyError(t *testing.T) {
	t.Run("Error returns formatted message", func(t *testing.T) {
		err := WrapProfile("dial", "db0abc", ErrFrontendUnavailable, errors.New("connection refused"))
		expected := "dial [db0abc]: frontend unavailable: connection refused"
		if err.Error() != expected {
			t.Errorf("expected %q, got %q", expected, err.Error())
		}
	})

	t.Run("Error without profile", func(t *testing.T) {
		err := Wrap("read", ErrConnectionLost, errors.New("EOF"))
		expected := "read: connection lost: EOF"
		if err.Error() != expected {
			t.Errorf("expected %q, got %q", expected, err.Error())
		}
	})

	t.Run("Error without underlying error", func(t *testing.T) {
		err := Wrap("keepalive", ErrKeepaliveTimeout, nil)
		expected := "keepalive: keepalive timeout"
		if err.Error() != expected {
			t.Errorf("expected %q, got %q", expected, err.Error())
		}
	})

	t.Run("Unwrap returns underlying error", func(t *testing.T) {
		underlying := errors.New("underlying error")
		err := Wrap("test", ErrConnectionLost, underlying)
		if !errors.Is(err, underlying) {
			t.Error("errors.Is should reach the underlying error")
		}
	})

	t.Run("Is matches kind error", func(t *testing.T) {
		err := Wrap("test", ErrBackendUnavailable, errors.New("timeout"))
		if !errors.Is(err, ErrBackendUnavailable) {
			t.Error("errors.Is should match the kind error")
		}
		if errors.Is(err, ErrFrontendUnavailable) {
			t.Error("errors.Is should not match an unrelated kind")
		}
	})
}

func TestClassify(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassNone},
		{"cancelled", fmt.Errorf("wait: %w", context.Canceled), ClassCancelled},
		{"internal", Wrap("run", ErrInternal, errors.New("boom")), ClassInternal},
		{"missing key", Wrap("load", ErrMissingKey, nil), ClassConfig},
		{"frontend dial", Wrap("dial", ErrFrontendUnavailable, refused), ClassUnreachable},
		{"bare refused", refused, ClassUnreachable},
		{"dns", &net.DNSError{Err: "no such host", Name: "nowhere.invalid"}, ClassUnreachable},
		{"keepalive", Wrap("keepalive", ErrKeepaliveTimeout, nil), ClassLost},
		{"frame too long", Wrap("read", ErrFrameTooLong, nil), ClassLost},
		{"plain", errors.New("EOF"), ClassLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUnreachable(t *testing.T) {
	if IsUnreachable(nil) {
		t.Error("nil should not be unreachable")
	}
	if IsUnreachable(errors.New("broken pipe")) {
		t.Error("plain errors should not be unreachable")
	}
	if !IsUnreachable(fmt.Errorf("connect: %w", syscall.EHOSTUNREACH)) {
		t.Error("EHOSTUNREACH should be unreachable")
	}
	readErr := &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
	if IsUnreachable(readErr) {
		t.Error("a reset on read is a lost connection, not unreachable")
	}
}

func TestClassString(t *testing.T) {
	tests := []struct {
		class Class
		want  string
	}{
		{ClassNone, "none"},
		{ClassUnreachable, "unreachable"},
		{ClassLost, "lost"},
		{ClassInternal, "internal"},
		{ClassConfig, "config"},
		{ClassCancelled, "cancelled"},
		{Class(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.class.String(); got != tt.want {
			t.Errorf("Class(%d).String() = %q, want %q", tt.class, got, tt.want)
		}
	}
}
