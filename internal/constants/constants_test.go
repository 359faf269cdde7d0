package constants

import (
	"strings"
	"testing"
)

func TestFrameBound(t *testing.T) {
	if MaxFrameLength != 1024 {
		t.Errorf("MaxFrameLength = %d, want 1024", MaxFrameLength)
	}
	if !strings.HasSuffix(LineTerminator, "\n") {
		t.Errorf("LineTerminator %q must end with a line feed", LineTerminator)
	}
}

func TestKeepAliveRequestCompletesHandshake(t *testing.T) {
	// The probe itself must look like post-handshake traffic to the backend.
	if !strings.HasPrefix(KeepAliveRequest, HandshakePrefix) {
		t.Errorf("KeepAliveRequest %q should start with %q", KeepAliveRequest, HandshakePrefix)
	}
}

func TestWriteQueueSize(t *testing.T) {
	if WriteQueueSize < 3 {
		t.Errorf("WriteQueueSize = %d, need room for a frame, a probe and a close marker", WriteQueueSize)
	}
}
