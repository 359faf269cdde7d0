// Package codec implements the line framing used on both peer connections.
//
// Frames are the bytes between two line feeds. An optional carriage return
// before the line feed is stripped, so both "\n" and "\r\n" terminated
// input is accepted. Outgoing frames always end in "\r\n".
package codec

import (
	"bufio"
	"errors"
	"io"

	"github.com/sahmadiut/dapnet-proxy/internal/constants"
	dperrors "github.com/sahmadiut/dapnet-proxy/internal/errors"
)

// Decoder reads frames from a byte stream.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a decoder reading from r. The decoder's buffer is
// exactly MaxFrameLength bytes, so a frame that does not end within that
// many bytes can never be buffered.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, constants.MaxFrameLength)}
}

// ReadFrame returns the next frame with its terminator removed.
//
// A frame longer than MaxFrameLength, terminator included, yields
// ErrFrameTooLong and leaves the decoder unusable. Bytes that are not
// followed by a line feed when the stream ends are discarded and io.EOF is
// returned.
func (d *Decoder) ReadFrame() (string, error) {
	line, err := d.r.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return "", dperrors.Wrap("decode", dperrors.ErrFrameTooLong, nil)
		}
		return "", err
	}

	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return string(line), nil
}

// Encoder writes frames to a byte stream.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriterSize(w, constants.MaxFrameLength+len(constants.LineTerminator))}
}

// WriteFrame writes frame followed by the line terminator and flushes. The
// frame is written as is; callers must not pass text containing a line feed.
func (e *Encoder) WriteFrame(frame string) error {
	if _, err := e.w.WriteString(frame); err != nil {
		return err
	}
	if _, err := e.w.WriteString(constants.LineTerminator); err != nil {
		return err
	}
	return e.w.Flush()
}

// EncodedLen returns the number of bytes WriteFrame puts on the wire.
func EncodedLen(frame string) int {
	return len(frame) + len(constants.LineTerminator)
}
