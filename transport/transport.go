// Package transport implements the command channel between a DiGS client
// and the control thread (spec.md §4.8): length-prefixed framing over a
// mutually authenticated connection, and the message-kind enumeration
// reused from the job-controller wire protocol. COMMAND carries the
// catalogue-mutation verb lines (lock, unlock, replcount, ...); the other
// kinds are preserved abstractly from §4.8 even though job submission
// itself is out of scope.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single message payload, guarding the control
// thread against a misbehaving or malicious peer claiming an enormous
// length prefix.
const MaxFrameSize = 16 << 20 // 16 MiB

// MessageKind identifies the payload of a frame.
type MessageKind byte

const (
	KindSTDOUTReq MessageKind = iota
	KindSTDERRReq
	KindSTDIN
	KindState
	KindOutfiles
	KindKeepalive
	KindCommand
)

func (k MessageKind) String() string {
	switch k {
	case KindSTDOUTReq:
		return "STDOUT_REQ"
	case KindSTDERRReq:
		return "STDERR_REQ"
	case KindSTDIN:
		return "STDIN"
	case KindState:
		return "STATE"
	case KindOutfiles:
		return "OUTFILES"
	case KindKeepalive:
		return "KEEPALIVE"
	case KindCommand:
		return "COMMAND"
	default:
		return fmt.Sprintf("MessageKind(%d)", byte(k))
	}
}

// Frame is one length-prefixed message: a 1-byte kind followed by an
// ASCII or binary payload, the whole thing preceded on the wire by a
// 4-byte little-endian length covering kind+payload.
type Frame struct {
	Kind    MessageKind
	Payload []byte
}

// WriteFrame writes f to w as a 4-byte little-endian length prefix
// followed by the kind byte and payload, per §4.8's framing rule.
func WriteFrame(w io.Writer, f Frame) error {
	body := make([]byte, 1+len(f.Payload))
	body[0] = byte(f.Kind)
	copy(body[1:], f.Payload)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("transport: writing length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("transport: writing frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		return Frame{}, fmt.Errorf("transport: zero-length frame")
	}
	if n > MaxFrameSize {
		return Frame{}, fmt.Errorf("transport: frame length %d exceeds max %d", n, MaxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("transport: reading frame body: %w", err)
	}
	return Frame{Kind: MessageKind(body[0]), Payload: body[1:]}, nil
}

// NewCommandFrame wraps an ASCII "verb arg1 arg2" command line as a
// COMMAND frame, newline-terminated as §4.8 requires for atomic delivery.
func NewCommandFrame(line string) Frame {
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	return Frame{Kind: KindCommand, Payload: []byte(line)}
}
