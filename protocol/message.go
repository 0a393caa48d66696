package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	MarkerLen     = 16
	HeaderLen     = MarkerLen + 3
	MaxMessageLen = 4096
)

type MessageType uint8

const (
	MsgOpen         MessageType = 1
	MsgUpdate       MessageType = 2
	MsgNotification MessageType = 3
	MsgKeepalive    MessageType = 4
	// MsgWithdraw is not part of RFC 4271. 5 is left free for ROUTE-REFRESH.
	MsgWithdraw MessageType = 6
)

func (t MessageType) String() string {
	switch t {
	case MsgOpen:
		return "OPEN"
	case MsgUpdate:
		return "UPDATE"
	case MsgNotification:
		return "NOTIFICATION"
	case MsgKeepalive:
		return "KEEPALIVE"
	case MsgWithdraw:
		return "WITHDRAW"
	default:
		return fmt.Sprintf("TYPE(%d)", uint8(t))
	}
}

// Message is a single framed protocol message.
type Message interface {
	Type() MessageType
	// Len returns the length of the encoded message, header included.
	Len() int
	appendPayload(b []byte) ([]byte, error)
}

func appendHeader(b []byte, length int, t MessageType) []byte {
	for range MarkerLen {
		b = append(b, 0xff)
	}
	b = binary.BigEndian.AppendUint16(b, uint16(length))
	return append(b, byte(t))
}

// Marshal encodes m including its header.
func Marshal(m Message) ([]byte, error) {
	length := m.Len()
	if length > MaxMessageLen {
		return nil, fmt.Errorf("%s message too long: %d > %d", m.Type(), length, MaxMessageLen)
	}
	buf := make([]byte, 0, length)
	buf = appendHeader(buf, length, m.Type())
	buf, err := m.appendPayload(buf)
	if err != nil {
		return nil, err
	}
	if len(buf) != length {
		return nil, fmt.Errorf("%s message length mismatch: encoded %d, expected %d", m.Type(), len(buf), length)
	}
	return buf, nil
}

// parseHeader validates the fixed header and returns the declared total
// length and the message type.
func parseHeader(b []byte) (int, MessageType, error) {
	if len(b) < HeaderLen {
		return 0, 0, decodeErr("header", ErrTruncated)
	}
	for _, c := range b[:MarkerLen] {
		if c != 0xff {
			return 0, 0, decodeErr("marker", ErrBadMarker)
		}
	}
	length := int(binary.BigEndian.Uint16(b[MarkerLen:]))
	if length < HeaderLen || length > MaxMessageLen {
		return 0, 0, decodeErr("length", ErrBadLength)
	}
	return length, MessageType(b[MarkerLen+2]), nil
}

// Unmarshal decodes exactly one message from b. Bytes past the declared
// length are ignored.
func Unmarshal(b []byte) (Message, error) {
	length, t, err := parseHeader(b)
	if err != nil {
		return nil, err
	}
	if length > len(b) {
		return nil, decodeErr("length", ErrTruncated)
	}
	payload := b[HeaderLen:length]
	switch t {
	case MsgOpen:
		return decodeOpen(payload)
	case MsgUpdate:
		return decodeUpdate(payload)
	case MsgNotification:
		return decodeNotification(payload)
	case MsgKeepalive:
		if len(payload) != 0 {
			return nil, decodeErr("keepalive", ErrMalformed)
		}
		return &Keepalive{}, nil
	case MsgWithdraw:
		return decodeWithdraw(payload)
	default:
		return nil, decodeErr("type", fmt.Errorf("%w %d", ErrUnknownType, uint8(t)))
	}
}

// ReadMessage reads one framed message from r. I/O errors are returned as-is;
// malformed data is reported as a *DecodeError or *UnsupportedError.
func ReadMessage(r io.Reader) (Message, error) {
	buf := make([]byte, HeaderLen, MaxMessageLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	length, _, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	buf = buf[:length]
	if _, err := io.ReadFull(r, buf[HeaderLen:]); err != nil {
		return nil, err
	}
	return Unmarshal(buf)
}

// Keepalive carries no payload.
type Keepalive struct{}

func (k *Keepalive) Type() MessageType { return MsgKeepalive }
func (k *Keepalive) Len() int          { return HeaderLen }
func (k *Keepalive) appendPayload(b []byte) ([]byte, error) {
	return b, nil
}

func (k *Keepalive) String() string {
	return "KEEPALIVE"
}
