package protocol

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

const (
	Version     = 4
	openMinLen  = 10
	notifMinLen = 2
)

type Open struct {
	Version  uint8
	AS       uint16
	HoldTime uint16
	// Identifier is the sender's IPv4 address.
	Identifier netip.Addr
}

func NewOpen(ip netip.Addr, as uint16, holdTime uint16) *Open {
	return &Open{
		Version:    Version,
		AS:         as,
		HoldTime:   holdTime,
		Identifier: ip,
	}
}

func (o *Open) Type() MessageType { return MsgOpen }
func (o *Open) Len() int          { return HeaderLen + openMinLen }

func (o *Open) appendPayload(b []byte) ([]byte, error) {
	if !o.Identifier.Is4() {
		return nil, fmt.Errorf("open identifier %s is not an IPv4 address", o.Identifier)
	}
	b = append(b, o.Version)
	b = binary.BigEndian.AppendUint16(b, o.AS)
	b = binary.BigEndian.AppendUint16(b, o.HoldTime)
	id := o.Identifier.As4()
	b = append(b, id[:]...)
	// no optional parameters are ever produced
	return append(b, 0), nil
}

func (o *Open) String() string {
	return fmt.Sprintf("OPEN (version: %d, as: %d, hold: %d, id: %s)", o.Version, o.AS, o.HoldTime, o.Identifier)
}

func decodeOpen(p []byte) (*Open, error) {
	if len(p) < openMinLen {
		return nil, decodeErr("open", ErrTruncated)
	}
	optLen := int(p[9])
	if openMinLen+optLen != len(p) {
		return nil, decodeErr("open optional parameters", ErrBadLength)
	}
	// optional parameters are skipped
	return &Open{
		Version:    p[0],
		AS:         binary.BigEndian.Uint16(p[1:3]),
		HoldTime:   binary.BigEndian.Uint16(p[3:5]),
		Identifier: netip.AddrFrom4([4]byte(p[5:9])),
	}, nil
}

type Notification struct {
	Major uint8
	Minor uint8
	Data  []byte
}

func (n *Notification) Type() MessageType { return MsgNotification }
func (n *Notification) Len() int          { return HeaderLen + notifMinLen + len(n.Data) }

func (n *Notification) appendPayload(b []byte) ([]byte, error) {
	b = append(b, n.Major, n.Minor)
	return append(b, n.Data...), nil
}

func (n *Notification) String() string {
	return fmt.Sprintf("NOTIFICATION (code: %d, subcode: %d, data: %x)", n.Major, n.Minor, n.Data)
}

func decodeNotification(p []byte) (*Notification, error) {
	if len(p) < notifMinLen {
		return nil, decodeErr("notification", ErrTruncated)
	}
	return &Notification{
		Major: p[0],
		Minor: p[1],
		Data:  append([]byte(nil), p[2:]...),
	}, nil
}
