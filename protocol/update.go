package protocol

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Update advertises NLRI sharing one set of path attributes. The withdrawn
// routes section is always encoded empty; withdrawals travel in Withdraw.
type Update struct {
	Attributes []PathAttribute
	NLRI       []netip.Prefix
}

func (u *Update) Type() MessageType { return MsgUpdate }

func (u *Update) Len() int {
	n := HeaderLen + 4
	for _, a := range u.Attributes {
		n += a.encodedLen()
	}
	for _, p := range u.NLRI {
		n += prefixLen(p)
	}
	return n
}

func (u *Update) appendPayload(b []byte) ([]byte, error) {
	b = binary.BigEndian.AppendUint16(b, 0)
	attrLen := 0
	for _, a := range u.Attributes {
		attrLen += a.encodedLen()
	}
	if attrLen > 0xffff {
		return nil, fmt.Errorf("path attributes too long: %d", attrLen)
	}
	b = binary.BigEndian.AppendUint16(b, uint16(attrLen))
	var err error
	for _, a := range u.Attributes {
		b, err = a.appendTo(b)
		if err != nil {
			return nil, err
		}
	}
	for _, p := range u.NLRI {
		b, err = appendPrefix(b, p)
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Attribute returns the first attribute of the given type.
func (u *Update) Attribute(t AttrType) (PathAttribute, bool) {
	for _, a := range u.Attributes {
		if a.Type == t {
			return a, true
		}
	}
	return PathAttribute{}, false
}

// AsPath returns the ASNs of the AS_PATH attribute, or nil when absent.
func (u *Update) AsPath() []uint16 {
	a, ok := u.Attribute(AttrAsPath)
	if !ok {
		return nil
	}
	if p, ok := a.Data.(AsPath); ok {
		return p.ASNs
	}
	return nil
}

func (u *Update) NextHop() (netip.Addr, bool) {
	a, ok := u.Attribute(AttrNextHop)
	if !ok {
		return netip.Addr{}, false
	}
	nh, ok := a.Data.(NextHop)
	return nh.Addr, ok
}

func (u *Update) String() string {
	return fmt.Sprintf("UPDATE (attrs: %v, nlri: %v)", u.Attributes, u.NLRI)
}

func decodeUpdate(p []byte) (*Update, error) {
	if len(p) < 2 {
		return nil, decodeErr("withdrawn routes length", ErrTruncated)
	}
	if wlen := binary.BigEndian.Uint16(p); wlen != 0 {
		return nil, &UnsupportedError{Feature: "update withdrawn routes"}
	}
	p = p[2:]
	if len(p) < 2 {
		return nil, decodeErr("path attribute length", ErrTruncated)
	}
	alen := int(binary.BigEndian.Uint16(p))
	p = p[2:]
	if alen > len(p) {
		return nil, decodeErr("path attribute length", ErrTruncated)
	}
	attrs, err := decodeAttributes(p[:alen])
	if err != nil {
		return nil, err
	}
	nlri, err := decodePrefixes(p[alen:], "nlri")
	if err != nil {
		return nil, err
	}
	return &Update{Attributes: attrs, NLRI: nlri}, nil
}

// Withdraw removes the listed networks. It is a non-standard message used
// instead of the UPDATE withdrawn routes section.
type Withdraw struct {
	Networks []netip.Prefix
}

func (w *Withdraw) Type() MessageType { return MsgWithdraw }

func (w *Withdraw) Len() int {
	n := HeaderLen
	for _, p := range w.Networks {
		n += prefixLen(p)
	}
	return n
}

func (w *Withdraw) appendPayload(b []byte) ([]byte, error) {
	var err error
	for _, p := range w.Networks {
		b, err = appendPrefix(b, p)
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (w *Withdraw) String() string {
	return fmt.Sprintf("WITHDRAW %v", w.Networks)
}

func decodeWithdraw(p []byte) (*Withdraw, error) {
	networks, err := decodePrefixes(p, "withdrawn networks")
	if err != nil {
		return nil, err
	}
	return &Withdraw{Networks: networks}, nil
}

func prefixLen(p netip.Prefix) int {
	return 1 + (p.Bits()+7)/8
}

// appendPrefix writes the prefix length followed by only the significant
// address octets.
func appendPrefix(b []byte, p netip.Prefix) ([]byte, error) {
	if !p.IsValid() || !p.Addr().Is4() {
		return nil, fmt.Errorf("prefix %s is not a valid IPv4 prefix", p)
	}
	a := p.Masked().Addr().As4()
	b = append(b, byte(p.Bits()))
	return append(b, a[:(p.Bits()+7)/8]...), nil
}

func decodePrefixes(buf []byte, field string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0)
	off := 0
	for off < len(buf) {
		bits := int(buf[off])
		if bits > 32 {
			return nil, decodeErr(field, fmt.Errorf("%w: prefix length %d", ErrMalformed, bits))
		}
		n := (bits + 7) / 8
		if off+1+n > len(buf) {
			return nil, decodeErr(field, ErrTruncated)
		}
		var a [4]byte
		copy(a[:], buf[off+1:off+1+n])
		prefixes = append(prefixes, netip.PrefixFrom(netip.AddrFrom4(a), bits).Masked())
		off += 1 + n
	}
	return prefixes, nil
}
