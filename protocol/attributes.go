package protocol

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
)

type AttrFlags uint8

const (
	AttrOptional   AttrFlags = 1 << 7
	AttrTransitive AttrFlags = 1 << 6
	AttrPartial    AttrFlags = 1 << 5
	AttrExtended   AttrFlags = 1 << 4
)

type AttrType uint8

const (
	AttrOrigin          AttrType = 1
	AttrAsPath          AttrType = 2
	AttrNextHop         AttrType = 3
	AttrMultiExitDisc   AttrType = 4
	AttrLocalPref       AttrType = 5
	AttrAtomicAggregate AttrType = 6
	AttrAggregator      AttrType = 7
)

func (t AttrType) Known() bool {
	return t >= AttrOrigin && t <= AttrAggregator
}

func (t AttrType) String() string {
	switch t {
	case AttrOrigin:
		return "ORIGIN"
	case AttrAsPath:
		return "AS_PATH"
	case AttrNextHop:
		return "NEXT_HOP"
	case AttrMultiExitDisc:
		return "MULTI_EXIT_DISC"
	case AttrLocalPref:
		return "LOCAL_PREF"
	case AttrAtomicAggregate:
		return "ATOMIC_AGGREGATE"
	case AttrAggregator:
		return "AGGREGATOR"
	default:
		return fmt.Sprintf("ATTR(%d)", uint8(t))
	}
}

type OriginCode uint8

const (
	OriginIGP        OriginCode = 0
	OriginEGP        OriginCode = 1
	OriginIncomplete OriginCode = 2
)

const (
	AsSet      uint8 = 1
	AsSequence uint8 = 2
)

// AttrData is the type specific body of a path attribute.
type AttrData interface {
	appendTo(b []byte) []byte
}

type Origin struct {
	Code OriginCode
}

func (o Origin) appendTo(b []byte) []byte {
	return append(b, byte(o.Code))
}

// AsPath is a single AS path segment.
type AsPath struct {
	SegmentType uint8
	ASNs        []uint16
}

func (a AsPath) appendTo(b []byte) []byte {
	b = append(b, byte(len(a.ASNs)), a.SegmentType)
	for _, asn := range a.ASNs {
		b = binary.BigEndian.AppendUint16(b, asn)
	}
	return b
}

type NextHop struct {
	Addr netip.Addr
}

// appendTo writes zeros for a non IPv4 address so lengths stay computable.
// PathAttribute.appendTo rejects such an address before it reaches the wire.
func (n NextHop) appendTo(b []byte) []byte {
	if !n.Addr.Is4() {
		return append(b, 0, 0, 0, 0)
	}
	a := n.Addr.As4()
	return append(b, a[:]...)
}

type MultiExitDisc struct {
	Metric uint32
}

func (m MultiExitDisc) appendTo(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, m.Metric)
}

type PathAttribute struct {
	Flags AttrFlags
	Type  AttrType
	// Length is the payload length declared on the wire. It is recomputed
	// from Data when encoding.
	Length uint16
	// Data is nil for types whose structure is not decoded.
	Data AttrData
}

func NewOriginAttr(code OriginCode) PathAttribute {
	return PathAttribute{Flags: AttrTransitive, Type: AttrOrigin, Length: 1, Data: Origin{Code: code}}
}

func NewAsPathAttr(asns ...uint16) PathAttribute {
	return PathAttribute{
		Flags:  AttrTransitive,
		Type:   AttrAsPath,
		Length: uint16(2 + 2*len(asns)),
		Data:   AsPath{SegmentType: AsSequence, ASNs: asns},
	}
}

func NewNextHopAttr(addr netip.Addr) PathAttribute {
	return PathAttribute{Flags: AttrTransitive, Type: AttrNextHop, Length: 4, Data: NextHop{Addr: addr}}
}

func NewMedAttr(metric uint32) PathAttribute {
	return PathAttribute{Flags: AttrOptional, Type: AttrMultiExitDisc, Length: 4, Data: MultiExitDisc{Metric: metric}}
}

func (a PathAttribute) body() []byte {
	if a.Data == nil {
		return nil
	}
	return a.Data.appendTo(nil)
}

func (a PathAttribute) encodedLen() int {
	n := len(a.body())
	if n > 0xff {
		return 4 + n
	}
	return 3 + n
}

func (a PathAttribute) appendTo(b []byte) ([]byte, error) {
	body := a.body()
	if len(body) > 0xffff {
		return nil, fmt.Errorf("%s attribute too long: %d", a.Type, len(body))
	}
	if as, ok := a.Data.(AsPath); ok && len(as.ASNs) > 0xff {
		return nil, fmt.Errorf("as path segment too long: %d", len(as.ASNs))
	}
	if nh, ok := a.Data.(NextHop); ok && !nh.Addr.Is4() {
		return nil, fmt.Errorf("next hop %s is not an IPv4 address", nh.Addr)
	}
	flags := a.Flags &^ AttrExtended
	if len(body) > 0xff {
		flags |= AttrExtended
		b = append(b, byte(flags), byte(a.Type))
		b = binary.BigEndian.AppendUint16(b, uint16(len(body)))
	} else {
		b = append(b, byte(flags), byte(a.Type), byte(len(body)))
	}
	return append(b, body...), nil
}

func (a PathAttribute) String() string {
	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("%s(flags: %#x, len: %d", a.Type, uint8(a.Flags), a.Length))
	switch d := a.Data.(type) {
	case Origin:
		sb.WriteString(fmt.Sprintf(", origin: %d", d.Code))
	case AsPath:
		sb.WriteString(fmt.Sprintf(", path: %v", d.ASNs))
	case NextHop:
		sb.WriteString(fmt.Sprintf(", nh: %s", d.Addr))
	case MultiExitDisc:
		sb.WriteString(fmt.Sprintf(", med: %d", d.Metric))
	}
	sb.WriteString(")")
	return sb.String()
}

// decodeAttributes parses a path attribute section. An unrecognised attribute
// type ends parsing and the rest of the section is skipped, unless it carries
// the extended length flag, which is treated as corrupt data.
func decodeAttributes(buf []byte) ([]PathAttribute, error) {
	attrs := make([]PathAttribute, 0)
	off := 0
	for off < len(buf) {
		if len(buf)-off < 3 {
			return nil, decodeErr("path attribute header", ErrTruncated)
		}
		flags := AttrFlags(buf[off])
		typ := AttrType(buf[off+1])
		hdr := 3
		length := int(buf[off+2])
		if flags&AttrExtended != 0 {
			if !typ.Known() {
				return nil, decodeErr("path attribute type", fmt.Errorf("%w %d", ErrUnknownAttribute, uint8(typ)))
			}
			if len(buf)-off < 4 {
				return nil, decodeErr("path attribute header", ErrTruncated)
			}
			hdr = 4
			length = int(binary.BigEndian.Uint16(buf[off+2:]))
		}
		if !typ.Known() {
			break
		}
		if off+hdr+length > len(buf) {
			return nil, decodeErr(typ.String(), ErrTruncated)
		}
		body := buf[off+hdr : off+hdr+length]
		attr := PathAttribute{Flags: flags, Type: typ, Length: uint16(length)}
		switch typ {
		case AttrOrigin:
			if len(body) < 1 {
				return nil, decodeErr(typ.String(), ErrTruncated)
			}
			attr.Data = Origin{Code: OriginCode(body[0])}
		case AttrAsPath:
			if len(body) < 2 {
				return nil, decodeErr(typ.String(), ErrTruncated)
			}
			n := int(body[0])
			if len(body) < 2+2*n {
				return nil, decodeErr(typ.String(), ErrTruncated)
			}
			asns := make([]uint16, n)
			for i := range n {
				asns[i] = binary.BigEndian.Uint16(body[2+2*i:])
			}
			attr.Data = AsPath{SegmentType: body[1], ASNs: asns}
		case AttrNextHop:
			if len(body) < 4 {
				return nil, decodeErr(typ.String(), ErrTruncated)
			}
			attr.Data = NextHop{Addr: netip.AddrFrom4([4]byte(body[:4]))}
		case AttrMultiExitDisc:
			if len(body) < 4 {
				return nil, decodeErr(typ.String(), ErrTruncated)
			}
			attr.Data = MultiExitDisc{Metric: binary.BigEndian.Uint32(body)}
		default:
			// recognised, structure not decoded
		}
		attrs = append(attrs, attr)
		off += hdr + length
	}
	return attrs, nil
}
