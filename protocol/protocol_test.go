package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(length int, t MessageType) []byte {
	return appendHeader(nil, length, t)
}

func TestOpenRoundTrip(t *testing.T) {
	open := NewOpen(netip.MustParseAddr("10.0.0.1"), 65001, 90)
	buf, err := Marshal(open)
	require.NoError(t, err)
	assert.Len(t, buf, open.Len())
	assert.Equal(t, 29, len(buf))

	msg, err := Unmarshal(buf)
	require.NoError(t, err)
	got, ok := msg.(*Open)
	require.True(t, ok)
	assert.Equal(t, uint8(4), got.Version)
	assert.Equal(t, uint16(65001), got.AS)
	assert.Equal(t, uint16(90), got.HoldTime)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), got.Identifier)
}

func TestOpenSkipsOptionalParameters(t *testing.T) {
	payload := []byte{4, 0xfd, 0xe9, 0, 90, 10, 0, 0, 1, 3, 1, 2, 3}
	buf := append(header(HeaderLen+len(payload), MsgOpen), payload...)
	msg, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(65001), msg.(*Open).AS)
}

func TestUpdateRoundTrip(t *testing.T) {
	upd := &Update{
		Attributes: []PathAttribute{
			NewOriginAttr(OriginIGP),
			NewAsPathAttr(65001, 65002),
			NewNextHopAttr(netip.MustParseAddr("10.0.0.1")),
		},
		NLRI: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/24")},
	}
	buf, err := Marshal(upd)
	require.NoError(t, err)
	assert.Equal(t, upd.Len(), len(buf))
	assert.Equal(t, upd.Len(), int(binary.BigEndian.Uint16(buf[MarkerLen:])))

	msg, err := Unmarshal(buf)
	require.NoError(t, err)
	got := msg.(*Update)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.0/24")}, got.NLRI)
	assert.Equal(t, []uint16{65001, 65002}, got.AsPath())
	nh, ok := got.NextHop()
	assert.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), nh)
	if diff := cmp.Diff(upd.Attributes, got.Attributes, cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
		t.Errorf("attributes mismatch (-want +got):\n%s", diff)
	}
}

func TestNlriIsNotPaddedOnTheWire(t *testing.T) {
	w := &Withdraw{Networks: []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.0/24"),
		netip.MustParsePrefix("0.0.0.0/0"),
	}}
	buf, err := Marshal(w)
	require.NoError(t, err)
	assert.Equal(t, []byte{8, 10, 24, 192, 168, 1, 0}, buf[HeaderLen:])

	msg, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, w.Networks, msg.(*Withdraw).Networks)
}

func TestNlriIsMaskedOnEncode(t *testing.T) {
	w := &Withdraw{Networks: []netip.Prefix{netip.MustParsePrefix("10.1.2.3/16")}}
	buf, err := Marshal(w)
	require.NoError(t, err)
	msg, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("10.1.0.0/16"), msg.(*Withdraw).Networks[0])
}

func TestKeepaliveLength(t *testing.T) {
	k := &Keepalive{}
	assert.Equal(t, 19, k.Len())
	buf, err := Marshal(k)
	require.NoError(t, err)
	assert.Len(t, buf, 19)
	msg, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, MsgKeepalive, msg.Type())
}

func TestKeepaliveWithPayloadIsMalformed(t *testing.T) {
	buf := append(header(HeaderLen+1, MsgKeepalive), 0)
	_, err := Unmarshal(buf)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.True(t, IsDecodeFault(err))
}

func TestNotificationData(t *testing.T) {
	n := &Notification{Major: 6, Minor: 2, Data: []byte("bye")}
	buf, err := Marshal(n)
	require.NoError(t, err)
	msg, err := Unmarshal(buf)
	require.NoError(t, err)
	got := msg.(*Notification)
	assert.Equal(t, uint8(6), got.Major)
	assert.Equal(t, uint8(2), got.Minor)
	assert.Equal(t, len(buf)-21, len(got.Data))
	assert.Equal(t, []byte("bye"), got.Data)
}

func TestTruncatedAttributeLength(t *testing.T) {
	// attribute length claims 40 bytes, only 4 follow
	payload := []byte{0, 0, 0, 40, 0x40, 1, 1, 0}
	buf := append(header(HeaderLen+len(payload), MsgUpdate), payload...)
	msg, err := Unmarshal(buf)
	assert.Nil(t, msg)
	require.Error(t, err)
	assert.True(t, IsDecodeFault(err))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestWithdrawnRoutesUnsupported(t *testing.T) {
	payload := []byte{0, 2, 8, 10, 0, 0}
	buf := append(header(HeaderLen+len(payload), MsgUpdate), payload...)
	msg, err := Unmarshal(buf)
	assert.Nil(t, msg)
	assert.True(t, IsUnsupported(err))
	assert.False(t, IsDecodeFault(err))
	var ue *UnsupportedError
	assert.ErrorAs(t, err, &ue)
}

func TestUnknownAttributeStopsParsing(t *testing.T) {
	attrs := []byte{
		0x40, 1, 1, 0, // ORIGIN IGP
		0xc0, 99, 2, 0xaa, 0xbb, // unknown, not extended
		0x40, 3, 4, 10, 0, 0, 1, // NEXT_HOP, skipped
	}
	payload := binary.BigEndian.AppendUint16([]byte{0, 0}, uint16(len(attrs)))
	payload = append(payload, attrs...)
	payload = append(payload, 24, 10, 0, 0)
	buf := append(header(HeaderLen+len(payload), MsgUpdate), payload...)

	msg, err := Unmarshal(buf)
	require.NoError(t, err)
	upd := msg.(*Update)
	require.Len(t, upd.Attributes, 1)
	assert.Equal(t, AttrOrigin, upd.Attributes[0].Type)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.0/24")}, upd.NLRI)
}

func TestUnknownExtendedAttributeIsDecodeFault(t *testing.T) {
	attrs := []byte{0xd0, 99, 0, 1, 0xaa}
	payload := binary.BigEndian.AppendUint16([]byte{0, 0}, uint16(len(attrs)))
	payload = append(payload, attrs...)
	buf := append(header(HeaderLen+len(payload), MsgUpdate), payload...)

	_, err := Unmarshal(buf)
	assert.ErrorIs(t, err, ErrUnknownAttribute)
	assert.True(t, IsDecodeFault(err))
}

func TestRecognisedAttributeWithoutStructure(t *testing.T) {
	attrs := []byte{
		0x40, 5, 4, 0, 0, 0, 100, // LOCAL_PREF
		0x40, 6, 0, // ATOMIC_AGGREGATE
		0x40, 2, 4, 1, 2, 0xfd, 0xe9, // AS_PATH [65001]
	}
	payload := binary.BigEndian.AppendUint16([]byte{0, 0}, uint16(len(attrs)))
	payload = append(payload, attrs...)
	buf := append(header(HeaderLen+len(payload), MsgUpdate), payload...)

	msg, err := Unmarshal(buf)
	require.NoError(t, err)
	upd := msg.(*Update)
	require.Len(t, upd.Attributes, 3)
	assert.Nil(t, upd.Attributes[0].Data)
	assert.Equal(t, uint16(4), upd.Attributes[0].Length)
	assert.Equal(t, AttrAtomicAggregate, upd.Attributes[1].Type)
	assert.Equal(t, []uint16{65001}, upd.AsPath())
}

func TestExtendedLengthChosenForLongBodies(t *testing.T) {
	asns := make([]uint16, 200)
	for i := range asns {
		asns[i] = uint16(i + 1)
	}
	a := NewAsPathAttr(asns...)
	b, err := a.appendTo(nil)
	require.NoError(t, err)
	assert.NotZero(t, AttrFlags(b[0])&AttrExtended)
	assert.Equal(t, 402, int(binary.BigEndian.Uint16(b[2:])))

	upd := &Update{Attributes: []PathAttribute{a}, NLRI: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}}
	buf, err := Marshal(upd)
	require.NoError(t, err)
	msg, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, asns, msg.(*Update).AsPath())
}

func TestHeaderFaults(t *testing.T) {
	good, err := Marshal(&Keepalive{})
	require.NoError(t, err)

	badMarker := bytes.Clone(good)
	badMarker[3] = 0
	_, err = Unmarshal(badMarker)
	assert.ErrorIs(t, err, ErrBadMarker)

	badLen := bytes.Clone(good)
	binary.BigEndian.PutUint16(badLen[MarkerLen:], 5000)
	_, err = Unmarshal(badLen)
	assert.ErrorIs(t, err, ErrBadLength)

	_, err = Unmarshal(good[:10])
	assert.ErrorIs(t, err, ErrTruncated)

	unknown := bytes.Clone(good)
	unknown[MarkerLen+2] = 42
	_, err = Unmarshal(unknown)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestPrefixLengthTooLong(t *testing.T) {
	buf := append(header(HeaderLen+5, MsgWithdraw), 33, 10, 0, 0, 0)
	_, err := Unmarshal(buf)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.True(t, IsDecodeFault(err))
}

func TestMarshalRejectsIPv6(t *testing.T) {
	_, err := Marshal(&Withdraw{Networks: []netip.Prefix{netip.MustParsePrefix("2001:db8::/32")}})
	assert.Error(t, err)
	_, err = Marshal(NewOpen(netip.MustParseAddr("::1"), 1, 1))
	assert.Error(t, err)
}

func TestMarshalRejectsBadNextHop(t *testing.T) {
	for _, addr := range []netip.Addr{{}, netip.MustParseAddr("2001:db8::1")} {
		upd := &Update{
			Attributes: []PathAttribute{{Type: AttrNextHop, Data: NextHop{Addr: addr}}},
			NLRI:       []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")},
		}
		assert.Equal(t, HeaderLen+4+7+2, upd.Len())
		_, err := Marshal(upd)
		assert.ErrorContains(t, err, "next hop", addr.String())
	}
}

func TestReadMessageStream(t *testing.T) {
	var stream bytes.Buffer
	msgs := []Message{
		NewOpen(netip.MustParseAddr("10.0.0.2"), 65002, 90),
		&Keepalive{},
		&Update{
			Attributes: []PathAttribute{NewAsPathAttr(65002)},
			NLRI:       []netip.Prefix{netip.MustParsePrefix("10.2.0.0/16")},
		},
		&Withdraw{Networks: []netip.Prefix{netip.MustParsePrefix("10.2.0.0/16")}},
	}
	for _, m := range msgs {
		b, err := Marshal(m)
		require.NoError(t, err)
		stream.Write(b)
	}
	for _, want := range msgs {
		got, err := ReadMessage(&stream)
		require.NoError(t, err)
		assert.Equal(t, want.Type(), got.Type())
	}
	_, err := ReadMessage(&stream)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadMessagePartialBody(t *testing.T) {
	b, err := Marshal(&Withdraw{Networks: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}})
	require.NoError(t, err)
	_, err = ReadMessage(bytes.NewReader(b[:len(b)-1]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.False(t, IsDecodeFault(err))
}
