package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Version: Version1, Type: TypeStdout, RequestID: 42, ContentLength: 100, PaddingLength: 0}
	decoded, err := DecodeHeader(h.Encode())
	require.NoError(t, err)
	require.Equal(t, h, decoded)
}

func TestDecodeHeaderRejectsBadVersion(t *testing.T) {
	buf := Header{Type: TypeStdin}.Encode()
	buf[0] = 2
	_, err := DecodeHeader(buf)
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	_, err := DecodeHeader([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestEncodeRecordRejectsOversizedPayload(t *testing.T) {
	_, err := EncodeRecord(TypeStdout, 1, make([]byte, MaxContentLength+1))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestEncodeRecordShape(t *testing.T) {
	payload := []byte("hello")
	buf, err := EncodeRecord(TypeStdout, 7, payload)
	require.NoError(t, err)
	require.Len(t, buf, HeaderLen+len(payload))

	h, err := DecodeHeader(buf[:HeaderLen])
	require.NoError(t, err)
	require.Equal(t, TypeStdout, h.Type)
	require.EqualValues(t, 7, h.RequestID)
	require.EqualValues(t, len(payload), h.ContentLength)
	require.EqualValues(t, 0, h.PaddingLength)
	require.Equal(t, payload, buf[HeaderLen:])
}

func TestBeginRequestBodyRoundTrip(t *testing.T) {
	b := BeginRequestBody{Role: RoleResponder, Flags: FlagKeepConn}
	decoded, err := DecodeBeginRequestBody(b.Encode())
	require.NoError(t, err)
	require.Equal(t, b, decoded)
}

func TestDecodeBeginRequestBodyRejectsShort(t *testing.T) {
	_, err := DecodeBeginRequestBody([]byte{0, 1})
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestEndRequestBodyEncode(t *testing.T) {
	buf := EndRequestBody{AppStatus: 1, ProtocolStatus: StatusUnknownRole}.Encode()
	require.Len(t, buf, 8)
	require.Equal(t, byte(1), buf[3])
	require.Equal(t, StatusUnknownRole, buf[4])
}

func TestEndRequestBodyRoundTrip(t *testing.T) {
	want := EndRequestBody{AppStatus: 0xdeadbeef, ProtocolStatus: StatusCantMpxConn}
	got, err := DecodeEndRequestBody(want.Encode())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDecodeEndRequestBodyRejectsShort(t *testing.T) {
	_, err := DecodeEndRequestBody([]byte{0, 1, 2})
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestUnknownTypeBody(t *testing.T) {
	body := UnknownTypeBody(42)
	require.Equal(t, []byte{42, 0, 0, 0, 0, 0, 0, 0}, body)
}
