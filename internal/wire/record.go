// Package wire implements the FastCGI 1.0 record and name-value codecs.
//
// It has no knowledge of connections, requests, or state machines: it
// only turns bytes into Header/NameValue values and back, the way the
// teacher's header/encodePair logic in fcgx.go is self-contained within
// the wire format itself.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Protocol version and record types, FastCGI 1.0 (spec.md §6).
const (
	Version1 uint8 = 1

	TypeBeginRequest    uint8 = 1
	TypeAbortRequest    uint8 = 2
	TypeEndRequest      uint8 = 3
	TypeParams          uint8 = 4
	TypeStdin           uint8 = 5
	TypeStdout          uint8 = 6
	TypeStderr          uint8 = 7
	TypeData            uint8 = 8
	TypeGetValues       uint8 = 9
	TypeGetValuesResult uint8 = 10
	TypeUnknownType     uint8 = 11
)

// Roles (BEGIN_REQUEST body).
const (
	RoleResponder  uint16 = 1
	RoleAuthorizer uint16 = 2
	RoleFilter     uint16 = 3
)

// BEGIN_REQUEST flags.
const (
	FlagKeepConn uint8 = 1
)

// END_REQUEST protocol-status values.
const (
	StatusRequestComplete uint8 = 0
	StatusCantMpxConn     uint8 = 1
	StatusOverloaded      uint8 = 2
	StatusUnknownRole     uint8 = 3
)

// HeaderLen is the fixed size of a FastCGI record header in bytes.
const HeaderLen = 8

// MaxContentLength is the largest content length a single record can carry.
const MaxContentLength = 65535

// NullRequestID is the reserved request-id for management records.
const NullRequestID uint16 = 0

var (
	ErrMalformedRecord = errors.New("fcgi: malformed record")
	ErrMalformedParams = errors.New("fcgi: malformed params")
	ErrPayloadTooLarge = errors.New("fcgi: payload exceeds 65535 bytes")
)

// wrap attaches msg and the FastCGI-level error kind to err, following the
// teacher's wrap(err, kind, msg) helper in fcgx.go.
func wrap(kind error, msg string, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", kind, msg, err)
	}
	return fmt.Errorf("%w: %s", kind, msg)
}

// Header is the 8-byte FastCGI record header (spec.md §3, §6).
type Header struct {
	Version       uint8
	Type          uint8
	RequestID     uint16
	ContentLength uint16
	PaddingLength uint8
}

// DecodeHeader decodes the 8-byte big-endian header in buf.
//
// It fails with ErrMalformedRecord if the buffer is short or the version
// is not 1, per spec.md §4.1.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, wrap(ErrMalformedRecord, "short header", nil)
	}
	version := buf[0]
	if version != Version1 {
		return Header{}, wrap(ErrMalformedRecord, fmt.Sprintf("unsupported version %d", version), nil)
	}
	return Header{
		Version:       version,
		Type:          buf[1],
		RequestID:     binary.BigEndian.Uint16(buf[2:4]),
		ContentLength: binary.BigEndian.Uint16(buf[4:6]),
		PaddingLength: buf[6],
		// buf[7] is reserved and ignored on read, per spec.md §3.
	}, nil
}

// Encode writes the header's 8 bytes in wire order.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = Version1
	buf[1] = h.Type
	binary.BigEndian.PutUint16(buf[2:4], h.RequestID)
	binary.BigEndian.PutUint16(buf[4:6], h.ContentLength)
	buf[6] = h.PaddingLength
	buf[7] = 0
	return buf
}

// EncodeRecord encodes a full record: header followed by payload and no
// padding (spec.md §4.1 notes that emitting zero padding is compliant).
// It fails if payload exceeds MaxContentLength.
func EncodeRecord(typ uint8, requestID uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxContentLength {
		return nil, wrap(ErrPayloadTooLarge, fmt.Sprintf("%d bytes", len(payload)), nil)
	}
	h := Header{
		Version:       Version1,
		Type:          typ,
		RequestID:     requestID,
		ContentLength: uint16(len(payload)),
	}
	buf := make([]byte, 0, HeaderLen+len(payload))
	buf = append(buf, h.Encode()...)
	buf = append(buf, payload...)
	return buf, nil
}

// BeginRequestBody is the 8-byte body of a BEGIN_REQUEST record.
type BeginRequestBody struct {
	Role  uint16
	Flags uint8
}

// DecodeBeginRequestBody decodes the BEGIN_REQUEST body. The 5 reserved
// bytes are ignored on read, per spec.md §3.
func DecodeBeginRequestBody(content []byte) (BeginRequestBody, error) {
	if len(content) < 8 {
		return BeginRequestBody{}, wrap(ErrMalformedRecord, "short BEGIN_REQUEST body", nil)
	}
	return BeginRequestBody{
		Role:  binary.BigEndian.Uint16(content[0:2]),
		Flags: content[2],
	}, nil
}

// Encode writes the 8-byte BEGIN_REQUEST body, reserved bytes zeroed.
func (b BeginRequestBody) Encode() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint16(buf[0:2], b.Role)
	buf[2] = b.Flags
	return buf
}

// EndRequestBody is the 8-byte body of an END_REQUEST record.
type EndRequestBody struct {
	AppStatus      uint32
	ProtocolStatus uint8
}

// Encode writes the 8-byte END_REQUEST body, reserved bytes zeroed.
func (e EndRequestBody) Encode() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], e.AppStatus)
	buf[4] = e.ProtocolStatus
	return buf
}

// DecodeEndRequestBody decodes the 8-byte body of an END_REQUEST record.
func DecodeEndRequestBody(content []byte) (EndRequestBody, error) {
	if len(content) < 8 {
		return EndRequestBody{}, wrap(ErrMalformedRecord, "short END_REQUEST body", nil)
	}
	return EndRequestBody{
		AppStatus:      binary.BigEndian.Uint32(content[0:4]),
		ProtocolStatus: content[4],
	}, nil
}

// UnknownTypeBody builds the 8-byte body of an UNKNOWN_TYPE reply:
// the unrecognized type byte followed by 7 reserved zero bytes (spec.md §4.2).
func UnknownTypeBody(unknownType uint8) []byte {
	return []byte{unknownType, 0, 0, 0, 0, 0, 0, 0}
}
