package fcgi

import (
	"errors"
	"fmt"

	"github.com/fcgisrv/fcgi/internal/wire"
)

// Error kinds surfaced to callers, grounded on the teacher's sentinel
// error set in fcgx.go (ErrClientClosed, ErrTimeout, ...), generalized to
// the server side's error taxonomy from spec.md §7.
var (
	// ErrMalformedRecord is returned when a record header fails to decode.
	ErrMalformedRecord = wire.ErrMalformedRecord
	// ErrMalformedParams is returned when a PARAMS buffer fails to decode.
	ErrMalformedParams = wire.ErrMalformedParams
	// ErrPayloadTooLarge is returned when asked to encode an oversized record.
	ErrPayloadTooLarge = wire.ErrPayloadTooLarge

	// ErrProtocolViolation covers the framing-rule violations of spec.md
	// §4.3: an unknown request-id on PARAMS/STDIN, or a BEGIN_REQUEST that
	// reuses an active request-id. Both close the connection.
	ErrProtocolViolation = errors.New("fcgi: protocol violation")

	// ErrNotAListener is returned by ServeFD when the inherited descriptor
	// is connected rather than listening (spec.md §4.6, §7).
	ErrNotAListener = errors.New("fcgi: descriptor is not a listening socket")
)

func wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
