package fcgi

import (
	"io"
	"sync"

	"github.com/fcgisrv/fcgi/internal/wire"
)

// streamWriter implements the response writer of spec.md §4.4 for one of
// the stdout/stderr streams: an append-only sink that frames writes into
// ≤65535-byte records, splitting oversized writes across records and
// flushing whenever the internal buffer fills.
type streamWriter struct {
	writeMu *sync.Mutex // shared with the connection's other writers
	w       io.Writer   // the raw connection
	typ     uint8
	id      uint16
	req     *Request

	buf   []byte
	wrote bool
}

func newStreamWriter(typ uint8, id uint16, req *Request, w io.Writer, writeMu *sync.Mutex) *streamWriter {
	return &streamWriter{typ: typ, id: id, req: req, w: w, writeMu: writeMu}
}

// Write buffers p, flushing full 65535-byte records as the buffer fills.
// Writes after ABORT_REQUEST are silently discarded (spec.md §4.4, §5),
// but are still reported as fully written so callers don't treat a
// discarded write as an I/O failure.
func (s *streamWriter) Write(p []byte) (int, error) {
	if s.req.isAborted() {
		return len(p), nil
	}
	total := len(p)
	for len(p) > 0 {
		room := wire.MaxContentLength - len(s.buf)
		n := room
		if n > len(p) {
			n = len(p)
		}
		s.buf = append(s.buf, p[:n]...)
		p = p[n:]
		if len(s.buf) == wire.MaxContentLength {
			if err := s.flush(); err != nil {
				return total - len(p), err
			}
		}
	}
	return total, nil
}

// flush emits any buffered bytes as a single record. It is a no-op if the
// buffer is empty: "empty writes are not auto-flushed" (spec.md §4.4).
func (s *streamWriter) flush() error {
	if len(s.buf) == 0 {
		return nil
	}
	data := s.buf
	s.buf = nil
	s.wrote = true
	return s.writeRecord(data)
}

func (s *streamWriter) writeRecord(payload []byte) error {
	buf, err := wire.EncodeRecord(s.typ, s.id, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.w.Write(buf)
	return err
}

// closeStream flushes pending bytes and emits the empty terminating
// record. If always is false and nothing was ever written, the stream is
// omitted entirely, per spec.md §4.4 step 3 ("this is permitted and
// conventional").
func (s *streamWriter) closeStream(always bool) error {
	if err := s.flush(); err != nil {
		return err
	}
	if !always && !s.wrote {
		return nil
	}
	return s.writeRecord(nil)
}
