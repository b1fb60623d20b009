package fcgi

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/fcgisrv/fcgi/internal/transport"
	"github.com/fcgisrv/fcgi/internal/wire"
)

// recentIDCap bounds how many just-finished request-ids a connection
// tolerates stray trailing PARAMS/STDIN records for, rather than treating
// them as a protocol violation. Real clients occasionally have a little
// already-queued input in flight when a request finishes early (role
// rejection, multiplex refusal, abort); this absorbs that without keeping
// an unbounded per-connection set alive for the life of a keep-alive
// connection.
const recentIDCap = 8

// conn owns the read half of one accepted socket, demuxes records to the
// single active request, and serializes all writes (protocol replies,
// response-stream records, END_REQUEST) behind writeMu, per spec.md §5's
// "per-connection write lock" requirement.
type conn struct {
	raw     net.Conn
	br      *bufio.Reader
	writeMu sync.Mutex

	handler Handler
	logger  *zap.Logger
	policy  ConcurrencyPolicy

	stateMu   sync.Mutex
	active    *Request
	recentIDs []uint16
	closing   bool

	wg sync.WaitGroup
}

func newConn(raw net.Conn, handler Handler, logger *zap.Logger, policy ConcurrencyPolicy) *conn {
	return &conn{
		raw:     raw,
		br:      bufio.NewReader(raw),
		handler: handler,
		logger:  logger,
		policy:  policy,
	}
}

func (c *conn) peerAddr() string { return transport.PeerAddr(c.raw) }

// serve drives the connection until it closes: peer EOF/error, a protocol
// violation, or the final non-keep-alive request completing and draining.
func (c *conn) serve() {
	defer c.raw.Close()
	defer c.wg.Wait()

	for {
		rec, err := c.readRecord()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("fcgi: read error, closing connection", zap.Error(err))
			}
			c.abandonActive()
			return
		}

		if err := c.dispatch(rec); err != nil {
			c.logger.Warn("fcgi: protocol violation, closing connection", zap.Error(err))
			return
		}

		c.stateMu.Lock()
		done := c.closing
		c.stateMu.Unlock()
		if done {
			return
		}
	}
}

// rawRecord is one decoded record with its content still attached.
type rawRecord struct {
	header  wire.Header
	content []byte
}

func (c *conn) readRecord() (rawRecord, error) {
	headerBuf := make([]byte, wire.HeaderLen)
	if _, err := io.ReadFull(c.br, headerBuf); err != nil {
		return rawRecord{}, err
	}
	h, err := wire.DecodeHeader(headerBuf)
	if err != nil {
		return rawRecord{}, err
	}
	body := make([]byte, int(h.ContentLength)+int(h.PaddingLength))
	if len(body) > 0 {
		if _, err := io.ReadFull(c.br, body); err != nil {
			return rawRecord{}, err
		}
	}
	return rawRecord{header: h, content: body[:h.ContentLength]}, nil
}

// dispatch routes one record to the right handler by request-id and type.
func (c *conn) dispatch(rec rawRecord) error {
	if rec.header.RequestID == wire.NullRequestID {
		return c.handleManagement(rec)
	}

	switch rec.header.Type {
	case wire.TypeBeginRequest:
		return c.handleBeginRequest(rec)
	case wire.TypeParams:
		return c.handleParams(rec)
	case wire.TypeStdin:
		return c.handleStdin(rec)
	case wire.TypeData:
		// Filter-role input; this Responder-only engine accepts and
		// discards it rather than erroring on an otherwise well-formed
		// record ([ADDED], SPEC_FULL.md §3).
		return c.checkKnownID(rec.header.RequestID)
	case wire.TypeAbortRequest:
		return c.handleAbort(rec)
	default:
		return wrapf(ErrProtocolViolation, "unexpected record type %d for request %d", rec.header.Type, rec.header.RequestID)
	}
}

// checkKnownID returns a protocol violation unless id belongs to the
// active request or was one of the last few to finish (recentIDCap).
func (c *conn) checkKnownID(id uint16) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.active != nil && c.active.id == id {
		return nil
	}
	for _, r := range c.recentIDs {
		if r == id {
			return nil
		}
	}
	return wrapf(ErrProtocolViolation, "record for unknown request-id %d", id)
}

// freeActive clears the active slot for id (if it is still active) and
// remembers id as recently finished so trailing records for it are
// tolerated rather than rejected.
func (c *conn) freeActive(id uint16) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.active != nil && c.active.id == id {
		c.active = nil
	}
	c.rememberRecentLocked(id)
}

// rememberRecentLocked records id as recently finished; callers must hold
// stateMu.
func (c *conn) rememberRecentLocked(id uint16) {
	c.recentIDs = append(c.recentIDs, id)
	if len(c.recentIDs) > recentIDCap {
		c.recentIDs = c.recentIDs[len(c.recentIDs)-recentIDCap:]
	}
}

func (c *conn) currentRequest(id uint16) *Request {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.active != nil && c.active.id == id {
		return c.active
	}
	return nil
}

func (c *conn) handleManagement(rec rawRecord) error {
	switch rec.header.Type {
	case wire.TypeGetValues:
		return c.replyGetValues(rec.content)
	case wire.TypeBeginRequest, wire.TypeAbortRequest, wire.TypeEndRequest,
		wire.TypeParams, wire.TypeStdin, wire.TypeStdout, wire.TypeStderr,
		wire.TypeData, wire.TypeGetValuesResult:
		// A defined FastCGI type sent with request-id 0 is malformed use
		// of a real type code, not an unrecognized one; spec.md §4.2 says
		// to ignore it rather than answer UNKNOWN_TYPE.
		return nil
	default:
		return c.writeManagement(wire.TypeUnknownType, wire.UnknownTypeBody(rec.header.Type))
	}
}

// getValuesReplies are the ASCII-decimal answers this engine gives for
// the three management keys it recognizes (spec.md §4.2).
var getValuesReplies = map[string]string{
	"FCGI_MAX_CONNS":  "1",
	"FCGI_MAX_REQS":   "1",
	"FCGI_MPXS_CONNS": "0",
}

func (c *conn) replyGetValues(content []byte) error {
	asked, err := wire.DecodeNameValuePairs(content)
	if err != nil {
		return wrapf(ErrMalformedParams, "decoding GET_VALUES: %v", err)
	}
	var reply []wire.NameValue
	for _, p := range asked {
		if v, ok := getValuesReplies[string(p.Name)]; ok {
			reply = append(reply, wire.NameValue{Name: p.Name, Value: []byte(v)})
		}
	}
	return c.writeManagement(wire.TypeGetValuesResult, wire.EncodeNameValuePairs(reply))
}

func (c *conn) writeManagement(typ uint8, payload []byte) error {
	buf, err := wire.EncodeRecord(typ, wire.NullRequestID, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.raw.Write(buf)
	return err
}

func (c *conn) writeEndRequest(id uint16, appStatus uint32, protocolStatus uint8) error {
	body := wire.EndRequestBody{AppStatus: appStatus, ProtocolStatus: protocolStatus}.Encode()
	buf, err := wire.EncodeRecord(wire.TypeEndRequest, id, body)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.raw.Write(buf)
	return err
}

func (c *conn) handleBeginRequest(rec rawRecord) error {
	c.stateMu.Lock()
	if c.active != nil {
		if c.active.id == rec.header.RequestID {
			c.stateMu.Unlock()
			return wrapf(ErrProtocolViolation, "duplicate BEGIN_REQUEST for active request %d", rec.header.RequestID)
		}
		c.stateMu.Unlock()
		if err := c.writeEndRequest(rec.header.RequestID, 0, wire.StatusCantMpxConn); err != nil {
			return err
		}
		c.stateMu.Lock()
		c.rememberRecentLocked(rec.header.RequestID)
		c.stateMu.Unlock()
		return nil
	}
	c.stateMu.Unlock()

	body, err := wire.DecodeBeginRequestBody(rec.content)
	if err != nil {
		return err
	}

	req := &Request{
		id:       rec.header.RequestID,
		role:     Role(body.Role),
		keepConn: body.Flags&wire.FlagKeepConn != 0,
		c:        c,
		stdin:    newStdinReader(),
	}
	req.stdout = newStreamWriter(wire.TypeStdout, req.id, req, c.raw, &c.writeMu)
	req.stderr = newStreamWriter(wire.TypeStderr, req.id, req, c.raw, &c.writeMu)

	c.stateMu.Lock()
	c.active = req
	c.stateMu.Unlock()
	return nil
}

func (c *conn) handleParams(rec rawRecord) error {
	req := c.currentRequest(rec.header.RequestID)
	if req == nil {
		return c.checkKnownID(rec.header.RequestID)
	}

	if len(rec.content) > 0 {
		req.paramsBuf = append(req.paramsBuf, rec.content...)
		return nil
	}

	// Empty PARAMS: decode eagerly (PARAMS_OPEN -> STDIN_OPEN, spec.md §4.3).
	pairs, err := wire.DecodeNameValuePairs(req.paramsBuf)
	if err != nil {
		return wrapf(ErrMalformedParams, "decoding accumulated PARAMS for request %d: %v", req.id, err)
	}
	req.params = pairs
	req.paramsBuf = nil

	if req.role != RoleResponder {
		// Handler is never invoked for a non-Responder role, so no
		// stdout/stderr stream was ever opened; END_REQUEST is the only
		// record sent for this request (spec.md §4.3 Role check, S6).
		c.finishRequest(req, 0, wire.StatusUnknownRole, true)
		return nil
	}

	c.startHandler(req)
	return nil
}

func (c *conn) handleStdin(rec rawRecord) error {
	req := c.currentRequest(rec.header.RequestID)
	if req == nil {
		return c.checkKnownID(rec.header.RequestID)
	}

	if len(rec.content) > 0 {
		req.stdin.push(rec.content)
		return nil
	}

	// Empty STDIN: STDIN_OPEN -> RUNNING. The handler may already be
	// executing (it was invoked when PARAMS closed); this only signals
	// end-of-stream to its Stdin() reader.
	req.stdin.closeStream()
	return nil
}

func (c *conn) handleAbort(rec rawRecord) error {
	req := c.currentRequest(rec.header.RequestID)
	if req == nil {
		return c.checkKnownID(rec.header.RequestID)
	}
	req.mu.Lock()
	req.aborted = true
	req.mu.Unlock()
	req.stdin.closeStream()
	c.finishRequest(req, 0, wire.StatusRequestComplete, true)
	return nil
}

// startHandler invokes the handler once PARAMS closes, per spec.md §4.3.
// It always runs the handler on its own goroutine so the connection
// reader can keep pulling STDIN/ABORT records for this request (and
// reject a concurrent second BEGIN_REQUEST) while the handler is still
// reading a stdin stream that hasn't finished arriving yet.
func (c *conn) startHandler(req *Request) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.recoverHandlerPanic(req)
		c.handler.ServeFCGI(req)
		c.finishRequest(req, 0, wire.StatusRequestComplete, false)
	}()
}

func (c *conn) recoverHandlerPanic(req *Request) {
	if r := recover(); r != nil {
		c.logger.Error("fcgi: handler panicked", zap.Any("panic", r), zap.Uint16("request_id", req.id))
		c.finishRequest(req, 1, wire.StatusRequestComplete, true)
	}
}

// finishRequest performs the close sequence of spec.md §4.4 exactly once
// per request (invariant 1: exactly one END_REQUEST). discardOutput skips
// the stdout/stderr close sequence entirely, dropping any still-buffered
// output; it is used for ABORT_REQUEST, role rejection and a handler panic.
func (c *conn) finishRequest(req *Request, appStatus uint32, status uint8, discardOutput bool) {
	req.mu.Lock()
	if req.done {
		req.mu.Unlock()
		return
	}
	req.done = true
	req.mu.Unlock()

	// The handler is permitted to leave stdin unread (spec.md §6); make
	// sure nothing the peer still sends for this id can wedge the
	// connection's reader goroutine in stdinReader.push, whether or not
	// the terminating empty STDIN record has been seen yet.
	req.stdin.closeStream()

	if !discardOutput {
		if err := req.stdout.closeStream(true); err != nil {
			c.logger.Debug("fcgi: error flushing stdout", zap.Error(err))
		}
		if err := req.stderr.closeStream(false); err != nil {
			c.logger.Debug("fcgi: error flushing stderr", zap.Error(err))
		}
	}

	if err := c.writeEndRequest(req.id, appStatus, status); err != nil {
		c.logger.Debug("fcgi: error writing END_REQUEST", zap.Error(err))
	}

	c.freeActive(req.id)

	if !req.keepConn {
		c.beginClose()
	}
}

// beginClose half-closes the write side and marks the connection for
// teardown, per spec.md §4.4 step 5: serve returns once it sees the mark
// after a record, or at EOF. A connection that cannot half-close is closed
// outright, since nothing more is written to it.
func (c *conn) beginClose() {
	if hc, ok := c.raw.(interface{ CloseWrite() error }); ok {
		_ = hc.CloseWrite()
	} else {
		_ = c.raw.Close()
	}
	c.stateMu.Lock()
	c.closing = true
	c.stateMu.Unlock()
}

// abandonActive is called when the peer disappears (EOF/error) before an
// active request reaches DONE: the handler's output path is never driven
// further and the connection is simply torn down (spec.md §4.2).
func (c *conn) abandonActive() {
	c.stateMu.Lock()
	req := c.active
	c.active = nil
	c.stateMu.Unlock()
	if req != nil {
		req.mu.Lock()
		req.done = true
		req.aborted = true
		req.mu.Unlock()
		req.stdin.closeStream()
	}
}
