package fcgi

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fcgisrv/fcgi/internal/wire"
)

// testPeer drives the client half of a net.Pipe connection, writing raw
// records and decoding whatever the engine writes back. It exists so the
// end-to-end scenarios of spec.md §8 can be expressed as a short script of
// "send this, expect that" without each test hand-rolling byte slices.
type testPeer struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func newTestPeer(t *testing.T, h Handler, policy ConcurrencyPolicy) *testPeer {
	t.Helper()
	server, client := net.Pipe()
	c := newConn(server, h, zap.NewNop(), policy)
	done := make(chan struct{})
	go func() {
		c.serve()
		close(done)
	}()
	t.Cleanup(func() {
		client.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("connection did not close")
		}
	})
	return &testPeer{t: t, conn: client, br: bufio.NewReader(client)}
}

func (p *testPeer) send(typ uint8, id uint16, payload []byte) {
	p.t.Helper()
	buf, err := wire.EncodeRecord(typ, id, payload)
	if err != nil {
		p.t.Fatalf("encoding record: %v", err)
	}
	if _, err := p.conn.Write(buf); err != nil {
		p.t.Fatalf("writing record: %v", err)
	}
}

func (p *testPeer) sendBeginRequest(id uint16, role uint16, flags uint8) {
	p.t.Helper()
	body := wire.BeginRequestBody{Role: role, Flags: flags}.Encode()
	p.send(wire.TypeBeginRequest, id, body)
}

func (p *testPeer) sendParams(id uint16, pairs ...wire.NameValue) {
	p.t.Helper()
	if len(pairs) > 0 {
		p.send(wire.TypeParams, id, wire.EncodeNameValuePairs(pairs))
	}
	p.send(wire.TypeParams, id, nil)
}

func (p *testPeer) sendStdin(id uint16, chunks ...[]byte) {
	p.t.Helper()
	for _, c := range chunks {
		p.send(wire.TypeStdin, id, c)
	}
	p.send(wire.TypeStdin, id, nil)
}

type recvdRecord struct {
	typ     uint8
	id      uint16
	content []byte
}

func (p *testPeer) recv() recvdRecord {
	p.t.Helper()
	headerBuf := make([]byte, wire.HeaderLen)
	if _, err := io.ReadFull(p.br, headerBuf); err != nil {
		p.t.Fatalf("reading header: %v", err)
	}
	h, err := wire.DecodeHeader(headerBuf)
	if err != nil {
		p.t.Fatalf("decoding header: %v", err)
	}
	body := make([]byte, int(h.ContentLength)+int(h.PaddingLength))
	if len(body) > 0 {
		if _, err := io.ReadFull(p.br, body); err != nil {
			p.t.Fatalf("reading body: %v", err)
		}
	}
	return recvdRecord{typ: h.Type, id: h.RequestID, content: body[:h.ContentLength]}
}

func (p *testPeer) expectEOF() {
	p.t.Helper()
	b := make([]byte, 1)
	if _, err := p.br.Read(b); err != io.EOF {
		p.t.Fatalf("expected EOF, got err=%v", err)
	}
}
