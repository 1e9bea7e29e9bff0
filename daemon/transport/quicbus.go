// Package transport adapts network transports to the core's narrow
// ports.Bus interface. QUICBus is the default production Bus: one MID maps
// to one bidirectional QUIC stream, each frame length-prefixed.
//
// Grounded on the teacher's daemon/transport/control_stream.go framing
// idiom (binary.Write/Read of a type-and-length header ahead of a payload
// over a *quic.Stream) and quic_connection.go's dial/listen/accept
// wrapper style — generalized from one fixed control stream plus a
// priority-scheduled data path to one lazily-opened stream per configured
// MID, since ports.Bus already carries pre-encoded CFDP PDU bytes and has
// no need for the teacher's typed control-message union.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/quic-go/quic-go"
)

// QUICBus implements ports.Bus over one established QUIC connection.
type QUICBus struct {
	conn *quic.Conn

	mu  sync.Mutex
	out map[string]*quic.Stream
	in  map[string]chan []byte
}

// NewQUICBus wraps an already-established QUIC connection (dialed or
// accepted by the caller — ports.Bus has no notion of connection setup).
func NewQUICBus(conn *quic.Conn) *QUICBus {
	return &QUICBus{
		conn: conn,
		out:  make(map[string]*quic.Stream),
		in:   make(map[string]chan []byte),
	}
}

// Send opens (and caches) one outbound stream per MID and writes a single
// length-prefixed frame to it.
func (b *QUICBus) Send(mid string, data []byte) error {
	stream, err := b.outStream(mid)
	if err != nil {
		return fmt.Errorf("quicbus: open stream %q: %w", mid, err)
	}
	if err := writeFrame(stream, data); err != nil {
		return fmt.Errorf("quicbus: write %q: %w", mid, err)
	}
	return nil
}

// writeFrame and readFrame implement the 4-byte-big-endian-length-prefix
// framing against any io.Writer/io.Reader, independent of *quic.Stream, so
// the framing logic itself can be unit-tested without a live connection.
func writeFrame(w io.Writer, data []byte) error {
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(data)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	data := make([]byte, binary.BigEndian.Uint32(lenPrefix[:]))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (b *QUICBus) outStream(mid string) (*quic.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.out[mid]; ok {
		return s, nil
	}
	s, err := b.conn.OpenStreamSync(context.Background())
	if err != nil {
		return nil, err
	}
	// Self-describe the stream so the peer's accept loop knows which MID it
	// carries before any PDU frame — ports.Bus itself has no header for this.
	if err := writeFrame(s, []byte(mid)); err != nil {
		return nil, fmt.Errorf("announce mid: %w", err)
	}
	b.out[mid] = s
	return s, nil
}

// ReadMID reads the MID-announcement frame a peer's outStream writes as the
// first frame of a newly opened stream. Callers accepting streams
// (conn.AcceptStream) use this to learn which MID to RegisterInbound the
// stream under.
func ReadMID(stream *quic.Stream) (string, error) {
	data, err := readFrame(stream)
	if err != nil {
		return "", fmt.Errorf("read mid header: %w", err)
	}
	return string(data), nil
}

// Recv is non-blocking per ports.Bus's contract: it only drains frames a
// background readLoop (started by RegisterInbound) has already queued. It
// never itself touches the network, so a Wakeup can never stall on I/O.
func (b *QUICBus) Recv(mid string) ([]byte, bool, error) {
	b.mu.Lock()
	ch, ok := b.in[mid]
	b.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	select {
	case data := <-ch:
		return data, true, nil
	default:
		return nil, false, nil
	}
}

// RegisterInbound associates mid with a peer-opened stream (obtained via
// conn.AcceptStream plus whatever out-of-band handshake maps a stream to a
// MID — CFDP's PDU set carries no such mapping itself) and starts a
// background reader decoding length-prefixed frames into a bounded queue.
func (b *QUICBus) RegisterInbound(mid string, stream *quic.Stream, queueDepth int) {
	ch := make(chan []byte, queueDepth)
	b.mu.Lock()
	b.in[mid] = ch
	b.mu.Unlock()
	go b.readLoop(stream, ch)
}

func (b *QUICBus) readLoop(stream *quic.Stream, ch chan []byte) {
	for {
		data, err := readFrame(stream)
		if err != nil {
			return
		}
		// Blocks only this stream's reader goroutine if the queue is full,
		// applying backpressure to the peer rather than to Wakeup.
		ch <- data
	}
}

// Close closes every outbound stream this Bus opened and the connection
// itself.
func (b *QUICBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.out {
		_ = s.Close()
	}
	return b.conn.CloseWithError(0, "quicbus closed")
}
