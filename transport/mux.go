// Package transport multiplexes independent named substreams over a single
// duplex connection. Each frame on the wire names the substream it belongs
// to; the provider engine for a connection is piped to one substream while
// other features share the same socket.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/status-im/wallet-router/logutils"
)

// Frame is one multiplexed message on the wire.
type Frame struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"data"`
}

var ErrStreamClosed = errors.New("substream is closed")

// Mux frames a duplex connection into named substreams. Reads happen on the
// Run loop; writes may come from any goroutine.
type Mux struct {
	conn io.ReadWriteCloser

	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	streams map[string]*Substream

	teardown sync.Once
	done     chan struct{}

	logger *zap.Logger
}

func NewMux(conn io.ReadWriteCloser) *Mux {
	return &Mux{
		conn:    conn,
		enc:     json.NewEncoder(conn),
		streams: make(map[string]*Substream),
		done:    make(chan struct{}),
		logger:  logutils.ZapLogger().Named("transport"),
	}
}

// Substream returns the named substream, creating it on first use. Frames
// arriving before the first call are buffered on the implicitly created
// stream.
func (m *Mux) Substream(name string) *Substream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[name]; ok {
		return s
	}
	s := &Substream{
		name:   name,
		mux:    m,
		in:     make(chan json.RawMessage, 16),
		closed: make(chan struct{}),
	}
	m.streams[name] = s
	return s
}

// Run reads frames until the connection ends and routes them to their
// substreams. A peer hanging up mid-stream is an expected condition, not a
// failure; Run returns nil for it.
func (m *Mux) Run() error {
	defer m.Close()

	dec := json.NewDecoder(m.conn)
	for {
		var frame Frame
		if err := dec.Decode(&frame); err != nil {
			if isPrematureClose(err) {
				m.logger.Debug("connection closed", zap.Error(err))
				return nil
			}
			m.logger.Debug("malformed frame, dropping connection", zap.Error(err))
			return err
		}
		if frame.Name == "" {
			m.logger.Debug("frame without a substream name dropped")
			continue
		}
		m.deliver(frame)
	}
}

func (m *Mux) deliver(frame Frame) {
	s := m.Substream(frame.Name)
	select {
	case <-s.closed:
	case <-m.done:
	case s.in <- frame.Payload:
	}
}

// Close tears the mux down: every substream is closed and the underlying
// connection released. Safe to call multiple times and concurrently with
// Run.
func (m *Mux) Close() error {
	m.teardown.Do(func() {
		close(m.done)
		m.mu.Lock()
		for _, s := range m.streams {
			s.markClosed()
		}
		m.mu.Unlock()
		if err := m.conn.Close(); err != nil {
			m.logger.Debug("connection close", zap.Error(err))
		}
	})
	return nil
}

// Done is closed when the mux has been torn down.
func (m *Mux) Done() <-chan struct{} { return m.done }

func (m *Mux) write(name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case <-m.done:
		return ErrStreamClosed
	default:
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.enc.Encode(Frame{Name: name, Payload: data})
}

// Substream is one named channel within a mux. Reading and writing are
// independent of the other substreams on the same connection.
type Substream struct {
	name string
	mux  *Mux

	in        chan json.RawMessage
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *Substream) Name() string { return s.name }

// Read returns the inbound payload channel. Consume it together with
// Closed: the channel is never closed, delivery just stops.
func (s *Substream) Read() <-chan json.RawMessage { return s.in }

// Closed is closed when the substream (or the whole mux) has ended.
func (s *Substream) Closed() <-chan struct{} { return s.closed }

// Write sends one payload on this substream.
func (s *Substream) Write(payload interface{}) error {
	select {
	case <-s.closed:
		return ErrStreamClosed
	default:
	}
	return s.mux.write(s.name, payload)
}

// Close ends this substream only; the mux and its other substreams stay up.
func (s *Substream) Close() {
	s.markClosed()
}

func (s *Substream) markClosed() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// isPrematureClose matches the benign ways a peer ends a connection.
func isPrematureClose(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset by peer")
}
