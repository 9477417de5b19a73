package fleet

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// clientName is sent in the handshake so node operators can tell client
// implementations apart in their logs.
const clientName = "audiowire/1.0"

// Conn is the transport a Node drives. The concrete implementation is Socket;
// tests substitute in-memory pipes.
type Conn interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// Dialer opens a control connection for a node configuration. Nodes take a
// Dialer so the connection layer can be swapped out in tests.
type Dialer func(ctx context.Context, cfg Config) (Conn, error)

var _ Conn = (*Socket)(nil)

// Socket wraps a websocket control connection with serialized writes and an
// idempotent close.
type Socket struct {
	id   string
	conn *websocket.Conn

	readTimeout  time.Duration
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  int32

	bytesSent     uint64
	bytesReceived uint64
}

// Dial opens the websocket handshake for a node. Authentication and identity
// travel as headers; a rejected handshake surfaces the HTTP status so the
// caller can distinguish bad credentials from a dead host.
func Dial(ctx context.Context, cfg Config) (Conn, error) {
	scheme := "ws"
	if cfg.Secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: cfg.Address}

	header := http.Header{}
	header.Set("Authorization", cfg.Authorization)
	header.Set("User-Id", cfg.UserID)
	header.Set("Client-Name", clientName)
	if cfg.ResumeKey != "" {
		header.Set("Resume-Key", cfg.ResumeKey)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, errors.Wrapf(ErrAuthRejected, "handshake status %d", resp.StatusCode)
			}
			return nil, errors.Wrapf(err, "handshake status %d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "dialing node")
	}

	return newSocket(conn, cfg.ReadTimeout, cfg.WriteTimeout), nil
}

func newSocket(conn *websocket.Conn, readTimeout, writeTimeout time.Duration) *Socket {
	return &Socket{
		id:           uuid.NewString(),
		conn:         conn,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// ID returns the socket's identity, unique per dialed connection.
func (s *Socket) ID() string { return s.id }

// Read blocks for the next text frame.
func (s *Socket) Read() ([]byte, error) {
	if atomic.LoadInt32(&s.closed) == 1 {
		return nil, ErrSocketClosed
	}

	if s.readTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}

	messageType, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if messageType != websocket.TextMessage {
		return nil, errors.New("unexpected binary frame on control connection")
	}

	atomic.AddUint64(&s.bytesReceived, uint64(len(data)))
	return data, nil
}

// Write sends one text frame. Writes are serialized; gorilla connections do
// not tolerate concurrent writers.
func (s *Socket) Write(data []byte) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrSocketClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "writing frame")
	}

	atomic.AddUint64(&s.bytesSent, uint64(len(data)))
	return nil
}

// Close sends a close frame and tears the connection down. Safe to call more
// than once.
func (s *Socket) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	s.writeMu.Lock()
	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second))
	s.writeMu.Unlock()

	return s.conn.Close()
}

// Traffic reports cumulative bytes sent and received.
func (s *Socket) Traffic() (sent, received uint64) {
	return atomic.LoadUint64(&s.bytesSent), atomic.LoadUint64(&s.bytesReceived)
}
