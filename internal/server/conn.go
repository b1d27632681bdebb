package server

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hailam/chessnet/internal/protocol"
)

const maxFrameBytes = 64 << 10

// transport is the byte stream under a client connection; one frame is one
// protocol message.
type transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame([]byte) error
	Close() error
	RemoteAddr() string
}

type tcpTransport struct {
	c            net.Conn
	sc           *bufio.Scanner
	writeTimeout time.Duration
}

func newTCPTransport(c net.Conn, writeTimeout time.Duration) *tcpTransport {
	if tc, ok := c.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	sc := bufio.NewScanner(c)
	sc.Buffer(make([]byte, 0, 4096), maxFrameBytes)
	return &tcpTransport{c: c, sc: sc, writeTimeout: writeTimeout}
}

func (t *tcpTransport) ReadFrame() ([]byte, error) {
	if !t.sc.Scan() {
		if err := t.sc.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return t.sc.Bytes(), nil
}

func (t *tcpTransport) WriteFrame(b []byte) error {
	t.c.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	_, err := t.c.Write(b)
	return err
}

func (t *tcpTransport) Close() error       { return t.c.Close() }
func (t *tcpTransport) RemoteAddr() string { return t.c.RemoteAddr().String() }

// conn is one live client connection. Writes serialize on writeMu so frames
// never interleave; identity fields are set once login succeeds.
type conn struct {
	id  string
	tr  transport
	hub *Hub

	writeMu sync.Mutex

	mu           sync.Mutex
	playerID     string
	username     string
	rating       int
	token        string
	lastActivity time.Time
	limiter      *rateLimiter

	closeOnce sync.Once
}

func newConnID() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (c *conn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *conn) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *conn) identity() (playerID, username string, rating int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID, c.username, c.rating
}

func (c *conn) setIdentity(playerID, username string, rating int, token string) {
	c.mu.Lock()
	c.playerID = playerID
	c.username = username
	c.rating = rating
	c.token = token
	c.mu.Unlock()
}

func (c *conn) clearIdentity() {
	c.setIdentity("", "", 0, "")
}

// send encodes and writes one frame. A failed write closes the connection,
// which in turn unblocks the read loop.
func (c *conn) send(msg any) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	err = c.tr.WriteFrame(frame)
	c.writeMu.Unlock()

	if err != nil {
		c.close()
	}
	return err
}

func (c *conn) sendError(code, message, relatedID string) {
	c.send(&protocol.Error{
		Header:           protocol.NewHeader(protocol.TypeError),
		Code:             code,
		Message:          message,
		RelatedMessageID: relatedID,
	})
}

func (c *conn) close() {
	c.closeOnce.Do(func() { c.tr.Close() })
}
