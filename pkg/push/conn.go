package push

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/logging"
)

// Options configures a Conn.
type Options struct {
	// FragmentSize bounds outgoing fragments in characters.
	FragmentSize int
	// WriteTimeout is the deadline for writing a single fragment.
	WriteTimeout time.Duration
	// ReadLimit bounds a single incoming websocket frame in bytes.
	ReadLimit int64
	Logger    *logrus.Entry
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		FragmentSize: WebSocketFragmentSize,
		WriteTimeout: 10 * time.Second,
		ReadLimit:    WebSocketBufferSize,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FragmentSize <= 0 {
		o.FragmentSize = d.FragmentSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = d.ReadLimit
	}
	if o.Logger == nil {
		o.Logger = logging.NewLogger("push")
	}
	return o
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  WebSocketBufferSize,
	WriteBufferSize: WebSocketBufferSize,
	// The daemon listens on a local socket; any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type sendRequest struct {
	fragments []string
	result    chan error
}

// Conn carries framed messages over a websocket. Writes are serialized
// through one goroutine so the fragments of a message are never
// interleaved with another message.
type Conn struct {
	ws      *websocket.Conn
	opts    Options
	logger  *logrus.Entry
	send    chan sendRequest
	receive chan string

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewConn wraps an established websocket and starts its read and write
// loops.
func NewConn(ws *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	ws.SetReadLimit(opts.ReadLimit)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:      ws,
		opts:    opts,
		logger:  opts.Logger.WithField("remote", ws.RemoteAddr().String()),
		send:    make(chan sendRequest),
		receive: make(chan string, 16),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	return c
}

// Upgrade upgrades an HTTP request to a framed push connection.
func Upgrade(w http.ResponseWriter, r *http.Request, opts Options) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConnClosed, "websocket upgrade failed")
	}
	return NewConn(ws, opts), nil
}

// Dial connects to a push endpoint.
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:   WebSocketBufferSize,
		WriteBufferSize:  WebSocketBufferSize,
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConnClosed, "websocket dial failed").
			WithDetail("url", url)
	}
	return NewConn(ws, opts), nil
}

// Send writes msg as a sequence of length-prefixed fragments and waits
// until the last one is written.
func (c *Conn) Send(ctx context.Context, msg string) error {
	req := sendRequest{
		fragments: NewFragmentedMessageSize(msg, c.opts.FragmentSize).Fragments(),
		result:    make(chan error, 1),
	}
	select {
	case c.send <- req:
	case <-c.ctx.Done():
		return c.closedError()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next reassembled message.
func (c *Conn) Receive(ctx context.Context) (string, error) {
	select {
	case msg, ok := <-c.receive:
		if !ok {
			return "", c.closedError()
		}
		return msg, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Done is closed once the connection stops.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err returns the error that stopped the connection, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a close frame, tears down the socket and waits for both
// loops to exit. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.ws.Close()
	})
	c.wg.Wait()
	return err
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.cancel()
	_ = c.ws.Close()
}

func (c *Conn) closedError() error {
	if err := c.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeConnClosed, "push connection closed")
	}
	return errors.New(errors.ErrCodeConnClosed, "push connection closed")
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case req := <-c.send:
			err := c.writeFragments(req.fragments)
			req.result <- err
			if err != nil {
				c.logger.WithError(err).Debug("Push write failed")
				c.fail(err)
				return
			}
		}
	}
}

func (c *Conn) writeFragments(fragments []string) error {
	for _, fragment := range fragments {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return err
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, []byte(fragment)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer close(c.receive)

	var reader Reader
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				c.ctx.Err() == nil {
				c.logger.WithError(err).Debug("Push read failed")
				c.fail(err)
			} else {
				c.cancel()
			}
			return
		}
		msg, complete, err := reader.Feed(string(data))
		if err != nil {
			c.logger.WithError(err).Warn("Dropping push connection on malformed fragment")
			c.fail(err)
			return
		}
		if !complete {
			continue
		}
		select {
		case c.receive <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}
