package stream

import (
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"outpost.ai/internal/protocol"
)

// Sink receives decoded stream frames on the client's read goroutine.
type Sink interface {
	OnScene(protocol.Scene)
	OnCommand(protocol.CommandEvent)
}

type Config struct {
	// URL is the scene stream endpoint, e.g. ws://host/api/v1/scenes/mars-1/stream.
	URL string
	// Compressed asks the server for zstd binary frames.
	Compressed bool
	Log        *log.Logger

	MinBackoff time.Duration
	MaxBackoff time.Duration
	// ReadTimeout drops a connection that has been silent this long.
	ReadTimeout time.Duration
}

type Status struct {
	Connected       bool
	LastConnectedAt time.Time
	LastError       string
	Scenes          uint64
	Commands        uint64
}

// Client keeps one websocket subscription alive, reconnecting with a
// doubling backoff.
type Client struct {
	cfg  Config
	sink Sink
	log  *log.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	status Status

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func New(cfg Config, sink Sink) *Client {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		cfg:  cfg,
		sink: sink,
		log:  logger,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (c *Client) Start() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

// Close stops reconnecting and waits for the read goroutine to exit.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.disconnect()
		c.startOnce.Do(func() { close(c.done) })
		<-c.done
	})
}

func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Client) disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.status.Connected = false
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	if c.cfg.Compressed {
		q := u.Query()
		q.Set("encoding", "zstd")
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) run() {
	defer close(c.done)

	backoff := c.cfg.MinBackoff
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		connected, err := c.connectAndReadLoop()
		if err == nil {
			return
		}
		if connected {
			backoff = c.cfg.MinBackoff
		}
		c.mu.Lock()
		c.status.Connected = false
		c.status.LastError = err.Error()
		c.mu.Unlock()
		c.log.Printf("stream %s: %v (retry in %s)", c.cfg.URL, err, backoff)

		select {
		case <-c.stop:
			return
		case <-time.After(backoff):
		}
		if backoff < c.cfg.MaxBackoff {
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
		}
	}
}

// connectAndReadLoop returns nil only when the client was closed. connected
// reports whether the dial succeeded, so a dropped session resets the backoff.
func (c *Client) connectAndReadLoop() (connected bool, err error) {
	target, err := c.dialURL()
	if err != nil {
		return false, err
	}
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.Dial(target, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	select {
	case <-c.stop:
		c.mu.Unlock()
		_ = conn.Close()
		return true, nil
	default:
	}
	c.conn = conn
	c.status.Connected = true
	c.status.LastConnectedAt = time.Now()
	c.status.LastError = ""
	c.mu.Unlock()
	c.log.Printf("stream connected: %s", target)

	// An idle scene is kept alive by server pings.
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			select {
			case <-c.stop:
				return true, nil
			default:
			}
			return true, err
		}
		if mt == websocket.BinaryMessage {
			msg, err = protocol.DecompressFrame(msg)
			if err != nil {
				c.log.Printf("stream: %v", err)
				continue
			}
		}
		f, err := protocol.DecodeFrame(msg)
		if err != nil {
			// A malformed scene is a load failure for that snapshot only.
			c.log.Printf("stream: drop frame: %v", err)
			continue
		}
		switch {
		case f.Scene != nil:
			c.mu.Lock()
			c.status.Scenes++
			c.mu.Unlock()
			c.sink.OnScene(*f.Scene)
		case f.Command != nil:
			c.mu.Lock()
			c.status.Commands++
			c.mu.Unlock()
			c.sink.OnCommand(*f.Command)
		}
	}
}
