package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"motionduel/duel"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10

	// nameHeader carries the host's display name in the upgrade response.
	nameHeader = "X-Duel-Name"
)

var ErrQueueFull = errors.New("peer: send queue full")

// LinkOptions configures a PeerConn on either side of the link.
type LinkOptions struct {
	Name      string // local display name, sent to the peer
	SendQueue int
	Logger    *zap.SugaredLogger
	Metrics   *LinkMetrics
	Sim       *LinkSim
}

func (o LinkOptions) withDefaults() LinkOptions {
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.Logger == nil {
		o.Logger = logger()
	}
	if o.Metrics == nil {
		o.Metrics = &LinkMetrics{}
	}
	return o
}

// PeerConn is a duel.Transport over one websocket. Reads start once a receive
// callback is registered so no message is lost before the engine is wired.
type PeerConn struct {
	ws       *websocket.Conn
	peerName string
	send     chan []byte
	log      *zap.SugaredLogger
	metrics  *LinkMetrics
	sim      *LinkSim

	recv      atomic.Value // func([]byte)
	ready     chan struct{}
	readyOnce sync.Once

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	onClose   atomic.Value // func(error)
}

func newPeerConn(ws *websocket.Conn, peerName string, opts LinkOptions) *PeerConn {
	opts = opts.withDefaults()
	c := &PeerConn{
		ws:       ws,
		peerName: peerName,
		send:     make(chan []byte, opts.SendQueue),
		log:      opts.Logger.With("peer", peerName, "remote", ws.RemoteAddr().String()),
		metrics:  opts.Metrics,
		sim:      opts.Sim,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.metrics.IncConnect()
	go c.writePump()
	go c.readPump()
	return c
}

// PeerName is the display name the other side announced.
func (c *PeerConn) PeerName() string { return c.peerName }

func (c *PeerConn) Done() <-chan struct{} { return c.done }

// Send queues data for the write pump. It never blocks: a full queue is an error.
func (c *PeerConn) Send(data []byte) error {
	if c.closed.Load() {
		return duel.ErrNotConnected
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return duel.ErrNotConnected
	default:
		c.metrics.IncQueueFull()
		return ErrQueueFull
	}
}

func (c *PeerConn) OnReceive(fn func(data []byte)) {
	c.recv.Store(fn)
	c.readyOnce.Do(func() { close(c.ready) })
}

// OnClose registers fn to run once when the link goes down, with the read or
// write error that ended it (nil after a local Close).
func (c *PeerConn) OnClose(fn func(error)) {
	c.onClose.Store(fn)
}

func (c *PeerConn) IsConnected() bool { return !c.closed.Load() }

func (c *PeerConn) Close() error {
	c.shutdown(nil)
	return c.closeErr
}

func (c *PeerConn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.closeErr = c.ws.Close()
		c.metrics.IncDisconnect()
		if cause != nil {
			c.log.Warnw("peer link lost", "err", cause)
		} else {
			c.log.Infow("peer link closed")
		}
		if fn, _ := c.onClose.Load().(func(error)); fn != nil {
			fn(cause)
		}
	})
}

// writePump owns all writes to the websocket.
func (c *PeerConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-c.send:
			delay, drop := c.sim.next()
			if drop {
				c.metrics.IncSimulatedDrop()
				c.log.Debugw("simulated drop", "bytes", len(msg))
				continue
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-c.done:
					return
				}
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.metrics.IncWriteError()
				c.shutdown(fmt.Errorf("write: %w", err))
				return
			}
			c.metrics.AddSent(len(msg))
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(fmt.Errorf("ping: %w", err))
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump hands every inbound text frame to the receive callback.
func (c *PeerConn) readPump() {
	select {
	case <-c.ready:
	case <-c.done:
		return
	}
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			c.shutdown(err)
			return
		}
		c.metrics.AddReceived(len(payload))
		if fn, _ := c.recv.Load().(func([]byte)); fn != nil {
			fn(payload)
		}
	}
}

// Host accepts the single peer of a match over HTTP. A second peer is refused
// while the first is connected.
type Host struct {
	opts     LinkOptions
	upgrader websocket.Upgrader
	conns    chan *PeerConn

	mu      sync.Mutex
	current *PeerConn
}

func NewHost(opts LinkOptions) *Host {
	return &Host{
		opts: opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// peers on the local network, no browser origin to check
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(chan *PeerConn, 1),
	}
}

// ServeHTTP upgrades /duel?name=alice to a peer link.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "missing name query", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil && h.current.IsConnected() {
		http.Error(w, "match already in progress", http.StatusConflict)
		return
	}

	hdr := http.Header{}
	hdr.Set(nameHeader, h.opts.Name)
	ws, err := h.upgrader.Upgrade(w, r, hdr)
	if err != nil {
		h.opts.Logger.Warnw("upgrade failed", "err", err)
		return
	}
	pc := newPeerConn(ws, name, h.opts)
	h.current = pc
	h.opts.Logger.Infow("peer joined", "peer", name, "remote", r.RemoteAddr)

	select {
	case h.conns <- pc:
	default:
		// nobody is waiting in Accept and an older link is still queued
		select {
		case old := <-h.conns:
			_ = old.Close()
		default:
		}
		h.conns <- pc
	}
}

// Accept waits for the next peer to connect.
func (h *Host) Accept(ctx context.Context) (*PeerConn, error) {
	select {
	case pc := <-h.conns:
		return pc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dial connects to a host at rawURL (ws://host:port/duel) as name.
func Dial(ctx context.Context, rawURL string, opts LinkOptions) (*PeerConn, error) {
	opts = opts.withDefaults()
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	q := u.Query()
	q.Set("name", opts.Name)
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", rawURL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	hostName := resp.Header.Get(nameHeader)
	opts.Logger.Infow("connected to host", "host", hostName, "url", rawURL)
	return newPeerConn(ws, hostName, opts), nil
}

// Busy reports whether a guest is currently connected.
func (h *Host) Busy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil && h.current.IsConnected()
}
