// Package wsoverlay implements transport.Driver over plain WebSocket
// connections: an HTTP listener accepts inbound peers, and Dial opens
// outbound connections to addrs given as ws(s):// URLs. Every frame is
// a single raw binary message (a codec-encoded envelope); there is no
// JSON wrapping or request/response matching. Pubsub is a small
// in-process topic registry, and Publish writes to every open
// connection.
package wsoverlay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scmessenger/core/internal/logger"
	"github.com/scmessenger/core/internal/transport"
)

const (
	dialTimeout  = 10 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// Overlay is a transport.Driver backed by gorilla/websocket.
type Overlay struct {
	localPeerID string
	listenAddr  string

	upgrader websocket.Upgrader
	log      logger.Logger

	mu           sync.RWMutex
	delegate     transport.Delegate
	peers        map[string]*websocket.Conn
	topics       map[string]bool
	fatalHandler func(reason string)

	httpServer *http.Server
}

// SetFatalHandler installs the callback invoked if the inbound listener
// stops unexpectedly (any error other than a clean Shutdown). MeshService
// wires this to CoreDelegate's StatusEvent::TransportFailure signal; the
// Overlay itself keeps running and accepting new outbound Dials.
func (o *Overlay) SetFatalHandler(fn func(reason string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fatalHandler = fn
}

// New builds an Overlay. listenAddr is the local HTTP listen address
// (e.g. ":4001") that accepts inbound peer connections on "/scmesh".
func New(localPeerID, listenAddr string, log logger.Logger) *Overlay {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Overlay{
		localPeerID: localPeerID,
		listenAddr:  listenAddr,
		log:         log,
		peers:       make(map[string]*websocket.Conn),
		topics:      make(map[string]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Start begins accepting inbound connections on listenAddr.
func (o *Overlay) Start(ctx context.Context, delegate transport.Delegate) error {
	o.mu.Lock()
	o.delegate = delegate
	o.mu.Unlock()

	if o.listenAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/scmesh", o.handleInbound)
	o.httpServer = &http.Server{Addr: o.listenAddr, Handler: mux}

	ln := o.httpServer
	go func() {
		if err := ln.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			o.log.Error("wsoverlay: listener stopped", logger.Error(err))
			o.mu.RLock()
			fn := o.fatalHandler
			o.mu.RUnlock()
			if fn != nil {
				fn(err.Error())
			}
		}
	}()
	return nil
}

// Stop closes the listener and every tracked connection.
func (o *Overlay) Stop(ctx context.Context) error {
	o.mu.Lock()
	peers := o.peers
	o.peers = make(map[string]*websocket.Conn)
	o.mu.Unlock()

	for _, c := range peers {
		_ = c.Close()
	}

	if o.httpServer != nil {
		return o.httpServer.Shutdown(ctx)
	}
	return nil
}

func (o *Overlay) handleInbound(w http.ResponseWriter, r *http.Request) {
	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("wsoverlay: upgrade failed: %v", err), http.StatusBadRequest)
		return
	}

	peerID := r.URL.Query().Get("peer_id")
	if peerID == "" {
		_ = conn.Close()
		return
	}

	o.trackConn(peerID, conn)
	o.notifyPeerEvent(transport.PeerIdentified, transport.PeerInfo{PeerID: peerID})
	go o.readLoop(peerID, conn)
}

// Dial opens an outbound connection to one of addrs, which must be
// ws:// or wss:// URLs. The first successful dial wins.
func (o *Overlay) Dial(ctx context.Context, peerID string, addrs []string) error {
	if o.IsConnected(peerID) {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var lastErr error
	dialer := &websocket.Dialer{HandshakeTimeout: dialTimeout}
	for _, addr := range addrs {
		url := addr + "?peer_id=" + o.localPeerID
		conn, _, err := dialer.DialContext(dialCtx, url, nil)
		if err != nil {
			lastErr = err
			continue
		}
		o.trackConn(peerID, conn)
		o.notifyPeerEvent(transport.PeerIdentified, transport.PeerInfo{PeerID: peerID, Addrs: []string{addr}})
		go o.readLoop(peerID, conn)
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("wsoverlay: no dialable addresses for %s", peerID)
	}
	return fmt.Errorf("wsoverlay: dial %s: %w", peerID, lastErr)
}

func (o *Overlay) trackConn(peerID string, conn *websocket.Conn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if old, ok := o.peers[peerID]; ok && old != conn {
		_ = old.Close()
	}
	o.peers[peerID] = conn
}

func (o *Overlay) readLoop(peerID string, conn *websocket.Conn) {
	defer func() {
		o.mu.Lock()
		if o.peers[peerID] == conn {
			delete(o.peers, peerID)
		}
		o.mu.Unlock()
		_ = conn.Close()
		o.notifyPeerEvent(transport.PeerDisconnected, transport.PeerInfo{PeerID: peerID})
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		o.mu.RLock()
		d := o.delegate
		o.mu.RUnlock()
		if d != nil {
			d.OnDataReceived(peerID, data)
		}
	}
}

func (o *Overlay) notifyPeerEvent(event transport.PeerEvent, peer transport.PeerInfo) {
	o.mu.RLock()
	d := o.delegate
	o.mu.RUnlock()
	if d != nil {
		d.OnPeerEvent(event, peer)
	}
}

// IsConnected reports whether peerID has a live connection.
func (o *Overlay) IsConnected(peerID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.peers[peerID]
	return ok
}

// Send writes data as a single binary frame to peerID.
func (o *Overlay) Send(ctx context.Context, peerID string, data []byte) error {
	o.mu.RLock()
	conn, ok := o.peers[peerID]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("wsoverlay: not connected to %s", peerID)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("wsoverlay: set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		o.mu.Lock()
		if o.peers[peerID] == conn {
			delete(o.peers, peerID)
		}
		o.mu.Unlock()
		return fmt.Errorf("wsoverlay: send to %s: %w", peerID, err)
	}
	return nil
}

// Subscribe, Unsubscribe, and Publish maintain a local topic registry.
// wsoverlay has no native pubsub fabric, so Publish fans out over
// whatever peer connections are currently open, best-effort.
func (o *Overlay) Subscribe(topic string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.topics[topic] = true
	return nil
}

func (o *Overlay) Unsubscribe(topic string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.topics, topic)
	return nil
}

func (o *Overlay) Publish(topic string, data []byte) error {
	o.mu.RLock()
	subscribed := o.topics[topic]
	peers := make([]*websocket.Conn, 0, len(o.peers))
	for _, c := range o.peers {
		peers = append(peers, c)
	}
	o.mu.RUnlock()

	if !subscribed {
		return fmt.Errorf("wsoverlay: publish on unsubscribed topic %q", topic)
	}

	var lastErr error
	for _, c := range peers {
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteMessage(websocket.BinaryMessage, data); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// LocalPeerID returns this overlay's own peer ID.
func (o *Overlay) LocalPeerID() string { return o.localPeerID }
