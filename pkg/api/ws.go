package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"ardupilot-manager/pkg/model"
)

const watchWriteTimeout = 5 * time.Second

// WatchHub streams the live endpoint set to websocket clients. Each client
// gets the current set on connect and every change after that.
type WatchHub struct {
	upgrader websocket.Upgrader
	mgr      Manager
	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
}

func NewWatchHub(mgr Manager) *WatchHub {
	return &WatchHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mgr:   mgr,
		conns: map[*websocket.Conn]struct{}{},
	}
}

// HandleWatch upgrades the request and pushes endpoint updates until the
// client goes away.
func (h *WatchHub) HandleWatch(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("[api]ws upgrade failed: %v", err)
		return
	}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	glog.Infof("[api]watcher connected from %s", r.RemoteAddr)

	updates, cancel := h.mgr.Subscribe()
	closed := make(chan struct{})
	go h.readLoop(c, closed)
	go func() {
		defer func() {
			cancel()
			h.closeConn(c)
		}()
		if err := h.send(c, h.mgr.GetEndpoints()); err != nil {
			return
		}
		for {
			select {
			case <-closed:
				return
			case set := <-updates:
				if err := h.send(c, set); err != nil {
					return
				}
			}
		}
	}()
}

// Count reports the connected watchers.
func (h *WatchHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every watcher.
func (h *WatchHub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.closeConn(c)
	}
}

func (h *WatchHub) send(c *websocket.Conn, set model.EndpointSet) error {
	_ = c.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
	err := c.WriteJSON(WatchMessage{Type: "endpoints", Endpoints: set.Sorted()})
	if err != nil {
		glog.Warningf("[api]watch send failed: %v", err)
	}
	return err
}

// readLoop drains client frames so close messages are processed.
func (h *WatchHub) readLoop(c *websocket.Conn, closed chan struct{}) {
	defer close(closed)
	for {
		if _, _, err := c.NextReader(); err != nil {
			return
		}
	}
}

func (h *WatchHub) closeConn(c *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if !ok {
		return
	}
	_ = c.Close()
	glog.Infof("[api]watcher disconnected")
}
