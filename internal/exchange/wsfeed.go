package exchange

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// fillFeed is a local websocket hub that carries Fill events from
// PushFill to a connected Fills(ctx) reader, grounded on the teacher's
// liveserver hub/upgrader pair: one broadcaster, many registered
// client connections, non-blocking sends to slow readers.
type fillFeed struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan Fill

	listener net.Listener
	server   *http.Server
}

func newFillFeed() (*fillFeed, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("exchange: fill feed listen: %w", err)
	}

	f := &fillFeed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:  make(map[*websocket.Conn]chan Fill),
		listener: ln,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/fills", f.serveWS)
	f.server = &http.Server{Handler: mux}
	go f.server.Serve(ln)

	return f, nil
}

func (f *fillFeed) addr() string {
	return "ws://" + f.listener.Addr().String() + "/fills"
}

func (f *fillFeed) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	out := make(chan Fill, 64)
	f.mu.Lock()
	f.clients[conn] = out
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.clients, conn)
		f.mu.Unlock()
		conn.Close()
	}()

	for fill := range out {
		if err := conn.WriteJSON(fill); err != nil {
			return
		}
	}
}

// broadcast fans fill out to every connected reader, dropping it for
// any reader whose buffer is full rather than blocking the caller.
func (f *fillFeed) broadcast(fill Fill) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.clients {
		select {
		case ch <- fill:
		default:
		}
	}
}

func (f *fillFeed) close() error {
	for conn := range f.clients {
		conn.Close()
	}
	return f.server.Close()
}

// dialFills connects to the feed and decodes incoming frames into a
// Fill channel, closing it when ctx is cancelled or the connection
// drops.
func dialFills(ctx context.Context, addr string) (<-chan Fill, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: dial fill feed: %w", err)
	}

	out := make(chan Fill, 64)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var fill Fill
			if err := conn.ReadJSON(&fill); err != nil {
				return
			}
			select {
			case out <- fill:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return out, nil
}
