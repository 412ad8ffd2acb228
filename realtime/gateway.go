package realtime

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/tomasen/realip"

	"github.com/ghyeongl/scribe-relay/logging"
)

// DefaultPath is where clients open the real-time channel.
const DefaultPath = "/ws"

// Gateway upgrades requests on its path and hands the connection to the
// registry. Requests on any other path are refused.
type Gateway struct {
	path     string
	reg      *Registry
	upgrader websocket.Upgrader
}

// NewGateway creates a gateway serving path.
func NewGateway(path string, reg *Registry) *Gateway {
	if path == "" {
		path = DefaultPath
	}
	return &Gateway{
		path: path,
		reg:  reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Path returns the designated upgrade path.
func (g *Gateway) Path() string { return g.path }

// ServeHTTP handles one upgrade request and blocks for the connection's lifetime.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l := logging.Sub("gateway")
	if r.URL.Path != g.path {
		l.Warn("upgrade on wrong path rejected", "path", r.URL.Path, "remote", realip.FromRequest(r))
		g.reject(w, r)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered with an HTTP error.
		l.Warn("upgrade failed", "remote", realip.FromRequest(r), "err", err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	c := NewConn(ws, realip.FromRequest(r))
	if err := g.reg.Add(c); err != nil {
		l.Error("register connection", "conn", c.ID(), "err", err)
		c.Close()
		return
	}

	err = c.readLoop()
	if err != nil && !isCloseError(err) {
		l.Debug("read loop ended", "conn", c.ID(), "err", err)
	}
	g.reg.Remove(c)
	c.Close()
}

// reject drops the underlying TCP connection without a response. Writers
// that cannot be hijacked get a plain 404.
func (g *Gateway) reject(w http.ResponseWriter, r *http.Request) {
	if hj, ok := w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			conn.Close() //nolint:errcheck
			return
		}
	}
	http.NotFound(w, r)
}
