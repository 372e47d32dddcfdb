// ============================================================================
// HTTP FRONT DOOR - OSCILLOSCOPE PAGE, STATUS AND SAMPLE STREAM
// ============================================================================
//
// Routes (served on every configured address):
//   - GET /        embedded oscilloscope page
//   - GET /status  latest telemetry snapshot as JSON
//   - GET <path>   WebSocket upgrade, then binary sample frames
//
// Reader ownership:
//   - The ring has exactly one reader handle. It waits in a capacity-1
//     channel; a connection that finds it empty is closed with 1013 (try
//     again later). A finished session puts the handle back so the next
//     browser resumes where the last one stopped.
//
// Handshake:
//   - gorilla/websocket performs the HTTP Upgrade. Afterwards the raw
//     net.Conn is handed to stream.Session, which writes frames itself.

package server

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"voltscope/control"
	"voltscope/debug"
	"voltscope/monitor"
	"voltscope/ring"
	"voltscope/stream"
	"voltscope/types"
	"voltscope/ws"
)

//go:embed web/index.html
var indexSource string

var indexTemplate = template.Must(template.New("index").Parse(indexSource))

// Config describes listeners and per-session settings.
type Config struct {
	HTTPAddrs []string
	WSAddrs   []string
	WSPath    string
	Session   stream.Config

	// WindowSeconds is the time span the page plots.
	WindowSeconds float64
}

// StatusFunc returns the snapshot served on /status.
type StatusFunc func() monitor.Snapshot

// Server multiplexes the page, the status endpoint and the stream.
type Server struct {
	cfg      Config
	readers  chan *ring.Reader[types.Sample]
	flags    *control.Flags
	counters *stream.Counters
	status   StatusFunc
	upgrader websocket.Upgrader
	page     []byte
	mux      *http.ServeMux

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	servers   []*http.Server
	listeners []net.Listener
	sessions  sync.WaitGroup
}

// New prepares a server owning reader. status may be nil.
func New(cfg Config, reader *ring.Reader[types.Sample], flags *control.Flags, counters *stream.Counters, status StatusFunc) (*Server, error) {
	if cfg.WSPath == "" {
		cfg.WSPath = "/ws"
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 4
	}
	if counters == nil {
		counters = &stream.Counters{}
	}

	page, err := renderIndex(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		readers:  make(chan *ring.Reader[types.Sample], 1),
		flags:    flags,
		counters: counters,
		status:   status,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true }, // page and stream use different ports
		},
		page:   page,
		ctx:    ctx,
		cancel: cancel,
	}
	s.readers <- reader

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc(cfg.WSPath, s.handleStream)
	return s, nil
}

// renderIndex fills in the stream port and path the page connects to.
func renderIndex(cfg Config) ([]byte, error) {
	port := "80"
	if len(cfg.WSAddrs) > 0 {
		_, p, err := net.SplitHostPort(cfg.WSAddrs[0])
		if err != nil {
			return nil, fmt.Errorf("server: websocket address %q: %w", cfg.WSAddrs[0], err)
		}
		port = p
	}

	var buf bytes.Buffer
	err := indexTemplate.Execute(&buf, struct {
		Port          string
		Path          string
		WindowSeconds float64
	}{port, cfg.WSPath, cfg.WindowSeconds})
	if err != nil {
		return nil, fmt.Errorf("server: render page: %w", err)
	}
	return buf.Bytes(), nil
}

// Handler serves every route.
func (s *Server) Handler() http.Handler { return s.mux }

// ReaderAvailable reports whether a new connection would get the stream.
func (s *Server) ReaderAvailable() bool { return len(s.readers) == 1 }

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed.", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.Error(w, "Could not find the resource.", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(s.page)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed.", http.StatusMethodNotAllowed)
		return
	}
	var snap monitor.Snapshot
	if s.status != nil {
		snap = s.status()
	} else {
		c := s.counters.Snapshot()
		snap = monitor.Snapshot{
			Time:     time.Now().UTC(),
			Sessions: c.Sessions,
			Active:   c.Active,
			Frames:   c.Frames,
			Bytes:    c.Bytes,
			Streamed: c.Samples,
		}
	}
	body, err := sonnet.Marshal(snap)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.DropError("UPGRADE", err)
		return
	}
	nc := conn.NetConn()
	defer nc.Close()

	var reader *ring.Reader[types.Sample]
	select {
	case reader = <-s.readers:
	default:
	}
	if reader == nil {
		_ = nc.SetWriteDeadline(time.Now().Add(time.Second))
		_ = ws.WriteClose(nc, ws.CloseTryAgain)
		debug.DropAttrs("SESSION", "event", "busy", "remote", r.RemoteAddr)
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	sess := stream.NewSession(nc, reader, s.cfg.Session, s.flags, s.counters)
	debug.DropAttrs("SESSION", "event", "open", "id", sess.ID.String(), "remote", r.RemoteAddr)

	err = sess.Run(s.ctx)
	_ = nc.Close()
	s.readers <- reader

	if err != nil && !errors.Is(err, context.Canceled) {
		debug.DropError("SESSION", fmt.Errorf("%s: %w", sess.ID, err))
	}
	debug.DropAttrs("SESSION", "event", "closed", "id", sess.ID.String())
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start listens on the union of the page and stream addresses.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for _, addr := range append(append([]string(nil), s.cfg.HTTPAddrs...), s.cfg.WSAddrs...) {
		if seen[addr] {
			continue
		}
		seen[addr] = true

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.closeLocked()
			return fmt.Errorf("server: listen %s: %w", addr, err)
		}
		srv := &http.Server{
			Handler:           s.mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.listeners = append(s.listeners, ln)
		s.servers = append(s.servers, srv)

		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				debug.DropError("HTTP", err)
			}
		}()
		debug.DropAttrs("HTTP", "event", "listening", "addr", ln.Addr().String())
	}
	return nil
}

// Addrs lists the bound listener addresses.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]net.Addr, len(s.listeners))
	for i, ln := range s.listeners {
		out[i] = ln.Addr()
	}
	return out
}

func (s *Server) closeLocked() {
	for _, srv := range s.servers {
		_ = srv.Close()
	}
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	s.servers, s.listeners = nil, nil
}

// Shutdown stops accepting, ends running sessions and waits for them until
// ctx expires. Sessions see 1001 (going away) when control.Flags.Shutdown
// was triggered first; otherwise they are cancelled without a close frame.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.flags.Stopping() {
		s.cancel()
	}

	s.mu.Lock()
	servers := s.servers
	s.mu.Unlock()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	// Hijacked connections are invisible to http.Server.Shutdown.
	waited := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		s.cancel()
		<-waited
	}
	s.cancel()
	return errors.Join(errs...)
}
