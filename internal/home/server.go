package home

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/qobs-build/qembed/internal/device"
	"github.com/qobs-build/qembed/internal/version"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8008

	// refreshSchedule is when stale cached content is refetched
	refreshSchedule = "@every 1h"
)

// Options configure the home server
type Options struct {
	Host     string
	Port     int
	WWW      string // static files served at /, optional
	LogLevel string
	CacheDir string // empty keeps the content cache in memory

	// RateLimit is the number of RPC calls per second allowed on one
	// connection, zero means the default
	RateLimit float64
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server serves the JSON-RPC endpoint and the static front end
type Server struct {
	opts       Options
	log        *log.Logger
	rpc        *Dispatcher
	cache      *ContentCache
	cron       *cron.Cron
	instanceID string
	index      *template.Template

	fetch     FetchFunc
	listPorts func() ([]device.SerialPort, error)
}

// NewServer prepares a server, the caller must Close it
func NewServer(opts Options) (*Server, error) {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 50
	}
	if opts.LogLevel == "" {
		opts.LogLevel = "info"
	}
	if opts.WWW != "" {
		st, err := os.Stat(opts.WWW)
		if err != nil || !st.IsDir() {
			return nil, fmt.Errorf("www directory %q does not exist", opts.WWW)
		}
	}

	logger := &log.Logger{
		Level:  log.ParseLevel(opts.LogLevel),
		Writer: &log.ConsoleWriter{ColorOutput: true, Writer: os.Stderr},
	}

	s := &Server{
		opts:       opts,
		log:        logger,
		rpc:        NewDispatcher(),
		cron:       cron.New(),
		instanceID: uuid.New().String(),
		index:      indexPage,
		fetch:      FetchContent,
		listPorts:  device.ListSerialPorts,
	}

	cache, err := OpenContentCache(opts.CacheDir, func(ctx context.Context, url string) (string, error) {
		return s.fetch(ctx, url)
	}, logger)
	if err != nil {
		return nil, err
	}
	s.cache = cache

	if _, err := s.cron.AddFunc(refreshSchedule, s.refresh); err != nil {
		cache.Close()
		return nil, fmt.Errorf("failed to schedule content refresh: %w", err)
	}

	s.registerHandlers()
	logger.Debug().Str("instance", s.instanceID).Strs("methods", s.rpc.Methods()).Msg("home server initialized")
	return s, nil
}

func (s *Server) refresh() {
	s.cache.RefreshStale(context.Background())
	if err := s.cache.Purge(); err != nil {
		s.log.Warn().Err(err).Msg("failed to purge content cache")
	}
}

// Close releases the content cache
func (s *Server) Close() error {
	return s.cache.Close()
}

// InstanceID identifies this server run
func (s *Server) InstanceID() string { return s.instanceID }

// Addr is the listen address
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// URL is the address users open in a browser
func URL(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// AlreadyRunning reports whether something listens on host:port
func AlreadyRunning(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/wsrpc", s.serveWS)
	if s.opts.WWW != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.opts.WWW)))
	} else {
		mux.HandleFunc("/", s.serveIndex)
	}
	return s.logRequests(mux)
}

// ListenAndServe serves until ctx is done
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.cron.Start()
	defer s.cron.Stop()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.log.Info().Str("url", URL(s.opts.Host, s.opts.Port)).Msg("home server started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info().Msg("shutting down home server")
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(s.opts.RateLimit), max(1, int(s.opts.RateLimit)))
	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	defer wg.Wait()

	remote := r.RemoteAddr
	s.log.Debug().Str("remote", remote).Msg("websocket connected")
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Str("remote", remote).Msg("websocket closed")
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			resp := s.rpc.Handle(ctx, data)
			s.log.Info().Str("remote", remote).Int("bytes", len(data)).Dur("elapsed", time.Since(start)).Msg("rpc call")
			if resp == nil {
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
				s.log.Warn().Err(err).Str("remote", remote).Msg("failed to write rpc response")
			}
		}()
	}
}

var indexPage = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head><title>qembed home</title></head>
<body>
<h1>qembed home {{ .Version }}</h1>
<p>JSON-RPC 2.0 over WebSocket at <code>/wsrpc</code>, instance <code>{{ .Instance }}</code>.</p>
<ul>
{{ range .Methods }}<li><code>{{ . }}</code></li>
{{ end }}</ul>
</body>
</html>
`))

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	var buf bytes.Buffer
	err := s.index.Execute(&buf, map[string]any{
		"Version":  version.Version,
		"Instance": s.instanceID,
		"Methods":  s.rpc.Methods(),
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to render index page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// statusRecorder keeps the response status for the request log
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
