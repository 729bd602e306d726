// Package httpapi exposes a read-only admin API for a database handle.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"litedb/internal/platform/sqlite"
	"litedb/internal/shared"
)

// Config holds dependencies of the API.
type Config struct {
	DB       *sqlite.DB
	Logger   *slog.Logger
	Gatherer prometheus.Gatherer
	// DumpInterval limits how often one client may request /dump (0 disables the limit)
	DumpInterval time.Duration
}

// Handler serves the admin API.
type Handler struct {
	db      *sqlite.DB
	log     *slog.Logger
	limiter *RateLimiter
	engine  *gin.Engine
}

// New builds the gin router with all routes registered.
func New(cfg Config) *Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		db:      cfg.DB,
		log:     log.With("component", "httpapi"),
		limiter: NewRateLimiter(cfg.DumpInterval),
	}

	r := gin.New()
	r.Use(gin.Recovery(), h.logRequests)
	r.GET("/healthz", h.health)
	r.GET("/tables", h.listTables)
	r.GET("/tables/:name", h.inspectTable)
	r.GET("/dump", h.limiter.Middleware, h.dump)
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	h.engine = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.engine.ServeHTTP(w, r)
}

func (h *Handler) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	h.log.Debug("request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.FullPath()),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("duration", time.Since(start)))
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status        string   `json:"status"`
	Path          string   `json:"path"`
	InMemory      bool     `json:"in_memory"`
	ReadOnly      bool     `json:"read_only"`
	InTransaction bool     `json:"in_transaction"`
	Problems      []string `json:"problems,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// TablesResponse is the body of GET /tables.
type TablesResponse struct {
	Tables []string `json:"tables"`
}

// TableResponse is the body of GET /tables/:name.
type TableResponse struct {
	Table   string              `json:"table"`
	Columns []sqlite.ColumnInfo `json:"columns"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (h *Handler) health(c *gin.Context) {
	resp := HealthResponse{
		Status:        "ok",
		Path:          h.db.Path(),
		InMemory:      h.db.InMemory(),
		ReadOnly:      h.db.ReadOnly(),
		InTransaction: h.db.InTransaction(),
	}
	if err := h.db.Ping(c.Request.Context()); err != nil {
		resp.Status = "unavailable"
		resp.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	if c.Query("check") == "quick" {
		problems, err := h.db.QuickCheck(c.Request.Context())
		if err != nil {
			h.fail(c, err)
			return
		}
		if len(problems) > 0 {
			resp.Status = "corrupt"
			resp.Problems = problems
			c.JSON(http.StatusInternalServerError, resp)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listTables(c *gin.Context) {
	tables, err := h.db.ListTables(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, TablesResponse{Tables: tables})
}

func (h *Handler) inspectTable(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	columns, err := h.db.Inspect(ctx, name)
	if errors.Is(err, sqlite.ErrTableNotFound) {
		body := ErrorResponse{Error: err.Error(), Kind: shared.KindNotFound.String()}
		if s, ok, sErr := h.db.SuggestTable(ctx, name); sErr == nil && ok {
			body.Suggestion = s
		}
		c.JSON(http.StatusNotFound, body)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, TableResponse{Table: name, Columns: columns})
}

func (h *Handler) dump(c *gin.Context) {
	// the dump is spooled to a temp file so the write lock is not held
	// while a slow client reads the response
	f, err := os.CreateTemp("", "litedb-dump-*.sql")
	if err != nil {
		h.fail(c, err)
		return
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	if err := h.db.DumpTo(c.Request.Context(), f); err != nil {
		h.fail(c, err)
		return
	}
	size, err := f.Seek(0, io.SeekCurrent)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.DataFromReader(http.StatusOK, size, "application/sql; charset=utf-8", f, nil)
}

func (h *Handler) fail(c *gin.Context, err error) {
	err = sqlite.Classify(err)
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Kind: shared.KindOf(err).String()})
}

// StatusFor maps an error to the HTTP status by its shared.Kind.
func StatusFor(err error) int {
	switch shared.KindOf(err) {
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindBusy:
		return http.StatusServiceUnavailable
	case shared.KindMisuse:
		return http.StatusConflict
	case shared.KindCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// RateLimiter restricts request frequency per client IP.
type RateLimiter struct {
	mu    sync.Mutex
	last  map[string]time.Time
	rate  time.Duration
	now   func() time.Time
	swept time.Time
}

// NewRateLimiter creates limiter with given rate; zero rate allows everything.
func NewRateLimiter(rate time.Duration) *RateLimiter {
	return &RateLimiter{last: make(map[string]time.Time), rate: rate, now: time.Now}
}

// Allow returns false if the client hits the limit.
func (r *RateLimiter) Allow(client string) bool {
	if r.rate <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.evict(now)
	if t, ok := r.last[client]; ok && now.Sub(t) < r.rate {
		return false
	}
	r.last[client] = now
	return true
}

// Len returns the number of clients currently tracked.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.last)
}

// evict drops clients whose window has passed, at most once per rate.
func (r *RateLimiter) evict(now time.Time) {
	if now.Sub(r.swept) < r.rate {
		return
	}
	r.swept = now
	for client, t := range r.last {
		if now.Sub(t) >= r.rate {
			delete(r.last, client)
		}
	}
}

// Middleware rejects requests over the limit with 429.
func (r *RateLimiter) Middleware(c *gin.Context) {
	if !r.Allow(c.ClientIP()) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many requests", Kind: shared.KindBusy.String()})
		return
	}
	c.Next()
}

// writeTimeout bounds one response, including a full /dump download.
const writeTimeout = 5 * time.Minute

// Serve runs an HTTP server for handler until ctx is canceled, then shuts it down
// with the given grace period.
func Serve(ctx context.Context, addr string, handler http.Handler, grace time.Duration, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
