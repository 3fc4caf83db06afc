package service

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/synadia-labs/cloudgoat-gateway/internal/config"
)

type RequestId string

const (
	RequestIdKey    RequestId = "request_id"
	RequestIdHeader           = "X-Request-Id"
)

//go:embed static/index.html
var indexHTML []byte

type Middleware func(http.Handler) http.Handler

type HTTPServer interface {
	Start() error
	Shutdown(ctx context.Context) error
	Handler() http.Handler
}

type httpServer struct {
	server *http.Server
}

func (s *httpServer) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server started")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *httpServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *httpServer) Handler() http.Handler {
	return s.server.Handler
}

func NewHTTPServer(cfg *config.HttpConfig, gw Gateway) HTTPServer {
	port := cfg.Port
	if port == "" {
		port = config.DefaultHttpPort
	}

	middlewares := []Middleware{requestIdMiddleware, logMiddleware, metricsMiddleware}

	mux := http.NewServeMux()

	middleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Apply middlewares in reverse order so they execute in the correct sequence
			handler := next
			for i := len(middlewares) - 1; i >= 0; i-- {
				handler = middlewares[i](handler)
			}
			handler.ServeHTTP(w, r)
		})
	}

	// index
	var index http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(indexHTML)
	})
	mux.Handle("GET /{$}", middleware(index))

	// ping
	var ping http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("PONG"))
	})
	mux.Handle("GET /ping", middleware(ping))

	// scenarios
	var scenarios http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, gw.Scenarios())
	})
	mux.Handle("GET /scenarios", middleware(scenarios))

	// create
	var create http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ScenarioRequest
		if !decodeRequest(w, r, &req, `{"scenario": "string"}`) {
			return
		}
		res, err := gw.Create(detach(r), req.Scenario)
		writeCommandResult(w, res, err)
	})
	mux.Handle("POST /create", middleware(create))

	// destroy
	var destroy http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ScenarioRequest
		if !decodeRequest(w, r, &req, `{"scenario": "string"}`) {
			return
		}
		res, err := gw.Destroy(detach(r), req.Scenario)
		writeCommandResult(w, res, err)
	})
	mux.Handle("POST /destroy", middleware(destroy))

	// whitelist
	var whitelist http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req WhitelistRequest
		if !decodeRequest(w, r, &req, `{"ip": "string"}`) {
			return
		}
		res, err := gw.Whitelist(detach(r), req.IP)
		writeCommandResult(w, res, err)
	})
	mux.Handle("POST /whitelist", middleware(whitelist))

	mux.Handle("GET /metrics", promhttp.Handler())

	return &httpServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%s", port),
			Handler:           corsMiddleware(cfg.CorsOrigins)(mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Only the per-call timeout may stop the tool, a client hanging up does not.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func decodeRequest(w http.ResponseWriter, r *http.Request, v any, format string) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &CommandResult{
			Success: false,
			Output:  fmt.Sprintf("expected request format is %s", format),
		})
		return false
	}
	return true
}

func writeCommandResult(w http.ResponseWriter, res *CommandResult, err error) {
	status := http.StatusOK
	switch {
	case errors.Is(err, ErrInvalidInput):
		status = http.StatusBadRequest
	case err != nil:
		status = http.StatusInternalServerError
		res = &CommandResult{Success: false, Output: err.Error()}
	case !res.Success:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encode error")
	}
}

func requestId(ctx context.Context) string {
	id, _ := ctx.Value(RequestIdKey).(string)
	return id
}

// Unique ID for each request
func requestIdMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set(RequestIdHeader, id)
		ctx := context.WithValue(r.Context(), RequestIdKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func record(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w}
}

func (s *statusRecorder) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

// Log requests
func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := record(w)
		next.ServeHTTP(rec, r)

		status := rec.Status()
		event := log.Info()
		if status >= 500 {
			event = log.Error()
		} else if status >= 400 {
			event = log.Warn()
		}
		event.
			Str("request_id", requestId(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Int("bytes", rec.bytes).
			Msg("http_request")
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := record(w)
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = r.URL.Path
		}
		RecordHTTPRequest(r.Method, path, rec.Status(), time.Since(start))
	})
}

// Allow browser callers from the configured origins, "*" allows any.
// Requested headers are reflected on preflight.
func corsMiddleware(origins []string) Middleware {
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{RequestIdHeader},
	})
	return c.Handler
}
