// internal/server/mux.go
// Package server implements the HTTP handlers and routing for the
// StyleVault service. Entity reads and writes go through the sync
// coordinator, never directly to either store; gallery and usage calls go
// straight to the remote store since they are never cached locally.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/stylevault/stylevault-go/internal/auth"
	sverrors "github.com/stylevault/stylevault-go/internal/errors"
	"github.com/stylevault/stylevault-go/internal/media"
	"github.com/stylevault/stylevault-go/internal/metrics"
	"github.com/stylevault/stylevault-go/internal/remote"
	"github.com/stylevault/stylevault-go/internal/stylist"
	"github.com/stylevault/stylevault-go/internal/sync"
)

// ContextKey is used for context values to avoid collisions.
type ContextKey string

const (
	ContextKeyUserID        ContextKey = "userId"        // Stores the user ID from the JWT
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking
)

// Options carries the optional dependencies of the mux.
type Options struct {
	Media              *media.S3Client // Nil disables image persistence
	Stylist            stylist.Client  // Nil disables stylist endpoints
	StylistRateLimit   int             // Stylist requests per minute per user
	CORSAllowedOrigins []string        // Allowed origins for CORS (empty means deny all)
	Logger             *slog.Logger
}

// Mux handles HTTP requests for the StyleVault service.
type Mux struct {
	mux      *http.ServeMux
	coord    *sync.Coordinator
	remote   remote.Client
	media    *media.S3Client
	stylist  stylist.Client
	verifier *auth.Verifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	corsAllowedOrigins []string

	// Users whose first request already triggered the login merge
	seenMu gosync.Mutex
	seen   map[string]bool

	// Per-user stylist rate limiters
	limiterMu    gosync.Mutex
	limiters     map[string]*rate.Limiter
	stylistRate  rate.Limit
	stylistBurst int
}

// NewMux creates the service mux with all endpoints registered.
func NewMux(coord *sync.Coordinator, rc remote.Client, verifier *auth.Verifier, opts Options) *http.ServeMux {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StylistRateLimit <= 0 {
		opts.StylistRateLimit = 10
	}

	m := &Mux{
		mux:                http.NewServeMux(),
		coord:              coord,
		remote:             rc,
		media:              opts.Media,
		stylist:            opts.Stylist,
		verifier:           verifier,
		metrics:            metrics.NewMetrics(),
		logger:             opts.Logger,
		corsAllowedOrigins: opts.CORSAllowedOrigins,
		seen:               make(map[string]bool),
		limiters:           make(map[string]*rate.Limiter),
		stylistRate:        rate.Limit(float64(opts.StylistRateLimit) / 60.0),
		stylistBurst:       opts.StylistRateLimit,
	}

	// Health and observability endpoints
	m.mux.HandleFunc("/healthz", m.handleHealthz)
	m.mux.HandleFunc("/readyz", m.handleReadyz)
	m.mux.Handle("/metrics", promhttp.Handler())

	// Synced entities, through the coordinator
	m.mux.HandleFunc("GET /v1/profile", m.withMiddleware(m.handleGetProfile))
	m.mux.HandleFunc("PUT /v1/profile", m.withMiddleware(m.handlePutProfile))
	m.mux.HandleFunc("GET /v1/wardrobe", m.withMiddleware(m.handleGetWardrobe))
	m.mux.HandleFunc("POST /v1/wardrobe", m.withMiddleware(m.handleAddWardrobeItem))
	m.mux.HandleFunc("PUT /v1/wardrobe/{id}", m.withMiddleware(m.handleUpdateWardrobeItem))
	m.mux.HandleFunc("DELETE /v1/wardrobe/{id}", m.withMiddleware(m.handleDeleteWardrobeItem))
	m.mux.HandleFunc("GET /v1/chat", m.withMiddleware(m.handleGetChat))
	m.mux.HandleFunc("PUT /v1/chat", m.withMiddleware(m.handlePutChat))

	// Sync control
	m.mux.HandleFunc("POST /v1/sync", m.withMiddleware(m.handleSyncNow))
	m.mux.HandleFunc("GET /v1/sync/status", m.withMiddleware(m.handleSyncStatus))

	// Remote-only surfaces
	m.mux.HandleFunc("GET /v1/gallery", m.withMiddleware(m.handleListGallery))
	m.mux.HandleFunc("POST /v1/gallery", m.withMiddleware(m.handleAddGalleryItem))
	m.mux.HandleFunc("DELETE /v1/gallery/{id}", m.withMiddleware(m.handleDeleteGalleryItem))
	m.mux.HandleFunc("GET /v1/usage/{type}", m.withMiddleware(m.handleGetUsage))

	// Stylist proxy
	m.mux.HandleFunc("POST /v1/stylist/chat", m.withMiddleware(m.withStylistLimit(m.handleStylistChat)))
	m.mux.HandleFunc("POST /v1/stylist/analyze", m.withMiddleware(m.withStylistLimit(m.handleStylistAnalyze)))
	m.mux.HandleFunc("POST /v1/stylist/profile", m.withMiddleware(m.withStylistLimit(m.handleStylistProfile)))
	m.mux.HandleFunc("POST /v1/stylist/tryon", m.withMiddleware(m.withStylistLimit(m.handleStylistTryOn)))

	return m.mux
}

// withMiddleware applies CORS, correlation IDs, JWT authentication, request
// logging and HTTP metrics to a handler. The verified user's first request
// triggers the coordinator's merge-on-login for that user.
func (m *Mux) withMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		m.applyCORS(w, r)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID))
		w.Header().Set("X-Correlation-Id", correlationID)

		uid, err := m.authenticate(r)
		if err != nil {
			m.writeError(w, err, correlationID)
			m.logRequest(r, httpStatus(err), time.Since(start), correlationID, err)
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyUserID, uid))
		m.ensureSynced(r.Context(), uid)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		m.recordMetrics(r, sw.status, time.Since(start))
		m.logRequest(r, sw.status, time.Since(start), correlationID, nil)
	}
}

// ensureSynced runs the merge-on-login reconciliation the first time a
// user reaches the service. Identity stays request-scoped: no global
// session state is touched, so concurrent users cannot cross partitions.
func (m *Mux) ensureSynced(ctx context.Context, uid string) {
	m.seenMu.Lock()
	if m.seen[uid] {
		m.seenMu.Unlock()
		return
	}
	m.seen[uid] = true
	m.seenMu.Unlock()

	if err := m.coord.ForUser(uid).SyncFromCloud(ctx); err != nil {
		m.logger.Warn("login sync incomplete", "user", uid, "error", err)
	}
}

// withStylistLimit applies the per-user rate limit to stylist endpoints.
func (m *Mux) withStylistLimit(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.stylist == nil {
			m.writeError(w, sverrors.New(sverrors.SV_UNAVAILABLE, "stylist is not configured"), correlationIDFrom(r))
			return
		}
		uid, _ := r.Context().Value(ContextKeyUserID).(string)
		if !m.limiterFor(uid).Allow() {
			m.writeError(w, sverrors.New(sverrors.SV_RATE_LIMIT, "too many stylist requests"), correlationIDFrom(r))
			return
		}
		h(w, r)
	}
}

// limiterFor returns the rate limiter for a user, creating it on first use.
func (m *Mux) limiterFor(uid string) *rate.Limiter {
	m.limiterMu.Lock()
	defer m.limiterMu.Unlock()
	l, ok := m.limiters[uid]
	if !ok {
		l = rate.NewLimiter(m.stylistRate, m.stylistBurst)
		m.limiters[uid] = l
	}
	return l
}

// authenticate validates the bearer token and returns the subject user ID.
func (m *Mux) authenticate(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", sverrors.New(sverrors.SV_AUTHN, "missing Authorization header")
	}
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return "", sverrors.New(sverrors.SV_AUTHN, "invalid Authorization header format")
	}
	return m.verifier.Verify(r.Context(), tokenString)
}

// applyCORS sets response CORS headers when the origin is allowed.
func (m *Mux) applyCORS(w http.ResponseWriter, r *http.Request) {
	if len(m.corsAllowedOrigins) == 0 {
		return
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	for _, allowed := range m.corsAllowedOrigins {
		if allowed == "*" || allowed == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Correlation-Id")
			w.Header().Set("Access-Control-Max-Age", "86400")
			return
		}
	}
}

// statusWriter records the response status for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// userID extracts the authenticated user from the request context.
func userID(r *http.Request) string {
	uid, _ := r.Context().Value(ContextKeyUserID).(string)
	return uid
}

func correlationIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(ContextKeyCorrelationID).(string)
	return id
}

// writeSuccess writes a successful response wrapped in a data envelope.
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

// writeError writes an error response following the service error taxonomy.
func (m *Mux) writeError(w http.ResponseWriter, err error, correlationID string) {
	var svErr *sverrors.Error
	if !errors.As(err, &svErr) {
		svErr = sverrors.Wrap(sverrors.SV_INTERNAL, "internal error", err)
	}
	svErr = svErr.WithCorrelation(correlationID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(svErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": svErr})
}

func httpStatus(err error) int {
	var svErr *sverrors.Error
	if errors.As(err, &svErr) {
		return svErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

func (m *Mux) recordMetrics(r *http.Request, status int, duration time.Duration) {
	labels := []string{r.Method, r.URL.Path, http.StatusText(status)}
	m.metrics.HTTPRequestTotal.WithLabelValues(labels...).Inc()
	m.metrics.HTTPRequestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
}

// logRequest logs request details.
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string, err error) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("correlation_id", correlationID),
	}
	if uid := userID(r); uid != "" {
		attrs = append(attrs, slog.String("user", uid))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		m.logger.LogAttrs(r.Context(), slog.LevelError, "request completed with error", attrs...)
		return
	}
	m.logger.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
}

// handleHealthz handles liveness health check requests.
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz handles readiness health check requests.
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// decodeImagePayload turns a data URI or raw base64 string into bytes and
// a MIME type.
func decodeImagePayload(payload string) ([]byte, string, error) {
	mimeType := "image/jpeg"
	encoded := payload
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", sverrors.New(sverrors.SV_VALIDATION, "malformed data URI")
		}
		if mt, ok := strings.CutSuffix(header, ";base64"); ok && mt != "" {
			mimeType = mt
		}
		encoded = body
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", sverrors.Wrap(sverrors.SV_VALIDATION, "invalid base64 image payload", err)
	}
	return data, mimeType, nil
}
