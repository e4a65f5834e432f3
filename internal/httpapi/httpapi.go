// Package httpapi is the HTTP surface over the review workflow, the query
// facade and the change stream. Transport concerns only: authentication of
// the bearer token, JSON codecs, status mapping. All business rules live
// behind the service and facade.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"reviewhub.org/internal/auth"
	"reviewhub.org/internal/obs"
	"reviewhub.org/internal/query"
	"reviewhub.org/internal/review"
	"reviewhub.org/internal/stream"
)

// ReadyProbe reports readiness, typically a database ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Credentials resolves a login to its stored password hash for token
// issuance.
type Credentials interface {
	CredentialsByLogin(ctx context.Context, login string) (auth.User, string, error)
}

// Request throttling defaults, per client IP. The body cap matches what
// decodeJSON enforces per endpoint.
const (
	defaultRateBurst     = 100
	defaultRatePerSecond = 50
	maxRequestBodyBytes  = 1 << 20
)

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	service     *review.Service
	facade      *query.Facade
	hub         *stream.Hub
	credentials Credentials

	rateBurst     int
	ratePerSecond int
}

// Config carries the wired dependencies of the HTTP layer.
type Config struct {
	ReadyProbe  ReadyProbe
	Version     string
	Service     *review.Service
	Facade      *query.Facade
	Hub         *stream.Hub
	Credentials Credentials

	// Zero values fall back to the package defaults.
	RateBurst     int
	RatePerSecond int
}

func New(cfg Config) *API {
	a := &API{
		mux:         http.NewServeMux(),
		readyProbe:  cfg.ReadyProbe,
		version:     cfg.Version,
		service:     cfg.Service,
		facade:      cfg.Facade,
		hub:         cfg.Hub,
		credentials: cfg.Credentials,

		rateBurst:     cfg.RateBurst,
		ratePerSecond: cfg.RatePerSecond,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = defaultRateBurst
	}
	if a.ratePerSecond <= 0 {
		a.ratePerSecond = defaultRatePerSecond
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/records", a.handleRecordsCollection)
	a.mux.HandleFunc("/v1/records/bulk", a.handleBulkChange)
	a.mux.HandleFunc("/v1/records/", a.handleRecordResource)
	a.mux.HandleFunc("/v1/comments/", a.handleCommentResource)
	a.mux.HandleFunc("/v1/pull", a.handlePull)
	a.mux.HandleFunc("/v1/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler chain. RateLimit sits inside
// RequestID so a throttled response still carries its request id.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, maxRequestBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSecond)
	h = RequestID(h)
	h = Logging(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleReviewError maps the workflow error kinds onto HTTP statuses.
func handleReviewError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, review.ErrInvalidArgument):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, review.ErrAuthenticationRequired):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, review.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, review.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// --- infra handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "reviewhub-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
