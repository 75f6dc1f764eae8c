// Package httpapi serves health, metrics and action plans over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bilalbayram/adplan/internal/domain"
	"github.com/bilalbayram/adplan/internal/observability"
	"github.com/bilalbayram/adplan/internal/output"
	"github.com/bilalbayram/adplan/internal/plan"
)

const reportCommand = "GET /v1/profiles/{profile}/report"

// ErrUnknownProfile marks a profile name the server cannot map to an account.
var ErrUnknownProfile = errors.New("unknown profile")

type Reporter interface {
	Build(ctx context.Context, req plan.ReportRequest) (*plan.Report, error)
}

// AccountResolver maps a profile name to its account id. It returns an error
// wrapping ErrUnknownProfile for names it does not know.
type AccountResolver func(profile string) (string, error)

type Server struct {
	Reports  Reporter
	Accounts AccountResolver
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

func NewRouter(server *Server) http.Handler {
	logger := observability.OrDiscard(server.Logger)
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(requestLogger(logger))

	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if server.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", server.Metrics.Handler())
	}
	mux.Get("/v1/profiles/{profile}/report", server.handleReport)
	return mux
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	profile := chi.URLParam(r, "profile")
	accountID, err := s.Accounts(profile)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownProfile) {
			status = http.StatusNotFound
		}
		writeError(w, status, "profile_error", err)
		return
	}

	query := r.URL.Query()
	req := plan.ReportRequest{AccountID: accountID}
	if raw := strings.TrimSpace(query.Get("as_of")); raw != "" {
		asOf, err := domain.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err)
			return
		}
		req.AsOf = asOf
	}
	req.Windows, err = plan.ParseWindowLengths(query.Get("windows"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	format := strings.ToLower(strings.TrimSpace(query.Get("format")))
	if format != "" && format != "json" && format != "markdown" {
		writeError(w, http.StatusBadRequest, "invalid_request", errors.New("format must be json or markdown"))
		return
	}

	report, err := s.Reports.Build(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "report_error", err)
		return
	}
	if format == "markdown" {
		markdown, err := plan.RenderMarkdown(report)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "render_error", err)
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(markdown))
		return
	}
	writeJSON(w, http.StatusOK, output.NewEnvelope(reportCommand, true, report, nil, nil))
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, output.NewEnvelope(reportCommand, false, nil, nil, &output.ErrorInfo{
		Type:       kind,
		StatusCode: status,
		Message:    err.Error(),
		Retryable:  status >= http.StatusInternalServerError,
	}))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(started),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
