package proposal

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/rfpgen/shield"
	"github.com/hazyhaar/rfpgen/uploadsafe"
)

// RootMessage is returned by GET /.
const RootMessage = "RFP → Proposal API running"

// multipartOverhead is added to the upload cap to leave room for part
// headers and boundaries.
const multipartOverhead = 64 << 10

// HandlerConfig configures the HTTP surface.
type HandlerConfig struct {
	// MaxUploadBytes caps the upload route and /mcp bodies. Default: the
	// service's MaxUpload.
	MaxUploadBytes int64
	AllowedOrigins []string
	// UploadsPerMinute limits POST /api/rfps/upload and MCPRequestsPerMinute
	// POST /mcp, per client IP. 0 disables. Both are ignored when Limiter is set.
	UploadsPerMinute     int
	MCPRequestsPerMinute int
	Limiter          *shield.RateLimiter
	// TrustedProxies may set X-Forwarded-For. Default: none.
	TrustedProxies shield.TrustedProxies
	// MCP, when non-nil, is mounted at /mcp.
	MCP    http.Handler
	Logger *slog.Logger
}

// Handler builds the chi router for svc.
func Handler(svc *Service, cfg HandlerConfig) http.Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = svc.MaxUpload()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &httpHandler{svc: svc, maxUpload: cfg.MaxUploadBytes}

	r := chi.NewRouter()
	for _, mw := range shield.APIStack(shield.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: cfg.TrustedProxies,
		Logger:         cfg.Logger,
	}) {
		r.Use(mw)
	}

	r.Get("/", h.root)
	r.Get("/test", h.health)

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = RouteLimiter(RateLimitConfig{
			UploadsPerMinute:     cfg.UploadsPerMinute,
			MCPRequestsPerMinute: cfg.MCPRequestsPerMinute,
		}, cfg.TrustedProxies, cfg.Logger)
	}

	r.Route("/api", func(r chi.Router) {
		r.With(limiter.Middleware, shield.MaxBody(cfg.MaxUploadBytes+multipartOverhead)).
			Post("/rfps/upload", h.upload)
		r.Get("/rfps", h.listRFPs)
		r.Get("/rfps/{id}", h.getRFP)
		r.Get("/proposals/{id}", h.getProposal)
	})

	if cfg.MCP != nil {
		// rfp_upload carries file bytes as base64.
		mcpMax := int64(base64.StdEncoding.EncodedLen(int(cfg.MaxUploadBytes))) + multipartOverhead
		r.With(limiter.Middleware, shield.MaxBody(mcpMax)).Handle("/mcp", cfg.MCP)
	}
	return r
}

// RouteLimiter returns the per-IP limiter for the upload and MCP routes.
// Client IPs are taken from X-Forwarded-For only behind one of proxies.
func RouteLimiter(cfg RateLimitConfig, proxies shield.TrustedProxies, logger *slog.Logger) *shield.RateLimiter {
	return shield.NewRateLimiter(map[string]shield.RateLimitRule{
		"POST /api/rfps/upload": {MaxRequests: cfg.UploadsPerMinute, Window: time.Minute},
		"POST /mcp":             {MaxRequests: cfg.MCPRequestsPerMinute, Window: time.Minute},
	}, logger, shield.WithTrustedProxies(proxies))
}

type httpHandler struct {
	svc       *Service
	maxUpload int64
}

func (h *httpHandler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": RootMessage})
}

func (h *httpHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health(r.Context()))
}

func (h *httpHandler) upload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		switch {
		case shield.IsTooLarge(err):
			writeDetail(w, http.StatusRequestEntityTooLarge, "Upload too large")
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			writeDetail(w, http.StatusUnprocessableEntity, "Field 'file' is required")
		default:
			writeDetail(w, http.StatusBadRequest, "Invalid multipart body")
		}
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	data, err := uploadsafe.LimitedReadAll(file, h.maxUpload)
	if err != nil {
		if errors.Is(err, uploadsafe.ErrTooLarge) || shield.IsTooLarge(err) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		writeDetail(w, http.StatusBadRequest, "Could not read upload")
		return
	}

	res, err := h.svc.Upload(r.Context(), Upload{
		Data:     data,
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
	})
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *httpHandler) getProposal(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Proposal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, "Proposal")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *httpHandler) getRFP(w http.ResponseWriter, r *http.Request) {
	rfp, err := h.svc.RFP(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, "RFP")
		return
	}
	writeJSON(w, http.StatusOK, rfp)
}

func (h *httpHandler) listRFPs(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "limit must be an integer")
			return
		}
		limit = v
	}
	rows, err := h.svc.RFPs(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// writeServiceError maps service errors to status codes. resource names the
// record kind in 400/404 details.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, resource string) {
	switch {
	case errors.Is(err, ErrEmptyUpload):
		writeDetail(w, http.StatusBadRequest, "Empty file")
	case errors.Is(err, ErrTooLarge):
		writeDetail(w, http.StatusRequestEntityTooLarge, "Upload too large")
	case errors.Is(err, ErrInvalidID):
		writeDetail(w, http.StatusBadRequest, "Invalid "+strings.ToLower(resource)+" id")
	case errors.Is(err, ErrNotFound):
		writeDetail(w, http.StatusNotFound, resource+" not found")
	default:
		shield.GetLogger(r.Context()).Error("request failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
