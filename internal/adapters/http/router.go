package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/kirillkom/docsense/internal/config"
	"github.com/kirillkom/docsense/internal/core/domain"
	"github.com/kirillkom/docsense/internal/core/ports"
	"github.com/kirillkom/docsense/internal/observability/metrics"
)

const (
	serviceName       = "api"
	multipartMemory   = 8 << 20
	maxJSONBodyBytes  = 1 << 20
	defaultUploadMB   = 20
	uploadFieldImage  = "image"
	uploadFieldLegacy = "file"
)

type Router struct {
	companion ports.CompanionService
	feedback  ports.FeedbackService
	metrics   *metrics.HTTPServerMetrics
	identity  *ownerIdentity
	ready     func(ctx context.Context) error

	maxUploadBytes   int64
	rateLimitRPS     float64
	rateLimitBurst   int
	maxInFlight      int
	backpressureWait time.Duration
}

func NewRouter(
	cfg config.Config,
	companion ports.CompanionService,
	feedback ports.FeedbackService,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	uploadMB := cfg.MaxUploadMB
	if uploadMB <= 0 {
		uploadMB = defaultUploadMB
	}
	return &Router{
		companion:        companion,
		feedback:         feedback,
		metrics:          httpMetrics,
		identity:         newOwnerIdentity(cfg.CookieName, cfg.CookieSecret, cfg.CookieMaxAgeDays, cfg.CookieSecure, cfg.CookieSameSite),
		maxUploadBytes:   int64(uploadMB) << 20,
		rateLimitRPS:     cfg.APIRateLimitRPS,
		rateLimitBurst:   cfg.APIRateLimitBurst,
		maxInFlight:      cfg.APIMaxInFlight,
		backpressureWait: time.Duration(cfg.APIBackpressureWaitMS) * time.Millisecond,
	}
}

// WithReadiness enables GET /readyz backed by check.
func (rt *Router) WithReadiness(check func(ctx context.Context) error) *Router {
	rt.ready = check
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.ready != nil {
		mux.HandleFunc("GET /readyz", rt.readyz)
	}
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("POST /start_session", rt.startSession)
	mux.HandleFunc("POST /ask", rt.ask)
	mux.HandleFunc("GET /conversation", rt.conversation)
	mux.HandleFunc("GET /recent_docs", rt.recentDocs)
	mux.HandleFunc("POST /delete_doc", rt.deleteDoc)
	mux.HandleFunc("GET /image", rt.image)
	mux.HandleFunc("POST /save_text", rt.saveText)
	mux.HandleFunc("POST /feedback", rt.submitFeedback)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.maxInFlight, rt.backpressureWait)
	handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := rt.ready(ctx); err != nil {
		slog.Warn("readiness_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (rt *Router) startSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, r, uploadError(err))
		return
	}

	file, header, err := r.FormFile(uploadFieldImage)
	if err != nil {
		file, header, err = r.FormFile(uploadFieldLegacy)
	}
	if err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "start session", errors.New("multipart field 'image' is required")))
		return
	}
	defer file.Close()

	ownerID, ok := rt.identity.owner(r)
	if !ok {
		ownerID = newOwnerID()
	}

	result, err := rt.companion.StartSession(r.Context(), ports.UploadRequest{
		OwnerID:  ownerID,
		Filename: header.Filename,
		Body:     file,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.issueCookie(w, r, result.OwnerID)

	writeJSON(w, http.StatusOK, map[string]any{
		"answer":      result.Summary,
		"document_id": result.DocumentID,
		"category":    result.Category,
	})
}

func uploadError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return err
	}
	return domain.WrapError(domain.ErrInvalidInput, "start session", err)
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question   string `json:"question"`
		DocumentID string `json:"document_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ownerID, ok := rt.identity.owner(r)
	if !ok {
		if strings.TrimSpace(req.DocumentID) == "" {
			writeError(w, r, domain.WrapError(domain.ErrSessionNotFound, "ask", errors.New("no owner identity; start a session first")))
			return
		}
		// A fresh identity still lets the id-only lookup find the document.
		ownerID = newOwnerID()
	}

	result, err := rt.companion.Ask(r.Context(), ports.AskRequest{
		OwnerID:    ownerID,
		DocumentID: req.DocumentID,
		Question:   req.Question,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok || result.OwnerID != ownerID {
		rt.issueCookie(w, r, result.OwnerID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"answer":      result.Answer,
		"document_id": result.DocumentID,
	})
}

type messageView struct {
	Role string  `json:"role"`
	Text string  `json:"text"`
	TS   float64 `json:"ts"`
}

func (rt *Router) conversation(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := rt.identity.owner(r)
	messages, err := rt.companion.Conversation(r.Context(), ownerID, r.URL.Query().Get("document_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, messageView{Role: string(m.Role), Text: m.Text, TS: unixSeconds(m.Timestamp)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": views})
}

type recentDocView struct {
	DocumentID   string  `json:"document_id"`
	Path         string  `json:"path"`
	Category     string  `json:"category"`
	Title        string  `json:"title"`
	LastModified float64 `json:"last_modified"`
}

func (rt *Router) recentDocs(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := rt.identity.owner(r)
	records, err := rt.companion.RecentDocuments(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]recentDocView, 0, len(records))
	for _, rec := range records {
		items = append(items, recentDocView{
			DocumentID:   rec.DocumentID,
			Path:         rec.ContentHandle,
			Category:     string(rec.Category),
			Title:        rec.Title,
			LastModified: unixSeconds(rec.LastModified),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (rt *Router) deleteDoc(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentID string `json:"document_id"`
		Path       string `json:"path"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ownerID, _ := rt.identity.owner(r)
	result, err := rt.companion.DeleteDocument(r.Context(), ports.DeleteRequest{
		OwnerID:    ownerID,
		DocumentID: req.DocumentID,
		Path:       req.Path,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) image(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("path")
	content, err := rt.companion.OpenContent(r.Context(), handle)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer content.Close()

	raw, err := io.ReadAll(content)
	if err != nil {
		writeError(w, r, domain.WrapError(domain.ErrStoreUnavailable, "read image", err))
		return
	}
	w.Header().Set("Content-Type", mimetype.Detect(raw).String())
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(raw); err != nil {
		slog.Warn("image_write_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
}

func (rt *Router) saveText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ownerID, ok := rt.identity.owner(r)
	if !ok {
		ownerID = newOwnerID()
	}
	if err := rt.companion.SaveNote(r.Context(), ownerID, req.Text); err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		rt.issueCookie(w, r, ownerID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) submitFeedback(w http.ResponseWriter, r *http.Request) {
	if rt.feedback == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "feedback capture is disabled", "kind": domain.KindValidation})
		return
	}

	var req struct {
		DocumentID string `json:"document_id"`
		Prompt     string `json:"prompt"`
		Output     string `json:"output"`
		Feedback   string `json:"feedback"`
		Note       string `json:"note"`
		Regenerate *bool  `json:"regenerate"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ownerID, _ := rt.identity.owner(r)
	regenerate := true
	if req.Regenerate != nil {
		regenerate = *req.Regenerate
	}
	result, err := rt.feedback.Submit(r.Context(), ports.FeedbackRequest{
		OwnerID:    ownerID,
		DocumentID: req.DocumentID,
		Prompt:     req.Prompt,
		Output:     req.Output,
		Verdict:    req.Feedback,
		Note:       req.Note,
		Regenerate: regenerate,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) issueCookie(w http.ResponseWriter, r *http.Request, ownerID string) {
	if ownerID == "" {
		return
	}
	if err := rt.identity.issue(w, ownerID); err != nil {
		slog.Error("owner_cookie_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", err)
	}
	return nil
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMicro()) / 1e6
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
