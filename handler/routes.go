package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"captain-agent/internal/bill"
	"captain-agent/internal/domain"
	"captain-agent/internal/usecase"
	logx "captain-agent/pkg/logger"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 10 << 20
)

type knowledgeRequest struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

type laidBillResponse struct {
	FileName   string  `json:"fileName"`
	URL        string  `json:"url"`
	Subtotal   float64 `json:"subtotal"`
	Tax        float64 `json:"tax"`
	GrandTotal float64 `json:"grandTotal"`
}

// Routes returns the HTTP router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Post("/chat", h.handleChat)
	r.Get("/history", h.handleHistory)
	r.Post("/compliance/upload", h.handleUpload)
	r.Post("/generateBill", h.handleGenerateBill)
	r.Post("/generateLaidBill", h.handleGenerateLaidBill)
	r.Route("/knowledge", func(kr chi.Router) {
		kr.Get("/search", h.handleKnowledgeSearch)
		kr.Get("/stats", h.handleKnowledgeStats)
		kr.Post("/documents", h.handleKnowledgeAdd)
	})
	if h.serveBills {
		r.Get("/bills/{name}", h.handleBill)
	}
	if h.metricsHandler != nil {
		r.Handle("/metrics", h.metricsHandler)
	}
	return r
}

// requestLogger logs every request with its chi request id and counts it
// by route pattern.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		h.metrics.ObserveHTTP(route, status)
		logx.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "Request body is too large."})
		return
	}
	status, body := h.chat(r.Context(), raw)
	writeJSON(w, status, body)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, body := h.history(r.Context(), q.Get("user"), q.Get("session"))
	writeJSON(w, status, body)
}

// handleUpload is a debug endpoint: failures echo the raw error text.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No file uploaded", Message: err.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	report, err := h.svc.AnalyzeUpload(header.Filename, data)
	if err != nil {
		status, _ := errorStatus(err)
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleGenerateBill(w http.ResponseWriter, r *http.Request) {
	b, ok := decodeBill(w, r)
	if !ok {
		return
	}
	pdf, name, err := h.svc.GenerateBill(b)
	if err != nil {
		status, body := errorStatus(err)
		writeJSON(w, status, body)
		return
	}
	writePDF(w, name, pdf, true)
}

func (h *Handler) handleGenerateLaidBill(w http.ResponseWriter, r *http.Request) {
	b, ok := decodeBill(w, r)
	if !ok {
		return
	}
	out, err := h.svc.GenerateLaidBill(r.Context(), b)
	if err != nil {
		status, body := errorStatus(err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, laidBillResponse{
		FileName:   out.FileName,
		URL:        out.URL,
		Subtotal:   out.Summary.Subtotal,
		Tax:        out.Summary.Tax,
		GrandTotal: out.Summary.GrandTotal,
	})
}

func (h *Handler) handleBill(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	pdf, err := h.svc.Bill(r.Context(), name)
	if errors.Is(err, bill.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Message: "Bill not found."})
		return
	}
	if err != nil {
		logx.Error().Err(err).Str("name", name).Msg("read bill failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
		return
	}
	writePDF(w, name, pdf, false)
}

func (h *Handler) handleKnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	docs, err := h.svc.SearchKnowledge(q.Get("q"), q.Get("category"), limit)
	if err != nil {
		status, body := errorStatus(err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": docs, "count": len(docs)})
}

func (h *Handler) handleKnowledgeStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.KnowledgeStats())
}

func (h *Handler) handleKnowledgeAdd(w http.ResponseWriter, r *http.Request) {
	var req knowledgeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := h.svc.AddKnowledge(req.Title, req.Content, req.Category, req.Tags)
	if err != nil {
		status, body := errorStatus(err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func decodeBill(w http.ResponseWriter, r *http.Request) (domain.Bill, bool) {
	var b domain.Bill
	ok := decodeJSON(w, r, &b)
	return b, ok
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "Request body must be valid JSON."})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logx.Warn().Err(err).Msg("write response failed")
	}
}

func writePDF(w http.ResponseWriter, name string, pdf []byte, attachment bool) {
	disposition := "inline"
	if attachment {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, strings.ReplaceAll(name, `"`, "")))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
