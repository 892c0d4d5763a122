package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"captain-agent/internal/bill"
	"captain-agent/internal/compliance"
	"captain-agent/internal/domain"
	"captain-agent/internal/observability/metrics"
	"captain-agent/internal/repository"
	"captain-agent/internal/usecase"
)

const sampleBillJSON = `{"company_name":"Acme Exports","items":[{"description":"Ocean freight","amount":1000},{"description":"Port handling","amount":250.5}],"tax":18}`

func newServer(t *testing.T, svc Service, opts ...Option) *httptest.Server {
	t.Helper()
	h, err := NewHandler(svc, opts...)
	require.NoError(t, err)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func newRealService(t *testing.T, baseURL string) (*usecase.ChatService, *bill.LocalStore) {
	t.Helper()
	dir := t.TempDir()
	store, err := repository.NewFileStore(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	bills, err := bill.NewLocalStore(filepath.Join(dir, "bills"), baseURL)
	require.NoError(t, err)
	ctrl, err := usecase.NewGuidedController(store, compliance.NewChecker())
	require.NoError(t, err)
	svc, err := usecase.NewChatService(ctrl, store, bill.NewRenderer(), bills, compliance.NewKnowledgeBase(0))
	require.NoError(t, err)
	return svc, bills
}

func TestRoutes_ChatAndHistoryEndToEnd(t *testing.T) {
	svc, _ := newRealService(t, "http://localhost")
	srv := newServer(t, svc)

	resp := postJSON(t, srv.URL+"/chat", `{"user":"alice","message":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Hello! I'm Captain. Where do you want to ship your order from?", decode[chatResponse](t, resp).Reply)

	resp = postJSON(t, srv.URL+"/chat", `{"user":"alice","message":"Mumbai"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, srv.URL+"/history?user=alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[[]historyEntry](t, resp)
	require.Len(t, history, 4)
	require.Equal(t, historyEntry{Role: domain.RoleUser, Content: "Mumbai"}, history[2])

	resp = get(t, srv.URL+"/history?user=nobody")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, decode[[]historyEntry](t, resp))
}

func TestRoutes_ChatRejectsBlankMessage(t *testing.T) {
	svc, _ := newRealService(t, "http://localhost")
	srv := newServer(t, svc)

	resp := postJSON(t, srv.URL+"/chat", `{"user":"alice","message":"   "}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out := decode[errorResponse](t, resp)
	require.Equal(t, "INVALID_INPUT", out.Error)
	require.Equal(t, "Please enter a message.", out.Message)
}

func TestRoutes_Health(t *testing.T) {
	srv := newServer(t, &stubService{})
	resp := get(t, srv.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, resp))
}

func TestRoutes_GenerateBill(t *testing.T) {
	svc, _ := newRealService(t, "http://localhost")
	srv := newServer(t, svc)

	resp := postJSON(t, srv.URL+"/generateBill", sampleBillJSON)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	require.Contains(t, resp.Header.Get("Content-Disposition"), "attachment; filename=\"Bill_")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(body, []byte("%PDF-")))

	resp = postJSON(t, srv.URL+"/generateBill", `{"company_name":"Empty","items":[]}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/generateBill", `{`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRoutes_GenerateLaidBillAndDownload(t *testing.T) {
	svc, _ := newRealService(t, "http://placeholder")
	srv := newServer(t, svc, WithBillDownloads())
	srvURL := srv.URL

	resp := postJSON(t, srvURL+"/generateLaidBill", sampleBillJSON)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[laidBillResponse](t, resp)
	require.True(t, strings.HasPrefix(out.FileName, "Bill_"))
	require.Equal(t, "http://placeholder/bills/"+out.FileName, out.URL)
	require.Equal(t, 1250.5, out.Subtotal)
	require.Equal(t, 225.09, out.Tax)
	require.Equal(t, 1475.59, out.GrandTotal)

	resp = get(t, srvURL+"/bills/"+out.FileName)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	resp = get(t, srvURL+"/bills/Missing.pdf")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoutes_BillDownloadsDisabledByDefault(t *testing.T) {
	srv := newServer(t, &stubService{bill: []byte("%PDF")})
	resp := get(t, srv.URL+"/bills/Bill_1.pdf")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoutes_ComplianceUpload(t *testing.T) {
	svc, _ := newRealService(t, "http://localhost")
	srv := newServer(t, svc)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "invoice.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("Product: Copper Wire\nHSN Code: 74081900\nWeight: 1200 kg\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/compliance/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[domain.DocumentReport](t, resp)
	require.Equal(t, "invoice.txt", report.FileName)
	require.Equal(t, "Verified", report.Verification.Status)
	require.Equal(t, "74081900", report.KeyFields["hsn_code"])

	resp2 := postJSON(t, srv.URL+"/compliance/upload", `{}`)
	require.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	require.Equal(t, "No file uploaded", decode[errorResponse](t, resp2).Error)
}

func TestRoutes_UploadEchoesRawError(t *testing.T) {
	srv := newServer(t, &stubService{err: errors.New("compliance: ExtractText: open pdf: malformed")})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "broken.pdf")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("%PDF-broken"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/compliance/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Contains(t, decode[errorResponse](t, resp).Error, "malformed")
}

func TestRoutes_Knowledge(t *testing.T) {
	svc, _ := newRealService(t, "http://localhost")
	srv := newServer(t, svc)

	resp := get(t, srv.URL+"/knowledge/search?q=hazardous+dangerous+goods")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var search struct {
		Results []compliance.Document `json:"results"`
		Count   int                   `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&search))
	require.Equal(t, len(search.Results), search.Count)

	resp = get(t, srv.URL+"/knowledge/search")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/knowledge/documents", `{"title":"Reefer rules","content":"Perishables need reefer containers.","category":"logistics","tags":["reefer"]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, decode[map[string]string](t, resp)["id"])

	resp = get(t, srv.URL+"/knowledge/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 9, decode[compliance.Stats](t, resp).TotalDocuments)
}

func TestRoutes_MetricsEndpointCountsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewChatMetrics(reg)
	srv := newServer(t, &stubService{}, WithMetrics(m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	require.Equal(t, http.StatusOK, get(t, srv.URL+"/health").StatusCode)

	resp := get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `captain_http_requests_total{code="200",route="/health"} 1`)
}

func TestRoutes_RecoversFromPanics(t *testing.T) {
	srv := newServer(t, panicService{&stubService{}})
	resp := postJSON(t, srv.URL+"/chat", `{"message":"hi"}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

type panicService struct{ *stubService }

func (panicService) Chat(context.Context, usecase.ChatInput) (usecase.ChatOutput, error) {
	panic("controller exploded")
}
