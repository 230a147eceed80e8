package edi837

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/therabill/claims/internal/platform/auth"
)

func newTestServer(claims ...*Claim) (*echo.Echo, *InMemoryRepository) {
	repo := NewInMemoryRepository(claims)
	repo.SetClock(fixedClock())
	svc := NewService(repo, zerolog.Nop())

	sandbox, err := NewSandboxClient(SandboxPayerFixtures(), fixedClock())
	if err != nil {
		panic(err)
	}

	e := echo.New()
	api := e.Group("/api/v1", auth.DevAuth())
	NewHandler(svc, fixedOptions(), "837P", sandbox).RegisterRoutes(api)
	return e, repo
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRunExport(t *testing.T) {
	e, repo := newTestServer(sampleClaim())

	rec := doJSON(e, http.MethodPost, "/api/v1/edi837/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result ExportResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !result.Exported || result.ClaimCount != 1 {
		t.Errorf("unexpected result: exported=%v count=%d", result.Exported, result.ClaimCount)
	}
	if len(repo.ExportFiles()) != 1 {
		t.Errorf("expected 1 stored export file, got %d", len(repo.ExportFiles()))
	}
}

func TestHandlerRunExportCustomPrefix(t *testing.T) {
	e, repo := newTestServer(sampleClaim())

	rec := doJSON(e, http.MethodPost, "/api/v1/edi837/export", `{"file_name_prefix":"CUSTOM"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	files := repo.ExportFiles()
	if len(files) != 1 || !strings.HasPrefix(files[0].FileName, "CUSTOM_") {
		t.Errorf("unexpected files: %+v", files)
	}
}

func TestHandlerDryRun(t *testing.T) {
	claim := sampleClaim()
	claim.Payer = &Payer{ID: "MEDICAID_TX"}
	claim.ServiceLines = []ServiceLine{
		{LineNumber: 1, CPTCode: "97155", Units: 1, ChargeAmount: 80, ServiceDate: "2025-01-02"},
	}
	e, _ := newTestServer(claim)

	rec := doJSON(e, http.MethodPost, "/api/v1/edi837/dry-run", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result DryRunResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if result.Acknowledgment == nil {
		t.Fatal("expected an acknowledgment")
	}
	if result.Acknowledgment.Status != AckRejected {
		t.Errorf("ack status = %q, want rejected", result.Acknowledgment.Status)
	}
	if len(result.DenialRecords) != 1 {
		t.Errorf("expected 1 denial record, got %d", len(result.DenialRecords))
	}
}

func TestHandlerIngestDenials(t *testing.T) {
	e, repo := newTestServer(sampleClaim())

	body := `[{"billing_record_id":"billing-001","session_id":"session-123","denial_code":"CO45","description":"Charge exceeds payer maximum"}]`
	rec := doJSON(e, http.MethodPost, "/api/v1/edi837/denials", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := len(repo.Denials()); got != 1 {
		t.Errorf("stored denials = %d, want 1", got)
	}
}

func TestHandlerIngestDenialsValidation(t *testing.T) {
	e, _ := newTestServer()

	rec := doJSON(e, http.MethodPost, "/api/v1/edi837/denials", `[{"session_id":"session-123"}]`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandlerListAndGetExportFiles(t *testing.T) {
	e, repo := newTestServer(sampleClaim())

	if rec := doJSON(e, http.MethodPost, "/api/v1/edi837/export", ""); rec.Code != http.StatusOK {
		t.Fatalf("export failed: %d", rec.Code)
	}

	rec := doJSON(e, http.MethodGet, "/api/v1/edi837/files", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listing struct {
		Data  []*ExportFileRecord `json:"data"`
		Total int                 `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("unmarshal listing: %v", err)
	}
	if listing.Total != 1 || len(listing.Data) != 1 {
		t.Fatalf("unexpected listing: total=%d data=%d", listing.Total, len(listing.Data))
	}

	fileID := repo.ExportFiles()[0].ID
	rec = doJSON(e, http.MethodGet, "/api/v1/edi837/files/"+fileID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var detail struct {
		File    *ExportFileRecord `json:"file"`
		Content string            `json:"content"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if !strings.HasPrefix(detail.Content, "ISA*00*") {
		t.Error("content should start with the ISA segment")
	}

	rec = doJSON(e, http.MethodGet, "/api/v1/edi837/files/"+fileID+"?format=raw", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("raw status = %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("raw content type = %q", ct)
	}

	rec = doJSON(e, http.MethodGet, "/api/v1/edi837/files/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", rec.Code)
	}
}

func TestHandlerRequiresBillingRole(t *testing.T) {
	repo := NewInMemoryRepository(nil)
	svc := NewService(repo, zerolog.Nop())

	e := echo.New()
	// No auth middleware: the context carries no roles at all.
	api := e.Group("/api/v1")
	NewHandler(svc, fixedOptions(), "837P", nil).RegisterRoutes(api)

	rec := doJSON(e, http.MethodPost, "/api/v1/edi837/export", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}
