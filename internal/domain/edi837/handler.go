package edi837

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/therabill/claims/internal/platform/auth"
	"github.com/therabill/claims/pkg/pagination"
)

// Handler exposes the export pipeline over HTTP.
type Handler struct {
	svc           *Service
	genOpts       GeneratorOptions
	filePrefix    string
	clearinghouse ClearinghouseClient
}

func NewHandler(svc *Service, genOpts GeneratorOptions, filePrefix string, clearinghouse ClearinghouseClient) *Handler {
	return &Handler{svc: svc, genOpts: genOpts, filePrefix: filePrefix, clearinghouse: clearinghouse}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	group := api.Group("/edi837", auth.RequireRole("billing"))
	group.POST("/export", h.RunExport)
	group.POST("/dry-run", h.RunDryRun)
	group.POST("/denials", h.IngestDenials)
	group.GET("/files", h.ListExportFiles)
	group.GET("/files/:id", h.GetExportFile)
}

type exportRequest struct {
	FileNamePrefix string `json:"file_name_prefix,omitempty"`
}

func (h *Handler) exportParams(req exportRequest) ExportParams {
	prefix := req.FileNamePrefix
	if prefix == "" {
		prefix = h.filePrefix
	}
	return ExportParams{GeneratorOptions: h.genOpts, FileNamePrefix: prefix}
}

func (h *Handler) RunExport(c echo.Context) error {
	var req exportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.svc.RunExportPipeline(c.Request().Context(), h.exportParams(req))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) RunDryRun(c echo.Context) error {
	if h.clearinghouse == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no clearinghouse client configured")
	}
	var req exportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.svc.RunClearinghouseDryRun(c.Request().Context(), DryRunParams{
		ExportParams:  h.exportParams(req),
		Clearinghouse: h.clearinghouse,
		AuditContext: map[string]string{
			"triggered_by": auth.UserIDFromContext(c.Request().Context()),
		},
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) IngestDenials(c echo.Context) error {
	var denials []ClaimDenialInput
	if err := c.Bind(&denials); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for _, denial := range denials {
		if denial.BillingRecordID == "" || denial.DenialCode == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "billing_record_id and denial_code are required")
		}
	}
	records, err := h.svc.IngestDenials(c.Request().Context(), denials)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if records == nil {
		records = []*ClaimDenialRecord{}
	}
	return c.JSON(http.StatusCreated, records)
}

func (h *Handler) ListExportFiles(c echo.Context) error {
	pg := pagination.FromContext(c)
	files, total, err := h.svc.repo.ListExportFiles(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(files, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetExportFile(c echo.Context) error {
	record, content, err := h.svc.repo.GetExportFile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "export file not found")
	}
	if c.QueryParam("format") == "raw" {
		return c.Blob(http.StatusOK, "text/plain", []byte(content))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"file":    record,
		"content": content,
	})
}
