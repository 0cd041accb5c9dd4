package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/claim-insights/internal/auth"
	"github.com/example/claim-insights/internal/dataset"
	"github.com/example/claim-insights/internal/gallery"
	"github.com/example/claim-insights/internal/usecase"
)

// DefaultMaxUploadSize bounds the request body of an upload.
const DefaultMaxUploadSize = 10 << 20

const successMessage = "Successfully processed the file"

// AnalysisService is the use case surface the handlers depend on.
type AnalysisService interface {
	AnalyzeUpload(ctx context.Context, upload usecase.Upload) (*usecase.Result, error)
	GetResult(ctx context.Context, userID, requestID string) (*usecase.Result, error)
	GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// Options configures RegisterRoutes.
type Options struct {
	Verifier      *auth.Verifier
	MaxUploadSize int64
	Logger        *zap.Logger
}

type handler struct {
	uc            AnalysisService
	maxUploadSize int64
	logger        *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc AnalysisService, opts Options) {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &handler{uc: uc, maxUploadSize: opts.MaxUploadSize, logger: opts.Logger.Named("handlers")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/", h.uploadPage)
	router.POST("/file-upload", auth.OptionalJWT(opts.Verifier), h.fileUpload)
	router.POST("/gallery", auth.OptionalJWT(opts.Verifier), h.galleryUpload)

	protected := router.Group("/", auth.JWTMiddleware(opts.Verifier))
	protected.GET("/result/:id", h.getResult)
	protected.GET("/result/:id/duplicates", h.getDuplicates)
	protected.GET("/metrics", h.getMetrics)
}

// uploadError carries the status and message for a rejected upload.
type uploadError struct {
	status  int
	message string
}

func (h *handler) analyze(c *gin.Context) (*usecase.Result, *uploadError) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)

	file, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			return nil, &uploadError{http.StatusRequestEntityTooLarge, "file exceeds the upload limit"}
		}
		return nil, &uploadError{http.StatusBadRequest, "No file uploaded."}
	}
	if file.Size == 0 {
		return nil, &uploadError{http.StatusBadRequest, "Uploaded file is empty."}
	}
	if _, err := dataset.DetectFormat(file.Filename); err != nil {
		return nil, &uploadError{http.StatusUnsupportedMediaType, "Only CSV or XLS/XLSX files are allowed."}
	}

	src, err := file.Open()
	if err != nil {
		return nil, &uploadError{http.StatusBadRequest, "unable to open file"}
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, &uploadError{http.StatusInternalServerError, "failed to read file"}
	}

	userID, _ := auth.GetUserID(c.Request.Context())
	result, err := h.uc.AnalyzeUpload(c.Request.Context(), usecase.Upload{
		UserID:   userID,
		Filename: file.Filename,
		Data:     data,
	})
	if err != nil {
		_ = c.Error(err)
		switch {
		case errors.Is(err, usecase.ErrEmptyUpload):
			return nil, &uploadError{http.StatusBadRequest, "Uploaded file is empty."}
		case errors.Is(err, usecase.ErrInvalidDataset):
			return nil, &uploadError{http.StatusBadRequest, datasetMessage(err)}
		default:
			return nil, &uploadError{http.StatusInternalServerError, "failed to analyse file"}
		}
	}
	return result, nil
}

func (h *handler) fileUpload(c *gin.Context) {
	result, uerr := h.analyze(c)
	if uerr != nil {
		c.JSON(uerr.status, gin.H{"error": uerr.message})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": result.RequestID,
		"message":    successMessage,
		"Averages":   result.Averages,
		"images":     result.Images,
	})
}

func (h *handler) uploadPage(c *gin.Context) {
	h.renderPage(c, http.StatusOK, gallery.Page{Action: "/gallery"})
}

func (h *handler) galleryUpload(c *gin.Context) {
	result, uerr := h.analyze(c)
	if uerr != nil {
		h.renderPage(c, uerr.status, gallery.Page{Action: "/gallery", Error: uerr.message})
		return
	}

	container := gallery.NewContainer()
	if err := container.Replace(result.RequestID, result.Images, result.Averages); err != nil {
		_ = c.Error(err)
		h.renderPage(c, http.StatusInternalServerError, gallery.Page{Action: "/gallery", Error: "failed to render images"})
		return
	}
	h.renderPage(c, http.StatusOK, gallery.Page{Action: "/gallery", Snapshot: container.Snapshot()})
}

func (h *handler) renderPage(c *gin.Context, status int, page gallery.Page) {
	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := gallery.Render(c.Writer, page); err != nil {
		h.logger.Error("failed to render gallery page", zap.Error(err))
	}
}

func (h *handler) getResult(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	result, err := h.uc.GetResult(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.lookupError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":  result.RequestID,
		"user_id":     result.UserID,
		"filename":    result.Filename,
		"rows":        result.Rows,
		"Averages":    result.Averages,
		"images":      result.Images,
		"image_names": result.ImageNames,
		"sha1_hash":   result.Hash,
		"created_at":  result.CreatedAt,
	})
}

func (h *handler) getDuplicates(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	report, err := h.uc.GetDuplicateReport(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.lookupError(c, err)
		return
	}

	duplicates := make([]gin.H, 0, len(report.Duplicates))
	for _, d := range report.Duplicates {
		duplicates = append(duplicates, gin.H{
			"request_id": d.RequestID,
			"filename":   d.Filename,
			"created_at": d.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id": report.Request.RequestID,
		"sha1_hash":  report.Request.SHA1Hash,
		"duplicates": duplicates,
	})
}

func (h *handler) getMetrics(c *gin.Context) {
	summary, err := h.uc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load metrics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) lookupError(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

func datasetMessage(err error) string {
	switch {
	case errors.Is(err, dataset.ErrEmptyDataset):
		return "The file contains no data rows."
	case errors.Is(err, dataset.ErrUnsupportedFormat):
		return "Only CSV or XLS/XLSX files are allowed."
	default:
		return "The file could not be parsed."
	}
}
