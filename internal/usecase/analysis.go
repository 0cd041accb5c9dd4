package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/claim-insights/internal/analysis"
	"github.com/example/claim-insights/internal/dataset"
	"github.com/example/claim-insights/internal/logging"
	"github.com/example/claim-insights/internal/repository"
	"github.com/example/claim-insights/internal/retry"
)

const processingMarker = "processing"

var (
	// ErrInvalidDataset marks uploads that could not be parsed as a dataset.
	ErrInvalidDataset = errors.New("invalid dataset")
	// ErrEmptyUpload is returned when the uploaded file has no content.
	ErrEmptyUpload = errors.New("uploaded file is empty")
)

// AnalysisRepository defines the persistence operations needed by the use case.
type AnalysisRepository interface {
	SaveLog(ctx context.Context, log *repository.AnalysisLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.AnalysisLog, error)
	FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.AnalysisLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// AnalyzeFunc produces a report for a parsed dataset.
type AnalyzeFunc func(ctx context.Context, ds *dataset.Dataset) (*analysis.Report, error)

// Upload is a dataset file submitted for analysis.
type Upload struct {
	UserID   string
	Filename string
	Data     []byte
}

// Result is the outcome of an analysis, as cached and returned to clients.
type Result struct {
	RequestID  string            `json:"request_id"`
	UserID     string            `json:"user_id"`
	Filename   string            `json:"filename"`
	Rows       int               `json:"rows"`
	Averages   analysis.Averages `json:"averages"`
	Images     map[string]string `json:"images,omitempty"`
	ImageNames []string          `json:"image_names"`
	Hash       string            `json:"sha1_hash"`
	LatencyMs  int64             `json:"latency_ms"`
	CreatedAt  time.Time         `json:"created_at"`
}

// DuplicateReport represents earlier analyses of the same file.
type DuplicateReport struct {
	Request    *repository.AnalysisLog
	Duplicates []*repository.AnalysisLog
}

// AnalysisUseCase encapsulates business logic for the upload analysis flow.
type AnalysisUseCase struct {
	repo      AnalysisRepository
	cache     Cache
	logger    *zap.Logger
	policy    retry.Policy
	resultTTL time.Duration
	analyze   AnalyzeFunc
	now       func() time.Time
}

// NewAnalysisUseCase constructs a new use case instance.
func NewAnalysisUseCase(repo AnalysisRepository, cache Cache, logger *zap.Logger, resultTTL time.Duration) *AnalysisUseCase {
	return &AnalysisUseCase{
		repo:      repo,
		cache:     cache,
		logger:    logger.Named("analysis_usecase"),
		policy:    retry.DefaultPolicy(),
		resultTTL: resultTTL,
		analyze:   analysis.Analyze,
		now:       time.Now,
	}
}

// AnalyzeUpload parses the uploaded dataset, computes averages and charts,
// persists a log and caches the full result.
func (uc *AnalysisUseCase) AnalyzeUpload(ctx context.Context, upload Upload) (*Result, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze_upload", requestID)
	started := uc.now()

	if len(upload.Data) == 0 {
		return nil, logging.NewOperationError("usecase.validate_upload", requestID, ErrEmptyUpload)
	}

	ds, err := dataset.Parse(upload.Filename, upload.Data)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.parse_dataset", requestID, fmt.Errorf("%w: %w", ErrInvalidDataset, err))
		opLogger.Warn("rejected dataset", zap.String("filename", upload.Filename), zap.Error(err))
		return nil, wrapped
	}

	cacheKey := resultKey(requestID)
	if err := uc.policy.Do(ctx, uc.logger, "cache.set.processing", requestID, func() error {
		return uc.cache.Set(ctx, cacheKey, processingMarker, time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}
	stored := false
	defer func() {
		if !stored {
			uc.clearProcessing(ctx, cacheKey, requestID, opLogger)
		}
	}()

	report, err := uc.analyze(ctx, ds)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.analyze_dataset", requestID, err)
		opLogger.Error("analysis failed", zap.Error(wrapped))
		return nil, wrapped
	}

	hash := sha1.Sum(upload.Data)
	result := &Result{
		RequestID:  requestID,
		UserID:     upload.UserID,
		Filename:   upload.Filename,
		Rows:       report.Rows,
		Averages:   report.Averages,
		Images:     report.Images,
		ImageNames: report.ImageNames(),
		Hash:       hex.EncodeToString(hash[:]),
		LatencyMs:  uc.now().Sub(started).Milliseconds(),
		CreatedAt:  uc.now().UTC(),
	}

	log, err := toLog(result)
	if err != nil {
		opLogger.Error("failed to serialize analysis log", zap.Error(err))
		return nil, err
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist analysis log", zap.Error(wrapped))
		return nil, wrapped
	}

	serialized, err := json.Marshal(result)
	if err != nil {
		opLogger.Error("failed to serialize analysis result", zap.Error(err))
		return nil, err
	}
	if err := uc.policy.Do(ctx, uc.logger, "cache.set.result", requestID, func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), uc.resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache analysis result", zap.Error(err))
		return nil, err
	}
	stored = true

	opLogger.Info("analysis results",
		zap.String("filename", upload.Filename),
		zap.Int("rows", result.Rows),
		zap.Any("averages", result.Averages),
		zap.Strings("images", result.ImageNames),
		zap.Int64("latency_ms", result.LatencyMs),
	)
	return result, nil
}

// clearProcessing drops the processing marker of a request that will never
// produce a cached result.
func (uc *AnalysisUseCase) clearProcessing(ctx context.Context, key, requestID string, logger *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	if err := uc.policy.Do(ctx, uc.logger, "cache.delete.processing", requestID, func() error {
		return uc.cache.Delete(ctx, key)
	}); err != nil {
		logger.Warn("failed to clear processing flag", zap.Error(err))
	}
}

// GetResult returns the cached result for the caller, falling back to the
// persisted log. Results loaded from the log carry image names but no images.
func (uc *AnalysisUseCase) GetResult(ctx context.Context, userID, requestID string) (*Result, error) {
	var cached string
	err := uc.policy.Do(ctx, uc.logger, "cache.get.result", requestID, func() error {
		value, err := uc.cache.Get(ctx, resultKey(requestID))
		if err != nil {
			return err
		}
		cached = value
		return nil
	})
	switch {
	case err == nil && cached != processingMarker:
		var payload Result
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		} else if payload.UserID == userID {
			return &payload, nil
		}
	case err != nil && !errors.Is(err, ErrCacheMiss):
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}
	return fromLog(log)
}

// GetDuplicateReport lists the caller's other analyses of the same file.
func (uc *AnalysisUseCase) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, userID, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

func toLog(result *Result) (*repository.AnalysisLog, error) {
	averages, err := json.Marshal(result.Averages)
	if err != nil {
		return nil, err
	}
	names, err := json.Marshal(result.ImageNames)
	if err != nil {
		return nil, err
	}
	return &repository.AnalysisLog{
		RequestID:  result.RequestID,
		UserID:     result.UserID,
		Filename:   result.Filename,
		RowCount:   result.Rows,
		Averages:   string(averages),
		ImageNames: string(names),
		SHA1Hash:   result.Hash,
		LatencyMs:  result.LatencyMs,
		CreatedAt:  result.CreatedAt,
	}, nil
}

func fromLog(log *repository.AnalysisLog) (*Result, error) {
	result := &Result{
		RequestID: log.RequestID,
		UserID:    log.UserID,
		Filename:  log.Filename,
		Rows:      log.RowCount,
		Hash:      log.SHA1Hash,
		LatencyMs: log.LatencyMs,
		CreatedAt: log.CreatedAt,
	}
	if log.Averages != "" {
		if err := json.Unmarshal([]byte(log.Averages), &result.Averages); err != nil {
			return nil, fmt.Errorf("decode averages: %w", err)
		}
	}
	if log.ImageNames != "" {
		if err := json.Unmarshal([]byte(log.ImageNames), &result.ImageNames); err != nil {
			return nil, fmt.Errorf("decode image names: %w", err)
		}
	}
	return result, nil
}
