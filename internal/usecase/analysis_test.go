package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/claim-insights/internal/analysis"
	"github.com/example/claim-insights/internal/dataset"
	"github.com/example/claim-insights/internal/logging"
	"github.com/example/claim-insights/internal/repository"
	"github.com/example/claim-insights/internal/retry"
)

const sampleCSV = "assured_age,premium\n30,100\n50,300\n"

type stubRepository struct {
	savedLogs  []*repository.AnalysisLog
	saveErr    error
	findLog    *repository.AnalysisLog
	findErr    error
	findCalls  int
	duplicates []*repository.AnalysisLog
	dupArgs    []string
	metrics    *repository.MetricsAggregation
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.AnalysisLog) error {
	s.savedLogs = append(s.savedLogs, log)
	return s.saveErr
}

func (s *stubRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.AnalysisLog, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findLog != nil {
		return s.findLog, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubRepository) FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.AnalysisLog, error) {
	s.dupArgs = []string{userID, hash, excludeRequestID}
	return s.duplicates, nil
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.metrics == nil {
		return &repository.MetricsAggregation{}, nil
	}
	return s.metrics, nil
}

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	setValues []interface{}
	getKeys   []string
	delKeys   []string
	delErr    error
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	s.setValues = append(s.setValues, value)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

func (s *stubCache) Delete(ctx context.Context, key string) error {
	s.delKeys = append(s.delKeys, key)
	return s.delErr
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func newTestUseCase(repo AnalysisRepository, cache Cache) *AnalysisUseCase {
	uc := NewAnalysisUseCase(repo, cache, zap.NewNop(), time.Minute)
	uc.policy = retry.Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	uc.analyze = func(ctx context.Context, ds *dataset.Dataset) (*analysis.Report, error) {
		return &analysis.Report{
			Rows:     ds.Len(),
			Averages: analysis.ComputeAverages(ds),
			Images:   map[string]string{"a": "YWJj"},
		}, nil
	}
	return uc
}

func TestAnalyzeUploadRetriesRedisSet(t *testing.T) {
	cache := &stubCache{setErrs: []error{transientRedisError{}}}
	repo := &stubRepository{}
	uc := newTestUseCase(repo, cache)

	result, err := uc.AnalyzeUpload(context.Background(), Upload{UserID: "user-1", Filename: "claims.csv", Data: []byte(sampleCSV)})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(cache.setKeys) < 3 {
		t.Fatalf("expected at least 3 cache set calls (retry + result), got %d", len(cache.setKeys))
	}
	if cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected retry to target same key, got %s and %s", cache.setKeys[0], cache.setKeys[1])
	}
	if len(repo.savedLogs) != 1 {
		t.Fatalf("expected log to be saved, got %d entries", len(repo.savedLogs))
	}
	if got := result.Averages["assured_age"]; got == nil || *got != 40 {
		t.Fatalf("unexpected assured_age average: %v", got)
	}
	if result.Images["a"] != "YWJj" {
		t.Fatalf("unexpected images: %v", result.Images)
	}

	saved := repo.savedLogs[0]
	if saved.RequestID != result.RequestID || saved.RowCount != 2 || saved.SHA1Hash == "" {
		t.Fatalf("unexpected saved log: %+v", saved)
	}
	if saved.ImageNames != `["a"]` {
		t.Fatalf("unexpected saved image names: %s", saved.ImageNames)
	}
}

func TestAnalyzeUploadReturnsOperationErrorOnCacheFailure(t *testing.T) {
	cache := &stubCache{setErrs: []error{errors.New("boom")}}
	repo := &stubRepository{}
	uc := newTestUseCase(repo, cache)

	_, err := uc.AnalyzeUpload(context.Background(), Upload{UserID: "user-1", Filename: "claims.csv", Data: []byte(sampleCSV)})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "cache.set.processing" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if len(repo.savedLogs) != 0 {
		t.Fatal("expected nothing persisted after cache failure")
	}
}

func TestAnalyzeUploadRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		upload Upload
		target error
	}{
		{"empty", Upload{Filename: "claims.csv"}, ErrEmptyUpload},
		{"extension", Upload{Filename: "claims.txt", Data: []byte("x")}, dataset.ErrUnsupportedFormat},
		{"header only", Upload{Filename: "claims.csv", Data: []byte("a,b\n")}, dataset.ErrEmptyDataset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := &stubCache{}
			uc := newTestUseCase(&stubRepository{}, cache)

			_, err := uc.AnalyzeUpload(context.Background(), tt.upload)
			if !errors.Is(err, tt.target) {
				t.Fatalf("expected %v, got %v", tt.target, err)
			}
			if len(cache.setKeys) != 0 {
				t.Fatalf("expected no cache writes, got %v", cache.setKeys)
			}
		})
	}
}

func TestAnalyzeUploadMarksDatasetErrorsInvalid(t *testing.T) {
	uc := newTestUseCase(&stubRepository{}, &stubCache{})
	_, err := uc.AnalyzeUpload(context.Background(), Upload{Filename: "claims.json", Data: []byte("{}")})
	if !errors.Is(err, ErrInvalidDataset) {
		t.Fatalf("expected ErrInvalidDataset, got %v", err)
	}
}

func TestGetResultReturnsCachedResultForOwner(t *testing.T) {
	avg := 42.0
	payload, _ := json.Marshal(Result{RequestID: "req", UserID: "user", Averages: analysis.Averages{"assured_age": &avg}})
	cache := &stubCache{getValues: []string{string(payload)}}
	repo := &stubRepository{}
	uc := newTestUseCase(repo, cache)

	result, err := uc.GetResult(context.Background(), "user", "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if got := result.Averages["assured_age"]; got == nil || *got != 42 {
		t.Fatalf("unexpected averages: %v", result.Averages)
	}
	if repo.findCalls != 0 {
		t.Fatalf("expected no repository lookup, got %d", repo.findCalls)
	}
	if cache.getKeys[0] != "analysis:req" {
		t.Fatalf("unexpected cache key: %s", cache.getKeys[0])
	}
}

func TestGetResultIgnoresCachedResultOfOtherUser(t *testing.T) {
	payload, _ := json.Marshal(Result{RequestID: "req", UserID: "someone-else"})
	cache := &stubCache{getValues: []string{string(payload)}}
	repo := &stubRepository{}
	uc := newTestUseCase(repo, cache)

	_, err := uc.GetResult(context.Background(), "user", "req")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository lookup, got %d", repo.findCalls)
	}
}

func TestGetResultFallsBackToRepositoryWhenCacheMiss(t *testing.T) {
	cache := &stubCache{getErrs: []error{ErrCacheMiss}}
	stored := &repository.AnalysisLog{
		RequestID:  "req",
		UserID:     "user",
		RowCount:   3,
		Averages:   `{"assured_age":40,"premium":null}`,
		ImageNames: `["Age Distribution of Policyholders"]`,
	}
	repo := &stubRepository{findLog: stored}
	uc := newTestUseCase(repo, cache)

	result, err := uc.GetResult(context.Background(), "user", "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository to be queried once, got %d", repo.findCalls)
	}
	if result.Rows != 3 || len(result.ImageNames) != 1 || result.Images != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Averages["premium"] != nil {
		t.Fatal("expected null premium average to stay nil")
	}
}

func TestGetResultSkipsProcessingMarker(t *testing.T) {
	cache := &stubCache{getValues: []string{processingMarker}}
	repo := &stubRepository{findLog: &repository.AnalysisLog{RequestID: "req", UserID: "user"}}
	uc := newTestUseCase(repo, cache)

	if _, err := uc.GetResult(context.Background(), "user", "req"); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository lookup, got %d", repo.findCalls)
	}
}

func TestGetDuplicateReport(t *testing.T) {
	repo := &stubRepository{
		findLog:    &repository.AnalysisLog{RequestID: "req", UserID: "user", SHA1Hash: "abc"},
		duplicates: []*repository.AnalysisLog{{RequestID: "older"}},
	}
	uc := newTestUseCase(repo, &stubCache{})

	report, err := uc.GetDuplicateReport(context.Background(), "user", "req")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Duplicates) != 1 || report.Duplicates[0].RequestID != "older" {
		t.Fatalf("unexpected duplicates: %+v", report.Duplicates)
	}
	if repo.dupArgs[0] != "user" || repo.dupArgs[1] != "abc" || repo.dupArgs[2] != "req" {
		t.Fatalf("unexpected duplicate query: %v", repo.dupArgs)
	}
}

func TestGetMetricsSummary(t *testing.T) {
	repo := &stubRepository{metrics: &repository.MetricsAggregation{TotalCount: 4, TotalRows: 10, AverageLatencyMs: 12.5}}
	uc := newTestUseCase(repo, &stubCache{})

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.AverageRowsPerAnalysis != 2.5 || summary.AverageProcessingLatencyMs != 12.5 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestAnalyzeUploadClearsProcessingMarkerOnFailure(t *testing.T) {
	cache := &stubCache{}
	uc := newTestUseCase(&stubRepository{}, cache)
	uc.analyze = func(ctx context.Context, ds *dataset.Dataset) (*analysis.Report, error) {
		return nil, errors.New("render failed")
	}

	_, err := uc.AnalyzeUpload(context.Background(), Upload{UserID: "u1", Filename: "claims.csv", Data: []byte(sampleCSV)})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(cache.setKeys) != 1 || cache.setValues[0] != processingMarker {
		t.Fatalf("expected only the processing marker to be set, got %v", cache.setValues)
	}
	if len(cache.delKeys) != 1 || cache.delKeys[0] != cache.setKeys[0] {
		t.Fatalf("expected processing marker %q to be deleted, got %v", cache.setKeys[0], cache.delKeys)
	}
}

func TestAnalyzeUploadKeepsResultKeyOnSuccess(t *testing.T) {
	cache := &stubCache{}
	uc := newTestUseCase(&stubRepository{}, cache)

	if _, err := uc.AnalyzeUpload(context.Background(), Upload{UserID: "u1", Filename: "claims.csv", Data: []byte(sampleCSV)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cache.delKeys) != 0 {
		t.Fatalf("expected no deletes after a stored result, got %v", cache.delKeys)
	}
}

func TestAnalyzeUploadSkipsNonFiniteCells(t *testing.T) {
	repo := &stubRepository{}
	cache := &stubCache{}
	uc := newTestUseCase(repo, cache)

	data := []byte("assured_age,premium,annual_income\n30,NaN,inf\n50,100,-Infinity\nnan,300,50000\n")
	result, err := uc.AnalyzeUpload(context.Background(), Upload{UserID: "u1", Filename: "claims.csv", Data: data})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	premium := result.Averages["premium"]
	if premium == nil || *premium != 200 {
		t.Fatalf("expected premium average 200, got %v", premium)
	}
	income := result.Averages["annual_income"]
	if income == nil || *income != 50000 {
		t.Fatalf("expected annual_income average 50000, got %v", income)
	}
	age := result.Averages["assured_age"]
	if age == nil || *age != 40 {
		t.Fatalf("expected assured_age average 40, got %v", age)
	}
	if len(repo.savedLogs) != 1 {
		t.Fatalf("expected log saved, got %d", len(repo.savedLogs))
	}
}
