package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/claim-insights/internal/uploader"
)

func newAnalysisServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile(uploader.FileField); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"No file uploaded."}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"request_id":"req-1","message":"ok","Averages":{"premium":120.5},"images":{"Age Distribution of Policyholders":"aGVsbG8="}}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func writeDataset(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("assured_age,premium\n40,120.5\n"), 0o644); err != nil {
		t.Fatalf("failed to write dataset: %v", err)
	}
	return path
}

func TestRunUploadWritesGallery(t *testing.T) {
	server := newAnalysisServer(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "gallery.html")

	opts := &uploadOptions{endpoint: server.URL, timeout: 5 * time.Second, out: out}
	if err := runUpload(context.Background(), opts, []string{writeDataset(t, dir, "claims.csv")}, zap.NewNop()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	page, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("gallery not written: %v", err)
	}
	html := string(page)
	if !strings.Contains(html, `src="data:image/jpeg;base64,aGVsbG8="`) {
		t.Fatalf("expected data URI image, got %s", html)
	}
	if !strings.Contains(html, "width:300px") {
		t.Fatalf("expected display width, got %s", html)
	}
	if strings.Contains(html, `id="uploadForm"`) {
		t.Fatal("static gallery should not carry the upload form")
	}
}

func TestRunUploadReportsMissingFileAndKeepsGood(t *testing.T) {
	server := newAnalysisServer(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "gallery.html")

	opts := &uploadOptions{endpoint: server.URL, timeout: 5 * time.Second, out: out}
	files := []string{writeDataset(t, dir, "claims.csv"), filepath.Join(dir, "missing.csv")}
	err := runUpload(context.Background(), opts, files, zap.NewNop())
	if !errors.Is(err, uploader.ErrNoFile) {
		t.Fatalf("expected ErrNoFile, got %v", err)
	}
	if !strings.Contains(err.Error(), "no_file") {
		t.Fatalf("expected error kind in message, got %v", err)
	}
	if _, statErr := os.Stat(out); statErr != nil {
		t.Fatalf("expected gallery from the successful upload: %v", statErr)
	}
}

func TestRunUploadNothingSucceededWritesNothing(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "gallery.html")

	opts := &uploadOptions{endpoint: "http://127.0.0.1:1/file-upload", timeout: time.Second, out: out}
	err := runUpload(context.Background(), opts, []string{filepath.Join(dir, "missing.csv")}, zap.NewNop())
	if !errors.Is(err, uploader.ErrNoFile) {
		t.Fatalf("expected ErrNoFile, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatalf("expected no gallery file, got %v", statErr)
	}
}

func TestUploadCommandRejectsBadEndpoint(t *testing.T) {
	dir := t.TempDir()
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"upload", "--endpoint", "not-a-url", "--out", filepath.Join(dir, "g.html"), writeDataset(t, dir, "claims.csv")})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected endpoint validation error")
	}
}

func TestUploadCommandRequiresFiles(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"upload"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected argument error")
	}
}
