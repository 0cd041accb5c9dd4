package uploader

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/example/claim-insights/internal/gallery"
)

// FileUploader is the part of Client a Session needs.
type FileUploader interface {
	UploadFile(ctx context.Context, path string) (*Response, error)
}

// Session binds an uploader to an image container. Submissions are
// serialized: the upload and the container replace of one call finish before
// the next call starts, so overlapping submits cannot interleave writes.
type Session struct {
	uploader  FileUploader
	container *gallery.Container
	logger    *zap.Logger
	sem       chan struct{}
}

// NewSession creates a Session rendering into container.
func NewSession(uploader FileUploader, container *gallery.Container, logger *zap.Logger) *Session {
	return &Session{
		uploader:  uploader,
		container: container,
		logger:    logger.Named("upload_session"),
		sem:       make(chan struct{}, 1),
	}
}

// Submit uploads the file and, on success, replaces the container contents
// with the returned images. On any failure the container is not touched and
// the error is reported to the logger and returned.
func (s *Session) Submit(ctx context.Context, path string) (*Response, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()

	resp, err := s.uploader.UploadFile(ctx, path)
	if err != nil {
		fields := []zap.Field{zap.String("file", path), zap.String("kind", Kind(err)), zap.Error(err)}
		var respErr *ResponseError
		if errors.As(err, &respErr) {
			fields = append(fields, zap.Int("status", respErr.StatusCode), zap.ByteString("payload", respErr.Payload))
		}
		s.logger.Error("upload failed", fields...)
		return nil, err
	}

	s.logger.Info("analysis results",
		zap.String("request_id", resp.RequestID),
		zap.Any("averages", resp.Averages),
		zap.Int("images", len(resp.Images)),
	)

	if err := s.container.Replace(resp.RequestID, resp.Images, resp.Averages); err != nil {
		s.logger.Error("rejected response images", zap.String("request_id", resp.RequestID), zap.Error(err))
		return nil, err
	}
	return resp, nil
}

// Container returns the container the session renders into.
func (s *Session) Container() *gallery.Container {
	return s.container
}
