package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/claim-insights/internal/gallery"
	"github.com/example/claim-insights/internal/uploader"
)

type uploadOptions struct {
	endpoint string
	token    string
	timeout  time.Duration
	out      string
}

func newUploadCmd(root *rootOptions) *cobra.Command {
	opts := &uploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload each file in turn and write the gallery of the last successful one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := root.logger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runUpload(ctx, opts, args, logger)
		},
	}
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", envOr("INSIGHTS_ENDPOINT", defaultEndpoint), "upload endpoint URL")
	cmd.Flags().StringVar(&opts.token, "token", os.Getenv("INSIGHTS_TOKEN"), "bearer token sent with each upload")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "per-upload timeout")
	cmd.Flags().StringVar(&opts.out, "out", "gallery.html", "path of the rendered gallery page")
	return cmd
}

func runUpload(ctx context.Context, opts *uploadOptions, files []string, logger *zap.Logger) error {
	client, err := uploader.NewClient(opts.endpoint,
		uploader.WithBearerToken(opts.token),
		uploader.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	container := gallery.NewContainer()
	session := uploader.NewSession(client, container, logger)

	var failed []error
	for _, file := range files {
		uploadCtx, cancel := context.WithTimeout(ctx, opts.timeout)
		_, err := session.Submit(uploadCtx, file)
		cancel()
		if err != nil {
			failed = append(failed, fmt.Errorf("%s (%s): %w", file, uploader.Kind(err), err))
		}
	}

	if container.Version() > 0 {
		var buf bytes.Buffer
		if err := gallery.RenderContainer(&buf, container, ""); err != nil {
			return err
		}
		if err := os.WriteFile(opts.out, buf.Bytes(), 0o644); err != nil {
			return err
		}
		logger.Info("gallery written",
			zap.String("path", opts.out),
			zap.String("request_id", container.Snapshot().RequestID),
			zap.Int("images", len(container.Images())),
		)
	}
	return errors.Join(failed...)
}
