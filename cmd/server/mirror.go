package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	persistlog "gridpush.dev/internal/persistence/log"
	"gridpush.dev/internal/persistence/r2s3"
)

// buildMirror returns nil unless GRIDPUSH_MIRROR is set. With a mirror, the
// journal rotates every minute so a lost host loses at most one segment.
func buildMirror(dataDir string, logger *zap.Logger) (*r2s3.Mirror, persistlog.Options, error) {
	if !envBool("GRIDPUSH_MIRROR", false) {
		return nil, persistlog.Options{}, nil
	}
	endpoint := strings.TrimSpace(os.Getenv("GRIDPUSH_MIRROR_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("GRIDPUSH_MIRROR_BUCKET"))
	accessKeyID := strings.TrimSpace(os.Getenv("GRIDPUSH_MIRROR_ACCESS_KEY_ID"))
	secretAccessKey := strings.TrimSpace(os.Getenv("GRIDPUSH_MIRROR_SECRET_ACCESS_KEY"))
	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, persistlog.Options{}, fmt.Errorf("GRIDPUSH_MIRROR=true but endpoint/bucket/credentials are not fully set")
	}
	client, err := r2s3.New(endpoint, bucket, accessKeyID, secretAccessKey)
	if err != nil {
		return nil, persistlog.Options{}, err
	}
	m := r2s3.NewMirror(client, dataDir, r2s3.MirrorOptions{
		Prefix:      os.Getenv("GRIDPUSH_MIRROR_PREFIX"),
		Workers:     envInt("GRIDPUSH_MIRROR_WORKERS", 2),
		EnqueueWait: time.Duration(envInt("GRIDPUSH_MIRROR_ENQUEUE_WAIT_MS", 25)) * time.Millisecond,
	}, logger)
	logger.Info("journal mirror enabled", zap.String("bucket", bucket))
	return m, persistlog.Options{RotateLayout: "2006-01-02-15-04", OnClose: m.Enqueue}, nil
}
