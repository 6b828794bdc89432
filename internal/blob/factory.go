package blob

import (
	"context"
	"fmt"
	"strings"

	"tracecore/internal/infra/blob/fs"
	"tracecore/internal/infra/blob/memory"
	"tracecore/internal/infra/blob/s3"
)

// Config selects a backend; it mirrors the blob.* configuration keys.
//
//	blob.driver: fs|s3|memory (default fs)
//	blob.root: directory when driver=fs (default ./data/blobs)
//	blob.bucket, blob.region, blob.endpoint, blob.prefix: driver=s3
//
// S3 credentials come from AccessKeyID/SecretAccessKey when set, otherwise
// from the default AWS chain (AWS_ACCESS_KEY_ID etc).
type Config struct {
	Driver          string
	Root            string
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// Open returns the Store selected by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := Driver(strings.ToLower(strings.TrimSpace(cfg.Driver)))
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		store, err := fs.New(cfg.Root)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverMemory:
		return memory.New(), nil
	case DriverS3:
		store, err := s3.New(ctx, s3.Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			Prefix:          cfg.Prefix,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			PathStyle:       cfg.Endpoint != "",
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
