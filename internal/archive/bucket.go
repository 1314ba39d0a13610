/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package archive

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("archive object not found")

// Bucket is the object storage the archive writes to.
type Bucket interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns ErrNotFound for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete returns ErrNotFound for a missing key.
	Delete(ctx context.Context, key string) error
	// List returns keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendNone   = ""
	BackendS3     = "s3"
	BackendGCS    = "gcs"
	BackendAzure  = "azure"
	BackendMemory = "memory"
)

// BucketConfig selects and configures a backend.
type BucketConfig struct {
	Backend string
	// Bucket is the S3/GCS bucket or the Azure container.
	Bucket string

	// S3
	Region          string
	Endpoint        string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string

	// GCS
	CredentialsJSON []byte

	// Azure
	AccountName string
	AccountKey  string
}

// Open creates the configured bucket. It returns nil for BackendNone.
func Open(ctx context.Context, cfg BucketConfig) (Bucket, error) {
	switch cfg.Backend {
	case BackendNone:
		return nil, nil
	case BackendS3:
		return NewS3Bucket(ctx, cfg)
	case BackendGCS:
		return NewGCSBucket(ctx, cfg)
	case BackendAzure:
		return NewAzureBucket(cfg)
	case BackendMemory:
		return NewMemoryBucket(), nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}
