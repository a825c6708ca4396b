// Package gcs registers the "gcs" storage driver for Google Cloud Storage.
// Credentials come from the environment (Application Default Credentials).
package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob"

	"github.com/shashiranjanraj/filestore/pkg/storage"
	"github.com/shashiranjanraj/filestore/pkg/storage/cloud"
)

func init() {
	storage.Register(storage.DriverGCS, func(cfg storage.DiskConfig) (storage.Driver, error) {
		return New(cfg)
	})
}

// New returns a driver for cfg.Bucket. The bucket is opened on Init or on
// first use.
func New(cfg storage.DiskConfig) (*cloud.Driver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage/gcs: bucket name is required")
	}
	baseURL := cfg.PublicURL
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + cfg.Bucket
	}
	open := func(ctx context.Context) (*blob.Bucket, error) {
		return blob.OpenBucket(ctx, BucketURL(cfg))
	}
	return cloud.New(cfg, storage.DriverGCS, open, baseURL), nil
}

// BucketURL returns the gocloud URL for the disk's bucket. Key and Secret,
// when set, are the service account email and the path of its PEM private
// key, used to sign temporary URLs.
func BucketURL(cfg storage.DiskConfig) string {
	u := fmt.Sprintf("gs://%s", cfg.Bucket)
	q := url.Values{}
	if cfg.Key != "" {
		q.Set("access_id", cfg.Key)
	}
	if cfg.Secret != "" {
		q.Set("private_key_path", cfg.Secret)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}
