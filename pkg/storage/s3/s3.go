// Package s3 registers the "s3" storage driver for S3-compatible object
// storage: AWS S3, MinIO, DigitalOcean Spaces, Cloudflare R2.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/shashiranjanraj/filestore/pkg/storage"
)

const defaultRegion = "us-east-1"

func init() {
	storage.Register(storage.DriverS3, func(cfg storage.DiskConfig) (storage.Driver, error) {
		return New(cfg)
	})
}

// Driver is the S3 driver. Directories are simulated with "dir/" keys.
type Driver struct {
	storage.Base

	client  *s3.Client
	bucket  string
	baseURL string
}

// New builds a client from cfg. Key and Secret switch to static
// credentials; Endpoint switches to path-style addressing for MinIO and
// friends.
func New(cfg storage.DiskConfig) (*Driver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage/s3: bucket name is required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(region),
	}
	if cfg.Key != "" && cfg.Secret != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, ""),
		))
	}

	awsConf, err := awscfg.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("storage/s3: load config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	baseURL := cfg.PublicURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.amazonaws.com", cfg.Bucket)
	}

	return &Driver{
		Base:    storage.NewBase(cfg),
		client:  s3.NewFromConfig(awsConf, clientOpts...),
		bucket:  cfg.Bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Bucket returns the bucket name.
func (d *Driver) Bucket() string { return d.bucket }

// Client exposes the underlying SDK client.
func (d *Driver) Client() *s3.Client { return d.client }

// key maps path to an object key. Keys that climb above the bucket root or
// name the root itself are rejected.
func key(path string) (string, error) {
	k, err := storage.CleanFile(path)
	if err != nil {
		return "", fmt.Errorf("storage/s3: %w", err)
	}
	return k, nil
}

func prefix(dir string) (string, error) {
	p, err := storage.CleanPath(dir)
	if err != nil {
		return "", fmt.Errorf("storage/s3: %w", err)
	}
	if p != "" {
		p += "/"
	}
	return p, nil
}

// copySource escapes each key segment for the x-amz-copy-source header.
// PathEscape leaves '+' alone, which S3 would read back as a space.
func copySource(bucket, k string) string {
	segs := strings.Split(k, "/")
	for i, s := range segs {
		segs[i] = strings.ReplaceAll(url.PathEscape(s), "+", "%2B")
	}
	return bucket + "/" + strings.Join(segs, "/")
}

// countReader counts bytes as the uploader pulls them.
type countReader struct {
	io.Reader
	n int64
}

func (r *countReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	r.n += int64(n)
	return n, err
}

// wrap maps the service's not-found and credential codes onto the storage
// errors and passes everything else through.
func wrap(op, path string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			err = storage.ErrFileNotFound
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "AccessDenied":
			err = fmt.Errorf("%w: %s", storage.ErrUnauthenticated, apiErr.ErrorMessage())
		}
	}
	return fmt.Errorf("storage/s3: %s %s: %w", op, path, err)
}

func (d *Driver) head(ctx context.Context, path string) (*s3.HeadObjectOutput, error) {
	k, err := key(path)
	if err != nil {
		return nil, err
	}
	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		return nil, wrap("head", path, err)
	}
	return out, nil
}

// ── Write ─────────────────────────────────────────────────────────────────────

// Put uploads r. Seekable readers go up in a single PutObject; anything
// else is streamed through the multipart uploader, which holds at most a
// few parts in memory.
func (d *Driver) Put(ctx context.Context, path string, r io.Reader) (storage.Metadata, error) {
	k, err := key(path)
	if err != nil {
		return nil, err
	}
	body, ok := r.(io.ReadSeeker)
	if !ok {
		return d.upload(ctx, path, k, r)
	}
	size, err := body.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("storage/s3: seek %s: %w", path, err)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("storage/s3: seek %s: %w", path, err)
	}

	out, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(k),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return nil, wrap("put", path, err)
	}
	return storage.Metadata{
		"size": size,
		"etag": aws.ToString(out.ETag),
	}, nil
}

func (d *Driver) upload(ctx context.Context, path, k string, r io.Reader) (storage.Metadata, error) {
	body := &countReader{Reader: r}
	out, err := manager.NewUploader(d.client).Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(k),
		Body:   body,
	})
	if err != nil {
		return nil, wrap("put", path, err)
	}
	return storage.Metadata{
		"size": body.n,
		"etag": aws.ToString(out.ETag),
	}, nil
}

// ── Read ──────────────────────────────────────────────────────────────────────

func (d *Driver) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	k, err := key(path)
	if err != nil {
		return nil, err
	}
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		return nil, wrap("get", path, err)
	}
	return out.Body, nil
}

func (d *Driver) ImageStats(ctx context.Context, path string, keepBuffer bool) (*storage.ImageStats, error) {
	rc, err := d.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return storage.ReadImageStats(rc, keepBuffer)
}

// ── Metadata ──────────────────────────────────────────────────────────────────

func (d *Driver) Exists(ctx context.Context, path string) (bool, error) {
	_, err := d.head(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrFileNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (d *Driver) Size(ctx context.Context, path string) (int64, error) {
	out, err := d.head(ctx, path)
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (d *Driver) LastModified(ctx context.Context, path string) (int64, error) {
	out, err := d.head(ctx, path)
	if err != nil {
		return 0, err
	}
	return aws.ToTime(out.LastModified).UnixMilli(), nil
}

func (d *Driver) URL(path string) string {
	return d.baseURL + "/" + strings.TrimLeft(path, "/")
}

// TemporaryURL returns a presigned GET URL.
func (d *Driver) TemporaryURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	k, err := key(path)
	if err != nil {
		return "", err
	}
	req, err := s3.NewPresignClient(d.client).PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(k),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", wrap("presign", path, err)
	}
	return req.URL, nil
}

// ── Delete ────────────────────────────────────────────────────────────────────

// Delete removes path. S3 deletes are idempotent, so existence is checked
// first to report missing files.
func (d *Driver) Delete(ctx context.Context, path string) error {
	if _, err := d.head(ctx, path); err != nil {
		return err
	}
	k, _ := key(path)
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		return wrap("delete", path, err)
	}
	return nil
}

// ── Copy / Move ───────────────────────────────────────────────────────────────

func (d *Driver) Copy(ctx context.Context, src, dst string) error {
	from, err := key(src)
	if err != nil {
		return err
	}
	to, err := key(dst)
	if err != nil {
		return err
	}
	_, err = d.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		CopySource: aws.String(copySource(d.bucket, from)),
		Key:        aws.String(to),
	})
	if err != nil {
		return wrap("copy", src, err)
	}
	return nil
}

func (d *Driver) Move(ctx context.Context, src, dst string) error {
	if err := d.Copy(ctx, src, dst); err != nil {
		return err
	}
	return d.Delete(ctx, src)
}

// ── Directories ───────────────────────────────────────────────────────────────

// MakeDir writes an empty "dir/" placeholder object.
func (d *Driver) MakeDir(ctx context.Context, dir string) (string, error) {
	p, err := prefix(dir)
	if err != nil {
		return "", err
	}
	if p == "" {
		return dir, nil
	}
	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(p),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return "", wrap("mkdir", dir, err)
	}
	return dir, nil
}

// RemoveDir deletes every object under dir, placeholder included.
func (d *Driver) RemoveDir(ctx context.Context, dir string) (string, error) {
	c, err := storage.CleanRemovableDir(dir)
	if err != nil {
		return "", fmt.Errorf("storage/s3: %w", err)
	}
	keys, err := d.keys(ctx, c+"/", "")
	if err != nil {
		return "", wrap("rmdir", dir, err)
	}

	// DeleteObjects takes at most 1000 keys per call.
	for len(keys) > 0 {
		n := min(len(keys), 1000)
		objs := make([]types.ObjectIdentifier, n)
		for i, k := range keys[:n] {
			objs[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}
		_, err := d.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.bucket),
			Delete: &types.Delete{Objects: objs, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return "", wrap("rmdir", dir, err)
		}
		keys = keys[n:]
	}
	return dir, nil
}

// List returns object keys under dir, skipping directory placeholders.
func (d *Driver) List(ctx context.Context, dir string, recursive bool) ([]string, error) {
	delimiter := "/"
	if recursive {
		delimiter = ""
	}
	p, err := prefix(dir)
	if err != nil {
		return nil, err
	}
	keys, err := d.keys(ctx, p, delimiter)
	if err != nil {
		return nil, wrap("list", dir, err)
	}
	out := keys[:0]
	for _, k := range keys {
		if !strings.HasSuffix(k, "/") {
			out = append(out, k)
		}
	}
	return out, nil
}

func (d *Driver) keys(ctx context.Context, pfx, delimiter string) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(pfx),
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}
