package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shashiranjanraj/filestore/pkg/http"
)

// FetchTimeout bounds each HTTP attempt of UploadFromExternalURI up to the
// response headers.
var FetchTimeout = 30 * time.Second

// UploadFromExternalURI downloads uri and stores it at path on d. Unless
// ignoreContentType is set the resource must announce an image content
// type, otherwise ErrNotAnImage is returned and nothing is written. The
// body is piped straight into Put.
func UploadFromExternalURI(ctx context.Context, d Driver, uri, path string, ignoreContentType bool) (Metadata, error) {
	if !ignoreContentType {
		head, err := http.Head(uri).WithContext(ctx).Timeout(FetchTimeout).Send()
		if err != nil {
			return nil, err
		}
		if err := head.Throw(); err != nil {
			return nil, fmt.Errorf("storage: head %s: %w", uri, err)
		}
		if !strings.Contains(head.Header("Content-Type"), "image") {
			return nil, fmt.Errorf("%w: %s", ErrNotAnImage, uri)
		}
	}

	body, resp, err := http.Get(uri).WithContext(ctx).Timeout(FetchTimeout).Stream()
	if err != nil {
		return nil, err
	}
	defer body.Close()
	if err := resp.Throw(); err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", uri, err)
	}

	return d.Put(ctx, path, body)
}
