// Package media stores uploaded images on local disk or in an S3 bucket.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxUploadSize caps a single upload.
const MaxUploadSize = 10 << 20

var (
	// ErrUnsupportedType is returned for anything that is not a web image.
	ErrUnsupportedType = errors.New("unsupported media type")

	// ErrTooLarge is returned for uploads over MaxUploadSize.
	ErrTooLarge = errors.New("upload too large")
)

// Store saves an upload and returns the URL it is served from.
type Store interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// Extension returns the file extension for an accepted content type.
func Extension(contentType string) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	ext, ok := extensions[ct]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	return ext, nil
}

// Key builds the object key <yyyy>/<mm>/<uuid><ext> for an upload made at t.
func Key(t time.Time, contentType string) (string, error) {
	ext, err := Extension(contentType)
	if err != nil {
		return "", err
	}
	t = t.UTC()
	return fmt.Sprintf("%04d/%02d/%s%s", t.Year(), int(t.Month()), uuid.NewString(), ext), nil
}

// readLimited reads at most MaxUploadSize bytes.
func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

// checkContent rejects data whose leading bytes are not the declared image type.
func checkContent(contentType string, data []byte) error {
	want, err := Extension(contentType)
	if err != nil {
		return err
	}
	detected := http.DetectContentType(data)
	if got, err := Extension(detected); err != nil || got != want {
		return fmt.Errorf("%w: declared %q, content is %q", ErrUnsupportedType, contentType, detected)
	}
	return nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
