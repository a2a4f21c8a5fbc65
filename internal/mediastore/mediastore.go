// Package mediastore abstracts the image/file hosting collaborator
// adapters use when forwarding a photo or sticker to a protocol that
// cannot reach the source adapter's native URL directly. External
// providers (Qiniu, Imgur, S3, ...) are out of scope for this repository;
// the interface, a no-op fake, and a self-hosted broker-backed store are
// implemented here.
package mediastore

import (
	"context"
	"io"
)

// Store uploads bytes under a caller-chosen name and returns a URL other
// adapters can fetch them from. An empty URL with a nil error means the
// store declined to host the blob; the caller degrades to text.
type Store interface {
	Upload(ctx context.Context, name string, r io.Reader, contentType string) (url string, err error)
}

// Null is a Store that hosts nothing: every Upload declines. A convenient
// fake in tests.
type Null struct{}

func (Null) Upload(_ context.Context, _ string, _ io.Reader, _ string) (string, error) {
	return "", nil
}

// PassThroughURL wraps a URL known to be reachable by the recipient
// adapter already, so no upload is necessary.
type PassThroughURL struct{ URL string }

func (p PassThroughURL) Upload(_ context.Context, _ string, _ io.Reader, _ string) (string, error) {
	return p.URL, nil
}
