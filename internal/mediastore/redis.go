package mediastore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fishroom/fishroom/internal/broker"
	"github.com/fishroom/fishroom/internal/store"
)

// maxBlobSize caps how large a blob the self-hosted store accepts. Larger
// uploads decline rather than bloating the broker.
const maxBlobSize = 4 << 20

// blobRecord is the JSON shape stored under <prefix>:media:<id>.
type blobRecord struct {
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}

// Redis is a self-hosted Store: blobs live in the broker under an id drawn
// from the shared counter, and Handler serves them back over HTTP under
// /media/<id>. It trades broker memory for zero external dependencies,
// the same shape as the self-hosted text-overflow store.
type Redis struct {
	client  broker.Client
	counter store.Counter
	prefix  string
	baseURL string
}

func NewRedis(client broker.Client, counter store.Counter, prefix, baseURL string) *Redis {
	return &Redis{client: client, counter: counter, prefix: prefix, baseURL: baseURL}
}

func (s *Redis) key(id string) string {
	return fmt.Sprintf("%s:media:%s", s.prefix, id)
}

func (s *Redis) Upload(ctx context.Context, name string, r io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBlobSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxBlobSize {
		return "", nil
	}

	n, err := s.counter.Incr(ctx, "media")
	if err != nil {
		return "", err
	}
	id := fmt.Sprintf("%d-%s", n, name)

	rec, err := json.Marshal(blobRecord{
		ContentType: contentType,
		Data:        base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.key(id), string(rec)); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/media/%s", s.baseURL, id), nil
}

// Handler serves stored blobs under GET /media/<id>.
func (s *Redis) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/media/"), "/")
		if id == "" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		raw, ok, err := s.client.Get(r.Context(), s.key(id))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var rec blobRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			http.Error(w, "corrupt blob", http.StatusInternalServerError)
			return
		}
		data, err := base64.StdEncoding.DecodeString(rec.Data)
		if err != nil {
			http.Error(w, "corrupt blob", http.StatusInternalServerError)
			return
		}
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		_, _ = w.Write(data)
	})
}
