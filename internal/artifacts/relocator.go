package artifacts

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
)

// maxArtifactBytes bounds a single download so a misbehaving provider can
// never exhaust memory.
const maxArtifactBytes = 64 << 20

type uploader interface {
	UploadObject(ctx context.Context, bucket, object, contentType string, body io.Reader) (string, error)
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Relocator copies provider-hosted artifacts into durable storage. It is
// strictly best-effort: every failure is logged and the original reference
// is kept, so a relocation problem never fails a finished task.
type Relocator struct {
	gcs    uploader
	client httpDoer
	bucket string
	logg   *logger.Logger
	now    func() time.Time
}

// NewRelocator builds an artifact relocator targeting the given bucket.
func NewRelocator(gcs uploader, client httpDoer, bucket string, logg *logger.Logger) (*Relocator, error) {
	if gcs == nil {
		return nil, fmt.Errorf("gcs uploader required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Relocator{
		gcs:    gcs,
		client: client,
		bucket: bucket,
		logg:   logg,
		now:    time.Now,
	}, nil
}

// Relocate moves each reference into the bucket and returns the final set of
// references in the original order. A reference that cannot be moved stays
// as-is. Never returns an error.
func (r *Relocator) Relocate(ctx context.Context, userID uuid.UUID, refs []string) []string {
	if len(refs) == 0 {
		return refs
	}
	timestamp := r.now().UnixNano()
	out := make([]string, len(refs))
	for i, ref := range refs {
		key := fmt.Sprintf("users/%s/%d-%d.png", userID, timestamp, i)
		durable, err := r.relocateOne(ctx, ref, key)
		if err != nil {
			r.warn(ctx, ref, key, err)
			out[i] = ref
			continue
		}
		out[i] = durable
	}
	return out
}

func (r *Relocator) relocateOne(ctx context.Context, ref, key string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "data:"):
		return r.relocateInline(ctx, ref, key)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return r.relocateRemote(ctx, ref, key)
	default:
		return "", fmt.Errorf("unsupported reference scheme")
	}
}

func (r *Relocator) relocateRemote(ctx context.Context, ref, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download artifact: status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	body := io.LimitReader(resp.Body, maxArtifactBytes)
	return r.gcs.UploadObject(ctx, r.bucket, key, contentType, body)
}

// relocateInline handles synchronous providers that return the image bytes
// directly as a data URI instead of a hosted URL.
func (r *Relocator) relocateInline(ctx context.Context, ref, key string) (string, error) {
	comma := strings.IndexByte(ref, ',')
	if comma < 0 {
		return "", fmt.Errorf("malformed data uri")
	}
	meta, payload := ref[len("data:"):comma], ref[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return "", fmt.Errorf("unsupported data uri encoding")
	}
	contentType := strings.TrimSuffix(meta, ";base64")
	if contentType == "" {
		contentType = "image/png"
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decode data uri: %w", err)
	}
	return r.gcs.UploadObject(ctx, r.bucket, key, contentType, strings.NewReader(string(decoded)))
}

func (r *Relocator) warn(ctx context.Context, ref, key string, err error) {
	if r.logg == nil {
		return
	}
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"destination_key": key,
		"inline":          strings.HasPrefix(ref, "data:"),
	})
	r.logg.Warn(logCtx, fmt.Sprintf("artifact relocation skipped: %v", err))
}
