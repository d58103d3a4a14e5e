package attach

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrTooManyImages means the batch exceeds the per-message image cap.
	ErrTooManyImages = errors.New("too many images in batch")
	// ErrImageTooLarge means at least one file exceeds the per-image byte cap.
	ErrImageTooLarge = errors.New("image exceeds size limit")
	// ErrStaleBatch means the composer session changed while files were
	// still being encoded; the results must be discarded.
	ErrStaleBatch = errors.New("composer session changed during encode")
)

// Pipeline stages image batches for a single compose action. A batch is
// all-or-nothing: limits are checked before any file is read, and a batch
// that violates them yields zero attachments. Encoding runs one goroutine
// per file; the caller gets the results only once every file has finished,
// so a partial batch can never race into two different messages.
type Pipeline struct {
	maxImages int
	maxBytes  int64
	logger    *zap.Logger

	mu      sync.Mutex
	session uint64
}

// NewPipeline creates a pipeline enforcing the given batch limits.
func NewPipeline(maxImages int, maxBytes int64, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{maxImages: maxImages, maxBytes: maxBytes, logger: logger}
}

// Reset starts a new composer session. Encodes still in flight from the
// previous session will return ErrStaleBatch instead of their results.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.session++
	p.mu.Unlock()
}

func (p *Pipeline) currentSession() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// StageImages validates and encodes a batch of image files. On success all
// files are returned in input order; on any failure no attachments are
// returned.
func (p *Pipeline) StageImages(ctx context.Context, paths []string) ([]Attachment, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	if len(paths) > p.maxImages {
		return nil, fmt.Errorf("%w: %d files, limit %d", ErrTooManyImages, len(paths), p.maxImages)
	}
	return p.stageWithToken(ctx, p.currentSession(), paths)
}

func (p *Pipeline) stageWithToken(ctx context.Context, token uint64, paths []string) ([]Attachment, error) {
	// Size-check the whole batch before reading anything.
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Size() > p.maxBytes {
			return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrImageTooLarge, filepath.Base(path), info.Size(), p.maxBytes)
		}
	}

	type result struct {
		att Attachment
		err error
	}

	results := make([]result, len(paths))
	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			att, err := p.encodeOne(ctx, path)
			results[i] = result{att: att, err: err}
		}(i, path)
	}
	wg.Wait()

	// The batch is only usable if the composer session is unchanged.
	if p.currentSession() != token {
		p.logger.Debug("discarding stale image batch", zap.Int("files", len(paths)))
		return nil, ErrStaleBatch
	}

	atts := make([]Attachment, 0, len(paths))
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		atts = append(atts, r.att)
	}
	return atts, nil
}

func (p *Pipeline) encodeOne(ctx context.Context, path string) (Attachment, error) {
	if err := ctx.Err(); err != nil {
		return Attachment{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("read %s: %w", path, err)
	}
	// Re-check after read: the file may have grown since Stat.
	if int64(len(data)) > p.maxBytes {
		return Attachment{}, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrImageTooLarge, filepath.Base(path), len(data), p.maxBytes)
	}
	uri := "data:" + mimeForPath(path) + ";base64," + base64.StdEncoding.EncodeToString(data)
	return ImageAttachment(&Image{DataURI: uri, SizeBytes: int64(len(data))}), nil
}

func mimeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
