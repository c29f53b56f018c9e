package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"headcount/internal/config"
	"headcount/internal/logger"
	"headcount/internal/pipeline"
)

// uploadPrefix marks files owned by the upload service so the sweeper never
// touches anything else in the directory.
const uploadPrefix = "upload-"

// UploadService stores request bodies in a temporary directory under
// server-generated names and sweeps files left behind by crashed runs.
type UploadService struct {
	dir      string
	ttl      time.Duration
	interval time.Duration
	logger   *logger.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// NewUploadService creates the upload directory if needed.
func NewUploadService(cfg *config.Config, logger *logger.Logger) (*UploadService, error) {
	if err := os.MkdirAll(cfg.UploadDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &UploadService{
		dir:      cfg.UploadDirectory,
		ttl:      cfg.UploadTTL,
		interval: cfg.SweepInterval,
		logger:   logger,
		active:   make(map[string]struct{}),
	}, nil
}

// Persist copies r to a fresh file. An empty body leaves nothing behind and
// returns pipeline.ErrEmptyUpload.
func (s *UploadService) Persist(ctx context.Context, r io.Reader) (pipeline.Upload, error) {
	path := filepath.Join(s.dir, uploadPrefix+uuid.NewString())

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}

	n, copyErr := io.Copy(f, &ctxReader{ctx: ctx, r: r})
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if n == 0 {
		_ = os.Remove(path)
		return nil, pipeline.ErrEmptyUpload
	}

	s.mu.Lock()
	s.active[path] = struct{}{}
	s.mu.Unlock()

	return &upload{path: path, size: n, done: s.forget}, nil
}

func (s *UploadService) forget(path string) {
	s.mu.Lock()
	delete(s.active, path)
	s.mu.Unlock()
}

// Active reports how many uploads are persisted and not yet released.
func (s *UploadService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Run starts a ticker loop that periodically sweeps orphaned uploads until
// ctx is done.
func (s *UploadService) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(time.Now())
		}
	}
}

// Sweep removes upload files older than the TTL that no run holds.
func (s *UploadService) Sweep(now time.Time) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("Error reading upload directory: %v", err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), uploadPrefix) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())

		s.mu.Lock()
		_, busy := s.active[path]
		s.mu.Unlock()
		if busy {
			continue
		}

		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) < s.ttl {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Error("Error removing orphaned upload %s: %v", entry.Name(), err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("Swept %d orphaned uploads", removed)
	}
	return removed
}

type upload struct {
	path string
	size int64
	once sync.Once
	err  error
	done func(string)
}

func (u *upload) Path() string { return u.path }
func (u *upload) Size() int64  { return u.size }

func (u *upload) Release() error {
	u.once.Do(func() {
		if err := os.Remove(u.path); err != nil && !os.IsNotExist(err) {
			u.err = fmt.Errorf("failed to remove upload: %w", err)
		}
		u.done(u.path)
	})
	return u.err
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
