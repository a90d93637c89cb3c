package uploads

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"catchup/internal/models"
)

const (
	DefaultTempFileTTL             = 24 * time.Hour
	DefaultTempFileCleanupInterval = time.Hour
)

// Retention decides what happens to an upload once its request is done.
type Retention string

const (
	RetainDelete Retention = "delete"
	RetainKeep   Retention = "keep"
)

// ErrUnsupportedKind is returned for extensions outside the allowed set.
var ErrUnsupportedKind = errors.New("unsupported file type")

var allowedExtensions = map[string]models.FileKind{
	".png":  models.KindImage,
	".jpg":  models.KindImage,
	".jpeg": models.KindImage,
	".pdf":  models.KindPDF,
}

// KindOf maps a filename to its extractor route, case-insensitively.
func KindOf(filename string) (models.FileKind, bool) {
	kind, ok := allowedExtensions[strings.ToLower(filepath.Ext(filename))]
	return kind, ok
}

// Store saves uploads under one directory and applies the retention policy.
type Store struct {
	baseDir   string
	retention Retention
	ttl       time.Duration
	logger    *zap.Logger

	mu sync.Mutex // serializes name reservation
}

func NewStore(baseDir string, retention Retention, ttl time.Duration, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention == "" {
		retention = RetainDelete
	}
	if ttl <= 0 {
		ttl = DefaultTempFileTTL
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{baseDir: baseDir, retention: retention, ttl: ttl, logger: logger}, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string {
	return s.baseDir
}

// Save persists a multipart file under a sanitized, unique name.
func (s *Store) Save(file *multipart.FileHeader) (*models.Upload, error) {
	kind, ok := KindOf(file.Filename)
	if !ok {
		return nil, ErrUnsupportedKind
	}
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(file.Filename))
	name := SecureFilename(file.Filename)
	if name == "" || filepath.Ext(name) != ext {
		name = uuid.NewString() + ext
	}

	s.mu.Lock()
	destPath, finalName, err := s.reserve(name)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}
	size, copyErr := dst.ReadFrom(src)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(destPath)
		return nil, fmt.Errorf("save upload: %w", errors.Join(copyErr, closeErr))
	}
	s.logger.Debug("upload saved", zap.String("path", destPath), zap.Int64("size", size))
	return &models.Upload{
		FileName:   finalName,
		StoredPath: destPath,
		Kind:       kind,
		Size:       size,
	}, nil
}

// Release is called once a request no longer needs its upload.
func (s *Store) Release(upload *models.Upload) {
	if upload == nil || s.retention != RetainDelete {
		return
	}
	if err := os.Remove(upload.StoredPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("remove upload failed", zap.String("path", upload.StoredPath), zap.Error(err))
	}
}

// reserve creates an empty file at the first free name so concurrent
// requests with the same filename never share a path.
func (s *Store) reserve(filename string) (string, string, error) {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	candidate := filename
	for idx := 1; idx <= 1000; idx++ {
		path := filepath.Join(s.baseDir, candidate)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			return path, candidate, nil
		}
		if !os.IsExist(err) {
			return "", "", fmt.Errorf("create upload file: %w", err)
		}
		candidate = fmt.Sprintf("%s (%d)%s", base, idx, ext)
	}
	candidate = fmt.Sprintf("%s-%s%s", base, uuid.NewString(), ext)
	path := filepath.Join(s.baseDir, candidate)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", "", fmt.Errorf("create upload file: %w", err)
	}
	_ = f.Close()
	return path, candidate, nil
}

// StartCleaner sweeps files older than the TTL. It does nothing under the
// delete policy, where uploads never outlive their request.
func (s *Store) StartCleaner(ctx context.Context, interval time.Duration) {
	if s.retention != RetainKeep {
		return
	}
	if interval <= 0 {
		interval = DefaultTempFileCleanupInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Store) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.cleanupExpired(time.Now()); err != nil {
				s.logger.Error("cleanup uploads failed", zap.Error(err))
			}
		}
	}
}

func (s *Store) cleanupExpired(now time.Time) (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < s.ttl {
			continue
		}
		path := filepath.Join(s.baseDir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove expired upload failed", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

var (
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// SecureFilename reduces a client filename to a flat, safe name: path
// separators become spaces, whitespace becomes "_", anything outside
// [A-Za-z0-9._-] is dropped, and leading/trailing dots and underscores are
// trimmed. The extension is lower-cased so extension routing stays exact.
func SecureFilename(name string) string {
	name = strings.ReplaceAll(name, "/", " ")
	name = strings.ReplaceAll(name, "\\", " ")
	name = whitespace.ReplaceAllString(strings.TrimSpace(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	if name == "" {
		return ""
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + strings.ToLower(ext)
}
