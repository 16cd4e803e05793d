package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/logging"
	"github.com/brahmalabs/baman-engine/pkg/models"
	"github.com/brahmalabs/baman-engine/pkg/services/workerpool"
	"github.com/brahmalabs/baman-engine/pkg/storage"
)

// FileStatus tracks one file of an upload call.
type FileStatus struct {
	Name     string `json:"name"`
	InFlight bool   `json:"in_flight"`
	URL      string `json:"url,omitempty"`
	Err      error  `json:"-"`
	Error    string `json:"error,omitempty"`
}

// Uploaded reports whether the file has a URL.
func (s FileStatus) Uploaded() bool {
	return s.URL != "" && s.Err == nil
}

// UploadObserver receives a copy of every file's status whenever one changes.
type UploadObserver func([]FileStatus)

// UploadDigestResult is the outcome of UploadAndDigest.
type UploadDigestResult struct {
	Files []FileStatus
	Batch *Batch
}

// UploadService uploads local files to storage and hands the resulting URLs
// to digestion.
type UploadService struct {
	uploader  storage.Uploader
	digestion *DigestionService
	pool      *workerpool.Pool
	logger    *zap.Logger
}

// NewUploadService creates an upload service. concurrency bounds the number
// of files uploading at once.
func NewUploadService(uploader storage.Uploader, digestion *DigestionService, concurrency int, logger *zap.Logger) *UploadService {
	named := logger.Named("uploads")
	return &UploadService{
		uploader:  uploader,
		digestion: digestion,
		pool:      workerpool.New(workerpool.Config{MaxConcurrent: concurrency}, named),
		logger:    named,
	}
}

// Upload uploads a single file.
func (s *UploadService) Upload(ctx context.Context, sess *auth.SessionContext, file storage.File) (string, error) {
	return s.uploader.Upload(ctx, sess, file)
}

// UploadAll uploads files concurrently. Each file is independent: one failure
// does not affect the others. The returned statuses are in input order.
func (s *UploadService) UploadAll(ctx context.Context, sess *auth.SessionContext, files []storage.File, observe UploadObserver) []FileStatus {
	if len(files) == 0 {
		return nil
	}

	var mu sync.Mutex
	statuses := make([]FileStatus, len(files))
	for i, f := range files {
		statuses[i] = FileStatus{Name: f.Name}
	}

	update := func(i int, fn func(*FileStatus)) {
		mu.Lock()
		defer mu.Unlock()
		fn(&statuses[i])
		if observe != nil {
			observe(append([]FileStatus(nil), statuses...))
		}
	}

	items := make([]workerpool.WorkItem[string], len(files))
	for i, f := range files {
		items[i] = workerpool.WorkItem[string]{
			ID: f.Name,
			Execute: func(ctx context.Context) (string, error) {
				update(i, func(st *FileStatus) { st.InFlight = true })
				url, err := s.uploader.Upload(ctx, sess, f)
				update(i, func(st *FileStatus) {
					st.InFlight = false
					st.URL = url
					st.Err = err
					if err != nil {
						st.Error = err.Error()
					}
				})
				return url, err
			},
		}
	}

	results := workerpool.Process(ctx, s.pool, items, nil)

	// Items cancelled before they started never ran Execute.
	for _, r := range results {
		if r.Err != nil && statuses[r.Index].Err == nil {
			update(r.Index, func(st *FileStatus) {
				st.Err = r.Err
				st.Error = r.Err.Error()
			})
		}
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]FileStatus(nil), statuses...)
}

// UploadAndDigest uploads every file, drops the ones that failed and digests
// the remaining URLs in the original file order. When no file uploads, the
// result carries the statuses and the error wraps ErrUploadFailed.
func (s *UploadService) UploadAndDigest(ctx context.Context, sess *auth.SessionContext, assistantID string, tag models.CorpusTag, files []storage.File, observe UploadObserver) (*UploadDigestResult, error) {
	if len(files) == 0 {
		return nil, apperrors.NewValidationError("files", "no files given")
	}
	if !tag.Valid() {
		return nil, apperrors.NewValidationError("corpus", "must be own or supporting")
	}
	if s.digestion.IsRunning(assistantID) {
		return nil, fmt.Errorf("assistant %s: %w", assistantID, apperrors.ErrBatchInProgress)
	}

	statuses := s.UploadAll(ctx, sess, files, observe)
	result := &UploadDigestResult{Files: statuses}

	var urls []string
	var failures []error
	for _, st := range statuses {
		if st.Uploaded() {
			urls = append(urls, st.URL)
			continue
		}
		failures = append(failures, fmt.Errorf("%s: %w", st.Name, st.Err))
		s.logger.Warn("File dropped from digestion",
			zap.String("assistant_id", assistantID),
			zap.String("file", st.Name),
			zap.String("error", logging.SanitizeError(st.Err)))
	}

	if len(urls) == 0 {
		return result, fmt.Errorf("no file uploaded: %w", errors.Join(append([]error{apperrors.ErrUploadFailed}, failures...)...))
	}

	batch, err := s.digestion.DigestAll(ctx, sess, assistantID, tag, urls)
	if err != nil {
		return result, err
	}
	result.Batch = batch
	return result, nil
}
