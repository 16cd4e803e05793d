package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/backend"
	"github.com/brahmalabs/baman-engine/pkg/logging"
	"github.com/brahmalabs/baman-engine/pkg/models"
	"github.com/brahmalabs/baman-engine/pkg/services/workqueue"
)

// DigestionConfig configures the digestion orchestrator.
type DigestionConfig struct {
	// Concurrency is the number of sources in flight per batch. Results are
	// committed in input order whatever the value.
	Concurrency int
	// MaxRetries for transient failures of one source. Zero means a failed
	// source is reported and skipped.
	MaxRetries int
}

// ParseSources splits raw source text on newlines and commas, trims every
// entry and drops empty ones. Duplicates are kept.
func ParseSources(raw string) ([]string, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ','
	})

	sources := make([]string, 0, len(fields))
	for _, f := range fields {
		if s := strings.TrimSpace(f); s != "" {
			sources = append(sources, s)
		}
	}
	if len(sources) == 0 {
		return nil, apperrors.NewValidationError("sources", "no sources given")
	}
	return sources, nil
}

// ItemError is the recoverable failure of one source in a batch.
type ItemError struct {
	Index  int    `json:"index"`
	Source string `json:"source"`
	Err    error  `json:"-"`
}

func (e ItemError) Error() string {
	return fmt.Sprintf("source %d (%s): %v", e.Index, logging.SanitizeURL(e.Source), e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// BatchProgress is the observable state of a batch. Digested counts
// processed sources, failed ones included, and only grows.
type BatchProgress struct {
	BatchID     string             `json:"batch_id"`
	AssistantID string             `json:"assistant_id"`
	Corpus      models.CorpusTag   `json:"corpus,omitempty"`
	Digested    int                `json:"digested"`
	Total       int                `json:"total"`
	Running     bool               `json:"running"`
	Errors      []string           `json:"errors,omitempty"`
	Queue       workqueue.Progress `json:"queue"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
}

// itemOutcome is the terminal result of one source.
type itemOutcome struct {
	artifact *models.ContentArtifact
	err      error
}

// Batch is one digestAll run. Sources may complete out of order when
// concurrency is above one; outcomes are committed strictly in input order
// into the view of the caller that started the batch.
type Batch struct {
	ID          string
	AssistantID string
	View        ViewKey
	Corpus      models.CorpusTag
	Sources     []string

	generation uint64
	store      *KnowledgeStore
	queue      *workqueue.Queue
	tasks      []*digestTask
	logger     *zap.Logger

	mu        sync.Mutex
	outcomes  []*itemOutcome
	next      int
	committed []models.ContentArtifact
	errs      []ItemError
	startedAt time.Time
	endedAt   *time.Time

	artifacts chan models.ContentArtifact
	done      chan struct{}
}

// Artifacts streams committed artifacts in input order. The channel is
// closed when the batch finishes.
func (b *Batch) Artifacts() <-chan models.ContentArtifact {
	return b.artifacts
}

// Done is closed when every source has been processed.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch finishes or ctx is done.
func (b *Batch) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the batch still has unprocessed sources.
func (b *Batch) Running() bool {
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

// StartedBy returns the user id of the caller that started the batch.
func (b *Batch) StartedBy() string {
	return b.View.UserID
}

// Progress returns a snapshot of the batch state.
func (b *Batch) Progress() BatchProgress {
	// The queue lock is taken before b.mu everywhere else; read the queue
	// counts first.
	queued := b.queue.Progress()

	b.mu.Lock()
	defer b.mu.Unlock()

	p := BatchProgress{
		BatchID:     b.ID,
		AssistantID: b.AssistantID,
		Corpus:      b.Corpus,
		Digested:    b.next,
		Total:       len(b.Sources),
		Running:     b.next < len(b.Sources),
		Queue:       queued,
		StartedAt:   b.startedAt,
		FinishedAt:  b.endedAt,
	}
	for _, e := range b.errs {
		p.Errors = append(p.Errors, e.Error())
	}
	return p
}

// Committed returns the artifacts added to the store so far, in input order.
func (b *Batch) Committed() []models.ContentArtifact {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneArtifacts(b.committed)
}

// Errors returns the per-source failures so far, in input order.
func (b *Batch) Errors() []ItemError {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ItemError, len(b.errs))
	copy(out, b.errs)
	return out
}

// Cancel stops sources that have not started. Cancelled sources are
// reported as failed.
func (b *Batch) Cancel() {
	b.queue.Cancel()
}

// onQueueUpdate records terminal task states. Called with the queue lock held.
func (b *Batch) onQueueUpdate(snapshots []workqueue.TaskSnapshot) {
	for _, snap := range snapshots {
		switch snap.Status {
		case workqueue.TaskStatusCompleted, workqueue.TaskStatusFailed, workqueue.TaskStatusCancelled:
		default:
			continue
		}
		task := b.tasks[snap.Seq]
		artifact, err := task.result()
		if snap.Status == workqueue.TaskStatusCancelled && err == nil {
			err = context.Canceled
		}
		b.record(snap.Seq, artifact, err)
	}
}

// record stores the outcome of source i and commits every outcome that is
// now contiguous with the commit cursor.
func (b *Batch) record(i int, artifact *models.ContentArtifact, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.outcomes[i] != nil {
		return
	}
	b.outcomes[i] = &itemOutcome{artifact: artifact, err: err}

	for b.next < len(b.outcomes) && b.outcomes[b.next] != nil {
		b.commitLocked(b.next, b.outcomes[b.next])
		b.next++
	}

	if b.next == len(b.outcomes) && b.endedAt == nil {
		now := time.Now()
		b.endedAt = &now
		close(b.artifacts)
		close(b.done)
		b.logger.Info("Digestion batch finished",
			zap.String("batch_id", b.ID),
			zap.String("assistant_id", b.AssistantID),
			zap.Int("total", len(b.Sources)),
			zap.Int("added", len(b.committed)),
			zap.Int("failed", len(b.errs)),
			zap.Duration("elapsed", now.Sub(b.startedAt)))
	}
}

func (b *Batch) commitLocked(i int, o *itemOutcome) {
	err := o.err
	if err == nil {
		err = b.store.AddArtifactAt(b.View, b.generation, b.Corpus, *o.artifact)
	}
	if err != nil {
		ie := ItemError{Index: i, Source: b.Sources[i], Err: err}
		b.errs = append(b.errs, ie)
		b.logger.Warn("Source not digested",
			zap.String("batch_id", b.ID),
			zap.Int("index", i),
			zap.String("source", logging.SanitizeURL(b.Sources[i])),
			zap.Error(err))
		return
	}

	b.committed = append(b.committed, *o.artifact)
	b.artifacts <- *o.artifact
}

// digestTask digests one source.
type digestTask struct {
	workqueue.BaseTask
	index  int
	source string
	batch  *Batch
	api    backend.API
	sess   *auth.SessionContext

	mu       sync.Mutex
	artifact *models.ContentArtifact
	err      error
}

func (t *digestTask) Execute(ctx context.Context) error {
	artifact, err := t.api.DigestSource(ctx, t.sess, t.source, t.batch.AssistantID, t.batch.Corpus)
	if err == nil {
		err = artifact.Validate()
	}

	t.mu.Lock()
	t.artifact, t.err = artifact, err
	t.mu.Unlock()
	return err
}

func (t *digestTask) result() (*models.ContentArtifact, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.artifact, t.err
}

// DigestionService drives source batches through the backend's digestion
// endpoint and feeds the resulting artifacts into the KnowledgeStore.
// At most one batch runs per assistant.
type DigestionService struct {
	api    backend.API
	store  *KnowledgeStore
	config DigestionConfig
	logger *zap.Logger

	retryBackoff time.Duration

	mu      sync.Mutex
	batches map[string]*Batch
}

// NewDigestionService creates a digestion orchestrator.
func NewDigestionService(api backend.API, store *KnowledgeStore, config DigestionConfig, logger *zap.Logger) *DigestionService {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &DigestionService{
		api:          api,
		store:        store,
		config:       config,
		logger:       logger.Named("digestion"),
		retryBackoff: 2 * time.Second,
		batches:      make(map[string]*Batch),
	}
}

// DigestAll starts a batch for the assistant and returns immediately. The
// caller's view of the assistant must be loaded in the KnowledgeStore; the
// batch feeds that view only. A second call while a batch for the same
// assistant is running fails with ErrBatchInProgress, whoever started it.
//
// The batch outlives ctx's cancellation; use Batch.Cancel or Cancel to stop it.
func (s *DigestionService) DigestAll(ctx context.Context, sess *auth.SessionContext, assistantID string, tag models.CorpusTag, sources []string) (*Batch, error) {
	if assistantID == "" {
		return nil, apperrors.NewValidationError("assistant_id", "required")
	}
	if !tag.Valid() {
		return nil, apperrors.NewValidationError("corpus", "must be own or supporting")
	}
	if len(sources) == 0 {
		return nil, apperrors.NewValidationError("sources", "no sources given")
	}
	for i, src := range sources {
		if strings.TrimSpace(src) == "" {
			return nil, apperrors.NewValidationError("sources", fmt.Sprintf("source %d is empty", i))
		}
	}

	view := ViewOf(sess, assistantID)
	generation, err := s.store.Generation(view)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.batches[assistantID]; ok && current.Running() {
		return nil, fmt.Errorf("assistant %s: %w", assistantID, apperrors.ErrBatchInProgress)
	}

	batch := &Batch{
		ID:          uuid.New().String(),
		AssistantID: assistantID,
		View:        view,
		Corpus:      tag,
		Sources:     append([]string(nil), sources...),
		generation:  generation,
		store:       s.store,
		logger:      s.logger,
		outcomes:    make([]*itemOutcome, len(sources)),
		startedAt:   time.Now(),
		artifacts:   make(chan models.ContentArtifact, len(sources)),
		done:        make(chan struct{}),
	}
	batch.queue = workqueue.New(s.logger,
		workqueue.WithContext(context.WithoutCancel(ctx)),
		workqueue.WithStrategy(workqueue.StrategyFor(s.config.Concurrency)),
		workqueue.WithRetryConfig(workqueue.RetryConfig{
			MaxRetries:     s.config.MaxRetries,
			InitialBackoff: s.retryBackoff,
			MaxBackoff:     30 * time.Second,
			BackoffFactor:  2.0,
		}))

	batch.tasks = make([]*digestTask, len(sources))
	for i, src := range batch.Sources {
		batch.tasks[i] = &digestTask{
			BaseTask: workqueue.NewBaseTask("digest " + logging.SanitizeURL(src)),
			index:    i,
			source:   src,
			batch:    batch,
			api:      s.api,
			sess:     sess,
		}
	}
	batch.queue.SetOnUpdate(batch.onQueueUpdate)

	s.batches[assistantID] = batch

	s.logger.Info("Digestion batch started",
		zap.String("batch_id", batch.ID),
		zap.String("assistant_id", assistantID),
		zap.String("user_id", view.UserID),
		zap.String("corpus", tag.String()),
		zap.Int("total", len(sources)),
		zap.Int("concurrency", s.config.Concurrency))

	for _, task := range batch.tasks {
		batch.queue.Enqueue(task)
	}

	return batch, nil
}

// Current returns the latest batch of the assistant, running or finished.
func (s *DigestionService) Current(assistantID string) (*Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[assistantID]
	return b, ok
}

// ActiveBatches returns the number of batches still running.
func (s *DigestionService) ActiveBatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		if b.Running() {
			n++
		}
	}
	return n
}

// IsRunning reports whether a batch is running for the assistant.
func (s *DigestionService) IsRunning(assistantID string) bool {
	b, ok := s.Current(assistantID)
	return ok && b.Running()
}

// Progress returns the progress of the assistant's latest batch. With no
// batch, the idle state {0, 0} is returned.
func (s *DigestionService) Progress(assistantID string) BatchProgress {
	if b, ok := s.Current(assistantID); ok {
		return b.Progress()
	}
	return BatchProgress{AssistantID: assistantID}
}

// CancelView stops the assistant's running batch if it feeds view. A batch
// started by another caller is left alone. It reports whether a batch was
// cancelled.
func (s *DigestionService) CancelView(view ViewKey) bool {
	b, ok := s.Current(view.AssistantID)
	if !ok || !b.Running() || b.View != view {
		return false
	}
	b.Cancel()
	return true
}

// Close cancels every running batch and waits for in-flight sources.
func (s *DigestionService) Close() {
	s.mu.Lock()
	batches := make([]*Batch, 0, len(s.batches))
	for _, b := range s.batches {
		batches = append(batches, b)
	}
	s.mu.Unlock()

	for _, b := range batches {
		b.queue.Close()
	}
}

// IsItemError reports whether err is a per-source batch failure.
func IsItemError(err error) bool {
	var ie ItemError
	return errors.As(err, &ie)
}
