package services

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/backend"
	"github.com/brahmalabs/baman-engine/pkg/models"
)

// DetailView identifies the artifact currently open in the detail view.
type DetailView struct {
	Corpus     models.CorpusTag `json:"corpus"`
	ArtifactID string           `json:"artifact_id"`
}

// ViewKey identifies one caller's view of one assistant. Views are never
// shared between callers; each is filled from a backend response made with
// that caller's credential.
type ViewKey struct {
	AssistantID string
	UserID      string
}

// ViewOf returns the key of the caller's view of the assistant.
func ViewOf(sess *auth.SessionContext, assistantID string) ViewKey {
	return ViewKey{AssistantID: assistantID, UserID: sess.UserID()}
}

// assistantView is one caller's local view of an assistant's corpora.
type assistantView struct {
	generation uint64
	corpora    map[models.CorpusTag][]models.ContentArtifact
	selected   models.CorpusTag
	open       *DetailView
}

func newAssistantView(generation uint64) *assistantView {
	return &assistantView{
		generation: generation,
		corpora: map[models.CorpusTag][]models.ContentArtifact{
			models.CorpusOwn:        {},
			models.CorpusSupporting: {},
		},
		selected: models.CorpusOwn,
	}
}

// indexOf returns the position of id in the corpus, or -1.
func (v *assistantView) indexOf(tag models.CorpusTag, id string) int {
	for i := range v.corpora[tag] {
		if v.corpora[tag][i].ArtifactID() == id {
			return i
		}
	}
	return -1
}

// KnowledgeStore holds, per caller view, the assistant's own/supporting
// corpora, the currently displayed corpus and the open detail view.
//
// Every view has a generation. Discard bumps it, so continuations that
// captured an older generation fail with apperrors.ErrStaleSession instead of
// mutating a view that is no longer active.
type KnowledgeStore struct {
	mu      sync.Mutex
	views   map[ViewKey]*assistantView
	nextGen uint64

	backend backend.API
	logger  *zap.Logger
}

// NewKnowledgeStore creates an empty store.
func NewKnowledgeStore(api backend.API, logger *zap.Logger) *KnowledgeStore {
	return &KnowledgeStore{
		views:   make(map[ViewKey]*assistantView),
		backend: api,
		logger:  logger.Named("knowledge"),
	}
}

// Load replaces the corpora of the view with what the backend returned.
// The generation of an existing view is kept so running batches stay valid.
func (s *KnowledgeStore) Load(key ViewKey, a *models.Assistant) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	view, ok := s.views[key]
	if !ok {
		s.nextGen++
		view = newAssistantView(s.nextGen)
		s.views[key] = view
	}
	view.corpora[models.CorpusOwn] = cloneArtifacts(a.OwnContent)
	view.corpora[models.CorpusSupporting] = cloneArtifacts(a.SupportingContent)

	if view.open != nil && view.indexOf(view.open.Corpus, view.open.ArtifactID) < 0 {
		view.open = nil
	}

	s.logger.Debug("Loaded assistant corpora",
		zap.String("assistant_id", key.AssistantID),
		zap.String("user_id", key.UserID),
		zap.Int("own", len(a.OwnContent)),
		zap.Int("supporting", len(a.SupportingContent)))

	return view.generation
}

// IsLoaded reports whether the view exists.
func (s *KnowledgeStore) IsLoaded(key ViewKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.views[key]
	return ok
}

// Generation returns the current generation of the view.
func (s *KnowledgeStore) Generation(key ViewKey) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	view, err := s.viewLocked(key)
	if err != nil {
		return 0, err
	}
	return view.generation, nil
}

// Discard drops the view. Continuations holding its generation become
// stale. Other callers' views of the same assistant are untouched.
func (s *KnowledgeStore) Discard(key ViewKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.views, key)
}

// ListCorpus returns a copy of the corpus in display order.
func (s *KnowledgeStore) ListCorpus(key ViewKey, tag models.CorpusTag) ([]models.ContentArtifact, error) {
	if !tag.Valid() {
		return nil, apperrors.NewValidationError("corpus", "must be own or supporting")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	view, err := s.viewLocked(key)
	if err != nil {
		return nil, err
	}
	return cloneArtifacts(view.corpora[tag]), nil
}

// SelectCorpus switches the displayed corpus and returns its artifacts.
func (s *KnowledgeStore) SelectCorpus(key ViewKey, tag models.CorpusTag) ([]models.ContentArtifact, error) {
	if !tag.Valid() {
		return nil, apperrors.NewValidationError("corpus", "must be own or supporting")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	view, err := s.viewLocked(key)
	if err != nil {
		return nil, err
	}
	view.selected = tag
	return cloneArtifacts(view.corpora[tag]), nil
}

// SelectedCorpus returns the displayed corpus tag.
func (s *KnowledgeStore) SelectedCorpus(key ViewKey) (models.CorpusTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view, err := s.viewLocked(key)
	if err != nil {
		return 0, err
	}
	return view.selected, nil
}

// AddArtifact appends an artifact to the current view.
func (s *KnowledgeStore) AddArtifact(key ViewKey, tag models.CorpusTag, artifact models.ContentArtifact) error {
	gen, err := s.Generation(key)
	if err != nil {
		return err
	}
	return s.AddArtifactAt(key, gen, tag, artifact)
}

// AddArtifactAt appends an artifact if the view still has the given
// generation. An artifact whose id is already present in the same corpus
// replaces that entry; one present in the other corpus is a conflict.
func (s *KnowledgeStore) AddArtifactAt(key ViewKey, generation uint64, tag models.CorpusTag, artifact models.ContentArtifact) error {
	if !tag.Valid() {
		return apperrors.NewValidationError("corpus", "must be own or supporting")
	}
	if err := artifact.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	view, ok := s.views[key]
	if !ok || view.generation != generation {
		return fmt.Errorf("add artifact to %s: %w", key.AssistantID, apperrors.ErrStaleSession)
	}

	id := artifact.ArtifactID()
	if view.indexOf(tag.Other(), id) >= 0 {
		return fmt.Errorf("artifact %s already in %s corpus: %w", id, tag.Other(), apperrors.ErrConflict)
	}

	if i := view.indexOf(tag, id); i >= 0 {
		view.corpora[tag][i] = artifact
		return nil
	}
	view.corpora[tag] = append(view.corpora[tag], artifact)
	return nil
}

// OpenDetail opens an artifact in the detail view.
func (s *KnowledgeStore) OpenDetail(key ViewKey, tag models.CorpusTag, artifactID string) (models.ContentArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view, err := s.viewLocked(key)
	if err != nil {
		return models.ContentArtifact{}, err
	}
	i := view.indexOf(tag, artifactID)
	if i < 0 {
		return models.ContentArtifact{}, fmt.Errorf("artifact %s in %s corpus: %w", artifactID, tag, apperrors.ErrNotFound)
	}
	view.open = &DetailView{Corpus: tag, ArtifactID: artifactID}
	return view.corpora[tag][i], nil
}

// CloseDetail closes the detail view, if any.
func (s *KnowledgeStore) CloseDetail(key ViewKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if view, ok := s.views[key]; ok {
		view.open = nil
	}
}

// OpenDetailView returns the artifact currently open, if any.
func (s *KnowledgeStore) OpenDetailView(key ViewKey) (DetailView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	view, ok := s.views[key]
	if !ok || view.open == nil {
		return DetailView{}, false
	}
	return *view.open, true
}

// DeleteArtifact deletes an artifact on the backend and then removes it from
// the caller's view, closing the detail view if it showed that artifact.
// An artifact that is not in the view yields ErrNotFound without any
// backend call.
func (s *KnowledgeStore) DeleteArtifact(ctx context.Context, sess *auth.SessionContext, assistantID string, tag models.CorpusTag, artifactID string) error {
	key := ViewOf(sess, assistantID)
	if !tag.Valid() {
		return apperrors.NewValidationError("corpus", "must be own or supporting")
	}

	s.mu.Lock()
	view, err := s.viewLocked(key)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if view.indexOf(tag, artifactID) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("artifact %s in %s corpus: %w", artifactID, tag, apperrors.ErrNotFound)
	}
	generation := view.generation
	s.mu.Unlock()

	if _, err := s.backend.DeleteContent(ctx, sess, assistantID, artifactID, tag); err != nil {
		return fmt.Errorf("delete artifact %s: %w", artifactID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	view, ok := s.views[key]
	if !ok || view.generation != generation {
		s.logger.Info("Artifact deleted after view was discarded",
			zap.String("assistant_id", assistantID),
			zap.String("artifact_id", artifactID))
		return nil
	}

	if i := view.indexOf(tag, artifactID); i >= 0 {
		view.corpora[tag] = append(view.corpora[tag][:i:i], view.corpora[tag][i+1:]...)
	}
	if view.open != nil && view.open.Corpus == tag && view.open.ArtifactID == artifactID {
		view.open = nil
	}

	s.logger.Info("Artifact deleted",
		zap.String("assistant_id", assistantID),
		zap.String("corpus", tag.String()),
		zap.String("artifact_id", artifactID))
	return nil
}

func (s *KnowledgeStore) viewLocked(key ViewKey) (*assistantView, error) {
	view, ok := s.views[key]
	if !ok {
		return nil, fmt.Errorf("assistant %s not loaded: %w", key.AssistantID, apperrors.ErrNotFound)
	}
	return view, nil
}

func cloneArtifacts(in []models.ContentArtifact) []models.ContentArtifact {
	out := make([]models.ContentArtifact, len(in))
	copy(out, in)
	return out
}
