package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/backend"
	"github.com/brahmalabs/baman-engine/pkg/jsonutil"
	"github.com/brahmalabs/baman-engine/pkg/models"
)

// AssistantRegistry is the local view of assistants. It caches metadata and
// membership per caller view; the corpora live in the KnowledgeStore. A
// caller is served cached state only after the backend has answered a
// request made with that caller's credential. Every mutation goes to the
// backend first and is applied locally only once confirmed.
type AssistantRegistry struct {
	api       backend.API
	store     *KnowledgeStore
	digestion *DigestionService
	logger    *zap.Logger

	mu         sync.RWMutex
	assistants map[ViewKey]*models.Assistant
}

// NewAssistantRegistry creates an empty registry.
func NewAssistantRegistry(api backend.API, store *KnowledgeStore, digestion *DigestionService, logger *zap.Logger) *AssistantRegistry {
	return &AssistantRegistry{
		api:        api,
		store:      store,
		digestion:  digestion,
		logger:     logger.Named("assistants"),
		assistants: make(map[ViewKey]*models.Assistant),
	}
}

// Get fetches the assistant, loads both corpora into the KnowledgeStore and
// returns it with the corpora as the store holds them.
func (r *AssistantRegistry) Get(ctx context.Context, sess *auth.SessionContext, assistantID string) (*models.Assistant, error) {
	if assistantID == "" {
		return nil, apperrors.NewValidationError("assistant_id", "required")
	}

	view := ViewOf(sess, assistantID)

	a, err := r.api.GetAssistant(ctx, sess, assistantID)
	if err != nil {
		if errors.Is(err, apperrors.ErrForbidden) || errors.Is(err, apperrors.ErrNotFound) {
			// Access is gone; so is anything cached for this caller.
			r.Forget(view)
		}
		return nil, fmt.Errorf("get assistant %s: %w", assistantID, err)
	}
	if a == nil {
		r.Forget(view)
		return nil, fmt.Errorf("assistant %s: %w", assistantID, apperrors.ErrNotFound)
	}
	a.ID = jsonutil.FlexibleString(assistantID)

	r.store.Load(view, a)
	r.cache(view, a)

	return r.compose(view)
}

// Cached returns the caller's locally known view of the assistant without
// a backend call.
func (r *AssistantRegistry) Cached(view ViewKey) (*models.Assistant, bool) {
	a, err := r.compose(view)
	return a, err == nil
}

// List returns the dashboard rows for the caller: the teacher's own
// assistants, or the assistants a student may use.
func (r *AssistantRegistry) List(ctx context.Context, sess *auth.SessionContext) ([]models.AssistantSummary, error) {
	if sess == nil || sess.Claims == nil {
		return nil, auth.ErrNoSession
	}

	var (
		list []models.AssistantSummary
		err  error
	)
	switch {
	case sess.Claims.IsTeacher():
		list, err = r.api.ListAssistants(ctx, sess)
	case sess.Claims.IsStudent():
		list, err = r.api.ListStudentAssistants(ctx, sess)
	default:
		return nil, fmt.Errorf("role %q: %w", sess.Claims.Role, apperrors.ErrForbidden)
	}
	if err != nil {
		return nil, fmt.Errorf("list assistants: %w", err)
	}
	if list == nil {
		list = []models.AssistantSummary{}
	}
	return list, nil
}

// Create registers a new assistant for the calling teacher.
func (r *AssistantRegistry) Create(ctx context.Context, sess *auth.SessionContext, meta models.AssistantMetadata) models.Result[*models.Assistant] {
	meta.Subject = strings.TrimSpace(meta.Subject)
	meta.ClassName = strings.TrimSpace(meta.ClassName)
	if meta.Subject == "" {
		return models.Failed[*models.Assistant](apperrors.NewValidationError("subject", "required"))
	}
	if meta.ClassName == "" {
		return models.Failed[*models.Assistant](apperrors.NewValidationError("class_name", "required"))
	}

	id, err := r.api.CreateAssistant(ctx, sess, meta)
	if err != nil {
		return models.Failed[*models.Assistant](fmt.Errorf("create assistant: %w", err))
	}
	if id == "" {
		return models.Failed[*models.Assistant](&apperrors.BackendError{Op: "create_assistant", Message: "no assistant id returned"})
	}

	view := ViewOf(sess, id)
	a := &models.Assistant{
		ID:                jsonutil.FlexibleString(id),
		Subject:           meta.Subject,
		ClassName:         meta.ClassName,
		About:             meta.About,
		ProfileImage:      meta.ProfileImage,
		Teacher:           sess.UserID(),
		AllowedStudents:   []string{},
		OwnContent:        []models.ContentArtifact{},
		SupportingContent: []models.ContentArtifact{},
	}
	r.store.Load(view, a)
	r.cache(view, a)

	r.logger.Info("Assistant created",
		zap.String("assistant_id", id),
		zap.String("subject", meta.Subject),
		zap.String("class_name", meta.ClassName))

	return r.result(view)
}

// AddStudent grants studentID access to the assistant.
func (r *AssistantRegistry) AddStudent(ctx context.Context, sess *auth.SessionContext, assistantID, studentID string) models.Result[*models.Assistant] {
	return r.changeMembership(ctx, sess, assistantID, studentID, true)
}

// RemoveStudent revokes studentID's access to the assistant. Once the
// backend confirms, the student's view is dropped so nothing cached is
// served to them.
func (r *AssistantRegistry) RemoveStudent(ctx context.Context, sess *auth.SessionContext, assistantID, studentID string) models.Result[*models.Assistant] {
	return r.changeMembership(ctx, sess, assistantID, studentID, false)
}

func (r *AssistantRegistry) changeMembership(ctx context.Context, sess *auth.SessionContext, assistantID, studentID string, add bool) models.Result[*models.Assistant] {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return models.Failed[*models.Assistant](apperrors.NewValidationError("student_id", "required"))
	}
	if err := r.EnsureLoaded(ctx, sess, assistantID); err != nil {
		return models.Failed[*models.Assistant](err)
	}
	view := ViewOf(sess, assistantID)

	var err error
	if add {
		_, err = r.api.AddStudent(ctx, sess, assistantID, studentID)
	} else {
		_, err = r.api.RemoveStudent(ctx, sess, assistantID, studentID)
	}
	if err != nil {
		return models.Failed[*models.Assistant](fmt.Errorf("update membership of %s: %w", assistantID, err))
	}

	r.mu.Lock()
	if a, ok := r.assistants[view]; ok {
		if add {
			if !a.HasStudent(studentID) {
				a.AllowedStudents = append(a.AllowedStudents, studentID)
			}
		} else {
			kept := make([]string, 0, len(a.AllowedStudents))
			for _, s := range a.AllowedStudents {
				if s != studentID {
					kept = append(kept, s)
				}
			}
			a.AllowedStudents = kept
		}
	}
	r.mu.Unlock()

	if !add {
		r.Forget(ViewKey{AssistantID: assistantID, UserID: studentID})
	}

	r.logger.Info("Assistant membership changed",
		zap.String("assistant_id", assistantID),
		zap.String("student_id", studentID),
		zap.Bool("added", add))

	return r.result(view)
}

// Update changes assistant metadata. An empty patch is rejected.
func (r *AssistantRegistry) Update(ctx context.Context, sess *auth.SessionContext, assistantID string, patch models.AssistantPatch) models.Result[*models.Assistant] {
	if patch.IsEmpty() {
		return models.Failed[*models.Assistant](apperrors.NewValidationError("patch", "nothing to update"))
	}
	if err := r.EnsureLoaded(ctx, sess, assistantID); err != nil {
		return models.Failed[*models.Assistant](err)
	}

	view := ViewOf(sess, assistantID)

	updated, err := r.api.UpdateAssistant(ctx, sess, assistantID, patch)
	if err != nil {
		return models.Failed[*models.Assistant](fmt.Errorf("update assistant %s: %w", assistantID, err))
	}

	r.mu.Lock()
	if a, ok := r.assistants[view]; ok {
		if updated != nil {
			meta := stripCorpora(updated)
			meta.ID = jsonutil.FlexibleString(assistantID)
			if updated.AllowedStudents == nil {
				meta.AllowedStudents = a.AllowedStudents
			}
			*a = *meta
		} else {
			patch.ApplyTo(a)
		}
	}
	r.mu.Unlock()

	return r.result(view)
}

// Forget drops one caller's view of an assistant: cached metadata, corpora
// and the running digestion batch if it feeds that view. Other callers'
// views and batches are untouched.
func (r *AssistantRegistry) Forget(view ViewKey) {
	r.mu.Lock()
	delete(r.assistants, view)
	r.mu.Unlock()

	r.digestion.CancelView(view)
	r.store.Discard(view)
}

// EnsureLoaded fetches the assistant with the caller's credential unless
// the caller's view is already loaded.
func (r *AssistantRegistry) EnsureLoaded(ctx context.Context, sess *auth.SessionContext, assistantID string) error {
	if assistantID == "" {
		return apperrors.NewValidationError("assistant_id", "required")
	}
	if sess == nil || sess.Claims == nil {
		return auth.ErrNoSession
	}
	view := ViewOf(sess, assistantID)
	if _, ok := r.Cached(view); ok && r.store.IsLoaded(view) {
		return nil
	}
	_, err := r.Get(ctx, sess, assistantID)
	return err
}

// CancelDigestion cancels the assistant's running batch. Only the caller
// that started it or the assistant's teacher may do so. It reports whether
// a running batch was cancelled.
func (r *AssistantRegistry) CancelDigestion(ctx context.Context, sess *auth.SessionContext, assistantID string) (bool, error) {
	if err := r.EnsureLoaded(ctx, sess, assistantID); err != nil {
		return false, err
	}

	b, ok := r.digestion.Current(assistantID)
	if !ok || !b.Running() {
		return false, nil
	}
	if b.StartedBy() != sess.UserID() {
		a, ok := r.Cached(ViewOf(sess, assistantID))
		if !ok || a.Teacher != sess.UserID() {
			return false, fmt.Errorf("cancel digestion of %s: %w", assistantID, apperrors.ErrForbidden)
		}
	}

	b.Cancel()
	r.logger.Info("Digestion batch cancelled",
		zap.String("assistant_id", assistantID),
		zap.String("batch_id", b.ID),
		zap.String("user_id", sess.UserID()))
	return true, nil
}

func (r *AssistantRegistry) cache(view ViewKey, a *models.Assistant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assistants[view] = stripCorpora(a)
}

// result reports the confirmed state. A view forgotten during the backend
// call makes the result stale.
func (r *AssistantRegistry) result(view ViewKey) models.Result[*models.Assistant] {
	a, err := r.compose(view)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			err = fmt.Errorf("assistant %s: %w", view.AssistantID, apperrors.ErrStaleSession)
		}
		return models.Failed[*models.Assistant](err)
	}
	return models.Ok(a)
}

// compose returns a copy of the cached metadata with the view's corpora.
func (r *AssistantRegistry) compose(view ViewKey) (*models.Assistant, error) {
	r.mu.RLock()
	cached, ok := r.assistants[view]
	var a models.Assistant
	if ok {
		a = *cached
		a.AllowedStudents = append([]string{}, cached.AllowedStudents...)
		a.Channels = append([]string(nil), cached.Channels...)
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("assistant %s not loaded: %w", view.AssistantID, apperrors.ErrNotFound)
	}

	for _, tag := range models.AllCorpora {
		items, err := r.store.ListCorpus(view, tag)
		if err != nil {
			return nil, err
		}
		if tag == models.CorpusOwn {
			a.OwnContent = items
		} else {
			a.SupportingContent = items
		}
	}
	return &a, nil
}

func stripCorpora(a *models.Assistant) *models.Assistant {
	meta := *a
	meta.OwnContent = nil
	meta.SupportingContent = nil
	meta.AllowedStudents = append([]string{}, a.AllowedStudents...)
	meta.Channels = append([]string(nil), a.Channels...)
	return &meta
}
