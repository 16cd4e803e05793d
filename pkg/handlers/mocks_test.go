package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
	"github.com/brahmalabs/baman-engine/pkg/audit"
	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/backend"
	"github.com/brahmalabs/baman-engine/pkg/jsonutil"
	"github.com/brahmalabs/baman-engine/pkg/models"
	"github.com/brahmalabs/baman-engine/pkg/repositories"
	"github.com/brahmalabs/baman-engine/pkg/services"
	"github.com/brahmalabs/baman-engine/pkg/storage"
)

// fakeBackend is an in-memory backend.API for handler tests.
type fakeBackend struct {
	mu         sync.Mutex
	assistants map[string]*models.Assistant
	nextID     int
	// coTeachers may read every assistant besides its teacher and students.
	coTeachers []string

	digest func(ctx context.Context, src string) (*models.ContentArtifact, error)
	reply  func(req backend.ChatRequest) (*backend.ChatResponse, error)

	conversations map[string]*models.Conversation
}

var _ backend.API = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		assistants:    make(map[string]*models.Assistant),
		conversations: make(map[string]*models.Conversation),
	}
}

func (f *fakeBackend) put(a *models.Assistant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assistants[a.ID.String()] = a
}

func (f *fakeBackend) GetAssistant(ctx context.Context, sess *auth.SessionContext, id string) (*models.Assistant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assistants[id]
	if !ok {
		return nil, &apperrors.BackendError{Op: "get assistant", Status: http.StatusNotFound, Message: "no such assistant"}
	}
	user := sess.UserID()
	if user != a.Teacher && !a.HasStudent(user) && !slices.Contains(f.coTeachers, user) {
		return nil, &apperrors.BackendError{Op: "get assistant", Status: http.StatusForbidden, Message: "not a member"}
	}
	cp := *a
	cp.AllowedStudents = append([]string{}, a.AllowedStudents...)
	cp.OwnContent = append([]models.ContentArtifact{}, a.OwnContent...)
	cp.SupportingContent = append([]models.ContentArtifact{}, a.SupportingContent...)
	return &cp, nil
}

func (f *fakeBackend) ListAssistants(ctx context.Context, sess *auth.SessionContext) ([]models.AssistantSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AssistantSummary
	for _, a := range f.assistants {
		if a.Teacher == sess.UserID() {
			out = append(out, models.AssistantSummary{ID: a.ID, Subject: a.Subject, ClassName: a.ClassName, Teacher: a.Teacher})
		}
	}
	return out, nil
}

func (f *fakeBackend) ListStudentAssistants(ctx context.Context, sess *auth.SessionContext) ([]models.AssistantSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AssistantSummary
	for _, a := range f.assistants {
		if a.HasStudent(sess.UserID()) {
			out = append(out, models.AssistantSummary{ID: a.ID, Subject: a.Subject, ClassName: a.ClassName, Teacher: a.Teacher})
		}
	}
	return out, nil
}

func (f *fakeBackend) CreateAssistant(ctx context.Context, sess *auth.SessionContext, meta models.AssistantMetadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("a%d", f.nextID)
	f.assistants[id] = &models.Assistant{
		ID:        jsonutil.FlexibleString(id),
		Subject:   meta.Subject,
		ClassName: meta.ClassName,
		Teacher:   sess.UserID(),
	}
	return id, nil
}

func (f *fakeBackend) UpdateAssistant(ctx context.Context, sess *auth.SessionContext, id string, patch models.AssistantPatch) (*models.Assistant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assistants[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	patch.ApplyTo(a)
	return nil, nil
}

func (f *fakeBackend) AddStudent(ctx context.Context, sess *auth.SessionContext, aid, sid string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assistants[aid]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	a.AllowedStudents = append(a.AllowedStudents, sid)
	return "Student added", nil
}

func (f *fakeBackend) RemoveStudent(ctx context.Context, sess *auth.SessionContext, aid, sid string) (string, error) {
	return "Student removed", nil
}

func (f *fakeBackend) DigestSource(ctx context.Context, sess *auth.SessionContext, src, aid string, tag models.CorpusTag) (*models.ContentArtifact, error) {
	if f.digest != nil {
		return f.digest(ctx, src)
	}
	return &models.ContentArtifact{
		ID:        jsonutil.FlexibleString("c-" + src),
		Title:     src,
		SourceURL: src,
		Digests:   []models.Digest{},
	}, nil
}

func (f *fakeBackend) DeleteContent(ctx context.Context, sess *auth.SessionContext, aid, cid string, tag models.CorpusTag) (string, error) {
	return "Content deleted", nil
}

func (f *fakeBackend) SendChat(ctx context.Context, sess *auth.SessionContext, req backend.ChatRequest) (*backend.ChatResponse, error) {
	if f.reply != nil {
		return f.reply(req)
	}
	resp := &backend.ChatResponse{Message: "echo: " + req.Message}
	if req.ConversationID == nil {
		resp.ConversationID = "conv-1"
	}
	return resp, nil
}

func (f *fakeBackend) GetConversation(ctx context.Context, sess *auth.SessionContext, id string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return c, nil
}

func (f *fakeBackend) ListConversations(ctx context.Context, sess *auth.SessionContext, aid string) ([]models.ConversationSummary, error) {
	return []models.ConversationSummary{{ID: "conv-0", Title: "Earlier"}}, nil
}

// fakeUploader returns storage URLs, failing files named in fail.
type fakeUploader struct {
	fail map[string]bool
}

func (u *fakeUploader) Upload(ctx context.Context, sess *auth.SessionContext, file storage.File) (string, error) {
	if _, err := io.Copy(io.Discard, file.Body); err != nil {
		return "", err
	}
	if u.fail[file.Name] {
		return "", fmt.Errorf("%w: %s: storage reported success=false", apperrors.ErrUploadFailed, file.Name)
	}
	return "https://files.example.com/" + file.Name, nil
}

// tokenValidator accepts tokens of the form "subject:role".
type tokenValidator struct{}

func (tokenValidator) ValidateToken(token string) (*auth.Claims, error) {
	subject, role, ok := strings.Cut(token, ":")
	if !ok {
		return nil, errors.New("malformed test token")
	}
	claims := &auth.Claims{Role: models.AccountRole(role)}
	claims.Subject = subject
	if err := claims.Validate(); err != nil {
		return nil, err
	}
	return claims, nil
}

func (tokenValidator) Close() {}

// testServer wires the real services over fakes.
type testServer struct {
	api       *fakeBackend
	store     *services.KnowledgeStore
	digestion *services.DigestionService
	registry  *services.AssistantRegistry
	mux       *http.ServeMux
}

func newTestServer(t *testing.T, api *fakeBackend, uploader storage.Uploader) *testServer {
	t.Helper()
	return newAuditedTestServer(t, api, uploader, nil)
}

func newAuditedTestServer(t *testing.T, api *fakeBackend, uploader storage.Uploader, auditor *audit.Auditor) *testServer {
	t.Helper()
	logger := zap.NewNop()

	store := services.NewKnowledgeStore(api, logger)
	digestion := services.NewDigestionService(api, store, services.DigestionConfig{Concurrency: 1}, logger)
	t.Cleanup(digestion.Close)
	registry := services.NewAssistantRegistry(api, store, digestion, logger)
	conversations := services.NewConversationService(api, repositories.NewMemoryBookmarkRepository(), logger)
	uploads := services.NewUploadService(uploader, digestion, 2, logger)

	authMiddleware := auth.NewMiddleware(auth.NewAuthService(tokenValidator{}, "", logger), logger)
	mux := http.NewServeMux()
	NewAssistantsHandler(registry, conversations, auditor, logger).RegisterRoutes(mux, authMiddleware)
	NewContentHandler(registry, store, digestion, uploads, 10<<20, auditor, logger).RegisterRoutes(mux, authMiddleware)
	NewChatHandler(registry, conversations, logger).RegisterRoutes(mux, authMiddleware)

	return &testServer{api: api, store: store, digestion: digestion, registry: registry, mux: mux}
}

// do sends a request as token ("subject:role", empty for anonymous).
func (s *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

// waitIdle waits for the assistant's digestion batch to finish.
func (s *testServer) waitIdle(t *testing.T, assistantID string) {
	t.Helper()
	b, ok := s.digestion.Current(assistantID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("batch did not finish: %v", err)
	}
}

const (
	teacherToken = "teacher-1:teacher"
	studentToken = "student-1:student"
)

// teacherView is teacher-1's view of a1.
var teacherView = services.ViewKey{AssistantID: "a1", UserID: "teacher-1"}

func sampleAssistant(id string) *models.Assistant {
	return &models.Assistant{
		ID:              jsonutil.FlexibleString(id),
		Subject:         "Physics",
		ClassName:       "10",
		Teacher:         "teacher-1",
		AllowedStudents: []string{"student-1"},
		OwnContent: []models.ContentArtifact{
			{ID: "c1", Title: "Motion", Digests: []models.Digest{}},
		},
		SupportingContent: []models.ContentArtifact{},
	}
}
