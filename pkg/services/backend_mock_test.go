package services

import (
	"context"
	"sync"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/backend"
	"github.com/brahmalabs/baman-engine/pkg/jsonutil"
	"github.com/brahmalabs/baman-engine/pkg/models"
)

// mockBackend is a configurable backend.API for service tests. Unset hooks
// return zero values; every call is counted.
type mockBackend struct {
	mu    sync.Mutex
	calls map[string]int

	getAssistant          func(id string) (*models.Assistant, error)
	getAssistantFor       func(userID, id string) (*models.Assistant, error)
	listAssistants        func() ([]models.AssistantSummary, error)
	listStudentAssistants func() ([]models.AssistantSummary, error)
	createAssistant       func(meta models.AssistantMetadata) (string, error)
	updateAssistant       func(id string, patch models.AssistantPatch) (*models.Assistant, error)
	addStudent            func(aid, sid string) (string, error)
	removeStudent         func(aid, sid string) (string, error)
	digestSource          func(ctx context.Context, src string, tag models.CorpusTag) (*models.ContentArtifact, error)
	deleteContent         func(aid, cid string, tag models.CorpusTag) (string, error)
	sendChat              func(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error)
	getConversation       func(id string) (*models.Conversation, error)
	listConversations     func(aid string) ([]models.ConversationSummary, error)

	chatRequests []backend.ChatRequest
	lastSession  *auth.SessionContext
}

var _ backend.API = (*mockBackend)(nil)

func (m *mockBackend) record(name string, sess *auth.SessionContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
	m.lastSession = sess
}

func (m *mockBackend) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockBackend) GetAssistant(ctx context.Context, sess *auth.SessionContext, id string) (*models.Assistant, error) {
	m.record("GetAssistant", sess)
	if m.getAssistantFor != nil {
		return m.getAssistantFor(sess.UserID(), id)
	}
	if m.getAssistant == nil {
		return nil, apperrors.ErrNotFound
	}
	return m.getAssistant(id)
}

func (m *mockBackend) ListAssistants(ctx context.Context, sess *auth.SessionContext) ([]models.AssistantSummary, error) {
	m.record("ListAssistants", sess)
	if m.listAssistants == nil {
		return nil, nil
	}
	return m.listAssistants()
}

func (m *mockBackend) ListStudentAssistants(ctx context.Context, sess *auth.SessionContext) ([]models.AssistantSummary, error) {
	m.record("ListStudentAssistants", sess)
	if m.listStudentAssistants == nil {
		return nil, nil
	}
	return m.listStudentAssistants()
}

func (m *mockBackend) CreateAssistant(ctx context.Context, sess *auth.SessionContext, meta models.AssistantMetadata) (string, error) {
	m.record("CreateAssistant", sess)
	if m.createAssistant == nil {
		return "", nil
	}
	return m.createAssistant(meta)
}

func (m *mockBackend) UpdateAssistant(ctx context.Context, sess *auth.SessionContext, id string, patch models.AssistantPatch) (*models.Assistant, error) {
	m.record("UpdateAssistant", sess)
	if m.updateAssistant == nil {
		return nil, nil
	}
	return m.updateAssistant(id, patch)
}

func (m *mockBackend) AddStudent(ctx context.Context, sess *auth.SessionContext, aid, sid string) (string, error) {
	m.record("AddStudent", sess)
	if m.addStudent == nil {
		return "Student added", nil
	}
	return m.addStudent(aid, sid)
}

func (m *mockBackend) RemoveStudent(ctx context.Context, sess *auth.SessionContext, aid, sid string) (string, error) {
	m.record("RemoveStudent", sess)
	if m.removeStudent == nil {
		return "Student removed", nil
	}
	return m.removeStudent(aid, sid)
}

func (m *mockBackend) DigestSource(ctx context.Context, sess *auth.SessionContext, src, aid string, tag models.CorpusTag) (*models.ContentArtifact, error) {
	m.record("DigestSource", sess)
	if m.digestSource == nil {
		return nil, nil
	}
	return m.digestSource(ctx, src, tag)
}

func (m *mockBackend) DeleteContent(ctx context.Context, sess *auth.SessionContext, aid, cid string, tag models.CorpusTag) (string, error) {
	m.record("DeleteContent", sess)
	if m.deleteContent == nil {
		return "Content deleted", nil
	}
	return m.deleteContent(aid, cid, tag)
}

func (m *mockBackend) SendChat(ctx context.Context, sess *auth.SessionContext, req backend.ChatRequest) (*backend.ChatResponse, error) {
	m.record("SendChat", sess)
	m.mu.Lock()
	m.chatRequests = append(m.chatRequests, req)
	m.mu.Unlock()
	if m.sendChat == nil {
		return nil, nil
	}
	return m.sendChat(ctx, req)
}

func (m *mockBackend) GetConversation(ctx context.Context, sess *auth.SessionContext, id string) (*models.Conversation, error) {
	m.record("GetConversation", sess)
	if m.getConversation == nil {
		return nil, apperrors.ErrNotFound
	}
	return m.getConversation(id)
}

func (m *mockBackend) ListConversations(ctx context.Context, sess *auth.SessionContext, aid string) ([]models.ConversationSummary, error) {
	m.record("ListConversations", sess)
	if m.listConversations == nil {
		return nil, nil
	}
	return m.listConversations(aid)
}

// testArtifact builds a valid artifact for the given id and source.
func testArtifact(id, source string) *models.ContentArtifact {
	return &models.ContentArtifact{
		ID:        jsonutil.FlexibleString(id),
		Title:     "Title " + id,
		SourceURL: source,
		Digests:   []models.Digest{{Title: "d-" + id}},
	}
}

// teacherView is the view of assistant a1 held by teacher t1.
var teacherView = ViewKey{AssistantID: "a1", UserID: "t1"}

func testSession(subject string, role models.AccountRole) *auth.SessionContext {
	claims := &auth.Claims{Role: role}
	claims.Subject = subject
	return auth.NewSessionContext("test-token", claims)
}
