package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brahmalabs/baman-engine/pkg/models"
	"github.com/brahmalabs/baman-engine/pkg/services"
)

func sendMessage(t *testing.T, srv *testServer, msg string) services.TurnResult {
	t.Helper()
	rec := srv.do(t, http.MethodPost, "/api/chat/a1", studentToken, strings.NewReader(`{"message":"`+msg+`"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var turn services.TurnResult
	decodeData(t, rec, &turn)
	return turn
}

func TestChatHandler_Send(t *testing.T) {
	api := newFakeBackend()
	api.put(sampleAssistant("a1"))
	srv := newTestServer(t, api, &fakeUploader{})

	first := sendMessage(t, srv, "what is inertia")
	assert.Equal(t, "echo: what is inertia", first.Reply)
	assert.Equal(t, "conv-1", first.ConversationID)
	assert.True(t, first.NewConversation)

	second := sendMessage(t, srv, "and momentum")
	assert.Equal(t, "conv-1", second.ConversationID)
	assert.False(t, second.NewConversation)

	rec := srv.do(t, http.MethodGet, "/api/chat/a1", studentToken, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page ChatPageResponse
	decodeData(t, rec, &page)
	require.NotNil(t, page.Assistant)
	assert.Equal(t, "Physics", page.Assistant.Subject)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, "conv-0", page.Conversations[0].ID.String())
	assert.Equal(t, services.ActiveConversation, page.Session.State)
	assert.Equal(t, "conv-1", page.Session.ConversationID)
	require.Len(t, page.Session.Messages, 4)
	assert.Equal(t, models.RoleUser, page.Session.Messages[2].Sender)
	assert.Equal(t, "echo: and momentum", page.Session.Messages[3].Content)
}

func TestChatHandler_TeacherPreview(t *testing.T) {
	api := newFakeBackend()
	api.put(sampleAssistant("a1"))
	srv := newTestServer(t, api, &fakeUploader{})

	rec := srv.do(t, http.MethodPost, "/api/chat/a1", teacherToken, strings.NewReader(`{"message":"try it"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var turn services.TurnResult
	decodeData(t, rec, &turn)
	assert.Equal(t, "echo: try it", turn.Reply)
}

func TestChatHandler_SendValidation(t *testing.T) {
	api := newFakeBackend()
	api.put(sampleAssistant("a1"))
	srv := newTestServer(t, api, &fakeUploader{})

	rec := srv.do(t, http.MethodPost, "/api/chat/a1", studentToken, strings.NewReader(`{"message":"   "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorCode(t, rec))

	rec = srv.do(t, http.MethodPost, "/api/chat/a1", "", strings.NewReader(`{"message":"hi"}`), "application/json")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatHandler_StartNewAndResume(t *testing.T) {
	api := newFakeBackend()
	api.put(sampleAssistant("a1"))
	api.conversations["conv-9"] = &models.Conversation{
		ID: "conv-9",
		Messages: []models.Message{
			{Sender: models.RoleUser, Content: "define work"},
			{Sender: models.RoleAssistant, Content: "force times distance"},
		},
	}
	srv := newTestServer(t, api, &fakeUploader{})

	sendMessage(t, srv, "hello")

	rec := srv.do(t, http.MethodPost, "/api/chat/a1/new", studentToken, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snap services.ConversationSnapshot
	decodeData(t, rec, &snap)
	assert.Equal(t, services.NoConversation, snap.State)
	assert.Empty(t, snap.ConversationID)
	assert.Empty(t, snap.Messages)

	rec = srv.do(t, http.MethodPost, "/api/chat/a1/resume/conv-9", studentToken, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, rec, &snap)
	assert.Equal(t, services.ActiveConversation, snap.State)
	assert.Equal(t, "conv-9", snap.ConversationID)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "force times distance", snap.Messages[1].Content)

	rec = srv.do(t, http.MethodPost, "/api/chat/a1/resume/conv-404", studentToken, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatHandler_ListConversations(t *testing.T) {
	srv := newTestServer(t, newFakeBackend(), &fakeUploader{})

	rec := srv.do(t, http.MethodGet, "/api/assistants/a1/conversations", studentToken, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ConversationListResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "Earlier", resp.Conversations[0].Title)
}
