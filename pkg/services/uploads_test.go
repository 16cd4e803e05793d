package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/models"
	"github.com/brahmalabs/baman-engine/pkg/storage"
)

type mockUploader struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (m *mockUploader) Upload(ctx context.Context, sess *auth.SessionContext, file storage.File) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, file.Name)
	m.mu.Unlock()
	if err, ok := m.fail[file.Name]; ok {
		return "", err
	}
	return "https://cdn.example/" + file.Name, nil
}

func testFiles(names ...string) []storage.File {
	files := make([]storage.File, len(names))
	for i, n := range names {
		files[i] = storage.File{Name: n, Size: 3, Body: strings.NewReader("abc")}
	}
	return files
}

func newUploadFixture(t *testing.T, uploader *mockUploader, api *mockBackend) (*UploadService, *DigestionService) {
	t.Helper()
	store := NewKnowledgeStore(api, zap.NewNop())
	store.Load(teacherView, &models.Assistant{ID: "a1"})
	digestion := NewDigestionService(api, store, DigestionConfig{Concurrency: 1}, zap.NewNop())
	t.Cleanup(digestion.Close)
	return NewUploadService(uploader, digestion, 2, zap.NewNop()), digestion
}

func TestUploadAll_IndependentFailures(t *testing.T) {
	uploader := &mockUploader{fail: map[string]error{
		"b.pdf": fmt.Errorf("%w: b.pdf: disk full", apperrors.ErrUploadFailed),
	}}
	svc, _ := newUploadFixture(t, uploader, &mockBackend{})

	var mu sync.Mutex
	sawInFlight := map[string]bool{}
	statuses := svc.UploadAll(context.Background(), testSession("t1", models.AccountTeacher), testFiles("a.mp4", "b.pdf", "c.txt"),
		func(snap []FileStatus) {
			mu.Lock()
			defer mu.Unlock()
			for _, st := range snap {
				if st.InFlight {
					sawInFlight[st.Name] = true
				}
			}
		})

	require.Len(t, statuses, 3)
	assert.Equal(t, "https://cdn.example/a.mp4", statuses[0].URL)
	assert.True(t, statuses[0].Uploaded())
	assert.False(t, statuses[1].Uploaded())
	assert.ErrorIs(t, statuses[1].Err, apperrors.ErrUploadFailed)
	assert.NotEmpty(t, statuses[1].Error)
	assert.True(t, statuses[2].Uploaded())
	for _, st := range statuses {
		assert.False(t, st.InFlight, "%s still in flight", st.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]bool{"a.mp4": true, "b.pdf": true, "c.txt": true}, sawInFlight)
}

func TestUploadAndDigest_DropsFailedUploads(t *testing.T) {
	uploader := &mockUploader{fail: map[string]error{"b.pdf": apperrors.ErrUploadFailed}}

	var mu sync.Mutex
	var digested []string
	api := &mockBackend{
		digestSource: func(ctx context.Context, src string, tag models.CorpusTag) (*models.ContentArtifact, error) {
			mu.Lock()
			digested = append(digested, src)
			mu.Unlock()
			return testArtifact("id-"+src[strings.LastIndex(src, "/")+1:], src), nil
		},
	}
	svc, _ := newUploadFixture(t, uploader, api)

	result, err := svc.UploadAndDigest(context.Background(), testSession("t1", models.AccountTeacher), "a1", models.CorpusOwn,
		testFiles("a.mp4", "b.pdf", "c.txt"), nil)
	require.NoError(t, err)
	require.NotNil(t, result.Batch)
	waitBatch(t, result.Batch)

	want := []string{"https://cdn.example/a.mp4", "https://cdn.example/c.txt"}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, digested); diff != "" {
		t.Errorf("digested sources mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, result.Batch.Progress().Total)
	assert.Equal(t, []string{"id-a.mp4", "id-c.txt"}, drain(result.Batch))
}

func TestUploadAndDigest_AllUploadsFail(t *testing.T) {
	uploader := &mockUploader{fail: map[string]error{
		"a.mp4": apperrors.ErrUploadFailed,
		"b.pdf": errors.New("boom"),
	}}
	api := &mockBackend{}
	svc, _ := newUploadFixture(t, uploader, api)

	result, err := svc.UploadAndDigest(context.Background(), testSession("t1", models.AccountTeacher), "a1", models.CorpusOwn,
		testFiles("a.mp4", "b.pdf"), nil)
	assert.ErrorIs(t, err, apperrors.ErrUploadFailed)
	require.NotNil(t, result)
	assert.Nil(t, result.Batch)
	assert.Len(t, result.Files, 2)
	assert.Equal(t, 0, api.count("DigestSource"))
}

func TestUploadAndDigest_RejectedWhileDigesting(t *testing.T) {
	gate := make(chan struct{})
	api := &mockBackend{
		digestSource: func(ctx context.Context, src string, tag models.CorpusTag) (*models.ContentArtifact, error) {
			<-gate
			return testArtifact("x", src), nil
		},
	}
	uploader := &mockUploader{}
	svc, digestion := newUploadFixture(t, uploader, api)
	sess := testSession("t1", models.AccountTeacher)

	batch, err := digestion.DigestAll(context.Background(), sess, "a1", models.CorpusOwn, []string{"u"})
	require.NoError(t, err)

	_, err = svc.UploadAndDigest(context.Background(), sess, "a1", models.CorpusOwn, testFiles("a.mp4"), nil)
	assert.ErrorIs(t, err, apperrors.ErrBatchInProgress)
	assert.Empty(t, uploader.calls)

	close(gate)
	waitBatch(t, batch)
}

func TestUploadAndDigest_Validation(t *testing.T) {
	svc, _ := newUploadFixture(t, &mockUploader{}, &mockBackend{})
	sess := testSession("t1", models.AccountTeacher)

	_, err := svc.UploadAndDigest(context.Background(), sess, "a1", models.CorpusOwn, nil, nil)
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.UploadAndDigest(context.Background(), sess, "a1", models.CorpusTag(0), testFiles("a"), nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestUploadAll_CancelledContext(t *testing.T) {
	uploader := &mockUploader{}
	svc, _ := newUploadFixture(t, uploader, &mockBackend{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	statuses := svc.UploadAll(ctx, testSession("t1", models.AccountTeacher), testFiles("a", "b", "c", "d"), nil)
	require.Len(t, statuses, 4)
	for _, st := range statuses {
		if st.Uploaded() {
			continue
		}
		assert.Error(t, st.Err)
	}
}
