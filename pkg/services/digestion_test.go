package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
	"github.com/brahmalabs/baman-engine/pkg/models"
)

func TestParseSources(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{name: "newlines", raw: "https://a.mp4\nhttps://b.pdf", want: []string{"https://a.mp4", "https://b.pdf"}},
		{name: "commas and blanks", raw: " https://a.mp4 ,, \r\n https://b.pdf ,", want: []string{"https://a.mp4", "https://b.pdf"}},
		{name: "duplicates kept", raw: "u,u", want: []string{"u", "u"}},
		{name: "only separators", raw: " ,\n , ", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSources(tt.raw)
			if tt.wantErr {
				if !apperrors.IsValidation(err) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("sources mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func newDigestionFixture(t *testing.T, api *mockBackend, concurrency int) (*DigestionService, *KnowledgeStore) {
	t.Helper()
	store := NewKnowledgeStore(api, zap.NewNop())
	store.Load(teacherView, &models.Assistant{ID: "a1"})
	svc := NewDigestionService(api, store, DigestionConfig{Concurrency: concurrency}, zap.NewNop())
	t.Cleanup(svc.Close)
	return svc, store
}

func waitBatch(t *testing.T, b *Batch) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx))
}

func drain(b *Batch) []string {
	var ids []string
	for a := range b.Artifacts() {
		ids = append(ids, a.ArtifactID())
	}
	return ids
}

func TestDigestAll_PartialFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	api := &mockBackend{
		digestSource: func(ctx context.Context, src string, tag models.CorpusTag) (*models.ContentArtifact, error) {
			if strings.HasSuffix(src, ".pdf") {
				return nil, &apperrors.BackendError{Op: "digest_content", Status: 500, Message: "cannot read pdf"}
			}
			return testArtifact("x1", src), nil
		},
	}
	svc, store := newDigestionFixture(t, api, 1)

	batch, err := svc.DigestAll(context.Background(), testSession("t1", models.AccountTeacher), "a1", models.CorpusOwn,
		[]string{"https://a.mp4", "https://b.pdf"})
	require.NoError(t, err)
	waitBatch(t, batch)

	p := batch.Progress()
	assert.Equal(t, 2, p.Digested)
	assert.Equal(t, 2, p.Total)
	assert.False(t, p.Running)
	assert.NotNil(t, p.FinishedAt)
	require.Len(t, p.Errors, 1)
	assert.Contains(t, p.Errors[0], "https://b.pdf")

	errs := batch.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, 1, errs[0].Index)
	assert.True(t, apperrors.IsBackend(errs[0]))

	assert.Equal(t, []string{"x1"}, drain(batch))

	own, err := store.ListCorpus(teacherView, models.CorpusOwn)
	require.NoError(t, err)
	assert.Equal(t, []string{"x1"}, artifactIDs(own))
	assert.Equal(t, []string{"x1"}, artifactIDs(batch.Committed()))
}

func TestDigestAll_CommitsInInputOrderWhenParallel(t *testing.T) {
	gate := make(chan struct{})
	finished := make(chan string, 2)

	api := &mockBackend{
		digestSource: func(ctx context.Context, src string, tag models.CorpusTag) (*models.ContentArtifact, error) {
			if src == "s0" {
				select {
				case <-gate:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			} else {
				defer func() { finished <- src }()
			}
			return testArtifact("id-"+src, src), nil
		},
	}
	svc, store := newDigestionFixture(t, api, 3)

	batch, err := svc.DigestAll(context.Background(), testSession("t1", models.AccountTeacher), "a1", models.CorpusSupporting,
		[]string{"s0", "s1", "s2"})
	require.NoError(t, err)

	<-finished
	<-finished
	assert.Equal(t, 0, batch.Progress().Digested, "later sources must not be committed before the first")
	sup, _ := store.ListCorpus(teacherView, models.CorpusSupporting)
	assert.Empty(t, sup)

	close(gate)
	waitBatch(t, batch)

	want := []string{"id-s0", "id-s1", "id-s2"}
	if diff := cmp.Diff(want, drain(batch)); diff != "" {
		t.Errorf("artifact stream mismatch (-want +got):\n%s", diff)
	}
	sup, _ = store.ListCorpus(teacherView, models.CorpusSupporting)
	if diff := cmp.Diff(want, artifactIDs(sup)); diff != "" {
		t.Errorf("corpus mismatch (-want +got):\n%s", diff)
	}
}

func TestDigestAll_SerialRunsOneAtATime(t *testing.T) {
	var inFlight, maxInFlight int32
	api := &mockBackend{
		digestSource: func(ctx context.Context, src string, tag models.CorpusTag) (*models.ContentArtifact, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxInFlight)
				if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return testArtifact("id-"+src, src), nil
		},
	}
	svc, _ := newDigestionFixture(t, api, 1)

	batch, err := svc.DigestAll(context.Background(), testSession("t1", models.AccountTeacher), "a1", models.CorpusOwn,
		[]string{"a", "b", "c", "d"})
	require.NoError(t, err)
	waitBatch(t, batch)

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
	assert.Equal(t, []string{"id-a", "id-b", "id-c", "id-d"}, drain(batch))
}

func TestDigestAll_RejectsConcurrentBatch(t *testing.T) {
	gate := make(chan struct{})
	api := &mockBackend{
		digestSource: func(ctx context.Context, src string, tag models.CorpusTag) (*models.ContentArtifact, error) {
			<-gate
			return testArtifact("id-"+src, src), nil
		},
	}
	svc, _ := newDigestionFixture(t, api, 1)
	sess := testSession("t1", models.AccountTeacher)

	first, err := svc.DigestAll(context.Background(), sess, "a1", models.CorpusOwn, []string{"u1"})
	require.NoError(t, err)
	assert.True(t, svc.IsRunning("a1"))

	_, err = svc.DigestAll(context.Background(), sess, "a1", models.CorpusOwn, []string{"u2"})
	assert.ErrorIs(t, err, apperrors.ErrBatchInProgress)

	close(gate)
	waitBatch(t, first)
	assert.False(t, svc.IsRunning("a1"))

	second, err := svc.DigestAll(context.Background(), sess, "a1", models.CorpusOwn, []string{"u2"})
	require.NoError(t, err)
	waitBatch(t, second)
	assert.Equal(t, 1, second.Progress().Digested)
}

func TestDigestAll_Validation(t *testing.T) {
	api := &mockBackend{}
	svc, _ := newDigestionFixture(t, api, 1)
	sess := testSession("t1", models.AccountTeacher)
	ctx := context.Background()

	_, err := svc.DigestAll(ctx, sess, "a1", models.CorpusOwn, nil)
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.DigestAll(ctx, sess, "a1", models.CorpusTag(9), []string{"u"})
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.DigestAll(ctx, sess, "a1", models.CorpusOwn, []string{"u", "  "})
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.DigestAll(ctx, sess, "", models.CorpusOwn, []string{"u"})
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.DigestAll(ctx, sess, "unknown", models.CorpusOwn, []string{"u"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.Equal(t, 0, api.count("DigestSource"))
}

func TestDigestAll_MalformedArtifactIsItemError(t *testing.T) {
	api := &mockBackend{
		digestSource: func(ctx context.Context, src string, tag models.CorpusTag) (*models.ContentArtifact, error) {
			a := testArtifact("id-"+src, src)
			if src == "bad" {
				a.Digests = nil
			}
			return a, nil
		},
	}
	svc, _ := newDigestionFixture(t, api, 1)

	batch, err := svc.DigestAll(context.Background(), testSession("t1", models.AccountTeacher), "a1", models.CorpusOwn,
		[]string{"good", "bad"})
	require.NoError(t, err)
	waitBatch(t, batch)

	errs := batch.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], apperrors.ErrMalformed)
	assert.True(t, IsItemError(errs[0]))
	assert.Equal(t, []string{"id-good"}, drain(batch))
}

func TestDigestAll_ConflictWithOtherCorpus(t *testing.T) {
	api := &mockBackend{
		digestSource: func(ctx context.Context, src string, tag models.CorpusTag) (*models.ContentArtifact, error) {
			return testArtifact("dup", src), nil
		},
	}
	store := NewKnowledgeStore(api, zap.NewNop())
	store.Load(teacherView, &models.Assistant{ID: "a1", OwnContent: []models.ContentArtifact{*testArtifact("dup", "u")}})
	svc := NewDigestionService(api, store, DigestionConfig{}, zap.NewNop())
	defer svc.Close()

	batch, err := svc.DigestAll(context.Background(), testSession("t1", models.AccountTeacher), "a1", models.CorpusSupporting, []string{"u"})
	require.NoError(t, err)
	waitBatch(t, batch)

	errs := batch.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], apperrors.ErrConflict)
}

func TestDigestAll_DiscardedViewMakesResultsStale(t *testing.T) {
	gate := make(chan struct{})
	api := &mockBackend{
		digestSource: func(ctx context.Context, src string, tag models.CorpusTag) (*models.ContentArtifact, error) {
			<-gate
			return testArtifact("id-"+src, src), nil
		},
	}
	svc, store := newDigestionFixture(t, api, 1)

	batch, err := svc.DigestAll(context.Background(), testSession("t1", models.AccountTeacher), "a1", models.CorpusOwn, []string{"u"})
	require.NoError(t, err)

	store.Discard(teacherView)
	store.Load(teacherView, &models.Assistant{ID: "a1"})
	close(gate)
	waitBatch(t, batch)

	errs := batch.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], apperrors.ErrStaleSession)

	own, _ := store.ListCorpus(teacherView, models.CorpusOwn)
	assert.Empty(t, own)
}

func TestDigestAll_Cancel(t *testing.T) {
	started := make(chan struct{})
	api := &mockBackend{
		digestSource: func(ctx context.Context, src string, tag models.CorpusTag) (*models.ContentArtifact, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	svc, _ := newDigestionFixture(t, api, 1)

	batch, err := svc.DigestAll(context.Background(), testSession("t1", models.AccountTeacher), "a1", models.CorpusOwn,
		[]string{"u1", "u2", "u3"})
	require.NoError(t, err)

	<-started
	assert.False(t, svc.CancelView(ViewKey{AssistantID: "a1", UserID: "s1"}), "another view must not cancel the batch")
	assert.True(t, batch.Running())
	assert.True(t, svc.CancelView(teacherView))
	waitBatch(t, batch)
	assert.False(t, svc.CancelView(teacherView), "nothing left to cancel")

	p := batch.Progress()
	assert.Equal(t, 3, p.Digested)
	assert.Len(t, p.Errors, 3)
	assert.Equal(t, 3, p.Queue.Finished())
	for _, e := range batch.Errors() {
		assert.True(t, errors.Is(e, context.Canceled), "expected cancellation, got %v", e)
	}
	assert.Equal(t, 1, api.count("DigestSource"))
	assert.Empty(t, drain(batch))
}

func TestDigestAll_CommitsOnlyIntoStartersView(t *testing.T) {
	api := &mockBackend{
		digestSource: func(ctx context.Context, src string, tag models.CorpusTag) (*models.ContentArtifact, error) {
			return testArtifact("id-"+src, src), nil
		},
	}
	svc, store := newDigestionFixture(t, api, 1)
	studentView := ViewKey{AssistantID: "a1", UserID: "s1"}
	store.Load(studentView, &models.Assistant{ID: "a1"})

	batch, err := svc.DigestAll(context.Background(), testSession("t1", models.AccountTeacher), "a1", models.CorpusOwn, []string{"u"})
	require.NoError(t, err)
	waitBatch(t, batch)

	assert.Equal(t, teacherView, batch.View)
	assert.Equal(t, "t1", batch.StartedBy())
	own, _ := store.ListCorpus(teacherView, models.CorpusOwn)
	assert.Equal(t, []string{"id-u"}, artifactIDs(own))
	other, _ := store.ListCorpus(studentView, models.CorpusOwn)
	assert.Empty(t, other)
}

func TestDigestAll_SurvivesRequestContextCancel(t *testing.T) {
	gate := make(chan struct{})
	api := &mockBackend{
		digestSource: func(ctx context.Context, src string, tag models.CorpusTag) (*models.ContentArtifact, error) {
			<-gate
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return testArtifact("id-"+src, src), nil
		},
	}
	svc, _ := newDigestionFixture(t, api, 1)

	reqCtx, cancel := context.WithCancel(context.Background())
	batch, err := svc.DigestAll(reqCtx, testSession("t1", models.AccountTeacher), "a1", models.CorpusOwn, []string{"u"})
	require.NoError(t, err)
	cancel()
	close(gate)
	waitBatch(t, batch)

	assert.Empty(t, batch.Errors())
	assert.Equal(t, []string{"id-u"}, drain(batch))
}

func TestDigestionService_ProgressIdle(t *testing.T) {
	svc, _ := newDigestionFixture(t, &mockBackend{}, 1)

	p := svc.Progress("a1")
	assert.Equal(t, 0, p.Digested)
	assert.Equal(t, 0, p.Total)
	assert.False(t, p.Running)
}

func TestDigestAll_TransientFailureRetried(t *testing.T) {
	var attempts int32
	api := &mockBackend{
		digestSource: func(ctx context.Context, src string, tag models.CorpusTag) (*models.ContentArtifact, error) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				return nil, &apperrors.BackendError{Op: "digest_content", Status: 503, Message: "busy"}
			}
			return testArtifact("id-"+src, src), nil
		},
	}
	store := NewKnowledgeStore(api, zap.NewNop())
	store.Load(teacherView, &models.Assistant{ID: "a1"})
	svc := NewDigestionService(api, store, DigestionConfig{Concurrency: 1, MaxRetries: 1}, zap.NewNop())
	svc.retryBackoff = time.Millisecond
	defer svc.Close()

	batch, err := svc.DigestAll(context.Background(), testSession("t1", models.AccountTeacher), "a1", models.CorpusOwn, []string{"u"})
	require.NoError(t, err)
	waitBatch(t, batch)

	assert.Empty(t, batch.Errors())
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}
