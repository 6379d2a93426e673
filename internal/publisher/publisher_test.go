package publisher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/storyfactory/internal/domain"
	"github.com/vampirenirmal/storyfactory/internal/store"
	"github.com/vampirenirmal/storyfactory/internal/storytest"
)

func setup(t *testing.T) (*store.Gateway, *domain.Project) {
	t.Helper()
	g, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })

	p := storytest.NewProject()
	require.NoError(t, g.CreateProject(context.Background(), p))
	return g, p
}

func addChapter(t *testing.T, g *store.Gateway, p *domain.Project, number int) *domain.Chapter {
	t.Helper()
	ch := &domain.Chapter{
		ID:            uuid.NewString(),
		NovelID:       p.NovelID,
		ChapterNumber: number,
		Title:         "Thử Luyện",
		Content:       storytest.Body(400),
		WordCount:     400,
		Status:        domain.ChapterDraft,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, g.UpsertChapter(context.Background(), ch))
	return ch
}

func TestTickPublishesDueChapters(t *testing.T) {
	g, p := setup(t)
	ctx := context.Background()

	due := addChapter(t, g, p, 1)
	future := addChapter(t, g, p, 2)
	require.NoError(t, g.EnqueuePublish(ctx, due.ID, time.Now().Add(-time.Minute)))
	require.NoError(t, g.EnqueuePublish(ctx, future.ID, time.Now().Add(time.Hour)))

	pub := New(g)
	n, err := pub.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := g.GetChapterByID(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChapterPublished, got.Status)
	require.NotNil(t, got.PublishedAt)

	// The future chapter stays scheduled.
	notYet, err := g.GetChapterByID(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChapterDraft, notYet.Status)

	// Publishing bumps the novel freshness timestamp.
	updated, err := g.NovelUpdatedAt(ctx, p.NovelID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), updated, time.Minute)
}

func TestTickIsIdempotent(t *testing.T) {
	g, p := setup(t)
	ctx := context.Background()

	ch := addChapter(t, g, p, 1)
	require.NoError(t, g.EnqueuePublish(ctx, ch.ID, time.Now().Add(-time.Minute)))

	pub := New(g)
	n, err := pub.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// A second tick finds nothing; published items are terminal.
	n, err = pub.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := g.GetChapterByID(ctx, ch.ID)
	require.NoError(t, err)
	first := *got.PublishedAt

	// Even a replayed enqueue cannot re-publish.
	require.NoError(t, g.EnqueuePublish(ctx, ch.ID, time.Now().Add(-time.Minute)))
	_, err = pub.Tick(ctx)
	require.NoError(t, err)

	got, err = g.GetChapterByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, first, *got.PublishedAt)
}

func TestTickHonorsBatchLimit(t *testing.T) {
	g, p := setup(t)
	ctx := context.Background()

	for n := 1; n <= 5; n++ {
		ch := addChapter(t, g, p, n)
		require.NoError(t, g.EnqueuePublish(ctx, ch.ID, time.Now().Add(-time.Minute)))
	}

	pub := New(g, WithBatchLimit(2))
	n, err := pub.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = pub.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = pub.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFailedPublishBacksOff(t *testing.T) {
	g, p := setup(t)
	ctx := context.Background()

	ch := addChapter(t, g, p, 1)
	require.NoError(t, g.EnqueuePublish(ctx, ch.ID, time.Now().Add(-time.Minute)))

	// Simulate a fresh failure directly: the queue row backs off and a tick
	// before the retry time skips it.
	items, err := g.ClaimDuePublishes(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, g.MarkPublishFailed(ctx, ch.ID, "novel platform down", time.Hour, 5))

	pub := New(g)
	n, err := pub.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	item, err := g.GetPublishItem(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PublishFailed, item.Status)
	assert.Equal(t, 1, item.Retries)
}
