package repo_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docask/internal/model"
	appErr "github.com/xxxsen/docask/internal/pkg/errors"
	"github.com/xxxsen/docask/internal/repo"
	"github.com/xxxsen/docask/test/testutil"
)

func createTestSpace(t *testing.T, conn *sql.DB) *model.Space {
	t.Helper()
	spaces := repo.NewSpaceRepo(conn)
	now := time.Now().UnixMilli()
	space := &model.Space{
		ID:     testutil.NewID(t),
		UserID: testutil.NewID(t),
		Name:   "test space",
		Ctime:  now,
		Mtime:  now,
	}
	require.NoError(t, spaces.Create(context.Background(), space))
	t.Cleanup(func() {
		_, _ = conn.Exec(`DELETE FROM spaces WHERE id = $1`, space.ID)
	})
	return space
}

func newTestDocument(t *testing.T, spaceID string) *model.Document {
	t.Helper()
	now := time.Now().UnixMilli()
	return &model.Document{
		ID:          testutil.NewID(t),
		SpaceID:     spaceID,
		Title:       "notes",
		SourceName:  "notes.md",
		MimeType:    "text/markdown",
		FileKey:     spaceID + "/notes.md",
		ContentHash: testutil.NewID(t),
		Status:      model.DocumentStatusUploaded,
		Metadata:    model.DocumentMeta{SizeBytes: 42},
		Ctime:       now,
		Mtime:       now,
	}
}

func TestDocumentRepoCRUD(t *testing.T) {
	conn, closer := testutil.OpenTestDB(t)
	defer closer()
	ctx := context.Background()
	docs := repo.NewDocumentRepo(conn)
	space := createTestSpace(t, conn)

	doc := newTestDocument(t, space.ID)
	require.NoError(t, docs.Create(ctx, doc))

	got, err := docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, doc.Title, got.Title)
	require.Equal(t, doc.ContentHash, got.ContentHash)
	require.Equal(t, model.DocumentStatusUploaded, got.Status)
	require.Equal(t, int64(42), got.Metadata.SizeBytes)

	byHash, err := docs.GetBySpaceHash(ctx, space.ID, doc.ContentHash)
	require.NoError(t, err)
	require.Equal(t, doc.ID, byHash.ID)

	_, err = docs.GetBySpaceHash(ctx, space.ID, "missing-hash")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	// The same bytes in the same space hit the unique index.
	dup := newTestDocument(t, space.ID)
	dup.ContentHash = doc.ContentHash
	require.ErrorIs(t, docs.Create(ctx, dup), appErr.ErrConflict)

	listed, err := docs.ListBySpace(ctx, space.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, docs.Delete(ctx, doc.ID))
	_, err = docs.GetByID(ctx, doc.ID)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestDocumentRepoStatusTransitions(t *testing.T) {
	conn, closer := testutil.OpenTestDB(t)
	defer closer()
	ctx := context.Background()
	docs := repo.NewDocumentRepo(conn)
	space := createTestSpace(t, conn)

	doc := newTestDocument(t, space.ID)
	require.NoError(t, docs.Create(ctx, doc))
	now := time.Now().UnixMilli()

	require.NoError(t, docs.UpdateStatusIf(ctx, doc.ID, model.DocumentStatusUploaded, model.DocumentStatusExtracting, now))
	// A second trigger sees EXTRACTING, not UPLOADED.
	require.ErrorIs(t,
		docs.UpdateStatusIf(ctx, doc.ID, model.DocumentStatusUploaded, model.DocumentStatusExtracting, now),
		appErr.ErrConflict)

	meta := model.DocumentMeta{SizeBytes: 42, ParagraphCount: 3}
	require.NoError(t, docs.SaveExtracted(ctx, doc.ID, "extracted text", meta, now))
	got, err := docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusChunking, got.Status)
	require.Equal(t, "extracted text", got.Content)
	require.Equal(t, 3, got.Metadata.ParagraphCount)

	require.NoError(t, docs.MarkChunked(ctx, doc.ID, 7, now))
	got, err = docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusEmbedding, got.Status)
	require.Equal(t, 7, got.ChunkCount)

	require.NoError(t, docs.MarkReady(ctx, doc.ID, now))
	got, err = docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusReady, got.Status)

	// Out-of-order completion from a stale run is rejected.
	require.ErrorIs(t, docs.MarkChunked(ctx, doc.ID, 9, now), appErr.ErrConflict)
}

func TestDocumentRepoErrorAndReset(t *testing.T) {
	conn, closer := testutil.OpenTestDB(t)
	defer closer()
	ctx := context.Background()
	docs := repo.NewDocumentRepo(conn)
	space := createTestSpace(t, conn)

	doc := newTestDocument(t, space.ID)
	require.NoError(t, docs.Create(ctx, doc))
	now := time.Now().UnixMilli()

	require.NoError(t, docs.SetError(ctx, doc.ID, model.StageExtract, "parser rejected file", now))
	got, err := docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusError, got.Status)
	require.Equal(t, model.StageExtract, got.ErrorStage)
	require.Equal(t, "parser rejected file", got.ErrorMessage)
	require.Equal(t, now, got.ErrorTime)

	require.NoError(t, docs.ResetForReprocess(ctx, doc.ID, now))
	got, err = docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusUploaded, got.Status)
	require.Empty(t, got.ErrorStage)
	require.Empty(t, got.ErrorMessage)
	require.Zero(t, got.ErrorTime)
	require.Zero(t, got.ChunkCount)

	// Re-entering a stage clears stale error fields.
	require.NoError(t, docs.SetError(ctx, doc.ID, model.StageEmbed, "provider down", now))
	require.NoError(t, docs.ResetForReprocess(ctx, doc.ID, now))
	require.NoError(t, docs.UpdateStatusIf(ctx, doc.ID, model.DocumentStatusUploaded, model.DocumentStatusExtracting, now))
	got, err = docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.Empty(t, got.ErrorStage)
	require.Empty(t, got.ErrorMessage)

	// Mid-pipeline documents cannot be reset.
	require.ErrorIs(t, docs.ResetForReprocess(ctx, doc.ID, now), appErr.ErrConflict)
}

func TestDocumentRepoListByStatusBefore(t *testing.T) {
	conn, closer := testutil.OpenTestDB(t)
	defer closer()
	ctx := context.Background()
	docs := repo.NewDocumentRepo(conn)
	space := createTestSpace(t, conn)

	now := time.Now().UnixMilli()
	old := newTestDocument(t, space.ID)
	old.Mtime = now - 600_000
	require.NoError(t, docs.Create(ctx, old))

	fresh := newTestDocument(t, space.ID)
	fresh.Mtime = now
	require.NoError(t, docs.Create(ctx, fresh))

	ready := newTestDocument(t, space.ID)
	ready.Status = model.DocumentStatusReady
	ready.Mtime = now - 600_000
	require.NoError(t, docs.Create(ctx, ready))

	stuck, err := docs.ListByStatusBefore(ctx, model.DocumentStatusUploaded, space.ID, now-300_000, 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, old.ID, stuck[0].ID)
}
