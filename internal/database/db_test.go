package database_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/database"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.NewMigrator(db, nil).RunMigrations(ctx))
	return db
}

func int32p(v int32) *int32 { return &v }

func TestMigrationsAreIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, database.NewMigrator(db, nil).RunMigrations(context.Background()))

	root, err := db.GetCollection(context.Background(), models.RootCollectionID)
	require.NoError(t, err)
	assert.Equal(t, "0001", root.Path)
}

func TestPostgresMigrations(t *testing.T) {
	dsn := os.Getenv("CHUNKED_MEDIA_TEST_DSN")
	if dsn == "" {
		t.Skip("CHUNKED_MEDIA_TEST_DSN env not set")
	}
	db, err := database.Open(context.Background(), "postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, database.NewMigrator(db, nil).RunMigrations(context.Background()))
}

func TestMediaRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.CreateUser(ctx, &models.User{ID: "u1", Username: "alice", IsActive: true}))
	uploader := "u1"
	m := &models.Media{
		Title:            "Concert",
		File:             "media/concert.mp4",
		Kind:             models.KindVideo,
		Width:            int32p(1920),
		Height:           int32p(1080),
		Thumbnail:        "media_thumbnails/concert.jpg",
		UploadedByUserID: &uploader,
		Tags:             []string{"live", "Music", "music"},
	}
	require.NoError(t, db.InsertMedia(ctx, m))
	assert.NotZero(t, m.ID)
	assert.Equal(t, models.RootCollectionID, m.CollectionID)
	assert.Equal(t, "0001", m.CollectionPath)

	got, err := db.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Concert", got.Title)
	assert.Equal(t, models.KindVideo, got.Kind)
	assert.Equal(t, int32(1920), *got.Width)
	assert.Equal(t, []string{"live", "Music"}, got.Tags)
	assert.Equal(t, "u1", *got.UploadedByUserID)
	assert.WithinDuration(t, m.CreatedAt, got.CreatedAt, time.Millisecond)

	created := got.CreatedAt
	got.Title = "Concert (encore)"
	got.Width = nil
	got.Tags = []string{"encore"}
	require.NoError(t, db.UpdateMedia(ctx, got))

	again, err := db.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Concert (encore)", again.Title)
	assert.Nil(t, again.Width)
	assert.Equal(t, []string{"encore"}, again.Tags)
	assert.Equal(t, created, again.CreatedAt)

	require.NoError(t, db.DeleteMedia(ctx, m.ID))
	_, err = db.GetMedia(ctx, m.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.ErrorIs(t, db.DeleteMedia(ctx, m.ID), database.ErrNotFound)
}

func TestInsertRejectsUnknownCollection(t *testing.T) {
	db := openTestDB(t)
	err := db.InsertMedia(context.Background(), &models.Media{
		Title: "x", File: "media/x.mp3", Kind: models.KindAudio, CollectionID: 42,
	})
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRemoveUserClearsUploader(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, db.CreateUser(ctx, &models.User{ID: "u2", Username: "bob", IsActive: true}))
	uploader := "u2"
	m := &models.Media{Title: "Talk", File: "media/talk.mp3", Kind: models.KindAudio, UploadedByUserID: &uploader}
	require.NoError(t, db.InsertMedia(ctx, m))
	require.NoError(t, db.AddGrant(ctx, "u2", models.RootCollectionID, models.ActionAdd))

	require.NoError(t, db.RemoveUser(ctx, "u2"))

	got, err := db.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, got.UploadedByUserID)
	_, err = db.GetUser(ctx, "u2")
	assert.ErrorIs(t, err, database.ErrNotFound)
	grants, err := db.ListGrants(ctx)
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestCollectionsAndGrants(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	music, err := db.CreateCollection(ctx, models.RootCollectionID, "Music")
	require.NoError(t, err)
	talks, err := db.CreateCollection(ctx, models.RootCollectionID, "Talks")
	require.NoError(t, err)
	live, err := db.CreateCollection(ctx, music.ID, "Live")
	require.NoError(t, err)

	assert.Equal(t, "00010001", music.Path)
	assert.Equal(t, "00010002", talks.Path)
	assert.Equal(t, "000100010001", live.Path)
	assert.Equal(t, 3, live.Depth)

	_, err = db.CreateCollection(ctx, 999, "Orphan")
	assert.ErrorIs(t, err, database.ErrNotFound)

	all, err := db.ListCollections(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	require.NoError(t, db.CreateUser(ctx, &models.User{ID: "u3", Username: "carol", IsActive: true}))
	require.NoError(t, db.AddGrant(ctx, "u3", music.ID, models.ActionChange))
	require.NoError(t, db.AddGrant(ctx, "u3", music.ID, models.ActionChange))
	assert.Error(t, db.AddGrant(ctx, "u3", music.ID, "publish"))

	grants, err := db.ListGrants(ctx)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "00010001", grants[0].CollectionPath)
	assert.Equal(t, models.ActionChange, grants[0].Action)
}

func TestListAndSearch(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	music, err := db.CreateCollection(ctx, models.RootCollectionID, "Music")
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	records := []*models.Media{
		{Title: "Morning show", File: "media/a.mp3", Kind: models.KindAudio, Tags: []string{"radio"}, CreatedAt: base},
		{Title: "Rock 100% live", File: "media/b.mp4", Kind: models.KindVideo, Tags: []string{"music"}, CollectionID: music.ID, CreatedAt: base.Add(time.Minute)},
		{Title: "Jazz night", File: "media/c.mp3", Kind: models.KindAudio, Tags: []string{"Music", "jazz"}, CollectionID: music.ID, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, m := range records {
		require.NoError(t, db.InsertMedia(ctx, m))
	}

	all, err := db.ListMedia(ctx, database.MediaFilter{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Jazz night", all[0].Title)

	page, err := db.ListMedia(ctx, database.MediaFilter{}, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "Rock 100% live", page[0].Title)

	inMusic, err := db.ListMedia(ctx, database.MediaFilter{CollectionPaths: []string{music.Path}}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, inMusic, 2)

	none, err := db.ListMedia(ctx, database.MediaFilter{CollectionPaths: []string{}}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	tagged, err := db.ListMedia(ctx, database.MediaFilter{Tag: "MUSIC"}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, tagged, 2)

	audio, err := db.ListMedia(ctx, database.MediaFilter{Kind: models.KindAudio, CollectionID: music.ID}, 10, 0)
	require.NoError(t, err)
	require.Len(t, audio, 1)
	assert.Equal(t, "Jazz night", audio[0].Title)

	hits, err := db.SearchCandidates(ctx, []string{"jazz"}, database.MediaFilter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, []string{"jazz", "music"}, hits[0].Tags)

	literal, err := db.SearchCandidates(ctx, []string{"100%"}, database.MediaFilter{})
	require.NoError(t, err)
	require.Len(t, literal, 1)
	assert.Equal(t, "Rock 100% live", literal[0].Title)

	tagHits, err := db.SearchCandidates(ctx, []string{"radio"}, database.MediaFilter{})
	require.NoError(t, err)
	require.Len(t, tagHits, 1)
	assert.Equal(t, "Morning show", tagHits[0].Title)
}

func TestReferences(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := &models.Media{Title: "Clip", File: "media/clip.mp4", Kind: models.KindVideo}
	require.NoError(t, db.InsertMedia(ctx, m))

	ref := models.Reference{MediaID: m.ID, SourceType: "page", SourceID: "12", Field: "body", Label: "Home"}
	require.NoError(t, db.AddReference(ctx, ref))
	require.NoError(t, db.AddReference(ctx, ref))
	require.NoError(t, db.AddReference(ctx, models.Reference{MediaID: m.ID, SourceType: "page", SourceID: "14", Field: "hero"}))

	refs, err := db.FindUsage(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "Home", refs[0].Label)

	require.NoError(t, db.ClearReferences(ctx, "page", "12"))
	refs, err = db.FindUsage(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "14", refs[0].SourceID)
}

func TestProcessingJobs(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := &models.Media{Title: "Clip", File: "media/clip.mp4", Kind: models.KindVideo, Thumbnail: "media_thumbnails/clip.png"}
	require.NoError(t, db.InsertMedia(ctx, m))

	jobID, err := db.CreateProcessingJob(ctx, m.ID)
	require.NoError(t, err)

	claimed, err := db.ClaimPendingJobs(ctx, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, jobID, claimed[0].ID)
	assert.Equal(t, database.JobProcessing, claimed[0].Status)

	again, err := db.ClaimPendingJobs(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, again)

	// retries until max_retries, then failed
	for i := 0; i < 3; i++ {
		require.NoError(t, db.FailJob(ctx, jobID, "decode failed"))
	}
	job, err := db.GetJobByMediaID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, job.Status)
	assert.Equal(t, 3, job.RetryCount)
	assert.Equal(t, "decode failed", job.ErrorMessage)

	second, err := db.CreateProcessingJob(ctx, m.ID)
	require.NoError(t, err)
	require.NoError(t, db.CompleteJob(ctx, second, 640, 360))
	job, err = db.GetJobByMediaID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)

	require.NoError(t, db.SetThumbnail(ctx, m.ID, "media_thumbnails/clip.png", "media_thumbnails/clip_small.jpg", int32p(1280), int32p(720)))
	got, err := db.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "media_thumbnails/clip_small.jpg", got.Thumbnail)
	assert.Equal(t, int32(1280), *got.Width)

	// existing dimensions are kept
	require.NoError(t, db.SetThumbnail(ctx, m.ID, "media_thumbnails/clip_small.jpg", "media_thumbnails/clip_2.jpg", int32p(10), int32p(10)))
	got, err = db.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1280), *got.Width)

	// a thumbnail replaced since it was read is left alone
	err = db.SetThumbnail(ctx, m.ID, "media_thumbnails/clip.png", "media_thumbnails/stale.jpg", nil, nil)
	assert.ErrorIs(t, err, database.ErrThumbnailChanged)
	got, err = db.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "media_thumbnails/clip_2.jpg", got.Thumbnail)

	err = db.SetThumbnail(ctx, 9999, "a.png", "a.jpg", nil, nil)
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = db.GetJobByMediaID(ctx, 9999)
	assert.ErrorIs(t, err, database.ErrNotFound)
}
