package service_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/api/mediav1"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/database"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/events"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/media"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/middleware"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/permissions"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/registry"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/service"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const (
	bufSize = 1024 * 1024
	apiKey  = "test-key"
)

// mp3 starts with an ID3 tag so the sniffer reports audio/mpeg.
var mp3 = append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), bytes.Repeat([]byte{0xAB}, 3000)...)

type testEnv struct {
	client mediav1.MediaServiceClient
	db     *database.DB
	root   string
	served []events.MediaServed
}

func setupTestServer(t *testing.T, cfg service.Config) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.NewMigrator(db, nil).RunMigrations(ctx))

	require.NoError(t, db.CreateUser(ctx, &models.User{ID: "alice", Username: "alice", IsActive: true}))
	require.NoError(t, db.CreateUser(ctx, &models.User{ID: "bob", Username: "bob", IsActive: true}))
	require.NoError(t, db.CreateUser(ctx, &models.User{ID: "carol", Username: "carol", IsActive: false}))
	require.NoError(t, db.AddGrant(ctx, "alice", models.RootCollectionID, models.ActionAdd))

	policy := permissions.NewCollectionOwnershipPolicy(db)
	require.NoError(t, policy.Reload(ctx))

	root := t.TempDir()
	files, err := storage.NewFilesystemStorage(root, "/files/")
	require.NoError(t, err)

	env := &testEnv{db: db, root: root}
	bus := events.NewBus()
	bus.Subscribe(events.TopicMediaServed, "recorder", func(_ context.Context, payload any) error {
		env.served = append(env.served, payload.(events.MediaServed))
		return nil
	})

	manager, err := media.NewManager(media.Config{Model: registry.DefaultModel()}, db, files, policy, bus)
	require.NoError(t, err)

	auth := middleware.NewAuthenticator([]string{apiKey}, "")
	lis := bufconn.Listen(bufSize)
	server := grpc.NewServer(
		grpc.UnaryInterceptor(auth.UnaryInterceptor()),
		grpc.StreamInterceptor(auth.StreamInterceptor()),
	)
	mediav1.RegisterMediaServiceServer(server, service.NewMediaServer(manager, db, db, cfg, nil))

	go func() {
		if err := server.Serve(lis); err != nil {
			t.Logf("Server error: %v", err)
		}
	}()

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		server.Stop()
	})
	env.client = mediav1.NewMediaServiceClient(conn)
	return env
}

// as returns a context carrying the API key and, when set, a user id.
func as(userID string) context.Context {
	ctx := metadata.AppendToOutgoingContext(context.Background(), "api-key", apiKey)
	if userID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "user-id", userID)
	}
	return ctx
}

func upload(ctx context.Context, client mediav1.MediaServiceClient, meta *mediav1.MediaMetadata, content, thumbnail []byte) (*mediav1.UploadMediaResponse, error) {
	stream, err := client.UploadMedia(ctx)
	if err != nil {
		return nil, err
	}
	msgs := []*mediav1.UploadMediaRequest{{Metadata: meta}}
	for len(content) > 0 {
		n := min(1024, len(content))
		msgs = append(msgs, &mediav1.UploadMediaRequest{Chunk: content[:n]})
		content = content[n:]
	}
	if len(thumbnail) > 0 {
		msgs = append(msgs, &mediav1.UploadMediaRequest{ThumbnailChunk: thumbnail})
	}
	for _, msg := range msgs {
		// The server may reject the stream early; CloseAndRecv reports why.
		if err := stream.Send(msg); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
	}
	return stream.CloseAndRecv()
}

func download(t *testing.T, ctx context.Context, client mediav1.MediaServiceClient, id int64) (*mediav1.FileInfo, []byte) {
	t.Helper()
	stream, err := client.DownloadMedia(ctx, &mediav1.DownloadMediaRequest{ID: id})
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	info := first.GetInfo()
	require.NotNil(t, info)

	var data []byte
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data = append(data, msg.GetChunk()...)
	}
	return info, data
}

func TestUploadDownloadDeleteFlow(t *testing.T) {
	env := setupTestServer(t, service.Config{})
	ctx := as("alice")

	// 1. Upload
	resp, err := upload(ctx, env.client, &mediav1.MediaMetadata{
		Title:    "Morning song",
		Filename: "morning song.mp3",
		Size:     int64(len(mp3)),
		Tags:     []string{"birds", "Dawn"},
	}, mp3, nil)
	require.NoError(t, err)

	m := resp.Media
	require.NotNil(t, m)
	assert.NotZero(t, m.ID)
	assert.Equal(t, int64(len(mp3)), resp.Size)
	assert.Equal(t, "audio", m.Type)
	assert.Equal(t, "media/morning_song.mp3", m.File)
	assert.Equal(t, "morning_song.mp3", m.Filename)
	assert.Equal(t, "mp3", m.FileExtension)
	assert.Equal(t, "/files/media/morning_song.mp3", m.URL)
	assert.Equal(t, []mediav1.Source{{Src: m.URL, Type: "audio/mpeg"}}, m.Sources)
	assert.Equal(t, "/media/usage/"+itoa(m.ID), m.UsageURL)
	assert.Equal(t, "alice", m.UploadedByUserID)
	assert.Equal(t, []string{"birds", "Dawn"}, m.Tags)
	assert.True(t, m.Editable)
	assert.Empty(t, m.ProcessingStatus)

	// 2. Download
	info, data := download(t, ctx, env.client, m.ID)
	assert.Equal(t, "morning_song.mp3", info.Filename)
	assert.Equal(t, "audio/mpeg", info.ContentType)
	assert.Equal(t, int64(len(mp3)), info.Size)
	assert.Equal(t, mp3, data)
	require.Len(t, env.served, 1)
	assert.Equal(t, m.ID, env.served[0].Media.ID)
	assert.Equal(t, "alice", env.served[0].Request.UserID)
	assert.Equal(t, mediav1.MediaService_DownloadMedia_FullMethodName, env.served[0].Request.Path)

	// 3. Another user sees it as read-only and cannot delete it
	got, err := env.client.GetMedia(as("bob"), &mediav1.GetMediaRequest{ID: m.ID})
	require.NoError(t, err)
	assert.False(t, got.Media.Editable)

	_, err = env.client.DeleteMedia(as("bob"), &mediav1.DeleteMediaRequest{ID: m.ID})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	// 4. The uploader deletes it and the file goes with the row
	del, err := env.client.DeleteMedia(ctx, &mediav1.DeleteMediaRequest{ID: m.ID})
	require.NoError(t, err)
	assert.True(t, del.Success)

	_, err = env.client.GetMedia(ctx, &mediav1.GetMediaRequest{ID: m.ID})
	assert.Equal(t, codes.NotFound, status.Code(err))
	_, err = os.Stat(filepath.Join(env.root, "media", "morning_song.mp3"))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadWithThumbnailQueuesProcessing(t *testing.T) {
	env := setupTestServer(t, service.Config{})

	resp, err := upload(as("alice"), env.client, &mediav1.MediaMetadata{
		Title:             "Clip",
		Type:              "video",
		Filename:          "clip.mp4",
		ThumbnailFilename: "poster.png",
	}, []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom"), []byte("\x89PNG\r\n\x1a\nposter"))
	require.NoError(t, err)

	m := resp.Media
	assert.Equal(t, "video", m.Type)
	assert.Equal(t, "media_thumbnails/poster.png", m.Thumbnail)
	assert.Equal(t, "/files/media_thumbnails/poster.png", m.ThumbnailURL)
	assert.Equal(t, mediav1.ProcessingStatusPending, m.ProcessingStatus)

	thumb, err := os.ReadFile(filepath.Join(env.root, "media_thumbnails", "poster.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\nposter"), thumb)
}

func TestUploadAudioInMP4Container(t *testing.T) {
	env := setupTestServer(t, service.Config{})

	resp, err := upload(as("alice"), env.client, &mediav1.MediaMetadata{
		Title:    "Voice memo",
		Filename: "memo.m4a",
	}, m4a, nil)
	require.NoError(t, err)

	m := resp.Media
	assert.Equal(t, "audio", m.Type)
	assert.Equal(t, []mediav1.Source{{Src: m.URL, Type: "audio/mp4"}}, m.Sources)
}

func TestUploadRejections(t *testing.T) {
	env := setupTestServer(t, service.Config{MaxUploadBytes: 2048})

	tests := []struct {
		name    string
		ctx     context.Context
		meta    *mediav1.MediaMetadata
		content []byte
		code    codes.Code
		message string
	}{
		{
			name:    "declared size over limit",
			ctx:     as("alice"),
			meta:    &mediav1.MediaMetadata{Title: "Huge", Filename: "huge.mp3", Size: 600 * 1024 * 1024},
			code:    codes.InvalidArgument,
			message: "file too large",
		},
		{
			name:    "streamed size over limit",
			ctx:     as("alice"),
			meta:    &mediav1.MediaMetadata{Title: "Long", Filename: "long.mp3"},
			content: mp3,
			code:    codes.InvalidArgument,
			message: "file too large",
		},
		{
			name:    "audio declared as video",
			ctx:     as("alice"),
			meta:    &mediav1.MediaMetadata{Title: "Wrong", Type: "video", Filename: "wrong.mp4"},
			content: mp3[:512],
			code:    codes.InvalidArgument,
			message: "content type mismatch",
		},
		{
			name:    "text file",
			ctx:     as("alice"),
			meta:    &mediav1.MediaMetadata{Title: "Notes", Type: "audio", Filename: "notes.mp3"},
			content: []byte("just some notes, not audio"),
			code:    codes.InvalidArgument,
			message: "content type mismatch",
		},
		{
			name:    "missing title",
			ctx:     as("alice"),
			meta:    &mediav1.MediaMetadata{Filename: "untitled.mp3"},
			content: mp3[:512],
			code:    codes.InvalidArgument,
			message: "title",
		},
		{
			name:    "invalid metadata",
			ctx:     as("alice"),
			meta:    &mediav1.MediaMetadata{Title: "No name"},
			code:    codes.InvalidArgument,
			message: "filename is required",
		},
		{
			name:    "empty file",
			ctx:     as("alice"),
			meta:    &mediav1.MediaMetadata{Title: "Empty", Filename: "empty.mp3"},
			code:    codes.InvalidArgument,
			message: "empty file",
		},
		{
			name:    "no add permission",
			ctx:     as("bob"),
			meta:    &mediav1.MediaMetadata{Title: "Bob's", Filename: "bob.mp3"},
			content: mp3[:512],
			code:    codes.PermissionDenied,
		},
		{
			name:    "no add permission checked before reading the file",
			ctx:     as("bob"),
			meta:    &mediav1.MediaMetadata{Title: "Bob's long one", Filename: "bob.mp3"},
			content: mp3,
			code:    codes.PermissionDenied,
		},
		{
			name:    "inactive user",
			ctx:     as("carol"),
			meta:    &mediav1.MediaMetadata{Title: "Carol's", Filename: "carol.mp3"},
			content: mp3[:512],
			code:    codes.PermissionDenied,
		},
		{
			name:    "unknown user",
			ctx:     as("mallory"),
			meta:    &mediav1.MediaMetadata{Title: "Mallory's", Filename: "mallory.mp3"},
			content: mp3[:512],
			code:    codes.Unauthenticated,
		},
		{
			name:    "no credentials",
			ctx:     context.Background(),
			meta:    &mediav1.MediaMetadata{Title: "Anon", Filename: "anon.mp3"},
			content: mp3[:512],
			code:    codes.Unauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := upload(tt.ctx, env.client, tt.meta, tt.content, nil)
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
			if tt.message != "" {
				assert.Contains(t, err.Error(), tt.message)
			}
		})
	}

	list, err := env.client.ListMedia(as(""), &mediav1.ListMediaRequest{})
	require.NoError(t, err)
	assert.Empty(t, list.Media)
}

func TestUploadRequiresMetadataFirst(t *testing.T) {
	env := setupTestServer(t, service.Config{})

	stream, err := env.client.UploadMedia(as("alice"))
	require.NoError(t, err)
	require.NoError(t, stream.Send(&mediav1.UploadMediaRequest{Chunk: mp3[:64]}))
	_, err = stream.CloseAndRecv()
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, err.Error(), "first message must be metadata")
}

func TestListMediaPaginates(t *testing.T) {
	env := setupTestServer(t, service.Config{})
	svc := as("")

	var ids []int64
	for _, title := range []string{"One", "Two", "Three"} {
		resp, err := upload(svc, env.client, &mediav1.MediaMetadata{Title: title, Filename: title + ".mp3"}, mp3, nil)
		require.NoError(t, err)
		assert.Empty(t, resp.Media.UploadedByUserID)
		ids = append(ids, resp.Media.ID)
	}

	page, err := env.client.ListMedia(svc, &mediav1.ListMediaRequest{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Media, 2)
	assert.Equal(t, ids[2], page.Media[0].ID)
	assert.Equal(t, ids[1], page.Media[1].ID)
	assert.Equal(t, "2", page.NextPageToken)

	page, err = env.client.ListMedia(svc, &mediav1.ListMediaRequest{PageSize: 2, PageToken: page.NextPageToken})
	require.NoError(t, err)
	require.Len(t, page.Media, 1)
	assert.Equal(t, ids[0], page.Media[0].ID)
	assert.Empty(t, page.NextPageToken)

	_, err = env.client.ListMedia(svc, &mediav1.ListMediaRequest{PageToken: "next"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.client.ListMedia(svc, &mediav1.ListMediaRequest{Action: "publish"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	// bob holds no grants, so nothing is choosable for him
	page, err = env.client.ListMedia(as("bob"), &mediav1.ListMediaRequest{Action: "choose"})
	require.NoError(t, err)
	assert.Empty(t, page.Media)
}

func TestSearchMedia(t *testing.T) {
	env := setupTestServer(t, service.Config{})
	ctx := as("alice")

	_, err := upload(ctx, env.client, &mediav1.MediaMetadata{Title: "Jazz night", Filename: "jazz.mp3", Tags: []string{"live"}}, mp3, nil)
	require.NoError(t, err)
	_, err = upload(ctx, env.client, &mediav1.MediaMetadata{Title: "Rain", Filename: "rain.mp3"}, mp3, nil)
	require.NoError(t, err)

	resp, err := env.client.SearchMedia(ctx, &mediav1.SearchMediaRequest{Query: "jazz"})
	require.NoError(t, err)
	require.Len(t, resp.Media, 1)
	assert.Equal(t, "Jazz night", resp.Media[0].Title)

	resp, err = env.client.SearchMedia(ctx, &mediav1.SearchMediaRequest{Query: "live", CollectionID: models.RootCollectionID})
	require.NoError(t, err)
	require.Len(t, resp.Media, 1)
	assert.Equal(t, "Jazz night", resp.Media[0].Title)
}

func TestUpdateMedia(t *testing.T) {
	env := setupTestServer(t, service.Config{})
	ctx := as("alice")

	created, err := upload(ctx, env.client, &mediav1.MediaMetadata{Title: "Draft", Filename: "take1.mp3"}, mp3, nil)
	require.NoError(t, err)
	id := created.Media.ID

	replacement := append([]byte("ID3\x04"), bytes.Repeat([]byte{0xCD}, 100)...)
	resp, err := env.client.UpdateMedia(ctx, &mediav1.UpdateMediaRequest{
		ID:         id,
		UpdateMask: []string{"title", "file"},
		Title:      "Final",
		File:       &mediav1.FileData{Filename: "take2.mp3", Content: replacement},
	})
	require.NoError(t, err)
	assert.Equal(t, "Final", resp.Media.Title)
	assert.Equal(t, "media/take2.mp3", resp.Media.File)

	_, data := download(t, ctx, env.client, id)
	assert.Equal(t, replacement, data)
	_, err = os.Stat(filepath.Join(env.root, "media", "take1.mp3"))
	assert.True(t, os.IsNotExist(err))

	_, err = env.client.UpdateMedia(as("bob"), &mediav1.UpdateMediaRequest{ID: id, UpdateMask: []string{"title"}, Title: "Mine"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = env.client.UpdateMedia(ctx, &mediav1.UpdateMediaRequest{ID: id, UpdateMask: []string{"title"}, Title: "  "})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.client.UpdateMedia(ctx, &mediav1.UpdateMediaRequest{ID: id})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGetMediaUsage(t *testing.T) {
	env := setupTestServer(t, service.Config{})
	ctx := as("alice")

	created, err := upload(ctx, env.client, &mediav1.MediaMetadata{Title: "Theme", Filename: "theme.mp3"}, mp3, nil)
	require.NoError(t, err)
	id := created.Media.ID

	require.NoError(t, env.db.AddReference(context.Background(), models.Reference{
		MediaID: id, SourceType: "page", SourceID: "42", Field: "body", Label: "Home",
	}))

	resp, err := env.client.GetMediaUsage(ctx, &mediav1.GetMediaUsageRequest{ID: id})
	require.NoError(t, err)
	assert.Equal(t, "/media/usage/"+itoa(id), resp.UsageURL)
	assert.Equal(t, []mediav1.Reference{{SourceType: "page", SourceID: "42", Field: "body", Label: "Home"}}, resp.References)

	_, err = env.client.GetMediaUsage(ctx, &mediav1.GetMediaUsageRequest{ID: id + 100})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestDownloadMissingMedia(t *testing.T) {
	env := setupTestServer(t, service.Config{})

	stream, err := env.client.DownloadMedia(as("alice"), &mediav1.DownloadMediaRequest{ID: 999})
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Empty(t, env.served)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
