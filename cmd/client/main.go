package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/api/mediav1"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/media"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const chunkSize = 64 * 1024 // 64KB chunks

type MediaClient struct {
	conn   *grpc.ClientConn
	client mediav1.MediaServiceClient
	md     metadata.MD
}

// Credentials are attached to every call as gRPC metadata.
type Credentials struct {
	APIKey string
	UserID string
	Token  string
}

func NewMediaClient(addr string, creds Credentials) (*MediaClient, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	md := metadata.MD{}
	if creds.APIKey != "" {
		md.Set("api-key", creds.APIKey)
	}
	if creds.UserID != "" {
		md.Set("user-id", creds.UserID)
	}
	if creds.Token != "" {
		md.Set("authorization", "Bearer "+creds.Token)
	}

	return &MediaClient{
		conn:   conn,
		client: mediav1.NewMediaServiceClient(conn),
		md:     md,
	}, nil
}

func (mc *MediaClient) Close() error {
	return mc.conn.Close()
}

func (mc *MediaClient) outgoing(ctx context.Context) context.Context {
	return metadata.NewOutgoingContext(ctx, mc.md)
}

// UploadOptions describe the record created by UploadMedia.
type UploadOptions struct {
	Title         string
	Type          string
	CollectionID  int64
	Tags          []string
	ThumbnailPath string
}

// UploadMedia streams a file, and optionally its thumbnail, to the server
func (mc *MediaClient) UploadMedia(ctx context.Context, filePath string, opts UploadOptions) (*mediav1.UploadMediaResponse, error) {
	// 1. Open file
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	// 2. Get file info
	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	meta := &mediav1.MediaMetadata{
		Title:        opts.Title,
		Type:         opts.Type,
		Filename:     fileInfo.Name(),
		ContentType:  media.ContentType(fileInfo.Name()),
		Size:         fileInfo.Size(),
		CollectionID: opts.CollectionID,
		Tags:         opts.Tags,
	}

	var thumb *os.File
	if opts.ThumbnailPath != "" {
		if thumb, err = os.Open(opts.ThumbnailPath); err != nil {
			return nil, fmt.Errorf("failed to open thumbnail: %w", err)
		}
		defer thumb.Close()
		meta.ThumbnailFilename = filepath.Base(opts.ThumbnailPath)
	}

	// 3. Create upload stream
	stream, err := mc.client.UploadMedia(mc.outgoing(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	// 4. Send metadata first
	if err := stream.Send(&mediav1.UploadMediaRequest{Metadata: meta}); err != nil {
		return nil, fmt.Errorf("failed to send metadata: %w", err)
	}

	// 5. Stream file chunks
	totalSent := int64(0)
	err = sendChunks(file, func(chunk []byte) error {
		if err := stream.Send(&mediav1.UploadMediaRequest{Chunk: chunk}); err != nil {
			return err
		}
		totalSent += int64(len(chunk))
		progress := float64(totalSent) / float64(fileInfo.Size()) * 100
		fmt.Printf("\rUploading: %.2f%%", progress)
		return nil
	})
	fmt.Println() // New line after progress
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to send chunk: %w", err)
	}

	// 6. Thumbnail chunks follow the file
	if thumb != nil && err == nil {
		err = sendChunks(thumb, func(chunk []byte) error {
			return stream.Send(&mediav1.UploadMediaRequest{ThumbnailChunk: chunk})
		})
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to send thumbnail chunk: %w", err)
		}
	}

	// 7. Close stream and get response. A server-side rejection surfaces
	// here after Send returned io.EOF.
	resp, err := stream.CloseAndRecv()
	if err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}

	return resp, nil
}

func sendChunks(r io.Reader, send func([]byte) error) error {
	buffer := make([]byte, chunkSize)
	for {
		n, err := r.Read(buffer)
		if n > 0 {
			if sendErr := send(buffer[:n]); sendErr != nil {
				return sendErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
	}
}

// DownloadMedia streams a record's file from the server
func (mc *MediaClient) DownloadMedia(ctx context.Context, id int64, outputPath string) error {
	// 1. Create download stream
	stream, err := mc.client.DownloadMedia(mc.outgoing(ctx), &mediav1.DownloadMediaRequest{ID: id})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	// 2. Receive first message (file info)
	firstMsg, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("failed to receive file info: %w", err)
	}

	fileInfo := firstMsg.GetInfo()
	if fileInfo == nil {
		return fmt.Errorf("expected file info in first message")
	}

	fmt.Printf("Downloading: %s (%s, %d bytes)\n", fileInfo.Filename, fileInfo.ContentType, fileInfo.Size)
	if outputPath == "" {
		outputPath = fileInfo.Filename
	}

	// 3. Create output file
	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer outFile.Close()

	// 4. Receive chunks and write to file
	totalReceived := int64(0)
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to receive chunk: %w", err)
		}

		n, err := outFile.Write(msg.GetChunk())
		if err != nil {
			return fmt.Errorf("failed to write chunk: %w", err)
		}

		totalReceived += int64(n)
		if fileInfo.Size > 0 {
			progress := float64(totalReceived) / float64(fileInfo.Size) * 100
			fmt.Printf("\rDownloading: %.2f%%", progress)
		}
	}
	fmt.Println() // New line after progress

	return nil
}

func (mc *MediaClient) GetMedia(ctx context.Context, id int64) (*mediav1.Media, error) {
	resp, err := mc.client.GetMedia(mc.outgoing(ctx), &mediav1.GetMediaRequest{ID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to get media: %w", err)
	}
	return resp.Media, nil
}

// ListMedia lists records with pagination
func (mc *MediaClient) ListMedia(ctx context.Context, req *mediav1.ListMediaRequest) (*mediav1.ListMediaResponse, error) {
	resp, err := mc.client.ListMedia(mc.outgoing(ctx), req)
	if err != nil {
		return nil, fmt.Errorf("failed to list media: %w", err)
	}
	return resp, nil
}

func (mc *MediaClient) SearchMedia(ctx context.Context, query string, limit int32) ([]*mediav1.Media, error) {
	resp, err := mc.client.SearchMedia(mc.outgoing(ctx), &mediav1.SearchMediaRequest{Query: query, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to search media: %w", err)
	}
	return resp.Media, nil
}

func (mc *MediaClient) RenameMedia(ctx context.Context, id int64, title string) (*mediav1.Media, error) {
	resp, err := mc.client.UpdateMedia(mc.outgoing(ctx), &mediav1.UpdateMediaRequest{
		ID:         id,
		UpdateMask: []string{"title"},
		Title:      title,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update media: %w", err)
	}
	return resp.Media, nil
}

// DeleteMedia deletes a record and its stored files
func (mc *MediaClient) DeleteMedia(ctx context.Context, id int64) error {
	resp, err := mc.client.DeleteMedia(mc.outgoing(ctx), &mediav1.DeleteMediaRequest{ID: id})
	if err != nil {
		return fmt.Errorf("failed to delete media: %w", err)
	}

	if !resp.Success {
		return fmt.Errorf("delete failed: %s", resp.Message)
	}
	return nil
}

func (mc *MediaClient) GetMediaUsage(ctx context.Context, id int64) (*mediav1.GetMediaUsageResponse, error) {
	resp, err := mc.client.GetMediaUsage(mc.outgoing(ctx), &mediav1.GetMediaUsageRequest{ID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	return resp, nil
}

func printMedia(m *mediav1.Media) {
	fmt.Printf("✓ %d: %s [%s]\n", m.ID, m.Title, m.Type)
	fmt.Printf("  File: %s (%s)\n", m.Filename, m.URL)
	if m.ThumbnailURL != "" {
		fmt.Printf("  Thumbnail: %s\n", m.ThumbnailURL)
	}
	for _, src := range m.Sources {
		fmt.Printf("  Source: %s (%s)\n", src.Src, src.Type)
	}
	if len(m.Tags) > 0 {
		fmt.Printf("  Tags: %s\n", strings.Join(m.Tags, ", "))
	}
	if m.ProcessingStatus != mediav1.ProcessingStatusNone {
		fmt.Printf("  Processing: %s %s\n", m.ProcessingStatus, m.ProcessingMessage)
	}
	fmt.Printf("  Uploaded: %s\n", m.CreatedAt.Format(time.RFC3339))
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: client [flags] <command> [args]

Commands:
  upload <file> <title> [thumbnail]
  download <id> [output]
  get <id>
  list [page-token]
  search <query>
  rename <id> <title>
  delete <id>
  usage <id>

Flags:
`)
	flag.PrintDefaults()
}

func parseID(args []string) int64 {
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		log.Fatalf("Invalid id %q: %v", args[0], err)
	}
	return id
}

func main() {
	addr := flag.String("addr", "localhost:50051", "server address")
	apiKey := flag.String("api-key", os.Getenv("CHUNKED_MEDIA_API_KEY"), "api key")
	userID := flag.String("user", "", "act as this user id")
	token := flag.String("token", os.Getenv("CHUNKED_MEDIA_TOKEN"), "bearer token")
	mediaType := flag.String("type", "", "audio or video, sniffed when empty")
	collection := flag.Int64("collection", 0, "collection id, root when 0")
	tags := flag.String("tags", "", "comma-separated tags")
	pageSize := flag.Int("page-size", 20, "list page size")
	timeout := flag.Duration("timeout", 5*time.Minute, "request timeout")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	// Create client
	client, err := NewMediaClient(*addr, Credentials{APIKey: *apiKey, UserID: *userID, Token: *token})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cmd, args := args[0], args[1:]
	switch cmd {
	case "upload":
		if len(args) < 2 {
			usage()
			os.Exit(2)
		}
		opts := UploadOptions{Title: args[1], Type: *mediaType, CollectionID: *collection}
		if *tags != "" {
			opts.Tags = strings.Split(*tags, ",")
		}
		if len(args) > 2 {
			opts.ThumbnailPath = args[2]
		}
		resp, err := client.UploadMedia(ctx, args[0], opts)
		if err != nil {
			log.Fatalf("Upload failed: %v", err)
		}
		fmt.Printf("Uploaded %d bytes\n", resp.Size)
		printMedia(resp.Media)

	case "download":
		id := parseID(args)
		out := ""
		if len(args) > 1 {
			out = args[1]
		}
		if err := client.DownloadMedia(ctx, id, out); err != nil {
			log.Fatalf("Download failed: %v", err)
		}
		fmt.Println("✓ File downloaded successfully")

	case "get":
		m, err := client.GetMedia(ctx, parseID(args))
		if err != nil {
			log.Fatalf("Get failed: %v", err)
		}
		printMedia(m)

	case "list":
		req := &mediav1.ListMediaRequest{
			CollectionID: *collection,
			Type:         *mediaType,
			PageSize:     int32(*pageSize),
		}
		if len(args) > 0 {
			req.PageToken = args[0]
		}
		resp, err := client.ListMedia(ctx, req)
		if err != nil {
			log.Fatalf("List failed: %v", err)
		}
		fmt.Printf("Found %d records:\n", len(resp.Media))
		for _, m := range resp.Media {
			printMedia(m)
		}
		if resp.NextPageToken != "" {
			fmt.Printf("Next page token: %s\n", resp.NextPageToken)
		}

	case "search":
		if len(args) == 0 {
			usage()
			os.Exit(2)
		}
		results, err := client.SearchMedia(ctx, strings.Join(args, " "), int32(*pageSize))
		if err != nil {
			log.Fatalf("Search failed: %v", err)
		}
		for _, m := range results {
			printMedia(m)
		}

	case "rename":
		if len(args) < 2 {
			usage()
			os.Exit(2)
		}
		m, err := client.RenameMedia(ctx, parseID(args), args[1])
		if err != nil {
			log.Fatalf("Update failed: %v", err)
		}
		printMedia(m)

	case "delete":
		if err := client.DeleteMedia(ctx, parseID(args)); err != nil {
			log.Fatalf("Delete failed: %v", err)
		}
		fmt.Println("✓ Media deleted successfully")

	case "usage":
		resp, err := client.GetMediaUsage(ctx, parseID(args))
		if err != nil {
			log.Fatalf("Usage failed: %v", err)
		}
		fmt.Printf("Usage page: %s\n", resp.UsageURL)
		for _, ref := range resp.References {
			fmt.Printf("  %s %s %s %s\n", ref.SourceType, ref.SourceID, ref.Field, ref.Label)
		}

	default:
		usage()
		os.Exit(2)
	}
}
