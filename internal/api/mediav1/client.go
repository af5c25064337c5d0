package mediav1

import (
	"context"

	"google.golang.org/grpc"
)

// MediaServiceClient is the client API for MediaService.
type MediaServiceClient interface {
	UploadMedia(ctx context.Context, opts ...grpc.CallOption) (MediaService_UploadMediaClient, error)
	GetMedia(ctx context.Context, in *GetMediaRequest, opts ...grpc.CallOption) (*GetMediaResponse, error)
	ListMedia(ctx context.Context, in *ListMediaRequest, opts ...grpc.CallOption) (*ListMediaResponse, error)
	SearchMedia(ctx context.Context, in *SearchMediaRequest, opts ...grpc.CallOption) (*SearchMediaResponse, error)
	UpdateMedia(ctx context.Context, in *UpdateMediaRequest, opts ...grpc.CallOption) (*UpdateMediaResponse, error)
	DeleteMedia(ctx context.Context, in *DeleteMediaRequest, opts ...grpc.CallOption) (*DeleteMediaResponse, error)
	DownloadMedia(ctx context.Context, in *DownloadMediaRequest, opts ...grpc.CallOption) (MediaService_DownloadMediaClient, error)
	GetMediaUsage(ctx context.Context, in *GetMediaUsageRequest, opts ...grpc.CallOption) (*GetMediaUsageResponse, error)
}

type mediaServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewMediaServiceClient(cc grpc.ClientConnInterface) MediaServiceClient {
	return &mediaServiceClient{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append(CallOptions(), opts...)
}

func invoke[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in *Req, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *mediaServiceClient) UploadMedia(ctx context.Context, opts ...grpc.CallOption) (MediaService_UploadMediaClient, error) {
	stream, err := c.cc.NewStream(ctx, &MediaService_ServiceDesc.Streams[0], MediaService_UploadMedia_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[UploadMediaRequest, UploadMediaResponse]{ClientStream: stream}, nil
}

func (c *mediaServiceClient) GetMedia(ctx context.Context, in *GetMediaRequest, opts ...grpc.CallOption) (*GetMediaResponse, error) {
	return invoke[GetMediaRequest, GetMediaResponse](ctx, c.cc, MediaService_GetMedia_FullMethodName, in, opts)
}

func (c *mediaServiceClient) ListMedia(ctx context.Context, in *ListMediaRequest, opts ...grpc.CallOption) (*ListMediaResponse, error) {
	return invoke[ListMediaRequest, ListMediaResponse](ctx, c.cc, MediaService_ListMedia_FullMethodName, in, opts)
}

func (c *mediaServiceClient) SearchMedia(ctx context.Context, in *SearchMediaRequest, opts ...grpc.CallOption) (*SearchMediaResponse, error) {
	return invoke[SearchMediaRequest, SearchMediaResponse](ctx, c.cc, MediaService_SearchMedia_FullMethodName, in, opts)
}

func (c *mediaServiceClient) UpdateMedia(ctx context.Context, in *UpdateMediaRequest, opts ...grpc.CallOption) (*UpdateMediaResponse, error) {
	return invoke[UpdateMediaRequest, UpdateMediaResponse](ctx, c.cc, MediaService_UpdateMedia_FullMethodName, in, opts)
}

func (c *mediaServiceClient) DeleteMedia(ctx context.Context, in *DeleteMediaRequest, opts ...grpc.CallOption) (*DeleteMediaResponse, error) {
	return invoke[DeleteMediaRequest, DeleteMediaResponse](ctx, c.cc, MediaService_DeleteMedia_FullMethodName, in, opts)
}

func (c *mediaServiceClient) DownloadMedia(ctx context.Context, in *DownloadMediaRequest, opts ...grpc.CallOption) (MediaService_DownloadMediaClient, error) {
	stream, err := c.cc.NewStream(ctx, &MediaService_ServiceDesc.Streams[1], MediaService_DownloadMedia_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[DownloadMediaRequest, DownloadMediaResponse]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *mediaServiceClient) GetMediaUsage(ctx context.Context, in *GetMediaUsageRequest, opts ...grpc.CallOption) (*GetMediaUsageResponse, error) {
	return invoke[GetMediaUsageRequest, GetMediaUsageResponse](ctx, c.cc, MediaService_GetMediaUsage_FullMethodName, in, opts)
}
