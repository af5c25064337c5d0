package mediav1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "chunkedmedia.v1.MediaService"

const (
	MediaService_UploadMedia_FullMethodName   = "/" + ServiceName + "/UploadMedia"
	MediaService_GetMedia_FullMethodName      = "/" + ServiceName + "/GetMedia"
	MediaService_ListMedia_FullMethodName     = "/" + ServiceName + "/ListMedia"
	MediaService_SearchMedia_FullMethodName   = "/" + ServiceName + "/SearchMedia"
	MediaService_UpdateMedia_FullMethodName   = "/" + ServiceName + "/UpdateMedia"
	MediaService_DeleteMedia_FullMethodName   = "/" + ServiceName + "/DeleteMedia"
	MediaService_DownloadMedia_FullMethodName = "/" + ServiceName + "/DownloadMedia"
	MediaService_GetMediaUsage_FullMethodName = "/" + ServiceName + "/GetMediaUsage"
)

type (
	MediaService_UploadMediaServer   = grpc.ClientStreamingServer[UploadMediaRequest, UploadMediaResponse]
	MediaService_DownloadMediaServer = grpc.ServerStreamingServer[DownloadMediaResponse]
	MediaService_UploadMediaClient   = grpc.ClientStreamingClient[UploadMediaRequest, UploadMediaResponse]
	MediaService_DownloadMediaClient = grpc.ServerStreamingClient[DownloadMediaResponse]
)

// MediaServiceServer is implemented by the media service.
type MediaServiceServer interface {
	UploadMedia(MediaService_UploadMediaServer) error
	GetMedia(context.Context, *GetMediaRequest) (*GetMediaResponse, error)
	ListMedia(context.Context, *ListMediaRequest) (*ListMediaResponse, error)
	SearchMedia(context.Context, *SearchMediaRequest) (*SearchMediaResponse, error)
	UpdateMedia(context.Context, *UpdateMediaRequest) (*UpdateMediaResponse, error)
	DeleteMedia(context.Context, *DeleteMediaRequest) (*DeleteMediaResponse, error)
	DownloadMedia(*DownloadMediaRequest, MediaService_DownloadMediaServer) error
	GetMediaUsage(context.Context, *GetMediaUsageRequest) (*GetMediaUsageResponse, error)
}

// UnimplementedMediaServiceServer answers every RPC with codes.Unimplemented.
// Embed it to stay compatible when methods are added.
type UnimplementedMediaServiceServer struct{}

func (UnimplementedMediaServiceServer) UploadMedia(MediaService_UploadMediaServer) error {
	return status.Error(codes.Unimplemented, "method UploadMedia not implemented")
}
func (UnimplementedMediaServiceServer) GetMedia(context.Context, *GetMediaRequest) (*GetMediaResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetMedia not implemented")
}
func (UnimplementedMediaServiceServer) ListMedia(context.Context, *ListMediaRequest) (*ListMediaResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListMedia not implemented")
}
func (UnimplementedMediaServiceServer) SearchMedia(context.Context, *SearchMediaRequest) (*SearchMediaResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SearchMedia not implemented")
}
func (UnimplementedMediaServiceServer) UpdateMedia(context.Context, *UpdateMediaRequest) (*UpdateMediaResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdateMedia not implemented")
}
func (UnimplementedMediaServiceServer) DeleteMedia(context.Context, *DeleteMediaRequest) (*DeleteMediaResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method DeleteMedia not implemented")
}
func (UnimplementedMediaServiceServer) DownloadMedia(*DownloadMediaRequest, MediaService_DownloadMediaServer) error {
	return status.Error(codes.Unimplemented, "method DownloadMedia not implemented")
}
func (UnimplementedMediaServiceServer) GetMediaUsage(context.Context, *GetMediaUsageRequest) (*GetMediaUsageResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetMediaUsage not implemented")
}

func RegisterMediaServiceServer(s grpc.ServiceRegistrar, srv MediaServiceServer) {
	s.RegisterService(&MediaService_ServiceDesc, srv)
}

func unaryHandler[Req, Resp any](fullMethod string, call func(MediaServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MediaServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MediaServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func uploadMediaHandler(srv any, stream grpc.ServerStream) error {
	return srv.(MediaServiceServer).UploadMedia(&grpc.GenericServerStream[UploadMediaRequest, UploadMediaResponse]{ServerStream: stream})
}

func downloadMediaHandler(srv any, stream grpc.ServerStream) error {
	in := new(DownloadMediaRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MediaServiceServer).DownloadMedia(in, &grpc.GenericServerStream[DownloadMediaRequest, DownloadMediaResponse]{ServerStream: stream})
}

// MediaService_ServiceDesc describes the service for grpc.Server.
var MediaService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MediaServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetMedia",
			Handler:    unaryHandler(MediaService_GetMedia_FullMethodName, MediaServiceServer.GetMedia),
		},
		{
			MethodName: "ListMedia",
			Handler:    unaryHandler(MediaService_ListMedia_FullMethodName, MediaServiceServer.ListMedia),
		},
		{
			MethodName: "SearchMedia",
			Handler:    unaryHandler(MediaService_SearchMedia_FullMethodName, MediaServiceServer.SearchMedia),
		},
		{
			MethodName: "UpdateMedia",
			Handler:    unaryHandler(MediaService_UpdateMedia_FullMethodName, MediaServiceServer.UpdateMedia),
		},
		{
			MethodName: "DeleteMedia",
			Handler:    unaryHandler(MediaService_DeleteMedia_FullMethodName, MediaServiceServer.DeleteMedia),
		},
		{
			MethodName: "GetMediaUsage",
			Handler:    unaryHandler(MediaService_GetMediaUsage_FullMethodName, MediaServiceServer.GetMediaUsage),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "UploadMedia",
			Handler:       uploadMediaHandler,
			ClientStreams: true,
		},
		{
			StreamName:    "DownloadMedia",
			Handler:       downloadMediaHandler,
			ServerStreams: true,
		},
	},
	Metadata: "chunkedmedia/v1/media",
}
