package grpcserver

import (
	"context"

	"google.golang.org/grpc"

	"scholardock/internal/dispatch"
	"scholardock/internal/extraction"
	"scholardock/pkg/models"
)

const serviceName = "scholardock.v1.Pipeline"

const (
	methodStartBatch     = "/" + serviceName + "/StartBatch"
	methodGetBatch       = "/" + serviceName + "/GetBatch"
	methodWatchBatch     = "/" + serviceName + "/WatchBatch"
	methodExtractArticle = "/" + serviceName + "/ExtractArticle"
	methodGetExtraction  = "/" + serviceName + "/GetExtraction"
)

type StartBatchRequest = dispatch.Request

type BatchRequest struct {
	BatchID string `json:"batch_id"`
}

type ArticleRequest struct {
	ArticleID int64 `json:"article_id"`
}

// PipelineServer is the service contract.
type PipelineServer interface {
	StartBatch(context.Context, *StartBatchRequest) (*models.BatchJob, error)
	GetBatch(context.Context, *BatchRequest) (*models.BatchJob, error)
	WatchBatch(*BatchRequest, grpc.ServerStream) error
	ExtractArticle(context.Context, *ArticleRequest) (*models.Article, error)
	GetExtraction(context.Context, *ArticleRequest) (*extraction.StateView, error)
}

func RegisterPipelineServer(s grpc.ServiceRegistrar, srv PipelineServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PipelineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("StartBatch", methodStartBatch, PipelineServer.StartBatch),
		unary("GetBatch", methodGetBatch, PipelineServer.GetBatch),
		unary("ExtractArticle", methodExtractArticle, PipelineServer.ExtractArticle),
		unary("GetExtraction", methodGetExtraction, PipelineServer.GetExtraction),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchBatch",
			Handler:       watchBatchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "scholardock/pipeline",
}

func unary[Req, Resp any](name, fullMethod string, call func(PipelineServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(PipelineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(PipelineServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchBatchHandler(srv any, stream grpc.ServerStream) error {
	in := new(BatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(PipelineServer).WatchBatch(in, stream)
}
