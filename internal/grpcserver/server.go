package grpcserver

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"scholardock/internal/dispatch"
	"scholardock/internal/extraction"
	"scholardock/internal/netgate"
	"scholardock/internal/progress"
	"scholardock/internal/store"
	"scholardock/pkg/models"
)

type Batches interface {
	StartBatch(ctx context.Context, req dispatch.Request) (*models.BatchJob, error)
	Get(ctx context.Context, id string) (*models.BatchJob, error)
}

type Extractions interface {
	ExtractOne(ctx context.Context, articleID int64) (*models.Article, error)
	State(ctx context.Context, articleID int64) (*extraction.StateView, error)
}

type Server struct {
	Batches     Batches
	Extractions Extractions
	Hub         *progress.Hub
}

func NewServer(batches Batches, extractions Extractions, hub *progress.Hub) *Server {
	return &Server{Batches: batches, Extractions: extractions, Hub: hub}
}

func (s *Server) StartBatch(ctx context.Context, req *StartBatchRequest) (*models.BatchJob, error) {
	if req == nil || req.SearchID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "search_id required")
	}
	job, err := s.Batches.StartBatch(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return job, nil
}

func (s *Server) GetBatch(ctx context.Context, req *BatchRequest) (*models.BatchJob, error) {
	id := strings.TrimSpace(req.BatchID)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "batch_id required")
	}
	job, err := s.Batches.Get(ctx, id)
	if err != nil {
		return nil, status.Error(codes.Internal, "get failed")
	}
	if job == nil {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return job, nil
}

// WatchBatch delivers the same sequence as the websocket endpoint: the
// snapshot, every later event, and the completion last.
func (s *Server) WatchBatch(req *BatchRequest, stream grpc.ServerStream) error {
	id := strings.TrimSpace(req.BatchID)
	if id == "" {
		return status.Error(codes.InvalidArgument, "batch_id required")
	}
	ctx := stream.Context()

	feed, err := progress.Join(ctx, s.Hub, s.Batches, id)
	if err != nil {
		if errors.Is(err, progress.ErrUnknownBatch) {
			return status.Error(codes.NotFound, "not found")
		}
		return status.Error(codes.Internal, "lookup failed")
	}
	err = feed.Run(ctx, func(ev models.ProgressEvent) error {
		return stream.SendMsg(&ev)
	})
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "observer left")
	case errors.Is(err, progress.ErrEvicted):
		return status.Error(codes.ResourceExhausted, "subscriber lagged, rejoin")
	}
	return err
}

func (s *Server) ExtractArticle(ctx context.Context, req *ArticleRequest) (*models.Article, error) {
	if req.ArticleID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "article_id required")
	}
	a, err := s.Extractions.ExtractOne(ctx, req.ArticleID)
	if err != nil {
		return nil, toStatus(err)
	}
	return a, nil
}

func (s *Server) GetExtraction(ctx context.Context, req *ArticleRequest) (*extraction.StateView, error) {
	if req.ArticleID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "article_id required")
	}
	st, err := s.Extractions.State(ctx, req.ArticleID)
	if err != nil {
		return nil, toStatus(err)
	}
	return st, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, store.ErrSearchNotFound), errors.Is(err, extraction.ErrArticleNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, dispatch.ErrSetup):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, extraction.ErrNoAuthorLinks):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, netgate.ErrNetworkUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
