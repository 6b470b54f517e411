package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"scholardock/internal/progress"
	"scholardock/pkg/models"
)

// Client calls the pipeline service over a connection that negotiates the
// JSON codec.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects without TLS; the service is meant for a trusted network.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) StartBatch(ctx context.Context, req StartBatchRequest) (*models.BatchJob, error) {
	out := new(models.BatchJob)
	if err := c.conn.Invoke(ctx, methodStartBatch, &req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetBatch(ctx context.Context, id string) (*models.BatchJob, error) {
	out := new(models.BatchJob)
	if err := c.conn.Invoke(ctx, methodGetBatch, &BatchRequest{BatchID: id}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ExtractArticle(ctx context.Context, articleID int64) (*models.Article, error) {
	out := new(models.Article)
	if err := c.conn.Invoke(ctx, methodExtractArticle, &ArticleRequest{ArticleID: articleID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchBatch calls fn for every event until the server ends the stream. A
// stream dropped for lagging returns an error wrapping progress.ErrEvicted.
func (c *Client) WatchBatch(ctx context.Context, id string, fn func(models.ProgressEvent) error) error {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], methodWatchBatch)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&BatchRequest{BatchID: id}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		var ev models.ProgressEvent
		if err := stream.RecvMsg(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if status.Code(err) == codes.ResourceExhausted {
				return fmt.Errorf("%w: %s", progress.ErrEvicted, status.Convert(err).Message())
			}
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
