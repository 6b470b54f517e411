package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"scholardock/internal/grpcserver"
	"scholardock/internal/progress"
	"scholardock/pkg/models"
)

// maxRejoins bounds how often a lagging watcher joins again.
const maxRejoins = 3

func dialGRPC(g *globals) (*grpcserver.Client, error) {
	return grpcserver.Dial(g.grpcAddr)
}

// watchBatch prints events until the completion arrives. A failed batch is
// reported as an error so scripts can branch on the exit code.
func watchBatch(cmd *cobra.Command, g *globals, id string) error {
	var last *models.CompletionPayload
	onEvent := func(ev models.ProgressEvent) error {
		fmt.Fprintln(cmd.OutOrStdout(), formatEvent(ev))
		if ev.Completion != nil {
			last = ev.Completion
		}
		return nil
	}

	watch := func() error { return watchWS(cmd.Context(), g, id, onEvent) }
	if g.grpcAddr != "" {
		c, err := dialGRPC(g)
		if err != nil {
			return err
		}
		defer c.Close()
		watch = func() error { return c.WatchBatch(cmd.Context(), id, onEvent) }
	}

	err := watch()
	for rejoin := 0; errors.Is(err, progress.ErrEvicted) && rejoin < maxRejoins; rejoin++ {
		fmt.Fprintln(cmd.ErrOrStderr(), "fell behind the batch stream, rejoining")
		err = watch()
	}
	if err != nil {
		return err
	}
	if last != nil && last.Status == models.BatchFailed {
		return fmt.Errorf("batch %s failed: %s", id, last.Error)
	}
	return nil
}

func watchWS(ctx context.Context, g *globals, id string, fn func(models.ProgressEvent) error) error {
	token, _ := readToken(g.tokenPath)
	wsURL, err := websocketURL(g.baseURL, "/ws/batches/"+url.PathEscape(id), token)
	if err != nil {
		return err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("watch %s: %s", id, resp.Status)
		}
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var ev models.ProgressEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, io.EOF) {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
				return fmt.Errorf("watch %s: %w", id, progress.ErrEvicted)
			}
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

func formatEvent(ev models.ProgressEvent) string {
	switch {
	case ev.Snapshot != nil:
		s := ev.Snapshot
		return fmt.Sprintf("[%s] %s %d%% sent %d failed %d skipped %d of %d",
			ev.BatchID, s.Status, s.Percent, s.Sent, s.Failed, s.Skipped, s.Total)
	case ev.Completion != nil:
		c := ev.Completion
		line := fmt.Sprintf("[%s] %s: sent %d failed %d skipped %d of %d",
			ev.BatchID, c.Status, c.Result.Sent, c.Result.Failed, c.Result.Skipped, c.Result.Total)
		if c.Error != "" {
			line += " (" + c.Error + ")"
		}
		return line
	case ev.Progress != nil:
		p := ev.Progress
		return fmt.Sprintf("[%s] %3d%% %s", ev.BatchID, p.Percent, p.Description)
	}
	return fmt.Sprintf("[%s] %s", ev.BatchID, ev.Type)
}
