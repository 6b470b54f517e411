package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultBaseURL = "http://localhost:8080"

type globals struct {
	baseURL   string
	tokenPath string
	grpcAddr  string
	timeout   time.Duration
}

func (g *globals) client() *apiClient {
	token, _ := readToken(g.tokenPath)
	return &apiClient{
		http:    &http.Client{Timeout: g.timeout},
		baseURL: g.baseURL,
		token:   token,
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "scholardock",
		Short:         "Search papers, harvest author emails and run outreach batches",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.baseURL, "api", defaultBaseURL, "API base URL")
	root.PersistentFlags().StringVar(&g.tokenPath, "token", defaultTokenPath(), "token file path")
	root.PersistentFlags().StringVar(&g.grpcAddr, "grpc", "", "use the gRPC API at this address where supported")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 5*time.Minute, "HTTP request timeout")

	root.AddCommand(
		authCmd(g),
		searchCmd(g),
		extractCmd(g),
		extractAllCmd(g),
		sendCmd(g),
		batchCmd(g),
		watchCmd(g),
		previewCmd(g),
		emailCmd(g),
		exportCmd(g),
		contactedCmd(g),
		proxyCmd(g),
	)
	return root
}
