package main

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"scholardock/internal/auth"
	"scholardock/internal/dispatch"
	"scholardock/internal/export"
	"scholardock/internal/extraction"
	"scholardock/internal/render"
	"scholardock/internal/search"
	"scholardock/pkg/models"
)

func authCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "Operator login"}

	var user, password string
	login := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				p, err := promptPassword(cmd)
				if err != nil {
					return err
				}
				password = p
			}
			var resp struct {
				Token string `json:"token"`
			}
			payload := map[string]string{"username": user, "password": password}
			if err := g.client().do(cmd.Context(), http.MethodPost, "/api/auth/login", payload, &resp); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if err := saveToken(g.tokenPath, resp.Token); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged in")
			return nil
		},
	}
	login.Flags().StringVar(&user, "user", "researcher", "operator username")
	login.Flags().StringVar(&password, "password", "", "operator password (prompted when empty)")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := clearToken(g.tokenPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}

	hash := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for auth.operator_password_hash",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := promptPassword(cmd)
			if err != nil {
				return err
			}
			h, err := auth.HashPassword(p)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}

	cmd.AddCommand(login, logout, hash)
	return cmd
}

func promptPassword(cmd *cobra.Command) (string, error) {
	if p := os.Getenv("SCHOLARDOCK_PASSWORD"); p != "" {
		return p, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func searchCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "search", Short: "Run and manage searches"}

	var (
		req                search.Request
		startYear, endYear int
	)
	run := &cobra.Command{
		Use:   "run KEYWORD",
		Short: "Query the literature provider and store the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Keyword = strings.Join(args, " ")
			if startYear > 0 {
				req.StartYear = &startYear
			}
			if endYear > 0 {
				req.EndYear = &endYear
			}
			var s models.Search
			if err := g.client().do(cmd.Context(), http.MethodPost, "/api/searches", req, &s); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "search %d: %d results\n", s.ID, s.TotalResults)
			for _, a := range s.Articles {
				fmt.Fprintf(w, "  [%d] %s%s\n", a.ID, a.Title, yearSuffix(a.Year))
			}
			return nil
		},
	}
	run.Flags().IntVar(&req.NumResults, "num", 20, "number of results")
	run.Flags().IntVar(&startYear, "start-year", 0, "earliest publication year")
	run.Flags().IntVar(&endYear, "end-year", 0, "latest publication year")
	run.Flags().StringVar(&req.SortBy, "sort", "", "citations|citations_per_year|year")
	run.Flags().BoolVar(&req.FilterByTitle, "filter-title", false, "keep only titles containing every keyword term")
	run.Flags().BoolVar(&req.ExcludeDuplicates, "exclude-duplicates", false, "drop papers seen in earlier searches")

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent searches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Items []models.Search `json:"items"`
			}
			if err := g.client().do(cmd.Context(), http.MethodGet, "/api/searches", nil, &resp); err != nil {
				return err
			}
			for _, s := range resp.Items {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%d results\t%s\n", s.ID, s.Keyword, s.TotalResults, s.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show SEARCH_ID",
		Short: "Print a search with its articles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s models.Search
			if err := g.client().do(cmd.Context(), http.MethodGet, "/api/searches/"+args[0], nil, &s); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}

	del := &cobra.Command{
		Use:   "delete SEARCH_ID",
		Short: "Delete a search and its articles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.client().do(cmd.Context(), http.MethodDelete, "/api/searches/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	}

	cmd.AddCommand(run, list, show, del)
	return cmd
}

func extractCmd(g *globals) *cobra.Command {
	var stateOnly bool
	cmd := &cobra.Command{
		Use:   "extract ARTICLE_ID",
		Short: "Extract author emails for one article and print them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if stateOnly {
				var st extraction.StateView
				if err := g.client().do(cmd.Context(), http.MethodGet, fmt.Sprintf("/api/articles/%d/extraction", id), nil, &st); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			}

			var a *models.Article
			if g.grpcAddr != "" {
				c, err := dialGRPC(g)
				if err != nil {
					return err
				}
				defer c.Close()
				if a, err = c.ExtractArticle(cmd.Context(), id); err != nil {
					return err
				}
			} else {
				a = new(models.Article)
				if err := g.client().do(cmd.Context(), http.MethodPost, fmt.Sprintf("/api/articles/%d/extract", id), nil, a); err != nil {
					return err
				}
			}
			printEmails(cmd, *a)
			return nil
		},
	}
	cmd.Flags().BoolVar(&stateOnly, "state", false, "only print the current extraction state")
	return cmd
}

func printEmails(cmd *cobra.Command, a models.Article) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s [%s]\n", a.Title, a.ExtractionState)
	for _, e := range a.AuthorEmails {
		addr := "-"
		if e.HasEmail() {
			addr = e.Address()
		}
		fmt.Fprintf(w, "  %-30s %-35s %s\n", e.Name, addr, e.Source)
	}
	for _, f := range a.FallbackEmails {
		fmt.Fprintf(w, "  %-30s %-35s %s\n", "(paper)", f, models.SourceDocumentFallback)
	}
}

func extractAllCmd(g *globals) *cobra.Command {
	var skipDone bool
	cmd := &cobra.Command{
		Use:   "extract-all SEARCH_ID",
		Short: "Schedule extraction for every article of a search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			path := fmt.Sprintf("/api/searches/%d/extract", id)
			if skipDone {
				path += "?skip_done=1"
			}
			var resp struct {
				Scheduled int `json:"scheduled"`
			}
			if err := g.client().do(cmd.Context(), http.MethodPost, path, nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scheduled %d articles\n", resp.Scheduled)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipDone, "skip-done", false, "skip articles already extracted")
	return cmd
}

func sendCmd(g *globals) *cobra.Command {
	var (
		req   dispatch.Request
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "send SEARCH_ID",
		Short: "Start an outreach batch for a search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			req.SearchID = id

			var job *models.BatchJob
			if g.grpcAddr != "" {
				c, err := dialGRPC(g)
				if err != nil {
					return err
				}
				defer c.Close()
				if job, err = c.StartBatch(cmd.Context(), req); err != nil {
					return err
				}
			} else {
				job = new(models.BatchJob)
				if err := g.client().do(cmd.Context(), http.MethodPost, fmt.Sprintf("/api/searches/%d/batches", id), req, job); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "batch %s %s (%d recipients)\n", job.ID, job.Status, job.Total)
			if !watch {
				return nil
			}
			return watchBatch(cmd, g, job.ID)
		},
	}
	cmd.Flags().StringVar(&req.Subject, "subject", "", "subject line (default derived from each paper)")
	cmd.Flags().BoolVar(&req.IncludeHomepageEmails, "homepage", true, "include emails found on author homepages")
	cmd.Flags().BoolVar(&req.IncludeFallbackEmails, "fallback", false, "include emails found in paper documents")
	cmd.Flags().BoolVar(&watch, "watch", false, "stream progress until the batch finishes")
	return cmd
}

func batchCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch BATCH_ID",
		Short: "Print a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job models.BatchJob
			if err := g.client().do(cmd.Context(), http.MethodGet, "/api/batches/"+url.PathEscape(args[0]), nil, &job); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	list := &cobra.Command{
		Use:   "list SEARCH_ID",
		Short: "List the batches of a search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobs []models.BatchJob
			if err := g.client().do(cmd.Context(), http.MethodGet, "/api/searches/"+args[0]+"/batches", nil, &jobs); err != nil {
				return err
			}
			for _, j := range jobs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tsent %d failed %d skipped %d of %d\n",
					j.ID, j.Status, j.Sent, j.FailedCount, j.Skipped, j.Total)
			}
			return nil
		},
	}
	cmd.AddCommand(list)
	return cmd
}

func watchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "watch BATCH_ID",
		Short: "Stream the progress of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchBatch(cmd, g, args[0])
		},
	}
}

func previewCmd(g *globals) *cobra.Command {
	var (
		in        render.Input
		year      int
		citations int
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render the outreach email for the given fields",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if year > 0 {
				in.Year = &year
			}
			if citations > 0 {
				in.Citations = &citations
			}
			var out render.Output
			if err := g.client().do(cmd.Context(), http.MethodPost, "/api/email/preview", in, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Subject: %s\n\n%s\n", out.Subject, out.HTML)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.AuthorName, "name", "", "author name")
	cmd.Flags().StringVar(&in.PaperTitle, "title", "", "paper title")
	cmd.Flags().StringVar(&in.Venue, "venue", "", "paper venue")
	cmd.Flags().IntVar(&year, "year", 0, "publication year")
	cmd.Flags().IntVar(&citations, "citations", 0, "citation count")
	return cmd
}

func emailCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "email", Short: "Mail gateway utilities"}

	check := &cobra.Command{
		Use:   "check",
		Short: "Verify the SMTP configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp map[string]any
			if err := g.client().do(cmd.Context(), http.MethodGet, "/api/email/config", nil, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	var req dispatch.SingleRequest
	var year, citations int
	send := &cobra.Command{
		Use:   "send",
		Short: "Send one outreach email",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if year > 0 {
				req.Year = &year
			}
			if citations > 0 {
				req.Citations = &citations
			}
			var res dispatch.SingleResult
			if err := g.client().do(cmd.Context(), http.MethodPost, "/api/email/send", req, &res); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	send.Flags().StringVar(&req.To, "to", "", "recipient address")
	send.Flags().StringVar(&req.Name, "name", "", "recipient name")
	send.Flags().StringVar(&req.PaperTitle, "title", "", "paper title")
	send.Flags().StringVar(&req.Venue, "venue", "", "paper venue")
	send.Flags().IntVar(&year, "year", 0, "publication year")
	send.Flags().IntVar(&citations, "citations", 0, "citation count")
	send.Flags().StringVar(&req.Subject, "subject", "", "subject line")
	send.Flags().BoolVar(&req.Force, "force", false, "send even if already contacted")
	_ = send.MarkFlagRequired("to")

	cmd.AddCommand(check, send)
	return cmd
}

func exportCmd(g *globals) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export SEARCH_ID",
		Short: "Download a search as csv, json, excel or bibtex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			data, _, err := g.client().raw(cmd.Context(), http.MethodGet,
				"/api/searches/"+args[0]+"/export?format="+url.QueryEscape(string(f)), nil)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "csv|json|excel|bibtex")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func contactedCmd(g *globals) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "contacted",
		Short: "List the contacted registry, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Items []models.ContactedRecord `json:"items"`
				Total int                      `json:"total"`
			}
			path := fmt.Sprintf("/api/contacted?limit=%d&offset=%d", limit, offset)
			if err := g.client().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, r := range resp.Items {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.ContactedAt.Format("2006-01-02 15:04"), r.RecipientEmail, r.PaperIdentity)
			}
			fmt.Fprintf(w, "%d of %d\n", len(resp.Items), resp.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func proxyCmd(g *globals) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Show whether outbound fetching is available",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/api/proxy/status"
			if refresh {
				path += "?refresh=1"
			}
			var resp map[string]any
			if err := g.client().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "probe again instead of using the cached status")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func yearSuffix(y *int) string {
	if y == nil {
		return ""
	}
	return fmt.Sprintf(" (%d)", *y)
}
