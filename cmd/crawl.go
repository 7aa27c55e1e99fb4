package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webspider/internal/spider"
)

type crawlOptions struct {
	recurse  bool
	maxDepth int
	timeout  time.Duration
	parallel int
	list     bool
}

// newCrawlCmd creates the 'crawl' subcommand, which registers each URL,
// scans it and prints the results.
func newCrawlCmd() *cobra.Command {
	opts := crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl <url>...",
		Short: "Scans one or more sites and prints what was found",
		Long: `Registers every URL as a site tree node, starts a scan from it and
waits for all scans to finish. Scans share the configured politeness limits.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}
			return crawl(ctx, appInstance, args, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&opts.recurse, "recurse", false, "also seed from known children of each URL")
	cmd.Flags().IntVar(&opts.maxDepth, "max-depth", -1, "link depth limit (0 is unbounded, -1 uses the configured default)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "stop waiting after this long (0 waits until done)")
	cmd.Flags().IntVar(&opts.parallel, "parallel", 4, "sites scanned at once")
	cmd.Flags().BoolVar(&opts.list, "list", false, "print every in-scope URL")
	return cmd
}

type crawlResult struct {
	url     string
	summary spider.Summary
	results []string
}

func crawl(ctx context.Context, appInstance App, urls []string, opts crawlOptions, out io.Writer) error {
	logger := appInstance.Logger()
	ctrl := appInstance.Controller()
	var scanOpts []spider.Option
	if opts.maxDepth >= 0 {
		scanOpts = append(scanOpts, spider.WithMaxDepth(opts.maxDepth))
	}
	parallel := opts.parallel
	if parallel <= 0 {
		parallel = 1
	}

	p := pool.NewWithResults[crawlResult]().WithContext(ctx).WithMaxGoroutines(parallel)
	for _, raw := range urls {
		p.Go(func(ctx context.Context) (crawlResult, error) {
			node, err := appInstance.Registrar().Register(ctx, raw)
			if err != nil {
				return crawlResult{}, err
			}
			id := ctrl.StartScan(node.URI, spider.Target{StartNode: node, Recurse: opts.recurse}, nil, scanOpts...)
			logger.Info("scan started", zap.Int("scan_id", id), zap.String("url", node.URI))
			summary, err := appInstance.WaitForScan(ctx, id)
			if err != nil {
				ctrl.StopScan(id)
				return crawlResult{}, err
			}
			results, _ := ctrl.Results(id)
			return crawlResult{url: node.URI, summary: summary, results: results}, nil
		})
	}
	results, err := p.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].summary.ID < results[j].summary.ID })
	for _, r := range results {
		s := r.summary
		fmt.Fprintf(out, "scan %d %s state=%s progress=%d%% in_scope=%d out_of_scope=%d resources=%d\n",
			s.ID, r.url, s.State, s.Progress, s.InScopeCount, s.OutOfScopeCount, s.ResourceCount)
		if opts.list {
			for _, uri := range r.results {
				fmt.Fprintf(out, "  %s\n", uri)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	return nil
}
