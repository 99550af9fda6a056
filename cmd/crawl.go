package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/clinic-crawler/internal/api"
	"github.com/JakeFAU/clinic-crawler/internal/clock/system"
	"github.com/JakeFAU/clinic-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/clinic-crawler/internal/fetcher/colly"
	idgen "github.com/JakeFAU/clinic-crawler/internal/id/uuid"
	"github.com/JakeFAU/clinic-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/clinic-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/clinic-crawler/internal/progress/sinks"
	localstorage "github.com/JakeFAU/clinic-crawler/internal/storage/local"
)

const hubCloseTimeout = 5 * time.Second

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd(d deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl every region and write the clinic CSV",
		Long: `Fetches the root listing, every region it links to, and every clinic page
under those regions, one polite request at a time, and streams the extracted
records to the output CSV. Failed regions and clinics are logged and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, d)
		},
	}

	f := cmd.Flags()
	f.String("base-url", "", "archived site base URL")
	f.Float64("min-delay", 0, "minimum seconds between requests (default 1)")
	f.Float64("max-delay", 0, "maximum seconds between requests (default 2)")
	f.Int("concurrency", 0, "clinic pages fetched at once within a region (default 1)")
	f.Float64("deadline", 0, "overall run deadline in seconds; 0 disables it")
	f.Int("max-retries", 0, "retries after the first attempt (default 3)")
	f.Float64("timeout", 0, "per-request timeout in seconds (default 10)")
	f.StringP("output", "o", "", "output CSV path (default clinics.csv)")
	f.String("snapshot", "", "directory to archive fetched pages into")
	f.String("listen", "", "address for the status server, e.g. :9090")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, d deps) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := rt.cfg, rt.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID, err := idgen.New().NewRunID()
	if err != nil {
		return err
	}
	engineCfg := crawler.NewConfig(cfg)

	links, err := crawler.NewLinkExtractor(cfg.Links)
	if err != nil {
		return err
	}

	transport := collyfetcher.New(collyfetcher.Config{UserAgent: engineCfg.UserAgent, Timeout: engineCfg.Timeout})
	defer transport.Close()
	throttle := crawler.NewThrottle(engineCfg.Policy.MinDelay, engineCfg.Policy.MaxDelay, nil, system.New())
	limiter := ratelimit.New(ratelimit.FromMinDelay(engineCfg.Policy.MinDelay))
	fetcher := crawler.NewRetryingFetcher(transport, engineCfg.Policy, throttle, logger, crawler.WithLimiter(limiter))

	status := progresssinks.NewStatusSink()
	promSink, err := progresssinks.NewPrometheusSink(d.registerer)
	if err != nil {
		return err
	}
	hub := progress.NewHub(progress.Config{Logger: logger}, progresssinks.NewLogSink(logger), promSink, status)

	opts := []crawler.EngineOption{crawler.WithProgress(hub), crawler.WithRunID(runID)}
	if cfg.Snapshot.Dir != "" {
		archive, err := localstorage.NewPageArchive(cfg.Snapshot.Dir)
		if err != nil {
			return closeHub(hub, logger, fmt.Errorf("init snapshot archive: %w", err))
		}
		opts = append(opts, crawler.WithSnapshots(archive))
	}

	if cfg.Server.Addr != "" {
		stopServer := startStatusServer(ctx, cfg.Server.Addr, status, logger)
		defer stopServer()
	}

	sink, err := crawler.OpenCSVFile(cfg.Output.File, logger)
	if err != nil {
		return closeHub(hub, logger, err)
	}

	engine := crawler.NewEngine(engineCfg, fetcher, links, crawler.NewFieldExtractor(), sink, logger, opts...)
	result, runErr := engine.Run(ctx)
	if err := sink.Close(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	runErr = closeHub(hub, logger, runErr)

	printSummary(cmd.OutOrStdout(), cfg.Output.File, result.Summary)
	return runErr
}

// startStatusServer serves the status routes until the returned func is
// called or ctx ends. A server failure is logged and does not stop the crawl.
func startStatusServer(ctx context.Context, addr string, status api.StatusProvider, logger *zap.Logger) func() {
	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := api.NewServer(status, logger).Serve(srvCtx, addr); err != nil {
			logger.Warn("status server failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func closeHub(hub *progress.Hub, logger *zap.Logger, err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), hubCloseTimeout)
	defer cancel()
	if cerr := hub.Close(ctx); cerr != nil {
		logger.Warn("progress hub close failed", zap.Error(cerr))
	}
	if dropped := hub.Dropped(); dropped > 0 {
		logger.Warn("progress events dropped", zap.Int64("dropped", dropped))
	}
	return err
}

func printSummary(w io.Writer, output string, s crawler.Summary) {
	fmt.Fprintf(w, "%d records written to %s\n", s.RecordsProduced, output)
	fmt.Fprintf(w, "  regions:  %d visited, %d skipped\n", s.RegionsVisited, s.RegionsSkipped)
	fmt.Fprintf(w, "  clinics:  %d visited, %d skipped, %d duplicates\n", s.ClinicsVisited, s.ClinicsSkipped, s.ClinicsDuplicate)
	fmt.Fprintf(w, "  requests: %d\n", s.Requests)
	fmt.Fprintf(w, "  duration: %s\n", s.Duration.Round(time.Millisecond))
}
