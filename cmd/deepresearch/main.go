package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	appconfig "github.com/qpd-v/deepwebresearch/config"
	"github.com/qpd-v/deepwebresearch/internal/analyze"
	"github.com/qpd-v/deepwebresearch/internal/browser"
	"github.com/qpd-v/deepwebresearch/internal/content"
	"github.com/qpd-v/deepwebresearch/internal/dispatch"
	"github.com/qpd-v/deepwebresearch/internal/engine"
	"github.com/qpd-v/deepwebresearch/internal/extract"
	"github.com/qpd-v/deepwebresearch/internal/queue"
	srv "github.com/qpd-v/deepwebresearch/internal/server"
)

func main() {
	var cfgPath string
	root := &cobra.Command{Use: "deepresearch"}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	root.AddCommand(serveCMD(&cfgPath), researchCMD(&cfgPath))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type deps struct {
	cfg    *appconfig.Config
	pool   *browser.Pool
	engine *engine.Engine
	logger *log.Logger
}

func buildDeps(cfgPath string) (*deps, error) {
	cfg, err := appconfig.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	logger := log.New(os.Stdout, "[DEEPRESEARCH] ", log.LstdFlags)

	pool := browser.NewPool(browser.Config{
		PoolSize:          cfg.Browser.PoolSize,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		Headless:          cfg.Browser.Headless,
		SearchEngineURL:   cfg.Search.EngineURL,
	}, logger)

	extractor := extract.New(extract.Config{MaxContentLength: cfg.Extract.MaxContentLength}, logger)
	analyzer := analyze.New(analyze.Config{
		MinTopicConfidence:   cfg.Analyze.MinTopicConfidence,
		MaxTopics:            cfg.Analyze.MaxTopics,
		MinInsightImportance: cfg.Analyze.MinInsightImportance,
		MaxInsights:          cfg.Analyze.MaxInsights,
	}, logger)

	eng := engine.New(engine.Config{
		Dispatch: dispatch.Config{
			MaxParallel:     cfg.Search.MaxParallel,
			StaggerDelay:    cfg.Search.StaggerDelay,
			InterChunkDelay: cfg.Search.InterChunkDelay,
			MaxResults:      cfg.Search.MaxResults,
		},
		TimeoutCeiling: cfg.Session.TimeoutCeiling,
		ResultsDir:     cfg.Output.ResultsDir,
		FollowLinks:    cfg.Session.FollowLinks,
	}, pool, extractor, analyzer, logger)

	return &deps{cfg: cfg, pool: pool, engine: eng, logger: logger}, nil
}

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps(*cfgPath)
			if err != nil {
				return err
			}
			defer d.pool.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			q := queue.New(queue.Config{
				MaxRetries: d.cfg.Queue.MaxRetries,
				RateEvery:  d.cfg.Queue.RateEvery,
				RateBurst:  d.cfg.Queue.RateBurst,
				RetryBase:  d.cfg.Queue.RetryBase,
			}, func(ctx context.Context, query string) (content.QueryResult, error) {
				batch, err := d.engine.ParallelSearch(ctx, []string{query}, 1)
				if err != nil {
					return content.QueryResult{Query: query}, err
				}
				qr := batch.Results[0]
				if qr.Failed() {
					return qr, fmt.Errorf("%s", qr.Error)
				}
				return qr, nil
			}, d.logger)
			go q.Run(ctx)

			if addr == "" {
				addr = d.cfg.Server.Address
			}
			return srv.New(d.engine, q, d.logger).Run(ctx, addr)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return serve
}

func researchCMD(cfgPath *string) *cobra.Command {
	var (
		maxDepth     int
		maxBranching int
		timeoutMS    int
		minRelevance float64
	)
	research := &cobra.Command{
		Use:   "research [topic]",
		Short: "Run one research session and print the findings as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps(*cfgPath)
			if err != nil {
				return err
			}
			defer d.pool.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			topic := args[0]
			for _, extra := range args[1:] {
				topic += " " + extra
			}
			report, err := d.engine.Research(ctx, engine.ResearchRequest{
				Topic:        topic,
				MaxDepth:     maxDepth,
				MaxBranching: maxBranching,
				Timeout:      time.Duration(timeoutMS) * time.Millisecond,
				MinRelevance: minRelevance,
			})
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	research.Flags().IntVar(&maxDepth, "max-depth", 0, "crawl depth limit")
	research.Flags().IntVar(&maxBranching, "max-branching", 0, "parallel top candidates")
	research.Flags().IntVar(&timeoutMS, "timeout-ms", 0, "session budget in milliseconds")
	research.Flags().Float64Var(&minRelevance, "min-relevance", 0, "minimum relevance score for retained insights")
	return research
}
