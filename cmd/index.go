package cmd

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"coderag/internal/embedder"
	cerrors "coderag/internal/errors"
	"coderag/internal/index"
)

var (
	flagWorkers     int
	flagMetricsAddr string
)

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Index a repository for retrieval",
	Long: `Index walks the tree at <path>, chunks source files along their
syntax, embeds the chunks and writes them to the configured store.
Re-runs are incremental: unchanged files are skipped and chunks of
deleted files are removed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flagWorkers > 0 {
			cfg.Index.Workers = flagWorkers
		}
		logger := newLogger()

		st, err := openStore(cfg, root, false)
		if err != nil {
			return err
		}
		defer st.Close()

		provider, err := embedder.NewProvider(cfg.Embedder)
		if err != nil {
			return err
		}
		pipe := embedder.NewPipeline(provider, pipelineOptions(cfg.Embedder, logger))
		ix := index.New(cfg, st, pipe, logger)

		if flagMetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: flagMetricsAddr, Handler: mux}
			defer srv.Close()
			go func() {
				logger.Info("metrics.http.start", "addr", flagMetricsAddr, "path", "/metrics")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Warn("metrics.http.error", "err", err)
				}
			}()
		}

		fmt.Printf("Indexing %s\n", root)

		// The walk discovers files as it goes, so the bar's max grows.
		// Non-TTY runs get a throttled log line instead.
		var progress index.ProgressFunc
		if bar := newProgressBar(1, "indexing"); bar != nil {
			progress = func(done, total int) {
				bar.ChangeMax64(int64(total))
				_ = bar.Set(done)
			}
			defer func() { _ = bar.Finish() }()
		} else {
			last := time.Now()
			progress = func(done, total int) {
				if time.Since(last) < 2*time.Second {
					return
				}
				last = time.Now()
				logger.Info("index.progress", "done", done, "total", total)
			}
		}

		report, runErr := ix.Index(cmd.Context(), root, progress)
		if report != nil {
			printReport(report)
		}
		if runErr != nil {
			return runErr
		}
		if report.HasFailures() {
			ferr := cerrors.NewServiceError("index.run",
				fmt.Sprintf("completed with %d failures", len(report.Failures)), true, nil)
			ferr.Fix = "re-run the command; files that succeeded are skipped by the manifest"
			return ferr
		}
		return nil
	},
}

func printReport(r *index.Report) {
	fmt.Printf("\nDone in %s\n", r.Duration.Round(time.Millisecond))
	fmt.Printf("  Files:   %d seen, %d indexed, %d skipped, %d failed, %d deleted\n",
		r.FilesSeen, r.FilesIndexed, r.FilesSkipped, r.FilesFailed, r.FilesDeleted)
	fmt.Printf("  Chunks:  %d indexed, %d failed", r.ChunksIndexed, r.ChunksFailed)
	if r.ParseFallbacks > 0 {
		fmt.Printf(" (%d parse fallbacks)", r.ParseFallbacks)
	}
	fmt.Println()

	if len(r.Failures) == 0 {
		return
	}
	fmt.Printf("  Failures:\n")
	const maxShown = 10
	for i, f := range r.Failures {
		if i == maxShown {
			fmt.Printf("    ... and %d more\n", len(r.Failures)-maxShown)
			break
		}
		if f.Path == "" {
			fmt.Printf("    [%s] %s\n", f.Stage, f.Err)
			continue
		}
		fmt.Printf("    [%s] %s: %s\n", f.Stage, f.Path, f.Err)
	}
}

func init() {
	indexCmd.Flags().IntVar(&flagWorkers, "workers", 0, "parallel read/chunk workers (default NumCPU)")
	indexCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address during the run, e.g. :9090")
	rootCmd.AddCommand(indexCmd)
}
