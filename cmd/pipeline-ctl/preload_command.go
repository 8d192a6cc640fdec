package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-derivative-pipeline/internal/fetch"
	"github.com/tendant/simple-derivative-pipeline/internal/preload"
	"github.com/tendant/simple-derivative-pipeline/pkg/runner"
)

func newPreloadCommand(ctx *commandContext) *cobra.Command {
	var listFile string
	var cacheDir string

	cmd := &cobra.Command{
		Use:   "preload [url...]",
		Short: "Warm a set of URLs through the fallback chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			urls := append([]string(nil), args...)
			if listFile != "" {
				more, err := readURLList(listFile, cmd.InOrStdin())
				if err != nil {
					return err
				}
				urls = append(urls, more...)
			}
			if len(urls) == 0 {
				return fmt.Errorf("no URLs given")
			}
			if cacheDir == "" {
				cacheDir = cfg.Preload.CacheDir
			}
			if cacheDir != "" {
				if err := os.MkdirAll(cacheDir, 0o755); err != nil {
					return fmt.Errorf("create cache dir: %w", err)
				}
			}

			logger := ctx.logger(cfg)
			var total atomic.Int64
			sched := preload.New(runner.NewFetchClient(cfg.Fetch, logger), preload.Config{
				PriorityCount: cfg.Preload.PriorityCount,
				BatchSize:     cfg.Preload.BatchSize,
				Logger:        logger,
				Sink: func(u string, resp *fetch.Response) {
					total.Add(int64(len(resp.Body)))
					if cacheDir == "" {
						return
					}
					if err := os.WriteFile(filepath.Join(cacheDir, cacheName(u)), resp.Body, 0o644); err != nil {
						logger.Warn("failed to write preload cache entry", "url", u, "error", err)
					}
				},
			})
			defer sched.Close()

			sched.Enqueue(urls...)

			idle := make(chan struct{})
			go func() {
				sched.Wait()
				close(idle)
			}()
			select {
			case <-idle:
			case <-cmd.Context().Done():
				sched.Close()
				return cmd.Context().Err()
			}

			out := cmd.OutOrStdout()
			stats := sched.Stats()
			fmt.Fprintf(out, "Loaded: %d of %d (%s)\n", stats.Loaded, stats.Seen, humanize.Bytes(uint64(total.Load())))
			if stats.Failed == 0 {
				return nil
			}
			fmt.Fprintln(out, renderFailures(sched, urls))
			return fmt.Errorf("%d URLs failed to load", stats.Failed)
		},
	}
	cmd.Flags().StringVarP(&listFile, "file", "f", "", "Read URLs from a file, one per line (- for stdin)")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Write fetched bodies here (default from config)")
	return cmd
}

func readURLList(name string, stdin io.Reader) ([]string, error) {
	r := stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

// cacheName derives a stable file name from the URL
func cacheName(u string) string {
	name := uuid.NewSHA1(uuid.NameSpaceURL, []byte(u)).String()
	ext := path.Ext(strings.SplitN(u, "?", 2)[0])
	if len(ext) > 1 && len(ext) <= 5 {
		name += ext
	}
	return name
}

func renderFailures(sched *preload.Scheduler, urls []string) string {
	var rows [][]string
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		if err := sched.Failed(u); err != nil {
			rows = append(rows, []string{strconv.Itoa(len(rows) + 1), u, err.Error()})
		}
	}
	return renderTable([]string{"#", "URL", "Error"}, rows, []columnAlignment{alignRight})
}
