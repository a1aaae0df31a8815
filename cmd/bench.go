package cmd

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os/signal"
	"sort"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/linecache/cache"
	"github.com/sarchlab/linecache/monitoring"
	"github.com/sarchlab/linecache/tracing"
)

type benchOptions struct {
	workers   int
	ops       int
	readRatio float64
	maxLen    int
	seed      uint64
	policy    cache.WritePolicy
}

type benchResult struct {
	ops      uint64
	bytes    uint64
	duration time.Duration
}

func (r benchResult) report(w io.Writer, stats cache.Stats) {
	seconds := r.duration.Seconds()
	if seconds == 0 {
		seconds = 1e-9
	}

	fmt.Fprintf(w, "ops:         %d\n", r.ops)
	fmt.Fprintf(w, "bytes:       %d\n", r.bytes)
	fmt.Fprintf(w, "duration:    %s\n", r.duration)
	fmt.Fprintf(w, "ops/s:       %.0f\n", float64(r.ops)/seconds)
	fmt.Fprintf(w, "MB/s:        %.2f\n", float64(r.bytes)/seconds/1e6)
	fmt.Fprintf(w, "hit rate:    %.4f\n", stats.HitRate())
	fmt.Fprintf(w, "fills:       %d\n", stats.Fills)
	fmt.Fprintf(w, "evictions:   %d\n", stats.Evictions)
	fmt.Fprintf(w, "write-backs: %d\n", stats.WriteBacks)
}

func reportTimes(w io.Writer, timers map[string]*tracing.TotalTimeTracer) {
	kinds := make([]string, 0, len(timers))
	for kind := range timers {
		kinds = append(kinds, kind)
	}

	sort.Strings(kinds)

	for _, kind := range kinds {
		t := timers[kind]
		if t.TaskCount() == 0 {
			continue
		}

		mean := t.TotalTime() / time.Duration(t.TaskCount())
		fmt.Fprintf(w, "%-6s count=%d mean=%s\n", kind, t.TaskCount(), mean)
	}
}

func reportSteps(w io.Writer, steps *tracing.StepCountTracer) {
	names := steps.GetStepNames()
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(w, "step %-13s %d events in %d tasks\n",
			name, steps.GetStepCount(name), steps.GetTaskCount(name))
	}
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a random read/write workload against the cache.",
	Long: "`bench` starts a number of workers that read and write random " +
		"ranges of the device through the cache, then prints throughput, " +
		"cache statistics, and operation metrics.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}

		opts, err := benchOptionsFromFlags(cmd, s)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(
			cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return bench(ctx, cmd.OutOrStdout(), s, opts)
	},
}

func init() {
	addBenchFlags(benchCmd)
	benchCmd.Flags().Int("ops", 10000, "operations per worker")
	rootCmd.AddCommand(benchCmd)
}

func addBenchFlags(cmd *cobra.Command) {
	cmd.Flags().Int("workers", 4, "number of concurrent workers")
	cmd.Flags().Float64("read-ratio", 0.7, "fraction of operations that read")
	cmd.Flags().Int("max-len", 256, "maximum bytes per operation")
	cmd.Flags().Uint64("seed", 1, "random seed")
}

func benchOptionsFromFlags(cmd *cobra.Command, s settings) (benchOptions, error) {
	opts := benchOptions{policy: s.Policy}
	flags := cmd.Flags()

	opts.workers, _ = flags.GetInt("workers")
	opts.readRatio, _ = flags.GetFloat64("read-ratio")
	opts.maxLen, _ = flags.GetInt("max-len")
	opts.seed, _ = flags.GetUint64("seed")

	if flags.Lookup("ops") != nil {
		opts.ops, _ = flags.GetInt("ops")
	}

	if opts.workers <= 0 || opts.maxLen <= 0 {
		return opts, fmt.Errorf("workers and max-len must be positive")
	}

	if opts.readRatio < 0 || opts.readRatio > 1 {
		return opts, fmt.Errorf("read-ratio must be in [0, 1]")
	}

	return opts, nil
}

func bench(
	ctx context.Context,
	w io.Writer,
	s settings,
	opts benchOptions,
) error {
	d, release, err := s.openDevice()
	if err != nil {
		return err
	}
	defer func() { _ = release() }()

	c, err := s.buildCache(d)
	if err != nil {
		return err
	}

	metrics, err := collectMetrics(c)
	if err != nil {
		return err
	}
	defer func() { _ = metrics.shutdown(context.Background()) }()

	timers := map[string]*tracing.TotalTimeTracer{}
	for _, kind := range []string{"read", "write", "close"} {
		timers[kind] = tracing.NewTotalTimeTracer(tracing.KindIs(kind))
		tracing.CollectTrace(c, timers[kind])
	}

	steps := tracing.NewStepCountTracer(tracing.AllTasks)
	tracing.CollectTrace(c, steps)

	result, runErr := runBench(ctx, c, opts, nil)
	closeErr := c.Close()

	result.report(w, c.Stats())
	fmt.Fprintln(w)
	reportTimes(w, timers)
	reportSteps(w, steps)
	fmt.Fprintln(w)

	if err := metrics.print(context.Background(), w); err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}

	return closeErr
}

// runBench runs the workload. With opts.ops == 0 the workers run until ctx is
// done. Otherwise each worker performs opts.ops operations. A cancelled
// context is not an error.
func runBench(
	ctx context.Context,
	c *cache.Cache,
	opts benchOptions,
	bar *monitoring.ProgressBar,
) (benchResult, error) {
	var (
		ops   atomic.Uint64
		bytes atomic.Uint64
	)

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)

	for worker := 0; worker < opts.workers; worker++ {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(opts.seed, uint64(worker)))
			buf := make([]byte, opts.maxLen)

			for i := 0; opts.ops == 0 || i < opts.ops; i++ {
				if ctx.Err() != nil {
					return nil
				}

				addr := rng.Uint64N(c.Size())
				p := buf[:1+rng.IntN(opts.maxLen)]

				var (
					n   int
					err error
				)

				if rng.Float64() < opts.readRatio {
					n, err = c.Read(addr, p)
				} else {
					for j := range p {
						p[j] = byte(rng.Uint32())
					}

					n, err = c.Write(addr, p, opts.policy)
				}

				if err != nil {
					return fmt.Errorf("worker %d: %w", worker, err)
				}

				ops.Add(1)
				bytes.Add(uint64(n))

				if bar != nil {
					bar.IncrementFinished(1)
				}
			}

			return nil
		})
	}

	err := g.Wait()

	return benchResult{
		ops:      ops.Load(),
		bytes:    bytes.Load(),
		duration: time.Since(start),
	}, err
}
