package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/sarchlab/linecache/monitoring"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a workload and serve a live monitor of the cache.",
	Long: "`serve` runs the same workload as `bench` until it is interrupted " +
		"or the duration passes, while a web monitor reports the cache " +
		"statistics and line directory.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}

		opts, err := benchOptionsFromFlags(cmd, s)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("port") {
			s.MonitorPort, _ = cmd.Flags().GetInt("port")
		}

		duration, _ := cmd.Flags().GetDuration("duration")
		open, _ := cmd.Flags().GetBool("open")

		ctx, stop := signal.NotifyContext(
			cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		return serve(ctx, cmd.OutOrStdout(), s, opts, open)
	},
}

func init() {
	addBenchFlags(serveCmd)
	serveCmd.Flags().Int("port", 0, "monitor port, random if not set")
	serveCmd.Flags().Duration("duration", 0, "stop after this long")
	serveCmd.Flags().Bool("open", false, "open the monitor in a browser")
	rootCmd.AddCommand(serveCmd)
}

func serve(
	ctx context.Context,
	w io.Writer,
	s settings,
	opts benchOptions,
	open bool,
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

	m := monitoring.NewMonitor().WithPortNumber(s.MonitorPort)
	m.RegisterCache(c)

	port, err := m.StartServer()
	if err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second)
		defer cancel()

		_ = m.Shutdown(shutdownCtx)
	}()

	if open {
		url := fmt.Sprintf("http://localhost:%d", port)
		if err := browser.OpenURL(url); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open %s: %v\n", url, err)
		}
	}

	bar := m.CreateProgressBar("workload", uint64(opts.workers*opts.ops))
	result, runErr := runBench(ctx, c, opts, bar)
	m.CompleteProgressBar(bar)

	closeErr := c.Close()
	result.report(w, c.Stats())

	if runErr != nil {
		return runErr
	}

	return closeErr
}
