package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"clipmind/internal/api"
	"clipmind/internal/capture"
	"clipmind/internal/history"
)

var (
	daemonAPI       bool
	daemonAddr      string
	daemonNoCapture bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Watch the system clipboard and serve the local API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := OpenApp()
		if err != nil {
			return err
		}
		defer a.Close()
		cfg := a.Config

		if a.OCR != nil {
			a.OCR.Start(ctx)
		}
		retention := history.NewRetentionWorker(a.Service, cfg.Retention.Interval.Duration, a.Log)
		retention.Start(ctx)
		defer retention.Stop()

		g, gctx := errgroup.WithContext(ctx)
		if !daemonNoCapture {
			src := &capture.SystemSource{
				SourceApp: cfg.Capture.SourceApp,
				Text:      cfg.Capture.MonitorText,
				Images:    cfg.Capture.MonitorImages,
			}
			g.Go(func() error {
				stats, err := capture.Pump(gctx, src, a.Service, a.Log)
				a.Log.Info().Int("stored", stats.Stored).Int("rejected", stats.Rejected).
					Int("failed", stats.Failed).Msg("capture stopped")
				return err
			})
		}
		if daemonAPI || cfg.API.Enabled {
			addr := cfg.API.Addr
			if daemonAddr != "" {
				addr = daemonAddr
			}
			srv := api.New(a.Service, a.Search, a.Bus, a.Log)
			g.Go(func() error { return srv.Run(gctx, addr) })
		}

		a.Log.Info().Str("db", cfg.Storage.Path).Bool("capture", !daemonNoCapture).
			Bool("api", daemonAPI || cfg.API.Enabled).Msg("daemon started")
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			return err
		}
		<-ctx.Done()
		a.Log.Info().Msg("daemon stopping")
		return nil
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonAPI, "api", false, "Serve the HTTP API (also enabled by api.enabled)")
	daemonCmd.Flags().StringVar(&daemonAddr, "addr", "", "API listen address (default from config)")
	daemonCmd.Flags().BoolVar(&daemonNoCapture, "no-capture", false, "Do not watch the system clipboard")
	rootCmd.AddCommand(daemonCmd)
}
