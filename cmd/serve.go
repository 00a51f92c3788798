package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/topolens/verity/internal/scheduler"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the verification API server and maintenance scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sched := scheduler.New(
			time.Duration(cfg.Scheduler.MaxRuntimeMins)*time.Minute,
			scheduler.IntervalJob("validation_sweep",
				time.Duration(cfg.Scheduler.ValidationIntervalMins)*time.Minute,
				func(ctx context.Context) error {
					_, err := env.Ledger.Sweep(ctx, env.Health)
					return err
				}),
			scheduler.DailyJob("confidence_decay", cfg.Scheduler.DecayHourUTC,
				func(ctx context.Context) error {
					_, err := env.Decay.Apply(ctx)
					return err
				}),
			scheduler.WeeklyJob("calibration",
				time.Weekday(cfg.Scheduler.CalibrationWeekday), cfg.Scheduler.CalibrationHourUTC,
				func(ctx context.Context) error {
					_, err := env.Calibration.Analyze(ctx)
					return err
				}),
		)
		go sched.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env, sched),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
