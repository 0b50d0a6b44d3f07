package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finreview-cli/internal/pipeline"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline on a cron schedule",
	Long: `Run the full pipeline unattended on the configured cron expression.
Each tick ingests the configured sources (schedule.sources URLs plus any
*.xlsx files in schedule.source_dir) and runs the downstream stages. A
tick that fires while the previous run is still in progress is skipped.
Stops on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := zap.L().With(zap.String("command", "schedule"))

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "schedule: migrate")
		}

		p := pipeline.New(st, cfg)

		c := cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger{log}),
			cron.Recover(cronLogger{log}),
		))
		_, err = c.AddFunc(cfg.Schedule.Cron, func() {
			if err := runScheduledBatch(ctx, p); err != nil {
				log.Error("scheduled run failed", zap.Error(err))
			}
		})
		if err != nil {
			return eris.Wrapf(err, "schedule: invalid cron expression %q", cfg.Schedule.Cron)
		}

		log.Info("scheduler started", zap.String("cron", cfg.Schedule.Cron))
		fmt.Printf("Scheduler running (%s), press Ctrl+C to stop\n", cfg.Schedule.Cron)

		c.Start()
		<-ctx.Done()

		stopCtx := c.Stop()
		<-stopCtx.Done()
		log.Info("scheduler stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}

func runScheduledBatch(ctx context.Context, p *pipeline.Pipeline) error {
	sources, err := scheduledSources()
	if err != nil {
		return err
	}

	rows, err := loadWorkbooks(ctx, sources)
	if err != nil {
		return err
	}
	return p.Run(ctx, rows)
}

// scheduledSources combines the configured URLs with any workbooks
// dropped into the source directory.
func scheduledSources() ([]string, error) {
	sources := append([]string(nil), cfg.Schedule.Sources...)

	if dir := cfg.Schedule.SourceDir; dir != "" {
		matches, err := filepath.Glob(filepath.Join(dir, "*.xlsx"))
		if err != nil {
			return nil, eris.Wrapf(err, "schedule: scan %s", dir)
		}
		sources = append(sources, matches...)
	}
	return sources, nil
}

// cronLogger adapts zap to the cron logging interface.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Sugar().Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

var _ cron.Logger = cronLogger{}
