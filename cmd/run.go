package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finreview-cli/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run [workbook]...",
	Short: "Run the full review pipeline",
	Long: `Run ingest, derive, question generation and re-ranking as one
sequential batch. Workbook arguments may be local paths or http(s)/ftp
URLs; with no arguments the ingest stage is skipped and the downstream
stages run over the existing data.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "run"))

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "run: migrate")
		}

		rows, err := loadWorkbooks(ctx, args)
		if err != nil {
			return err
		}

		log.Info("starting pipeline run",
			zap.Int("workbooks", len(args)),
			zap.Int("rows", len(rows)),
		)

		if err := pipeline.New(st, cfg).Run(ctx, rows); err != nil {
			return eris.Wrap(err, "run")
		}

		fmt.Println("Pipeline complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
