package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finreview-cli/internal/pipeline"
)

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Recompute derived metrics",
	Long: `Recompute growth and budget variance records from the stored
datapoints and upsert them. Rerunning over unchanged data is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "derive"))

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := pipeline.New(st, cfg).Derive(ctx)
		if err != nil {
			return eris.Wrap(err, "derive")
		}

		log.Info("derive complete", zap.Int64("derived", n))
		fmt.Printf("Upserted %d derived metrics\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deriveCmd)
}
