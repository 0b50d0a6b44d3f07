package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finreview-cli/internal/pipeline"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Re-rank the active question list",
	Long: `Reassign stable positions 1..N to all active questions by score,
ties broken by derived metric id. Only changed positions are written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "rank"))

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := pipeline.New(st, cfg).UpdateRanks(ctx)
		if err != nil {
			return eris.Wrap(err, "rank")
		}

		log.Info("re-rank complete",
			zap.Int("total", res.Total),
			zap.Int("updated", res.Updated),
		)
		fmt.Printf("Re-ranked %d questions, %d positions updated\n", res.Total, res.Updated)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rankCmd)
}
