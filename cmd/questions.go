package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finreview-cli/internal/model"
	"github.com/sells-group/finreview-cli/internal/pipeline"
)

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Manage live review questions",
}

var questionsGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Raise questions for material variances",
	Long: `Score every derived metric against the configured threshold and
raise a live question for each material variance not already covered by
an active question.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "questions.generate"))

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		created, err := pipeline.New(st, cfg).GenerateQuestions(ctx)
		if err != nil {
			return eris.Wrap(err, "questions generate")
		}

		log.Info("question generation complete", zap.Int("created", created))
		fmt.Printf("Created %d questions\n", created)
		return nil
	},
}

var questionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active questions in rank order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		questions, err := st.FetchActiveQuestions(ctx)
		if err != nil {
			return eris.Wrap(err, "questions list")
		}

		if len(questions) == 0 {
			fmt.Println("No active questions")
			return nil
		}

		formatQuestions(os.Stdout, questions)
		return nil
	},
}

func init() {
	questionsCmd.AddCommand(questionsGenerateCmd)
	questionsCmd.AddCommand(questionsListCmd)
	rootCmd.AddCommand(questionsCmd)
}

// formatQuestions writes a tabular view of active questions to w.
func formatQuestions(out io.Writer, questions []model.LiveQuestion) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "POS\tSCORE\tDIRECTION\tQUESTION")
	_, _ = fmt.Fprintln(w, "---\t-----\t---------\t--------")

	for _, q := range questions {
		pos := "-"
		if q.RankPosition != nil {
			pos = fmt.Sprintf("%d", *q.RankPosition)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			pos,
			q.RankScore.StringFixed(4),
			q.Scorecard.Direction,
			truncate(q.Text, 80),
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
