package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// statusTables is the display order for table counts.
var statusTables = []string{
	"financial_datapoints",
	"datapoint_sources",
	"derived_metrics",
	"live_questions",
	"question_logs",
	"metric_weights",
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store contents and the current question list",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Ping(ctx); err != nil {
			return eris.Wrap(err, "status: store unreachable")
		}

		counts, err := st.TableCounts(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		formatCounts(os.Stdout, counts)

		questions, err := st.FetchActiveQuestions(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if len(questions) > 0 {
			fmt.Println()
			formatQuestions(os.Stdout, questions)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// formatCounts writes row counts per table with thousands separators.
func formatCounts(out io.Writer, counts map[string]int64) {
	p := message.NewPrinter(language.English)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TABLE\tROWS")
	_, _ = fmt.Fprintln(w, "-----\t----")
	for _, table := range statusTables {
		if n, ok := counts[table]; ok {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", table, p.Sprintf("%d", n))
		}
	}
	_ = w.Flush()
}
