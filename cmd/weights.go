package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/finreview-cli/internal/model"
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Manage metric scoring weights",
}

var weightsSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed metric weights from a YAML file",
	Long: `Load metric weights from a YAML file and upsert them. The file
holds a list of {metric, weight} entries; metrics absent from the file
keep their stored weight.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "weights.seed"))

		path, _ := cmd.Flags().GetString("file")
		weights, err := loadWeightsFile(path)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.SeedMetricWeights(ctx, weights); err != nil {
			return eris.Wrap(err, "weights seed")
		}

		log.Info("weights seeded", zap.Int("count", len(weights)), zap.String("file", path))
		fmt.Printf("Seeded %d metric weights\n", len(weights))
		return nil
	},
}

var weightsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored metric weights",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		weights, err := st.FetchMetricWeights(ctx)
		if err != nil {
			return eris.Wrap(err, "weights list")
		}

		if len(weights) == 0 {
			fmt.Printf("No metric weights stored; unweighted metrics score at %.2f\n",
				cfg.Scoring.DefaultWeight)
			return nil
		}

		formatWeights(os.Stdout, weights)
		return nil
	},
}

func init() {
	weightsSeedCmd.Flags().String("file", "weights.yaml", "path to the weights YAML file")
	weightsCmd.AddCommand(weightsSeedCmd)
	weightsCmd.AddCommand(weightsListCmd)
	rootCmd.AddCommand(weightsCmd)
}

// loadWeightsFile reads and validates a weights YAML file. Weights are
// parsed from strings so yaml never touches float representation.
func loadWeightsFile(path string) ([]model.MetricWeight, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "weights: read %s", path)
	}

	var doc struct {
		Weights []struct {
			Metric string `yaml:"metric"`
			Weight string `yaml:"weight"`
		} `yaml:"weights"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "weights: parse %s", path)
	}

	weights := make([]model.MetricWeight, 0, len(doc.Weights))
	for i, entry := range doc.Weights {
		if entry.Metric == "" {
			return nil, eris.Errorf("weights: entry %d: missing metric", i)
		}
		w, err := decimal.NewFromString(entry.Weight)
		if err != nil {
			return nil, eris.Wrapf(err, "weights: entry %d (%s)", i, entry.Metric)
		}
		if w.IsNegative() {
			return nil, eris.Errorf("weights: entry %d (%s): negative weight", i, entry.Metric)
		}
		weights = append(weights, model.MetricWeight{Metric: entry.Metric, Weight: w})
	}
	return weights, nil
}

func formatWeights(out io.Writer, weights map[string]decimal.Decimal) {
	metrics := make([]string, 0, len(weights))
	for m := range weights {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "METRIC\tWEIGHT")
	_, _ = fmt.Fprintln(w, "------\t------")
	for _, m := range metrics {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", m, weights[m].String())
	}
	_ = w.Flush()
}
