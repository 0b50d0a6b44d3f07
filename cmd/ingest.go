package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finreview-cli/internal/fetcher"
	"github.com/sells-group/finreview-cli/internal/ingest"
	"github.com/sells-group/finreview-cli/internal/model"
	"github.com/sells-group/finreview-cli/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <workbook>...",
	Short: "Ingest standardized workbooks",
	Long: `Ingest one or more standardized XLSX workbooks into the datapoint store.

Arguments may be local paths or http(s)/ftp URLs; remote workbooks are
staged to a temp directory first. Rows whose natural key already exists
are recorded as corroborating sources instead of new datapoints.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "ingest"))

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rows, err := loadWorkbooks(ctx, args)
		if err != nil {
			return err
		}

		res, err := ingestRows(ctx, st, rows)
		if err != nil {
			return err
		}

		log.Info("ingest complete",
			zap.Int("rows", len(rows)),
			zap.Int("inserted", res.Inserted),
			zap.Int("corroborated", res.Corroborated),
		)
		fmt.Printf("Ingested %d rows: %d inserted, %d corroborated\n",
			len(rows), res.Inserted, res.Corroborated)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func ingestRows(ctx context.Context, st store.Store, rows []model.Datapoint) (ingest.Result, error) {
	res, err := ingest.New(st).IngestRows(ctx, rows)
	if err != nil {
		return res, eris.Wrap(err, "ingest")
	}
	return res, nil
}

// loadWorkbooks stages remote sources, then parses everything.
func loadWorkbooks(ctx context.Context, sources []string) ([]model.Datapoint, error) {
	paths, cleanup, err := stageSources(ctx, sources)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return ingest.ParseWorkbooks(ctx, paths, ingest.WorkbookOptions{
		SheetName:   cfg.Ingest.SheetName,
		MaxParallel: cfg.Ingest.MaxParallel,
	})
}

// stageSources resolves each source to a local path, downloading remote
// ones into a temp directory. The cleanup func removes the staging dir.
func stageSources(ctx context.Context, sources []string) ([]string, func(), error) {
	cleanup := func() {}

	var reg *fetcher.Registry
	var stageDir string

	paths := make([]string, 0, len(sources))
	for _, src := range sources {
		if !isRemote(src) {
			paths = append(paths, src)
			continue
		}

		if reg == nil {
			dir, err := os.MkdirTemp("", "finreview-ingest-*")
			if err != nil {
				return nil, cleanup, eris.Wrap(err, "ingest: create staging dir")
			}
			stageDir = dir
			cleanup = func() { _ = os.RemoveAll(stageDir) }
			reg = fetcher.NewRegistry(cfg.Fetch)
		}

		local, err := reg.Stage(ctx, src, stageDir)
		if err != nil {
			return nil, cleanup, err
		}
		paths = append(paths, local)
	}
	return paths, cleanup, nil
}

func isRemote(source string) bool {
	for _, prefix := range []string{"http://", "https://", "ftp://"} {
		if strings.HasPrefix(source, prefix) {
			return true
		}
	}
	return false
}
