package ingest

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/finreview-cli/internal/model"
)

// WorkbookOptions configures parsing of the standardized template.
type WorkbookOptions struct {
	SheetName   string // if empty, the first sheet is used
	MaxParallel int    // concurrent file parses in ParseWorkbooks
}

// Template columns. The header row is matched case-insensitively; column
// order does not matter.
var requiredColumns = []string{"company_id", "period_id", "metric", "value_type", "frequency", "value"}

// ParseWorkbook reads one standardized XLSX workbook into datapoint rows.
// The workbook's base name becomes each row's source_file.
func ParseWorkbook(path string, opts WorkbookOptions) ([]model.Datapoint, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open workbook %s", path)
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("ingest: workbook %s: empty sheet", path)
	}

	cols, err := headerIndex(sheet.Rows[0])
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: workbook %s", path)
	}

	sourceFile := filepath.Base(path)

	var rows []model.Datapoint
	for i, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		if blank(cells) {
			continue
		}
		dp, err := parseRow(cells, cols, sourceFile)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: workbook %s: row %d", path, i+2)
		}
		rows = append(rows, dp)
	}
	return rows, nil
}

// ParseWorkbooks parses several workbooks concurrently. Parsing is pure;
// all store writes stay sequential in the caller, preserving the
// single-writer pipeline.
func ParseWorkbooks(ctx context.Context, paths []string, opts WorkbookOptions) ([]model.Datapoint, error) {
	parallel := opts.MaxParallel
	if parallel <= 0 {
		parallel = 4
	}

	results := make([][]model.Datapoint, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rows, err := ParseWorkbook(path, opts)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []model.Datapoint
	for _, rows := range results {
		all = append(all, rows...)
	}
	return all, nil
}

func getSheet(f *xlsx.File, opts WorkbookOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("ingest: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("ingest: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func headerIndex(header *xlsx.Row) (map[string]int, error) {
	cols := make(map[string]int)
	for i, cell := range header.Cells {
		name := strings.ToLower(strings.TrimSpace(cell.String()))
		if name != "" {
			cols[name] = i
		}
	}
	for _, required := range requiredColumns {
		if _, ok := cols[required]; !ok {
			return nil, eris.Errorf("missing column %q", required)
		}
	}
	return cols, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = strings.TrimSpace(cell.String())
	}
	return cells
}

func blank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

func parseRow(cells []string, cols map[string]int, sourceFile string) (model.Datapoint, error) {
	var dp model.Datapoint

	companyID, err := strconv.ParseInt(cellAt(cells, cols, "company_id"), 10, 64)
	if err != nil {
		return dp, eris.Wrap(err, "parse company_id")
	}
	periodID, err := strconv.ParseInt(cellAt(cells, cols, "period_id"), 10, 64)
	if err != nil {
		return dp, eris.Wrap(err, "parse period_id")
	}
	value, err := decimal.NewFromString(strings.ReplaceAll(cellAt(cells, cols, "value"), ",", ""))
	if err != nil {
		return dp, eris.Wrap(err, "parse value")
	}

	dp = model.Datapoint{
		CompanyID:       companyID,
		PeriodID:        periodID,
		Metric:          cellAt(cells, cols, "metric"),
		ValueType:       model.ValueType(strings.ToLower(cellAt(cells, cols, "value_type"))),
		Frequency:       model.Frequency(strings.ToLower(cellAt(cells, cols, "frequency"))),
		Value:           value,
		Currency:        cellAt(cells, cols, "currency"),
		SourceFile:      sourceFile,
		CellReference:   cellAt(cells, cols, "cell_reference"),
		SourceType:      cellAt(cells, cols, "source_type"),
		CalculationNote: cellAt(cells, cols, "calculation_note"),
	}

	if page := cellAt(cells, cols, "source_page"); page != "" {
		p, err := strconv.Atoi(page)
		if err != nil {
			return dp, eris.Wrap(err, "parse source_page")
		}
		dp.SourcePage = p
	}

	return dp, nil
}

func cellAt(cells []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}
