// Package workbook reads the batch spreadsheet and writes per-item
// results back into it.
package workbook

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/config"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/results"
)

// Workbook wraps one spreadsheet's column layout.
type Workbook struct {
	cfg config.WorkbookConfig
	log *zap.Logger
}

// New creates a workbook accessor with the configured column layout.
func New(cfg config.WorkbookConfig, logger *zap.Logger) *Workbook {
	return &Workbook{
		cfg: cfg,
		log: logger.Named("workbook"),
	}
}

// ReadItems scans the sheet for unprocessed work items. Row 1 is the
// header. Rows without a link and rows already carrying a truthy processed
// marker are skipped. The returned row numbers align with the items so
// results can be written back later.
func (w *Workbook) ReadItems(path, sheet string) ([]schemas.WorkItem, []int, error) {
	path = w.resolvePath(path)

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer w.close(f)

	sheet = w.resolveSheet(f, sheet)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	cols := w.cfg.Columns
	var items []schemas.WorkItem
	var rowNums []int

	for i := 1; i < len(rows); i++ {
		rowNum := i + 1

		link := cellAt(rows[i], cols.Link)
		if link == "" {
			continue
		}
		if isProcessed(cellAt(rows[i], cols.Processed)) {
			w.log.Debug("Skipping processed row", zap.Int("row", rowNum))
			continue
		}

		items = append(items, schemas.WorkItem{
			Link:        link,
			Title:       cellAt(rows[i], cols.Title),
			Region:      strings.ToLower(cellAt(rows[i], cols.Region)),
			ImageURL:    cellAt(rows[i], cols.Image),
			Description: cellAt(rows[i], cols.Description),
		})
		rowNums = append(rowNums, rowNum)
	}

	w.log.Info("Workbook scanned",
		zap.String("path", path),
		zap.String("sheet", sheet),
		zap.Int("items", len(items)),
	)
	return items, rowNums, nil
}

// WriteResults writes terminal results back into the sheet and saves it.
// Rows are matched to results by item identity (link+region read from the
// row itself), so completion order does not have to follow sheet order.
func (w *Workbook) WriteResults(path, sheet string, rowNums []int, runResults []schemas.Result) error {
	if len(rowNums) == 0 || len(runResults) == 0 {
		return nil
	}
	path = w.resolvePath(path)

	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer w.close(f)

	sheet = w.resolveSheet(f, sheet)
	cols := w.cfg.Columns

	byKey := make(map[string]schemas.Result, len(runResults))
	for _, res := range runResults {
		byKey[res.Item.Key()] = res
	}

	written := 0
	for _, rowNum := range rowNums {
		link, err := f.GetCellValue(sheet, cellRef(cols.Link, rowNum))
		if err != nil {
			return fmt.Errorf("failed to read row %d: %w", rowNum, err)
		}
		region, err := f.GetCellValue(sheet, cellRef(cols.Region, rowNum))
		if err != nil {
			return fmt.Errorf("failed to read row %d: %w", rowNum, err)
		}

		key := schemas.WorkItem{
			Link:   strings.TrimSpace(link),
			Region: strings.ToLower(strings.TrimSpace(region)),
		}.Key()
		res, ok := byKey[key]
		if !ok {
			continue
		}

		cells := map[int]string{
			cols.Processed: "1",
			cols.Status:    string(res.Status),
			cols.Context:   res.Context,
			cols.Artifact:  res.ArtifactPath,
			cols.Timestamp: res.Timestamp.Format(time.RFC3339),
		}
		for col, value := range cells {
			if err := f.SetCellValue(sheet, cellRef(col, rowNum), value); err != nil {
				return fmt.Errorf("failed to write row %d: %w", rowNum, err)
			}
		}
		written++
	}

	if err := f.Save(); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}

	w.log.Info("Workbook updated", zap.String("path", path), zap.Int("rows", written))
	return nil
}

func (w *Workbook) resolvePath(path string) string {
	if path != "" {
		return path
	}
	return w.cfg.Path
}

func (w *Workbook) resolveSheet(f *excelize.File, sheet string) string {
	if sheet != "" {
		return sheet
	}
	if w.cfg.Sheet != "" {
		return w.cfg.Sheet
	}
	return f.GetSheetName(0)
}

func (w *Workbook) close(f *excelize.File) {
	if err := f.Close(); err != nil {
		w.log.Warn("Failed to close workbook", zap.Error(err))
	}
}

// cellAt returns the trimmed value of a 1-based column in a row slice.
// GetRows drops trailing empty cells, hence the bounds check.
func cellAt(row []string, col int) string {
	if col < 1 || col > len(row) {
		return ""
	}
	return strings.TrimSpace(row[col-1])
}

// cellRef converts 1-based coordinates to an A1 reference. Column numbers
// are validated at config load, so the conversion cannot fail.
func cellRef(col, row int) string {
	ref, _ := excelize.CoordinatesToCellName(col, row)
	return ref
}

// isProcessed reports whether a processed-marker cell indicates the row was
// already captured in an earlier run.
func isProcessed(marker string) bool {
	if marker == "" {
		return false
	}
	return results.NormalizeStatus(marker) == schemas.StatusOK
}
