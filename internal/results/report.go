package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
)

// Summary aggregates one run's terminal results.
type Summary struct {
	Total    int            `json:"total"`
	OK       int            `json:"ok"`
	Errors   int            `json:"errors"`
	ByKind   map[string]int `json:"by_kind,omitempty"`
	ByRegion map[string]int `json:"by_region,omitempty"`
}

// Report is the exportable view of one run.
type Report struct {
	RunID       string           `json:"run_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Headline    string           `json:"headline"`
	Summary     Summary          `json:"summary"`
	Results     []schemas.Result `json:"results"`
}

// Summarize tallies results by status, failure group, and region.
func Summarize(results []schemas.Result) Summary {
	s := Summary{
		ByKind:   make(map[string]int),
		ByRegion: make(map[string]int),
	}
	for _, res := range results {
		s.Total++
		s.ByRegion[res.Item.Region]++
		if res.Status == schemas.StatusOK {
			s.OK++
			continue
		}
		s.Errors++
		s.ByKind[FailureKind(res.Context)]++
	}
	return s
}

// BuildReport compiles a run's results into a Report.
func BuildReport(runID string, results []schemas.Result) (*Report, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}

	summary := Summarize(results)
	return &Report{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Headline:    fmt.Sprintf("%d of %d items captured.", summary.OK, summary.Total),
		Summary:     summary,
		Results:     results,
	}, nil
}

// ToJSON renders the report for export.
func (r *Report) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return data, nil
}
