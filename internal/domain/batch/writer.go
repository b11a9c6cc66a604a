package batch

import (
	"encoding/json"
	"fmt"
	"os"
)

// ResultFile is the per-run output document: the summary plus every
// record's final state and, for successes, the parsed domain result.
type ResultFile struct {
	Run     *Run      `json:"run"`
	Records []*Record `json:"records"`
}

// WriteResultFile writes the run report as indented JSON.
func WriteResultFile(path string, run *Run, records []*Record) error {
	raw, err := json.MarshalIndent(ResultFile{Run: run, Records: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write run report: %w", err)
	}
	return nil
}
