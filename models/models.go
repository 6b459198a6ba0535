// Package models defines data structures shared by the watcher packages.
package models

import (
	"encoding/json"
	"time"
)

// RunTimestampLayout is the UTC layout used for run identifiers in paths.
const RunTimestampLayout = "20060102T150405Z"

// Row is a single record exactly as the remote API returned it.
type Row = json.RawMessage

// RunResult summarises one fetch-then-persist cycle.
type RunResult struct {
	RunID         string `json:"run_id"`
	RunTS         string `json:"run_ts"`
	DatasetID     string `json:"dataset_id"`
	Domain        string `json:"domain"`
	LookbackHours int    `json:"lookback_hours"`
	PulledRows    int    `json:"pulled_rows"`
	OutputPath    string `json:"output_path"`

	// SampleKeys holds up to 25 sorted key names of the first row, for
	// diagnostics only.
	SampleKeys []string `json:"sample_keys,omitempty"`
}

// FormatRunTimestamp renders t in RunTimestampLayout.
func FormatRunTimestamp(t time.Time) string {
	return t.UTC().Format(RunTimestampLayout)
}
