package main

import (
	"encoding/json"
	"io"
)

// output is the JSON envelope every command prints.
type output struct {
	Command    string `json:"command"`
	RequestID  string `json:"request_id,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Result     any    `json:"result"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
