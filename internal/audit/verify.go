package audit

import (
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Skipped   int    `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify reads a JSONL audit log and validates the hash chain.
// Lines that do not decode (partial writes) are counted in Skipped and do
// not break the chain: the next valid entry must link to the last valid
// one. Returns Valid=true if the chain is intact, or details about the
// first broken link.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	result := VerifyResult{Valid: true}
	lineNum := 0
	expected := GenesisHash

	err = eachLine(f, func(line []byte, _ bool) bool {
		lineNum++

		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			result.Skipped++
			return true
		}

		if e.PrevHash != expected {
			result = VerifyResult{
				Lines:     result.Lines,
				Skipped:   result.Skipped,
				Error:     fmt.Sprintf("hash mismatch: expected %s, got %s", expected, e.PrevHash),
				ErrorLine: lineNum,
			}
			return false
		}

		result.Lines++
		expected = HashLine(line)
		return true
	})
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	return result
}
