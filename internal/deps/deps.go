// Package deps reports whether the external tools the worker shells out to
// are installed.
package deps

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"casiel/internal/config"
)

// Requirement defines an external dependency casiel relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	// File marks a plain file requirement (checked with stat, not PATH).
	File bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Resolved    string
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		case req.File:
			if info, err := os.Stat(cmd); err != nil {
				status.Detail = fmt.Sprintf("file %q not found", cmd)
			} else if info.IsDir() {
				status.Detail = fmt.Sprintf("%q is a directory", cmd)
			} else {
				status.Available = true
				status.Resolved = cmd
			}
		default:
			if resolved, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Available = true
				status.Resolved = resolved
			}
		}
		results = append(results, status)
	}
	return results
}

// Requirements lists the tools cfg needs. curl is only required when the
// request strategy can select it.
func Requirements(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{
			Name:        "Python",
			Command:     cfg.Analysis.Python,
			Description: "Runs the audio analysis script",
		},
		{
			Name:        "Audio script",
			Command:     cfg.Analysis.Script,
			Description: "Perceptual hash and BPM/key analysis",
			File:        true,
		},
		{
			Name:        "FFmpeg",
			Command:     cfg.Analysis.FFmpeg,
			Description: "Transcodes the lightweight MP3",
		},
	}
	switch strings.ToLower(strings.TrimSpace(cfg.HTTP.Strategy)) {
	case "curl":
		reqs = append(reqs, Requirement{
			Name:        "curl",
			Command:     cfg.HTTP.CurlBinary,
			Description: "Executes outbound HTTP requests",
		})
	case "", "auto":
		reqs = append(reqs, Requirement{
			Name:        "curl",
			Command:     cfg.HTTP.CurlBinary,
			Description: "Used for outbound HTTP on platforms without the native client",
			Optional:    true,
		})
	}
	return reqs
}

// MissingRequired returns the required dependencies that are unavailable.
func MissingRequired(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}
