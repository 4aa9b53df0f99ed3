package preflight

import (
	"context"
	"fmt"
	"strings"

	"casiel/internal/config"
	"casiel/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// Probes are the live connections RunAll exercises. Nil probes are skipped.
type Probes struct {
	Redis   Pinger
	Broker  BrokerPinger
	Content Authenticator
}

// RunAll executes every applicable check for cfg.
func RunAll(ctx context.Context, cfg *config.Config, probes Probes) []Result {
	if cfg == nil {
		return nil
	}
	var results []Result

	results = append(results, CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir))
	results = append(results, CheckFreeSpace("Work directory space", cfg.Paths.WorkDir, MinFreeBytes))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))

	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		results = append(results, fromStatus(status))
	}

	results = append(results, CheckGeminiKey(cfg.Gemini.APIKey))
	if probes.Redis != nil {
		results = append(results, CheckRedis(ctx, probes.Redis))
	}
	if probes.Broker != nil {
		results = append(results, CheckBroker(probes.Broker))
	}
	if probes.Content != nil {
		results = append(results, CheckContentAPI(ctx, probes.Content))
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}

// Summarize joins failed checks into one line.
func Summarize(failed []Result) string {
	parts := make([]string, 0, len(failed))
	for _, r := range failed {
		parts = append(parts, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	return strings.Join(parts, "; ")
}

func fromStatus(status deps.Status) Result {
	result := Result{Name: status.Name, Optional: status.Optional, Passed: status.Available}
	if status.Available {
		result.Detail = status.Resolved
	} else {
		result.Detail = status.Detail
	}
	return result
}
