package preflight

import (
	"context"
	"strings"

	"callscribe/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Spool directory", cfg.Paths.SpoolDir),
	}

	switch strings.ToLower(cfg.STT.Backend) {
	case "openai":
		results = append(results, CheckOpenAI(ctx, cfg.STT.OpenAIBaseURL, cfg.STT.OpenAIAPIKey))
	case "google":
		results = append(results, CheckCredentialsFile("Google Speech credentials", cfg.STT.GoogleCredentialsFile))
	}

	if strings.EqualFold(cfg.Store.Backend, "redis") {
		results = append(results, CheckRedis(ctx, cfg.Store.RedisURL))
	}

	if cfg.Archive.Enabled && cfg.Archive.CredentialsFile != "" {
		results = append(results, CheckCredentialsFile("Archive credentials", cfg.Archive.CredentialsFile))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
