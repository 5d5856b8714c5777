// This file implements the search command for retrieving episodes.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/engram/core/retrieval"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// SearchDefaultLimit is the default number of results.
	SearchDefaultLimit = 10

	// SearchMaxLimit is the maximum number of results.
	SearchMaxLimit = 100
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// =============================================================================
// Search Command Flags
// =============================================================================

var (
	searchDomain   string
	searchTaskType string
	searchSince    string
	searchUntil    string
	searchLimit    int
	searchLambda   float64
	searchJSON     bool
)

// =============================================================================
// Search Command
// =============================================================================

var searchCmd = &cobra.Command{
	Use:   "search [query text]",
	Short: "Retrieve relevant episodes",
	Long: `Retrieve episodes ranked by domain, task type, temporal proximity,
and similarity, re-ranked for diversity.

Examples:
  engram search "database migration"
  engram search --domain backend --task-type refactor
  engram search --since 2026-01-01 --limit 5 "flaky test"
  engram search --json "deploy" | jq '.episodes'`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringVarP(&searchDomain, "domain", "d", "", "Filter by domain")
	searchCmd.Flags().StringVarP(&searchTaskType, "task-type", "t", "", "Filter by task type")
	searchCmd.Flags().StringVar(&searchSince, "since", "", "Earliest start time (RFC3339 or YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchUntil, "until", "", "Latest start time (RFC3339 or YYYY-MM-DD)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", SearchDefaultLimit, "Maximum number of results")
	searchCmd.Flags().Float64Var(&searchLambda, "lambda", -1, "Diversity trade-off in [0,1]; -1 uses the configured value")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output results as JSON")
}

// =============================================================================
// Search Execution
// =============================================================================

func runSearch(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	q := eng.NewQuery()
	q.Text = strings.Join(args, " ")
	q.Domain = searchDomain
	q.TaskType = searchTaskType
	q.Limit = clampLimit(searchLimit)
	if searchLambda >= 0 {
		q.Lambda = searchLambda
	}

	if searchSince != "" {
		since, err := parseTimeFlag(searchSince)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		q.Since = since
	}
	if searchUntil != "" {
		until, err := parseTimeFlag(searchUntil)
		if err != nil {
			return fmt.Errorf("invalid --until: %w", err)
		}
		q.Until = until
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := eng.Retrieve(ctx, q)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	return outputSearchResults(cmd.OutOrStdout(), result)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return SearchDefaultLimit
	}
	if limit > SearchMaxLimit {
		return SearchMaxLimit
	}
	return limit
}

// parseTimeFlag accepts RFC3339 or a bare date.
func parseTimeFlag(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// =============================================================================
// Output Formatting
// =============================================================================

func outputSearchResults(w io.Writer, result *retrieval.Result) error {
	if searchJSON {
		return outputJSONResults(w, result)
	}
	return outputRichResults(w, result)
}

// searchOutput is the JSON output structure.
type searchOutput struct {
	Strategy string          `json:"strategy"`
	Degraded bool            `json:"degraded,omitempty"`
	Partial  bool            `json:"partial,omitempty"`
	Episodes []episodeOutput `json:"episodes"`
}

// episodeOutput is the JSON output for a single scored episode.
type episodeOutput struct {
	ID          string  `json:"id"`
	Domain      string  `json:"domain"`
	TaskType    string  `json:"task_type"`
	Description string  `json:"description"`
	Outcome     string  `json:"outcome"`
	StartTime   string  `json:"start_time"`
	Relevance   float64 `json:"relevance"`
	Adjusted    float64 `json:"adjusted"`
}

func outputJSONResults(w io.Writer, result *retrieval.Result) error {
	out := searchOutput{
		Strategy: result.Strategy,
		Degraded: result.Degraded,
		Partial:  result.Partial,
		Episodes: make([]episodeOutput, 0, len(result.Episodes)),
	}
	for _, scored := range result.Episodes {
		out.Episodes = append(out.Episodes, episodeOutput{
			ID:          scored.ID.String(),
			Domain:      scored.Episode.Domain,
			TaskType:    scored.Episode.TaskType,
			Description: scored.Episode.Description,
			Outcome:     string(scored.Episode.Outcome),
			StartTime:   scored.Episode.StartTime.Format(time.RFC3339),
			Relevance:   scored.Relevance,
			Adjusted:    scored.Adjusted,
		})
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func outputRichResults(w io.Writer, result *retrieval.Result) error {
	fmt.Fprintf(w, "%s%sEpisodes%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%sStrategy:%s %s", colorGray, colorReset, result.Strategy)
	if result.Degraded {
		fmt.Fprintf(w, "  %s(degraded)%s", colorYellow, colorReset)
	}
	if result.Partial {
		fmt.Fprintf(w, "  %s(partial)%s", colorYellow, colorReset)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w)

	if len(result.Episodes) == 0 {
		fmt.Fprintf(w, "%sNo matching episodes.%s\n", colorYellow, colorReset)
		return nil
	}

	for i, scored := range result.Episodes {
		ep := scored.Episode
		fmt.Fprintf(w, "%s%d.%s %s%s%s\n",
			colorYellow, i+1, colorReset,
			colorBold, ep.Description, colorReset)
		fmt.Fprintf(w, "   %s%s/%s%s  %s%s%s  score %.4f\n",
			colorGray, ep.Domain, ep.TaskType, colorReset,
			colorGray, ep.StartTime.Format("2006-01-02"), colorReset,
			scored.Adjusted)
		fmt.Fprintf(w, "   %s%s%s\n", colorGray, ep.ID, colorReset)
		fmt.Fprintln(w)
	}

	return nil
}
