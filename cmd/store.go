// This file implements the store command for recording episodes.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/engram/core/episode"
)

// =============================================================================
// Store Command Flags
// =============================================================================

var (
	storeDomain    string
	storeTaskType  string
	storeOutcome   string
	storeReward    float64
	storeContext   []string
	storeJSON      bool
)

// =============================================================================
// Store Command
// =============================================================================

var storeCmd = &cobra.Command{
	Use:   "store <description>",
	Short: "Record a completed episode",
	Long: `Record a completed episode in durable storage.

Examples:
  engram store --domain backend --task-type refactor "split the billing service"
  engram store -d infra -t incident --outcome failure --reward -1 "rollback failed"
  engram store -d web -t feature --ctx ticket=ENG-421 "added SSO login"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStore,
}

func init() {
	rootCmd.AddCommand(storeCmd)

	storeCmd.Flags().StringVarP(&storeDomain, "domain", "d", "", "Episode domain (required)")
	storeCmd.Flags().StringVarP(&storeTaskType, "task-type", "t", "", "Episode task type (required)")
	storeCmd.Flags().StringVar(&storeOutcome, "outcome", "success", "Outcome: success, partial, failure, unknown")
	storeCmd.Flags().Float64Var(&storeReward, "reward", 0, "Scalar reward for the episode")
	storeCmd.Flags().StringArrayVar(&storeContext, "ctx", nil, "Context entries as key=value (repeatable)")
	storeCmd.Flags().BoolVar(&storeJSON, "json", false, "Output the stored episode as JSON")
	storeCmd.MarkFlagRequired("domain")
	storeCmd.MarkFlagRequired("task-type")
}

// =============================================================================
// Store Execution
// =============================================================================

func runStore(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ep := episode.New(storeDomain, storeTaskType, strings.Join(args, " "))
	ep.Complete(parseOutcome(storeOutcome), storeReward)

	ctx, err := parseContextFlags(storeContext)
	if err != nil {
		return err
	}
	ep.Context = ctx

	opCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	receipt, err := eng.StoreEpisode(opCtx, ep)
	if err != nil {
		if receipt != nil && receipt.Degraded {
			fmt.Fprintf(cmd.ErrOrStderr(),
				"episode %s stored but not indexed; run 'engram rebuild' to repair\n", ep.ID)
		}
		return err
	}

	if storeJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(ep)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "stored episode %s (%s)\n", ep.ID, receipt.State)
	return nil
}

// parseOutcome maps the flag value onto a known outcome.
func parseOutcome(s string) episode.Outcome {
	switch episode.Outcome(strings.ToLower(s)) {
	case episode.OutcomeSuccess:
		return episode.OutcomeSuccess
	case episode.OutcomePartial:
		return episode.OutcomePartial
	case episode.OutcomeFailure:
		return episode.OutcomeFailure
	default:
		return episode.OutcomeUnknown
	}
}

// parseContextFlags converts repeated key=value flags into a context map.
func parseContextFlags(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	ctx := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, found := strings.Cut(entry, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid context entry %q, expected key=value", entry)
		}
		ctx[key] = value
	}
	return ctx, nil
}
