// This file implements the relate command for linking episodes.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/adalundhe/engram/core/episode"
)

var relateType string

var relateCmd = &cobra.Command{
	Use:   "relate <from-id> <to-id>",
	Short: "Record a relationship between two episodes",
	Long: `Record a typed relationship edge between two stored episodes. Edges
are removed automatically when either endpoint is deleted.

Relation types: caused-by, prerequisite-for, related-to, similar-to,
follows, duplicates.`,
	Args: cobra.ExactArgs(2),
	RunE: runRelate,
}

func init() {
	rootCmd.AddCommand(relateCmd)

	relateCmd.Flags().StringVarP(&relateType, "type", "t", string(episode.RelationRelatedTo), "Relation type")
}

func runRelate(cmd *cobra.Command, args []string) error {
	from, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid from id %q: %w", args[0], err)
	}
	to, err := uuid.Parse(args[1])
	if err != nil {
		return fmt.Errorf("invalid to id %q: %w", args[1], err)
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	rel := episode.NewRelationship(from, to, episode.RelationType(relateType))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := eng.Relate(ctx, rel); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "related %s -[%s]-> %s\n", from, relateType, to)
	return nil
}
