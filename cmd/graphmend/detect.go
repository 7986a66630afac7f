package graphmend

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	gm "github.com/graphmend/graphmend"
	"github.com/graphmend/graphmend/pkg/config"
	"github.com/graphmend/graphmend/pkg/types"
)

var (
	detectLabel  string
	detectLabels bool
	detectJSON   bool
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect duplicate entities and draft a resolution plan",
	Long: `Detect scans the graph for duplicate entities and drafts a resolution
plan. The plan is persisted for review; nothing in the graph changes until
the plan is executed.`,
	RunE: runDetect,
}

func init() {
	detectCmd.Flags().StringVar(&detectLabel, "label", "", "restrict detection to one label")
	detectCmd.Flags().BoolVar(&detectLabels, "labels", false, "detect synonym labels instead of duplicate entities")
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "print the full plan as JSON")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client, err := gm.NewClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close(cmd.Context())

	scope := types.Scope{Kind: types.ScopeAll}
	switch {
	case detectLabels:
		scope.Kind = types.ScopeLabels
	case detectLabel != "":
		scope = types.Scope{Kind: types.ScopeLabel, Label: detectLabel}
	}

	plan, err := client.Detect(cmd.Context(), scope)
	if err != nil {
		return err
	}

	if detectJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}

	if plan.Empty() {
		fmt.Printf("Plan %s: no duplicates found in scope %s\n", plan.ID, plan.Scope)
		return nil
	}
	fmt.Printf("Plan %s: %d duplicate group(s) in scope %s\n", plan.ID, len(plan.Groups), plan.Scope)
	for i, g := range plan.Groups {
		fmt.Printf("  group %d: canonical=%s members=%v", i+1, g.CanonicalID, g.MemberIDs)
		if g.RequiresReview {
			fmt.Print(" (requires review)")
		}
		fmt.Println()
	}
	fmt.Printf("Run 'graphmend execute %s' to apply.\n", plan.ID)
	return nil
}
