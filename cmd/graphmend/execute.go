package graphmend

import (
	"fmt"

	"github.com/spf13/cobra"

	gm "github.com/graphmend/graphmend"
	"github.com/graphmend/graphmend/pkg/config"
	"github.com/graphmend/graphmend/pkg/types"
)

var executeBackup bool

var executeCmd = &cobra.Command{
	Use:   "execute <plan-id>",
	Short: "Apply a stored resolution plan",
	Long: `Execute applies a previously detected plan. The graph is snapshotted
first unless --backup=false, then each duplicate group is merged in its own
transaction. Failed groups are reported individually and never block the
others.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

func init() {
	executeCmd.Flags().BoolVar(&executeBackup, "backup", true, "snapshot the graph before executing")
	rootCmd.AddCommand(executeCmd)
}

func runExecute(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client, err := gm.NewClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close(cmd.Context())

	report, execErr := client.Execute(cmd.Context(), args[0], executeBackup)
	if report == nil {
		return execErr
	}

	fmt.Printf("Plan %s: %s (%d applied, %d failed)\n",
		report.PlanID, report.State, report.Applied(), report.Failed())
	if report.BackupPath != "" {
		fmt.Printf("Backup: %s\n", report.BackupPath)
	}
	for _, g := range report.Groups {
		if g.State == types.GroupApplied {
			fmt.Printf("  %s: applied (rewired %d, deleted %d members)\n",
				g.CanonicalID, g.RewiredRelationships, g.DeletedMembers)
		} else {
			fmt.Printf("  %s: FAILED: %s\n", g.CanonicalID, g.Error)
		}
	}

	return execErr
}
