package graphmend

import (
	"fmt"

	"github.com/spf13/cobra"

	gm "github.com/graphmend/graphmend"
	"github.com/graphmend/graphmend/pkg/config"
)

var restoreClear bool

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the graph to a timestamped directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client, err := gm.NewClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close(cmd.Context())

		path, err := client.Backup(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Snapshot written to %s\n", path)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot-path>",
	Short: "Restore the graph from a snapshot",
	Long: `Restore validates a snapshot against its manifest and loads it back
into the graph. With --clear the graph is emptied first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client, err := gm.NewClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close(cmd.Context())

		if err := client.Restore(cmd.Context(), args[0], restoreClear); err != nil {
			return err
		}
		fmt.Printf("Restored from %s\n", args[0])
		return nil
	},
}

func init() {
	restoreCmd.Flags().BoolVar(&restoreClear, "clear", false, "empty the graph before restoring")
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}
