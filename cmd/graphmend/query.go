package graphmend

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	gm "github.com/graphmend/graphmend"
	"github.com/graphmend/graphmend/pkg/config"
)

var queryLabels []string

var queryCmd = &cobra.Command{
	Use:   "query <question...>",
	Short: "Answer a question with hybrid graph retrieval",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().StringSliceVar(&queryLabels, "label", nil, "restrict the search to these labels")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client, err := gm.NewClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close(cmd.Context())

	result, err := client.Query(cmd.Context(), strings.Join(args, " "), queryLabels)
	if err != nil {
		return err
	}
	fmt.Println(result.Render())
	return nil
}
