package graphmend

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configInitCmd = &cobra.Command{
	Use:   "config-init",
	Short: "Write a starter config file to $HOME/.graphmend.yaml",
	RunE:  runConfigInit,
}

func init() {
	rootCmd.AddCommand(configInitCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	path := filepath.Join(home, ".graphmend.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}

	starter := map[string]any{
		"log": map[string]any{
			"level":  "info",
			"format": "text",
		},
		"database": map[string]any{
			"driver":   "neo4j",
			"uri":      "bolt://localhost:7687",
			"username": "neo4j",
			"password": "",
			"database": "neo4j",
		},
		"embedding": map[string]any{
			"provider": "openai",
			"model":    "text-embedding-3-small",
		},
		"judge": map[string]any{
			"provider": "string",
			"model":    "gpt-4o-mini",
		},
		"resolution": map[string]any{
			"judge_threshold": 0.85,
			"candidate_floor": 0.55,
			"property_policy": "canonical-wins",
			"edge_policy":     "collapse",
		},
		"retrieval": map[string]any{
			"top_k":     5,
			"hop_limit": 1,
		},
	}

	data, err := yaml.Marshal(starter)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	fmt.Printf("Wrote starter config to %s\n", path)
	return nil
}
