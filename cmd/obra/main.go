package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/obracontrol/internal/ui"
)

// Global flags
var (
	configFile   string
	envFile      string
	dataDir      string
	keyFlag      string
	projectFlag  string
	outputFormat string
	assumeYes    bool
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "obra",
	Short: "ObraControl - construction site tracking with offline-first sync",
	Long: `ObraControl tracks construction sites: daily logs, materials, payment
stages, labor, professional fees and tasks.

Every change is written to the local database first and then mirrored to
the remote document store for the active project key. Devices that open the
same key see each other's changes; the last remote write wins.

Examples:
  obra status                         # Key, sync status and active project
  obra project list                   # All projects under the key
  obra log add --workers 8 --notes "Hormigonado losa"
  obra material advance 1712345678901 # pendiente -> pedido -> recibido
  obra key switch OBRA-4821           # Open another project key
  obra serve                          # Dashboard with live updates`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case "text", "json", "yaml":
		default:
			return fmt.Errorf("--output must be 'text', 'json' or 'yaml'")
		}
		ui.Setup(os.Stdout)
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "site", Title: "Projects:"},
		&cobra.Group{ID: "records", Title: "Site records:"},
		&cobra.Group{ID: "sync", Title: "Sync and data:"},
		&cobra.Group{ID: "tools", Title: "Tools:"},
	)
	rootCmd.SetHelpCommandGroupID("tools")
	rootCmd.SetCompletionCommandGroupID("tools")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default: ./obra.yaml or ~/.obracontrol/obra.yaml)")
	flags.StringVar(&envFile, "env-file", "", "Environment file loaded before the config (default: .env)")
	flags.StringVar(&dataDir, "data-dir", "", "Directory for the local database (overrides data_dir)")
	flags.StringVar(&keyFlag, "key", "", "Open this project key and make it the active one")
	flags.StringVarP(&projectFlag, "project", "p", "", "Project id or name (default: the active project)")
	flags.StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json or yaml")
	flags.BoolVarP(&assumeYes, "yes", "y", false, "Answer yes to confirmation prompts")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log sync activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
