package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/obracontrol/internal/ui"
)

type statusView struct {
	Key           string `json:"key"`
	Status        string `json:"status"`
	StatusLabel   string `json:"statusLabel"`
	Remote        string `json:"remote"`
	ActiveProject string `json:"activeProject"`
	Projects      int    `json:"projects"`
	DataDir       string `json:"dataDir"`
	ConfigFile    string `json:"configFile,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show the project key, sync status and active project",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, a *app) error {
			st := a.workspace.Status()
			view := statusView{
				Key:           a.workspace.Key(),
				Status:        string(st),
				StatusLabel:   st.Label(),
				Remote:        a.cfg.Remote.Driver,
				ActiveProject: activeName(a),
				Projects:      len(a.workspace.Projects()),
				DataDir:       a.cfg.DataDir,
				ConfigFile:    a.cfg.File,
			}
			if printStructured(view) {
				return nil
			}

			fmt.Printf("\n%s ObraControl\n\n", ui.RenderAccent("📊"))
			fmt.Printf("Key:      %s\n", view.Key)
			fmt.Printf("Sync:     %s\n", ui.Status(st))
			fmt.Printf("Remote:   %s\n", view.Remote)
			fmt.Printf("Project:  %s (%d total)\n", view.ActiveProject, view.Projects)
			fmt.Printf("Data dir: %s\n", view.DataDir)
			if view.ConfigFile != "" {
				fmt.Printf("Config:   %s\n", view.ConfigFile)
			}
			fmt.Println()
			return nil
		})
	},
}

var prefsCmd = &cobra.Command{
	Use:     "prefs",
	GroupID: "tools",
	Short:   "Display preferences stored on this device",
}

var prefsDarkModeCmd = &cobra.Command{
	Use:       "dark-mode [on|off]",
	Short:     "Show or set the dark mode preference",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"on", "off"},
	Run: func(cmd *cobra.Command, args []string) {
		var (
			set bool
			on  bool
		)
		if len(args) == 1 {
			set = true
			switch args[0] {
			case "on":
				on = true
			case "off":
			default:
				v, err := strconv.ParseBool(args[0])
				if err != nil {
					exitErr(fmt.Errorf("expected on or off, got %q", args[0]))
				}
				on = v
			}
		}

		withApp(func(ctx context.Context, a *app) error {
			if set {
				if err := a.workspace.SetDarkMode(ctx, on); err != nil {
					return err
				}
			} else {
				var err error
				on, err = a.workspace.DarkMode(ctx)
				if err != nil {
					return err
				}
			}
			if printStructured(map[string]bool{"darkMode": on}) {
				return nil
			}
			state := "off"
			if on {
				state = "on"
			}
			fmt.Printf("Dark mode: %s\n", state)
			return nil
		})
	},
}

func init() {
	prefsCmd.AddCommand(prefsDarkModeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(prefsCmd)
}
