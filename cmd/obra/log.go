package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/obracontrol/internal/dates"
	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
	"github.com/mschirtzinger/obracontrol/internal/obra/store"
	"github.com/mschirtzinger/obracontrol/internal/ui"
)

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "records",
	Short:   "Daily site log",
	Long: `Record what happened on site each day: weather, crew size, notes and an
optional photo. New entries go to the top of the log.`,
}

var logAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a daily log entry",
	Long: `Add a daily log entry to the project.

Dates accept 2024-03-15, 15/03/2024, 15/03, hoy, ayer or English phrases
such as "last friday".

Examples:
  obra log add --workers 8 --notes "Hormigonado de losa"
  obra log add --date ayer --weather Lluvia --notes "Obra parada"
  obra log add --notes "Avance fachada" --photo fachada.jpg`,
	Run: func(cmd *cobra.Command, args []string) {
		dateArg, _ := cmd.Flags().GetString("date")
		weather, _ := cmd.Flags().GetString("weather")
		workers, _ := cmd.Flags().GetInt("workers")
		notes, _ := cmd.Flags().GetString("notes")
		photo, _ := cmd.Flags().GetString("photo")

		if strings.TrimSpace(notes) == "" {
			fmt.Fprintf(os.Stderr, "Error: --notes is required\n")
			os.Exit(1)
		}
		if workers < 0 {
			fmt.Fprintf(os.Stderr, "Error: --workers cannot be negative\n")
			os.Exit(1)
		}
		date, err := dates.Parse(dateArg, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: --date: %v\n", err)
			os.Exit(1)
		}
		entry := schema.LogEntry{Date: date, Weather: weather, Workers: workers, Notes: notes}
		if photo != "" {
			entry.Image, err = imageDataURL(photo)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading photo: %v\n", err)
				os.Exit(1)
			}
		}

		withApp(func(ctx context.Context, a *app) error {
			id, _, err := a.project()
			if err != nil {
				return err
			}
			entryID, err := a.workspace.AddLog(ctx, id, entry)
			if err != nil {
				return fmt.Errorf("failed to add log: %w", err)
			}
			fmt.Printf("%s Logged %s (%d)\n", ui.RenderPass("✓"), date, entryID)
			return nil
		})
	},
}

var logListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List log entries, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		withApp(func(ctx context.Context, a *app) error {
			_, p, err := a.project()
			if err != nil {
				return err
			}
			logs := p.Logs
			if limit > 0 && len(logs) > limit {
				logs = logs[:limit]
			}
			if printStructured(logs) {
				return nil
			}
			if len(logs) == 0 {
				fmt.Println(ui.RenderMuted("No log entries"))
				return nil
			}
			for _, l := range logs {
				photo := ""
				if l.Image != "" {
					photo = " 📷"
				}
				fmt.Printf("%s  %s  %-13s %2d workers%s\n", ui.RenderMuted(l.ID.String()), ui.HeaderStyle.Render(l.Date), l.Weather, l.Workers, photo)
				fmt.Printf("    %s\n", l.Notes)
			}
			return nil
		})
	},
}

var logRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a log entry",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		removeEntry(store.SectionLogs, args[0], "log entry")
	},
}

// removeEntry deletes one entry from a section of the selected project.
func removeEntry(section store.Section, ref, what string) {
	withEntry(section, ref, func(ctx context.Context, a *app, id, entryID schema.ID) error {
		if err := a.workspace.RemoveEntry(ctx, id, section, entryID); err != nil {
			return fmt.Errorf("failed to remove %s: %w", what, err)
		}
		fmt.Printf("%s Removed %s %d\n", ui.RenderPass("✓"), what, entryID)
		return nil
	})
}

// withEntry resolves ref to an entry of section in the selected project
// and runs fn with it.
func withEntry(section store.Section, ref string, fn func(ctx context.Context, a *app, id, entryID schema.ID) error) {
	withApp(func(ctx context.Context, a *app) error {
		id, p, err := a.project()
		if err != nil {
			return err
		}
		entryID, err := findEntry(p, section, ref)
		if err != nil {
			return err
		}
		return fn(ctx, a, id, entryID)
	})
}

// findEntry accepts an entry id, or the name of a material, stage or
// contractor, or the text of a task. Names match case-insensitively and the
// first match wins.
func findEntry(p *schema.Project, section store.Section, ref string) (schema.ID, error) {
	if id, err := schema.ParseID(ref); err == nil {
		return id, nil
	}
	var (
		id schema.ID
		ok bool
	)
	switch section {
	case store.SectionMaterials:
		id, ok = byName(p.Materials, ref, func(m schema.MaterialItem) (schema.ID, string) { return m.ID, m.Name })
	case store.SectionStages:
		id, ok = byName(p.Stages, ref, func(s schema.Stage) (schema.ID, string) { return s.ID, s.Name })
	case store.SectionTasks:
		id, ok = byName(p.Tasks, ref, func(t schema.Task) (schema.ID, string) { return t.ID, t.Text })
	case store.SectionLabor:
		id, ok = byName(p.Labor, ref, func(c schema.Contractor) (schema.ID, string) { return c.ID, c.Name })
	case store.SectionFees:
		id, ok = byName(p.Fees, ref, func(c schema.Contractor) (schema.ID, string) { return c.ID, c.Name })
	}
	if !ok {
		return 0, fmt.Errorf("%s %q: %w", section, ref, schema.ErrEntryNotFound)
	}
	return id, nil
}

func byName[T any](items []T, ref string, key func(T) (schema.ID, string)) (schema.ID, bool) {
	for _, item := range items {
		if id, name := key(item); strings.EqualFold(name, ref) {
			return id, true
		}
	}
	return 0, false
}

// imageDataURL reads an image file into a data URL.
func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", path, mime)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func init() {
	logAddCmd.Flags().String("date", "hoy", "Entry date")
	logAddCmd.Flags().String("weather", schema.WeatherSunny, "Weather: Soleado, Nublado, Lluvia or Viento Fuerte")
	logAddCmd.Flags().Int("workers", 0, "Number of workers on site")
	logAddCmd.Flags().String("notes", "", "What happened (required)")
	logAddCmd.Flags().String("photo", "", "Image file to attach")

	logListCmd.Flags().Int("limit", 0, "Show at most this many entries")

	logCmd.AddCommand(logAddCmd)
	logCmd.AddCommand(logListCmd)
	logCmd.AddCommand(logRemoveCmd)
	rootCmd.AddCommand(logCmd)
}
