package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
	"github.com/mschirtzinger/obracontrol/internal/obra/store"
	"github.com/mschirtzinger/obracontrol/internal/ui"
)

var materialCmd = &cobra.Command{
	Use:     "material",
	GroupID: "records",
	Short:   "Material orders",
	Long: `Track material orders through pendiente -> pedido -> recibido.

Status only moves forward. Ordering a pending material stamps today's date,
and only received materials count as spent.`,
}

var materialAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a pending material order",
	Args:  cobra.ExactArgs(1),
	Example: `  obra material add "Cemento Portland" --qty "50 bolsas" --cost 450000 --category Albañilería
  obra material add "Caño PVC 110" --qty "20 u" --category Plomería --provider "Sanitarios Sur"`,
	Run: func(cmd *cobra.Command, args []string) {
		qty, _ := cmd.Flags().GetString("qty")
		cost, _ := cmd.Flags().GetFloat64("cost")
		category, _ := cmd.Flags().GetString("category")
		provider, _ := cmd.Flags().GetString("provider")

		cat := schema.MaterialCategory(category)
		if !cat.Valid() {
			fmt.Fprintf(os.Stderr, "Error: unknown category %q (one of: %s)\n", category, categoryList())
			os.Exit(1)
		}
		if cost < 0 {
			fmt.Fprintf(os.Stderr, "Error: --cost cannot be negative\n")
			os.Exit(1)
		}
		item := schema.MaterialItem{Name: args[0], Quantity: qty, Cost: cost, Category: cat, Provider: provider}

		withApp(func(ctx context.Context, a *app) error {
			id, _, err := a.project()
			if err != nil {
				return err
			}
			itemID, err := a.workspace.AddMaterial(ctx, id, item)
			if err != nil {
				return fmt.Errorf("failed to add material: %w", err)
			}
			fmt.Printf("%s Added %s (%d) as %s\n", ui.RenderPass("✓"), args[0], itemID, ui.Material(schema.MaterialPending))
			return nil
		})
	},
}

var materialListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List material orders",
	Run: func(cmd *cobra.Command, args []string) {
		status, _ := cmd.Flags().GetString("status")
		withApp(func(ctx context.Context, a *app) error {
			_, p, err := a.project()
			if err != nil {
				return err
			}
			items := p.Materials
			if status != "" {
				items = nil
				for _, m := range p.Materials {
					if string(m.Status) == status {
						items = append(items, m)
					}
				}
			}
			if printStructured(items) {
				return nil
			}
			if len(items) == 0 {
				fmt.Println(ui.RenderMuted("No materials"))
				return nil
			}
			for _, m := range items {
				fmt.Printf("%s  %-28s %-12s %-14s %-10s %12s  %s\n",
					ui.RenderMuted(m.ID.String()), m.Name, m.Quantity, m.Category, m.Date, money(m.Cost), ui.Material(m.Status))
			}
			return nil
		})
	},
}

var materialAdvanceCmd = &cobra.Command{
	Use:   "advance <id|name>",
	Short: "Move a material to its next status",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withEntry(store.SectionMaterials, args[0], func(ctx context.Context, a *app, id, materialID schema.ID) error {
			if err := a.workspace.AdvanceMaterial(ctx, id, materialID); err != nil {
				return fmt.Errorf("failed to advance material: %w", err)
			}
			p, _ := a.workspace.Project(id)
			m, _ := schema.Find(p.Materials, materialID)
			fmt.Printf("%s %s is now %s\n", ui.RenderPass("✓"), m.Name, ui.Material(m.Status))
			return nil
		})
	},
}

var materialSetCmd = &cobra.Command{
	Use:   "set-status <id|name> <pendiente|pedido|recibido>",
	Short: "Set a material status (forward only)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		status := schema.MaterialStatus(args[1])
		if !status.Valid() {
			fmt.Fprintf(os.Stderr, "Error: unknown status %q\n", args[1])
			os.Exit(1)
		}
		withEntry(store.SectionMaterials, args[0], func(ctx context.Context, a *app, id, materialID schema.ID) error {
			if err := a.workspace.SetMaterialStatus(ctx, id, materialID, status); err != nil {
				return fmt.Errorf("failed to set material status: %w", err)
			}
			fmt.Printf("%s Material %d is now %s\n", ui.RenderPass("✓"), materialID, ui.Material(status))
			return nil
		})
	},
}

var materialRemoveCmd = &cobra.Command{
	Use:     "remove <id|name>",
	Aliases: []string{"rm"},
	Short:   "Delete a material order",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		removeEntry(store.SectionMaterials, args[0], "material")
	},
}

func categoryList() string {
	names := make([]string, len(schema.MaterialCategories))
	for i, c := range schema.MaterialCategories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func init() {
	materialAddCmd.Flags().String("qty", "", "Quantity with its unit, e.g. \"50 bolsas\"")
	materialAddCmd.Flags().Float64("cost", 0, "Cost in pesos")
	materialAddCmd.Flags().String("category", string(schema.CategoryMasonry), "Category")
	materialAddCmd.Flags().String("provider", "", "Supplier")

	materialListCmd.Flags().String("status", "", "Only show materials with this status")

	materialCmd.AddCommand(materialAddCmd)
	materialCmd.AddCommand(materialListCmd)
	materialCmd.AddCommand(materialAdvanceCmd)
	materialCmd.AddCommand(materialSetCmd)
	materialCmd.AddCommand(materialRemoveCmd)
	rootCmd.AddCommand(materialCmd)
}
