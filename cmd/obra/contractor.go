package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
	"github.com/mschirtzinger/obracontrol/internal/obra/store"
	obrasync "github.com/mschirtzinger/obracontrol/internal/obra/sync"
	"github.com/mschirtzinger/obracontrol/internal/ui"
)

// rosterCommand builds the command tree shared by labor and fees. Both are
// contractor lists with weekly payment requests.
func rosterCommand(use, short, long string, roster obrasync.Roster) *cobra.Command {
	list := func(p *schema.Project) []schema.Contractor {
		if roster == store.SectionFees {
			return p.Fees
		}
		return p.Labor
	}

	root := &cobra.Command{
		Use:     use,
		GroupID: "records",
		Short:   short,
		Long:    long,
	}

	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a contractor",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			role, _ := cmd.Flags().GetString("role")
			budget, _ := cmd.Flags().GetFloat64("budget")
			c := schema.Contractor{Name: args[0], Role: role, TotalBudget: budget}
			withApp(func(ctx context.Context, a *app) error {
				id, _, err := a.project()
				if err != nil {
					return err
				}
				cid, err := a.workspace.AddContractor(ctx, id, roster, c)
				if err != nil {
					return fmt.Errorf("failed to add contractor: %w", err)
				}
				fmt.Printf("%s Added %s (%d)\n", ui.RenderPass("✓"), args[0], cid)
				return nil
			})
		},
	}
	add.Flags().String("role", "", "Trade or role")
	add.Flags().Float64("budget", 0, "Contracted total")

	ls := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List contractors and their payments",
		Run: func(cmd *cobra.Command, args []string) {
			withApp(func(ctx context.Context, a *app) error {
				_, p, err := a.project()
				if err != nil {
					return err
				}
				items := list(p)
				if printStructured(items) {
					return nil
				}
				if len(items) == 0 {
					fmt.Println(ui.RenderMuted("No contractors"))
					return nil
				}
				var pending float64
				for _, c := range items {
					request := ""
					if c.WeeklyRequest > 0 {
						request = ui.RenderWarn("requests " + money(c.WeeklyRequest))
						pending += c.WeeklyRequest
					}
					fmt.Printf("%s  %-24s %-16s paid %s of %s  left %s  %s\n",
						ui.RenderMuted(c.ID.String()), c.Name, c.Role, money(c.PaidAmount), money(c.TotalBudget), money(c.Remaining()), request)
				}
				if pending > 0 {
					fmt.Printf("\nPending this week: %s\n", ui.RenderWarn(money(pending)))
				}
				return nil
			})
		},
	}

	request := &cobra.Command{
		Use:   "request <id|name> <amount>",
		Short: "Set the weekly payment request",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			amount, err := strconv.ParseFloat(args[1], 64)
			if err != nil || amount < 0 {
				fmt.Fprintf(os.Stderr, "Error: invalid amount %q\n", args[1])
				os.Exit(1)
			}
			withEntry(roster, args[0], func(ctx context.Context, a *app, id, cid schema.ID) error {
				if err := a.workspace.SetWeeklyRequest(ctx, id, roster, cid, amount); err != nil {
					return fmt.Errorf("failed to set weekly request: %w", err)
				}
				fmt.Printf("%s Weekly request for %d: %s\n", ui.RenderPass("✓"), cid, money(amount))
				return nil
			})
		},
	}

	approve := &cobra.Command{
		Use:   "approve <id|name>",
		Short: "Pay the weekly request",
		Long: `Approve the weekly request: the requested amount is added to the paid
total and the request is cleared.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withEntry(roster, args[0], func(ctx context.Context, a *app, id, cid schema.ID) error {
				p, err := a.workspace.Project(id)
				if err != nil {
					return err
				}
				c, ok := schema.Find(list(p), cid)
				if !ok {
					return fmt.Errorf("contractor %d: %w", cid, schema.ErrEntryNotFound)
				}
				if c.WeeklyRequest <= 0 {
					fmt.Printf("%s %s has no pending request\n", ui.RenderWarn("⚠"), c.Name)
					return nil
				}
				if err := a.workspace.ApprovePayment(ctx, id, roster, cid); err != nil {
					return fmt.Errorf("failed to approve payment: %w", err)
				}
				fmt.Printf("%s Paid %s to %s\n", ui.RenderPass("✓"), money(c.WeeklyRequest), c.Name)
				return nil
			})
		},
	}

	progress := &cobra.Command{
		Use:   "progress <id|name> <percent>",
		Short: "Set contractor progress",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			pct := mustPercent(args[1])
			withEntry(roster, args[0], func(ctx context.Context, a *app, id, cid schema.ID) error {
				if err := a.workspace.SetContractorProgress(ctx, id, roster, cid, pct); err != nil {
					return fmt.Errorf("failed to set progress: %w", err)
				}
				fmt.Printf("%s Contractor %d at %s\n", ui.RenderPass("✓"), cid, ui.Progress(pct, 10))
				return nil
			})
		},
	}

	remove := &cobra.Command{
		Use:     "remove <id|name>",
		Aliases: []string{"rm"},
		Short:   "Delete a contractor",
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			removeEntry(roster, args[0], "contractor")
		},
	}

	root.AddCommand(add, ls, request, approve, progress, remove)
	return root
}

func init() {
	rootCmd.AddCommand(rosterCommand("labor", "Labor contractors",
		`Crews and subcontractors paid against weekly requests. Approving a request
adds it to the paid total; remaining is budget minus paid.`,
		store.SectionLabor))
	rootCmd.AddCommand(rosterCommand("fee", "Professional fees",
		`Architects, engineers and other professionals, tracked like labor.`,
		store.SectionFees))
}
