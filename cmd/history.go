package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bnema/xpinstall/internal/ui/styles"
)

var historyPrune bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List installed add-ons",
	Long: `List add-ons installed by xpinstall, newest last.

With --prune, entries whose folder no longer exists are dropped first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := openHistory()

		if historyPrune {
			removed := store.Prune()
			if err := store.Save(); err != nil {
				return fmt.Errorf("failed to save history: %w", err)
			}
			for _, target := range removed {
				fmt.Printf("Pruned %s\n", target)
			}
		}

		targets := store.Targets()
		if len(targets) == 0 {
			fmt.Println("No add-ons installed yet")
			fmt.Println("\nInstall add-ons with: xpinstall install <path>")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			styles.Title.Render("KIND"),
			styles.Title.Render("NAME"),
			styles.Title.Render("SIZE"),
			styles.Title.Render("MODE"),
			styles.Title.Render("UPDATED"),
			styles.Title.Render("TARGET"),
		)
		for _, target := range targets {
			entry, _ := store.Get(target)
			name := entry.Name
			if entry.Cycle != "" {
				name += " " + styles.FormatCycle("", entry.Cycle)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				styles.FormatKind(entry.Kind),
				name,
				humanize.IBytes(uint64(entry.Size)),
				entry.Mode,
				humanize.Time(entry.UpdatedAt),
				styles.TaskPath.Render(target),
			)
		}
		_ = w.Flush()

		fmt.Printf("\n%d add-on(s) recorded in %s\n", len(targets), store.Path())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().BoolVar(&historyPrune, "prune", false, "Drop entries whose target folder is gone")
}
