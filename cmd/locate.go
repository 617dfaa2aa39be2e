package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/xpinstall/internal/ui/styles"
	"github.com/bnema/xpinstall/internal/xplane"
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "List X-Plane installations found on this machine",
	Long: `List the X-Plane installations the simulator registered in its
x-plane_install_NN.txt files. When xplane.root is unset, install and analyze
use the newest one if it is unique.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		found := xplane.Discover(getLogger(), xplane.RegistryDirs()...)
		if len(found) == 0 {
			fmt.Println("No X-Plane installation registered")
			return nil
		}
		for _, in := range found {
			marker := " "
			if in.Root == cfg.XPlane.Root {
				marker = "*"
			}
			fmt.Printf("%s X-Plane %d  %s\n", marker, in.Version, styles.TaskPath.Render(in.Root))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(locateCmd)
}
