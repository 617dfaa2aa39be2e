package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/xpinstall/internal/addons"
	"github.com/bnema/xpinstall/internal/config"
	"github.com/bnema/xpinstall/internal/logger"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write the default configuration",
	Annotations: map[string]string{annotConfigOptional: "true"},
	Args:        cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.WriteDefault(path, configForce); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:         "path",
	Short:       "Print where config, log and history files live",
	Annotations: map[string]string{annotConfigOptional: "true"},
	Args:        cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("config  %s\n", config.DefaultPath())
		fmt.Printf("log     %s\n", logger.GetLogPath())
		fmt.Printf("history %s\n", addons.NewHistoryStore(dataDir()).Path())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configPathCmd)
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Replace an existing file")
}
