package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/bnema/xpinstall/internal/addons"
	"github.com/bnema/xpinstall/internal/config"
	"github.com/bnema/xpinstall/internal/installer"
	"github.com/bnema/xpinstall/internal/logger"
	"github.com/bnema/xpinstall/internal/session"
	"github.com/bnema/xpinstall/internal/xplane"
)

// Version info set via ldflags at build time
var (
	version = "dev"
	commit  = "unknown"
)

// annotConfigOptional marks commands that run without the --config file
const annotConfigOptional = "config-optional"

var (
	verbose    bool
	configPath string
	xplaneRoot string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "xpinstall",
	Short:   "X-Plane add-on installer",
	Version: version + " (" + commit + ")",
	Long: `Install X-Plane aircraft, scenery, plugins, navdata and liveries from
folders, archives (zip, 7z, rar, nested) and git repositories.

Quick start:
  xpinstall config init                     Write a default config file
  xpinstall analyze ~/Downloads/A320.zip    Show what would be installed
  xpinstall install ~/Downloads/A320.zip    Install it`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Init(verbose); err != nil {
			return err
		}
		loaded, err := config.Load(configPath)
		if errors.Is(err, config.ErrConfigMissing) && cmd.Annotations[annotConfigOptional] != "" {
			loaded, err = config.Default(), nil
		}
		if err != nil {
			return err
		}
		if xplaneRoot != "" {
			loaded.XPlane.Root = xplaneRoot
		}
		cfg = loaded
		logger.Debug("Configuration loaded", "root", cfg.XPlane.Root)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Close()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVarP(&xplaneRoot, "target", "t", "", "X-Plane root directory (overrides xplane.root)")
}

// getLogger returns the process logger
func getLogger() *log.Logger {
	return logger.Get()
}

// dataDir is where the install history lives
func dataDir() string {
	return filepath.Join(xdg.DataHome, "xpinstall")
}

// openHistory loads the install history, starting empty when it is unreadable
func openHistory() *addons.HistoryStore {
	store := addons.NewHistoryStore(dataDir())
	if err := store.Load(); err != nil {
		logger.Warn("Failed to load install history", "error", err)
	}
	return store
}

// newSession maps the loaded configuration onto a session
func newSession(history *addons.HistoryStore) (*session.Session, error) {
	enc, err := cfg.NameEncoding()
	if err != nil {
		return nil, err
	}
	return session.New(session.Options{
		CacheTTL:         cfg.Cache.TTL.Duration,
		DirCacheTTL:      cfg.Cache.DirTTL.Duration,
		CacheEntries:     cfg.Cache.MaxEntries,
		MaxDepth:         cfg.Limits.ScanMaxDepth,
		ArchiveMaxDepth:  cfg.Limits.ArchiveMaxDepth,
		NameEncoding:     enc,
		MaxInMemory:      cfg.Limits.MaxInMemoryLayerBytes,
		SizeWarningBytes: cfg.Limits.SizeWarningBytes,
		Backup: addons.BackupOptions{
			Liveries:       cfg.Backup.Liveries,
			ConfigPatterns: cfg.Backup.ConfigPatterns,
		},
		Install: installer.Options{
			Workers:      cfg.Install.Workers,
			MaxBytes:     cfg.Limits.MaxExtractBytes,
			MaxRatio:     cfg.Limits.MaxCompressionRatio,
			RatioFloor:   cfg.Limits.RatioFloorBytes,
			MinFreeBytes: cfg.Limits.MinFreeBytes,
			AllOrNothing: cfg.Install.AllOrNothing,
			DeleteSource: cfg.Install.DeleteSource,
		},
		History: history,
		Logger:  getLogger(),
	})
}

// requireRoot returns the configured X-Plane root, falling back to the
// installation X-Plane itself registered
func requireRoot() (string, error) {
	if cfg.XPlane.Root != "" {
		if err := xplane.Validate(cfg.XPlane.Root); err != nil {
			logger.Warn("X-Plane root looks unusual", "root", cfg.XPlane.Root, "error", err)
		}
		return cfg.XPlane.Root, nil
	}
	root, err := xplane.Locate(getLogger(), xplane.RegistryDirs()...)
	if err != nil {
		return "", fmt.Errorf("%w (%w): pass --target or set xplane.root in %s", session.ErrNoTargetRoot, err, config.DefaultPath())
	}
	logger.Info("Using discovered X-Plane root", "root", root)
	return root, nil
}
