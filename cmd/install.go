package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/bnema/xpinstall/internal/addons"
	"github.com/bnema/xpinstall/internal/installer"
	"github.com/bnema/xpinstall/internal/session"
	"github.com/bnema/xpinstall/internal/ui/progress"
)

var (
	installPasswords []string
	installMode      string
	installYes       bool
	installNoTUI     bool
	installSkip      []int
	installVerifyDir bool
	installDelete    bool
	installStrict    bool
)

var installCmd = &cobra.Command{
	Use:     "install <path|url>...",
	Aliases: []string{"i"},
	Short:   "Install add-ons into X-Plane",
	Long: `Analyze the given folders, archives and git repositories, then install
every add-on found into the X-Plane root.

Existing add-ons are replaced according to --mode:
  overwrite  Write over the existing files, keeping files the package lacks
  clean      Remove the old add-on first, keeping liveries and preferences
  atomic     Stage next to the target and swap it in with a rename

Examples:
  xpinstall install ~/Downloads/A320neo.zip
  xpinstall install --mode atomic --yes ~/Downloads/*.zip
  xpinstall install --skip 2 ~/Downloads/SceneryPack`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := requireRoot()
		if err != nil {
			return err
		}
		passwords, err := parsePasswords(installPasswords)
		if err != nil {
			return err
		}
		var mode *addons.InstallMode
		if installMode != "" {
			m, err := addons.ParseInstallMode(installMode)
			if err != nil {
				return err
			}
			mode = &m
		} else if cfg.Install.Atomic {
			m := addons.ModeAtomic
			mode = &m
		}
		if installDelete {
			cfg.Install.DeleteSource = true
		}
		if installStrict {
			cfg.Install.AllOrNothing = true
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		history := openHistory()
		s, err := newSession(history)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		tty := interactive()
		result, err := analyzeWithPrompts(ctx, s, session.AnalyzeRequest{
			Paths:      args,
			TargetRoot: root,
			Passwords:  passwords,
			Verify:     verifyOptions(installVerifyDir),
		}, tty)
		if err != nil {
			return err
		}

		if err := applyChoices(result.Tasks, mode, installSkip); err != nil {
			return err
		}
		printAnalysis(result)

		enabled := 0
		for _, t := range result.Tasks {
			if t.Enabled {
				enabled++
			}
		}
		if enabled == 0 {
			return nil
		}
		fmt.Println()
		if !installYes {
			if !tty {
				return fmt.Errorf("refusing to install without confirmation: pass --yes")
			}
			if !confirm(fmt.Sprintf("Install %d add-on(s) into %s?", enabled, root)) {
				fmt.Println("Aborted")
				return nil
			}
		}

		var report *installer.Report
		if tty && !installNoTUI {
			report, err = installTUI(ctx, s, result.Tasks)
			if err != nil {
				return err
			}
		} else {
			report = s.Install(ctx, result.Tasks, progress.NewPrinter(os.Stdout).Event)
		}

		progress.NewPrinter(os.Stdout).Report(report)
		return report.Err()
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
	installCmd.Flags().StringArrayVarP(&installPasswords, "password", "p", nil, "Archive password as archive=secret (repeatable)")
	installCmd.Flags().StringVarP(&installMode, "mode", "m", "", "Mode for add-ons that already exist: overwrite, clean or atomic")
	installCmd.Flags().BoolVarP(&installYes, "yes", "y", false, "Install without asking for confirmation")
	installCmd.Flags().BoolVar(&installNoTUI, "no-tui", false, "Print plain progress lines instead of the interactive view")
	installCmd.Flags().IntSliceVar(&installSkip, "skip", nil, "Plan numbers to leave out (as shown by analyze)")
	installCmd.Flags().BoolVar(&installVerifyDir, "verify-dirs", false, "Verify folder installs after copying")
	installCmd.Flags().BoolVar(&installDelete, "delete-source", false, "Delete sources once everything in them is installed")
	installCmd.Flags().BoolVar(&installStrict, "all-or-nothing", false, "Stop the batch at the first failure")
}

// applyChoices sets the mode of conflicting tasks and disables skipped ones.
// skip holds 1-based plan numbers
func applyChoices(tasks []addons.InstallTask, mode *addons.InstallMode, skip []int) error {
	for _, n := range skip {
		if n < 1 || n > len(tasks) {
			return fmt.Errorf("--skip %d: plan has %d add-on(s)", n, len(tasks))
		}
		tasks[n-1].Enabled = false
	}
	if mode == nil {
		return nil
	}
	for i := range tasks {
		if tasks[i].ConflictExists {
			tasks[i].Mode = *mode
		}
	}
	return nil
}

// installTUI runs the batch behind the bubbletea progress view
func installTUI(ctx context.Context, s *session.Session, tasks []addons.InstallTask) (*installer.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The installer numbers events over enabled tasks only
	var names []string
	for _, t := range tasks {
		if t.Enabled {
			names = append(names, t.DisplayName)
		}
	}

	m := progress.NewModel(fmt.Sprintf("Installing %d add-on(s)", len(names)), cancel, names...)
	p := tea.NewProgram(m)

	go func() {
		report := s.Install(ctx, tasks, progress.Sender(p))
		p.Send(progress.DoneMsg{Report: report})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return nil, err
	}
	report := finalModel.(progress.Model).Report()
	if report == nil {
		return nil, fmt.Errorf("install interrupted")
	}
	return report, nil
}
