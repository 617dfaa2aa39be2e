package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bnema/xpinstall/internal/addons"
	"github.com/bnema/xpinstall/internal/installer"
	"github.com/bnema/xpinstall/internal/session"
	"github.com/bnema/xpinstall/internal/ui/progress"
	"github.com/bnema/xpinstall/internal/ui/styles"
)

// maxPasswordRounds bounds how often locked archives are prompted for
const maxPasswordRounds = 3

var (
	analyzePasswords []string
	analyzeJSON      bool
	analyzeVerifyDir bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <path|url>...",
	Short: "Show what would be installed",
	Long: `Scan folders, archives and git repositories for X-Plane add-ons and show
the install plan without touching the simulator.

Examples:
  xpinstall analyze ~/Downloads/A320neo.zip
  xpinstall analyze ~/Downloads/KSEA ~/Downloads/navdata.7z
  xpinstall analyze --password "Livery.zip=secret" Livery.zip
  xpinstall analyze https://github.com/user/xplane-plugin`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := requireRoot()
		if err != nil {
			return err
		}
		passwords, err := parsePasswords(analyzePasswords)
		if err != nil {
			return err
		}

		s, err := newSession(nil)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		req := session.AnalyzeRequest{
			Paths:      args,
			TargetRoot: root,
			Passwords:  passwords,
			Verify:     verifyOptions(analyzeVerifyDir),
		}
		result, err := analyzeWithPrompts(cmd.Context(), s, req, interactive() && !analyzeJSON)
		if err != nil {
			return err
		}

		if analyzeJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		printAnalysis(result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringArrayVarP(&analyzePasswords, "password", "p", nil, "Archive password as archive=secret (repeatable)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the plan as JSON")
	analyzeCmd.Flags().BoolVar(&analyzeVerifyDir, "verify-dirs", false, "Verify folder installs after copying")
}

// interactive reports whether prompts and the progress TUI can be shown
func interactive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}

func verifyOptions(dirs bool) installer.VerifyOptions {
	return installer.VerifyOptions{
		Archives:    cfg.Install.VerifyArchives,
		Directories: cfg.Install.VerifyDirectories || dirs,
	}
}

// parsePasswords splits "archive=secret" flags. The archive part is matched
// against the archive path or chain key reported as locked
func parsePasswords(values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, v := range values {
		i := strings.LastIndex(v, "=")
		if i <= 0 {
			return nil, fmt.Errorf("invalid --password %q: expected archive=secret", v)
		}
		out[v[:i]] = v[i+1:]
	}
	return out, nil
}

// analyzeWithPrompts runs the analysis and, when interactive, asks for the
// password of every locked archive and analyzes again
func analyzeWithPrompts(ctx context.Context, s *session.Session, req session.AnalyzeRequest, prompt bool) (*session.AnalysisResult, error) {
	if prompt {
		req.GitProgress = progress.NewGitProgressWriter(func(percent float64, detail string) {
			fmt.Fprintf(os.Stderr, "\r  %s (%.0f%%)\033[K", detail, percent)
		})
	}
	if req.Passwords == nil {
		req.Passwords = make(map[string]string)
	}

	for round := 0; ; round++ {
		result, err := s.Analyze(ctx, req)
		if prompt {
			fmt.Fprint(os.Stderr, "\r\033[K")
		}
		if err != nil {
			return nil, err
		}
		if !prompt || len(result.PasswordRequired) == 0 || round == maxPasswordRounds {
			return result, nil
		}

		asked := false
		for _, key := range result.PasswordRequired {
			secret, err := readPassword(key)
			if err != nil {
				return nil, err
			}
			if secret == "" {
				continue
			}
			req.Passwords[key] = secret
			asked = true
		}
		if !asked {
			return result, nil
		}
	}
}

func readPassword(key string) (string, error) {
	fmt.Fprintf(os.Stderr, "Password for %s (empty to skip): ", key)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(secret), nil
}

// printAnalysis renders the plan as a table followed by problems
func printAnalysis(result *session.AnalysisResult) {
	if len(result.Tasks) == 0 {
		fmt.Println("No add-ons found")
	} else {
		printTasks(os.Stdout, result.Tasks)
	}

	progress.NewPrinter(os.Stdout).Problems(result.Warnings, result.PasswordRequired, result.Errors)
}

func printTasks(out io.Writer, tasks []addons.InstallTask) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
		styles.Title.Render("#"),
		styles.Title.Render("KIND"),
		styles.Title.Render("NAME"),
		styles.Title.Render("SIZE"),
		styles.Title.Render("MODE"),
		styles.Title.Render("TARGET"),
	)

	var total int64
	for i, t := range tasks {
		size := humanize.IBytes(uint64(t.EstimatedSize))
		if t.SizeWarning {
			size = styles.WarningText.Render(size)
		}
		mode := "-"
		if t.ConflictExists {
			mode = styles.FormatConflict() + " " + styles.FormatMode(t.Mode)
		}
		name := styles.TaskName.Render(t.DisplayName)
		if t.NewCycle != "" {
			name += " " + styles.FormatCycle(t.ExistingCycle, t.NewCycle)
		}
		if !t.Enabled {
			name = styles.MutedText.Render(t.DisplayName + " (skipped)")
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1, styles.FormatKind(t.Kind), name, size, mode, styles.TaskPath.Render(t.TargetPath))
		if t.Enabled {
			total += t.EstimatedSize
		}
	}
	_ = w.Flush()

	fmt.Fprintf(out, "\n%d add-on(s), %s to write\n", len(tasks), humanize.IBytes(uint64(total)))
}

// confirm asks a yes/no question on stdin; anything but y/yes is a no
func confirm(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
