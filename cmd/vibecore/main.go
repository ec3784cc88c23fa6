// Package main is the vibecore CLI: an interactive agent session in the
// current project, plus login, logout, and session management commands.
//
// Basic usage:
//
//	vibecore                 start a new session
//	vibecore -c              continue the most recent session
//	vibecore -s <id>         resume a named session
//	vibecore login           authenticate with Anthropic
//	vibecore sessions list   list this project's sessions
//
// Exit codes: 0 on success, 1 on runtime errors, 2 on usage errors.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Populated by ldflags.
var version = "dev"

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := buildRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

func buildRootCmd() *cobra.Command {
	var (
		configPath   string
		continueLast bool
		sessionID    string
	)

	root := &cobra.Command{
		Use:           "vibecore",
		Short:         "Vibecore - interactive AI agent runtime",
		Long:          "Vibecore runs an interactive agent session: streaming model turns,\ntool execution confined to allowed directories, and durable JSONL\nsession logs per project.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: unexpected argument %q", errUsage, args[0])
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if continueLast && sessionID != "" {
				return fmt.Errorf("%w: --continue and --session are mutually exclusive", errUsage)
			}
			return runInteractive(cmd, configPath, continueLast, sessionID)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.vibecore/config.yaml)")
	root.Flags().BoolVarP(&continueLast, "continue", "c", false, "continue the most recent session for this project")
	root.Flags().StringVarP(&sessionID, "session", "s", "", "resume the named session")

	root.AddCommand(
		buildLoginCmd(),
		buildLogoutCmd(),
		buildSessionsCmd(&configPath),
	)
	return root
}
