package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vibecore-ai/vibecore/internal/auth"
	"github.com/vibecore-ai/vibecore/internal/config"
	"github.com/vibecore-ai/vibecore/internal/session"
)

func buildLoginCmd() *cobra.Command {
	var withAPIKey bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with Anthropic",
		Long:  "Runs the browser OAuth flow and stores the resulting tokens.\nWith --api-key, stores a pasted API key instead.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if withAPIKey {
				return loginWithAPIKey(cmd)
			}
			return loginWithOAuth(cmd)
		},
	}
	cmd.Flags().BoolVar(&withAPIKey, "api-key", false, "store an API key instead of running the OAuth flow")
	return cmd
}

func loginWithOAuth(cmd *cobra.Command) error {
	store, err := openAuthStore()
	if err != nil {
		return err
	}

	flow := auth.NewFlow()
	fmt.Fprintln(cmd.OutOrStdout(), "Open this URL in your browser and authorize:")
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), "  "+flow.AuthorizeURL())
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprint(cmd.OutOrStdout(), "Paste the code shown after authorizing: ")

	pasted, err := readLine()
	if err != nil {
		return err
	}
	code, err := flow.ParsePastedCode(pasted)
	if err != nil {
		return err
	}

	resp, err := auth.NewOAuthClient().Exchange(cmd.Context(), code, flow.Verifier)
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}

	creds := auth.Credentials{
		Type:    auth.CredentialOAuth,
		Access:  resp.AccessToken,
		Refresh: resp.RefreshToken,
	}
	if resp.ExpiresIn > 0 {
		creds.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second).UnixMilli()
	}
	if err := store.Save(auth.ProviderName, creds); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged in.")
	return nil
}

func loginWithAPIKey(cmd *cobra.Command) error {
	store, err := openAuthStore()
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), "API key: ")
	var key string
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		key = string(raw)
	} else {
		key, err = readLine()
		if err != nil {
			return err
		}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("empty API key")
	}

	err = store.Save(auth.ProviderName, auth.Credentials{
		Type:   auth.CredentialAPIKey,
		APIKey: key,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "API key stored.")
	return nil
}

func buildLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored Anthropic credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openAuthStore()
			if err != nil {
				return err
			}
			if err := store.Remove(auth.ProviderName); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func buildSessionsCmd(configPath *string) *cobra.Command {
	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "Manage this project's sessions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions for the current project, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			workdir, err := os.Getwd()
			if err != nil {
				return err
			}

			infos, err := session.ListSessions(cfg.BaseDir, workdir)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d bytes\n",
					info.ID, info.ModTime.Format(time.RFC3339), info.Size)
			}
			return nil
		},
	}

	sessions.AddCommand(list)
	return sessions
}

func openAuthStore() (*auth.Store, error) {
	path, err := auth.DefaultPath()
	if err != nil {
		return nil, err
	}
	return auth.NewStore(path), nil
}

func readLine() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
