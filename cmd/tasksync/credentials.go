package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tasksync/internal/cli"
	"tasksync/internal/config"
	"tasksync/internal/credentials"
	"tasksync/internal/utils"
)

func newCredentialsCmd(c *cmdEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the remote database password",
		Long: `Securely manage the password of the remote database user.

The password is looked up in this order:
  1. System keyring (most secure) - recommended
  2. TASKSYNC_REMOTE_PASSWORD environment variable (good for CI/CD)
  3. userinfo of remote.url in the config file (least secure)

Examples:
  # Store the password in the keyring (interactive prompt)
  tasksync credentials set admin

  # Check which source is used
  tasksync credentials get

  # Remove the password from the keyring
  tasksync credentials delete admin`,
	}

	cmd.AddCommand(newCredentialsSetCmd(c))
	cmd.AddCommand(newCredentialsGetCmd(c))
	cmd.AddCommand(newCredentialsDeleteCmd(c))
	return cmd
}

// remoteTarget returns the keyring host and the username to use, preferring
// the argument over the configured user
func remoteTarget(c *cmdEnv, args []string) (host, username string, err error) {
	cfg, err := config.Load(c.cfgPath)
	if err != nil {
		return "", "", err
	}
	u, err := url.Parse(cfg.Remote.URL)
	if err != nil || u.Host == "" {
		return "", "", utils.ErrInvalidConfig("remote.url", "needs a host to store credentials for")
	}

	username = cfg.Remote.Username
	if len(args) > 0 {
		username = args[0]
	}
	if username == "" {
		return "", "", fmt.Errorf("username is required (not set in remote.username)")
	}
	return u.Host, username, nil
}

func newCredentialsSetCmd(c *cmdEnv) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "set [username]",
		Short: "Store the password in the system keyring",
		Long: `Store the remote password in the system keyring.

Without --password the password is read interactively, which keeps it out of
your shell history.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, username, err := remoteTarget(c, args)
			if err != nil {
				return err
			}

			if password == "" {
				fmt.Fprintf(c.out, "Enter password for %s@%s: ", username, host)
				passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(c.out)
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = string(passwordBytes)
				if password == "" {
					return fmt.Errorf("password cannot be empty")
				}
			}

			if err := credentials.Set(host, username, password); err != nil {
				if !credentials.IsAvailable() {
					return utils.WrapWithSuggestion(err, fmt.Sprintf(
						"The system keyring is not available. Use environment variables instead:\n  export %s=%s\n  export %s=<password>",
						credentials.EnvUsername, username, credentials.EnvPassword))
				}
				return err
			}

			fmt.Fprintln(c.out, cli.Success("credentials stored for %s@%s", username, host))
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "password (visible in shell history, prefer the prompt)")
	return cmd
}

func newCredentialsGetCmd(c *cmdEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "get [username]",
		Short: "Show which credential source is used",
		Long: `Show where the remote password is found. The password itself is never
printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.cfgPath)
			if err != nil {
				return err
			}
			username := cfg.Remote.Username
			if len(args) > 0 {
				username = args[0]
			}

			creds, err := credentials.NewResolver().Resolve(username, cfg.Remote.URL)
			if err != nil {
				fmt.Fprintf(c.out, "✗ No credentials found for %s\n", cfg.Remote.URL)
				return err
			}

			fmt.Fprintf(c.out, "✓ Credentials for %s\n", cfg.Remote.URL)
			if creds.Username != "" {
				fmt.Fprintf(c.out, "  Username: %s\n", creds.Username)
			}
			fmt.Fprintf(c.out, "  Source: %s\n", creds.Source)

			switch creds.Source {
			case credentials.SourceKeyring:
				fmt.Fprintln(c.out, "\n✓ Using secure keyring storage (recommended)")
			case credentials.SourceEnv:
				fmt.Fprintln(c.out, "\n"+cli.Warning("Using environment variables"))
				fmt.Fprintf(c.out, "  Consider using the keyring: tasksync credentials set %s\n", creds.Username)
			case credentials.SourceURL:
				fmt.Fprintln(c.out, "\n"+cli.Warning("Using credentials from the config URL (not recommended)"))
				fmt.Fprintf(c.out, "  Move them to the keyring: tasksync credentials set %s\n", creds.Username)
			case credentials.SourceNone:
				fmt.Fprintln(c.out, "\n"+cli.Warning("No username configured, connecting anonymously"))
			}
			return nil
		},
	}
}

func newCredentialsDeleteCmd(c *cmdEnv) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete [username]",
		Short: "Remove the password from the system keyring",
		Long: `Remove the stored password from the system keyring.

Environment variables and the config URL are not affected.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, username, err := remoteTarget(c, args)
			if err != nil {
				return err
			}

			if !force && !utils.PromptYesNoFrom(c.in, c.out, fmt.Sprintf("Delete credentials for %s@%s?", username, host)) {
				fmt.Fprintln(c.out, "Cancelled")
				return nil
			}

			if err := credentials.Delete(host, username); err != nil {
				return err
			}
			fmt.Fprintln(c.out, cli.Success("credentials deleted for %s@%s", username, host))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation prompt")
	return cmd
}
