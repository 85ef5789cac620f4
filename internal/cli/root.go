package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/tg2fibery/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the tg2fibery command. Run without a subcommand it
// performs one sync pass.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	syncOpts := &SyncOptions{RootOptions: opts}

	cmd := &cobra.Command{
		Use:   "tg2fibery",
		Short: "Mirror Telegram bot messages into Fibery",
		Long: `Fetch pending Telegram bot updates and mirror each message into a Fibery
entity whose linked document holds the message text.

Updates already mirrored are skipped, so running the job again is safe.

Exit codes:
  0 - Sync pass completed (failed updates are reported, not fatal)
  1 - Runtime error (Telegram unavailable, etc.)
  2 - Configuration error (missing secrets file, invalid credentials, etc.)

Examples:
  tg2fibery
  tg2fibery --secret /etc/tg2fibery/secrets.ini -n 20
  tg2fibery --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(syncOpts, cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.Flags().StringVar(&syncOpts.SecretPath, "secret", config.DefaultPath, "path to the INI credentials file")
	cmd.Flags().IntP("limit", "n", 1, "maximum number of updates to fetch")

	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
