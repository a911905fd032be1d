package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metaspn/store/internal/store"
)

// DigestOptions holds flags for the digest command.
type DigestOptions struct {
	*RootOptions
	Day  string
	Save bool
}

// NewDigestCommand creates the digest command.
func NewDigestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DigestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Compute a day's record counts",
		Long: `Count one day's signals and emissions. With --save the digest is also
persisted as a snapshot; rewriting the same digest is byte-idempotent.

Examples:
  metaspn-store digest --workspace ./ws --day 2026-02-05
  metaspn-store digest --workspace ./ws --day 2026-02-05 --save`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigest(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Day, "day", "", "ISO date to digest (required)")
	_ = cmd.MarkFlagRequired("day")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "persist the digest snapshot")

	return cmd
}

func runDigest(opts *DigestOptions, cmd *cobra.Command) error {
	st, err := store.Open(opts.Workspace)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}

	digest, err := st.DailyDigest(opts.Day)
	if err != nil {
		if store.IsInvalidInput(err) {
			return WrapExitError(ExitCommandError, "invalid day", err)
		}
		return WrapExitError(ExitCommandError, "digest failed", err)
	}

	if opts.Save {
		if _, err := st.WriteDailyDigestSnapshot(opts.Day, digest); err != nil {
			return WrapExitError(ExitCommandError, "failed to save digest", err)
		}
	}

	if opts.Format == "json" {
		return outputJSON(cmd, map[string]any{"day": opts.Day, "digest": digest})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %v signal(s), %v emission(s)\n", opts.Day, digest["signals"], digest["emissions"])
	return nil
}
