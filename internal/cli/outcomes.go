package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/metaspn/store/internal/envelope"
	"github.com/metaspn/store/internal/store"
)

// OutcomesOptions holds flags for the outcomes command.
type OutcomesOptions struct {
	*RootOptions
	Start  string
	End    string
	Now    string
	Config string
}

// OutcomesResult is the JSON shape of a bucketed outcome window.
type OutcomesResult struct {
	Pending []string `json:"pending"`
	Expired []string `json:"expired"`
	Success []string `json:"success"`
	Failure []string `json:"failure"`
}

// NewOutcomesCommand creates the outcomes command.
func NewOutcomesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OutcomesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "Bucket a window's outcome activity",
		Long: `Classify the [start, end] window into pending, expired, success and
failure buckets.

A pending-type signal is resolved when a success or failure emission names
it in caused_by; an unresolved signal whose expiry instant has passed is
expired. The type sets are configurable via a YAML file.

Examples:
  metaspn-store outcomes --workspace ./ws --start 2026-02-05 --end 2026-02-05
  metaspn-store outcomes --workspace ./ws --end 2026-02-07 --now 2026-02-05T12:00:00Z
  metaspn-store outcomes --workspace ./ws --end 2026-02-07 --config outcomes.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOutcomes(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Start, "start", "", "window start (defaults to the epoch)")
	cmd.Flags().StringVar(&opts.End, "end", "", "window end (required)")
	_ = cmd.MarkFlagRequired("end")
	cmd.Flags().StringVar(&opts.Now, "now", "", "expiry reference instant (defaults to now)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "YAML file overriding the outcome type sets")

	return cmd
}

func runOutcomes(opts *OutcomesOptions, cmd *cobra.Command) error {
	start, end, err := parseWindow(opts.Start, opts.End)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid window", err)
	}

	now := time.Now().UTC()
	if opts.Now != "" {
		now, _, err = parseWindow(opts.Now, opts.Now)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid now", err)
		}
	}

	storeOpts := []store.Option{}
	if opts.Config != "" {
		sets, err := store.LoadOutcomeTypeSets(opts.Config)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load outcome config", err)
		}
		storeOpts = append(storeOpts, store.WithOutcomeTypeSets(sets))
	}

	st, err := store.Open(opts.Workspace, storeOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}

	buckets, err := st.OutcomeWindowBuckets(now, store.OutcomeQuery{Start: start, End: end})
	if err != nil {
		return WrapExitError(ExitCommandError, "bucket scan failed", err)
	}

	result := OutcomesResult{
		Pending: signalIDList(buckets.Pending),
		Expired: signalIDList(buckets.Expired),
		Success: emissionIDList(buckets.Success),
		Failure: emissionIDList(buckets.Failure),
	}
	if opts.Format == "json" {
		return outputJSON(cmd, result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Pending: %d\n", len(result.Pending))
	for _, id := range result.Pending {
		fmt.Fprintf(w, "  %s\n", id)
	}
	fmt.Fprintf(w, "Expired: %d\n", len(result.Expired))
	for _, id := range result.Expired {
		fmt.Fprintf(w, "  %s\n", id)
	}
	fmt.Fprintf(w, "Success: %d\n", len(result.Success))
	for _, id := range result.Success {
		fmt.Fprintf(w, "  %s\n", id)
	}
	fmt.Fprintf(w, "Failure: %d\n", len(result.Failure))
	for _, id := range result.Failure {
		fmt.Fprintf(w, "  %s\n", id)
	}
	return nil
}

func signalIDList(signals []envelope.SignalEnvelope) []string {
	ids := make([]string, 0, len(signals))
	for _, sig := range signals {
		ids = append(ids, sig.SignalID)
	}
	return ids
}

func emissionIDList(emissions []envelope.EmissionEnvelope) []string {
	ids := make([]string, 0, len(emissions))
	for _, em := range emissions {
		ids = append(ids, em.EmissionID)
	}
	return ids
}
