package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/metaspn/store/internal/envelope"
	"github.com/metaspn/store/internal/store"
	"github.com/metaspn/store/internal/timeutil"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Kind       string
	Start      string
	End        string
	Sources    []string
	Entity     string
	Checkpoint string
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a time window of signals or emissions",
		Long: `Scan the store over an inclusive [start, end] window and print each
record as one canonical JSON line.

The scan is a deterministic replay: chronological partition order, append
order within a partition, duplicate ids suppressed. With --checkpoint the
scan resumes past the named checkpoint's boundary (signals only).

Examples:
  metaspn-store scan --workspace ./ws --start 2026-02-05 --end 2026-02-06
  metaspn-store scan --workspace ./ws --kind emission --start 2026-02-05 --end 2026-02-05
  metaspn-store scan --workspace ./ws --end 2026-02-07 --checkpoint router
  metaspn-store scan --workspace ./ws --end 2026-02-07 --entity person:mastodon:@ada`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "signal", "record kind (signal|emission)")
	cmd.Flags().StringVar(&opts.Start, "start", "", "window start (defaults to the epoch)")
	cmd.Flags().StringVar(&opts.End, "end", "", "window end (required)")
	_ = cmd.MarkFlagRequired("end")
	cmd.Flags().StringSliceVar(&opts.Sources, "source", nil, "source filter (repeatable)")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "entity ref filter as ref_type:platform:value")
	cmd.Flags().StringVar(&opts.Checkpoint, "checkpoint", "", "resume past this named checkpoint (signals only)")

	return cmd
}

func runScan(opts *ScanOptions, cmd *cobra.Command) error {
	start, end, err := parseWindow(opts.Start, opts.End)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid window", err)
	}

	entityRef, err := parseEntityFlag(opts.Entity)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid entity", err)
	}

	st, err := store.Open(opts.Workspace)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}

	w := cmd.OutOrStdout()
	count := 0

	switch opts.Kind {
	case "signal":
		var cp *store.ReplayCheckpoint
		if opts.Checkpoint != "" {
			cp, err = st.ReadCheckpoint(opts.Checkpoint)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read checkpoint", err)
			}
		}

		it, err := st.IterSignalsFromCheckpoint(store.ReplayQuery{
			Start:      start,
			End:        end,
			Checkpoint: cp,
			EntityRef:  entityRef,
			Sources:    opts.Sources,
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "scan failed", err)
		}
		defer it.Close()

		for it.Next() {
			line, err := it.Signal().MarshalWire()
			if err != nil {
				return WrapExitError(ExitCommandError, "encode record", err)
			}
			fmt.Fprintf(w, "%s\n", line)
			count++
		}
		if err := it.Err(); err != nil {
			return WrapExitError(ExitCommandError, "scan failed", err)
		}

	case "emission":
		if opts.Checkpoint != "" {
			return NewExitError(ExitCommandError, "--checkpoint applies to signal scans only")
		}

		it, err := st.IterEmissions(start, end, store.EmissionFilter{EntityRef: entityRef})
		if err != nil {
			return WrapExitError(ExitCommandError, "scan failed", err)
		}
		defer it.Close()

		for it.Next() {
			line, err := it.Emission().MarshalWire()
			if err != nil {
				return WrapExitError(ExitCommandError, "encode record", err)
			}
			fmt.Fprintf(w, "%s\n", line)
			count++
		}
		if err := it.Err(); err != nil {
			return WrapExitError(ExitCommandError, "scan failed", err)
		}

	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid kind %q: must be signal or emission", opts.Kind))
	}

	if opts.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d record(s)\n", count)
	}
	return nil
}

// parseWindow resolves the start/end flags. An empty start means the epoch.
func parseWindow(startFlag, endFlag string) (time.Time, time.Time, error) {
	start := timeutil.UnixEpoch()
	if startFlag != "" {
		parsed, ok := timeutil.ParseTimestamp(startFlag)
		if !ok {
			return time.Time{}, time.Time{}, fmt.Errorf("bad start %q", startFlag)
		}
		start = parsed
	}

	end, ok := timeutil.ParseTimestamp(endFlag)
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("bad end %q", endFlag)
	}
	return start, end, nil
}

// parseEntityFlag decodes a ref_type:platform:value flag. The platform slot
// may be empty.
func parseEntityFlag(flag string) (*envelope.EntityRef, error) {
	if flag == "" {
		return nil, nil
	}
	parts := strings.SplitN(flag, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return nil, fmt.Errorf("bad entity ref %q: want ref_type:platform:value", flag)
	}
	return &envelope.EntityRef{RefType: parts[0], Platform: parts[1], Value: parts[2]}, nil
}
