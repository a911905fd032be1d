package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/metaspn/store/internal/envelope"
	"github.com/metaspn/store/internal/store"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	Kind        string
	Input       string
	OnDuplicate string
}

// AppendResult reports one appended record.
type AppendResult struct {
	ID        string `json:"id"`
	Partition string `json:"partition"`
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append signal or emission records from JSONL input",
		Long: `Append records to the store from a JSONL file or stdin.

Each input line is one JSON envelope. Records without an id get a fresh
UUID; records without a schema_version get the current one. The partition
file is chosen by the record's UTC calendar date.

Exit codes:
  0 - all records appended (or resolved per the duplicate policy)
  1 - duplicate id hit with --on-duplicate=raise
  2 - command error (bad input, unwritable workspace)

Examples:
  metaspn-store append --workspace ./ws --kind signal --input signals.jsonl
  cat signals.jsonl | metaspn-store append --workspace ./ws --kind signal
  metaspn-store append --workspace ./ws --kind emission --input out.jsonl --on-duplicate ignore`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "signal", "record kind (signal|emission)")
	cmd.Flags().StringVar(&opts.Input, "input", "", "JSONL input file (defaults to stdin)")
	cmd.Flags().StringVar(&opts.OnDuplicate, "on-duplicate", "return_existing", "duplicate policy (ignore|return_existing|raise)")

	return cmd
}

func runAppend(opts *AppendOptions, cmd *cobra.Command) error {
	if opts.Kind != "signal" && opts.Kind != "emission" {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid kind %q: must be signal or emission", opts.Kind))
	}

	reader := cmd.InOrStdin()
	if opts.Input != "" {
		f, err := os.Open(opts.Input)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer f.Close()
		reader = f
	}

	st, err := store.Open(opts.Workspace)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}

	results, err := appendRecords(st, opts.Kind, store.DuplicatePolicy(opts.OnDuplicate), reader)
	if err != nil {
		if store.IsDuplicate(err) {
			return WrapExitError(ExitFailure, "duplicate record", err)
		}
		if store.IsInvalidInput(err) {
			return WrapExitError(ExitCommandError, "invalid record", err)
		}
		return WrapExitError(ExitCommandError, "append failed", err)
	}

	if opts.Format == "json" {
		return outputJSON(cmd, results)
	}
	for _, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "appended %s -> %s\n", r.ID, r.Partition)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d record(s)\n", len(results))
	return nil
}

// appendRecords parses one envelope per input line and writes it, minting
// ids and schema versions where absent.
func appendRecords(st *store.Store, kind string, policy store.DuplicatePolicy, r io.Reader) ([]AppendResult, error) {
	idField := "signal_id"
	if kind == "emission" {
		idField = "emission_id"
	}

	results := []AppendResult{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		prepared, id, err := prepareRecord(line, idField)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		var path string
		if kind == "signal" {
			sig, err := envelope.UnmarshalWireSignal(prepared)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			path, err = st.WriteSignal(sig, policy)
			if err != nil {
				return nil, err
			}
		} else {
			em, err := envelope.UnmarshalWireEmission(prepared)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			path, err = st.WriteEmission(em, policy)
			if err != nil {
				return nil, err
			}
		}

		results = append(results, AppendResult{ID: id, Partition: path})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return results, nil
}

// prepareRecord fills the id and schema_version defaults on a raw envelope
// line and returns the rewritten bytes plus the effective id.
func prepareRecord(line []byte, idField string) ([]byte, string, error) {
	var record map[string]any
	if err := json.Unmarshal(line, &record); err != nil {
		return nil, "", fmt.Errorf("decode record: %w", err)
	}

	id, _ := record[idField].(string)
	if id == "" {
		id = uuid.NewString()
		record[idField] = id
	}
	if v, _ := record["schema_version"].(string); v == "" {
		record["schema_version"] = "0.1"
	}

	prepared, err := json.Marshal(record)
	if err != nil {
		return nil, "", fmt.Errorf("encode record: %w", err)
	}
	return prepared, id, nil
}
