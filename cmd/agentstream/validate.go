package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/transcript"
)

// buildValidateCmd creates the "validate" command that checks the
// structure of a conversation history.
func buildValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate the structure of a conversation history",
		Long: `Validate a JSON array of messages and report every violation of the
tool-call/tool-result pairing rules. Reads standard input when no file is
given. Exits non-zero when the history has violations.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open history: %w", err)
				}
				defer f.Close()
				in = f
			}
			return runValidate(in, cmd.OutOrStdout())
		},
	}
	return cmd
}

func runValidate(in io.Reader, out io.Writer) error {
	var msgs []core.Message
	if err := json.NewDecoder(in).Decode(&msgs); err != nil {
		return fmt.Errorf("failed to decode history: %w", err)
	}

	report := transcript.Inspect(msgs)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.Valid() {
		return &core.ValidationError{Violations: report.Violations}
	}
	return nil
}
