package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deskops/requesterctl/internal/core"
	errwrap "github.com/deskops/requesterctl/internal/errors"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Prompt for an action and an input file, then run it",
	Long: `Prompt for the action and the input file path, then run the batch.

Actions may be entered by name (deactivate, reactivate, merge,
update_requester_emails, add_secondary_emails, replace_secondary_emails,
update_external_id) or by number. An empty path selects the action's default
input file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, path, err := promptOperation(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return errwrap.WrapInvalidInput(cmd.Context(), err, err.Error())
		}

		opts, closeOut, err := runOptionsFromFlags(cmd)
		if err != nil {
			return err
		}
		defer closeOut() // nolint:errcheck // best-effort cleanup

		_, err = runOperation(cmd.Context(), spec, path, opts)
		return err
	},
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
}

// promptOperation reads the action and input path from in.
func promptOperation(in io.Reader, out io.Writer) (operationSpec, string, error) {
	reader := bufio.NewReader(in)

	names := make([]string, 0, len(core.Operations))
	for i, op := range core.Operations {
		names = append(names, fmt.Sprintf("  %d) %s", i+1, op))
	}
	_, _ = fmt.Fprintf(out, "Actions:\n%s\nEnter action: ", strings.Join(names, "\n"))

	answer, err := readLine(reader)
	if err != nil {
		return operationSpec{}, "", err
	}
	op, ok := resolveAction(answer)
	if !ok {
		return operationSpec{}, "", fmt.Errorf("invalid action %q", answer)
	}
	spec, ok := lookupOperation(op)
	if !ok {
		return operationSpec{}, "", fmt.Errorf("action %q has no command", op)
	}

	_, _ = fmt.Fprintf(out, "Enter the path to the input file (default: %s): ", spec.DefaultInput)
	path, err := readLine(reader)
	if err != nil {
		return operationSpec{}, "", err
	}
	if path == "" {
		path = spec.DefaultInput
	}
	return spec, path, nil
}

func resolveAction(answer string) (core.Operation, bool) {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	if n, err := strconv.Atoi(normalized); err == nil {
		if n >= 1 && n <= len(core.Operations) {
			return core.Operations[n-1], true
		}
		return "", false
	}
	return core.ParseOperation(strings.ReplaceAll(normalized, "-", "_"))
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", errors.New("no input provided")
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
