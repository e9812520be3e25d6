// Package cli implements the wazuhproxy command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// usageError marks failures caused by bad invocation; they exit with 2.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

// Run executes the command line and returns the process exit code.
func Run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loadEnvFromDotEnv(".env")

	root := newRootCommand()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var ue usageError
		if errors.As(err, &ue) {
			return 2
		}
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wazuhproxy",
		Short: "wazuhproxy - dashboard backend proxy for Wazuh manager APIs",
		Long: `wazuhproxy forwards dashboard calls to registered Wazuh manager APIs,
gates them on daemon readiness, retries transient failures, masks
secrets in responses and renders paginated lists as CSV.

Run 'wazuhproxy connection add' to register a manager, then
'wazuhproxy serve' to start the HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})
	cmd.AddCommand(
		newServeCmd(),
		newConnectionCmd(),
		newAdminCmd(),
		newVersionCmd(),
	)
	return cmd
}
