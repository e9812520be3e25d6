package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koltyakov/wazuhproxy/internal/settings"
)

// newAdminCmd edits the admin switch in the settings stanza. A running
// server picks the change up without a restart.
func newAdminCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Toggle forwarding of POST, PUT and DELETE calls",
	}
	cmd.PersistentFlags().StringVar(&path, "settings", envOr("WAZUHPROXY_SETTINGS", "./wazuhproxy.yml"), "Settings stanza YAML path")

	set := func(enabled bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			st, err := settings.Load(path)
			if err != nil {
				return err
			}
			st.Admin = enabled
			if err := settings.Save(path, st); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "admin:", enabled)
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "enable", Short: "Allow mutating calls", Args: cobra.NoArgs, RunE: set(true)},
		&cobra.Command{Use: "disable", Short: "Allow only GET calls", Args: cobra.NoArgs, RunE: set(false)},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current settings stanza",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := settings.Load(path)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "admin:", st.Admin)
				if st.Timeout > 0 {
					fmt.Fprintln(out, "timeout:", st.Timeout)
				}
				if st.LogLevel != "" {
					fmt.Fprintln(out, "log_level:", st.LogLevel)
				}
				return nil
			},
		},
	)
	return cmd
}
