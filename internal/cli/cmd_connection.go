package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/koltyakov/wazuhproxy/internal/domain"
	"github.com/koltyakov/wazuhproxy/internal/store/sqlite"
	"github.com/koltyakov/wazuhproxy/internal/upstream"
)

const managerFilterType = "manager.name"

type storeFlags struct {
	dbPath    string
	secretKey string
}

func (f *storeFlags) bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.dbPath, "db", envOr("WAZUHPROXY_DB_PATH", "./wazuhproxy.db"), "SQLite database path")
	cmd.PersistentFlags().StringVar(&f.secretKey, "secret-key", envOr("WAZUHPROXY_SECRET_KEY", ""), "Sealing secret override for stored passwords")
}

// open returns a store ready to seal and open passwords.
func (f *storeFlags) open(ctx context.Context) (*sqlite.Store, error) {
	store, err := sqlite.Open(f.dbPath)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := installSealer(ctx, store, f.secretKey); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func newConnectionCmd() *cobra.Command {
	flags := &storeFlags{}
	cmd := &cobra.Command{
		Use:     "connection",
		Aliases: []string{"conn"},
		Short:   "Manage stored Wazuh API connections",
	}
	flags.bind(cmd)
	cmd.AddCommand(
		newConnectionAddCmd(flags),
		newConnectionListCmd(flags),
		newConnectionRemoveCmd(flags),
		newConnectionCheckCmd(flags),
	)
	return cmd
}

func newConnectionAddCmd(flags *storeFlags) *cobra.Command {
	var (
		conn          domain.Connection
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a Wazuh manager API",
		Example: `  wazuhproxy connection add --url https://wazuh.local --username wazuh --password secret
  echo secret | wazuhproxy connection add --url https://wazuh.local --username wazuh --password-stdin --cluster-name wazuh`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if passwordStdin {
				pw, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				conn.Password = pw
			}
			if strings.TrimSpace(conn.URL) == "" || strings.TrimSpace(conn.Username) == "" {
				return usagef("--url and --username are required")
			}
			if conn.Password == "" {
				return usagef("missing --password or --password-stdin")
			}
			conn.FilterType = managerFilterType
			if strings.TrimSpace(conn.ClusterName) != "" {
				conn.FilterType = domain.ClusterFilterType
			}

			store, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			created, err := store.CreateConnection(cmd.Context(), conn)
			if err != nil {
				return fmt.Errorf("create connection: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "id:", created.ID)
			fmt.Fprintln(out, "url:", created.URL)
			fmt.Fprintln(out, "filter:", created.FilterType)
			return nil
		},
	}
	cmd.Flags().StringVar(&conn.ID, "id", "", "Connection ID (generated when empty)")
	cmd.Flags().StringVar(&conn.URL, "url", "", "Manager API base URL, e.g. https://wazuh.local")
	cmd.Flags().IntVar(&conn.Port, "port", 55000, "Manager API port")
	cmd.Flags().StringVar(&conn.Username, "username", "", "API username")
	cmd.Flags().StringVar(&conn.Password, "password", "", "API password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the API password from stdin")
	cmd.Flags().StringVar(&conn.ClusterName, "cluster-name", "", "Cluster name; marks the connection cluster-aware")
	cmd.Flags().StringVar(&conn.ManagerName, "manager-name", "", "Manager name")
	return cmd
}

func newConnectionListCmd(flags *storeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			conns, err := store.ListConnections(cmd.Context())
			if err != nil {
				return fmt.Errorf("list connections: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tURL\tPORT\tUSER\tFILTER\tCREATED")
			for _, c := range conns {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", c.ID, c.URL, c.Port, c.Username, c.FilterType, c.CreatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newConnectionRemoveCmd(flags *storeFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a stored connection",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.DeleteConnection(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("remove connection %s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed:", args[0])
			return nil
		},
	}
}

func newConnectionCheckCmd(flags *storeFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "check <id>",
		Short: "Print the daemon status of a stored connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ep, err := upstream.NewResolver(store).Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			client := upstream.NewClient(upstream.ClientOptions{Timeout: timeout})
			defer client.CloseIdleConnections()
			statuses, err := upstream.NewGate(client, nil).Status(cmd.Context(), ep)
			if err != nil {
				return fmt.Errorf("daemon status: %w", err)
			}

			names := make([]string, 0, len(statuses))
			for name := range statuses {
				names = append(names, name)
			}
			sort.Strings(names)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, name := range names {
				fmt.Fprintf(tw, "%s\t%s\n", name, statuses[name])
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 20*time.Second, "Upstream request timeout")
	return cmd
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
