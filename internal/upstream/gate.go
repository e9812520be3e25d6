package upstream

import (
	"context"
	"log/slog"

	"github.com/koltyakov/wazuhproxy/internal/domain"
	"github.com/koltyakov/wazuhproxy/internal/metrics"
)

const (
	daemonExecd    = "ossec-execd"
	daemonModulesd = "wazuh-modulesd"
	daemonDB       = "wazuh-db"
	daemonClusterd = "wazuh-clusterd"

	statusRunning = "running"
)

// Gate checks whether the upstream daemons are running.
type Gate struct {
	client *Client
	logger *slog.Logger
}

func NewGate(client *Client, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{client: client, logger: logger}
}

// Ready reports whether every required daemon is running.
func (g *Gate) Ready(ctx context.Context, ep domain.Endpoint) (bool, error) {
	statuses, err := g.Status(ctx, ep)
	if err != nil {
		metrics.ObserveReadiness(false, err)
		return false, err
	}
	ready := allRunning(statuses)
	metrics.ObserveReadiness(ready, nil)
	if ready {
		g.logger.Debug("wazuh daemons ready", "connection", ep.ConnectionID)
	} else {
		g.logger.Debug("wazuh daemons not ready yet", "connection", ep.ConnectionID, "daemons", statuses)
	}
	return ready, nil
}

// Status returns the status of each required daemon. A nil map with a nil
// error means the manager reported an error code instead of statuses.
func (g *Gate) Status(ctx context.Context, ep domain.Endpoint) (domain.DaemonStatus, error) {
	// A failing cluster probe means "not clustered", never an error.
	clusterEnabled := false
	if env, err := g.client.getOnce(ctx, ep, "/cluster/status"); err == nil {
		if data, ok := env.DataMap(); ok {
			clusterEnabled = data["enabled"] == "yes"
		}
	}

	env, err := g.client.getOnce(ctx, ep, "/manager/status")
	if err != nil {
		return nil, err
	}
	if env.Error != 0 {
		return nil, nil
	}
	data, _ := env.DataMap()

	names := []string{daemonExecd, daemonModulesd, daemonDB}
	if ep.ClusterAware && clusterEnabled {
		names = append(names, daemonClusterd)
	}
	statuses := make(domain.DaemonStatus, len(names))
	for _, name := range names {
		s, _ := data[name].(string)
		statuses[name] = s
	}
	return statuses, nil
}

func allRunning(statuses domain.DaemonStatus) bool {
	if len(statuses) == 0 {
		return false
	}
	for _, s := range statuses {
		if s != statusRunning {
			return false
		}
	}
	return true
}
