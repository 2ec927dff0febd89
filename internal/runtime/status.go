package runtime

import (
	"net/http"

	"github.com/drblury/messageless/internal/runtime/jsoncodec"
	"github.com/drblury/messageless/transport"
)

// StatusPath is served next to /metrics when a metrics port is configured.
const StatusPath = "/api/node"

// NodeStatus is a point-in-time description of a node.
type NodeStatus struct {
	LocalPath        string                 `json:"local_path"`
	PubSubSystem     string                 `json:"pubsub_system"`
	Capabilities     transport.Capabilities `json:"capabilities"`
	Interfaces       []string               `json:"interfaces"`
	Services         []string               `json:"services,omitempty"`
	PendingCallbacks int                    `json:"pending_callbacks"`
	PendingTimeouts  int                    `json:"pending_timeouts"`
	Metrics          MetricsSnapshot        `json:"metrics"`
}

// Status describes the node.
func (n *Node) Status() NodeStatus {
	status := NodeStatus{
		LocalPath:        n.Conf.LocalPath,
		PubSubSystem:     n.Conf.PubSubSystem,
		Capabilities:     n.capabilities,
		Interfaces:       n.table.Types(),
		PendingCallbacks: n.PendingCallbacks(),
		PendingTimeouts:  n.PendingTimeouts(),
		Metrics:          n.metrics.Snapshot(),
	}
	if keyed, ok := n.resolver.(interface{ Keys() []string }); ok {
		status.Services = keyed.Keys()
	}
	return status
}

func (n *Node) registerStatusHandler() {
	if !n.Conf.MetricsEnabled || n.Conf.MetricsPort <= 0 {
		return
	}
	n.RegisterHTTPHandler(n.Conf.MetricsPort, StatusPath, http.HandlerFunc(n.handleGetStatus))
}

func (n *Node) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := jsoncodec.Marshal(n.Status())
	if err != nil {
		n.Logger.Error("Failed to encode node status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
