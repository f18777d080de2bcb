package rpc

import (
	"sync"

	"lealone/pkg/replication"
	"lealone/pkg/types"
)

// HTTPDirectory resolves a replication.Replica for a NodeID by treating the
// id itself as a dialable "host:port" address, the convention
// Membership.RegisterSelf's ephemeral znode naming establishes. Dialed
// clients are cached, matching pkg/session.Pool's per-URL reuse of idle
// connections rather than one client per call.
type HTTPDirectory struct {
	scheme string

	mu      sync.Mutex
	clients map[types.NodeID]*Client
}

// NewHTTPDirectory builds a Directory that dials nodes over scheme (e.g.
// "http"); an empty scheme defaults to "http".
func NewHTTPDirectory(scheme string) *HTTPDirectory {
	if scheme == "" {
		scheme = "http"
	}
	return &HTTPDirectory{scheme: scheme, clients: make(map[types.NodeID]*Client)}
}

func (d *HTTPDirectory) Dial(host types.NodeID) (replication.Replica, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.clients[host]; ok {
		return c, nil
	}
	c := NewClient(host, d.scheme+"://"+string(host))
	d.clients[host] = c
	return c, nil
}
