package replication

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"lealone/pkg/listener"
	"lealone/pkg/types"
)

// Membership registers this node as an ephemeral ZooKeeper child and keeps
// a Ring rebuilt from the live sibling set, ported from the teacher's
// pkg/cluster.ZKMembership (RegisterSelf/readNodes/BuildRing/RunWatch)
// generalized to publish into a *Ring rather than a single-owner Router.
type Membership struct {
	conn     *zk.Conn
	rootPath string
	local    types.NodeID

	virtualNodes int
	ring         *Ring

	watchListener *listener.Listener[zk.Event]
}

// NewMembership connects to the given ZooKeeper ensemble. rootPath is the
// znode under which a "/nodes" children directory is maintained.
func NewMembership(servers []string, rootPath string, local types.NodeID, virtualNodes int) (*Membership, error) {
	conn, _, err := zk.Connect(servers, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("replication: zk connect: %w", err)
	}
	return &Membership{
		conn:         conn,
		rootPath:     rootPath,
		local:        local,
		virtualNodes: virtualNodes,
		ring:         NewRing(virtualNodes),
	}, nil
}

func (m *Membership) Close() error {
	if m.watchListener != nil {
		m.watchListener.Stop()
	}
	m.conn.Close()
	return nil
}

func (m *Membership) ensurePath(path string) error {
	cur := ""
	for _, p := range strings.Split(path, "/") {
		if p == "" {
			continue
		}
		cur += "/" + p
		exists, _, err := m.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := m.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
				return err
			}
		}
	}
	return nil
}

// RegisterSelf creates this node's ephemeral znode, disappearing on session
// loss so siblings observe departure without an explicit heartbeat.
func (m *Membership) RegisterSelf() error {
	if err := m.waitConnected(10 * time.Second); err != nil {
		return err
	}
	if err := m.ensurePath(m.rootPath + "/nodes"); err != nil {
		return fmt.Errorf("replication: ensure nodes path: %w", err)
	}
	nodePath := fmt.Sprintf("%s/nodes/%s", m.rootPath, m.local)
	if _, err := m.conn.Create(nodePath, nil, zk.FlagEphemeral, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("replication: create ephemeral node: %w", err)
	}
	slog.Info("replication: registered node", "path", nodePath)
	return nil
}

func (m *Membership) readNodes() ([]string, error) {
	children, _, err := m.conn.Children(m.rootPath + "/nodes")
	if err != nil {
		return nil, fmt.Errorf("replication: zk children: %w", err)
	}
	return children, nil
}

func (m *Membership) rebuildRing() error {
	nodes, err := m.readNodes()
	if err != nil {
		return err
	}
	ring := NewRing(m.virtualNodes)
	for _, n := range nodes {
		ring.AddNode(types.NodeID(n))
	}
	m.ring = ring
	return nil
}

// Ring returns the current membership-derived Ring. Safe to call
// concurrently with Watch's rebuilds; callers see either the old or the new
// ring, never a partially rebuilt one, since rebuildRing swaps the pointer
// wholesale.
func (m *Membership) Ring() *Ring { return m.ring }

// Watch runs the initial rebuild synchronously, then hands the zk watch
// channel to a pkg/listener.Listener so every subsequent child-change event
// triggers a rebuild on its own goroutine, stopping when ctx is done.
// Grounded on the teacher's ZKMembership.RunWatch, whose for-select loop
// this replaces with the pack's generic single-channel consumer.
func (m *Membership) Watch(ctx context.Context) error {
	if err := m.rebuildRing(); err != nil {
		return err
	}

	_, _, ch, err := m.conn.ChildrenW(m.rootPath + "/nodes")
	if err != nil {
		return fmt.Errorf("replication: childrenw: %w", err)
	}

	m.watchListener = listener.New(ch, func(ev zk.Event) error {
		if err := m.rebuildRing(); err != nil {
			slog.Warn("replication: ring rebuild failed", "err", err)
			return nil
		}
		_, _, next, err := m.conn.ChildrenW(m.rootPath + "/nodes")
		if err != nil {
			slog.Warn("replication: re-arm childrenw failed", "err", err)
			return nil
		}
		m.watchListener.Rearm(next)
		return nil
	})
	m.watchListener.Start(ctx)
	return nil
}

func (m *Membership) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := m.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("replication: zk not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
