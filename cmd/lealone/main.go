package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"lealone/pkg/btree"
	"lealone/pkg/config"
	"lealone/pkg/pageop"
	"lealone/pkg/pagestore"
	"lealone/pkg/replication"
	"lealone/pkg/rpc"
	"lealone/pkg/scheduler"
	"lealone/pkg/session"
	"lealone/pkg/txn"
	"lealone/pkg/types"
)

const kvMapName = "kv"

// membershipRing adapts replication.Membership to replication.CandidateSource
// by re-resolving Ring() on every call, since Watch's rebuilds swap in a
// whole new *Ring rather than mutating one in place (replication.Membership's
// doc comment on Ring). Holding the *Ring returned by one Ring() call instead
// of this adapter would pin the coordinator to the membership snapshot at
// startup.
type membershipRing struct {
	membership *replication.Membership
}

func (s membershipRing) Candidates(key string, n int) []types.NodeID {
	return s.membership.Ring().Candidates(key, n)
}

// shardingEnv holds the ZooKeeper-backed pieces that only exist in sharding
// mode, kept together so main can wire and shut them down as one unit.
type shardingEnv struct {
	membership *replication.Membership
	coord      *replication.Coordinator
	move       *replication.MoveCoordinator
	splitMover *replication.SplitMover
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := initConfig(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "lealone: config: %v\n", err)
		os.Exit(1)
	}
	initLogger(&cfg)

	handlers := pageop.NewFactory(runtime.NumCPU(), 256)
	defer handlers.Close()

	store, err := pagestore.Open(cfg.Storage.DataDir, types.BinarySerializer{})
	if err != nil {
		slog.Error("lealone: open page store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	var opts []btree.Option
	var shard *shardingEnv
	if cfg.Options.IsShardingMode() {
		shard, err = setupSharding(ctx, cfg)
		if err != nil {
			slog.Error("lealone: sharding setup", "err", err)
			os.Exit(1)
		}
		defer shard.membership.Close()
		opts = append(opts,
			btree.WithReplicas(cfg.Options.InitReplicationNodes()),
			btree.WithSplitListener(shard.splitMover.OnLeafSplit()),
		)
	}

	m := btree.New(kvMapName, types.DefaultComparator{}, types.BinarySerializer{}, handlers, opts...)
	if shard != nil {
		shard.move.LocalDemote = m.SwapLeafToRemote
		shard.splitMover.Map = m
	}
	if pos, ok := store.RootPos(); ok {
		root, err := store.ReadPage(pos)
		if err != nil {
			slog.Error("lealone: read root page on recovery", "err", err)
			os.Exit(1)
		}
		m.Restore(root, store.MapSize(), store.MaxKey())
		slog.Info("lealone: recovered map from chunk store", "size", m.Size())
	}

	srv := rpc.NewServer(strconv.Itoa(cfg.Network.HTTPPort))
	srv.RegisterMap(kvMapName, m)
	if shard != nil {
		srv.RegisterCoordinator(kvMapName, shard.coord)
		srv.SetMoveCoordinator(shard.move)
	}
	if err := srv.Start(); err != nil {
		slog.Error("lealone: start rpc server", "err", err)
		os.Exit(1)
	}

	engine := txn.NewEngine(handlers)
	runStartupSmokeTransaction(engine)

	sched := scheduler.New(0, cfg.Options.LoopInterval("scheduler_loop_interval", 100), 256)
	go sched.Loop()

	pool := session.New(newEmbeddedFactory(engine), cfg.Options.SessionPoolQueueSize())

	stopCheckpoint := startCheckpointLoop(ctx, cfg, store, m)

	slog.Info("lealone: node ready", "addr", srv.URL, "sharding", cfg.Options.IsShardingMode())
	<-ctx.Done()
	slog.Info("lealone: shutting down")

	stopCheckpoint()
	if _, err := store.ForceSave(m.Root(), m.Size(), m.MaxKeySeq().Val(), store.Replicas()); err != nil {
		slog.Warn("lealone: final checkpoint failed", "err", err)
	}
	if err := srv.Stop(); err != nil {
		slog.Warn("lealone: rpc server shutdown", "err", err)
	}
	pool.CloseAll()
	sched.End()
	sched.Wait()
	slog.Info("lealone: stopped")
}

// setupSharding builds the ZooKeeper membership, replica-placement ring and
// the two move/quorum coordinators that sit in front of the local map under
// sharding mode. Grounded on the teacher's cmd/main.go ZK wiring, expanded
// from a single-owner Router to the replica-set coordinator spec.md §4.5
// requires.
func setupSharding(ctx context.Context, cfg config.Config) (*shardingEnv, error) {
	localAddr := os.Getenv("LEALONE_NODE_ADDR")
	if localAddr == "" {
		return nil, fmt.Errorf("LEALONE_NODE_ADDR is not set")
	}
	zkServersEnv := os.Getenv("LEALONE_ZK_SERVERS")
	if zkServersEnv == "" {
		return nil, fmt.Errorf("LEALONE_ZK_SERVERS is not set")
	}
	zkServers := strings.Split(zkServersEnv, ",")
	self := types.NodeID(localAddr)

	membership, err := replication.NewMembership(zkServers, "/lealone", self, cfg.Options.VirtualNodes())
	if err != nil {
		return nil, fmt.Errorf("connect to zookeeper: %w", err)
	}
	if err := membership.RegisterSelf(); err != nil {
		membership.Close()
		return nil, fmt.Errorf("register node in zookeeper: %w", err)
	}
	if err := membership.Watch(ctx); err != nil {
		membership.Close()
		return nil, fmt.Errorf("start membership watch: %w", err)
	}
	slog.Info("lealone: joined ring", "self", self, "members", membership.Ring().Members())

	directory := rpc.NewHTTPDirectory("http")
	n := cfg.Options.ReplicationFactor()
	maxTries := cfg.Options.MaxTries()
	sources := membershipRing{membership: membership}

	coord := replication.NewCoordinator(self, sources, directory, n, maxTries)
	move := replication.NewMoveCoordinator(self, directory, maxTries)
	splitMover := &replication.SplitMover{
		MapName:  kvMapName,
		Sources:  sources,
		N:        n,
		Mover:    move,
		CurHosts: func() []types.NodeID { return membership.Ring().Members() },
	}

	return &shardingEnv{membership: membership, coord: coord, move: move, splitMover: splitMover}, nil
}

// startCheckpointLoop runs a periodic pagestore.Store.Save of m's current
// root on its own goroutine until ctx is done, returning a stop function
// that waits for the goroutine to exit. Grounded on the teacher's
// pkg/store.flushLoop (a ticker-driven periodic persist of the active
// memtable), generalized from flushing a memtable to checkpointing a COW
// B-tree root.
func startCheckpointLoop(ctx context.Context, cfg config.Config, store *pagestore.Store, m *btree.Map) func() {
	interval := cfg.Options.LoopInterval("page_operation_handler_loop_interval", 1000)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := store.Save(m.Root(), m.Size(), m.MaxKeySeq().Val(), store.Replicas()); err != nil {
					slog.Warn("lealone: checkpoint failed", "err", err)
				}
			}
		}
	}()
	return func() { <-done }
}

// runStartupSmokeTransaction opens the engine's own map and commits one
// write through it, proving the transactional path (distinct from the
// directly registered kv map) is wired end to end before the server starts
// taking traffic.
func runStartupSmokeTransaction(engine *txn.Engine) {
	tx := engine.Begin()
	m := engine.OpenMap("txn-smoke", types.DefaultComparator{}, types.BinarySerializer{})
	if err := m.Put(tx, types.String("startup"), types.String("ok")); err != nil {
		slog.Warn("lealone: startup smoke transaction put failed", "err", err)
		tx.Rollback()
		return
	}
	if err := tx.Commit(); err != nil {
		slog.Warn("lealone: startup smoke transaction commit failed", "err", err)
		return
	}
	slog.Info("lealone: transaction engine smoke-tested")
}
