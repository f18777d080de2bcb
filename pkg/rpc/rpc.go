// Package rpc implements the external HTTP surface (health, metrics, and
// the client-facing key/value operations) together with the logical
// replication RPCs of spec.md §6 (get/put/append/replace/remove,
// prepareMoveLeafPage/moveLeafPage/removeLeafPage/readRemotePage,
// replicationCommit), serving them over the same chi router. Grounded on
// the teacher's internal/http/server.go (router construction, JSON
// response helpers, graceful shutdown) and response.go (the Status/Response
// shape), generalized from a single fixed key/value store to a registry of
// named maps addressed by mapName, and from a raft-only write path to one
// that optionally fans out through pkg/replication.Coordinator.
package rpc

import (
	"time"
)

const (
	contentTypeJSON        = "application/json"
	defaultHTTPPort        = "8080"
	defaultShutdownTimeout = time.Second * 5
)
