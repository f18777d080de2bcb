package rpc

import (
	"lealone/pkg/replication"
	"lealone/pkg/types"
)

// Response is the JSON envelope for every handler below; only the fields
// relevant to a given RPC are populated, matching the teacher's
// "one flat struct reused across handlers" Response shape.
type Response struct {
	Status Status `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`

	Value  types.Value `json:"value"`
	Found  bool        `json:"found,omitempty"`
	Old    types.Value `json:"old"`
	HadOld bool        `json:"hadOld,omitempty"`
	Key    types.Value `json:"key"`
	OK     bool        `json:"ok,omitempty"`

	Plan replication.LeafPageMovePlan `json:"plan"`
	Page []byte                      `json:"page,omitempty"`
}

type getRequest struct {
	Key types.Value `json:"key"`
}

type putRequest struct {
	Name        types.ReplicationName `json:"name"`
	Key         types.Value           `json:"key"`
	Value       types.Value           `json:"value"`
	AddIfAbsent bool                  `json:"addIfAbsent"`
}

type replaceRequest struct {
	Name     types.ReplicationName `json:"name"`
	Key      types.Value           `json:"key"`
	OldValue types.Value           `json:"oldValue"`
	NewValue types.Value           `json:"newValue"`
}

type removeRequest struct {
	Name types.ReplicationName `json:"name"`
	Key  types.Value           `json:"key"`
}

type appendRequest struct {
	Name  types.ReplicationName `json:"name"`
	Value types.Value           `json:"value"`
}

type prepareMoveRequest struct {
	Plan replication.LeafPageMovePlan `json:"plan"`
}

type moveLeafRequest struct {
	PageKey types.Value `json:"pageKey"`
	Page    []byte      `json:"page"`
	AddPage bool        `json:"addPage"`
}

type removeLeafRequest struct {
	PageKey types.Value `json:"pageKey"`
}

type readRemoteRequest struct {
	PageKey types.Value `json:"pageKey"`
}

type replicationCommitRequest struct {
	Commit replication.ReplicationCommit `json:"commit"`
}
