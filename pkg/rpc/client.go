package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"lealone/pkg/replication"
	"lealone/pkg/types"
)

// Client is the HTTP implementation of replication.Replica: every call
// marshals its request DTO, POSTs it to the owning node's pkg/rpc.Server,
// and decodes the flat Response envelope. Grounded on the teacher's
// internal/http client-side request helpers (same JSON-over-HTTP shape,
// generalized from one fixed endpoint to the map-scoped RPC routes
// createRouter mounts).
type Client struct {
	host       types.NodeID
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client addressing host's HTTP server at baseURL (e.g.
// "http://host:8080"). One Client serves every map name Dial is asked for,
// matching Directory's per-host (not per-map) caching.
func NewClient(host types.NodeID, baseURL string) *Client {
	return &Client{
		host:    host,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) HostID() types.NodeID { return c.host }

func (c *Client) endpoint(mapName, path string) string {
	return c.baseURL + "/maps/" + url.PathEscape(mapName) + path
}

func (c *Client) post(mapName, path string, req any) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("rpc: marshal request: %w", err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, c.endpoint(mapName, path), bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("rpc: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("rpc: %s %s: %w", c.host, path, err)
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("rpc: decode response from %s: %w", c.host, err)
	}
	if out.Status == StatusError {
		return out, fmt.Errorf("rpc: %s %s: %s", c.host, path, out.Error)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return out, fmt.Errorf("rpc: %s %s: http %d", c.host, path, resp.StatusCode)
	}
	return out, nil
}

func (c *Client) Get(mapName string, key types.Value) (types.Value, bool, error) {
	resp, err := c.post(mapName, "/get", getRequest{Key: key})
	if err != nil {
		return types.Value{}, false, err
	}
	return resp.Value, resp.Found, nil
}

func (c *Client) Put(rn types.ReplicationName, mapName string, key, value types.Value, addIfAbsent bool) (types.Value, bool, error) {
	resp, err := c.post(mapName, "/put", putRequest{Name: rn, Key: key, Value: value, AddIfAbsent: addIfAbsent})
	if err != nil {
		return types.Value{}, false, err
	}
	return resp.Old, resp.HadOld, nil
}

func (c *Client) Replace(rn types.ReplicationName, mapName string, key, oldValue, newValue types.Value) (bool, error) {
	resp, err := c.post(mapName, "/replace", replaceRequest{Name: rn, Key: key, OldValue: oldValue, NewValue: newValue})
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

func (c *Client) Remove(rn types.ReplicationName, mapName string, key types.Value) (types.Value, bool, error) {
	resp, err := c.post(mapName, "/remove", removeRequest{Name: rn, Key: key})
	if err != nil {
		return types.Value{}, false, err
	}
	return resp.Old, resp.HadOld, nil
}

func (c *Client) Append(rn types.ReplicationName, mapName string, value types.Value) (types.Value, error) {
	resp, err := c.post(mapName, "/append", appendRequest{Name: rn, Value: value})
	if err != nil {
		return types.Value{}, err
	}
	return resp.Key, nil
}

func (c *Client) PrepareMoveLeafPage(mapName string, plan replication.LeafPageMovePlan) (replication.LeafPageMovePlan, error) {
	resp, err := c.post(mapName, "/move/prepare", prepareMoveRequest{Plan: plan})
	if err != nil {
		return replication.LeafPageMovePlan{}, err
	}
	return resp.Plan, nil
}

func (c *Client) MoveLeafPage(mapName string, pageKey types.Value, page []byte, addPage bool) error {
	_, err := c.post(mapName, "/move/leaf", moveLeafRequest{PageKey: pageKey, Page: page, AddPage: addPage})
	return err
}

func (c *Client) RemoveLeafPage(mapName string, pageKey types.Value) error {
	_, err := c.post(mapName, "/move/remove-leaf", removeLeafRequest{PageKey: pageKey})
	return err
}

func (c *Client) ReadRemotePage(mapName string, pageKey types.Value) ([]byte, error) {
	resp, err := c.post(mapName, "/move/read", readRemoteRequest{PageKey: pageKey})
	if err != nil {
		return nil, err
	}
	return resp.Page, nil
}

func (c *Client) ReplicationCommit(mapName string, commit replication.ReplicationCommit) error {
	_, err := c.post(mapName, "/commit", replicationCommitRequest{Commit: commit})
	return err
}
