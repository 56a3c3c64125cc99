// Package transport implements the HTTP-style wire transport: a
// Client satisfying both raft.Transport (the four peer-to-peer Raft
// RPCs) and bus.LeaderTransport (the Custom application message), and
// a Server that decodes inbound requests and hands them to the RPC
// Dispatcher. Framing, TLS, and wire serialization are this package's
// concern; the core (raft/bus/rpcdispatch) never touches a socket.
//
// Grounded on the teacher's pkg/api/http.go (plain net/http, JSON
// bodies, one path per operation) generalized from a KV-store API
// into the four peer-to-peer Raft RPCs plus the Custom bus message.
// Resign and Metadata have no HTTP path; the Dispatcher serves them
// only to in-process callers.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vzdtic/raftcore/pkg/bus"
	"github.com/vzdtic/raftcore/pkg/raft"
)

const (
	pathRequestVote    = "/raft/request-vote"
	pathPreVote        = "/raft/pre-vote"
	pathAppendEntries  = "/raft/append-entries"
	pathInstallSnapshot = "/raft/install-snapshot"
	pathCustom         = "/bus/custom"
)

// Client is the outbound half of the HTTP transport.
type Client struct {
	hc *http.Client
}

// NewClient builds a Client using hc, or a default client if hc is nil.
func NewClient(hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{hc: hc}
}

func (c *Client) postJSON(ctx context.Context, peerAddr, path string, body, out any) (int, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return 0, fmt.Errorf("transport: encode request: %w", err)
	}
	url := "http://" + peerAddr + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return 0, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("transport: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// SendRequestVote implements raft.Transport.
func (c *Client) SendRequestVote(ctx context.Context, peerAddr string, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	var out raft.RequestVoteResponse
	if _, err := c.postJSON(ctx, peerAddr, pathRequestVote, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendPreVote implements raft.Transport.
func (c *Client) SendPreVote(ctx context.Context, peerAddr string, req *raft.PreVoteRequest) (*raft.PreVoteResponse, error) {
	var out raft.PreVoteResponse
	if _, err := c.postJSON(ctx, peerAddr, pathPreVote, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendAppendEntries implements raft.Transport.
func (c *Client) SendAppendEntries(ctx context.Context, peerAddr string, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	var out raft.AppendEntriesResponse
	if _, err := c.postJSON(ctx, peerAddr, pathAppendEntries, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendInstallSnapshot implements raft.Transport.
func (c *Client) SendInstallSnapshot(ctx context.Context, peerAddr string, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	var out raft.InstallSnapshotResponse
	if _, err := c.postJSON(ctx, peerAddr, pathInstallSnapshot, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// customWireStatus mirrors the status codes the receiver's RPC
// Dispatcher wrote, so SendCustom can translate them back into
// bus.RemoteStatus for the leader-router loop (spec.md §4.7 table).
func customWireStatus(httpStatus int) bus.RemoteStatus {
	switch httpStatus {
	case http.StatusOK:
		return bus.StatusOK
	case http.StatusNoContent:
		return bus.StatusAccepted
	case http.StatusBadRequest:
		return bus.StatusBadRequest
	case http.StatusNotFound:
		return bus.StatusNotFound
	case http.StatusNotImplemented:
		return bus.StatusNotImplemented
	case http.StatusForbidden:
		return bus.StatusForbidden
	case http.StatusServiceUnavailable:
		return bus.StatusServiceUnavailable
	default:
		return bus.StatusBadRequest
	}
}

// SendCustom implements bus.LeaderTransport.
func (c *Client) SendCustom(ctx context.Context, peerAddr string, msg *bus.Message) (*bus.Reply, bus.RemoteStatus, error) {
	var out bus.Reply
	status, err := c.postJSON(ctx, peerAddr, pathCustom, msg, &out)
	// Non-success statuses carry no body, so a decode error there is
	// expected; the status itself is the answer.
	if err != nil && (status == 0 || status == http.StatusOK) {
		return nil, 0, err
	}
	wireStatus := customWireStatus(status)
	if wireStatus != bus.StatusOK && wireStatus != bus.StatusAccepted {
		return nil, wireStatus, nil
	}
	return &out, wireStatus, nil
}
