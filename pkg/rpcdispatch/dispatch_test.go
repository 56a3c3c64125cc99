package rpcdispatch

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vzdtic/raftcore/pkg/bus"
	"github.com/vzdtic/raftcore/pkg/dedup"
	"github.com/vzdtic/raftcore/pkg/id"
	"github.com/vzdtic/raftcore/pkg/logstore"
	"github.com/vzdtic/raftcore/pkg/raft"
	"github.com/vzdtic/raftcore/pkg/registry"
)

type noopTransport struct{}

func (noopTransport) SendRequestVote(ctx context.Context, peerAddr string, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	return nil, context.DeadlineExceeded
}
func (noopTransport) SendPreVote(ctx context.Context, peerAddr string, req *raft.PreVoteRequest) (*raft.PreVoteResponse, error) {
	return nil, context.DeadlineExceeded
}
func (noopTransport) SendAppendEntries(ctx context.Context, peerAddr string, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	return nil, context.DeadlineExceeded
}
func (noopTransport) SendInstallSnapshot(ctx context.Context, peerAddr string, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	return nil, context.DeadlineExceeded
}

type noopCustomTransport struct{}

func (noopCustomTransport) SendCustom(ctx context.Context, peerAddr string, msg *bus.Message) (*bus.Reply, bus.RemoteStatus, error) {
	return nil, 0, context.DeadlineExceeded
}

func newTestDispatcher(t *testing.T, acl *ACL) (*Dispatcher, *raft.Node, id.NodeID) {
	t.Helper()
	opts := raft.DefaultOptions()
	self := id.New()
	opts.MemberID = self
	reg := registry.New()
	n := raft.NewNode(opts, logstore.NewMemory(), logstore.NewMemorySnapshots(), reg, noopTransport{}, zerolog.Nop())
	b := bus.New(self, n, reg, noopCustomTransport{}, dedup.New(16, time.Minute), zerolog.Nop())
	d := New(n, b, reg, dedup.New(16, time.Minute), acl, zerolog.Nop())
	return d, n, self
}

func TestDispatchBlockedNetworkReturns403(t *testing.T) {
	acl, err := NewACL([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("unexpected ACL error: %v", err)
	}
	d, _, _ := newTestDispatcher(t, acl)

	resp := d.Dispatch(&Request{Kind: KindResign, RemoteIP: net.ParseIP("192.168.1.5")})
	if resp.Status != StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Status)
	}
}

func TestDispatchAllowedNetworkPasses(t *testing.T) {
	acl, err := NewACL([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("unexpected ACL error: %v", err)
	}
	d, _, _ := newTestDispatcher(t, acl)

	resp := d.Dispatch(&Request{Kind: KindResign, RemoteIP: net.ParseIP("10.1.2.3"), SenderKnown: true})
	if resp.Status != StatusSuccess {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
}

func TestDispatchNoACLAllowsEverything(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	resp := d.Dispatch(&Request{Kind: KindResign, RemoteIP: net.ParseIP("8.8.8.8"), SenderKnown: true})
	if resp.Status != StatusSuccess {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
}

func TestDispatchUnknownSenderReturns404(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	resp := d.Dispatch(&Request{Kind: KindResign, SenderKnown: false})
	if resp.Status != StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Status)
	}
}

func TestDispatchUnknownKindReturns400(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	resp := d.Dispatch(&Request{Kind: kindUnknown, SenderKnown: true})
	if resp.Status != StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Status)
	}
}

func TestDispatchRequestVoteRoutesToNode(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	resp := d.Dispatch(&Request{
		Kind:        KindRequestVote,
		SenderKnown: true,
		Vote:        &raft.RequestVoteRequest{CandidateID: id.New(), Term: 1},
	})
	if resp.Status != StatusSuccess || resp.Vote == nil || !resp.Vote.Granted {
		t.Fatalf("expected a granted vote response, got %+v", resp)
	}
}

func TestDispatchMetadataReturnsOperatorSetValues(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	d.SetMetadata(map[string]string{"zone": "us-east-1"})

	resp := d.Dispatch(&Request{Kind: KindMetadata, SenderKnown: true})
	if resp.Metadata["zone"] != "us-east-1" {
		t.Fatalf("expected metadata zone us-east-1, got %+v", resp.Metadata)
	}
}

func TestDispatchTouchesKnownSenderRegardlessOfOutcome(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	sender := id.New()
	d.registry.AddMember(sender, "addr", true)

	before := d.registry.TryGet(sender)
	if !before.LastContact().IsZero() {
		t.Fatal("expected zero lastContact before any touch")
	}

	d.Dispatch(&Request{Kind: KindResign, SenderID: sender, SenderKnown: true})

	after := d.registry.TryGet(sender)
	if after.LastContact().IsZero() {
		t.Fatal("expected lastContact to be set after dispatch touches a known sender")
	}
}

func TestDispatchCustomRequestReplyUnknownHandlerReturns501(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	resp := d.Dispatch(&Request{
		Kind:        KindCustom,
		SenderKnown: true,
		Custom:      &bus.Message{Name: "nope", Mode: bus.RequestReply},
	})
	if resp.Status != StatusNotImplemented {
		t.Fatalf("expected 501, got %d", resp.Status)
	}
}

func TestDispatchRateLimiterRejectsBurstOverflow(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	sender := id.New()
	d.registry.AddMember(sender, "addr", true)
	d.SetRateLimiter(NewRateLimiter(1, 1))

	first := d.Dispatch(&Request{Kind: KindResign, SenderID: sender, SenderKnown: true})
	require.Equal(t, StatusSuccess, first.Status)

	second := d.Dispatch(&Request{Kind: KindResign, SenderID: sender, SenderKnown: true})
	require.Equal(t, StatusServiceUnavailable, second.Status)
}

func TestDispatchRateLimiterTracksSendersIndependently(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	a, b := id.New(), id.New()
	d.registry.AddMember(a, "addr-a", true)
	d.registry.AddMember(b, "addr-b", true)
	d.SetRateLimiter(NewRateLimiter(1, 1))

	require.Equal(t, StatusSuccess, d.Dispatch(&Request{Kind: KindResign, SenderID: a, SenderKnown: true}).Status)
	require.Equal(t, StatusServiceUnavailable, d.Dispatch(&Request{Kind: KindResign, SenderID: a, SenderKnown: true}).Status)
	require.Equal(t, StatusSuccess, d.Dispatch(&Request{Kind: KindResign, SenderID: b, SenderKnown: true}).Status)
}

func TestACLEmptyAllowsEverything(t *testing.T) {
	acl, err := NewACL(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acl.Allow(net.ParseIP("1.2.3.4")) {
		t.Fatal("expected empty ACL to allow any IP")
	}
}

func TestACLReplaceIsAtomic(t *testing.T) {
	acl, err := NewACL([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acl.Allow(net.ParseIP("10.0.0.1")) {
		t.Fatal("expected 10.0.0.1 allowed before replace")
	}
	if err := acl.Replace([]string{"192.168.0.0/16"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acl.Allow(net.ParseIP("10.0.0.1")) {
		t.Fatal("expected 10.0.0.1 denied after replace")
	}
	if !acl.Allow(net.ParseIP("192.168.1.1")) {
		t.Fatal("expected 192.168.1.1 allowed after replace")
	}
}
