package transport

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/vzdtic/raftcore/pkg/bus"
	"github.com/vzdtic/raftcore/pkg/id"
	"github.com/vzdtic/raftcore/pkg/raft"
	"github.com/vzdtic/raftcore/pkg/registry"
	"github.com/vzdtic/raftcore/pkg/rpcdispatch"
)

// Server is the inbound half of the HTTP transport: it decodes each
// RPC kind from its own path and hands a rpcdispatch.Request to the
// Dispatcher, then writes the dispatcher's status code and reply back
// onto the wire (spec.md §4.7).
type Server struct {
	dispatcher *rpcdispatch.Dispatcher
	registry   *registry.Registry
	logger     zerolog.Logger
	mux        *http.ServeMux
}

// NewServer builds a Server routing to dispatcher.
func NewServer(dispatcher *rpcdispatch.Dispatcher, reg *registry.Registry, logger zerolog.Logger) *Server {
	s := &Server{dispatcher: dispatcher, registry: reg, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc(pathRequestVote, s.handleRequestVote)
	s.mux.HandleFunc(pathPreVote, s.handlePreVote)
	s.mux.HandleFunc(pathAppendEntries, s.handleAppendEntries)
	s.mux.HandleFunc(pathInstallSnapshot, s.handleInstallSnapshot)
	s.mux.HandleFunc(pathCustom, s.handleCustom)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) remoteIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

func (s *Server) senderInfo(senderID id.NodeID) bool {
	return s.registry.TryGet(senderID) != nil
}

func writeJSONStatus(w http.ResponseWriter, httpStatus int, body any) {
	if httpStatus == http.StatusNoContent || body == nil {
		w.WriteHeader(httpStatus)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(body)
}

func wireStatus(s rpcdispatch.StatusCode) int { return int(s) }

func (s *Server) handleRequestVote(w http.ResponseWriter, r *http.Request) {
	var req raft.RequestVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	resp := s.dispatcher.Dispatch(&rpcdispatch.Request{
		Kind:        rpcdispatch.KindRequestVote,
		RemoteIP:    s.remoteIP(r),
		SenderID:    req.CandidateID,
		SenderKnown: s.senderInfo(req.CandidateID),
		Vote:        &req,
	})
	writeJSONStatus(w, wireStatus(resp.Status), resp.Vote)
}

func (s *Server) handlePreVote(w http.ResponseWriter, r *http.Request) {
	var req raft.PreVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	resp := s.dispatcher.Dispatch(&rpcdispatch.Request{
		Kind:        rpcdispatch.KindPreVote,
		RemoteIP:    s.remoteIP(r),
		SenderID:    req.CandidateID,
		SenderKnown: s.senderInfo(req.CandidateID),
		PreVote:     &req,
	})
	writeJSONStatus(w, wireStatus(resp.Status), resp.PreVote)
}

func (s *Server) handleAppendEntries(w http.ResponseWriter, r *http.Request) {
	var req raft.AppendEntriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	resp := s.dispatcher.Dispatch(&rpcdispatch.Request{
		Kind:          rpcdispatch.KindAppendEntries,
		RemoteIP:      s.remoteIP(r),
		SenderID:      req.LeaderID,
		SenderKnown:   s.senderInfo(req.LeaderID),
		AppendEntries: &req,
	})
	writeJSONStatus(w, wireStatus(resp.Status), resp.AppendEntries)
}

func (s *Server) handleInstallSnapshot(w http.ResponseWriter, r *http.Request) {
	var req raft.InstallSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	resp := s.dispatcher.Dispatch(&rpcdispatch.Request{
		Kind:            rpcdispatch.KindInstallSnapshot,
		RemoteIP:        s.remoteIP(r),
		SenderID:        req.LeaderID,
		SenderKnown:     s.senderInfo(req.LeaderID),
		InstallSnapshot: &req,
	})
	writeJSONStatus(w, wireStatus(resp.Status), resp.InstallSnapshot)
}

func (s *Server) handleCustom(w http.ResponseWriter, r *http.Request) {
	var msg bus.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	resp := s.dispatcher.Dispatch(&rpcdispatch.Request{
		Kind:        rpcdispatch.KindCustom,
		RemoteIP:    s.remoteIP(r),
		SenderID:    msg.SenderID,
		SenderKnown: s.senderInfo(msg.SenderID),
		Custom:      &msg,
	})
	writeJSONStatus(w, wireStatus(resp.Status), resp.CustomReply)
}
