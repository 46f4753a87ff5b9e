package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/btreeindex"
	"github.com/dreamware/docbase/internal/config"
	"github.com/dreamware/docbase/internal/dberr"
	"github.com/dreamware/docbase/internal/opctx"
	"github.com/dreamware/docbase/internal/pipeline"
	"github.com/dreamware/docbase/internal/planner"
	"github.com/dreamware/docbase/internal/queryexpr"
	"github.com/dreamware/docbase/internal/replset"
	"github.com/dreamware/docbase/internal/shardrouter"
	"github.com/dreamware/docbase/internal/storage"
	"github.com/dreamware/docbase/internal/storageengine"
	"github.com/dreamware/docbase/internal/writepath"
	"github.com/dreamware/docbase/pkg/wire"
)

// Server wires every core component behind one HTTP surface: the
// document CRUD + find API for clients, the replset heartbeat/election
// RPCs, and the shardrouter 2PC prepare/commit/abort RPCs. This is the
// single place in the repository where the independently-built packages
// meet: a thin mux plus handler functions closing over one long-lived
// struct.
type Server struct {
	cfg config.Options
	log *zap.Logger

	engine  storageengine.Engine
	catalog *writepath.Catalog
	oplog   *writepath.MemoryOplog
	wp      *writepath.WritePath
	plan    *planner.Planner

	replSet *replset.ReplSet
	router  *shardrouter.Router
	coord   *shardrouter.Coordinator
	txp     *shardrouter.TxnParticipant
	stage   *txnStage
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/collections/create", s.handleCreateCollection)
	mux.HandleFunc("/collections/createIndex", s.handleCreateIndex)
	mux.HandleFunc("/documents/insert", s.handleInsert)
	mux.HandleFunc("/documents/find", s.handleFind)
	mux.HandleFunc("/documents/update", s.handleUpdate)
	mux.HandleFunc("/documents/delete", s.handleDelete)

	mux.HandleFunc("/replset/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("/replset/requestVote", s.handleRequestVote)

	mux.HandleFunc("/shardrouter/prepareTransaction", s.handlePrepareTransaction)
	mux.HandleFunc("/shardrouter/commitTransaction", s.handleCommitTransaction)
	mux.HandleFunc("/shardrouter/abortTransaction", s.handleAbortTransaction)
	mux.HandleFunc("/shardrouter/stageWrite", s.handleStageWrite)
	mux.HandleFunc("/shardrouter/beginTransaction", s.handleBeginTransaction)
	mux.HandleFunc("/shardrouter/runTransaction", s.handleRunTransaction)
	mux.HandleFunc("/shardrouter/route", s.handleRoute)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	reply := wire.ErrorReply{Kind: "Internal", Message: err.Error()}
	status := http.StatusInternalServerError
	if dberrErr, ok := dberr.AsError(err); ok {
		reply.Kind = string(dberrErr.Kind)
		status = http.StatusBadRequest
		for _, l := range dberr.Labels(err, false) {
			reply.Labels = append(reply.Labels, string(l))
		}
	}
	writeJSON(w, status, reply)
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Collection string `json:"collection"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.CreateCollection(req.Collection); err != nil {
		writeError(w, err)
		return
	}
	s.catalog.CreateCollection(req.Collection)
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var req wire.CreateIndexRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pattern := make([]bsonkit.KeyPart, len(req.Pattern))
	for i, p := range req.Pattern {
		switch {
		case p.Hashed:
			pattern[i] = bsonkit.HashedPart(p.Path)
		case p.Desc:
			pattern[i] = bsonkit.Desc(p.Path)
		default:
			pattern[i] = bsonkit.Asc(p.Path)
		}
	}
	idx, err := btreeindex.New(req.Name, btreeindex.V1, req.Unique, pattern)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.catalog.CreateIndex(req.Collection, idx); err != nil {
		writeError(w, err)
		return
	}
	if err := s.catalog.MarkIndexBuilt(req.Collection, req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req wire.InsertRequest
	if !decodeBody(w, r, &req) {
		return
	}
	doc, err := wire.ToDocument(req.Document)
	if err != nil {
		writeError(w, dberr.Wrap(err, dberr.KindBadValue, "invalid document"))
		return
	}
	id, err := s.wp.Insert(r.Context(), req.Collection, doc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.InsertReply{RecordId: uint64(id)})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req wire.UpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	doc, err := wire.ToDocument(req.Document)
	if err != nil {
		writeError(w, dberr.Wrap(err, dberr.KindBadValue, "invalid document"))
		return
	}
	if err := s.wp.Update(r.Context(), req.Collection, storageengine.RecordId(req.RecordId), doc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req wire.DeleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.wp.Delete(r.Context(), req.Collection, storageengine.RecordId(req.RecordId)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	var req wire.FindRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pred, err := wire.ToDocument(req.Filter)
	if err != nil {
		writeError(w, dberr.Wrap(err, dberr.KindBadValue, "invalid filter"))
		return
	}
	cq, err := queryexpr.Compile(pred)
	if err != nil {
		writeError(w, err)
		return
	}

	sortFields := make([]planner.SortSpec, len(req.Sort))
	for i, term := range req.Sort {
		sortFields[i] = planner.SortSpec{Path: term.Field, Desc: term.Desc}
	}

	stage, shape, err := s.plan.Plan(r.Context(), req.Collection, cq, sortFields, req.Projection)
	if err != nil {
		writeError(w, err)
		return
	}

	oc := opctx.New(r.Context(), opctx.YieldAuto, s.cfg)
	docs := make([]wire.Doc, 0, 16)
	skipped := uint64(0)
	for {
		row, result, err := stage.GetNext(oc)
		if err != nil {
			writeError(w, err)
			return
		}
		switch result {
		case pipeline.EOF:
			writeJSON(w, http.StatusOK, wire.FindReply{Documents: docs, PlanShape: shape.String()})
			return
		case pipeline.Paused:
			continue
		case pipeline.Advanced:
			if req.Skip > 0 && skipped < req.Skip {
				skipped++
				continue
			}
			docs = append(docs, wire.FromDocument(row.Doc))
			if req.Limit > 0 && uint64(len(docs)) >= req.Limit {
				writeJSON(w, http.StatusOK, wire.FindReply{Documents: docs, PlanShape: shape.String()})
				return
			}
		}
	}
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req replset.HeartbeatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.replSet.HandleHeartbeat(req))
}

func (s *Server) handleRequestVote(w http.ResponseWriter, r *http.Request) {
	var req replset.VoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.replSet.HandleVoteRequest(req))
}

func (s *Server) handlePrepareTransaction(w http.ResponseWriter, r *http.Request) {
	var req shardrouter.PrepareRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.txp.HandlePrepare(r.Context(), req))
}

func (s *Server) handleCommitTransaction(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r)
}

func (s *Server) handleAbortTransaction(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req shardrouter.DecisionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.txp.HandleDecision(r.Context(), req))
}

func (s *Server) handleStageWrite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxnID      string  `json:"txnId"`
		Kind       string  `json:"kind"`
		Collection string  `json:"collection"`
		RecordId   uint64  `json:"recordId,omitempty"`
		Document   wire.Doc `json:"document,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	var doc *bsonkit.Document
	if req.Document != nil {
		var err error
		doc, err = wire.ToDocument(req.Document)
		if err != nil {
			writeError(w, dberr.Wrap(err, dberr.KindBadValue, "invalid document"))
			return
		}
	}
	s.stage.add(req.TxnID, stagedOp{
		kind:       req.Kind,
		collection: req.Collection,
		id:         storageengine.RecordId(req.RecordId),
		doc:        doc,
	})
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleBeginTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxnID        string                      `json:"txnId"`
		Participants []shardrouter.Participant `json:"participants"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.coord.Begin(req.TxnID, req.Participants); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleRunTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxnID string `json:"txnId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.coord.Run(r.Context(), req.TxnID); err != nil {
		writeError(w, err)
		return
	}
	status, err := s.coord.Status(req.TxnID)
	if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		State string `json:"state"`
	}{State: string(status)})
}

// handleRoute answers which shard(s) a predicate must be sent to, without
// itself dispatching the query — a router consulted as an oracle, not a
// proxy, for the chunk map lookups behind every cross-shard write.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter wire.Doc `json:"filter"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	pred, err := wire.ToDocument(req.Filter)
	if err != nil {
		writeError(w, dberr.Wrap(err, dberr.KindBadValue, "invalid filter"))
		return
	}
	dist, shard, version, err := s.router.Route(pred)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Distribution string              `json:"distribution"`
		Shard        string              `json:"shard,omitempty"`
		Version      dberr.ShardVersion `json:"version"`
	}{
		Distribution: map[shardrouter.Distribution]string{shardrouter.SingleShard: "single", shardrouter.Broadcast: "broadcast"}[dist],
		Shard:        shard,
		Version:      version,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorReply{Kind: string(dberr.KindBadValue), Message: err.Error()})
		return false
	}
	return true
}

