// Command dbnode runs one replica-set member / shard of the document
// storage and indexed query engine.
//
//	+-------------------------------------------------------------+
//	|                           dbnode                             |
//	|                                                               |
//	|  HTTP mux                                                    |
//	|   /documents/*        --> writepath.WritePath, planner.Planner|
//	|   /collections/*      --> writepath.Catalog                  |
//	|   /replset/*          --> replset.ReplSet                    |
//	|   /shardrouter/*      --> shardrouter.Router/Coordinator/     |
//	|                           TxnParticipant                     |
//	|                                                               |
//	|  storageengine.MemoryEngine  <-- btreeindex, writepath         |
//	|  storage.MemoryStore          <-- shardrouter durable records |
//	+-------------------------------------------------------------+
//
// Configuration is read from the environment (there is no CLI flag parsing
// or config file loading):
//
//	NODE_ID          this member's id (required)
//	NODE_LISTEN      address to listen on (default ":8081")
//	NODE_ADDR        this member's address as seen by peers (default "http://127.0.0.1:8081")
//	SHARD_ID         this member's shard id for shardrouter routing (default NODE_ID)
//	PEERS            comma-separated id=addr pairs of every replica-set member, including self
//
// Example:
//
//	NODE_ID=node-a NODE_LISTEN=:8081 NODE_ADDR=http://127.0.0.1:8081 \
//	PEERS=node-a=http://127.0.0.1:8081,node-b=http://127.0.0.1:8082 \
//	  dbnode
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/config"
	"github.com/dreamware/docbase/internal/planner"
	"github.com/dreamware/docbase/internal/replset"
	"github.com/dreamware/docbase/internal/shardrouter"
	"github.com/dreamware/docbase/internal/storage"
	"github.com/dreamware/docbase/internal/storageengine"
	"github.com/dreamware/docbase/internal/writepath"
)

// logFatal is a package var so tests can stub out the fatal exit path.
var logFatal = log.Fatalf

func main() {
	nodeID := mustGetenv("NODE_ID")
	listen := getenv("NODE_LISTEN", ":8081")
	public := getenv("NODE_ADDR", "http://127.0.0.1:8081")
	shardID := getenv("SHARD_ID", nodeID)
	peers := parsePeers(getenv("PEERS", nodeID+"="+public))

	zlog, err := zap.NewProduction()
	if err != nil {
		logFatal("building logger: %v", err)
	}
	defer zlog.Sync() //nolint:errcheck

	cfg := config.New()

	engine := storageengine.NewMemoryEngine()
	catalog := writepath.NewCatalog()
	oplog := writepath.NewMemoryOplog()
	wp := writepath.New(engine, catalog, oplog, cfg, zlog)
	plan := planner.New(engine, plannerCatalog{catalog: catalog}, cfg, zlog)
	catalog.OnInvalidate = plan.InvalidateCollection

	keyManager, err := replset.NewKeyManager(cfg.SigningKeyRotationInterval)
	if err != nil {
		logFatal("building key manager: %v", err)
	}
	members := make([]*replset.Member, 0, len(peers))
	for id, addr := range peers {
		members = append(members, &replset.Member{ID: id, Addr: addr, Voting: true, Priority: 1})
	}
	rs := replset.New(nodeID, members, keyManager, cfg, zlog)

	router := shardrouter.NewRouter([]bsonkit.KeyPart{bsonkit.Asc("_shardKey")}, shardID)
	coordStore := storage.NewMemoryStore()
	coord := shardrouter.NewCoordinator(coordStore, zlog)

	stage := newTxnStage()
	participantStore := storage.NewMemoryStore()
	txp := shardrouter.NewTxnParticipant(participantStore, stage.prepareFn(rs), stage.commitFn(wp), stage.abortFn())

	srv := &Server{
		cfg:     cfg,
		log:     zlog,
		engine:  engine,
		catalog: catalog,
		oplog:   oplog,
		wp:      wp,
		plan:    plan,
		replSet: rs,
		router:  router,
		coord:   coord,
		txp:     txp,
		stage:   stage,
	}

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           srv.mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go rs.Start(ctx)

	go func() {
		log.Printf("dbnode[%s] listening on %s (public %s, shard %s)", nodeID, listen, public, shardID)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cancel()
	rs.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	log.Println("dbnode stopped")
}

func parsePeers(spec string) map[string]string {
	peers := make(map[string]string)
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		peers[parts[0]] = parts[1]
	}
	return peers
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func mustGetenv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		logFatal("missing required environment variable %s", key)
	}
	return v
}
