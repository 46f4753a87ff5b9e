// Package cluster holds the JSON message types and the HTTP helpers that
// docbase members use to talk to each other.
//
// # Contents
//
// NodeInfo, RegisterRequest and BroadcastRequest are plain JSON message
// shapes: a node's identity, address and health fields; a registration
// body wrapping a NodeInfo; and a broadcast body carrying a target path
// and a raw JSON payload. The package defines the messages only; no
// handler in this repository serves registration, health-check or
// broadcast endpoints.
//
// PostJSON and GetJSON send one JSON request over a shared http.Client
// with a 5-second timeout, treat a status code of 300 or above as an
// error, and decode the JSON reply into the caller's value. PostJSON is
// the transport for internal/replset's heartbeat and vote RPCs and for
// internal/shardrouter's two-phase-commit prepare and decision RPCs.
//
// # Concurrency
//
// PostJSON and GetJSON are safe for concurrent use. The message types
// carry no locks; a value shared between goroutines needs the caller's
// own synchronization.
//
// # Usage Example
//
//	node := NodeInfo{ID: "node-1", Addr: "localhost:8081"}
//	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
//	defer cancel()
//	var reply map[string]any
//	if err := PostJSON(ctx, "http://node-2:8081/example", node, &reply); err != nil {
//	    log.Printf("request failed: %v", err)
//	}
//
// # Testing
//
//	go test ./internal/cluster/... -cover
package cluster
