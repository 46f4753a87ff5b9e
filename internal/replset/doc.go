// Package replset implements the replica-set membership, heartbeat, and
// primary-election state machine: member states, periodic heartbeats
// carrying each sender's state/optime/config version/cluster time, election
// preconditions and split-brain detection, the majority commit point, a
// gossiped cluster time signed by a rotating key manager, and rollback of
// diverged local writes after a new primary wins with a higher term.
package replset
