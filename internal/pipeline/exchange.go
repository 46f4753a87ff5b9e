package pipeline

import (
	"bytes"
	"sync"

	"github.com/dreamware/docbase/internal/opctx"
)

// ExchangePolicy selects how Exchange routes each row to its consumers.
type ExchangePolicy uint8

const (
	// RoundRobin sends each row to the next consumer in rotation.
	RoundRobin ExchangePolicy = iota
	// Broadcast sends every row to every consumer.
	Broadcast
	// RangePolicy routes by Row.Key against a sorted boundary vector,
	// the shape a merge-sort-preserving fan-out needs.
	RangePolicy
)

type exchangeMsg struct {
	row    Row
	result StageResult
	err    error
}

// Exchange fans one child stage's output out to N consumer Stages
//, driven by a single background pump goroutine so that a
// slow consumer applies backpressure without starving the others more than
// its own queue depth allows.
type Exchange struct {
	child      Stage
	policy     ExchangePolicy
	boundaries [][]byte

	queues  []chan exchangeMsg
	startMu sync.Mutex
	started bool
	rr      int
}

// NewExchange builds an Exchange with n consumer queues. boundaries is only
// consulted under RangePolicy and must be sorted ascending.
func NewExchange(child Stage, policy ExchangePolicy, n int, boundaries [][]byte) *Exchange {
	queues := make([]chan exchangeMsg, n)
	for i := range queues {
		queues[i] = make(chan exchangeMsg, 64)
	}
	return &Exchange{child: child, policy: policy, boundaries: boundaries, queues: queues}
}

// Receiver returns the Stage a consumer numbered idx should pull from.
func (e *Exchange) Receiver(idx int) Stage {
	return &exchangeReceiver{ex: e, idx: idx}
}

func (e *Exchange) start(oc *opctx.OperationContext) {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.started {
		return
	}
	e.started = true
	go e.pump(oc)
}

func (e *Exchange) pump(oc *opctx.OperationContext) {
	for {
		row, result, err := e.child.GetNext(oc)
		if err != nil {
			e.broadcast(exchangeMsg{err: err})
			return
		}
		if result == Paused {
			continue
		}
		if result == EOF {
			e.broadcast(exchangeMsg{result: EOF})
			return
		}
		for _, idx := range e.route(row) {
			e.queues[idx] <- exchangeMsg{row: row, result: Advanced}
		}
	}
}

func (e *Exchange) broadcast(msg exchangeMsg) {
	for _, q := range e.queues {
		q <- msg
	}
}

func (e *Exchange) route(row Row) []int {
	switch e.policy {
	case Broadcast:
		all := make([]int, len(e.queues))
		for i := range all {
			all[i] = i
		}
		return all
	case RangePolicy:
		return []int{e.rangeIndex(row.Key)}
	default: // RoundRobin
		idx := e.rr % len(e.queues)
		e.rr++
		return []int{idx}
	}
}

// rangeIndex finds the partition whose boundary range contains key, via a
// linear scan of the (typically small) boundary vector.
func (e *Exchange) rangeIndex(key []byte) int {
	for i, b := range e.boundaries {
		if bytes.Compare(key, b) < 0 {
			return i
		}
	}
	return len(e.queues) - 1
}

type exchangeReceiver struct {
	ex    *Exchange
	idx   int
	done  bool
	stats Stats
}

func (r *exchangeReceiver) GetNext(oc *opctx.OperationContext) (Row, StageResult, error) {
	if r.done {
		bump(&r.stats, false)
		return Row{}, EOF, nil
	}
	r.ex.start(oc)
	msg := <-r.ex.queues[r.idx]
	if msg.err != nil {
		r.done = true
		return Row{}, Paused, msg.err
	}
	if msg.result == EOF {
		r.done = true
		bump(&r.stats, false)
		return Row{}, EOF, nil
	}
	bump(&r.stats, true)
	return msg.row, Advanced, nil
}

// SaveState/RestoreState are no-ops: an Exchange's in-flight queues are not
// resumable across a yield point in this reference implementation — a
// consumer that yields mid-exchange restarts its read from wherever the
// pump has gotten to, rather than a precise saved position.
func (r *exchangeReceiver) SaveState() error    { return nil }
func (r *exchangeReceiver) RestoreState() error { return nil }
func (r *exchangeReceiver) Stats() Stats        { return r.stats }
