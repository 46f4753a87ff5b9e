package pipeline

import (
	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/opctx"
)

// AccumulatorKind names one of the per-group accumulator shapes a Group
// stage supports.
type AccumulatorKind uint8

const (
	AccSum AccumulatorKind = iota
	AccMin
	AccMax
	AccFirst
	AccLast
	AccPush
	AccAddToSet
)

// AccumulatorSpec names one output field of a Group stage: which field of
// the input document to fold (Path, empty meaning "count" via AccSum of 1),
// how to fold it, and the output field name (As).
type AccumulatorSpec struct {
	Kind AccumulatorKind
	Path string
	As   string
}

// GroupSpec configures a Group stage: the expression to group by (KeyPath,
// empty meaning "one group for the whole input") and its accumulators.
type GroupSpec struct {
	KeyPath      string
	Accumulators []AccumulatorSpec
}

type groupState struct {
	key   bsonkit.Value
	value map[string]bsonkit.Value
	seen  map[string][]bsonkit.Value // for AccAddToSet dedup, per As
}

// Group is a hash-based aggregation stage keyed by GroupSpec.KeyPath, with
// per-key accumulators tracked against a shared MemoryTracker. This
// in-memory implementation surfaces OutOfMemory once the
// tracker's budget is exhausted rather than spilling partial groups to
// disk — see DESIGN.md for why Group's spill path is out of scope here.
type Group struct {
	child   Stage
	spec    GroupSpec
	tracker *MemoryTracker

	order       []string
	groups      map[string]*groupState
	tokens      []*Token
	output      []Row
	pos         int
	initialized bool
	stats       Stats
}

// NewGroup wraps child, aggregating per spec and charging memory against
// tracker.
func NewGroup(child Stage, spec GroupSpec, tracker *MemoryTracker) *Group {
	return &Group{child: child, spec: spec, groups: make(map[string]*groupState), tracker: tracker}
}

func (g *Group) GetNext(oc *opctx.OperationContext) (Row, StageResult, error) {
	if !g.initialized {
		if err := g.drain(oc); err != nil {
			return Row{}, Paused, err
		}
		g.initialized = true
	}
	if g.pos >= len(g.output) {
		bump(&g.stats, false)
		return Row{}, EOF, nil
	}
	row := g.output[g.pos]
	g.pos++
	bump(&g.stats, true)
	return row, Advanced, nil
}

func (g *Group) drain(oc *opctx.OperationContext) error {
	for {
		row, result, err := g.child.GetNext(oc)
		if err != nil {
			return err
		}
		if result == Paused {
			continue
		}
		if result == EOF {
			break
		}
		if err := g.fold(row.Doc); err != nil {
			return err
		}
	}

	g.output = make([]Row, 0, len(g.order))
	for _, k := range g.order {
		st := g.groups[k]
		fields := []bsonkit.Field{bsonkit.F("_id", st.key)}
		for _, acc := range g.spec.Accumulators {
			fields = append(fields, bsonkit.F(acc.As, st.value[acc.As]))
		}
		g.output = append(g.output, Row{Doc: bsonkit.NewDocument(fields...)})
	}
	return nil
}

func (g *Group) fold(doc *bsonkit.Document) error {
	keyVal := bsonkit.Null()
	if g.spec.KeyPath != "" {
		vals, _ := bsonkit.ExpandPath(doc, g.spec.KeyPath)
		if len(vals) > 0 {
			keyVal = vals[0]
		}
	}
	keyBytes := string(bsonkit.EncodeValues([]bsonkit.Value{keyVal}, nil))

	st, ok := g.groups[keyBytes]
	if !ok {
		tok, err := g.tracker.Reserve(groupOverhead)
		if err != nil {
			return err
		}
		g.tokens = append(g.tokens, tok)
		st = &groupState{key: keyVal, value: make(map[string]bsonkit.Value), seen: make(map[string][]bsonkit.Value)}
		g.groups[keyBytes] = st
		g.order = append(g.order, keyBytes)
	}

	for _, acc := range g.spec.Accumulators {
		var input bsonkit.Value
		if acc.Path == "" {
			input = bsonkit.Int64(1)
		} else {
			vals, _ := bsonkit.ExpandPath(doc, acc.Path)
			if len(vals) == 0 {
				continue
			}
			input = vals[0]
		}
		if err := g.accumulate(st, acc, input); err != nil {
			return err
		}
	}
	return nil
}

// groupOverhead is the flat per-group memory charge this reference
// implementation books against the tracker (bucket bookkeeping plus the
// _id key); accumulator growth is charged separately as it happens.
const groupOverhead = 64

func (g *Group) accumulate(st *groupState, acc AccumulatorSpec, input bsonkit.Value) error {
	switch acc.Kind {
	case AccSum:
		cur, ok := st.value[acc.As].AsNumber()
		if !ok {
			cur = 0
		}
		n, _ := input.AsNumber()
		st.value[acc.As] = bsonkit.Double(cur + n)
	case AccMin:
		if existing, ok := st.value[acc.As]; !ok || bsonkit.Compare(input, existing) < 0 {
			st.value[acc.As] = input
		}
	case AccMax:
		if existing, ok := st.value[acc.As]; !ok || bsonkit.Compare(input, existing) > 0 {
			st.value[acc.As] = input
		}
	case AccFirst:
		if _, ok := st.value[acc.As]; !ok {
			st.value[acc.As] = input
		}
	case AccLast:
		st.value[acc.As] = input
	case AccPush:
		tok, err := g.tracker.Reserve(estimateValueSize(input))
		if err != nil {
			return err
		}
		g.tokens = append(g.tokens, tok)
		arr, _ := st.value[acc.As].AsArray()
		st.value[acc.As] = bsonkit.Array(append(arr, input))
	case AccAddToSet:
		existing := st.seen[acc.As]
		for _, v := range existing {
			if bsonkit.Equal(v, input) {
				return nil
			}
		}
		tok, err := g.tracker.Reserve(estimateValueSize(input))
		if err != nil {
			return err
		}
		g.tokens = append(g.tokens, tok)
		st.seen[acc.As] = append(existing, input)
		arr, _ := st.value[acc.As].AsArray()
		st.value[acc.As] = bsonkit.Array(append(arr, input))
	}
	return nil
}

func estimateValueSize(v bsonkit.Value) uint64 {
	switch v.Kind {
	case bsonkit.KindString:
		s, _ := v.AsString()
		return uint64(len(s)) + 16
	case bsonkit.KindBinary:
		b, _ := v.AsBinary()
		return uint64(len(b)) + 16
	default:
		return 32
	}
}

func (g *Group) SaveState() error    { return g.child.SaveState() }
func (g *Group) RestoreState() error { return g.child.RestoreState() }
func (g *Group) Stats() Stats        { return g.stats }
