package planner

import (
	"context"

	"github.com/dreamware/docbase/internal/config"
	"github.com/dreamware/docbase/internal/dberr"
	"github.com/dreamware/docbase/internal/opctx"
	"github.com/dreamware/docbase/internal/pipeline"
)

// trialWorks bounds how many GetNext calls each candidate gets during
// ranking — enough to estimate productivity without running a plan to
// completion.
const trialWorks = 100

type trial struct {
	candidate  Candidate
	stage      pipeline.Stage
	reachedEOF bool
	done       bool // errored or reached EOF; no longer pulled in later rounds
}

// rank runs every candidate in lock-step for up to trialWorks pulls each,
// then picks a winner by productivity with tie-break chain.
// It returns the winning candidate's Shape and a freshly built Stage for
// it: rows pulled during the trial are discarded, so the trial stage itself
// is not handed back.
func rank(ctx context.Context, candidates []Candidate, cfg config.Options) (PlanShape, pipeline.Stage, error) {
	if len(candidates) == 1 {
		stage, err := candidates[0].Build(ctx)
		if err != nil {
			return PlanShape{}, nil, err
		}
		return candidates[0].Shape, stage, nil
	}

	trials := make([]*trial, 0, len(candidates))
	for _, c := range candidates {
		stage, err := c.Build(ctx)
		if err != nil {
			continue // a candidate that fails to even open (e.g. a dropped index) drops out of the race
		}
		trials = append(trials, &trial{candidate: c, stage: stage})
	}
	if len(trials) == 0 {
		return PlanShape{}, nil, dberr.New(dberr.KindIndexNotFound, "no candidate plan could be opened")
	}

	// Lock-step: one GetNext per candidate per round, so a candidate that
	// would burn its whole budget on a slow scan can't starve a co-ranked
	// candidate of the pulls it needs before either is eliminated.
	oc := opctx.New(ctx, opctx.NoYield, cfg)
	for i := uint64(0); i < trialWorks; i++ {
		allDone := true
		for _, t := range trials {
			if t.done {
				continue
			}
			_, result, err := t.stage.GetNext(oc)
			if err != nil {
				t.done = true
				continue
			}
			if result == pipeline.EOF {
				t.reachedEOF = true
				t.done = true
				continue
			}
			allDone = false
		}
		if allDone {
			break
		}
	}

	best := trials[0]
	for _, t := range trials[1:] {
		if better(t, best) {
			best = t
		}
	}
	stage, err := best.candidate.Build(ctx)
	if err != nil {
		return PlanShape{}, nil, err
	}
	return best.candidate.Shape, stage, nil
}

// better reports whether a beats b under ranking: primary
// comparator is productivity (advances/works); ties broken, in order, by
// EOF-within-budget, avoiding a blocking Sort, index-bounds prefix score,
// then lower document-fetch count.
func better(a, b *trial) bool {
	pa, pb := productivity(a), productivity(b)
	if pa != pb {
		return pa > pb
	}
	if a.reachedEOF != b.reachedEOF {
		return a.reachedEOF
	}
	if a.candidate.Shape.NeedsSort != b.candidate.Shape.NeedsSort {
		return !a.candidate.Shape.NeedsSort
	}
	if a.candidate.Shape.PrefixScore != b.candidate.Shape.PrefixScore {
		return a.candidate.Shape.PrefixScore > b.candidate.Shape.PrefixScore
	}
	return a.stage.Stats().DocsExamined < b.stage.Stats().DocsExamined
}

func productivity(t *trial) float64 {
	stats := t.stage.Stats()
	if stats.Works == 0 {
		return 0
	}
	return float64(stats.Advances) / float64(stats.Works)
}
