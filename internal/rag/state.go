package rag

import (
	"time"

	"github.com/knoguchi/cyberrag/internal/memory"
)

// Stage is a pipeline state. Runs move strictly forward:
// START → REWRITING → RETRIEVING → ASSEMBLING → GENERATING → DONE,
// or to FAILED from any non-terminal stage.
type Stage int

const (
	StageStart Stage = iota
	StageRewriting
	StageRetrieving
	StageAssembling
	StageGenerating
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageStart:      "START",
	StageRewriting:  "REWRITING",
	StageRetrieving: "RETRIEVING",
	StageAssembling: "ASSEMBLING",
	StageGenerating: "GENERATING",
	StageDone:       "DONE",
	StageFailed:     "FAILED",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "UNKNOWN"
	}
	return stageNames[s]
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// State is the record of one pipeline run. Each stage returns a new State;
// a State is never shared between runs.
type State struct {
	RunID         string
	Stage         Stage
	OriginalQuery string

	// History holds prior turns, most recent last, already windowed.
	History []memory.Turn

	RewrittenQuery   string
	RankedPassages   []ScoredPassage
	AssembledContext string
	Answer           string

	// Failure is set when Stage is StageFailed.
	Failure *StageError

	// Durations records how long each completed working stage took.
	Durations [StageDone]time.Duration
}

// Duration returns the time spent in stage s, or 0 if it did not complete.
func (st State) Duration(s Stage) time.Duration {
	if s < 0 || s >= StageDone {
		return 0
	}
	return st.Durations[s]
}

// Err returns the failure of a FAILED run, or nil.
func (st State) Err() error {
	if st.Failure == nil {
		return nil
	}
	return st.Failure
}
