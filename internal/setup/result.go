package setup

import (
	"github.com/samber/lo"

	"go-mongodb-shard-setup/internal/operations"
	"go-mongodb-shard-setup/internal/sharding"
)

// Outcome classifies how one collection ended up.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Skipped   Outcome = "skipped"
	Failed    Outcome = "failed"
)

// Action is what a step did.
type Action string

const (
	ActionNoOp   Action = "no-op"
	ActionMutate Action = "mutate"
	ActionDryRun Action = "dry-run"
	ActionWarn   Action = "warn"
	ActionFailed Action = "failed"
)

// StepResult is the tagged result of one guarded step.
type StepResult struct {
	Step   string
	Action Action
	Detail string
	Err    error
}

func noop(step, detail string) StepResult {
	return StepResult{Step: step, Action: ActionNoOp, Detail: detail}
}

func mutated(step, detail string) StepResult {
	return StepResult{Step: step, Action: ActionMutate, Detail: detail}
}

func dryRun(step, detail string) StepResult {
	return StepResult{Step: step, Action: ActionDryRun, Detail: detail}
}

func warned(step string, err error) StepResult {
	return StepResult{Step: step, Action: ActionWarn, Detail: err.Error(), Err: err}
}

func failed(step string, err error) StepResult {
	return StepResult{Step: step, Action: ActionFailed, Detail: err.Error(), Err: err}
}

// Result is the outcome of one collection's pipeline.
type Result struct {
	Collection string
	Namespace  string
	Outcome    Outcome
	Reason     string
	Chunks     int64
	Steps      []StepResult
}

// Mutations returns the steps that changed (or in dry-run would have
// changed) the cluster.
func (r *Result) Mutations() []StepResult {
	return lo.Filter(r.Steps, func(s StepResult, _ int) bool {
		return s.Action == ActionMutate || s.Action == ActionDryRun
	})
}

// Verification is the post-run state of one collection.
type Verification struct {
	Collection string
	Namespace  string
	Sharded    bool
	Key        sharding.Keys
	Chunks     *operations.ChunkInfo
	Stats      *sharding.CollStats
	Imbalance  float64
	Errors     []string
}

// Counts tallies outcomes.
type Counts struct {
	Succeeded int
	Skipped   int
	Failed    int
}

// Total is the number of collections counted.
func (c Counts) Total() int {
	return c.Succeeded + c.Skipped + c.Failed
}

// Report is everything printed at the end of a run.
type Report struct {
	Database      string
	DryRun        bool
	InitialChunks int
	ChunkSizeMB   int64
	Results       []Result
	Verifications []Verification
}

// Counts returns succeeded/skipped/failed totals over Results.
func (r *Report) Counts() Counts {
	var c Counts
	for _, res := range r.Results {
		switch res.Outcome {
		case Succeeded:
			c.Succeeded++
		case Skipped:
			c.Skipped++
		default:
			c.Failed++
		}
	}
	return c
}

// Result returns the result for a collection name.
func (r *Report) Result(collection string) (Result, bool) {
	return lo.Find(r.Results, func(res Result) bool { return res.Collection == collection })
}

// ByOutcome returns the collection names with the given outcome.
func (r *Report) ByOutcome(o Outcome) []string {
	return lo.FilterMap(r.Results, func(res Result, _ int) (string, bool) {
		return res.Collection, res.Outcome == o
	})
}
