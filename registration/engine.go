package registration

import (
	"fmt"
	"io"
	"reflect"
	"runtime"

	"github.com/charmbracelet/log"
)

// State is the iteration controller state.
type State int

const (
	StateReady State = iota
	StateIterating
	StateConverged
	StateMaxIterationsReached
	StateDiverged
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateIterating:
		return "iterating"
	case StateConverged:
		return "converged"
	case StateMaxIterationsReached:
		return "max_iterations_reached"
	case StateDiverged:
		return "diverged"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for c := StateReady; c <= StateDiverged; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown registration state %q", text)
}

// RegistrationResult is the outcome of one Align call.
type RegistrationResult struct {
	Transform     RigidTransform `json:"transform"`     // cumulative source-to-target transform
	FitnessScore  float64        `json:"fitnessScore"`  // mean squared nearest-neighbour distance
	Converged     bool           `json:"converged"`     // see Engine.Align
	IterationsRun uint           `json:"iterationsRun"` // iterations performed by this call
	State         State          `json:"state"`
}

// IterationReport records one completed iteration.
type IterationReport struct {
	Iteration       uint    `json:"iteration"`
	Fitness         float64 `json:"fitness"`
	Correspondences int     `json:"correspondences"`
	RotationStep    float64 `json:"rotationStep"`
	TranslationStep float64 `json:"translationStep"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets how many goroutines run nearest-neighbour queries.
// Values below 1 mean sequential.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithRejector installs a correspondence rejector applied before estimation.
func WithRejector(r Rejector) Option {
	return func(e *Engine) {
		if r != nil {
			e.rejector = r
		}
	}
}

// WithDivergenceFactor enables the divergence guard: an iteration whose
// fitness exceeds factor times the fitness at load time ends the call in
// StateDiverged. Zero disables the guard.
func WithDivergenceFactor(factor float64) Option {
	return func(e *Engine) { e.divergenceFactor = factor }
}

// WithStrictConvergence makes StateMaxIterationsReached report Converged=false.
func WithStrictConvergence(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
}

// WithLogger sets the logger used for per-iteration debug output.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine runs point-to-point ICP. It owns a working copy of the source that
// persists across Align calls, so a caller can step the registration one
// iteration at a time. An Engine is not safe for concurrent use.
type Engine struct {
	workers          int
	rejector         Rejector
	divergenceFactor float64
	strict           bool
	logger           *log.Logger

	source  PointSet
	index   NeighborIndex
	working PointSet
	corrs   []Correspondence

	cumulative     RigidTransform
	fitness        float64
	initialFitness float64
	state          State
	total          uint
	history        []IterationReport

	saved snapshot
}

// snapshot is the engine state at the start of an Align call, restored when
// the call fails. Its buffers are reused between calls.
type snapshot struct {
	source         PointSet
	index          NeighborIndex
	working        PointSet
	corrs          []Correspondence
	cumulative     RigidTransform
	fitness        float64
	initialFitness float64
	state          State
	total          uint
	historyLen     int
}

// NewEngine creates an engine in StateReady.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		workers:    runtime.NumCPU(),
		rejector:   NoRejection{},
		logger:     log.New(io.Discard),
		cumulative: Identity(),
		state:      StateReady,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Align runs up to maxIterations ICP iterations of source against the target
// held by index.
//
// When source (the same slice) and index are the pair loaded by the previous
// call, Align continues from the persisted working copy and cumulative
// transform. Otherwise the pair is loaded: source is copied into the engine's
// working buffer (the caller's slice is never modified) and the cumulative
// transform is reset to identity. Indexes are matched by identity: pointers
// and other comparable values with ==, slice, map and func based indexes by
// their underlying data.
//
// Each iteration estimates an increment from the current correspondences,
// applies it to the working copy, composes it into the cumulative transform
// and recomputes the fitness from fresh correspondences. The call stops when
//
//   - 0 <= previous fitness - fitness < epsilonFitness, or the increment's
//     rotation angle and translation norm are both below epsilonTransform
//     (StateConverged);
//   - the divergence guard trips (StateDiverged);
//   - maxIterations iterations ran (StateMaxIterationsReached). Converged is
//     true here unless strict convergence is enabled.
//
// maxIterations == 0 runs nothing and reports the current state. On error the
// engine is restored to its state before the call and no result is returned.
func (e *Engine) Align(source PointSet, index NeighborIndex, maxIterations uint, epsilonFitness, epsilonTransform float64) (RegistrationResult, error) {
	if len(source) == 0 {
		return RegistrationResult{}, fmt.Errorf("align: source: %w", ErrEmptyInput)
	}
	if index == nil || index.Len() == 0 {
		return RegistrationResult{}, fmt.Errorf("align: target: %w", ErrEmptyInput)
	}

	e.save()

	if !sameSet(e.source, source) || !sameIndex(e.index, index) {
		if err := e.load(source, index); err != nil {
			e.restore()
			return RegistrationResult{}, fmt.Errorf("align: %w", err)
		}
	}

	if maxIterations == 0 {
		return e.result(0), nil
	}

	target := index.Points()
	e.state = StateIterating

	var ran uint
	for ran < maxIterations {
		prev := e.fitness

		used := e.rejector.Reject(e.corrs)
		inc, err := EstimateRigidTransform(e.working, target, used)
		if err != nil {
			e.restore()
			return RegistrationResult{}, fmt.Errorf("align: iteration %d: %w", e.total+1, err)
		}

		inc.ApplyInPlace(e.working)
		e.cumulative = Compose(inc, e.cumulative).Orthonormalize()

		e.corrs, err = buildCorrespondencesInto(e.corrs, e.working, index, e.workers)
		if err != nil {
			e.restore()
			return RegistrationResult{}, fmt.Errorf("align: iteration %d: %w", e.total+1, err)
		}
		e.fitness = MeanSquaredDistance(e.corrs)

		ran++
		e.total++
		report := IterationReport{
			Iteration:       e.total,
			Fitness:         e.fitness,
			Correspondences: len(used),
			RotationStep:    inc.RotationAngle(),
			TranslationStep: inc.TranslationNorm(),
		}
		e.history = append(e.history, report)
		e.logger.Debug("icp iteration",
			"iteration", report.Iteration,
			"fitness", report.Fitness,
			"correspondences", report.Correspondences,
			"rotation", report.RotationStep,
			"translation", report.TranslationStep)

		if e.divergenceFactor > 0 && e.initialFitness > 0 && e.fitness > e.divergenceFactor*e.initialFitness {
			e.state = StateDiverged
			break
		}

		delta := prev - e.fitness
		if (delta >= 0 && delta < epsilonFitness) ||
			(report.RotationStep < epsilonTransform && report.TranslationStep < epsilonTransform) {
			e.state = StateConverged
			break
		}
	}

	if e.state == StateIterating {
		e.state = StateMaxIterationsReached
	}
	e.logger.Debug("icp align finished", "state", e.state, "iterations", ran, "fitness", e.fitness)
	return e.result(ran), nil
}

// sameIndex reports whether a and b are the same index. Dynamic types that
// cannot be compared with == are matched by their data pointer.
func sameIndex(a, b NeighborIndex) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Slice:
		return va.Len() == vb.Len() && va.Pointer() == vb.Pointer()
	case reflect.Map, reflect.Func:
		return va.Pointer() == vb.Pointer()
	}
	return false
}

// load makes source/index the current pair and resets the cumulative state.
func (e *Engine) load(source PointSet, index NeighborIndex) error {
	e.working = append(e.working[:0], source...)
	corrs, err := buildCorrespondencesInto(e.corrs, e.working, index, e.workers)
	if err != nil {
		return err
	}
	e.source = source
	e.index = index
	e.corrs = corrs
	e.cumulative = Identity()
	e.fitness = MeanSquaredDistance(corrs)
	e.initialFitness = e.fitness
	e.state = StateReady
	e.total = 0
	e.history = e.history[:0]
	e.logger.Debug("icp loaded point sets", "source", len(source), "target", index.Len(), "fitness", e.fitness)
	return nil
}

func (e *Engine) result(ran uint) RegistrationResult {
	converged := e.state == StateConverged ||
		(e.state == StateMaxIterationsReached && !e.strict)
	return RegistrationResult{
		Transform:     e.cumulative,
		FitnessScore:  e.fitness,
		Converged:     converged,
		IterationsRun: ran,
		State:         e.state,
	}
}

func (e *Engine) save() {
	s := &e.saved
	s.source = e.source
	s.index = e.index
	s.working = append(s.working[:0], e.working...)
	s.corrs = append(s.corrs[:0], e.corrs...)
	s.cumulative = e.cumulative
	s.fitness = e.fitness
	s.initialFitness = e.initialFitness
	s.state = e.state
	s.total = e.total
	s.historyLen = len(e.history)
}

func (e *Engine) restore() {
	s := &e.saved
	e.source = s.source
	e.index = s.index
	e.working = append(e.working[:0], s.working...)
	e.corrs = append(e.corrs[:0], s.corrs...)
	e.cumulative = s.cumulative
	e.fitness = s.fitness
	e.initialFitness = s.initialFitness
	e.state = s.state
	e.total = s.total
	e.history = e.history[:s.historyLen]
}

// Reset forgets the loaded point sets. The next Align call loads afresh.
func (e *Engine) Reset() {
	e.source = nil
	e.index = nil
	e.working = e.working[:0]
	e.corrs = e.corrs[:0]
	e.cumulative = Identity()
	e.fitness = 0
	e.initialFitness = 0
	e.state = StateReady
	e.total = 0
	e.history = e.history[:0]
}

// State returns the controller state after the last Align call.
func (e *Engine) State() State { return e.state }

// Transform returns the cumulative transform.
func (e *Engine) Transform() RigidTransform { return e.cumulative }

// Fitness returns the current mean squared nearest-neighbour distance.
func (e *Engine) Fitness() float64 { return e.fitness }

// TotalIterations returns the iterations run since the point sets were loaded.
func (e *Engine) TotalIterations() uint { return e.total }

// WorkingCopy returns a copy of the transformed source.
func (e *Engine) WorkingCopy() PointSet { return e.working.Clone() }

// History returns the per-iteration reports since the point sets were loaded.
func (e *Engine) History() []IterationReport {
	out := make([]IterationReport, len(e.history))
	copy(out, e.history)
	return out
}

// Register builds an index over target and aligns source to it with a fresh
// engine.
func Register(source, target PointSet, maxIterations uint, epsilonFitness, epsilonTransform float64, opts ...Option) (RegistrationResult, error) {
	index, err := BuildIndex(target)
	if err != nil {
		return RegistrationResult{}, fmt.Errorf("register: %w", err)
	}
	return NewEngine(opts...).Align(source, index, maxIterations, epsilonFitness, epsilonTransform)
}
