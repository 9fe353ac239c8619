package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/kwv/icpstep/registration"
)

// StepReport describes the outcome of one step trigger.
type StepReport struct {
	SessionID     string                      `json:"sessionId"`
	Step          int                         `json:"step"`          // triggers so far, including the initial run
	Iteration     uint                        `json:"iteration"`     // total ICP iterations
	IterationsRun uint                        `json:"iterationsRun"` // iterations of this trigger
	Fitness       float64                     `json:"fitness"`
	Converged     bool                        `json:"converged"`
	State         registration.State          `json:"state"`
	Transform     registration.RigidTransform `json:"transform"`
	ElapsedMs     float64                     `json:"elapsedMs"`
	Timestamp     int64                       `json:"timestamp"`
	Error         string                      `json:"error,omitempty"`
}

// String prints the report the way the terminal viewer shows it.
func (r StepReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Applied %d ICP iteration(s) in %.0f ms\n", r.IterationsRun, r.ElapsedMs)
	if r.Error != "" {
		fmt.Fprintf(&b, "\nICP step failed: %s\n", r.Error)
		return b.String()
	}
	if r.Converged {
		fmt.Fprintf(&b, "\nICP has converged, score is %g\n", r.Fitness)
	} else {
		fmt.Fprintf(&b, "\nICP has not converged (%s), score is %g\n", r.State, r.Fitness)
	}
	fmt.Fprintf(&b, "ICP transformation %d : source -> target\n", r.Iteration)
	b.WriteString(r.Transform.String())
	return b.String()
}

// Session is the stepping registration of one input cloud against its target.
// The source is the input moved by the initial transform; every Step runs
// more iterations on it. Safe for concurrent use.
type Session struct {
	ID string

	mu           sync.Mutex
	icp          ICPConfig
	engine       *registration.Engine
	index        *registration.Index
	target       registration.PointSet
	source       registration.PointSet
	initial      registration.RigidTransform
	steps        int
	last         StepReport
	logger       *log.Logger
	snapshotPath string
}

// OpenSession loads the configured clouds and starts a session.
func OpenSession(ctx context.Context, cfg *Config, logger *log.Logger, opts ...FetchOption) (*Session, error) {
	input, err := LoadCloud(ctx, cfg.Source, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading source %s: %w", cfg.Source, err)
	}

	var target registration.PointSet
	if !cfg.Target.IsZero() {
		target, err = LoadCloud(ctx, cfg.Target, opts...)
		if err != nil {
			return nil, fmt.Errorf("loading target %s: %w", cfg.Target, err)
		}
	}

	return NewSession(input, target, cfg, logger)
}

// NewSession registers input, moved by the configured initial transform, back
// onto target and runs the initial iterations. A nil target means input
// itself.
func NewSession(input, target registration.PointSet, cfg *Config, logger *log.Logger) (*Session, error) {
	if len(input) == 0 {
		return nil, fmt.Errorf("new session: input: %w", registration.ErrEmptyInput)
	}
	if target == nil {
		target = input
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	index, err := registration.BuildIndex(target)
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}

	initial := cfg.InitialTransform.Transform()
	s := &Session{
		ID:           uuid.NewString(),
		icp:          cfg.ICP,
		engine:       registration.NewEngine(append(cfg.ICP.EngineOptions(), registration.WithLogger(logger))...),
		index:        index,
		target:       target.Clone(),
		source:       initial.ApplyAll(input),
		initial:      initial,
		logger:       logger,
		snapshotPath: cfg.Session.SnapshotPath,
	}

	logger.Info("session started", "session", s.ID, "source", len(s.source), "target", len(s.target))
	logger.Info("initial transform", "matrix", "\n"+initial.String())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.run(cfg.ICP.InitialIterations); err != nil {
		return nil, fmt.Errorf("new session: initial alignment: %w", err)
	}
	return s, nil
}

// Step runs the configured number of iterations per trigger. A failed step
// is reported with its error and leaves the session usable.
func (s *Session) Step() (StepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(s.icp.StepIterations)
}

// run performs one trigger. Callers hold s.mu.
func (s *Session) run(iterations uint) (StepReport, error) {
	start := time.Now()
	res, err := s.engine.Align(s.source, s.index, iterations, s.icp.EpsilonFitness, s.icp.EpsilonTransform)
	elapsed := time.Since(start)

	s.steps++
	report := StepReport{
		SessionID:     s.ID,
		Step:          s.steps,
		Iteration:     s.engine.TotalIterations(),
		IterationsRun: res.IterationsRun,
		Fitness:       s.engine.Fitness(),
		Converged:     res.Converged,
		State:         s.engine.State(),
		Transform:     s.engine.Transform(),
		ElapsedMs:     float64(elapsed.Microseconds()) / 1000,
		Timestamp:     time.Now().Unix(),
	}
	if err != nil {
		report.Error = err.Error()
		s.last = report
		s.logger.Error("icp step failed", "session", s.ID, "step", s.steps, "err", err)
		return report, err
	}
	s.last = report

	s.logger.Info("applied icp iterations",
		"iterations", report.IterationsRun,
		"total", report.Iteration,
		"fitness", report.Fitness,
		"state", report.State,
		"ms", report.ElapsedMs)

	if s.snapshotPath != "" {
		if err := SaveSnapshot(s.snapshotPath, s.snapshot()); err != nil {
			s.logger.Warn("saving session snapshot", "path", s.snapshotPath, "err", err)
		}
	}
	return report, nil
}

// Last returns the report of the most recent trigger.
func (s *Session) Last() StepReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// History returns the per-iteration fitness record.
func (s *Session) History() []registration.IterationReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.History()
}

// InitialTransform returns the transform that produced the source.
func (s *Session) InitialTransform() registration.RigidTransform {
	return s.initial
}

// Snapshot returns the persistable session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// PersistedSnapshot returns the snapshot saved at the configured path when it
// belongs to this session, and the in-memory state otherwise.
func (s *Session) PersistedSnapshot() Snapshot {
	if s.snapshotPath == "" {
		return s.Snapshot()
	}
	snap, err := LoadSnapshot(s.snapshotPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		s.logger.Warn("loading session snapshot", "path", s.snapshotPath, "err", err)
	case snap.SessionID != s.ID:
		s.logger.Debug("ignoring snapshot of another session", "path", s.snapshotPath, "session", snap.SessionID)
	default:
		return *snap
	}
	return s.Snapshot()
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		SessionID:        s.ID,
		Steps:            s.steps,
		Iterations:       s.engine.TotalIterations(),
		State:            s.engine.State(),
		Fitness:          s.engine.Fitness(),
		InitialTransform: s.initial,
		Transform:        s.engine.Transform(),
		History:          s.engine.History(),
		SavedAt:          time.Now().UTC(),
	}
}

// Scene returns the two-viewport comparison for the current state.
func (s *Session) Scene(v *Viewer) Scene {
	s.mu.Lock()
	aligned := s.engine.WorkingCopy()
	iterations := s.engine.TotalIterations()
	s.mu.Unlock()
	return v.ComparisonScene(s.target, s.source, aligned, iterations)
}
