package optim

import (
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/splitembed/placement"
	"github.com/hupe1980/splitembed/storage"
)

// Role identifies one auxiliary buffer within a State.
type Role int

const (
	// Momentum1 is the first moment or gradient-square sum.
	Momentum1 Role = iota
	// Momentum2 is the second moment.
	Momentum2
	// PrevIter marks the step a row was last touched (counter-based
	// weight decay only).
	PrevIter
	// RowCounter counts per-row accesses (counter-based weight decay
	// only).
	RowCounter
)

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case Momentum1:
		return "momentum1"
	case Momentum2:
		return "momentum2"
	case PrevIter:
		return "prev_iter"
	case RowCounter:
		return "row_counter"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Buffer is one allocated auxiliary buffer: a tiered storage handle plus
// the granularity it was planned at.
type Buffer struct {
	Data *storage.Tiered
	// Rowwise buffers hold one scalar per row instead of one per
	// element.
	Rowwise bool
}

// Config selects the optimizer variant and its hyperparameters.
type Config struct {
	Kind            Kind
	Device          placement.ComputeDevice
	Args            Args
	WeightDecayMode WeightDecayMode
	// CounterReg must be set exactly when WeightDecayMode is
	// WeightDecayCounter.
	CounterReg *CounterRegularization
	// UVMNonRowwiseMomentum forces full-row momentum buffers onto
	// managed memory regardless of the tables' own tiers.
	UVMNonRowwiseMomentum bool
	// EnforceHBM pins managed-tier auxiliary buffers in fast memory,
	// matching the weight tier setting.
	EnforceHBM bool
}

// State owns the auxiliary buffers of one optimizer selection. The
// buffer set is fixed at construction; only buffer contents, the
// iteration counter, and the max-counter scalar mutate afterwards.
type State struct {
	kind  Kind
	args  Args
	specs []placement.TableSpec

	buffers map[Role]*Buffer

	usedCounter    bool
	maxCounterFreq int64
	maxCounter     float64

	// iteration is kept host-resident so incrementing it never forces a
	// device synchronization. Callers must not assume it is observed at
	// the same logical time as device-side state.
	iteration atomic.Int64
}

// New validates the configuration and allocates the variant's auxiliary
// buffers using the same placement planner as the weights.
func New(specs []placement.TableSpec, cfg Config) (*State, error) {
	if err := validate(cfg.Kind, cfg.Device, cfg.WeightDecayMode, cfg.CounterReg); err != nil {
		return nil, err
	}

	desc := descriptors[cfg.Kind]
	usedCounter := cfg.Kind == RowwiseAdagrad && cfg.WeightDecayMode == WeightDecayCounter && cfg.CounterReg != nil

	reg := DefaultCounterRegularization()
	if cfg.CounterReg != nil {
		reg = *cfg.CounterReg
	}

	args := cfg.Args
	if usedCounter {
		args.WeightDecayMode = WeightDecayMode(reg.CounterWeightDecayMode)
	} else {
		args.WeightDecayMode = cfg.WeightDecayMode
	}
	args.CounterHalflife = reg.CounterHalflife
	args.AdjustmentIter = reg.AdjustmentIter
	args.AdjustmentUB = reg.AdjustmentUB
	args.LearningRateMode = reg.LearningRateMode
	args.GradSumDecay = reg.GradSumDecay
	args.TailIDThreshold = reg.TailIDThreshold.Val
	args.IsTailIDThreshRatio = reg.TailIDThreshold.IsRatio

	s := &State{
		kind:           cfg.Kind,
		args:           args,
		specs:          specs,
		buffers:        make(map[Role]*Buffer),
		usedCounter:    usedCounter,
		maxCounterFreq: reg.MaxCounterUpdateFreq,
		maxCounter:     1,
	}

	alloc := func(role Role, rowwise, forceManaged bool) error {
		var opts []func(o *placement.Options)
		if forceManaged {
			loc := placement.Managed
			opts = append(opts, func(o *placement.Options) { o.Override = &loc })
		}
		plan, err := placement.Construct(specs, rowwise, false, opts...)
		if err != nil {
			return err
		}
		data, err := storage.Materialize(plan, func(o *storage.Options) {
			o.EnforceHBM = cfg.EnforceHBM
		})
		if err != nil {
			return fmt.Errorf("allocate %s: %w", role, err)
		}
		s.buffers[role] = &Buffer{Data: data, Rowwise: rowwise}
		return nil
	}

	if desc.momentum1 {
		force := !desc.momentum1Rowwise && cfg.UVMNonRowwiseMomentum
		if err := alloc(Momentum1, desc.momentum1Rowwise, force); err != nil {
			return nil, err
		}
	}
	if desc.momentum2 {
		force := !desc.momentum2Rowwise && cfg.UVMNonRowwiseMomentum
		if err := alloc(Momentum2, desc.momentum2Rowwise, force); err != nil {
			return nil, err
		}
	}
	if usedCounter {
		if err := alloc(PrevIter, true, false); err != nil {
			return nil, err
		}
		if err := alloc(RowCounter, true, false); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Kind returns the optimizer variant.
func (s *State) Kind() Kind {
	return s.kind
}

// Args returns the hyperparameter bundle for the fused update kernels.
func (s *State) Args() Args {
	return s.args
}

// SetLearningRate replaces the learning rate for subsequent updates.
func (s *State) SetLearningRate(lr float64) {
	s.args.LearningRate = lr
}

// Step returns the host-resident iteration counter.
func (s *State) Step() int64 {
	return s.iteration.Load()
}

// SetStep overrides the iteration counter, e.g. when resuming from a
// checkpoint.
func (s *State) SetStep(step int64) {
	s.iteration.Store(step)
}

// AdvanceStep increments the iteration counter when the variant tracks
// it and returns the current value.
func (s *State) AdvanceStep() int64 {
	if descriptors[s.kind].usesIteration || s.usedCounter {
		return s.iteration.Add(1)
	}
	return s.iteration.Load()
}

// TryGetBuffer returns the buffer allocated for role, or ok=false when
// the variant does not allocate it.
func (s *State) TryGetBuffer(role Role) (*Buffer, bool) {
	b, ok := s.buffers[role]
	return b, ok
}

// UsesCounter reports whether the counter-based rowwise adagrad path is
// active.
func (s *State) UsesCounter() bool {
	return s.usedCounter
}

// MaxCounter returns the amortized maximum of the row counter buffer.
func (s *State) MaxCounter() float64 {
	return s.maxCounter
}

// MaybeRefreshMaxCounter refreshes the max-counter scalar once every
// MaxCounterUpdateFreq steps: the maximum row counter plus one, or 1
// when the buffer is empty. No-op for variants without counters.
func (s *State) MaybeRefreshMaxCounter(step int64) {
	if !s.usedCounter || s.maxCounterFreq <= 0 || step%s.maxCounterFreq != 0 {
		return
	}

	counters := s.buffers[RowCounter].Data.Dev
	if len(counters) == 0 {
		s.maxCounter = 1
		return
	}
	max := counters[0]
	for _, v := range counters[1:] {
		if v > max {
			max = v
		}
	}
	s.maxCounter = float64(max) + 1
}

// views returns one TableView per table for a buffer.
func (s *State) views(b *Buffer) []storage.TableView {
	out := make([]storage.TableView, len(s.specs))
	for t, spec := range s.specs {
		dim := spec.Dim
		if b.Rowwise {
			dim = 1
		}
		out[t] = storage.TableView{
			Rows: spec.Rows,
			Dim:  dim,
			Data: b.Data.TableSlice(t, spec.Rows*dim),
		}
	}
	return out
}

// SplitStates returns, per table, the variant's auxiliary buffers in a
// fixed order: momentum1, momentum2, then prev-iter and row-counter when
// counter-based decay is active. SGD yields empty inner slices.
func (s *State) SplitStates() [][]storage.TableView {
	roles := []Role{Momentum1, Momentum2, PrevIter, RowCounter}

	perRole := make([][]storage.TableView, 0, len(roles))
	for _, role := range roles {
		if b, ok := s.buffers[role]; ok {
			perRole = append(perRole, s.views(b))
		}
	}

	out := make([][]storage.TableView, len(s.specs))
	for t := range s.specs {
		row := make([]storage.TableView, 0, len(perRole))
		for _, views := range perRole {
			row = append(row, views[t])
		}
		out[t] = row
	}
	return out
}

// StateDict returns the per-table states under their conventional names.
// Variants without a conventional surface return ErrNoSuchState.
func (s *State) StateDict() ([]map[string]storage.TableView, error) {
	split := s.SplitStates()

	out := make([]map[string]storage.TableView, len(split))
	switch s.kind {
	case Adagrad, RowwiseAdagrad, RowwiseWeightedAdagrad:
		for t, states := range split {
			if s.usedCounter {
				out[t] = map[string]storage.TableView{
					"sum":         states[0],
					"prev_iter":   states[1],
					"row_counter": states[2],
				}
			} else {
				out[t] = map[string]storage.TableView{"sum": states[0]}
			}
		}
	case SGD:
		for t := range split {
			out[t] = map[string]storage.TableView{}
		}
	case Adam, PartialRowwiseAdam, LAMB, PartialRowwiseLAMB:
		for t, states := range split {
			out[t] = map[string]storage.TableView{
				"exp_avg":    states[0],
				"exp_avg_sq": states[1],
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoSuchState, s.kind)
	}
	return out, nil
}

// Close releases the managed-tier mappings of all buffers.
func (s *State) Close() error {
	var firstErr error
	for _, b := range s.buffers {
		if err := b.Data.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
