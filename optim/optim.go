// Package optim lays out per-row auxiliary optimizer state for split
// embedding tables.
//
// The set of auxiliary buffers (momentum terms, previous-iteration
// marker, per-row access counter) is fully determined by the optimizer
// kind and weight-decay configuration at construction and never changes
// afterwards. The numeric update formulas themselves live in the fused
// update kernels; this package only owns the storage and its tiering.
package optim

import (
	"errors"
	"fmt"

	"github.com/hupe1980/splitembed/placement"
)

// Kind selects the optimizer variant.
type Kind int32

const (
	// SGD keeps no auxiliary state.
	SGD Kind = iota
	// LARSSGD keeps a full-row momentum buffer.
	LARSSGD
	// Adagrad keeps a full-row gradient-square sum.
	Adagrad
	// RowwiseAdagrad keeps one gradient-square scalar per row.
	RowwiseAdagrad
	// RowwiseWeightedAdagrad is RowwiseAdagrad with iteration-weighted
	// updates.
	RowwiseWeightedAdagrad
	// Adam keeps full-row first and second moments.
	Adam
	// PartialRowwiseAdam keeps a full-row first moment and a rowwise
	// second moment.
	PartialRowwiseAdam
	// LAMB keeps full-row first and second moments.
	LAMB
	// PartialRowwiseLAMB keeps a full-row first moment and a rowwise
	// second moment.
	PartialRowwiseLAMB
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case SGD:
		return "sgd"
	case LARSSGD:
		return "lars_sgd"
	case Adagrad:
		return "adagrad"
	case RowwiseAdagrad:
		return "rowwise_adagrad"
	case RowwiseWeightedAdagrad:
		return "rowwise_weighted_adagrad"
	case Adam:
		return "adam"
	case PartialRowwiseAdam:
		return "partial_rowwise_adam"
	case LAMB:
		return "lamb"
	case PartialRowwiseLAMB:
		return "partial_rowwise_lamb"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

// WeightDecayMode selects how weight decay is applied.
type WeightDecayMode int32

const (
	WeightDecayNone WeightDecayMode = iota
	WeightDecayL2
	WeightDecayDecoupled
	// WeightDecayCounter scales decay by per-row access counters and
	// requires a CounterRegularization.
	WeightDecayCounter
)

// CounterWeightDecayMode selects the decay flavor under
// WeightDecayCounter.
type CounterWeightDecayMode int32

const (
	CounterWeightDecayNone CounterWeightDecayMode = iota
	CounterWeightDecayL2
	CounterWeightDecayDecoupled
)

// LearningRateMode adjusts the learning rate from row counters.
type LearningRateMode int32

const (
	LearningRateEqual      LearningRateMode = -1
	TailIDLRIncrease       LearningRateMode = 0
	TailIDLRDecrease       LearningRateMode = 1
	CounterSGDLearningRate LearningRateMode = 2
)

// GradSumDecay selects the gradient-sum decay under counter-based
// regularization.
type GradSumDecay int32

const (
	GradSumNoDecay  GradSumDecay = -1
	GradSumCTRDecay GradSumDecay = 0
)

// TailIDThreshold marks rows considered "tail" for learning-rate
// adjustment, as an absolute count or a ratio of the table size.
type TailIDThreshold struct {
	Val     float64
	IsRatio bool
}

// CounterRegularization configures counter-based weight decay for the
// rowwise adagrad variant.
type CounterRegularization struct {
	CounterWeightDecayMode CounterWeightDecayMode
	CounterHalflife        int64
	AdjustmentIter         int64
	AdjustmentUB           float64
	LearningRateMode       LearningRateMode
	GradSumDecay           GradSumDecay
	TailIDThreshold        TailIDThreshold
	// MaxCounterUpdateFreq is the step interval at which the scalar max
	// counter is refreshed from the row counter buffer.
	MaxCounterUpdateFreq int64
}

// DefaultCounterRegularization returns the neutral configuration.
func DefaultCounterRegularization() CounterRegularization {
	return CounterRegularization{
		CounterWeightDecayMode: CounterWeightDecayNone,
		CounterHalflife:        -1,
		AdjustmentIter:         -1,
		AdjustmentUB:           1.0,
		LearningRateMode:       LearningRateEqual,
		GradSumDecay:           GradSumNoDecay,
		MaxCounterUpdateFreq:   1000,
	}
}

// Args is the hyperparameter bundle handed unchanged to the fused
// update kernels.
type Args struct {
	StochasticRounding bool
	GradientClipping   bool
	MaxGradient        float64
	LearningRate       float64
	Eps                float64
	Beta1              float64
	Beta2              float64
	WeightDecay        float64
	WeightDecayMode    WeightDecayMode
	Eta                float64
	Momentum           float64

	CounterHalflife     int64
	AdjustmentIter      int64
	AdjustmentUB        float64
	LearningRateMode    LearningRateMode
	GradSumDecay        GradSumDecay
	TailIDThreshold     float64
	IsTailIDThreshRatio bool
}

// ErrInvalidConfig marks optimizer configurations rejected at
// construction.
var ErrInvalidConfig = errors.New("invalid optimizer configuration")

// ErrNoSuchState is returned when a state surface is requested for a
// variant that does not expose one.
var ErrNoSuchState = errors.New("optimizer variant exposes no such state")

// descriptor fixes which auxiliary buffers a kind allocates.
type descriptor struct {
	momentum1        bool
	momentum1Rowwise bool
	momentum2        bool
	momentum2Rowwise bool
	usesIteration    bool
}

var descriptors = map[Kind]descriptor{
	SGD:                    {},
	LARSSGD:                {momentum1: true},
	Adagrad:                {momentum1: true},
	RowwiseAdagrad:         {momentum1: true, momentum1Rowwise: true},
	RowwiseWeightedAdagrad: {momentum1: true, momentum1Rowwise: true, usesIteration: true},
	Adam:                   {momentum1: true, momentum2: true, usesIteration: true},
	PartialRowwiseAdam:     {momentum1: true, momentum2: true, momentum2Rowwise: true, usesIteration: true},
	LAMB:                   {momentum1: true, momentum2: true, usesIteration: true},
	PartialRowwiseLAMB:     {momentum1: true, momentum2: true, momentum2Rowwise: true, usesIteration: true},
}

// cpuKinds are the variants supported when compute runs on the host.
var cpuKinds = map[Kind]bool{
	SGD:                    true,
	Adagrad:                true,
	RowwiseAdagrad:         true,
	RowwiseWeightedAdagrad: true,
}

// validate rejects configurations the layout cannot serve.
func validate(kind Kind, device placement.ComputeDevice, mode WeightDecayMode, reg *CounterRegularization) error {
	if _, ok := descriptors[kind]; !ok {
		return fmt.Errorf("%w: unknown optimizer kind %d", ErrInvalidConfig, kind)
	}
	if device == placement.CPU && !cpuKinds[kind] {
		return fmt.Errorf("%w: optimizer %s is not supported in cpu mode", ErrInvalidConfig, kind)
	}
	if mode == WeightDecayCounter && reg == nil {
		return fmt.Errorf("%w: counter weight decay requires a counter regularization definition", ErrInvalidConfig)
	}
	if mode != WeightDecayCounter && reg != nil {
		return fmt.Errorf("%w: counter regularization requires counter weight decay mode", ErrInvalidConfig)
	}
	return nil
}
