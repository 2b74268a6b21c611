package splitembed

import (
	"context"
	"fmt"

	"github.com/hupe1980/splitembed/optim"
	"github.com/hupe1980/splitembed/snapshot"
)

// Snapshot captures the full engine state: table layout, all weight
// tiers, and optimizer buffers. The cache is flushed first so managed
// memory holds the freshest rows; the returned snapshot owns copies and
// stays valid while training continues.
func (e *Engine) Snapshot() (*snapshot.Snapshot, error) {
	e.Flush()

	snap := &snapshot.Snapshot{
		Step:          e.opt.Step(),
		Timestep:      e.timestep,
		OptimizerKind: e.opt.Kind(),
		Tables:        make([]snapshot.TableInfo, len(e.specs)),
		Dev:           copyFloats(e.weights.Dev),
		Host:          copyFloats(e.weights.Host),
		Managed:       copyFloats(e.weights.UVM()),
	}
	for i, spec := range e.specs {
		snap.Tables[i] = snapshot.TableInfo{
			Rows:     spec.Rows,
			Dim:      spec.Dim,
			Location: spec.Location,
		}
	}

	for _, role := range []optim.Role{optim.Momentum1, optim.Momentum2, optim.PrevIter, optim.RowCounter} {
		buf, ok := e.opt.TryGetBuffer(role)
		if !ok {
			continue
		}
		snap.OptimizerBuffers = append(snap.OptimizerBuffers, snapshot.OptimizerBuffer{
			Role:    role,
			Rowwise: buf.Rowwise,
			Dev:     copyFloats(buf.Data.Dev),
			Host:    copyFloats(buf.Data.Host),
			Managed: copyFloats(buf.Data.UVM()),
		})
	}

	return snap, nil
}

// LoadSnapshot restores engine state from a snapshot taken by an engine
// with the same table specs and optimizer kind. Cache residency and any
// pending prefetches are discarded.
func (e *Engine) LoadSnapshot(snap *snapshot.Snapshot) error {
	if err := e.checkSnapshotShape(snap); err != nil {
		return err
	}

	copy(e.weights.Dev, snap.Dev)
	copy(e.weights.Host, snap.Host)
	copy(e.weights.UVM(), snap.Managed)

	for _, ob := range snap.OptimizerBuffers {
		buf, ok := e.opt.TryGetBuffer(ob.Role)
		if !ok {
			return fmt.Errorf("%w: snapshot carries optimizer state %s this engine does not use", ErrConfiguration, ob.Role)
		}
		copy(buf.Data.Dev, ob.Dev)
		copy(buf.Data.Host, ob.Host)
		copy(buf.Data.UVM(), ob.Managed)
	}

	e.opt.SetStep(snap.Step)
	e.ResetCacheStates()
	e.timestep = snap.Timestep
	return nil
}

func (e *Engine) checkSnapshotShape(snap *snapshot.Snapshot) error {
	if len(snap.Tables) != len(e.specs) {
		return fmt.Errorf("%w: snapshot has %d tables, engine has %d", ErrConfiguration, len(snap.Tables), len(e.specs))
	}
	for i, tbl := range snap.Tables {
		spec := e.specs[i]
		if tbl.Rows != spec.Rows || tbl.Dim != spec.Dim || tbl.Location != spec.Location {
			return fmt.Errorf("%w: snapshot table %d does not match engine spec", ErrConfiguration, i)
		}
	}
	if snap.OptimizerKind != e.opt.Kind() {
		return fmt.Errorf("%w: snapshot optimizer %s, engine uses %s", ErrConfiguration, snap.OptimizerKind, e.opt.Kind())
	}
	if len(snap.Dev) != len(e.weights.Dev) || len(snap.Host) != len(e.weights.Host) || len(snap.Managed) != len(e.weights.UVM()) {
		return fmt.Errorf("%w: snapshot tier sizes do not match engine layout", ErrConfiguration)
	}
	return nil
}

// SaveCheckpoint snapshots the engine and commits it through the
// manager.
func (e *Engine) SaveCheckpoint(ctx context.Context, mgr *snapshot.Manager) (string, error) {
	snap, err := e.Snapshot()
	if err != nil {
		return "", err
	}
	name, err := mgr.Save(ctx, snap)
	e.opts.logger.LogSnapshot(ctx, name, err)
	return name, err
}

// LoadCheckpoint restores the latest committed checkpoint from the
// manager.
func (e *Engine) LoadCheckpoint(ctx context.Context, mgr *snapshot.Manager) error {
	snap, err := mgr.Load(ctx)
	if err != nil {
		e.opts.logger.LogSnapshot(ctx, "", err)
		return err
	}
	err = e.LoadSnapshot(snap)
	e.opts.logger.LogSnapshot(ctx, "", err)
	return err
}

func copyFloats(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	out := make([]float32, len(src))
	copy(out, src)
	return out
}
