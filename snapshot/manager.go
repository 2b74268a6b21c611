package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/splitembed/blobstore"
	"github.com/hupe1980/splitembed/resource"
)

// PointerName is the blob holding the name of the latest committed
// snapshot. Backends with conditional writes (s3.CommitStore) intercept
// this name to make the commit a compare-and-swap.
const PointerName = "LATEST"

// ManagerOptions configures a snapshot Manager.
type ManagerOptions struct {
	// Prefix is prepended to snapshot blob names.
	Prefix string

	// Compression selects the section compression. Default LZ4.
	Compression Compression

	// Clock overrides time.Now for naming, used in tests.
	Clock func() time.Time

	// Throttle rate-limits snapshot IO through the controller's
	// copy-out budget and takes a background worker slot per save, so
	// checkpointing does not starve foreground traffic. Nil disables
	// throttling.
	Throttle *resource.Controller
}

// Manager writes snapshot blobs to a BlobStore and tracks the latest
// committed one through a pointer blob. Writers produce a new immutable
// blob per save and commit the pointer last, so readers never observe a
// partially written snapshot.
type Manager struct {
	store       blobstore.BlobStore
	prefix      string
	compression Compression
	clock       func() time.Time
	throttle    *resource.Controller
}

// NewManager creates a snapshot manager on the given store.
func NewManager(store blobstore.BlobStore, optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{
		Compression: CompressionLZ4,
		Clock:       time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Manager{
		store:       store,
		prefix:      opts.Prefix,
		compression: opts.Compression,
		clock:       opts.Clock,
		throttle:    opts.Throttle,
	}
}

func (m *Manager) blobName(ts time.Time) string {
	name := fmt.Sprintf("snap-%020d.bin", ts.UnixNano())
	if m.prefix != "" {
		name = m.prefix + "/" + name
	}
	return name
}

// Save writes the snapshot as a new blob and commits the pointer.
// Returns the committed blob name.
func (m *Manager) Save(ctx context.Context, snap *Snapshot) (string, error) {
	name := m.blobName(m.clock())

	if m.throttle != nil {
		if err := m.throttle.AcquireBackground(ctx); err != nil {
			return "", err
		}
		defer m.throttle.ReleaseBackground()
	}

	blob, err := m.store.Create(ctx, name)
	if err != nil {
		return "", fmt.Errorf("create snapshot blob: %w", err)
	}
	var w io.Writer = blob
	if m.throttle != nil {
		w = resource.NewThrottledWriter(ctx, blob, m.throttle)
	}
	if err := Write(w, snap, m.compression); err != nil {
		_ = blob.Close()
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := blob.Close(); err != nil {
		return "", fmt.Errorf("finalize snapshot blob: %w", err)
	}

	if err := m.store.Put(ctx, PointerName, []byte(name)); err != nil {
		return "", fmt.Errorf("commit snapshot pointer: %w", err)
	}
	return name, nil
}

// Load reads the latest committed snapshot. Returns
// blobstore.ErrNotFound when nothing has been committed yet.
func (m *Manager) Load(ctx context.Context) (*Snapshot, error) {
	name, err := m.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return m.LoadNamed(ctx, name)
}

// LoadNamed reads a specific snapshot blob.
func (m *Manager) LoadNamed(ctx context.Context, name string) (*Snapshot, error) {
	blob, err := m.store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = blob.Close() }()

	rc, err := blob.ReadRange(ctx, 0, blob.Size())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	var r io.Reader = rc
	if m.throttle != nil {
		r = resource.NewThrottledReader(ctx, rc, m.throttle)
	}
	return Read(r)
}

// Latest returns the name of the latest committed snapshot blob.
func (m *Manager) Latest(ctx context.Context) (string, error) {
	blob, err := m.store.Open(ctx, PointerName)
	if err != nil {
		return "", err
	}
	defer func() { _ = blob.Close() }()

	data, err := blobstore.ReadAll(ctx, blob)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// List returns all snapshot blob names, oldest first.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	prefix := "snap-"
	if m.prefix != "" {
		prefix = m.prefix + "/snap-"
	}
	names, err := m.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Prune deletes all but the newest keep snapshots. The currently
// committed snapshot is never deleted.
func (m *Manager) Prune(ctx context.Context, keep int) error {
	if keep < 1 {
		keep = 1
	}

	names, err := m.List(ctx)
	if err != nil {
		return err
	}
	if len(names) <= keep {
		return nil
	}

	latest, err := m.Latest(ctx)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return err
	}

	for _, name := range names[:len(names)-keep] {
		if name == latest {
			continue
		}
		if err := m.store.Delete(ctx, name); err != nil {
			return fmt.Errorf("prune snapshot %s: %w", name, err)
		}
	}
	return nil
}
