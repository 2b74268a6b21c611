package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUnderTest lets the same scenarios run against every local backend.
func storeUnderTest(t *testing.T, kind string) BlobStore {
	t.Helper()
	switch kind {
	case "memory":
		return NewMemoryStore()
	case "local":
		s, err := NewLocalStore(t.TempDir())
		require.NoError(t, err)
		return s
	default:
		t.Fatalf("unknown store kind %q", kind)
		return nil
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	for _, kind := range []string{"memory", "local"} {
		t.Run(kind, func(t *testing.T) {
			store := storeUnderTest(t, kind)

			require.NoError(t, store.Put(ctx, "snap/000001.bin", []byte("hello world")))

			blob, err := store.Open(ctx, "snap/000001.bin")
			require.NoError(t, err)
			defer blob.Close()

			assert.Equal(t, int64(11), blob.Size())

			data, err := ReadAll(ctx, blob)
			require.NoError(t, err)
			assert.Equal(t, []byte("hello world"), data)
		})
	}
}

func TestStoreOpenMissing(t *testing.T) {
	ctx := context.Background()

	for _, kind := range []string{"memory", "local"} {
		t.Run(kind, func(t *testing.T) {
			store := storeUnderTest(t, kind)

			_, err := store.Open(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreCreateStreaming(t *testing.T) {
	ctx := context.Background()

	for _, kind := range []string{"memory", "local"} {
		t.Run(kind, func(t *testing.T) {
			store := storeUnderTest(t, kind)

			w, err := store.Create(ctx, "streamed")
			require.NoError(t, err)

			_, err = w.Write([]byte("part one, "))
			require.NoError(t, err)
			_, err = w.Write([]byte("part two"))
			require.NoError(t, err)

			// Not visible until Close commits it.
			_, err = store.Open(ctx, "streamed")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, w.Close())

			blob, err := store.Open(ctx, "streamed")
			require.NoError(t, err)
			defer blob.Close()

			data, err := ReadAll(ctx, blob)
			require.NoError(t, err)
			assert.Equal(t, "part one, part two", string(data))
		})
	}
}

func TestStoreReadRange(t *testing.T) {
	ctx := context.Background()

	for _, kind := range []string{"memory", "local"} {
		t.Run(kind, func(t *testing.T) {
			store := storeUnderTest(t, kind)
			require.NoError(t, store.Put(ctx, "blob", []byte("0123456789")))

			blob, err := store.Open(ctx, "blob")
			require.NoError(t, err)
			defer blob.Close()

			rc, err := blob.ReadRange(ctx, 3, 4)
			require.NoError(t, err)
			defer rc.Close()

			buf := make([]byte, 4)
			n, _ := rc.Read(buf)
			assert.Equal(t, "3456", string(buf[:n]))

			// Truncated at the tail.
			rc2, err := blob.ReadRange(ctx, 8, 100)
			require.NoError(t, err)
			defer rc2.Close()
			n2, _ := rc2.Read(buf)
			assert.Equal(t, "89", string(buf[:n2]))
		})
	}
}

func TestStoreListAndDelete(t *testing.T) {
	ctx := context.Background()

	for _, kind := range []string{"memory", "local"} {
		t.Run(kind, func(t *testing.T) {
			store := storeUnderTest(t, kind)

			require.NoError(t, store.Put(ctx, "snap/a", []byte("a")))
			require.NoError(t, store.Put(ctx, "snap/b", []byte("b")))
			require.NoError(t, store.Put(ctx, "other/c", []byte("c")))

			names, err := store.List(ctx, "snap/")
			require.NoError(t, err)
			assert.Equal(t, []string{"snap/a", "snap/b"}, names)

			require.NoError(t, store.Delete(ctx, "snap/a"))
			require.NoError(t, store.Delete(ctx, "snap/a")) // idempotent

			names, err = store.List(ctx, "snap/")
			require.NoError(t, err)
			assert.Equal(t, []string{"snap/b"}, names)
		})
	}
}

func TestPutOverwrites(t *testing.T) {
	ctx := context.Background()

	for _, kind := range []string{"memory", "local"} {
		t.Run(kind, func(t *testing.T) {
			store := storeUnderTest(t, kind)

			require.NoError(t, store.Put(ctx, "blob", []byte("old")))
			require.NoError(t, store.Put(ctx, "blob", []byte("new content")))

			blob, err := store.Open(ctx, "blob")
			require.NoError(t, err)
			defer blob.Close()

			data, err := ReadAll(ctx, blob)
			require.NoError(t, err)
			assert.Equal(t, "new content", string(data))
		})
	}
}
