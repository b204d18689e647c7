package fragment

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFragmentAtomicPublish(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "segment-1.ts")

	f := New(full, 1)
	require.NoError(t, f.CreateDir())
	require.NoError(t, f.Open())

	_, err := f.Write([]byte("payload"))
	require.NoError(t, err)

	f.Append(0)
	f.Append(2000)
	require.Equal(t, 2*time.Second, f.Duration())

	_, statErr := os.Stat(full)
	require.True(t, os.IsNotExist(statErr), "final path must not exist before rename")

	require.NoError(t, f.Rename())

	body, err := os.ReadFile(full)
	require.NoError(t, err)
	require.Equal(t, "payload", string(body))

	_, statErr = os.Stat(f.TmpPath())
	require.True(t, os.IsNotExist(statErr), "tmp file must be gone after rename")
}

func TestWindowShrinkMovesOldestToExpired(t *testing.T) {
	w := NewWindow()
	dir := t.TempDir()

	for i := uint64(0); i < 4; i++ {
		f := New(filepath.Join(dir, "seg.ts"), i)
		f.Append(0)
		f.Append(int64(3000))
		w.Append(f)
	}

	require.Equal(t, 4, w.Size())

	w.Shrink(5 * time.Second)

	require.True(t, w.Size() < 4, "shrink should evict at least one fragment")
	require.Equal(t, uint64(0), w.expired[0].Number())
}

func TestWindowShrinkKeepsAtLeastOneActive(t *testing.T) {
	w := NewWindow()
	f := New("only.ts", 0)
	f.Append(0)
	f.Append(10_000)
	w.Append(f)

	w.Shrink(time.Second)

	require.Equal(t, 1, w.Size(), "a lone fragment is never evicted")
}

func TestWindowDisposeDeletesFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewWindow()

	path := filepath.Join(dir, "seg-0.ts")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	f := New(path, 0)
	w.Append(f)

	w.Dispose()

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.True(t, w.Empty())
}
