package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/util"
)

func TestDataFSAppend(t *testing.T) {
	dir, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	fs, err := NewDataFS(dir)
	require.NoError(t, err)

	name := "1000000/shard0/s0000.bin"
	f, err := fs.CreateAppendFile(name)
	require.NoError(t, err)
	off, err := f.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	require.Equal(t, int64(0), off)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = fs.CreateAppendFile(fs.Path(name))
	require.NoError(t, err)
	off, err = f.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	require.Equal(t, int64(5), off)
	_, err = f.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = fs.OpenDataFile(name)
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, 5)
	require.NoError(t, err)
	require.Equal(t, "world", string(buf))
	require.NoError(t, f.Close())

	// parent directories were created on demand
	st, err := os.Stat(filepath.Join(dir, "1000000", "shard0"))
	require.NoError(t, err)
	require.True(t, st.IsDir())
	require.Equal(t, filepath.Join(dir, name), fs.Path(name))

	_, err = fs.OpenDataFile("missing")
	require.True(t, os.IsNotExist(err))
}

func TestShmStore(t *testing.T) {
	dir, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	s, err := NewShmStore(dir)
	require.NoError(t, err)

	name := "/1000000_0_1_to_2_77"
	b, err := s.Create(name, 64)
	require.NoError(t, err)
	require.Equal(t, 64, b.Size())
	require.Equal(t, name, b.Name())
	copy(b.Bytes(), "shared")

	_, err = s.Create(name, 64)
	require.Error(t, err)

	o, err := s.Open(name)
	require.NoError(t, err)
	require.Equal(t, "shared", string(o.Bytes()[:6]))
	o.Bytes()[0] = 'S'
	require.Equal(t, byte('S'), b.Bytes()[0])

	require.NoError(t, o.Close())
	require.NoError(t, b.Close())
	require.NoError(t, s.Unlink(name))
	require.NoError(t, s.Unlink(name))

	_, err = s.Open(name)
	require.Error(t, err)
	_, err = s.Create("empty", 0)
	require.Equal(t, apierrors.ErrShmBuffer, err)
}

func TestNewStore(t *testing.T) {
	dir, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	s, err := NewStore(context.Background(), &Config{DataDir: dir + "/data", ShmDir: dir + "/shm"})
	require.NoError(t, err)
	require.Equal(t, dir+"/shm", s.ShmStore().Dir())
	require.Equal(t, dir+"/data/x", s.DataFS().Path("x"))
}
