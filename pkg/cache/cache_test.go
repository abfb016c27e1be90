package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SaveLoad(t *testing.T) {
	m, err := NewManager(t.TempDir(), time.Hour)
	require.NoError(t, err)

	require.NoError(t, m.Save(StringKey("count:port:22"), []byte(`{"total":42}`)))

	ent, err := m.Load(StringKey("count:port:22"))
	require.NoError(t, err)
	assert.Equal(t, `{"total":42}`, string(ent.Bytes()))
	assert.Less(t, ent.Age(), time.Minute)

	_, err = m.Load(StringKey("count:port:23"))
	assert.ErrorIs(t, err, ErrMiss)
}

func TestManager_Expired(t *testing.T) {
	m, err := NewManager(t.TempDir(), time.Hour)
	require.NoError(t, err)

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return start }
	require.NoError(t, m.Save(StringKey("k"), []byte("v")))

	m.now = func() time.Time { return start.Add(59 * time.Minute) }
	_, err = m.Load(StringKey("k"))
	require.NoError(t, err)

	m.now = func() time.Time { return start.Add(61 * time.Minute) }
	_, err = m.Load(StringKey("k"))
	assert.ErrorIs(t, err, ErrExpired)
}

func TestManager_Disabled(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never-created")
	m, err := NewManager(dir, 0)
	require.NoError(t, err)

	require.NoError(t, m.Save(StringKey("k"), []byte("v")))
	_, err = m.Load(StringKey("k"))
	assert.ErrorIs(t, err, ErrMiss)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	var nilManager *Manager
	_, err = nilManager.Load(StringKey("k"))
	assert.ErrorIs(t, err, ErrMiss)
}

func TestManager_Corrupt(t *testing.T) {
	m, err := NewManager(t.TempDir(), time.Hour)
	require.NoError(t, err)

	key := StringKey("broken")
	fn := m.path(key)
	require.NoError(t, os.MkdirAll(filepath.Dir(fn), 0o755))
	require.NoError(t, os.WriteFile(fn, []byte("XXXX12345678payload"), 0o644))

	_, err = m.Load(key)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}
