package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "0.2.3", want: Version{0, 2, 3}},
		{in: "v1.10.0", want: Version{1, 10, 0}},
		{in: " 0.0.2 ", want: Version{0, 0, 2}},
		{in: "0.2", wantErr: true},
		{in: "0.2.x", wantErr: true},
		{in: "0.-1.0", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersion(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompatible(t *testing.T) {
	current := Version{0, 2, 0}
	assert.True(t, Compatible("0.2.9", current))
	assert.False(t, Compatible("0.1.5", current))
	assert.False(t, Compatible("0.3.0", current))
	assert.False(t, Compatible("", current))
	assert.False(t, Compatible("two", current))
}

func TestVolumeFileOperations(t *testing.T) {
	vol := newVolume(newMemDurable(), "dendrite")

	require.NoError(t, vol.WriteFile("idb/a", []byte("1"), 0))
	require.NoError(t, vol.WriteFile("/idb/b", []byte("22"), 0o600))
	require.NoError(t, vol.WriteFile("/other/c", []byte("333"), 0))

	data, err := vol.ReadFile("/idb/a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))

	info, err := vol.Stat("/idb/b")
	require.NoError(t, err)
	assert.Equal(t, 2, info.Size)
	assert.Equal(t, uint32(0o600), info.Mode)

	names, err := vol.List("/idb")
	require.NoError(t, err)
	assert.Equal(t, []string{"/idb/a", "/idb/b"}, names)

	require.NoError(t, vol.Remove("/idb/a"))
	_, err = vol.ReadFile("/idb/a")
	assert.ErrorIs(t, err, ErrNotExist)
	assert.ErrorIs(t, vol.Remove("/idb/a"), ErrNotExist)

	_, err = vol.ReadFile("")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVolumeReadReturnsCopy(t *testing.T) {
	vol := newVolume(newMemDurable(), "dendrite")
	require.NoError(t, vol.WriteFile("/a", []byte("abc"), 0))

	data, err := vol.ReadFile("/a")
	require.NoError(t, err)
	data[0] = 'z'

	again, err := vol.ReadFile("/a")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestVolumeStartupSyncReplacesMemory(t *testing.T) {
	d := newMemDurable()
	vol := newVolume(d, "dendrite")
	ctx := context.Background()

	require.NoError(t, vol.WriteFile("/a", []byte("1"), 0))
	require.NoError(t, vol.Sync(ctx, false))
	require.NoError(t, vol.WriteFile("/b", []byte("unsynced"), 0))
	assert.True(t, vol.Dirty())

	require.NoError(t, vol.Sync(ctx, true))
	assert.False(t, vol.Dirty())

	_, err := vol.ReadFile("/b")
	assert.ErrorIs(t, err, ErrNotExist)
	data, err := vol.ReadFile("/a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))
}
