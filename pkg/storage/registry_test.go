package storage

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_EmptyListInstallsDefaultDisk(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Configure(nil))

	disks := reg.Disks()
	require.Len(t, disks, 1)
	assert.Equal(t, "local", disks[0].Name)
	assert.Equal(t, DriverLocal, disks[0].Driver)
}

func TestRegistry_RejectsUnnamedDisk(t *testing.T) {
	reg := NewRegistry()
	err := reg.Configure([]DiskConfig{{Driver: "fake"}})
	assert.ErrorContains(t, err, "has no name")
}

func TestRegistry_ResolveErrors(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Configure([]DiskConfig{
		{Name: "mongo", Driver: DriverGridFS},
		{Name: "custom", Driver: "my-driver"},
		{Name: "typed", Type: &DriverType{Name: "half"}},
	}))

	_, err := reg.Resolve("mongo")
	require.ErrorIs(t, err, ErrDriverNotInstalled)
	assert.ErrorContains(t, err, "import "+modulePath+"/gridfs")

	_, err = reg.Resolve("custom")
	require.ErrorIs(t, err, ErrDriverNotRegistered)
	assert.ErrorContains(t, err, "'my-driver'")

	_, err = reg.Resolve("typed")
	assert.ErrorIs(t, err, ErrDriverNotRegistered)

	_, err = reg.Resolve("missing")
	assert.ErrorIs(t, err, ErrDiskNotDefined)
}

func TestRegistry_CustomDriversAreAdditive(t *testing.T) {
	reg := NewRegistry()
	factory := func(cfg DiskConfig) (Driver, error) { return newFake(cfg), nil }

	require.NoError(t, reg.Configure(
		[]DiskConfig{{Name: "one", Driver: "legacy"}},
		DriverType{Name: "legacy", New: factory},
	))
	// Reconfiguring without custom types keeps the ones already known.
	require.NoError(t, reg.Configure([]DiskConfig{{Name: "two", Driver: "legacy"}}))

	d, err := reg.Resolve("two")
	require.NoError(t, err)
	assert.Equal(t, "two", d.Name())

	err = reg.Configure(nil, DriverType{Name: "broken"})
	assert.ErrorContains(t, err, "needs a name and a factory")
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Configure([]DiskConfig{{
		Name: "bad",
		Type: &DriverType{Name: "bad", New: func(DiskConfig) (Driver, error) {
			return nil, assert.AnError
		}},
	}}))

	_, err := reg.Resolve("bad")
	require.ErrorIs(t, err, assert.AnError)
	assert.ErrorContains(t, err, `create disk "bad"`)
}

func TestRegistry_Reset(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Configure([]DiskConfig{fakeDisk("a"), fakeDisk("b")}))
	reg.Reset()

	_, ok := reg.Lookup("a")
	assert.False(t, ok)
	_, ok = reg.Lookup("local")
	assert.True(t, ok)
}

func TestRegistry_DisksReturnsCopy(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Configure([]DiskConfig{fakeDisk("a")}))

	disks := reg.Disks()
	disks[0].Name = "mutated"

	_, ok := reg.Lookup("a")
	assert.True(t, ok)
}

func TestRegister(t *testing.T) {
	const name = "registry-test-driver"
	if !slices.Contains(Drivers(), name) {
		Register(name, func(cfg DiskConfig) (Driver, error) { return newFake(cfg), nil })
	}

	assert.Contains(t, Drivers(), name)
	assert.Panics(t, func() { Register(name, func(DiskConfig) (Driver, error) { return nil, nil }) })
	assert.Panics(t, func() { Register("nil-factory", nil) })

	reg := NewRegistry()
	require.NoError(t, reg.Configure([]DiskConfig{{Name: "r", Driver: name}}))
	d, err := reg.Resolve("r")
	require.NoError(t, err)
	assert.IsType(t, &fakeDriver{}, d)
}

func TestIsBuiltin(t *testing.T) {
	assert.True(t, IsBuiltin("s3"))
	assert.True(t, IsBuiltin("database"))
	assert.False(t, IsBuiltin("dropbox"))
}
