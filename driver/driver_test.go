package driver

import (
	"errors"
	"testing"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recorder(log *[]string, name string, initErr, removeErr error) Func {
	return Func{
		ID: name,
		OnInit: func() error {
			*log = append(*log, "init "+name)
			return initErr
		},
		OnRemove: func() error {
			*log = append(*log, "remove "+name)
			return removeErr
		},
	}
}

func TestRegistryOrder(t *testing.T) {
	var log []string
	r := NewRegistry(nil)
	require.NoError(t, r.Register(recorder(&log, "rtc", nil, nil)))
	require.NoError(t, r.Register(recorder(&log, "kiss", nil, nil)))
	assert.Equal(t, []string{"rtc", "kiss"}, r.Names())

	require.NoError(t, r.InitAll())
	require.NoError(t, r.RemoveAll())
	assert.Equal(t, []string{"init rtc", "init kiss", "remove kiss", "remove rtc"}, log)
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(Func{ID: "rtc"}))

	err := r.Register(Func{ID: "rtc"})
	require.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, platformerrors.CodeAlreadyExists, platformerrors.GetCode(err))
}

func TestInitAllStopsAtFailure(t *testing.T) {
	var log []string
	boom := errors.New("boom")

	r := NewRegistry(nil)
	require.NoError(t, r.Register(recorder(&log, "a", nil, nil)))
	require.NoError(t, r.Register(recorder(&log, "b", boom, nil)))
	require.NoError(t, r.Register(recorder(&log, "c", nil, nil)))

	err := r.InitAll()
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "init b")

	// only the driver that started is removed
	require.NoError(t, r.RemoveAll())
	assert.Equal(t, []string{"init a", "init b", "remove a"}, log)
}

func TestRemoveAllJoinsErrors(t *testing.T) {
	var log []string
	e1, e2 := errors.New("first"), errors.New("second")

	r := NewRegistry(nil)
	require.NoError(t, r.Register(recorder(&log, "a", nil, e1)))
	require.NoError(t, r.Register(recorder(&log, "b", nil, nil)))
	require.NoError(t, r.Register(recorder(&log, "c", nil, e2)))
	require.NoError(t, r.InitAll())

	err := r.RemoveAll()
	require.ErrorIs(t, err, e1)
	require.ErrorIs(t, err, e2)
	assert.Equal(t, []string{"init a", "init b", "init c", "remove c", "remove b", "remove a"}, log)

	// nothing left to remove
	require.NoError(t, r.RemoveAll())
}

func TestInitAllResumes(t *testing.T) {
	var log []string
	r := NewRegistry(nil)
	require.NoError(t, r.Register(recorder(&log, "a", nil, nil)))
	require.NoError(t, r.InitAll())
	require.NoError(t, r.Register(recorder(&log, "b", nil, nil)))
	require.NoError(t, r.InitAll())
	assert.Equal(t, []string{"init a", "init b"}, log)
}

func TestFuncNilHooks(t *testing.T) {
	f := Func{ID: "noop"}
	assert.Equal(t, "noop", f.Name())
	assert.NoError(t, f.Init())
	assert.NoError(t, f.Remove())
}
