package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dualtor/muxmgrd/pkg/muxstate"
)

func TestFakeSetMuxStateNotifies(t *testing.T) {
	var got []Notification
	f := NewFake(func(n Notification) { got = append(got, n) })
	f.Register("Ethernet0", muxstate.Standby)

	err := f.SetMuxState(context.Background(), "Ethernet0", muxstate.Active)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, MuxStateNotification, got[0].Kind)
	assert.Equal(t, LabelActive, got[0].Label)
}

func TestFakeUnknownPortErrors(t *testing.T) {
	f := NewFake(nil)
	err := f.SetMuxState(context.Background(), "Ethernet4", muxstate.Active)
	assert.ErrorIs(t, err, ErrUnknownPort)
}

func TestFakeScriptedFailureSuppressesNotification(t *testing.T) {
	var got []Notification
	f := NewFake(func(n Notification) { got = append(got, n) })
	f.Register("Ethernet0", muxstate.Standby)
	f.FailNextSet(errors.New("transient rpc failure"))

	err := f.SetMuxState(context.Background(), "Ethernet0", muxstate.Active)
	assert.Error(t, err)
	assert.Empty(t, got, "a failed RPC must not also deliver a notification")
}

func TestFailureLabelMapsToMuxUnknown(t *testing.T) {
	assert.Equal(t, muxstate.Unknown, LabelFailure.AsMuxLabel())
}
