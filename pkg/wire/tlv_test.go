package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTlvRoundTrip(t *testing.T) {
	buf := AppendCommand(nil, CommandSwitchActive)
	buf = AppendDummy(buf, 4)
	buf = AppendSentinel(buf)

	tlvs, err := All(buf)
	require.NoError(t, err)
	require.Len(t, tlvs, 2)

	assert.Equal(t, TlvCommand, tlvs[0].Type)
	assert.Equal(t, []byte{byte(CommandSwitchActive)}, tlvs[0].Value)

	assert.Equal(t, TlvDummy, tlvs[1].Type)
	assert.Equal(t, 4, len(tlvs[1].Value))
}

func TestTlvIteratorStopsAtSentinel(t *testing.T) {
	buf := AppendCommand(nil, CommandMuxProbe)
	buf = AppendSentinel(buf)
	buf = AppendDummy(buf, 2) // must never be reached

	tlvs, err := All(buf)
	require.NoError(t, err)
	require.Len(t, tlvs, 1)
	assert.Equal(t, TlvCommand, tlvs[0].Type)
}

func TestTlvIteratorDetectsLengthOverrun(t *testing.T) {
	buf := []byte{byte(TlvCommand), 0x00, 0x10, 0x01} // declares 16 bytes, has 1

	_, err := All(buf)
	assert.Error(t, err)
}

func TestTlvEmptyBufferYieldsNothing(t *testing.T) {
	tlvs, err := All(nil)
	require.NoError(t, err)
	assert.Empty(t, tlvs)
}
