package linkstate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dualtor/muxmgrd/pkg/muxconfig"
)

func testConfig() muxconfig.MuxPortConfig {
	cfg := muxconfig.Default()
	cfg.LinkStateRetryCount = 2
	return cfg
}

func TestStartsDown(t *testing.T) {
	assert.Equal(t, Down, Initial().Label)
}

func TestDownToUpRequiresThreshold(t *testing.T) {
	cfg := testConfig()
	s := Initial()
	s = Next(s, LinkUp, cfg)
	assert.Equal(t, Down, s.Label)
	s = Next(s, LinkUp, cfg)
	assert.Equal(t, Up, s.Label)
}

func TestUpToDownRequiresThreshold(t *testing.T) {
	cfg := testConfig()
	s := State{Label: Up}
	s = Next(s, LinkDown, cfg)
	assert.Equal(t, Up, s.Label)
	s = Next(s, LinkDown, cfg)
	assert.Equal(t, Down, s.Label)
}

func TestOppositeEventResetsCounterWithoutFlipping(t *testing.T) {
	cfg := testConfig()
	s := State{Label: Down, UpCount: 1}
	s = Next(s, LinkDown, cfg)
	assert.Equal(t, State{Label: Down}, s)
}

func TestIdempotentAtConvergedLabel(t *testing.T) {
	cfg := testConfig()
	s := State{Label: Up}
	s = Next(s, LinkUp, cfg)
	assert.Equal(t, State{Label: Up}, s)
}
