package hash_test

import (
	"testing"

	"github.com/usnistgov/eipring/core/testenv"
	"github.com/usnistgov/eipring/dma"
	"github.com/usnistgov/eipring/engine"
	"github.com/usnistgov/eipring/hwio/simdev"
)

var makeAR = testenv.MakeAR

type fixture struct {
	arena *dma.Arena
	dev   *simdev.SimDev
	eng   *engine.Engine
}

func makeFixture(t *testing.T, cfg engine.Config) *fixture {
	_, require := makeAR(t)
	f := &fixture{}

	var e error
	f.arena, e = dma.NewArena(1 << 22)
	require.NoError(e)
	t.Cleanup(func() { f.arena.Close() })

	f.dev, e = simdev.New(f.arena, simdev.Config{Rings: cfg.Rings})
	require.NoError(e)

	f.eng, e = engine.New(f.dev, f.arena, cfg)
	require.NoError(e)
	t.Cleanup(func() { f.eng.Close() })
	return f
}
