package descring_test

import (
	"github.com/usnistgov/eipring/core/testenv"
	"github.com/usnistgov/eipring/dma"
)

var makeAR = testenv.MakeAR

func makeArena(size int) *dma.Arena {
	a, e := dma.NewArena(size)
	if e != nil {
		panic(e)
	}
	return a
}
