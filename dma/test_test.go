package dma_test

import (
	"github.com/usnistgov/eipring/core/testenv"
)

var makeAR = testenv.MakeAR
