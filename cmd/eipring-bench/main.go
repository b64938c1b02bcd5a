// Command eipring-bench exercises the descriptor ring engine against the
// software device model and reports throughput.
package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/urfave/cli/v2"

	"github.com/usnistgov/eipring/core/version"
	"github.com/usnistgov/eipring/dma"
	"github.com/usnistgov/eipring/engine"
	"github.com/usnistgov/eipring/hash"
	"github.com/usnistgov/eipring/hwio/simdev"
)

var (
	rings           int
	ringEntries     int
	jobs            int
	payloadLen      int
	workers         int
	algName         string
	avoidDeviceRead bool
	streaming       bool
)

var app = &cli.App{
	Version: version.V.String(),
	Usage:   "Benchmark the descriptor ring engine on the software device model.",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:        "rings",
			Value:       2,
			Usage:       "ring pairs to allocate",
			Destination: &rings,
		},
		&cli.IntFlag{
			Name:        "ring-entries",
			Value:       512,
			Usage:       "descriptor slots per ring",
			Destination: &ringEntries,
		},
		&cli.IntFlag{
			Name:        "jobs",
			Value:       10000,
			Usage:       "hash jobs per worker",
			Destination: &jobs,
		},
		&cli.IntFlag{
			Name:        "payload",
			Value:       1024,
			Usage:       "payload `bytes` per job",
			Destination: &payloadLen,
		},
		&cli.IntFlag{
			Name:        "workers",
			Value:       4,
			Usage:       "concurrent transforms",
			Destination: &workers,
		},
		&cli.StringFlag{
			Name:        "alg",
			Value:       "sha256",
			Usage:       "hash algorithm: sha256 or sha3-256",
			Destination: &algName,
		},
		&cli.BoolFlag{
			Name:        "avoid-device-read",
			Usage:       "derive completion counts from written thresholds",
			Destination: &avoidDeviceRead,
		},
		&cli.BoolFlag{
			Name:        "stream",
			Usage:       "use streaming writes instead of one-shot sums",
			Destination: &streaming,
		},
	},
	Action: func(c *cli.Context) error {
		return run()
	},
}

func main() {
	if e := app.Run(os.Args); e != nil {
		log.Fatal(e)
	}
}

func run() error {
	var alg hash.Alg
	switch algName {
	case "sha256":
		alg = hash.SHA256
	case "sha3-256":
		alg = hash.SHA3_256
	default:
		return fmt.Errorf("unknown algorithm %q", algName)
	}

	arena, e := dma.NewArena(1 << 24)
	if e != nil {
		return e
	}
	defer arena.Close()

	dev, e := simdev.New(arena, simdev.Config{Rings: rings})
	if e != nil {
		return e
	}

	eng, e := engine.New(dev, arena, engine.Config{
		Rings:           rings,
		RingEntries:     ringEntries,
		AvoidDeviceRead: avoidDeviceRead,
		RecordEntries:   workers + 8,
	})
	if e != nil {
		return e
	}
	defer eng.Close()

	payload := make([]byte, payloadLen)
	rand.Read(payload)

	start := time.Now()
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		tr, e := hash.New(eng, alg)
		if e != nil {
			return e
		}
		wg.Add(1)
		go func(tr *hash.Transform) {
			defer wg.Done()
			defer tr.Close()
			if streaming {
				errs <- runStream(tr, payload)
				return
			}
			for k := 0; k < jobs; k++ {
				if _, e := tr.Sum(payload); e != nil {
					errs <- e
					return
				}
			}
			errs <- nil
		}(tr)
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		if e != nil {
			return e
		}
	}
	elapsed := time.Since(start)

	total := int64(workers) * int64(jobs)
	fmt.Printf("%d jobs of %d bytes on %d rings in %v\n", total, payloadLen, rings, elapsed)
	fmt.Printf("%.0f jobs/s, %.1f MB/s\n",
		float64(total)/elapsed.Seconds(),
		float64(total*int64(payloadLen))/elapsed.Seconds()/1e6)
	metrics.WriteOnce(eng.Metrics(), os.Stdout)
	return nil
}

func runStream(tr *hash.Transform, payload []byte) error {
	s := tr.NewStream()
	defer s.Close()
	for k := 0; k < jobs; k++ {
		if _, e := s.Write(payload); e != nil {
			return e
		}
	}
	_, e := s.Sum()
	return e
}
