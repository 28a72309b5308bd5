package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver/sim"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/profiler"
)

// kernelMix approximates a training step: a few heavy matmuls, elementwise
// ops, and a reduction.
var kernelMix = []sim.LaunchParams{
	{
		KernelName: "sgemm_128x128", DurationNs: 850_000,
		GridX: 256, GridY: 4, GridZ: 1,
		BlockX: 128, BlockY: 1, BlockZ: 1,
		RegsPerThrd: 96, DynamicSmem: 49152,
	},
	{
		KernelName: "bias_relu", DurationNs: 42_000,
		GridX: 1024, GridY: 1, GridZ: 1,
		BlockX: 256, BlockY: 1, BlockZ: 1,
		RegsPerThrd: 24,
	},
	{
		KernelName: "reduce_sum", DurationNs: 110_000,
		GridX: 64, GridY: 1, GridZ: 1,
		BlockX: 512, BlockY: 1, BlockZ: 1,
		RegsPerThrd: 32, DynamicSmem: 4096,
	},
}

// runWorkload drives the simulated driver with a steady stream of ranged
// kernel launches so the engine has something to collect.
func runWorkload(
	ctx context.Context,
	log logrus.FieldLogger,
	drv *sim.Driver,
	p profiler.Profiler,
) {
	wlog := log.WithField("component", "workload")

	ctxID, err := drv.CreateContext(0)
	if err != nil {
		wlog.WithError(err).Error("Failed to create workload context")

		return
	}

	wlog.WithField("context", ctxID).Info("Synthetic workload started")

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	step := 0

	for {
		select {
		case <-ctx.Done():
			wlog.WithField("steps", step).Info("Synthetic workload stopped")

			return
		case <-ticker.C:
			step++

			name := fmt.Sprintf("step_%d", step%8)
			if err := p.PushRange(ctxID, name); err != nil {
				wlog.WithError(err).Debug("Push failed, session recycling")

				continue
			}

			for _, params := range kernelMix {
				jittered := params
				jittered.DurationNs += uint64(rand.Int63n(20_000))

				if err := drv.LaunchKernel(ctxID, jittered); err != nil {
					wlog.WithError(err).Warn("Launch failed")
				}
			}

			if err := p.PopRange(ctxID); err != nil {
				wlog.WithError(err).Debug("Pop failed")
			}
		}
	}
}
