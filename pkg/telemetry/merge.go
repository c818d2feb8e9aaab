package telemetry

import (
	"time"

	"github.com/lattice-dev/lattice/pkg/reactive"
)

// Merge combines several hook sets into one. Callbacks fire in the
// order the sets were given. Fields that no input set populates stay
// nil, so the runtime keeps skipping them for free.
func Merge(hooks ...reactive.Hooks) reactive.Hooks {
	var merged reactive.Hooks

	var created []func(reactive.NodeInfo)
	var writes []func(reactive.NodeInfo)
	var recomputes []func(reactive.NodeInfo, time.Duration)
	var runs []func(reactive.NodeInfo, time.Duration)
	var disposed []func(reactive.NodeInfo)
	var storms []func(reactive.NodeInfo, int)

	for _, h := range hooks {
		if h.OnNodeCreated != nil {
			created = append(created, h.OnNodeCreated)
		}
		if h.OnSignalWrite != nil {
			writes = append(writes, h.OnSignalWrite)
		}
		if h.OnMemoRecompute != nil {
			recomputes = append(recomputes, h.OnMemoRecompute)
		}
		if h.OnEffectRun != nil {
			runs = append(runs, h.OnEffectRun)
		}
		if h.OnNodeDisposed != nil {
			disposed = append(disposed, h.OnNodeDisposed)
		}
		if h.OnStorm != nil {
			storms = append(storms, h.OnStorm)
		}
	}

	if len(created) > 0 {
		merged.OnNodeCreated = func(info reactive.NodeInfo) {
			for _, fn := range created {
				fn(info)
			}
		}
	}
	if len(writes) > 0 {
		merged.OnSignalWrite = func(info reactive.NodeInfo) {
			for _, fn := range writes {
				fn(info)
			}
		}
	}
	if len(recomputes) > 0 {
		merged.OnMemoRecompute = func(info reactive.NodeInfo, d time.Duration) {
			for _, fn := range recomputes {
				fn(info, d)
			}
		}
	}
	if len(runs) > 0 {
		merged.OnEffectRun = func(info reactive.NodeInfo, d time.Duration) {
			for _, fn := range runs {
				fn(info, d)
			}
		}
	}
	if len(disposed) > 0 {
		merged.OnNodeDisposed = func(info reactive.NodeInfo) {
			for _, fn := range disposed {
				fn(info)
			}
		}
	}
	if len(storms) > 0 {
		merged.OnStorm = func(info reactive.NodeInfo, runs int) {
			for _, fn := range storms {
				fn(info, runs)
			}
		}
	}

	return merged
}
