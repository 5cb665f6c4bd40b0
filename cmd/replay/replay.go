package main

import (
	"errors"
	"fmt"

	persistlog "trafficeditor.app/internal/persistence/log"
	"trafficeditor.app/internal/sim/controller"
)

var errStop = errors.New("stop")

// replay re-steps ctl through the tick log and compares digests. Entries
// before startTick are skipped; reset entries reset the simulation and are
// verified like ticks.
func replay(ctl *controller.Controller, files []string, startTick, verifyFrom, toTick uint64) (uint64, error) {
	if verifyFrom < startTick {
		verifyFrom = startTick
	}
	var checked uint64
	for _, path := range files {
		err := persistlog.ReadTickLog(path, func(entry controller.TickLogEntry) error {
			if entry.Tick < startTick {
				return nil
			}
			if toTick != 0 && entry.Tick > toTick {
				return errStop
			}
			if entry.Tick != ctl.CurrentTick() {
				return fmt.Errorf("tick mismatch: want=%d got=%d", ctl.CurrentTick(), entry.Tick)
			}

			var got string
			if entry.Reset {
				ctl.ResetNow()
				got = ctl.Status().Digest
			} else {
				_, got = ctl.StepOnce()
			}
			if entry.Tick >= verifyFrom {
				checked++
				if got != entry.Digest {
					return fmt.Errorf("digest mismatch at tick %d (reset=%v): got=%s want=%s", entry.Tick, entry.Reset, got, entry.Digest)
				}
			}
			return nil
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return checked, fmt.Errorf("%s: %w", path, err)
		}
	}
	return checked, nil
}
