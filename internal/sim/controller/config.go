package controller

import "time"

type Config struct {
	// ID names the run in logs, snapshots and the index.
	ID                 string
	TickRateHz         int
	SnapshotEveryTicks int
	// DT is the simulated seconds per tick, recorded in snapshots.
	DT float64
	// ViewerQueue is the per-viewer frame buffer; old frames are dropped.
	ViewerQueue int
}

func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = "run_1"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 30
	}
	if c.SnapshotEveryTicks < 0 {
		c.SnapshotEveryTicks = 0
	}
	if c.ViewerQueue <= 0 {
		c.ViewerQueue = 8
	}
}

func (c Config) tickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRateHz)
}
