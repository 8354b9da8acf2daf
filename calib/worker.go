package calib

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// WorkerState is the lifecycle state of the calibration worker.
type WorkerState int32

const (
	// StateIdle means no worker was started yet.
	StateIdle WorkerState = iota
	// StateRunning means the worker drains the raw mailbox.
	StateRunning
	// StatePaused means the worker is alive but takes no frames.
	StatePaused
	// StateStopped means the worker exited and was joined.
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

const (
	defaultIdleWait = 10 * time.Millisecond
	slowCalibration = 100 * time.Millisecond
)

// settings is what the worker reads from the pipeline for every frame.
type settings interface {
	cameraModel() *CameraModel
	calibrateOptions() calibrateOptions
}

// worker owns the goroutine that moves frames from the raw mailbox, through
// the calibrator, into the calibrated mailbox. No lock is held while a frame
// is calibrated.
type worker struct {
	logger   logging.Logger
	raw      *rawMailbox
	out      *calibratedMailbox
	settings settings
	idleWait time.Duration

	state      atomic.Int32
	calibrated atomic.Uint64

	// only touched by the worker goroutine
	calibrator calibrator
	scratch    *CalibratedFrame

	workers *goutils.StoppableWorkers
}

func newWorker(logger logging.Logger, raw *rawMailbox, out *calibratedMailbox, s settings, idleWait time.Duration) *worker {
	if idleWait <= 0 {
		idleWait = defaultIdleWait
	}
	return &worker{
		logger:   logger,
		raw:      raw,
		out:      out,
		settings: s,
		idleWait: idleWait,
		scratch:  &CalibratedFrame{},
	}
}

func (w *worker) start() {
	w.state.Store(int32(StateRunning))
	w.workers = goutils.NewBackgroundStoppableWorkers(w.run)
}

// stop cancels the loop, wakes it if idle and waits for it to exit.
func (w *worker) stop() {
	if w.workers != nil {
		w.workers.Stop()
	}
	w.state.Store(int32(StateStopped))
	w.scratch.Release()
}

func (w *worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *worker) run(ctx context.Context) {
	for ctx.Err() == nil {
		frame, ok := w.raw.TryTake()
		if !ok {
			w.markIdle()
			w.wait(ctx)
			continue
		}
		w.state.Store(int32(StateRunning))
		w.process(frame)
	}
}

func (w *worker) markIdle() {
	if w.raw.isPaused() {
		w.state.Store(int32(StatePaused))
	} else {
		w.state.Store(int32(StateRunning))
	}
}

// wait blocks until a frame is published, the pause flag changes, ctx is done,
// or idleWait passes, whichever comes first.
func (w *worker) wait(ctx context.Context) {
	t := time.NewTimer(w.idleWait)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-w.raw.wake:
	case <-t.C:
	}
}

func (w *worker) process(frame RawFrame) {
	defer w.raw.done()

	opts := w.settings.calibrateOptions()
	model := w.settings.cameraModel()
	if model == nil {
		opts.calibration = false
	}

	start := time.Now()
	w.calibrator.calibrate(frame, model, opts, w.scratch)
	elapsed := time.Since(start)
	if elapsed > slowCalibration {
		w.logger.Infof("calibrating frame %d (%dx%d) took %v", frame.Index, frame.Depth.Width, frame.Depth.Height, elapsed)
	}
	if w.scratch.HasCloud && w.scratch.ValidCount() == 0 {
		w.logger.Debugf("frame %d has no valid depth", frame.Index)
	}

	w.scratch = w.out.Publish(w.scratch)
	w.calibrated.Add(1)
}
