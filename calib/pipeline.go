package calib

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCalibration sets whether frames are turned into point clouds (default true).
func WithCalibration(enable bool) Option {
	return func(p *Pipeline) { p.calibration.Store(enable) }
}

// WithMirror sets whether device frames are mirrored back before calibration (default false).
func WithMirror(enable bool) Option {
	return func(p *Pipeline) { p.mirror.Store(enable) }
}

// WithNormals sets whether normals are estimated (default true).
func WithNormals(enable bool) Option {
	return func(p *Pipeline) { p.normals.Store(enable) }
}

// WithNormalSmoothing sets the normal estimation window in pixels.
func WithNormalSmoothing(pixels int) Option {
	return func(p *Pipeline) { p.smoothing = pixels }
}

// WithIdleWait bounds how long the worker sleeps when it has nothing to do.
func WithIdleWait(d time.Duration) Option {
	return func(p *Pipeline) { p.idleWait = d }
}

// WithCameraModel sets the camera model up front.
func WithCameraModel(model CameraModel) Option {
	return func(p *Pipeline) { p.model.Store(&model) }
}

// PipelineState is a snapshot of the pipeline flags and mailboxes. Session
// identifies the current worker run and changes every time one starts.
type PipelineState struct {
	State       WorkerState
	Session     string
	Calibration bool
	Mirror      bool
	Normals     bool
	Paused      bool

	RawPending        bool
	RawIndex          int
	CalibratedPending bool
	CalibratedIndex   int
}

// Stats counts what went through the pipeline since it was created.
type Stats struct {
	// Calibrated only counts frames of the current worker.
	Calibrated      uint64
	Taken           uint64
	RawDrops        uint64
	CalibratedDrops uint64
}

// Pipeline calibrates RGB-D frames on a background goroutine.
//
// Frames come in through SubmitFrame or a DeviceAdapter callback and land in a
// single-slot raw mailbox; the worker calibrates them and publishes into a
// single-slot calibrated mailbox that GetFrame reads. Neither side ever blocks:
// a new frame replaces an unread one.
//
// GetFrame must only be used by one consumer at a time.
type Pipeline struct {
	logger logging.Logger
	dev    DeviceAdapter

	calibration atomic.Bool
	mirror      atomic.Bool
	normals     atomic.Bool
	paused      atomic.Bool
	smoothing   int
	idleWait    time.Duration

	model atomic.Pointer[CameraModel]

	raw *rawMailbox
	out *calibratedMailbox

	// mu serializes connect, start and disconnect.
	mu        sync.Mutex
	w         *worker
	session   string
	connected bool
	running   atomic.Bool

	consumerMu sync.Mutex
}

// NewPipeline creates a pipeline. dev may be nil when frames only come from SubmitFrame.
func NewPipeline(dev DeviceAdapter, logger logging.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		logger:    logger,
		dev:       dev,
		smoothing: DefaultNormalSmoothing,
		idleWait:  defaultIdleWait,
		raw:       newRawMailbox(),
		out:       newCalibratedMailbox(),
	}
	p.calibration.Store(true)
	p.normals.Store(true)

	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pipeline) cameraModel() *CameraModel {
	return p.model.Load()
}

func (p *Pipeline) calibrateOptions() calibrateOptions {
	return calibrateOptions{
		calibration: p.calibration.Load(),
		mirror:      p.mirror.Load(),
		normals:     p.normals.Load(),
		smoothing:   p.smoothing,
	}
}

// SetCameraModel assigns the intrinsics and extrinsics used for calibration.
// It fails with ErrBusy if a frame is waiting or being calibrated.
func (p *Pipeline) SetCameraModel(model CameraModel) error {
	if err := model.CheckValid(); err != nil {
		return err
	}
	if p.running.Load() && p.raw.busy() {
		return ErrBusy
	}
	p.model.Store(&model)
	return nil
}

// Start runs the worker without a device, for frames given to SubmitFrame.
func (p *Pipeline) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return nil
	}
	if p.model.Load() == nil {
		return fmt.Errorf("%w: no camera model", ErrNotConnected)
	}
	p.startWorker()
	return nil
}

func (p *Pipeline) startWorker() {
	// a device callback racing the last disconnect may have left a frame behind
	p.raw.clear()
	p.raw.setPaused(p.paused.Load())
	p.session = uuid.NewString()
	p.w = newWorker(p.logger, p.raw, p.out, p, p.idleWait)
	p.w.start()
	p.running.Store(true)
}

// ConnectDevice connects the device adapter, asks it for synchronized frames,
// takes its intrinsics when no camera model was set, and starts calibrating
// what it delivers. Device failures wrap ErrDevice.
func (p *Pipeline) ConnectDevice(ctx context.Context, index int) error {
	if p.dev == nil {
		return fmt.Errorf("%w: no device adapter", ErrDevice)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected {
		return fmt.Errorf("%w: already connected", ErrDevice)
	}

	if err := p.dev.Connect(ctx, index); err != nil {
		return deviceError("connect", err)
	}

	if err := p.configureDevice(ctx); err != nil {
		return multierr.Combine(err, p.dev.Disconnect(ctx))
	}

	if !p.running.Load() {
		p.startWorker()
	}
	p.connected = true
	p.dev.OnFrame(p.deviceCallback)

	p.logger.Infof("connected to rgbd device %d session %s", index, p.session)
	return nil
}

func (p *Pipeline) configureDevice(ctx context.Context) error {
	if err := p.dev.SetSynchronization(ctx, true); err != nil {
		return deviceError("synchronization", err)
	}

	if p.model.Load() != nil {
		return nil
	}

	model, err := p.dev.Intrinsics(ctx)
	if err != nil {
		return deviceError("intrinsics", err)
	}
	if err := model.CheckValid(); err != nil {
		return deviceError("intrinsics", err)
	}
	p.model.Store(&model)
	return nil
}

// DisconnectDevice stops the worker and waits for it, disconnects the device
// if one is connected and releases the frame buffers. Once it returns nothing
// is published any more. Calling it again is a no-op.
func (p *Pipeline) DisconnectDevice(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.running.Store(false)
	if p.w != nil {
		p.w.stop()
	}

	var err error
	if p.connected {
		p.dev.OnFrame(nil)
		if derr := p.dev.Disconnect(ctx); derr != nil {
			err = deviceError("disconnect", derr)
		}
		p.connected = false
	}

	p.raw.clear()
	p.out.release()
	return err
}

// Close is DisconnectDevice.
func (p *Pipeline) Close(ctx context.Context) error {
	return p.DisconnectDevice(ctx)
}

// SetPause stops or resumes calibration. A frame being calibrated when pausing
// is still published. Frames keep landing in the raw mailbox while paused and
// only the latest one is calibrated on resume.
func (p *Pipeline) SetPause(pause bool) {
	p.paused.Store(pause)
	p.raw.setPaused(pause)
}

// SetCalibration turns point cloud generation on or off. While off, SubmitFrame
// is refused and device frames are passed through without a cloud.
func (p *Pipeline) SetCalibration(enable bool) {
	p.calibration.Store(enable)
}

// SetMirror turns mirroring of device frames on or off.
func (p *Pipeline) SetMirror(enable bool) {
	p.mirror.Store(enable)
}

// SetNormals turns normal estimation on or off.
func (p *Pipeline) SetNormals(enable bool) {
	p.normals.Store(enable)
}

// SubmitFrame hands a frame to the pipeline. It never blocks; a frame that was
// not calibrated yet is replaced. The buffers must not be modified until the
// frame has been calibrated, see FrameProcessed.
func (p *Pipeline) SubmitFrame(depth DepthGrid, col ColorBuffer, index int) error {
	if !p.calibration.Load() {
		return ErrCalibrationDisabled
	}
	if !p.running.Load() {
		return ErrNotConnected
	}

	col.Owned = false
	frame := RawFrame{Depth: depth, Color: col, Index: index, Source: SourceExternal}
	if err := p.checkFrame(frame); err != nil {
		return err
	}
	p.raw.Publish(frame)
	return nil
}

// checkFrame validates the buffers and makes sure the depth grid has the
// resolution the depth intrinsics were calibrated for.
func (p *Pipeline) checkFrame(frame RawFrame) error {
	if err := frame.checkValid(); err != nil {
		return err
	}
	model := p.model.Load()
	if model == nil {
		return nil
	}
	if frame.Depth.Width != model.Depth.Width || frame.Depth.Height != model.Depth.Height {
		return fmt.Errorf("%w: depth grid is %dx%d, camera model is %dx%d",
			ErrInvalidFrame, frame.Depth.Width, frame.Depth.Height, model.Depth.Width, model.Depth.Height)
	}
	return nil
}

// deviceCallback runs on the device's goroutine for every live frame.
func (p *Pipeline) deviceCallback(f DeviceFrame) {
	if !p.running.Load() {
		return
	}

	frame := RawFrame{Depth: f.Depth, Color: f.Color, Index: f.Index, Source: SourceDevice}
	frame.Color.Owned = true
	if err := p.checkFrame(frame); err != nil {
		p.logger.Warnf("dropping device frame %d: %v", f.Index, err)
		return
	}
	p.raw.Publish(frame)
}

// FrameProcessed is true when the last frame handed to the pipeline has been
// calibrated and taken by GetFrame, so a new frame will not replace anything
// unread. It does not block.
func (p *Pipeline) FrameProcessed() bool {
	// the worker publishes before clearing in-flight, so check raw first
	if p.raw.busy() {
		return false
	}
	pending, _ := p.out.IsPending()
	return !pending
}

// GetFrame copies the pending calibrated frame into out, reusing out's buffers.
// It returns false right away if there is none.
func (p *Pipeline) GetFrame(out *CalibratedFrame) bool {
	p.consumerMu.Lock()
	defer p.consumerMu.Unlock()
	return p.out.Take(out)
}

// Dimensions of the connected device, or of the camera model without one.
func (p *Pipeline) Dimensions(ctx context.Context) (Dimensions, error) {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()

	if connected {
		d, err := p.dev.Dimensions(ctx)
		if err != nil {
			return Dimensions{}, deviceError("dimensions", err)
		}
		return d, nil
	}

	model := p.model.Load()
	if model == nil {
		return Dimensions{}, ErrNotConnected
	}
	return Dimensions{
		RGBWidth:    model.RGB.Width,
		RGBHeight:   model.RGB.Height,
		DepthWidth:  model.Depth.Width,
		DepthHeight: model.Depth.Height,
	}, nil
}

// Intrinsics returns the camera model reported by the connected device, or the
// one that was set when no device is connected.
func (p *Pipeline) Intrinsics(ctx context.Context) (CameraModel, error) {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()

	if connected {
		m, err := p.dev.Intrinsics(ctx)
		if err != nil {
			return CameraModel{}, deviceError("intrinsics", err)
		}
		return m, nil
	}

	model := p.model.Load()
	if model == nil {
		return CameraModel{}, ErrNotConnected
	}
	return *model, nil
}

// State returns a snapshot of the flags and mailboxes.
func (p *Pipeline) State() PipelineState {
	s := PipelineState{
		Calibration: p.calibration.Load(),
		Mirror:      p.mirror.Load(),
		Normals:     p.normals.Load(),
		Paused:      p.paused.Load(),
	}
	s.RawPending, s.RawIndex = p.raw.IsPending()
	s.CalibratedPending, s.CalibratedIndex = p.out.IsPending()

	p.mu.Lock()
	if p.w != nil {
		s.State = p.w.State()
	}
	s.Session = p.session
	p.mu.Unlock()
	return s
}

// Stats returns the frame counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{RawDrops: p.raw.Drops()}
	s.CalibratedDrops, s.Taken = p.out.counts()

	p.mu.Lock()
	if p.w != nil {
		s.Calibrated = p.w.calibrated.Load()
	}
	p.mu.Unlock()
	return s
}
