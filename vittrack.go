// Package vittrack runs a VitTrack single-object tracker over a stream of
// frames.
//
// The tracking core lives in the pkg/ packages: pkg/preprocess crops and
// normalizes the template and search regions, pkg/postprocess decodes the
// model's score maps into a box, and pkg/tracker ties both to an
// inference.Model. This package adds a Session that pulls frames from a
// processing.FrameSource, initializes the tracker from a given box (or from a
// vision-model locator), updates it on every later frame and fans the results
// out to Observers.
//
// Basic usage:
//
//	model, err := worker.Start(ctx, worker.Options{Command: "python3", Args: []string{"-u", "scripts/worker.py"}})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer model.Close()
//
//	src, err := processing.NewDirSource("frames/", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	session, err := vittrack.NewSession(model, vittrack.Options{Source: "frames/"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	summary, err := session.Run(ctx, src, types.NewBoundingBox(120, 80, 60, 90))
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(summary)
//
// Observers receive every FrameRecord; RecorderObserver, RawLogObserver,
// ServerObserver, OverlayObserver and ReportObserver adapt the storage, log,
// live stream, overlay and report sinks.
package vittrack

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/vit-tracker/internal/report"
	"github.com/menta2k/vit-tracker/pkg/inference"
	"github.com/menta2k/vit-tracker/pkg/processing"
	"github.com/menta2k/vit-tracker/pkg/tracker"
	"github.com/menta2k/vit-tracker/pkg/types"
)

// Version of the tracker library
const Version = "1.0.0"

// DefaultFPSWindow is the number of recent frames the FPS average covers
const DefaultFPSWindow = 30

// ErrNoInitBox means Run got an empty box and has no locator to find one
var ErrNoInitBox = errors.New("no initial box and no locator configured")

type (
	FrameRecord = types.FrameRecord
	SessionInfo = types.SessionInfo
	Summary     = report.Summary
)

// Locator finds the initial box in the first frame
type Locator interface {
	Locate(ctx context.Context, img image.Image) (types.BoundingBox, types.Subject, error)
}

// Options configures a Session
type Options struct {
	Tracker tracker.Config
	// SessionID is passed to observers; empty lets the store assign one
	SessionID string
	// Source and Backend describe the run in SessionInfo
	Source    string
	Backend   string
	Locator   Locator
	Observers []Observer
	FPSWindow int
	Logger    logrus.FieldLogger
}

// Session tracks one object through a frame source
type Session struct {
	tracker   *tracker.Tracker
	opts      Options
	log       logrus.FieldLogger
	observers []Observer
	fps       *FPSMeter
	records   []FrameRecord

	mu      sync.Mutex
	pending *types.BoundingBox
}

// NewSession creates a session around model. A zero opts.Tracker uses the
// default tracker configuration.
func NewSession(model inference.Model, opts Options) (*Session, error) {
	if opts.Tracker == (tracker.Config{}) {
		opts.Tracker = tracker.DefaultConfig()
	}
	t, err := tracker.NewWithConfig(model, opts.Tracker)
	if err != nil {
		return nil, err
	}
	if opts.FPSWindow <= 0 {
		opts.FPSWindow = DefaultFPSWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Session{
		tracker:   t,
		opts:      opts,
		log:       logger.WithField("component", "session"),
		observers: append([]Observer(nil), opts.Observers...),
		fps:       NewFPSMeter(opts.FPSWindow),
	}, nil
}

// AddObserver registers o for the next Run
func (s *Session) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// Tracker returns the underlying tracker
func (s *Session) Tracker() *tracker.Tracker {
	return s.tracker
}

// Reinit re-selects the target: the next frame initializes the tracker on
// box instead of updating it and the FPS average starts over. Safe to call
// from another goroutine.
func (s *Session) Reinit(box types.BoundingBox) {
	s.mu.Lock()
	s.pending = &box
	s.mu.Unlock()
}

func (s *Session) takePending() (types.BoundingBox, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return types.BoundingBox{}, false
	}
	box := *s.pending
	s.pending = nil
	return box, true
}

// FPS returns the mean per-frame update rate over the recent window
func (s *Session) FPS() float64 {
	return s.fps.FPS()
}

// Records returns the records of the last Run
func (s *Session) Records() []FrameRecord {
	return append([]FrameRecord(nil), s.records...)
}

// Run tracks through src until it ends or ctx is canceled. The first frame
// initializes the tracker on initBox, or on the locator's box when initBox
// is empty. Model errors stop the run and are returned wrapped with the
// frame index; the summary covers the frames processed so far.
func (s *Session) Run(ctx context.Context, src processing.FrameSource, initBox types.BoundingBox) (Summary, error) {
	s.records = nil
	s.fps.Reset()
	s.tracker.Reset()

	first, err := src.Next(ctx)
	if errors.Is(err, io.EOF) {
		return Summary{}, fmt.Errorf("frame source is empty")
	}
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read first frame: %w", err)
	}

	if initBox.Empty() {
		if s.opts.Locator == nil {
			return Summary{}, ErrNoInitBox
		}
		box, subject, err := s.opts.Locator.Locate(ctx, first.Image)
		if err != nil {
			return Summary{}, fmt.Errorf("failed to locate initial box: %w", err)
		}
		s.log.WithFields(logrus.Fields{"label": subject.Label, "box": box.Array()}).Info("Using located box")
		initBox = box
	}

	info := SessionInfo{
		ID:        s.opts.SessionID,
		Source:    s.opts.Source,
		Backend:   s.opts.Backend,
		InitBox:   initBox,
		Threshold: s.opts.Tracker.Threshold,
		StartedAt: time.Now(),
	}
	for _, o := range s.observers {
		if err := o.OnStart(ctx, info); err != nil {
			return Summary{}, fmt.Errorf("observer start failed: %w", err)
		}
	}
	log := s.log
	if info.ID != "" {
		log = log.WithField("session", info.ID)
	}
	log.WithFields(logrus.Fields{"source": info.Source, "box": initBox.Array()}).Info("Tracking started")

	s.Reinit(initBox)
	runErr := s.loop(ctx, src, first, log)

	summary := report.Summarize(s.records, s.opts.Tracker.Threshold)
	for _, o := range s.observers {
		if err := o.OnFinish(ctx, summary); err != nil && runErr == nil {
			runErr = fmt.Errorf("observer finish failed: %w", err)
		}
	}
	log.WithFields(logrus.Fields{
		"frames":  summary.Frames,
		"success": summary.SuccessRate,
		"fps":     summary.MeanFPS,
	}).Info("Tracking finished")
	return summary, runErr
}

func (s *Session) loop(ctx context.Context, src processing.FrameSource, frame processing.Frame, log logrus.FieldLogger) error {
	for index := 0; ; index++ {
		rec, err := s.step(ctx, index, frame)
		if err != nil {
			return fmt.Errorf("frame %d: %w", index, err)
		}
		s.records = append(s.records, rec)

		log.WithFields(logrus.Fields{
			"frame":   rec.Index,
			"score":   rec.Result.Score,
			"success": rec.Result.Success,
		}).Debug("Frame processed")

		for _, o := range s.observers {
			if err := o.OnFrame(ctx, rec, frame); err != nil {
				return fmt.Errorf("frame %d: observer failed: %w", index, err)
			}
		}

		frame, err = src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *Session) step(ctx context.Context, index int, frame processing.Frame) (FrameRecord, error) {
	img := processing.ToImage(frame.Image)

	if box, ok := s.takePending(); ok {
		s.tracker.Init(img, box)
		s.fps.Reset()
		return FrameRecord{
			Index:  index,
			Reinit: true,
			Result: types.Result{Success: true, Box: box},
			Time:   time.Now(),
		}, nil
	}

	start := time.Now()
	res, err := s.tracker.Update(ctx, img)
	if err != nil {
		return FrameRecord{}, err
	}
	latency := time.Since(start)
	s.fps.Add(latency)

	return FrameRecord{Index: index, Result: res, Latency: latency, Time: start}, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
