package vittrack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/menta2k/vit-tracker/internal/report"
	"github.com/menta2k/vit-tracker/internal/utils"
	"github.com/menta2k/vit-tracker/pkg/processing"
)

// Observer receives the progress of a Session. A non-nil error stops the run.
type Observer interface {
	OnStart(ctx context.Context, info SessionInfo) error
	OnFrame(ctx context.Context, rec FrameRecord, frame processing.Frame) error
	OnFinish(ctx context.Context, summary Summary) error
}

// ObserverFuncs adapts plain functions to an Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Start  func(ctx context.Context, info SessionInfo) error
	Frame  func(ctx context.Context, rec FrameRecord, frame processing.Frame) error
	Finish func(ctx context.Context, summary Summary) error
}

func (f ObserverFuncs) OnStart(ctx context.Context, info SessionInfo) error {
	if f.Start == nil {
		return nil
	}
	return f.Start(ctx, info)
}

func (f ObserverFuncs) OnFrame(ctx context.Context, rec FrameRecord, frame processing.Frame) error {
	if f.Frame == nil {
		return nil
	}
	return f.Frame(ctx, rec, frame)
}

func (f ObserverFuncs) OnFinish(ctx context.Context, summary Summary) error {
	if f.Finish == nil {
		return nil
	}
	return f.Finish(ctx, summary)
}

// RecordSink persists sessions and their frames
type RecordSink interface {
	BeginSession(ctx context.Context, info SessionInfo) (string, error)
	RecordFrame(ctx context.Context, sessionID string, rec FrameRecord) error
}

// FrameLogger appends frame records to a log
type FrameLogger interface {
	Record(rec FrameRecord) error
}

// LiveSink receives a session as it runs
type LiveSink interface {
	Start(info SessionInfo)
	Publish(rec FrameRecord)
	Finish(summary Summary)
}

type recorderObserver struct {
	r  RecordSink
	id string
}

// RecorderObserver stores the session and every frame in r. The caller
// closes r.
func RecorderObserver(r RecordSink) Observer {
	return &recorderObserver{r: r}
}

func (o *recorderObserver) OnStart(ctx context.Context, info SessionInfo) error {
	id, err := o.r.BeginSession(ctx, info)
	if err != nil {
		return err
	}
	o.id = id
	return nil
}

func (o *recorderObserver) OnFrame(ctx context.Context, rec FrameRecord, _ processing.Frame) error {
	return o.r.RecordFrame(ctx, o.id, rec)
}

func (o *recorderObserver) OnFinish(context.Context, Summary) error {
	return nil
}

// RawLogObserver appends every frame to w. The caller closes w.
func RawLogObserver(w FrameLogger) Observer {
	return ObserverFuncs{
		Frame: func(_ context.Context, rec FrameRecord, _ processing.Frame) error {
			return w.Record(rec)
		},
	}
}

// ServerObserver streams the session to s, typically the WebSocket server
func ServerObserver(s LiveSink) Observer {
	return ObserverFuncs{
		Start: func(_ context.Context, info SessionInfo) error {
			s.Start(info)
			return nil
		},
		Frame: func(_ context.Context, rec FrameRecord, _ processing.Frame) error {
			s.Publish(rec)
			return nil
		},
		Finish: func(_ context.Context, summary Summary) error {
			s.Finish(summary)
			return nil
		},
	}
}

// OverlayOptions configures OverlayObserver
type OverlayOptions struct {
	Dir     string
	Format  string
	Quality int
	Prefix  string
	Suffix  string
	// Label is drawn under the status line, typically the backend name
	Label string
}

type overlayObserver struct {
	proc *processing.Processor
	opts OverlayOptions
	fps  *FPSMeter
}

// OverlayObserver saves every frame with the tracking result drawn on it
func OverlayObserver(proc *processing.Processor, opts OverlayOptions) Observer {
	if proc == nil {
		proc = processing.NewProcessor()
	}
	if opts.Format == "" {
		opts.Format = "jpg"
	}
	if opts.Quality <= 0 {
		opts.Quality = 90
	}
	return &overlayObserver{proc: proc, opts: opts, fps: NewFPSMeter(DefaultFPSWindow)}
}

func (o *overlayObserver) OnStart(context.Context, SessionInfo) error {
	o.fps.Reset()
	return utils.EnsureDir(o.opts.Dir)
}

func (o *overlayObserver) OnFrame(_ context.Context, rec FrameRecord, frame processing.Frame) error {
	if rec.Reinit {
		o.fps.Reset()
	} else {
		o.fps.Add(rec.Latency)
	}
	out := o.proc.CreateOverlay(frame.Image, rec.Result, processing.OverlayInfo{FPS: o.fps.FPS(), Label: o.opts.Label})
	path := utils.OverlayFilename(frame.Name, rec.Index, o.opts.Dir, o.opts.Prefix, o.opts.Suffix, o.opts.Format)
	if err := o.proc.SaveImage(out, path, o.opts.Format, o.opts.Quality, false); err != nil {
		return fmt.Errorf("failed to save overlay: %w", err)
	}
	return nil
}

func (o *overlayObserver) OnFinish(context.Context, Summary) error {
	return nil
}

type reportObserver struct {
	path    string
	title   string
	info    SessionInfo
	records []FrameRecord
}

// ReportObserver writes an HTML report of the session to path when it ends
func ReportObserver(path, title string) Observer {
	return &reportObserver{path: path, title: title}
}

func (o *reportObserver) OnStart(_ context.Context, info SessionInfo) error {
	o.info = info
	o.records = nil
	return nil
}

func (o *reportObserver) OnFrame(_ context.Context, rec FrameRecord, _ processing.Frame) error {
	o.records = append(o.records, rec)
	return nil
}

func (o *reportObserver) OnFinish(_ context.Context, summary Summary) error {
	if err := utils.EnsureDir(filepath.Dir(o.path)); err != nil {
		return err
	}
	f, err := os.Create(o.path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	title := o.title
	if title == "" {
		title = o.info.Source
	}
	if err := report.WriteHTML(f, title, o.records, summary.Threshold); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
