package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	vittrack "github.com/menta2k/vit-tracker"
	"github.com/menta2k/vit-tracker/internal/rawlog"
	"github.com/menta2k/vit-tracker/internal/server"
	"github.com/menta2k/vit-tracker/internal/store"
	"github.com/menta2k/vit-tracker/internal/utils"
	"github.com/menta2k/vit-tracker/pkg/inference"
	"github.com/menta2k/vit-tracker/pkg/inference/worker"
	"github.com/menta2k/vit-tracker/pkg/processing"
	"github.com/menta2k/vit-tracker/pkg/types"
)

type trackOptions struct {
	Frames     string
	Video      string
	Box        string
	Locate     bool
	Worker     string
	GocvModel  string
	CUDA       bool
	OverlayDir string
	DB         string
	RawLog     string
	Report     string
	Serve      string
	SessionID  string
	Threshold  float32
	NoProgress bool
}

var trackOpts trackOptions

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Track one object through a frame directory or a video",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrack(cmd.Context(), cmd, trackOpts)
	},
}

func init() {
	f := trackCmd.Flags()
	f.StringVar(&trackOpts.Frames, "frames", "", "directory of frame images")
	f.StringVar(&trackOpts.Video, "video", "", "video file decoded through ffmpeg")
	f.StringVar(&trackOpts.Box, "box", "", "initial box as x,y,w,h in pixels of the first frame")
	f.BoolVar(&trackOpts.Locate, "locate", false, "find the initial box with the configured locator (vision model or saliency)")
	f.StringVar(&trackOpts.Worker, "worker", "", "inference worker command line, e.g. \"python3 -u scripts/worker.py model.onnx\"")
	f.StringVar(&trackOpts.GocvModel, "gocv-model", "", "ONNX model run in-process with OpenCV (needs -tags gocv)")
	f.BoolVar(&trackOpts.CUDA, "cuda", false, "use the CUDA backend for --gocv-model")
	f.StringVar(&trackOpts.OverlayDir, "overlay-dir", "", "write an overlay image per frame into this directory")
	f.StringVar(&trackOpts.DB, "db", "", "record results: sqlite:path, a .db file, or a postgres:// URL")
	f.StringVar(&trackOpts.RawLog, "rawlog", "", "directory for the binary result log")
	f.StringVar(&trackOpts.Report, "report", "", "write an HTML report to this file")
	f.StringVar(&trackOpts.Serve, "serve", "", "stream results over WebSocket on this address, e.g. :8090")
	f.StringVar(&trackOpts.SessionID, "session-id", "", "session ID (default: random UUID)")
	f.Float32Var(&trackOpts.Threshold, "threshold", 0, "confidence threshold override (0 keeps the config value)")
	f.BoolVar(&trackOpts.NoProgress, "no-progress", false, "disable the progress bar")

	trackCmd.MarkFlagsMutuallyExclusive("frames", "video")
	trackCmd.MarkFlagsOneRequired("frames", "video")
	trackCmd.MarkFlagsMutuallyExclusive("box", "locate")
	trackCmd.MarkFlagsOneRequired("box", "locate")
	trackCmd.MarkFlagsMutuallyExclusive("worker", "gocv-model")
	rootCmd.AddCommand(trackCmd)
}

// applyTrackFlags lets explicit flags override the config file
func applyTrackFlags(cmd *cobra.Command, opts trackOptions) {
	f := cmd.Flags()
	if f.Changed("threshold") {
		cfg.Tracker.Threshold = opts.Threshold
	}
	if f.Changed("worker") {
		cfg.Model.Backend = "worker"
		cfg.Model.WorkerCommand = strings.Fields(opts.Worker)
	}
	if f.Changed("gocv-model") {
		cfg.Model.Backend = "opencv"
		cfg.Model.ONNXPath = opts.GocvModel
	}
	if f.Changed("cuda") {
		cfg.Model.CUDA = opts.CUDA
	}
	if f.Changed("overlay-dir") {
		cfg.Output.OverlayDir = opts.OverlayDir
	}
	if f.Changed("rawlog") {
		cfg.Output.RawLogDir = opts.RawLog
	}
	if f.Changed("report") {
		cfg.Output.ReportPath = opts.Report
	}
	if f.Changed("serve") {
		cfg.Server.Addr = opts.Serve
	}
}

// openModel starts the configured inference backend
func openModel(ctx context.Context) (inference.Model, error) {
	switch cfg.Model.Backend {
	case "opencv":
		return openOpenCV(cfg.Model.ONNXPath, cfg.Tracker.ScoreSize, cfg.Model.CUDA)
	default:
		argv := cfg.Model.WorkerCommand
		wk, err := worker.Start(ctx, worker.Options{
			Command: argv[0],
			Args:    argv[1:],
			Grid:    cfg.Tracker.ScoreSize,
			Logger:  log,
		})
		if err != nil {
			return nil, err
		}
		return wk, nil
	}
}

// openSource picks the frame source: a directory of images, a raw MJPEG
// stream read directly, or any other video container through ffmpeg
func openSource(ctx context.Context, opts trackOptions, proc *processing.Processor) (processing.FrameSource, string, int, error) {
	if opts.Frames != "" {
		src, err := processing.NewDirSource(opts.Frames, proc)
		if err != nil {
			return nil, "", 0, err
		}
		return src, opts.Frames, src.Len(), nil
	}
	if !utils.IsVideoFile(opts.Video) {
		return nil, "", 0, fmt.Errorf("%s is not a supported video file (%s)", opts.Video, utils.GetFileExtension(opts.Video))
	}
	switch utils.GetFileExtension(opts.Video) {
	case "mjpeg", "mjpg":
		f, err := os.Open(opts.Video)
		if err != nil {
			return nil, "", 0, err
		}
		return processing.NewMJPEGSource(f, f, proc), opts.Video, 0, nil
	}
	src, err := processing.NewFFmpegSource(ctx, opts.Video, proc)
	if err != nil {
		return nil, "", 0, err
	}
	return src, opts.Video, processing.CountFrames(opts.Video), nil
}

// logWritten reports an output file and its size once it is complete
func logWritten(logger logrus.FieldLogger, what, path string) {
	info, err := os.Stat(path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Warnf("%s missing", what)
		return
	}
	logger.WithFields(logrus.Fields{
		"path": path,
		"size": utils.FormatFileSize(info.Size()),
	}).Infof("%s written", what)
}

func runTrack(ctx context.Context, cmd *cobra.Command, opts trackOptions) error {
	applyTrackFlags(cmd, opts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var initBox types.BoundingBox
	if opts.Box != "" {
		box, err := parseBox(opts.Box)
		if err != nil {
			return err
		}
		initBox = box
	}

	proc := processing.NewProcessor()
	src, sourceName, total, err := openSource(ctx, opts, proc)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.WithError(err).Warn("Frame source did not close cleanly")
		}
	}()

	model, err := openModel(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := inference.Close(model); err != nil {
			log.WithError(err).Warn("Model did not close cleanly")
		}
	}()

	sessOpts := vittrack.Options{
		Tracker:   cfg.Tracker,
		SessionID: opts.SessionID,
		Source:    sourceName,
		Backend:   cfg.Model.Backend,
		Logger:    log,
	}
	if opts.Locate {
		locator, err := newLocator()
		if err != nil {
			return err
		}
		sessOpts.Locator = locator
	}

	session, err := vittrack.NewSession(model, sessOpts)
	if err != nil {
		return err
	}

	closers, err := attachSinks(ctx, session, proc, opts.DB)
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.WithError(err).Warn("Sink did not close cleanly")
			}
		}
	}()
	if err != nil {
		return err
	}

	if !opts.NoProgress {
		session.AddObserver(progressObserver(total))
	}

	summary, err := session.Run(ctx, src, initBox)
	if errors.Is(err, context.Canceled) {
		log.Warn("Interrupted")
		err = nil
	}
	if path := cfg.Output.ReportPath; path != "" {
		logWritten(log, "Report", path)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Println(summary)
	return err
}

// attachSinks wires the configured outputs as observers and returns their
// close functions, also on error
func attachSinks(ctx context.Context, session *vittrack.Session, proc *processing.Processor, target string) ([]func() error, error) {
	var closers []func() error

	driver, dsn := cfg.Store.Driver, cfg.Store.DSN
	if target != "" {
		var err error
		if driver, dsn, err = store.ParseTarget(target); err != nil {
			return closers, err
		}
	}
	if driver != "" {
		rec, err := store.Open(ctx, driver, dsn)
		if err != nil {
			return closers, err
		}
		closers = append(closers, rec.Close)
		session.AddObserver(vittrack.RecorderObserver(rec))
	}

	if dir := cfg.Output.RawLogDir; dir != "" {
		w, err := rawlog.Create(dir, "vittrack")
		if err != nil {
			return closers, fmt.Errorf("failed to create raw log: %w", err)
		}
		closers = append(closers, func() error {
			if err := w.Close(); err != nil {
				return err
			}
			logWritten(log, "Raw log", w.Path())
			return nil
		})
		session.AddObserver(vittrack.RawLogObserver(w))
		log.WithField("path", w.Path()).Info("Writing raw log")
	}

	if dir := cfg.Output.OverlayDir; dir != "" {
		session.AddObserver(vittrack.OverlayObserver(proc, vittrack.OverlayOptions{
			Dir:     dir,
			Format:  cfg.Output.Format,
			Quality: cfg.Output.Quality,
			Prefix:  cfg.Output.Prefix,
			Suffix:  cfg.Output.Suffix,
			Label:   cfg.Model.Backend,
		}))
	}

	if path := cfg.Output.ReportPath; path != "" {
		session.AddObserver(vittrack.ReportObserver(path, "vittrack"))
	}

	if addr := cfg.Server.Addr; addr != "" {
		srv := server.New(log)
		srvCtx, cancel := context.WithCancel(ctx)
		go func() {
			if err := srv.ListenAndServe(srvCtx, addr); err != nil {
				log.WithError(err).Error("Live server stopped")
			}
		}()
		closers = append(closers, func() error { cancel(); return nil })
		session.AddObserver(vittrack.ServerObserver(srv))
	}

	return closers, nil
}

// progressObserver drives a progress bar on stderr. total <= 0 shows a spinner.
func progressObserver(total int) vittrack.Observer {
	if total <= 0 {
		total = -1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Tracking"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	return vittrack.ObserverFuncs{
		Frame: func(_ context.Context, rec vittrack.FrameRecord, _ processing.Frame) error {
			bar.Describe(fmt.Sprintf("Tracking %-8s score %.3f", processing.StatusText(rec.Result), rec.Result.Score))
			return bar.Add(1)
		},
		Finish: func(context.Context, vittrack.Summary) error {
			return bar.Finish()
		},
	}
}
