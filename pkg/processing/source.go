package processing

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/menta2k/vit-tracker/internal/utils"
)

const megabyte = 1 << 20

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// Frame is one decoded video frame
type Frame struct {
	Index int
	Name  string
	Image image.Image
}

// FrameSource yields frames in order and returns io.EOF after the last one
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// DirSource reads image files from a directory in natural frame order
type DirSource struct {
	proc  *Processor
	files []string
	next  int
}

// NewDirSource lists the image files under dir
func NewDirSource(dir string, proc *Processor) (*DirSource, error) {
	if !utils.DirExists(dir) {
		return nil, fmt.Errorf("frame directory %s does not exist", dir)
	}
	files, err := utils.ListImageFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files found in %s", dir)
	}
	if proc == nil {
		proc = NewProcessor()
	}
	return &DirSource{proc: proc, files: files}, nil
}

// Len returns the number of frames in the directory
func (s *DirSource) Len() int {
	return len(s.files)
}

// Next loads the next file
func (s *DirSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.next >= len(s.files) {
		return Frame{}, io.EOF
	}
	path := s.files[s.next]
	img, err := s.proc.LoadImage(path)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to load frame %s: %w", path, err)
	}
	f := Frame{Index: s.next, Name: filepath.Base(path), Image: img}
	s.next++
	return f, nil
}

// Close is a no-op
func (s *DirSource) Close() error {
	return nil
}

// SplitJpeg is a bufio.SplitFunc that yields whole JPEG images from an MJPEG
// stream by locating the SOI (FFD8) and EOI (FFD9) markers
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// MJPEGSource decodes concatenated JPEG images from a stream
type MJPEGSource struct {
	proc    *Processor
	scanner *bufio.Scanner
	closer  io.Closer
	next    int
}

// NewMJPEGSource reads frames from r. c, if not nil, is closed by Close.
func NewMJPEGSource(r io.Reader, c io.Closer, proc *Processor) *MJPEGSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(SplitJpeg)
	if proc == nil {
		proc = NewProcessor()
	}
	return &MJPEGSource{proc: proc, scanner: scanner, closer: c}
}

// Next decodes the next JPEG in the stream
func (s *MJPEGSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return Frame{}, fmt.Errorf("frame scanner failed: %w", err)
		}
		return Frame{}, io.EOF
	}
	img, err := s.proc.DecodeImage(s.scanner.Bytes())
	if err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame %d: %w", s.next, err)
	}
	f := Frame{Index: s.next, Name: fmt.Sprintf("frame_%06d", s.next), Image: img}
	s.next++
	return f, nil
}

// Close closes the underlying stream
func (s *MJPEGSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// FFmpegSource decodes a video file through an ffmpeg MJPEG pipe
type FFmpegSource struct {
	*MJPEGSource
	cmd    *exec.Cmd
	stderr *bytes.Buffer
}

// NewFFmpegCmd creates an ffmpeg process writing MJPEG frames to stdout
func NewFFmpegCmd(ctx context.Context, inputPath string) *exec.Cmd {
	return exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-i", inputPath, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// NewFFmpegSource starts ffmpeg on inputPath
func NewFFmpegSource(ctx context.Context, inputPath string, proc *Processor) (*FFmpegSource, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	cmd := NewFFmpegCmd(ctx, inputPath)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	return &FFmpegSource{
		MJPEGSource: NewMJPEGSource(out, nil, proc),
		cmd:         cmd,
		stderr:      stderr,
	}, nil
}

// Close waits for ffmpeg and reports its stderr on failure
func (s *FFmpegSource) Close() error {
	if s.cmd.Process != nil && s.cmd.ProcessState == nil {
		s.cmd.Process.Kill()
	}
	err := s.cmd.Wait()
	if err == nil || strings.Contains(err.Error(), "killed") {
		return nil
	}
	if s.stderr.Len() > 0 {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(s.stderr.String()))
	}
	return fmt.Errorf("ffmpeg failed: %w", err)
}

// CountFrames asks ffprobe for the number of video frames. It returns 0 when
// the count is unavailable.
func CountFrames(path string) int {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0
	}

	type ffprobeOutput struct {
		Streams []struct {
			NbFrames string `json:"nb_frames"`
		} `json:"streams"`
	}

	out, err := exec.Command("ffprobe", "-v", "error", "-select_streams", "v:0", "-show_entries", "stream=nb_frames", "-of", "json", path).Output()
	if err != nil {
		return 0
	}
	var res ffprobeOutput
	if json.Unmarshal(out, &res) != nil || len(res.Streams) == 0 {
		return 0
	}
	n, err := strconv.Atoi(res.Streams[0].NbFrames)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
