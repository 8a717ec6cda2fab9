// Package worker runs the tracking model in an external process and talks to
// it over pipes.
//
// The child reads requests on stdin and writes responses on file descriptor 3,
// so anything it prints to stdout or stderr never corrupts the data stream.
// Stderr is captured and attached to load failures.
//
// Every frame starts with a big-endian uint32 body length. After starting,
// the child sends a ready frame whose body is [u8 status][u32 grid]. Each
// request body is
//
//	[u32 templateSize][u32 searchSize][f32 template...][f32 search...]
//
// and each response body is [u8 status][payload]. Status 0 carries
//
//	[u32 grid][f32 conf grid²][f32 size 2·grid²][f32 offset 2·grid²]
//
// and any other status carries a UTF-8 error message. Floats are IEEE-754
// big-endian.
package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/vit-tracker/pkg/inference"
	"github.com/menta2k/vit-tracker/pkg/tensor"
)

// StatusOK marks a successful response frame
const StatusOK = 0

// maxFrame bounds the body length accepted from the child
const maxFrame = 64 << 20

// Options configures the child process
type Options struct {
	// Command and Args start the worker, e.g. "python3", "-u", "scripts/worker.py"
	Command string
	Args    []string
	// Env is appended to the parent environment
	Env []string
	// Grid is the score grid the tracker expects; 0 accepts what the worker announces
	Grid   int
	Logger logrus.FieldLogger
}

// SafeCommand is an exec.Cmd whose stderr is kept in memory
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand prepares name with its stderr attached to a buffer
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Worker is a running model process. It is safe for concurrent use; calls
// are serialized.
type Worker struct {
	Cmd      *SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	grid int
	log  logrus.FieldLogger
	mu   sync.Mutex
	// broken is the I/O failure that left the stream out of sync
	broken error
}

// Start launches the worker and waits for its ready frame
func Start(ctx context.Context, opts Options) (*Worker, error) {
	if opts.Command == "" {
		return nil, inference.Errorf(inference.ErrLoad, "worker start", "no command given")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	sc := NewSafeCommand(opts.Command, opts.Args...)
	if len(opts.Env) > 0 {
		sc.Env = append(os.Environ(), opts.Env...)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, inference.Wrap(inference.ErrLoad, "worker pipe", err)
	}
	sc.ExtraFiles = []*os.File{w}

	stdin, err := sc.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, inference.Wrap(inference.ErrLoad, "worker stdin", err)
	}

	if err := sc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, inference.Wrap(inference.ErrLoad, "worker start", err)
	}
	// only the child holds the write end from here on
	w.Close()

	wk := &Worker{
		Cmd:      sc,
		Stdin:    stdin,
		DataPipe: r,
		grid:     opts.Grid,
		log:      logger.WithFields(logrus.Fields{"component": "worker", "command": opts.Command}),
	}

	ready := make(chan error, 1)
	go func() { ready <- wk.handshake() }()

	select {
	case err = <-ready:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		sc.Process.Kill()
		wk.Close()
		return nil, inference.Wrap(inference.ErrLoad, "worker handshake", wk.withStderr(err))
	}

	wk.log.WithFields(logrus.Fields{"pid": sc.Process.Pid, "grid": wk.grid}).Info("Model worker ready")
	return wk, nil
}

// Grid returns the score grid reported by the worker
func (w *Worker) Grid() int {
	return w.grid
}

func (w *Worker) handshake() error {
	status, body, err := ReadFrame(w.DataPipe)
	if err != nil {
		return fmt.Errorf("no ready frame: %w", err)
	}
	if status != StatusOK {
		return fmt.Errorf("worker refused to start: %s", strings.TrimSpace(string(body)))
	}
	if len(body) < 4 {
		return fmt.Errorf("ready frame too short: %d bytes", len(body))
	}
	grid := int(binary.BigEndian.Uint32(body))
	if grid <= 0 {
		return fmt.Errorf("worker announced invalid grid %d", grid)
	}
	if w.grid != 0 && grid != w.grid {
		return fmt.Errorf("worker grid %d does not match expected %d", grid, w.grid)
	}
	w.grid = grid
	return nil
}

// Infer sends one template/search pair and waits for the output maps.
// Canceling ctx while waiting closes the data pipe. After any I/O failure
// the worker is unusable and every later call fails with ErrRun.
func (w *Worker) Infer(ctx context.Context, template, search tensor.Tensor) (tensor.Maps, error) {
	if err := ctx.Err(); err != nil {
		return tensor.Maps{}, inference.Wrap(inference.ErrRun, "worker infer", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken != nil {
		return tensor.Maps{}, inference.Wrap(inference.ErrRun, "worker infer", fmt.Errorf("worker unusable: %w", w.broken))
	}

	if err := WriteRequest(w.Stdin, template, search); err != nil {
		w.broken = err
		return tensor.Maps{}, inference.Wrap(inference.ErrInput, "worker write", err)
	}

	stop := context.AfterFunc(ctx, func() { w.DataPipe.Close() })
	status, body, err := ReadFrame(w.DataPipe)
	if !stop() && ctx.Err() != nil {
		w.broken = ctx.Err()
		return tensor.Maps{}, inference.Wrap(inference.ErrRun, "worker read", ctx.Err())
	}
	if err != nil {
		w.broken = err
		return tensor.Maps{}, inference.Wrap(inference.ErrOutput, "worker read", err)
	}
	if status != StatusOK {
		return tensor.Maps{}, inference.Errorf(inference.ErrRun, "worker infer", "status %d: %s", status, strings.TrimSpace(string(body)))
	}
	return DecodeMaps(body, w.grid)
}

// Close shuts the worker down and waits for it to exit
func (w *Worker) Close() error {
	if w.Stdin != nil {
		w.Stdin.Close()
	}
	if w.DataPipe != nil {
		w.DataPipe.Close()
	}
	if w.Cmd == nil || w.Cmd.Process == nil {
		return nil
	}
	if err := w.Cmd.Wait(); err != nil {
		if w.log != nil {
			w.log.WithError(err).Debug("Model worker exited")
		}
		return fmt.Errorf("worker exit: %w", err)
	}
	return nil
}

func (w *Worker) withStderr(err error) error {
	if w.Cmd == nil || w.Cmd.Stderr.Len() == 0 {
		return err
	}
	return fmt.Errorf("%w\nworker stderr:\n%s", err, strings.TrimSpace(w.Cmd.Stderr.String()))
}

// WriteRequest encodes a request frame for template and search
func WriteRequest(dst io.Writer, template, search tensor.Tensor) error {
	bodyLen := 8 + 4*(len(template.Data)+len(search.Data))
	buf := bytes.NewBuffer(make([]byte, 0, 4+bodyLen))

	var word [4]byte
	for _, v := range []uint32{uint32(bodyLen), uint32(template.Size), uint32(search.Size)} {
		binary.BigEndian.PutUint32(word[:], v)
		buf.Write(word[:])
	}
	writeFloats(buf, template.Data)
	writeFloats(buf, search.Data)

	_, err := dst.Write(buf.Bytes())
	return err
}

// ReadFrame reads one length-prefixed frame and splits off its status byte
func ReadFrame(src io.Reader) (byte, []byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(src, header); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(header)
	if n == 0 {
		return 0, nil, fmt.Errorf("empty frame")
	}
	if n > maxFrame {
		return 0, nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(src, body); err != nil {
		return 0, nil, err
	}
	return body[0], body[1:], nil
}

// DecodeMaps parses a status-0 payload. wantGrid of 0 accepts any grid.
func DecodeMaps(payload []byte, wantGrid int) (tensor.Maps, error) {
	if len(payload) < 4 {
		return tensor.Maps{}, inference.Errorf(inference.ErrOutput, "worker decode", "payload too short: %d bytes", len(payload))
	}
	grid := int(binary.BigEndian.Uint32(payload))
	if wantGrid != 0 && grid != wantGrid {
		return tensor.Maps{}, inference.Errorf(inference.ErrOutput, "worker decode", "grid %d, expected %d", grid, wantGrid)
	}
	cells := grid * grid
	if grid <= 0 || len(payload)-4 != 4*5*cells {
		return tensor.Maps{}, inference.Errorf(inference.ErrOutput, "worker decode", "payload of %d bytes does not hold a %dx%d grid", len(payload), grid, grid)
	}

	values := readFloats(payload[4:])
	return inference.CheckMaps("worker decode", grid, values[:cells], values[cells:3*cells], values[3*cells:])
}

// WriteMaps encodes m as a status-0 response frame
func WriteMaps(dst io.Writer, m tensor.Maps) error {
	cells := len(m.Conf) + len(m.Size) + len(m.Offset)
	bodyLen := 1 + 4 + 4*cells
	buf := bytes.NewBuffer(make([]byte, 0, 4+bodyLen))

	var word [4]byte
	binary.BigEndian.PutUint32(word[:], uint32(bodyLen))
	buf.Write(word[:])
	buf.WriteByte(StatusOK)
	binary.BigEndian.PutUint32(word[:], uint32(m.Grid))
	buf.Write(word[:])
	writeFloats(buf, m.Conf)
	writeFloats(buf, m.Size)
	writeFloats(buf, m.Offset)

	_, err := dst.Write(buf.Bytes())
	return err
}

// WriteStatus encodes a response frame with a status byte and payload
func WriteStatus(dst io.Writer, status byte, payload []byte) error {
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header, uint32(len(payload)+1))
	header[4] = status
	if _, err := dst.Write(header); err != nil {
		return err
	}
	_, err := dst.Write(payload)
	return err
}

// WriteReady encodes the handshake frame announcing grid
func WriteReady(dst io.Writer, grid int) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(grid))
	return WriteStatus(dst, StatusOK, payload)
}

func writeFloats(buf *bytes.Buffer, values []float32) {
	var word [4]byte
	for _, v := range values {
		binary.BigEndian.PutUint32(word[:], math.Float32bits(v))
		buf.Write(word[:])
	}
}

func readFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(b[4*i:]))
	}
	return out
}
