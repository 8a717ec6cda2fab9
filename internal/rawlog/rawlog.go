// Package rawlog is an append-only binary log of frame results.
//
// A file starts with the 8-byte magic "VITTRAW1". Each record is a 12-byte
// little-endian header [u64 unix nanos][u32 payload length] followed by a CBOR
// encoded types.FrameRecord.
package rawlog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/menta2k/vit-tracker/pkg/types"
)

// Magic identifies a result log
const Magic = "VITTRAW1"

const (
	headerSize = 12
	maxPayload = 1 << 20
)

// ErrBadMagic means the file is not a result log
var ErrBadMagic = errors.New("rawlog: bad magic")

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
}

// Writer appends records to a log. It is safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
	now  func() time.Time
}

// Create makes a new log in dir named <timestamp>_<prefix>.bin
func Create(dir, prefix string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.bin", timestamp, prefix))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 64*1024)
	if _, err := w.WriteString(Magic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: w, path: path, now: time.Now}, nil
}

// Path returns the file being written
func (l *Writer) Path() string {
	return l.path
}

// Record appends rec and flushes it to the file
func (l *Writer) Record(rec types.FrameRecord) error {
	payload, err := encMode.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rawlog: encode frame %d: %w", rec.Index, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return fmt.Errorf("rawlog: writer is closed")
	}
	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(l.now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := l.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := l.w.Write(payload); err != nil {
		return err
	}
	return l.w.Flush()
}

// Close flushes and closes the file. Closing twice is a no-op.
func (l *Writer) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	if err := l.w.Flush(); err != nil {
		_ = l.f.Close()
		l.w = nil
		return err
	}
	err := l.f.Close()
	l.w = nil
	return err
}

// Entry is one decoded log record
type Entry struct {
	Written time.Time
	Record  types.FrameRecord
}

// Reader reads records back in order
type Reader struct {
	r io.Reader
}

// NewReader checks the magic and returns a reader positioned at the first record
func NewReader(r io.Reader) (*Reader, error) {
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("rawlog: read magic: %w", err)
	}
	if string(magic) != Magic {
		return nil, fmt.Errorf("%w %q", ErrBadMagic, string(magic))
	}
	return &Reader{r: bufio.NewReader(r)}, nil
}

// Next returns the next record, io.EOF after the last complete one, and
// io.ErrUnexpectedEOF if the log ends mid-record.
func (r *Reader) Next() (Entry, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		return Entry{}, err
	}
	ts := int64(binary.LittleEndian.Uint64(header[:8]))
	size := binary.LittleEndian.Uint32(header[8:12])
	if size == 0 || size > maxPayload {
		return Entry{}, fmt.Errorf("rawlog: invalid payload size %d", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Entry{}, err
	}

	var rec types.FrameRecord
	if err := cbor.Unmarshal(payload, &rec); err != nil {
		return Entry{}, fmt.Errorf("rawlog: decode record: %w", err)
	}
	return Entry{Written: time.Unix(0, ts), Record: rec}, nil
}

// ReadAll reads every record from r
func ReadAll(r io.Reader) ([]Entry, error) {
	lr, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for {
		e, err := lr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
}
