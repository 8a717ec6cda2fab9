package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/menta2k/vit-tracker/internal/rawlog"
)

var dumpCmd = &cobra.Command{
	Use:   "dump FILE",
	Short: "Print a binary result log as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := dumpLog(f, os.Stdout)
		log.WithField("records", n).Debug("Dump finished")
		return err
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}

type dumpLine struct {
	Written time.Time `json:"written"`
	Frame   int       `json:"frame"`
	X       int       `json:"x"`
	Y       int       `json:"y"`
	W       int       `json:"w"`
	H       int       `json:"h"`
	Score   float32   `json:"score"`
	Success bool      `json:"success"`
	Reinit  bool      `json:"reinit,omitempty"`
	Latency float64   `json:"latency_ms"`
}

// dumpLog writes one JSON object per record and returns how many it wrote.
// Records read before a truncated tail are still written.
func dumpLog(r io.Reader, w io.Writer) (int, error) {
	lr, err := rawlog.NewReader(r)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	n := 0
	for {
		e, err := lr.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("record %d: %w", n, err)
		}
		b := e.Record.Result.Box
		line := dumpLine{
			Written: e.Written,
			Frame:   e.Record.Index,
			X:       b.X,
			Y:       b.Y,
			W:       b.Width,
			H:       b.Height,
			Score:   e.Record.Result.Score,
			Success: e.Record.Result.Success,
			Reinit:  e.Record.Reinit,
			Latency: float64(e.Record.Latency) / float64(time.Millisecond),
		}
		if err := enc.Encode(line); err != nil {
			return n, err
		}
		n++
	}
}
