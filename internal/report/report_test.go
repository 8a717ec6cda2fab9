package report

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/vit-tracker/pkg/types"
)

func record(index int, success, reinit bool, score float32, latencyMs int) types.FrameRecord {
	return types.FrameRecord{
		Index:   index,
		Reinit:  reinit,
		Result:  types.Result{Success: success, Score: score, Box: types.NewBoundingBox(index, 0, 10, 10)},
		Latency: time.Duration(latencyMs) * time.Millisecond,
	}
}

func TestSummarize(t *testing.T) {
	records := []types.FrameRecord{
		record(0, true, true, 0, 0),
		record(1, true, false, 0.5, 10),
		record(2, true, false, 0.5, 30),
		record(3, true, false, 1.0, 20),
		record(4, false, false, 0.0, 40),
	}

	s := Summarize(records, 0.25)
	assert.Equal(t, 5, s.Frames)
	assert.Equal(t, 4, s.Updates)
	assert.Equal(t, 1, s.Reinits)
	assert.Equal(t, 3, s.Tracked)
	assert.Equal(t, 1, s.Lost)
	assert.InDelta(t, 0.75, s.SuccessRate, 1e-12)
	assert.InDelta(t, 0.5, s.MeanScore, 1e-12)
	assert.InDelta(t, math.Sqrt(1.0/6.0), s.StdScore, 1e-9)
	assert.Equal(t, 20*time.Millisecond, s.LatencyP50)
	assert.Equal(t, 40*time.Millisecond, s.LatencyP95)
	assert.InDelta(t, 4/0.1, s.MeanFPS, 1e-9)
	assert.Equal(t, float32(0.25), s.Threshold)
}

func TestSummarizeEdgeCases(t *testing.T) {
	empty := Summarize(nil, 0.25)
	assert.Zero(t, empty.Frames)
	assert.Zero(t, empty.SuccessRate)

	onlyInit := Summarize([]types.FrameRecord{record(0, true, true, 0, 0)}, 0.25)
	assert.Equal(t, 1, onlyInit.Reinits)
	assert.Zero(t, onlyInit.Updates)

	single := Summarize([]types.FrameRecord{record(1, true, false, 0.75, 0)}, 0.25)
	assert.InDelta(t, 0.75, single.MeanScore, 1e-12)
	assert.Zero(t, single.StdScore)
	assert.Zero(t, single.MeanFPS, "zero latency must not produce an infinite rate")
}

func TestSummaryString(t *testing.T) {
	s := Summarize([]types.FrameRecord{record(1, true, false, 0.5, 10)}, 0.25)
	out := s.String()
	assert.Contains(t, out, "frames=1")
	assert.Contains(t, out, "success=100.0%")
}

func TestWriteHTML(t *testing.T) {
	records := []types.FrameRecord{
		record(0, true, true, 0, 0),
		record(1, true, false, 0.5, 10),
		record(2, false, false, 0.125, 12),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, "session", records, 0.25))

	html := buf.String()
	assert.True(t, strings.Contains(html, "<html"), "expected an HTML document")
	assert.Contains(t, html, "Tracking score")
	assert.Contains(t, html, "Update latency")
}
