package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSparkline(t *testing.T) {
	assert.Equal(t, "", Sparkline(nil, 10))
	assert.Equal(t, "", Sparkline([]float64{1}, 0))
	assert.Equal(t, "▁█", Sparkline([]float64{1, 9}, 10))
	assert.Equal(t, "▅▅▅", Sparkline([]float64{4, 4, 4}, 10), "flat series sits in the middle")
	assert.Equal(t, "▁▄█", Sparkline([]float64{100, 1, 5, 9}, 3), "only the newest values are shown")
}

func TestRenderSparkline(t *testing.T) {
	out := RenderSparkline([]float64{1, 2}, 5, ColorSuccess)
	assert.Contains(t, out, "▁█")
	assert.Equal(t, "", RenderSparkline(nil, 5, ColorSuccess))
}

func TestFitColumns(t *testing.T) {
	cols := FitColumns([]string{"HOST", "OUTPUT"}, [][]string{
		{"core-router-1", strings.Repeat("x", 200)},
		{"a"},
	}, 40)
	assert.Equal(t, []TableColumn{{Title: "HOST", Width: 13}, {Title: "OUTPUT", Width: 40}}, cols)
}

func TestRenderSimpleTable(t *testing.T) {
	assert.Equal(t, "", RenderSimpleTable([]TableColumn{{Title: "HOST", Width: 8}}, nil))

	out := RenderSimpleTable(
		[]TableColumn{{Title: "HOST", Width: 8}, {Title: "ADDRESS", Width: 12}},
		[][]string{{"core-1", "10.0.0.1"}, {"core-2", "10.0.0.2"}},
	)
	assert.Contains(t, out, "HOST")
	assert.Contains(t, out, "core-1")
	assert.Contains(t, out, "10.0.0.2")
}

func TestPadRight(t *testing.T) {
	assert.Equal(t, "ab  ", PadRight("ab", 4))
	assert.Equal(t, "abcdef", PadRight("abcdef", 4))
}

func TestNewSpinner(t *testing.T) {
	sp := NewSpinner()
	assert.Equal(t, SpinnerFrames.Frames, sp.Spinner.Frames)
}
