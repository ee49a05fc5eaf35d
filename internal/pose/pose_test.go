package pose

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footfall.report/internal/video"
)

func TestLandmark_PixelTruncates(t *testing.T) {
	tests := []struct {
		lm           Landmark
		w, h         int
		wantX, wantY int
	}{
		{Landmark{X: 0.5, Y: 0.5}, 640, 360, 320, 180},
		{Landmark{X: 0.3124, Y: 0.999}, 640, 360, 199, 359},
		{Landmark{X: 0, Y: 0}, 640, 360, 0, 0},
		{Landmark{X: 1, Y: 1}, 640, 360, 640, 360},
	}
	for _, tt := range tests {
		x, y := tt.lm.Pixel(tt.w, tt.h)
		if x != tt.wantX || y != tt.wantY {
			t.Errorf("Pixel(%+v) = (%d, %d), want (%d, %d)", tt.lm, x, y, tt.wantX, tt.wantY)
		}
	}
}

func TestLandmark_Valid(t *testing.T) {
	assert.True(t, Landmark{X: 0.2, Y: 0.4}.Valid())
	assert.False(t, Landmark{X: math.NaN(), Y: 0.4}.Valid())
	assert.False(t, Landmark{X: 0.2, Y: math.Inf(1)}.Valid())
}

func TestScript_Loops(t *testing.T) {
	s := NewScript(0.1, math.NaN(), 0.9)
	ctx := context.Background()

	var got []bool
	for i := 0; i < 6; i++ {
		_, ok, err := s.Extract(ctx, video.Frame{})
		require.NoError(t, err)
		got = append(got, ok)
	}
	assert.Equal(t, []bool{true, false, true, true, false, true}, got)
}

func TestScript_CancelledContext(t *testing.T) {
	s := NewScript(0.1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := s.Extract(ctx, video.Frame{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseScript(t *testing.T) {
	input := `# walk left to right
0.15
0.40 0.3
-
0.70,0.5
`
	s, err := ParseScript(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 4, s.Len())

	ctx := context.Background()
	lm, ok, _ := s.Extract(ctx, video.Frame{})
	assert.True(t, ok)
	assert.Equal(t, 0.15, lm.X)
	assert.Equal(t, 0.5, lm.Y)

	lm, ok, _ = s.Extract(ctx, video.Frame{})
	assert.True(t, ok)
	assert.Equal(t, 0.3, lm.Y)

	_, ok, _ = s.Extract(ctx, video.Frame{})
	assert.False(t, ok)

	lm, ok, _ = s.Extract(ctx, video.Frame{})
	assert.True(t, ok)
	assert.Equal(t, 0.70, lm.X)
}

func TestParseScript_Errors(t *testing.T) {
	for _, input := range []string{"", "# only comments\n", "abc\n", "0.1 0.2 0.3\n"} {
		if _, err := ParseScript(strings.NewReader(input)); err == nil {
			t.Errorf("ParseScript(%q) succeeded, want error", input)
		}
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := response{Seq: 7, Detected: true, Nose: Landmark{X: 0.25, Y: 0.5, Visibility: 0.9}}
	require.NoError(t, writeMessage(&buf, want))

	var got response
	require.NoError(t, readMessage(&buf, &got))
	assert.Equal(t, want, got)
}

func TestCodec_RejectsOversizedPrefix(t *testing.T) {
	buf := bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})
	var got response
	err := readMessage(buf, &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestCodec_TruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, request{Seq: 1, Width: 2, Height: 2}))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-1])

	var got request
	assert.Error(t, readMessage(truncated, &got))
}
