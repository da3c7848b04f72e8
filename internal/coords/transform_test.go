package coords

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
)

const letterHeight = 792.0

func box(id string, x, y, w, h float64) fieldmap.FieldDefinition {
	return fieldmap.FieldDefinition{
		ID: id, Label: id, Kind: fieldmap.Text{}, Page: 1,
		X: x, Y: y, Width: w, Height: h, FontSize: 10,
	}
}

func TestScreenToDoc(t *testing.T) {
	p := ScreenToDoc(50, 50, 1.2, letterHeight)
	assert.InDelta(t, 41.6667, p.X, 0.001)
	assert.InDelta(t, 750.3333, p.Y, 0.001)

	// Out-of-page positions pass through unclamped
	p = ScreenToDoc(-10, 1000, 1, letterHeight)
	assert.Equal(t, -10.0, p.X)
	assert.Equal(t, -208.0, p.Y)
}

func TestCoordinateInversion(t *testing.T) {
	scales := []float64{0.5, 0.75, 1, 1.2, 1.5, 2, 3.3}
	heights := []float64{0, 100, 612, 792, 1224.5}
	points := []Point{{0, 0}, {50, 50}, {612.3, 791.9}, {-20, 15}, {1000, -40}}

	for _, s := range scales {
		for _, h := range heights {
			for _, sp := range points {
				doc := ScreenToDoc(sp.X, sp.Y, s, h)
				back := DocToScreen(doc.X, doc.Y, s, h)
				assert.InDelta(t, sp.X, back.X, 1e-9, "scale=%v height=%v point=%v", s, h, sp)
				assert.InDelta(t, sp.Y, back.Y, 1e-9, "scale=%v height=%v point=%v", s, h, sp)
			}
		}
	}
}

func TestHitTest(t *testing.T) {
	f := box("driver_name", 100, 700, 150, 14)

	tests := []struct {
		name   string
		sx, sy float64
		scale  float64
		want   bool
	}{
		{name: "inside", sx: 110, sy: 82, scale: 1, want: true},
		{name: "above box", sx: 110, sy: 50, scale: 1, want: false},
		{name: "top edge", sx: 100, sy: 78, scale: 1, want: true},
		{name: "bottom edge", sx: 250, sy: 92, scale: 1, want: true},
		{name: "right of box", sx: 251, sy: 82, scale: 1, want: false},
		{name: "below box", sx: 110, sy: 93, scale: 1, want: false},
		{name: "scaled inside", sx: 220, sy: 170, scale: 2, want: true},
		{name: "scaled outside", sx: 110, sy: 82, scale: 2, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HitTest(tt.sx, tt.sy, tt.scale, letterHeight, f))
		})
	}
}

func TestFirstHit_OverlapPicksFirstInList(t *testing.T) {
	first := box("first", 100, 700, 150, 14)
	second := box("second", 120, 695, 150, 20)
	fields := []fieldmap.FieldDefinition{first, second}

	hit, ok := FirstHit(130, 85, 1, letterHeight, fields)
	assert.True(t, ok)
	assert.Equal(t, "first", hit.ID)

	// Reversing the list flips the winner
	hit, ok = FirstHit(130, 85, 1, letterHeight, []fieldmap.FieldDefinition{second, first})
	assert.True(t, ok)
	assert.Equal(t, "second", hit.ID)

	_, ok = FirstHit(10, 10, 1, letterHeight, fields)
	assert.False(t, ok)
}

func TestOverlayRect_MatchesHitRegion(t *testing.T) {
	f := box("a", 100, 700, 150, 14)

	r := OverlayRect(f, 1.5, letterHeight)
	assert.InDelta(t, 150, r.X, 1e-9)
	assert.InDelta(t, 117, r.Y, 1e-9)
	assert.InDelta(t, 225, r.Width, 1e-9)
	assert.InDelta(t, 21, r.Height, 1e-9)

	assert.True(t, HitTest(r.X+1, r.Y+1, 1.5, letterHeight, f))
	assert.True(t, HitTest(r.X+r.Width-1, r.Y+r.Height-1, 1.5, letterHeight, f))
	assert.False(t, HitTest(r.X+1, r.Y+r.Height+1, 1.5, letterHeight, f))
}

func TestClampPage(t *testing.T) {
	assert.Equal(t, 1, ClampPage(0, 4))
	assert.Equal(t, 4, ClampPage(9, 4))
	assert.Equal(t, 3, ClampPage(3, 4))
	assert.Equal(t, 1, ClampPage(2, 0))
}

func TestClampScale(t *testing.T) {
	assert.Equal(t, 0.5, ClampScale(0.1, 0.5, 2))
	assert.Equal(t, 2.0, ClampScale(3, 0.5, 2))
	assert.Equal(t, 1.25, ClampScale(1.25, 0.5, 2))
}
