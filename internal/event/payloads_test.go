package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoxGeometry(t *testing.T) {
	b := Box{X1: 0.2, Y1: 0.4, X2: 0.6, Y2: 0.8}
	assert.True(t, b.Valid())
	assert.InDelta(t, 0.4, b.Width(), 1e-12)
	assert.InDelta(t, 0.4, b.Height(), 1e-12)
	cx, cy := b.Center()
	assert.InDelta(t, 0.4, cx, 1e-12)
	assert.InDelta(t, 0.6, cy, 1e-12)
}

func TestBoxValid(t *testing.T) {
	cases := []struct {
		box  Box
		want bool
	}{
		{Box{0, 0, 1, 1}, true},
		{Box{0.5, 0.5, 0.5, 0.6}, false}, // zero width
		{Box{-0.1, 0, 0.5, 0.5}, false},  // outside unit square
		{Box{0, 0, 1.2, 0.5}, false},
		{Box{0.6, 0, 0.4, 0.5}, false}, // inverted
	}
	for _, c := range cases {
		if got := c.box.Valid(); got != c.want {
			t.Errorf("Valid(%+v) = %t, want %t", c.box, got, c.want)
		}
	}
}

func TestDetectionValidate(t *testing.T) {
	ok := Detection{Class: "person", Confidence: 0.9, Box: Box{0.1, 0.1, 0.5, 0.5}}
	assert.NoError(t, ok.Validate())

	assert.Error(t, Detection{Box: Box{0.1, 0.1, 0.5, 0.5}}.Validate(), "missing class")
	assert.Error(t, Detection{Class: "person", Box: Box{0.5, 0.5, 0.1, 0.1}}.Validate(), "bad box")
}

func TestFrameCloneCopiesData(t *testing.T) {
	orig := Frame{Seq: 1, Data: []byte{1, 2, 3}}
	clone := orig.Clone().(Frame)
	orig.Data[0] = 42
	assert.Equal(t, byte(1), clone.Data[0])
}

func TestDetectionsCloneCopiesItems(t *testing.T) {
	orig := Detections{FrameSeq: 5, Items: []Detection{{Class: "person"}}}
	clone := orig.Clone().(Detections)
	orig.Items[0].Class = "cat"
	assert.Equal(t, "person", clone.Items[0].Class)
}

func TestCommandPredicates(t *testing.T) {
	assert.True(t, Command{}.IsZero())
	assert.False(t, Command{Yaw: 0.5}.IsZero())
	assert.True(t, Command{Yaw: 0.5}.YawOnly())
	assert.False(t, Command{Yaw: 0.5, Y: 0.1}.YawOnly())
	assert.False(t, Command{}.YawOnly())
}
