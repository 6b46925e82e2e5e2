package mock

import (
	"testing"
)

func TestNewYOLOOutput_ChannelsFirst(t *testing.T) {
	images := [][]Anchor{
		{{CX: 10, CY: 20, W: 4, H: 8, Class: 1, Score: 0.9}},
		{},
	}
	o := NewYOLOOutput(images, 2, 3, true, 0.05)
	if len(o.Shape) != 3 || o.Shape[0] != 2 || o.Shape[1] != 6 || o.Shape[2] != 3 {
		t.Fatalf("unexpected shape: %v", o.Shape)
	}
	if len(o.Data) != 2*6*3 {
		t.Fatalf("unexpected data len: %d", len(o.Data))
	}
	first := o.Image(0)
	// attribute k of anchor a sits at k*anchors+a
	if first[0] != 10 || first[3] != 20 || first[6] != 4 || first[9] != 8 {
		t.Fatalf("box not written channels first: %v", first[:12])
	}
	if first[4*3] != 0.05 || first[5*3] != 0.9 {
		t.Fatalf("class scores: person=%f ball=%f", first[4*3], first[5*3])
	}
	for _, v := range o.Image(1)[:4*3] {
		if v != 0 {
			t.Fatalf("empty image should carry zero boxes, got %f", v)
		}
	}
}

func TestNewYOLOOutput_AnchorsFirst(t *testing.T) {
	o := NewYOLOOutput([][]Anchor{{{CX: 1, CY: 2, W: 3, H: 4, Class: 0, Score: 1.5}}}, 1, 1, false, 0)
	if o.Shape[1] != 1 || o.Shape[2] != 5 {
		t.Fatalf("unexpected shape: %v", o.Shape)
	}
	want := []float32{1, 2, 3, 4, 1}
	for i, v := range want {
		if o.Data[i] != v {
			t.Fatalf("data[%d]=%f, want %f", i, o.Data[i], v)
		}
	}
}

func TestNewYOLOOutput_GrowsAnchors(t *testing.T) {
	o := NewYOLOOutput([][]Anchor{{{Class: 0}, {Class: 0}, {Class: 0}}}, 1, 1, true, 0)
	if o.Shape[2] != 3 {
		t.Fatalf("anchors=%d, want 3", o.Shape[2])
	}
}

func TestNewYOLOOutput_Empty(t *testing.T) {
	if o := NewYOLOOutput(nil, 2, 4, true, 0); o.Data != nil || len(o.Shape) != 0 {
		t.Fatalf("expected empty output, got %v", o.Shape)
	}
	if o := NewYOLOOutput([][]Anchor{{}}, 0, 4, true, 0); o.Data != nil {
		t.Fatal("expected empty output for zero classes")
	}
	if (Output{}).Image(0) != nil {
		t.Fatal("expected nil image slice")
	}
}
