package projection

import (
	"testing"

	"github.com/joeblew999/plat-siteplan/internal/geom"
)

type fakeSource struct {
	vp Viewport
}

func (f *fakeSource) Project(lng, lat float64) (float64, float64) {
	return lng * 100, lat * 50
}

func (f *fakeSource) Viewport() Viewport { return f.vp }

func TestToPage(t *testing.T) {
	src := &fakeSource{vp: Viewport{Zoom: 14}}
	a := New(src, 4, geom.Point{X: 10, Y: 20})

	got := a.ToPage(2, 4)
	want := geom.Point{X: 10 + 200.0/4, Y: 20 + 200.0/4}
	if got != want {
		t.Fatalf("ToPage=%v, want %v", got, want)
	}
	if a.Scale() != 4 {
		t.Errorf("Scale=%v", a.Scale())
	}
}

func TestToPagePanicsAfterViewportChange(t *testing.T) {
	src := &fakeSource{vp: Viewport{Zoom: 14}}
	a := New(src, 1, geom.Point{})
	src.vp.Zoom = 15

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on moved viewport")
		}
	}()
	a.ToPage(0, 0)
}

func TestNewRejectsBadScale(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on zero scale")
		}
	}()
	New(&fakeSource{}, 0, geom.Point{})
}

func TestPageSize(t *testing.T) {
	a := New(&fakeSource{}, 1, geom.Point{}).WithPageSize(200, 100)
	w, h := a.PageSize()
	if w != 200 || h != 100 {
		t.Fatalf("PageSize=%v,%v", w, h)
	}
}
