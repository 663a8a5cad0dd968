package controller

import (
	"pkt.systems/vimgrid/internal/screen"
	"pkt.systems/vimgrid/schema"
)

// View is the native window owned by the embedding application. The
// controller calls it with its lock held, so implementations must not call
// back into the controller synchronously.
type View interface {
	// Show makes the window visible.
	Show() error
	// RequestResize asks the window to fit a rows x cols grid.
	RequestResize(rows, cols int)
	// PresentFullScreen starts the full-screen transition. busy reports that
	// the transition completes later with FullScreenTransitionDidEnd.
	PresentFullScreen(options int32, background uint32) (busy bool)
	// LeaveFullScreen starts the transition back to windowed mode.
	LeaveFullScreen() (busy bool)
	ShowScrollbar(id schema.ScrollbarID, visible bool)
	SetTitle(title string)
	SetFont(name string, size float32, wide bool)
	TabsChanged(tabs []screen.Tab, selected int, visible bool)
	// Invalidate marks screen regions for repaint after a replay.
	Invalidate(scr *screen.Screen, full bool, rects []screen.Rect)
	// Close tears the window down.
	Close()
}

// NopView ignores every call. Embed it to implement part of View.
type NopView struct{}

func (NopView) Show() error                                   { return nil }
func (NopView) RequestResize(int, int)                        {}
func (NopView) PresentFullScreen(int32, uint32) bool          { return false }
func (NopView) LeaveFullScreen() bool                         { return false }
func (NopView) ShowScrollbar(schema.ScrollbarID, bool)        {}
func (NopView) SetTitle(string)                               {}
func (NopView) SetFont(string, float32, bool)                 {}
func (NopView) TabsChanged([]screen.Tab, int, bool)           {}
func (NopView) Invalidate(*screen.Screen, bool, []screen.Rect) {}
func (NopView) Close()                                        {}
