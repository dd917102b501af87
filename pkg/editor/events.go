package editor

import (
	"golang.org/x/mobile/event/key"
	"golang.org/x/mobile/event/mouse"
	"golang.org/x/mobile/event/size"
)

// HandleEvent dispatches a size, mouse or key event and reports whether the
// event changed editor state. Mouse coordinates are relative to the
// container's top-left corner.
func (e *Editor) HandleEvent(ev interface{}) bool {
	switch ev := ev.(type) {
	case size.Event:
		return e.ContainerResized(float64(ev.WidthPx), float64(ev.HeightPx))
	case mouse.Event:
		return e.handleMouse(ev)
	case key.Event:
		return e.handleKey(ev)
	}
	return false
}

// ContainerResized records a new container size and reports whether it
// differs from the previous one.
//
// Size notifications arrive continuously while a splitter is dragged, so the
// layout is not recomputed here. It is recomputed when the mouse button that
// started the drag is released.
func (e *Editor) ContainerResized(w, h float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if w == e.containerW && h == e.containerH {
		return false
	}
	e.containerW, e.containerH = w, h
	if e.img != nil {
		e.resizePending = true
	}
	return true
}

// MousePressed and MouseReleased track window-level button transitions.
func (e *Editor) MousePressed() {
	e.mu.Lock()
	e.pressed = true
	e.resizePending = false
	e.mu.Unlock()
}

// MouseReleased applies a resize that happened while the button was held.
func (e *Editor) MouseReleased() bool {
	e.mu.Lock()
	apply := e.pressed && e.resizePending
	e.pressed = false
	if apply {
		e.relayoutLocked()
	}
	e.mu.Unlock()

	if apply {
		e.changed()
	}
	return apply
}

func (e *Editor) handleMouse(ev mouse.Event) bool {
	switch ev.Direction {
	case mouse.DirPress:
		e.MousePressed()
		if ev.Button == mouse.ButtonLeft {
			return e.Click(float64(ev.X), float64(ev.Y))
		}
	case mouse.DirRelease:
		return e.MouseReleased()
	}
	return false
}

func (e *Editor) handleKey(ev key.Event) bool {
	if ev.Direction != key.DirPress {
		return false
	}

	switch {
	case ev.Code == key.CodeReturnEnter || ev.Code == key.CodeKeypadEnter:
		_, ok := e.Commit()
		return ok
	case ev.Modifiers&key.ModControl != 0 && isUndoKey(ev):
		return e.UndoPoint()
	}
	return false
}

func isUndoKey(ev key.Event) bool {
	if ev.Rune == 'z' {
		return true
	}
	return ev.Rune <= 0 && ev.Code == key.CodeZ && ev.Modifiers&key.ModShift == 0
}
