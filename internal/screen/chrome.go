package screen

import (
	"fmt"
	"sort"

	"pkt.systems/vimgrid/schema"
)

// CreateScrollbar adds a hidden scrollbar. An existing id is replaced.
func (s *Screen) CreateScrollbar(id schema.ScrollbarID, typ schema.ScrollbarType) error {
	if !typ.Valid() {
		return fmt.Errorf("invalid scrollbar type %d", typ)
	}
	s.scrollbars[id] = &Scrollbar{ID: id, Type: typ}
	return nil
}

// DestroyScrollbar removes a scrollbar.
func (s *Screen) DestroyScrollbar(id schema.ScrollbarID) error {
	if _, ok := s.scrollbars[id]; !ok {
		return fmt.Errorf("unknown scrollbar %d", id)
	}
	delete(s.scrollbars, id)
	return nil
}

func (s *Screen) scrollbar(id schema.ScrollbarID) (*Scrollbar, error) {
	sb, ok := s.scrollbars[id]
	if !ok {
		return nil, fmt.Errorf("unknown scrollbar %d", id)
	}
	return sb, nil
}

// ShowScrollbar sets visibility. It reports whether the value changed.
func (s *Screen) ShowScrollbar(id schema.ScrollbarID, visible bool) (bool, error) {
	sb, err := s.scrollbar(id)
	if err != nil {
		return false, err
	}
	changed := sb.Visible != visible
	sb.Visible = visible
	return changed, nil
}

// SetScrollbarPosition places a scrollbar along its edge.
func (s *Screen) SetScrollbarPosition(id schema.ScrollbarID, pos, length int) error {
	sb, err := s.scrollbar(id)
	if err != nil {
		return err
	}
	sb.Position = max(pos, 0)
	sb.Length = max(length, 0)
	return nil
}

// SetScrollbarThumb sets the thumb value and proportion, clamped to [0,1].
func (s *Screen) SetScrollbarThumb(id schema.ScrollbarID, value, proportion float32) error {
	sb, err := s.scrollbar(id)
	if err != nil {
		return err
	}
	sb.Value = clamp01(value)
	sb.Proportion = clamp01(proportion)
	return nil
}

func clamp01(v float32) float32 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Scrollbar returns a copy of one scrollbar.
func (s *Screen) Scrollbar(id schema.ScrollbarID) (Scrollbar, bool) {
	sb, ok := s.scrollbars[id]
	if !ok {
		return Scrollbar{}, false
	}
	return *sb, true
}

// Scrollbars returns all scrollbars ordered by id.
func (s *Screen) Scrollbars() []Scrollbar {
	out := make([]Scrollbar, 0, len(s.scrollbars))
	for _, sb := range s.scrollbars {
		out = append(out, *sb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetTabs replaces the tab list. A selected index outside the list selects
// nothing.
func (s *Screen) SetTabs(tabs []Tab, selected int) {
	s.tabs = append(s.tabs[:0], tabs...)
	if selected < 0 || selected >= len(tabs) {
		selected = -1
	}
	s.selected = selected
}

// SelectTab changes the selected tab.
func (s *Screen) SelectTab(index int) error {
	if index < 0 || index >= len(s.tabs) {
		return fmt.Errorf("tab index %d out of range (%d tabs)", index, len(s.tabs))
	}
	s.selected = index
	return nil
}

// ShowTabBar sets tab bar visibility.
func (s *Screen) ShowTabBar(visible bool) { s.tabBar = visible }

// Tabs returns a copy of the tab list, the selected index and visibility.
func (s *Screen) Tabs() (tabs []Tab, selected int, visible bool) {
	return append([]Tab(nil), s.tabs...), s.selected, s.tabBar
}
