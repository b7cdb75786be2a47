// Package present turns bin rows into map markers and owns the capacity panel state.
package present

import (
	"strings"
	"sync"

	"github.com/rolzie-7/Bin-map/internal/core/model"
)

// Capacity is shown for every bin until fill levels are tracked.
const Capacity = "full"

const defaultTitle = "Bin"

// TitleStyle selects which bin field labels a marker.
type TitleStyle int

const (
	// TitleFromDesc labels markers with the bin description (browser map).
	TitleFromDesc TitleStyle = iota
	// TitleFromType labels markers with the bin type (native map).
	TitleFromType
)

// Classify picks the icon for a bin. Food waste wins over recycle, and
// everything else, including rows with no flag set, falls back to general.
func Classify(b model.Bin) model.IconVariant {
	switch {
	case b.IsFoodWaste:
		return model.IconFoodWaste
	case b.IsRecycle:
		return model.IconRecycle
	default:
		return model.IconGeneral
	}
}

// Project builds the marker for a bin. ok is false when the row has no usable coordinates.
func Project(b model.Bin, style TitleStyle) (m model.Marker, ok bool) {
	pos, ok := b.Position()
	if !ok {
		return model.Marker{}, false
	}
	title := b.Desc
	if style == TitleFromType {
		title = b.Type
	}
	if strings.TrimSpace(title) == "" {
		title = defaultTitle
	}
	return model.Marker{
		BinID:       b.ID,
		Position:    pos,
		Icon:        Classify(b),
		Title:       title,
		Description: b.Desc,
		Address:     b.Address,
	}, true
}

// ProjectAll maps bins to markers, dropping malformed rows. skipped counts the drops.
func ProjectAll(bins []model.Bin, style TitleStyle) (markers []model.Marker, skipped int) {
	markers = make([]model.Marker, 0, len(bins))
	for _, b := range bins {
		m, ok := Project(b, style)
		if !ok {
			skipped++
			continue
		}
		markers = append(markers, m)
	}
	return markers, skipped
}

type PanelState struct {
	Visible  bool   `json:"visible"`
	Capacity string `json:"capacity,omitempty"`
}

// Panel is the single capacity panel of a screen. Tapping any marker shows
// it and dismissing hides it; there is never more than one.
type Panel struct {
	mu      sync.Mutex
	visible bool
}

func (p *Panel) Show() PanelState {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = true
	return p.stateLocked()
}

func (p *Panel) Dismiss() PanelState {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = false
	return p.stateLocked()
}

func (p *Panel) State() PanelState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Panel) stateLocked() PanelState {
	if !p.visible {
		return PanelState{}
	}
	return PanelState{Visible: true, Capacity: Capacity}
}
