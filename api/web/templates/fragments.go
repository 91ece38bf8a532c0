// Package templates renders the controller view as HTML fragments.
package templates

import (
	"time"

	"github.com/a-h/templ"
	"github.com/aouyang1/framectl/controller"
)

//go:generate go run github.com/a-h/templ/cmd/templ generate

// Fragment names served under /ui/fragments.
const (
	FragmentLive     = "live"
	FragmentQueue    = "queue"
	FragmentHistory  = "history"
	FragmentSettings = "settings"
)

// Fragment returns the named fragment component, or false for an unknown
// name.
func Fragment(name string, view controller.View, now time.Time) (templ.Component, bool) {
	switch name {
	case FragmentLive:
		return LiveImage(view, now), true
	case FragmentQueue:
		return QueueList(view, now), true
	case FragmentHistory:
		return HistoryGrid(view, now), true
	case FragmentSettings:
		return SettingsForm(view), true
	default:
		return nil, false
	}
}
