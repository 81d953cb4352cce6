// Package tray drives the menu-bar presence: a capture indicator, a
// start/stop entry, and the backend connection readout.
package tray

import (
	"sync"
	"time"
)

var (
	quitCh    = make(chan struct{})
	closeOnce sync.Once

	recordFn func()
	stopFn   func()

	stateMu   sync.Mutex
	streaming bool
)

// OnRecord registers the start/stop handlers invoked from the menu.
func OnRecord(start, stop func()) { recordFn = start; stopFn = stop }

// SetStreaming flips the capture indicator.
func SetStreaming(on bool) {
	stateMu.Lock()
	streaming = on
	stateMu.Unlock()
	updateStreamingIcon(on)
}

// SetBackendState shows the backend connection state in the menu.
func SetBackendState(state string) {
	updateBackendLabel("Backend: " + state)
}

// SetError surfaces a transient failure in the tooltip for a few seconds.
func SetError(msg string) {
	updateTooltip("earshot – " + msg)
	go func() {
		time.Sleep(10 * time.Second)
		updateTooltip("earshot")
	}()
}

// Quit closes the channel returned by Init. Safe to call more than once.
func Quit() {
	closeOnce.Do(func() { close(quitCh) })
}
