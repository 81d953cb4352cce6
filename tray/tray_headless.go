//go:build headless

package tray

// Stubs for headless builds: servers and CI have no tray to draw on.

func Init() <-chan struct{}     { return quitCh }
func updateStreamingIcon(bool)  {}
func updateBackendLabel(string) {}
func updateTooltip(string)      {}
