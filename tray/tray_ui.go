//go:build !headless

package tray

import "fyne.io/systray"

var (
	mRecord  *systray.MenuItem
	mBackend *systray.MenuItem
)

// Init starts the system tray. The returned channel closes when the user
// picks Quit.
func Init() <-chan struct{} {
	go systray.Run(onReady, onExit)
	return quitCh
}

func onReady() {
	systray.SetIcon(iconIdle)
	systray.SetTooltip("earshot")

	mRecord = systray.AddMenuItem("Start Capture", "Start streaming a source")
	mBackend = systray.AddMenuItem("Backend: disconnected", "")
	mBackend.Disable()
	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "")

	go func() {
		for {
			select {
			case <-mRecord.ClickedCh:
				stateMu.Lock()
				live := streaming
				stateMu.Unlock()
				if live {
					if stopFn != nil {
						stopFn()
					}
				} else if recordFn != nil {
					recordFn()
				}
			case <-mQuit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()
}

func onExit() {
	Quit()
}

func updateStreamingIcon(on bool) {
	if on {
		systray.SetIcon(iconLive)
		if mRecord != nil {
			mRecord.SetTitle("Stop Capture")
		}
	} else {
		systray.SetIcon(iconIdle)
		if mRecord != nil {
			mRecord.SetTitle("Start Capture")
		}
	}
}

func updateBackendLabel(label string) {
	if mBackend != nil {
		mBackend.SetTitle(label)
	}
}

func updateTooltip(msg string) {
	systray.SetTooltip(msg)
}
