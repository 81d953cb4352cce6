package main

import (
	"errors"
	"fmt"
	"time"

	"earshot/audio"
	"earshot/bridge"
	"earshot/capture"
	"earshot/config"
	"earshot/log"
	"earshot/shutdown"
	"earshot/stream"
	"earshot/tray"
)

// runWorker is the desktop-session half: it connects to the host socket,
// puts up the tray, and starts/stops capture sessions on request.
func runWorker(cfg *config.Config, setup bool, sourceName string) error {
	actx, err := audio.NewContext()
	if err != nil {
		return err
	}
	defer actx.Close()

	worker, err := dialHost(cfg, actx)
	if err != nil {
		return err
	}
	defer worker.Close()

	worker.OnBackendStatus(func(state stream.State, retries int) {
		tray.SetBackendState(string(state))
		if state == stream.StateError {
			tray.SetError(fmt.Sprintf("backend unreachable after %d attempts", retries))
		}
	})
	worker.OnSessionStopped(func(reason string) {
		tray.SetStreaming(false)
		if reason != "" {
			tray.SetError(reason)
		}
	})

	pickSource := func() (string, error) {
		if sourceName != "" {
			return sourceName, nil
		}
		sources, err := worker.RequestSources()
		if err != nil {
			return "", err
		}
		if len(sources) == 0 {
			return "", errors.New("no capture sources available")
		}
		if setup {
			src, err := audio.SelectSource(actx)
			if err != nil {
				return "", err
			}
			return src.ID, nil
		}
		// Sources arrive ordered: the best meeting-app match leads.
		return sources[0].ID, nil
	}

	startCapture := func() {
		id, err := pickSource()
		if err != nil {
			log.Errorf("source selection: %v", err)
			tray.SetError(err.Error())
			return
		}
		if err := worker.RequestCapture(id); err != nil {
			log.Errorf("capture request: %v", err)
			tray.SetError(err.Error())
			return
		}
		go func() {
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				if worker.Streaming() {
					tray.SetStreaming(true)
					return
				}
				time.Sleep(50 * time.Millisecond)
			}
			tray.SetError("capture did not start")
		}()
	}
	stopCapture := func() {
		if err := worker.StopCapture(); err != nil && !errors.Is(err, capture.ErrNoSession) {
			log.Errorf("capture stop: %v", err)
		}
		tray.SetStreaming(false)
	}
	tray.OnRecord(startCapture, stopCapture)

	runErr := make(chan error, 1)
	go func() { runErr <- worker.Run() }()

	quit := tray.Init()

	select {
	case err := <-runErr:
		tray.Quit()
		if err != nil {
			return fmt.Errorf("host connection lost: %w", err)
		}
		return nil
	case <-quit:
		stopCapture()
		return nil
	case sig := <-shutdown.Await():
		log.Infof("worker received %v, shutting down", sig)
		stopCapture()
		return nil
	}
}

// dialHost retries while the host is still binding its socket.
func dialHost(cfg *config.Config, actx audio.Context) (*bridge.Worker, error) {
	var lastErr error
	for i := 0; i < 20; i++ {
		w, err := bridge.Dial(cfg.SocketPath, actx)
		if err == nil {
			return w, nil
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	return nil, fmt.Errorf("host socket never came up: %w", lastErr)
}
