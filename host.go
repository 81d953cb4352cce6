package main

import (
	"context"

	"golang.org/x/sync/errgroup"

	"earshot/audio"
	"earshot/bridge"
	"earshot/config"
	"earshot/encoder"
	"earshot/health"
	"earshot/log"
	"earshot/pipeline"
	"earshot/shutdown"
	"earshot/stream"
)

// runHost owns the backend connection, the health endpoint, and the worker
// socket. It exits on the first fatal component error or a termination
// signal.
func runHost(cfg *config.Config) error {
	actx, err := audio.NewContext()
	if err != nil {
		return err
	}
	defer actx.Close()

	client := stream.New(nil)
	defer client.Close()

	hostCfg := bridge.HostConfig{
		SocketPath:     cfg.SocketPath,
		Amplification:  cfg.Amplification,
		ForwardDivisor: cfg.ForwardDivisor,
	}

	var archive *encoder.Archive
	if cfg.ArchivePath != "" {
		archive = encoder.NewArchive(cfg.ArchivePath)
		hostCfg.ChunkTap = func(c pipeline.Chunk) {
			if err := archive.Append(c); err != nil {
				log.Warnf("archive append: %v", err)
			}
		}
		hostCfg.SessionEnd = func() {
			name, err := archive.Flush()
			if err != nil {
				log.Warnf("archive flush: %v", err)
			} else if name != "" {
				log.Infof("session archived to %s", name)
			}
		}
	}

	host := bridge.NewHost(hostCfg, actx, client)

	client.Connect(cfg.BackendURL)
	log.SessionStart(cfg.BackendURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return health.Serve(ctx, cfg.HealthPort, func() health.Snapshot {
			return health.Snapshot{
				IsStreaming:      host.Streaming(),
				BackendConnected: client.Connected(),
				Version:          version,
			}
		})
	})

	g.Go(func() error {
		return host.Listen(ctx, cfg.SocketPath)
	})

	g.Go(func() error {
		select {
		case sig := <-shutdown.Await():
			log.Infof("received %v, shutting down", sig)
			cancel()
			return nil
		case <-ctx.Done():
			return nil
		}
	})

	worker, err := spawnWorker()
	if err != nil {
		cancel()
		g.Wait()
		return err
	}
	g.Go(func() error {
		// The worker quitting from its tray takes the host down too.
		err := worker.Wait()
		cancel()
		return err
	})

	return g.Wait()
}
