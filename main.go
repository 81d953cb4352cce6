package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"time"

	"earshot/config"
	"earshot/log"
)

var version = "dev"

// workerEnv marks a re-exec'd child as the desktop-session worker.
const workerEnv = "_EARSHOT_WORKER"

func main() {
	workerFlag := flag.Bool("worker", false, "Run as the capture worker (normally spawned by the host)")
	setupFlag := flag.Bool("setup", false, "Pick the capture source interactively")
	sourceFlag := flag.String("source", "", "Capture the named source instead of the best meeting app")
	configFlag := flag.String("config", defaultConfigPath(), "Path to the YAML config file")
	logPathFlag := flag.String("logpath", "", "Log directory path (default: OS-specific location, use ./ for current dir)")
	archiveFlag := flag.String("archive", "", "Directory for FLAC session archives (overrides config)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	crashFlag := flag.Bool("crash", false, "Trigger synthetic panic for testing crash logging")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("earshot %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *archiveFlag != "" {
		cfg.ArchivePath = *archiveFlag
	}

	// Resolve log directory early
	logDirFlag := *logPathFlag
	if logDirFlag == "" {
		logDirFlag = cfg.LogPath
	}
	logPath, err := log.ResolveDir(logDirFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *crashFlag {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	if *workerFlag || os.Getenv(workerEnv) != "" {
		if err := runWorker(cfg, *setupFlag, *sourceFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runHost(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// spawnWorker re-execs this binary as the capture worker, inheriting the
// command line so flags like -setup reach it.
func spawnWorker() (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), workerEnv+"=1")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn worker: %w", err)
	}
	return cmd, nil
}

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "earshot", "config.yaml")
	}
	return "earshot.yaml"
}
