package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/offs-project/offs/internal/chunker"
	"github.com/offs-project/offs/internal/client_service"
	"github.com/offs-project/offs/internal/communication"
	"github.com/offs-project/offs/internal/config"
	"github.com/offs-project/offs/internal/log_service"
	"github.com/offs-project/offs/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	serverAddress := flag.String("server", "", "address of the offs server")
	cachePath := flag.String("cache", "", "path to the cache database")
	mountPoint := flag.String("mount", "", "mount point directory")
	controlAddress := flag.String("control", "", "administrative channel address")
	policy := flag.String("conflict-policy", "", "conflict policy: recreate-local or server-wins")
	logDir := flag.String("log-dir", "", "directory for log files (stderr if empty)")
	logLevel := flag.String("log-level", "", "minimum log level")
	flag.Parse()

	cfg := config.DefaultClientConfig()
	if *configPath != "" {
		loaded, err := config.LoadClientConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "offs-client: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *serverAddress != "" {
		cfg.ServerAddress = *serverAddress
	}
	if *cachePath != "" {
		cfg.CachePath = *cachePath
	}
	if *mountPoint != "" {
		cfg.MountPoint = *mountPoint
	}
	if *controlAddress != "" {
		cfg.ControlAddress = *controlAddress
	}
	if *policy != "" {
		cfg.ConflictPolicy = *policy
	}
	if *logDir != "" {
		cfg.LogDir = *logDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if cfg.MountPoint == "" {
		fmt.Fprintln(os.Stderr, "offs-client: a mount point is required")
		os.Exit(2)
	}
	if info, err := os.Stat(cfg.MountPoint); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "offs-client: mount point %s is not a directory\n", cfg.MountPoint)
		os.Exit(2)
	}

	var ls log_service.LogService
	if cfg.LogDir != "" {
		fileLS, err := log_service.NewLocalDiscLogService(cfg.LogDir, "offs-client", cfg.LogLevel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "offs-client: %v\n", err)
			os.Exit(1)
		}
		ls = fileLS
	} else {
		ls = log_service.NewConsoleLogService("offs-client", cfg.LogLevel)
	}

	st, err := store.Open(cfg.CachePath, ls)
	if err != nil {
		fmt.Fprintf(os.Stderr, "offs-client: failed to open cache store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	comm := communication.NewGRPCCommunicator("", ls)
	if err := comm.Start(nil); err != nil {
		fmt.Fprintf(os.Stderr, "offs-client: %v\n", err)
		os.Exit(1)
	}

	clientID := uuid.New().String()
	remote := client_service.NewRemoteClient(comm, cfg.ServerAddress, clientID)

	fs, err := client_service.NewFilesystem(st, remote, chunker.NewDefaultChunker(),
		client_service.ConflictPolicy(cfg.ConflictPolicy), cfg.MountPoint, ls)
	if err != nil {
		fmt.Fprintf(os.Stderr, "offs-client: %v\n", err)
		os.Exit(1)
	}
	fs.Start()

	control := communication.NewHTTPCommunicator(cfg.ControlAddress, ls)
	if err := control.Start(client_service.NewControlHandler(fs)); err != nil {
		fmt.Fprintf(os.Stderr, "offs-client: failed to start control channel: %v\n", err)
		os.Exit(1)
	}

	// The kernel adapter attaches to fs here; the core serves its
	// cache, journal and control channel either way.
	ls.Info(log_service.LogEvent{
		Message: "Client ready",
		Metadata: map[string]any{
			"server": cfg.ServerAddress, "mount": cfg.MountPoint,
			"control": cfg.ControlAddress, "clientId": clientID,
		},
	})

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	ls.Info(log_service.LogEvent{Message: "Shutting down"})
	fs.Stop()
	control.Stop()
	comm.Stop()
}
