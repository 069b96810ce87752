package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/offs-project/offs/internal/chunker"
	"github.com/offs-project/offs/internal/communication"
	"github.com/offs-project/offs/internal/config"
	"github.com/offs-project/offs/internal/log_service"
	"github.com/offs-project/offs/internal/server_service"
	"github.com/offs-project/offs/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	storePath := flag.String("store", "", "path to the store database")
	listenAddress := flag.String("listen", "", "address to listen on")
	logDir := flag.String("log-dir", "", "directory for log files (stderr if empty)")
	logLevel := flag.String("log-level", "", "minimum log level")
	flag.Parse()

	cfg := config.DefaultServerConfig()
	if *configPath != "" {
		loaded, err := config.LoadServerConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "offs-server: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *storePath != "" {
		cfg.StorePath = *storePath
	}
	if *listenAddress != "" {
		cfg.ListenAddress = *listenAddress
	}
	if *logDir != "" {
		cfg.LogDir = *logDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	var ls log_service.LogService
	if cfg.LogDir != "" {
		fileLS, err := log_service.NewLocalDiscLogService(cfg.LogDir, "offs-server", cfg.LogLevel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "offs-server: %v\n", err)
			os.Exit(1)
		}
		ls = fileLS
	} else {
		ls = log_service.NewConsoleLogService("offs-server", cfg.LogLevel)
	}

	st, err := store.Open(cfg.StorePath, ls)
	if err != nil {
		fmt.Fprintf(os.Stderr, "offs-server: failed to open store: %v\n", err)
		os.Exit(1)
	}

	comm := communication.NewGRPCCommunicator(cfg.ListenAddress, ls)
	srv := server_service.NewServerService(comm, st, chunker.NewDefaultChunker(), ls)

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "offs-server: failed to start: %v\n", err)
		st.Close()
		os.Exit(1)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	ls.Info(log_service.LogEvent{Message: "Shutting down"})
	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "offs-server: shutdown error: %v\n", err)
		os.Exit(1)
	}
}
