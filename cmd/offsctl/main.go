package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/offs-project/offs/internal/communication"
	"github.com/offs-project/offs/internal/log_service"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: offsctl [-control ADDR] COMMAND

Commands:
  offline-mode on|off    toggle offline mode for the mount
  status                 print mount status
`)
	os.Exit(2)
}

func main() {
	controlAddress := flag.String("control", "127.0.0.1:10781", "administrative channel address")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	ls := log_service.NewConsoleLogService("offsctl", log_service.ErrorLevel)
	comm := communication.NewHTTPCommunicator("", ls)
	ctx := context.Background()

	switch args[0] {
	case "offline-mode":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			usage()
		}

		payload, _ := json.Marshal(communication.OfflineModeRequest{Enabled: args[1] == "on"})
		resp, err := comm.Send(ctx, *controlAddress, communication.Message{
			From:    "offsctl",
			Type:    communication.MessageTypeOfflineMode,
			Payload: payload,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "offsctl: %v\n", err)
			os.Exit(1)
		}
		if resp.Code != communication.CodeOK {
			fmt.Fprintf(os.Stderr, "offsctl: request failed: %s\n", resp.Code)
			os.Exit(1)
		}
		fmt.Printf("offline mode %s\n", args[1])

	case "status":
		resp, err := comm.Send(ctx, *controlAddress, communication.Message{
			From: "offsctl",
			Type: communication.MessageTypeStatus,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "offsctl: %v\n", err)
			os.Exit(1)
		}
		if resp.Code != communication.CodeOK {
			fmt.Fprintf(os.Stderr, "offsctl: request failed: %s\n", resp.Code)
			os.Exit(1)
		}

		var status communication.StatusResponse
		if err := json.Unmarshal(resp.Body, &status); err != nil {
			fmt.Fprintf(os.Stderr, "offsctl: bad response: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("mount point:     %s\n", status.MountPoint)
		fmt.Printf("offline mode:    %v\n", status.Offline)
		fmt.Printf("journal entries: %d\n", status.JournalLen)

	default:
		usage()
	}
}
