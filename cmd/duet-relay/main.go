// Duet-relay — development signaling relay.
//
// Runs the two-party message relay the duet client talks to. Meant for
// development and LAN use; it holds no state beyond live connections.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/signaling"
	"github.com/1ureka/duet/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addrFlag := flag.String("addr", "", "Listen address (default from config, :5000)")
	configFlag := flag.String("config", "", "Path to a config file")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Duet relay — v%s", version))
	pterm.Println()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	addr := cfg.RelayAddr
	if *addrFlag != "" {
		addr = *addrFlag
	}

	relay := signaling.NewRelay()
	if err := relay.ListenAndServe(ctx, addr); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("relay stopped")
}
