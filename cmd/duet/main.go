// Duet — CLI entry point.
//
// Duet is a two-person chat and video-call client. Both sides share a
// secret; the secret plus today's UTC date names the room, so the same
// two people land in the same room every day without exchanging links.
//
// It can be launched with flags (-server, -secret, -config, -debug) or
// with no flags at all, in which case the configuration file and the
// defaults apply.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/1ureka/duet/internal/app"
	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/room"
	"github.com/1ureka/duet/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags. Flags override the config file and environment.
	serverFlag := flag.String("server", "", "Relay WebSocket URL (e.g. ws://localhost:5000/ws)")
	secretFlag := flag.String("secret", "", "Shared secret for the daily room")
	configFlag := flag.String("config", "", "Path to a config file")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Duet — v%s", version))
	pterm.Println()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *serverFlag != "" {
		cfg.ServerURL = *serverFlag
	}
	if *secretFlag != "" {
		cfg.Secret = *secretFlag
	}

	util.LogInfo("today's room is %s", room.TodayID(cfg.Secret))

	if err := app.Run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("left the room")
}
