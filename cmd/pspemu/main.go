package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	"github.com/openpsp/pspcore/config"
	"github.com/openpsp/pspcore/emu/ccd"
	"github.com/openpsp/pspcore/util/logger"
)

var Logger *slog.Logger

func main() {
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optSockets := getopt.IntLong("sockets", 's', 1, "Number of sockets")
	optCcds := getopt.IntLong("ccds", 'n', 1, "CCDs per socket")
	optProxy := getopt.StringLong("proxy", 'p', "", "Proxy PSP address")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		file, _ = os.Create(*optLogFile)
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	debug := false
	Logger = slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel, AddSource: false}, &debug))
	slog.SetDefault(Logger)

	Logger.Info("pspcore started", "sockets", *optSockets, "ccdsPerSocket", *optCcds)

	cfg := &config.Config{
		Mode:          config.ModeApp,
		MicroArch:     config.MicroArchZen2,
		ProxyAddr:     *optProxy,
		Sockets:       uint32(*optSockets),
		CcdsPerSocket: uint32(*optCcds),
	}

	ccds, err := assemble(cfg)
	if err != nil {
		Logger.Error("assembling CCDs failed", "err", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx := context.Background()
	for _, c := range ccds {
		if err := c.Run(ctx); err != nil {
			Logger.Error("ccd run failed", "socket", c.Socket, "ccd", c.ID, "err", err)
		}
	}

	<-sigChan
	Logger.Info("shutting down")
	for _, c := range ccds {
		if err := c.Destroy(); err != nil {
			Logger.Error("ccd teardown failed", "socket", c.Socket, "ccd", c.ID, "err", err)
		}
	}
}

// assemble is a placeholder wiring point: a real build supplies a real
// engine.Engine (the ARM interpreter) and proxy.Proxy (the transport
// to a physical PSP), both out of scope for this module. As it stands
// it returns no CCDs, so main runs and destroys an empty list.
func assemble(cfg *config.Config) ([]*ccd.CCD, error) {
	return nil, nil
}
