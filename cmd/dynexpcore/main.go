// Command dynexpcore is the embedding program entry point (§6 CLI
// surface): it loads an optional project file, starts every object it
// describes, and runs until interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	dynexp "github.com/dynexp-go/core"
	"github.com/dynexp-go/core/errs"
	"github.com/dynexp-go/core/hardware"
	"github.com/dynexp-go/core/instrument"
	"github.com/dynexp-go/core/internal/corelog"
	"github.com/dynexp-go/core/module"
	"github.com/dynexp-go/core/xmlproject"
)

func main() {
	flag.Parse()

	logger := corelog.NewLogger(os.Stderr)
	sink := corelog.NewSink(os.Stderr)

	lib := defaultLibrary()

	var graph *xmlproject.Graph
	if path := flag.Arg(0); path != "" {
		f, err := os.Open(path)
		if err != nil {
			logger.Error("failed to open project file", "path", path, "error", err.Error())
			os.Exit(1)
		}
		defer f.Close()

		g, err := xmlproject.Load(f, lib)
		if err != nil {
			logger.Error("failed to load project file", "path", path, "error", err.Error())
			os.Exit(1)
		}
		graph = g
		logger.Info("loaded project file", "path", path)
	} else {
		graph = xmlproject.NewGraph()
		logger.Info("starting with an empty project")
	}

	wireReporter(graph, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := graph.Hardware.Startup(ctx); err != nil {
		sink.ReportException(errs.Forward(err))
	}
	if err := graph.Instruments.Startup(ctx); err != nil {
		sink.ReportException(errs.Forward(err))
	}
	if err := graph.Modules.Startup(ctx); err != nil {
		sink.ReportException(errs.Forward(err))
	}

	logger.Info("running",
		"hardwareAdapters", graph.Hardware.Len(),
		"instruments", graph.Instruments.Len(),
		"modules", graph.Modules.Len(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = graph.Modules.TerminateAll(shutdownCtx)
	_ = graph.Instruments.TerminateAll(shutdownCtx)
	_ = graph.Hardware.Shutdown()
}

// wireReporter registers sink as every loaded object's exception Reporter
// (§6), so a worker thread capturing an exception logs it immediately
// rather than only when a caller later polls GetException/Observe.
func wireReporter(graph *xmlproject.Graph, sink *corelog.Sink) {
	for _, id := range graph.Hardware.IDs() {
		if obj, ok := graph.Hardware.GetResource(id); ok {
			obj.SetReporter(sink)
		}
	}
	for _, id := range graph.Instruments.IDs() {
		if obj, ok := graph.Instruments.GetResource(id); ok {
			obj.SetReporter(sink)
		}
	}
	for _, id := range graph.Modules.IDs() {
		if obj, ok := graph.Modules.GetResource(id); ok {
			obj.SetReporter(sink)
		}
	}
}

func defaultLibrary() *dynexp.Library {
	return dynexp.NewLibrary(
		dynexp.LibraryEntry{
			Category: "HardwareAdapter",
			Name:     "LoopbackAdapter",
			NewObject: func(id dynexp.ItemID, owner dynexp.ThreadID) dynexp.Object {
				params := hardware.NewParams()
				return hardware.NewAdapter(id, "HardwareAdapter", "LoopbackAdapter", owner, params, func() (hardware.Channel, error) {
					return hardware.NewLoopbackChannel(), nil
				})
			},
		},
		dynexp.LibraryEntry{
			Category: "Instrument",
			Name:     "GenericInstrument",
			NewObject: func(id dynexp.ItemID, owner dynexp.ThreadID) dynexp.Object {
				return instrument.New(id, "Instrument", "GenericInstrument", owner, dynexp.NewParams())
			},
		},
		dynexp.LibraryEntry{
			Category: "Module",
			Name:     "GenericModule",
			NewObject: func(id dynexp.ItemID, owner dynexp.ThreadID) dynexp.Object {
				return module.New(id, "Module", "GenericModule", owner, dynexp.NewParams())
			},
		},
	)
}
