// Package app wires the command intake to the dispatcher and sequences
// shutdown of every background component.
package app

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/not-nullexception/image-orchestrator/internal/dispatcher"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
	"github.com/not-nullexception/image-orchestrator/internal/monitor"
	"github.com/not-nullexception/image-orchestrator/internal/output"
	"github.com/rs/zerolog"
)

// ExitMessage is the last line printed before the output consumer stops.
const ExitMessage = "Exiting..."

// Pool is the lifecycle of the worker pool.
type Pool interface {
	Start(ctx context.Context)
	Stop()
}

type App struct {
	dispatcher *dispatcher.Dispatcher
	pool       Pool
	monitor    *monitor.Monitor
	sink       *output.Sink
	queueSize  int
	hooksMu    sync.Mutex
	hooks      []func(context.Context)
	logger     zerolog.Logger
}

func New(d *dispatcher.Dispatcher, pool Pool, mon *monitor.Monitor, sink *output.Sink, queueSize int) *App {
	return &App{
		dispatcher: d,
		pool:       pool,
		monitor:    mon,
		sink:       sink,
		queueSize:  queueSize,
		logger:     logger.GetLogger("app"),
	}
}

// OnShutdown registers fn to run once command intake has stopped and before
// in-flight work is drained.
func (a *App) OnShutdown(fn func(context.Context)) {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()
	a.hooks = append(a.hooks, fn)
}

// Run starts the background components, reads one command per line from in
// and prints results to w. It returns after exit, end of input or ctx
// cancellation, once every component has shut down.
func (a *App) Run(ctx context.Context, in io.Reader, w io.Writer) {
	a.pool.Start(ctx)
	go a.monitor.Run(context.WithoutCancel(ctx))
	go a.sink.Run(w)

	commands := make(chan dispatcher.Command, a.queueSize)
	stop := make(chan struct{})
	go a.intake(in, commands, stop)

	a.dispatchLoop(ctx, commands)
	close(stop)

	a.shutdown(context.WithoutCancel(ctx))
}

// intake parses lines and queues commands until exit or end of input.
func (a *App) intake(in io.Reader, commands chan<- dispatcher.Command, stop <-chan struct{}) {
	defer close(commands)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, err := dispatcher.ParseCommand(line)
		if err != nil {
			a.sink.Send("Error: " + err.Error())
			continue
		}
		if cmd.Name == dispatcher.CmdExit {
			a.logger.Info().Msg("Exit requested")
			return
		}

		select {
		case commands <- cmd:
		case <-stop:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		a.logger.Error().Err(err).Msg("Error reading commands")
		return
	}
	a.logger.Info().Msg("End of input")
}

func (a *App) dispatchLoop(ctx context.Context, commands <-chan dispatcher.Command) {
	for {
		select {
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			a.dispatcher.Dispatch(ctx, cmd)
		case <-ctx.Done():
			a.logger.Info().Msg("Shutdown signal received")
			return
		}
	}
}

// shutdown runs the hooks, waits for in-flight commands, drains the pool and
// then stops the monitor and the output consumer, in that order.
func (a *App) shutdown(ctx context.Context) {
	a.logger.Info().Msg("Shutting down")

	a.hooksMu.Lock()
	hooks := append([]func(context.Context){}, a.hooks...)
	a.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}

	a.dispatcher.Wait()
	a.pool.Stop()

	a.monitor.Stop()
	<-a.monitor.Done()

	a.sink.Send(ExitMessage)
	a.sink.Close()
	<-a.sink.Done()

	a.logger.Info().Msg("Shutdown complete")
}
