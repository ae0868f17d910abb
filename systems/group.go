// Package systems runs the engine's subsystems, one goroutine each,
// communicating only through the message bus.
package systems

import (
	"sync"

	"golang.org/x/exp/slog"
)

// System is one engine subsystem. Run occupies its own goroutine until the
// system decides to shut down, normally in response to a Stop message.
type System interface {
	Run()
	Name() string
}

// Group runs systems and joins them. Zero value is unusable; use NewGroup.
type Group struct {
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewGroup creates an empty group. Logger defaults to slog.Default().
func NewGroup(logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{logger: logger}
}

// Add starts the system on its own goroutine.
func (g *Group) Add(system System) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.logger.Debug("system started", slog.String("system", system.Name()))
		system.Run()
		g.logger.Debug("system finished", slog.String("system", system.Name()))
	}()
}

// Wait blocks until every added system has returned from Run.
func (g *Group) Wait() {
	g.wg.Wait()
}
