// Package node runs one boot of the device: bring up the network,
// connect to the broker, then publish readings until interrupted.
//
// It is also where an escalation ends. Whichever stage produces a
// [*reset.Escalation], the node records the reason and hands it to the
// [reset.Resetter]. Nothing else runs afterwards; the next boot starts
// both sessions over from Disconnected.
package node

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nugget/wxnode/internal/reset"
)

// Network brings the link up. See wifi.Session.
type Network interface {
	EnsureConnected(ctx context.Context) error
}

// Broker establishes the broker session. See broker.Session.
type Broker interface {
	Connect(ctx context.Context) error
}

// Telemetry runs the publish loop. See telemetry.Agent.
type Telemetry interface {
	Run(ctx context.Context) error
}

// ResetRecorder persists why the device is resetting. See
// opstate.Store.
type ResetRecorder interface {
	RecordReset(reason string) error
}

// Config wires a Node. Recorder and Logger are optional.
type Config struct {
	Network   Network
	Broker    Broker
	Telemetry Telemetry
	Resetter  reset.Resetter
	Recorder  ResetRecorder
	Logger    *slog.Logger
}

// Node is one boot of the device.
type Node struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Node.
func New(cfg Config) *Node {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{cfg: cfg, logger: logger}
}

// Run executes the boot sequence. It returns nil after an operator
// interrupt. On escalation it records the reason, calls the Resetter
// exactly once and, should the Resetter return (as test doubles do),
// returns the escalation.
func (n *Node) Run(ctx context.Context) error {
	err := n.run(ctx)

	var esc *reset.Escalation
	switch {
	case err == nil:
		return nil
	case errors.As(err, &esc):
		n.escalate(esc)
		return err
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		n.logger.Info("interrupted", "reason", context.Cause(ctx))
		return nil
	default:
		return err
	}
}

func (n *Node) run(ctx context.Context) error {
	if err := n.cfg.Network.EnsureConnected(ctx); err != nil {
		return err
	}
	if err := n.cfg.Broker.Connect(ctx); err != nil {
		return err
	}
	return n.cfg.Telemetry.Run(ctx)
}

func (n *Node) escalate(esc *reset.Escalation) {
	n.logger.Error("resetting device", "reason", esc.Reason, "error", esc.Err)
	if n.cfg.Recorder != nil {
		if err := n.cfg.Recorder.RecordReset(esc.Reason); err != nil {
			n.logger.Warn("failed to record reset reason", "error", err)
		}
	}
	n.cfg.Resetter.Reset(esc.Reason)
}
