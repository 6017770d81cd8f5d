// Package user binds the socket command surface to the domain: argument
// validation, the hook pipeline, feature gates, multi-socket presence and
// echo semantics.
package user

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chatsvc/chatsvc/internal/v1/chaterr"
	"github.com/chatsvc/chatsvc/internal/v1/logging"
	"github.com/chatsvc/chatsvc/internal/v1/metrics"
	"github.com/chatsvc/chatsvc/internal/v1/transport"
	"github.com/chatsvc/chatsvc/internal/v1/types"
)

// Config carries the feature gates and rendering switches the command surface
// honors.
type Config struct {
	EnableDirectMessages  bool
	EnableRoomsManagement bool
	EnableUserlistUpdates bool
	UseRawErrorObjects    bool
	HistoryMaxMessages    int
}

// BeforeResult is what a before-hook yields. A set Err or Data short-circuits
// the command; ReplacementArgs substitute the decoded arguments otherwise.
type BeforeResult struct {
	Err             error
	Data            []any
	ReplacementArgs []any
}

// BeforeHook runs between argument validation and execution.
type BeforeHook func(ctx context.Context, user types.UserName, socket types.SocketID, args []any) BeforeResult

// AfterHook runs after execution and may rewrite the outcome.
type AfterHook func(ctx context.Context, user types.UserName, socket types.SocketID, args []any, cmdErr error, data []any) (error, []any)

// Hooks is the per-command hook registry.
type Hooks struct {
	before map[string]BeforeHook
	after  map[string]AfterHook
}

func NewHooks() *Hooks {
	return &Hooks{
		before: make(map[string]BeforeHook),
		after:  make(map[string]AfterHook),
	}
}

// Before registers the before-hook for a command.
func (h *Hooks) Before(cmd string, fn BeforeHook) {
	h.before[cmd] = fn
}

// After registers the after-hook for a command.
func (h *Hooks) After(cmd string, fn AfterHook) {
	h.after[cmd] = fn
}

// Dispatcher interprets the command table for any connected socket.
type Dispatcher struct {
	cfg       Config
	store     types.StateStore
	transport types.Transport
	bus       types.Bus
	hooks     *Hooks
	commands  map[string]command
}

// NewDispatcher wires the command surface. bus may be nil in single-instance
// deployments.
func NewDispatcher(cfg Config, store types.StateStore, tr types.Transport, bus types.Bus, hooks *Hooks) *Dispatcher {
	if hooks == nil {
		hooks = NewHooks()
	}
	return &Dispatcher{
		cfg:       cfg,
		store:     store,
		transport: tr,
		bus:       bus,
		hooks:     hooks,
		commands:  commandTable(),
	}
}

// session is the per-command execution context. Post-ack emitters queued
// during execution run only after the ack frame has been queued to the
// originating socket, which keeps echoes behind the ack.
type session struct {
	d       *Dispatcher
	user    types.UserName
	socket  types.SocketID
	state   types.UserState
	postAck []func(context.Context)
}

func (s *session) queue(fn func(context.Context)) {
	s.postAck = append(s.postAck, fn)
}

// Dispatch runs one client command through the pipeline and acks the
// originating socket. It never returns an error; every failure becomes the
// ack's error payload.
func (d *Dispatcher) Dispatch(ctx context.Context, userName types.UserName, socket types.SocketID, frame transport.RequestFrame) {
	start := time.Now()
	s := &session{d: d, user: userName, socket: socket}

	data, err := d.run(ctx, s, frame)

	status := "ok"
	if err != nil {
		status = string(chaterr.From(err).Name)
	}
	metrics.CommandsProcessed.WithLabelValues(frame.Event, status).Inc()
	metrics.CommandDuration.WithLabelValues(frame.Event).Observe(time.Since(start).Seconds())

	var rendered any
	if err != nil {
		ce := chaterr.From(err)
		if ce.Name == chaterr.ServerError {
			logging.Error(ctx, "Command failed",
				zap.String("command", frame.Event),
				zap.String("user", string(userName)),
				zap.Error(err))
		}
		rendered = ce.Render(d.cfg.UseRawErrorObjects)
	}
	_ = d.transport.Ack(ctx, socket, frame.ID, rendered, data...)

	for _, emit := range s.postAck {
		emit(ctx)
	}
}

func (d *Dispatcher) run(ctx context.Context, s *session, frame transport.RequestFrame) ([]any, error) {
	cmd, ok := d.commands[frame.Event]
	if !ok {
		return nil, chaterr.New(chaterr.BadArgument, frame.Event)
	}
	if cmd.gate != nil && !cmd.gate(d.cfg) {
		return nil, chaterr.New(chaterr.NotAllowed, frame.Event)
	}

	st, err := d.store.GetOnlineUser(ctx, s.user)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, chaterr.New(chaterr.NoLogin)
		}
		return nil, err
	}
	s.state = st

	// Validation failures short-circuit before any hook runs.
	args, err := cmd.decode(frame.Event, frame.Args)
	if err != nil {
		return nil, err
	}

	if bh := d.hooks.before[frame.Event]; bh != nil {
		res := bh(ctx, s.user, s.socket, args)
		if res.Err != nil || res.Data != nil {
			return res.Data, res.Err
		}
		if res.ReplacementArgs != nil {
			args = res.ReplacementArgs
		}
	}

	data, cmdErr := cmd.execute(ctx, s, args)

	if ah := d.hooks.after[frame.Event]; ah != nil {
		cmdErr, data = ah(ctx, s.user, s.socket, args, cmdErr, data)
	}
	return data, cmdErr
}
