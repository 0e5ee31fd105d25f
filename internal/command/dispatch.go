// Package command implements the command dispatcher + permission
// middleware (spec §9: "every command/action invocation flows through a
// permission middleware that consults the registry"): a bus route handler
// that recognizes an incoming command invocation, looks it up in the
// plugin registry, gates it on the caller's node grant, and runs it.
//
// Grounded in the teacher's internal/middleware/team_rbac.go
// check-then-reject-or-continue idiom (RequireTeamPermission: look up the
// permission, JSON-403 and abort on denial, otherwise call c.Next()) —
// generalized here from an HTTP middleware's c.Abort()/c.Next() into a bus
// route that either sends a single denial envelope or runs the command and
// replies with its result. The dispatch shape itself (one inbound unit of
// work, one collaborator call, route the result onward) follows
// internal/reply's Generator, which in turn is grounded in the teacher's
// internal/services/command_dispatcher.go.
package command

import (
	"context"
	"strings"

	"github.com/xianshu-virtuous/MoFox-Core/internal/bus"
	"github.com/xianshu-virtuous/MoFox-Core/internal/envelope"
	coreerrors "github.com/xianshu-virtuous/MoFox-Core/internal/errors"
	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
	"github.com/xianshu-virtuous/MoFox-Core/internal/permission"
	"github.com/xianshu-virtuous/MoFox-Core/internal/plugin"
)

// Outbound abstracts the bus send path so Dispatcher can be tested without
// a live Runtime; *bus.Runtime satisfies this via SendOutgoing.
type Outbound interface {
	SendOutgoing(ctx context.Context, env *envelope.MessageEnvelope) error
}

var _ Outbound = (*bus.Runtime)(nil)

// Checker abstracts the permission gate so Dispatcher can be tested
// without a live store-backed Checker; *permission.Checker satisfies it.
type Checker interface {
	Allowed(ctx context.Context, platform, userID, node string) (bool, error)
}

var _ Checker = (*permission.Checker)(nil)

// Registry abstracts the component lookup; *plugin.Registry satisfies it.
type Registry interface {
	Get(kind plugin.Kind, name string) (*plugin.Component, bool)
}

var _ Registry = (*plugin.Registry)(nil)

// Dispatcher recognizes "/<plugin> <verb> [args...]" invocations, resolves
// them against the COMMAND components a registry holds, and gates
// execution on the "plugin.<plugin>.<verb>" node before running them.
type Dispatcher struct {
	registry Registry
	checker  Checker
	out      Outbound
}

// New creates a Dispatcher.
func New(registry Registry, checker Checker, out Outbound) *Dispatcher {
	return &Dispatcher{registry: registry, checker: checker, out: out}
}

// Handler returns a bus.Handler suitable for Runtime.AddRoute.
func (d *Dispatcher) Handler() bus.Handler {
	return d.handle
}

// IsCommand is the route Predicate for command invocations: an incoming
// envelope whose segment parses as a command. Register routes using it
// ahead of any generic/reply-generator route so a command is never handed
// to the LLM reply path.
func IsCommand(env *envelope.MessageEnvelope) bool {
	if env.Direction != envelope.Incoming {
		return false
	}
	_, _, ok := parseInvocation(env)
	return ok
}

// handle resolves the command, checks the caller's permission node, and
// either replies with a single denial envelope or runs the command and
// replies with its result. A denial never touches the registry or store
// beyond the read-only permission check.
func (d *Dispatcher) handle(ctx context.Context, env *envelope.MessageEnvelope) error {
	name, args, ok := parseInvocation(env)
	if !ok {
		return nil
	}

	comp, found := d.registry.Get(plugin.KindCommand, name)
	if !found {
		return nil
	}

	node := "plugin." + name
	allowed, err := d.checker.Allowed(ctx, env.Platform, env.MessageInfo.User.ID, node)
	if err != nil {
		logger.Command().Warn().Err(err).Str("node", node).Msg("permission check failed, denying command")
	}
	if !allowed {
		d.reply(ctx, env, coreerrors.Denied(node).Message)
		return nil
	}

	runner, ok := comp.Impl.(plugin.CommandLike)
	if !ok {
		logger.Command().Warn().Str("command", name).Msg("registered command component is not runnable")
		return nil
	}

	result, err := runner.Run(args)
	if err != nil {
		fault := coreerrors.Wrap(coreerrors.HandlerFault, "command execution failed", err).WithField("command", name)
		logger.Command().Warn().Err(fault).Msg("command failed")
		return nil
	}
	if strings.TrimSpace(result) == "" {
		return nil
	}
	d.reply(ctx, env, result)
	return nil
}

func (d *Dispatcher) reply(ctx context.Context, env *envelope.MessageEnvelope, text string) {
	out := &envelope.MessageEnvelope{
		Direction:      envelope.Outgoing,
		Platform:       env.Platform,
		MessageID:      env.MessageID + "-command-reply",
		TimestampMs:    envelope.NowMs(),
		MessageInfo:    env.MessageInfo,
		MessageSegment: envelope.Text(text),
		SchemaVersion:  envelope.CurrentSchemaVersion,
	}
	if err := d.out.SendOutgoing(ctx, out); err != nil {
		logger.Command().Warn().Err(err).Str("message_id", env.MessageID).Msg("send_outgoing failed")
	}
}

// parseInvocation recognizes a command segment (SegCommand, pre-parsed by
// the adapter) or a plain-text "/<plugin> <verb> [args...]" message, and
// returns the registry lookup name ("<plugin>.<verb>") and the remaining
// tokens as arguments. A bare "/<plugin>" with no verb is not a valid
// invocation, since every registered COMMAND component name is
// "<plugin>.<verb>".
func parseInvocation(env *envelope.MessageEnvelope) (string, []string, bool) {
	if env.MessageSegment == nil {
		return "", nil, false
	}
	if payload, ok := env.MessageSegment.CommandContent(); ok {
		if payload.Name == "" {
			return "", nil, false
		}
		return payload.Name, payload.Args, true
	}

	text := env.MessageSegment.TextContent()
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(fields) < 2 {
		return "", nil, false
	}
	return fields[0] + "." + fields[1], fields[2:], true
}
