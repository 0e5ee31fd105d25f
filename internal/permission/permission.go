// Package permission implements the flat node-grant permission system
// (spec §6): a Checker any subsystem can consult, plus the six CLI
// subcommands (grant/revoke/list/check/nodes/help) registered as COMMAND
// plugin components so they're reachable the same way any other plugin
// command is.
//
// Grounded in the teacher's internal/plugins component-registration idiom
// (a BasePlugin embedding struct exposing GetComponents()) for how the
// commands are surfaced, and in internal/middleware's RBAC-bypass idiom
// for master_users — generalized here from the teacher's role-based
// dashboard RBAC into the spec's flat node-grant model, which has no
// roles, only directly-granted or default-granted nodes.
package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
	"github.com/xianshu-virtuous/MoFox-Core/internal/plugin"
	"github.com/xianshu-virtuous/MoFox-Core/internal/store"
)

// Checker answers permission questions for any subsystem (bus routing,
// command dispatch) that needs to gate an operation on a node grant.
type Checker struct {
	store       *store.Store
	masterUsers map[string]bool
}

// NewChecker creates a Checker. masterUsers lists user ids that bypass
// every node check (spec §6 "[permission] master_users").
func NewChecker(s *store.Store, masterUsers []string) *Checker {
	set := make(map[string]bool, len(masterUsers))
	for _, id := range masterUsers {
		set[id] = true
	}
	return &Checker{store: s, masterUsers: set}
}

// IsMaster reports whether userID is configured as a master user.
func (c *Checker) IsMaster(userID string) bool { return c.masterUsers[userID] }

// Allowed reports whether (platform, userID) may use node, short-
// circuiting true for master users before consulting the store.
func (c *Checker) Allowed(ctx context.Context, platform, userID, node string) (bool, error) {
	if c.IsMaster(userID) {
		return true, nil
	}
	allowed, err := c.store.Check(ctx, platform, userID, node)
	if errors.Is(err, store.ErrNodeNotFound) {
		return false, err
	}
	return allowed, err
}

// Plugin exposes the grant/revoke/list/check/nodes/help commands as a
// loadable Plugin (spec §4.2), so they are registered and dispatched the
// same way any user plugin's commands are.
type Plugin struct {
	plugin.BasePlugin
	store   *store.Store
	checker *Checker
}

// New creates the built-in permission command Plugin.
func New(s *store.Store, masterUsers []string) *Plugin {
	return &Plugin{
		BasePlugin: plugin.BasePlugin{Name: "permission", PluginVersion: "1.0.0"},
		store:      s, checker: NewChecker(s, masterUsers),
	}
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{Name: "permission", Version: "1.0.0", Enabled: true}
}

// Checker returns the Plugin's Checker, so the bus-level command dispatcher
// can gate invocations against the same node grants the CLI "check" command
// consults.
func (p *Plugin) Checker() *Checker { return p.checker }

// GetComponents registers each subcommand as its own COMMAND component,
// matching spec §6's "permission command surface" one-verb-per-component
// shape.
func (p *Plugin) GetComponents() []plugin.Component {
	commands := map[string]plugin.CommandLike{
		"grant":  grantCommand{p},
		"revoke": revokeCommand{p},
		"list":   listCommand{p},
		"check":  checkCommand{p},
		"nodes":  nodesCommand{p},
		"help":   helpCommand{},
	}
	out := make([]plugin.Component, 0, len(commands))
	for name, impl := range commands {
		out = append(out, plugin.Component{
			Info: plugin.ComponentInfo{Kind: plugin.KindCommand, Name: "permission." + name, Plugin: "permission", Enabled: true},
			Impl: impl,
		})
	}
	return out
}

// parseArgs validates args has at least n entries, returning a
// human-readable CoreError-free message for command output rather than
// erroring the dispatch path for a simple usage mistake.
func parseArgs(args []string, n int, usage string) ([]string, string) {
	if len(args) < n {
		return nil, "usage: " + usage
	}
	return args, ""
}

type grantCommand struct{ p *Plugin }

func (c grantCommand) Run(args []string) (string, error) {
	a, usageErr := parseArgs(args, 3, "permission grant <platform> <user_id> <node>")
	if usageErr != "" {
		return usageErr, nil
	}
	ctx := context.Background()
	if err := c.p.store.Grant(ctx, a[0], a[1], a[2]); err != nil {
		logger.Permission().Warn().Err(err).Str("node", a[2]).Msg("grant failed")
		return "", err
	}
	return fmt.Sprintf("granted %s to %s/%s", a[2], a[0], a[1]), nil
}

type revokeCommand struct{ p *Plugin }

func (c revokeCommand) Run(args []string) (string, error) {
	a, usageErr := parseArgs(args, 3, "permission revoke <platform> <user_id> <node>")
	if usageErr != "" {
		return usageErr, nil
	}
	ctx := context.Background()
	if err := c.p.store.Revoke(ctx, a[0], a[1], a[2]); err != nil {
		logger.Permission().Warn().Err(err).Str("node", a[2]).Msg("revoke failed")
		return "", err
	}
	return fmt.Sprintf("revoked %s from %s/%s", a[2], a[0], a[1]), nil
}

type listCommand struct{ p *Plugin }

func (c listCommand) Run(args []string) (string, error) {
	a, usageErr := parseArgs(args, 2, "permission list <platform> <user_id>")
	if usageErr != "" {
		return usageErr, nil
	}
	ctx := context.Background()
	nodes, err := c.p.store.ListGrants(ctx, a[0], a[1])
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return fmt.Sprintf("%s/%s has no explicit grants", a[0], a[1]), nil
	}
	return strings.Join(nodes, ", "), nil
}

type checkCommand struct{ p *Plugin }

func (c checkCommand) Run(args []string) (string, error) {
	a, usageErr := parseArgs(args, 3, "permission check <platform> <user_id> <node>")
	if usageErr != "" {
		return usageErr, nil
	}
	ctx := context.Background()
	allowed, err := c.p.checker.Allowed(ctx, a[0], a[1], a[2])
	if errors.Is(err, store.ErrNodeNotFound) {
		return fmt.Sprintf("node %q is not registered", a[2]), nil
	}
	if err != nil {
		return "", err
	}
	if allowed {
		return "granted", nil
	}
	return "denied", nil
}

type nodesCommand struct{ p *Plugin }

func (c nodesCommand) Run(args []string) (string, error) {
	ctx := context.Background()
	nodes, err := c.p.store.Nodes(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, n := range nodes {
		fmt.Fprintf(&b, "%s (%s): %s [default_grant=%v]\n", n.NodeName, n.Plugin, n.Description, n.DefaultGrant)
	}
	return b.String(), nil
}

type helpCommand struct{}

func (helpCommand) Run(args []string) (string, error) {
	return strings.Join([]string{
		"permission grant <platform> <user_id> <node>",
		"permission revoke <platform> <user_id> <node>",
		"permission list <platform> <user_id>",
		"permission check <platform> <user_id> <node>",
		"permission nodes",
		"permission help",
	}, "\n"), nil
}
