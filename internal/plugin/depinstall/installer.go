// Package depinstall implements spec §4.2's dependency installer: a
// pip-style declared dependency is resolved by invoking a configured
// package-manager command, gated by global auto-install policy.
//
// Grounded in the teacher's internal/sync/git.go exec.CommandContext
// wrapper idiom (shelling out to an external tool with a context timeout
// and captured output), generalized from "git clone/pull" to "invoke a
// package manager install command".
package depinstall

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
)

// Policy mirrors spec §6's [dependency_management] section.
type Policy struct {
	AutoInstall        bool
	AutoInstallTimeout time.Duration
	UseProxy           bool
	ProxyURL           string
	AllowedAutoInstall []string
}

// Installer invokes the configured package manager to satisfy a missing
// or under-versioned declared dependency.
type Installer struct {
	policy  Policy
	command string // package-manager executable, e.g. "pip"
}

// New creates an Installer for the given policy, defaulting the underlying
// package-manager command to "pip" (the dependency model spec §4.2
// describes as "Python-style declared runtime deps").
func New(policy Policy) *Installer {
	return &Installer{policy: policy, command: "pip"}
}

// WithCommand overrides the package-manager executable (for testing, or for
// deployments using a different installer).
func (i *Installer) WithCommand(cmd string) *Installer {
	i.command = cmd
	return i
}

// allowed reports whether installName is permitted by the allow-list. An
// empty allow-list permits everything.
func (i *Installer) allowed(installName string) bool {
	if len(i.policy.AllowedAutoInstall) == 0 {
		return true
	}
	for _, name := range i.policy.AllowedAutoInstall {
		if name == installName {
			return true
		}
	}
	return false
}

// Install runs the configured installer for installName (e.g.
// "pip install <name>"). Returns an error if auto-install is disabled,
// the package isn't on the allow-list, the timeout elapses, or the
// installer exits non-zero.
func (i *Installer) Install(ctx context.Context, installName string) error {
	if !i.policy.AutoInstall {
		return fmt.Errorf("auto_install disabled: cannot install %q", installName)
	}
	if !i.allowed(installName) {
		return fmt.Errorf("%q is not in allowed_auto_install", installName)
	}

	timeout := i.policy.AutoInstallTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"install", installName}
	if i.policy.UseProxy && i.policy.ProxyURL != "" {
		args = append(args, "--proxy", i.policy.ProxyURL)
	}

	cmd := exec.CommandContext(ctx, i.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Plugin().Info().Str("package", installName).Msg("installing declared dependency")

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("installing %q failed: %w: %s", installName, err, stderr.String())
	}
	return nil
}
