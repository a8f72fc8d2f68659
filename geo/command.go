package geo

import (
	"context"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"
)

const (
	// DefaultToolCommand is the external geolocation program.
	DefaultToolCommand = "nali"
	// VersionArg is the probe argument used by the availability check.
	VersionArg = "-v"

	defaultWaitDelay = 2 * time.Second
)

// Command describes how to start the external tool.
type Command struct {
	// Path is the executable, resolved through PATH when not absolute.
	Path string
	// Args are prepended before the probe or lookup argument.
	Args []string
	// Env holds extra environment variables for the child.
	Env map[string]string
}

func (c Command) path() string {
	if clean := strings.TrimSpace(c.Path); clean != "" {
		return clean
	}
	return DefaultToolCommand
}

// build returns an unstarted command running the tool with arg appended.
// The child is killed when ctx is done and Wait gives up on inherited
// pipes after defaultWaitDelay.
func (c Command) build(ctx context.Context, arg string) *exec.Cmd {
	args := make([]string, 0, len(c.Args)+1)
	args = append(args, c.Args...)
	args = append(args, arg)
	// #nosec G204 -- the tool path comes from configuration and arg is a single argv entry.
	cmd := exec.CommandContext(ctx, c.path(), args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), flattenEnv(c.Env)...)
	}
	cmd.WaitDelay = defaultWaitDelay
	return cmd
}

func flattenEnv(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(values))
	for _, key := range keys {
		out = append(out, key+"="+values[key])
	}
	return out
}

func withDefaultTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := parent.Deadline(); !hasDeadline && timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}
