package provision

import "context"

// SetRunCommand swaps the command runner and returns a restore func.
func SetRunCommand(fn func(ctx context.Context, name string, args ...string) error) func() {
	old := runCommand
	runCommand = fn
	return func() { runCommand = old }
}
