package app

import (
	"context"
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"unq/internal/config"
	"unq/pkg/governor"
)

// BuildCommand turns a command setting into a callable.
//
//	echo                 returns its arguments joined by spaces
//	exec:prog a b        runs prog a b <args...> without a shell, returning stdout
func BuildCommand(spec string) (governor.Callable, error) {
	if err := config.ValidateCommand(spec); err != nil {
		return nil, err
	}
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "echo" {
		return governor.Named("echo", governor.Func(echo)), nil
	}
	argv := strings.Fields(strings.TrimPrefix(spec, "exec:"))
	prog, fixed := argv[0], argv[1:]
	return governor.Named(prog, governor.Func(func(ctx context.Context, a governor.Args) (any, error) {
		args := append(slices.Clone(fixed), stringArgs(a)...)
		out, err := exec.CommandContext(ctx, prog, args...).Output()
		if err != nil {
			if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
				return nil, fmt.Errorf("%s: %w: %s", prog, err, strings.TrimSpace(string(ee.Stderr)))
			}
			return nil, fmt.Errorf("%s: %w", prog, err)
		}
		return strings.TrimRight(string(out), "\r\n"), nil
	})), nil
}

func echo(_ context.Context, a governor.Args) (any, error) {
	return strings.Join(stringArgs(a), " "), nil
}

func stringArgs(a governor.Args) []string {
	out := make([]string, 0, len(a.Pos))
	for _, v := range a.Pos {
		out = append(out, fmt.Sprint(v))
	}
	return out
}
