//go:build !linux

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
)

func (a *app) mount(ctx context.Context, args []string) int {
	fmt.Fprintf(os.Stderr, "Error: mount is not supported on %s\n", runtime.GOOS)
	return 1
}
