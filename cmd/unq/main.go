package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"unq/internal/app"
)

func main() {
	var (
		cfgPath string
		stdin   bool
		stay    bool
	)
	flag.StringVar(&cfgPath, "config", "./unq.yaml", "path to config (yaml or json)")
	flag.BoolVar(&stdin, "stdin", true, "submit each line of stdin as a call")
	flag.BoolVar(&stay, "stay", false, "keep running after stdin ends (triggers only)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	inputDone := make(chan error, 1)
	if stdin {
		go func() { inputDone <- a.ServeLines(ctx, os.Stdin) }()
	}

	code := 0
	select {
	case <-ctx.Done():
	case <-a.Done():
		code = 1
	case err := <-inputDone:
		if err != nil {
			fmt.Fprintln(os.Stderr, "input:", err)
			code = 1
		} else if stay {
			select {
			case <-ctx.Done():
			case <-a.Done():
				code = 1
			}
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
		code = 1
	}
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		code = 1
	}
	os.Exit(code)
}
