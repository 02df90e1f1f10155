// Package main provides folder-mcp-logs, a companion binary for viewing
// and following the daemon's log files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/folder-mcp/daemon/internal/logging"
)

func main() {
	var (
		follow  = flag.Bool("f", false, "Follow the log (like tail -f)")
		lines   = flag.Int("n", 50, "Number of lines to show")
		level   = flag.String("level", "", "Filter by level (debug, info, warn, error)")
		pattern = flag.String("grep", "", "Filter by regular expression")
		source  = flag.String("source", "daemon", "Log source: daemon, mcp, all")
		file    = flag.String("file", "", "Explicit log file path")
		noColor = flag.Bool("no-color", false, "Disable colored output")
	)
	flag.Parse()

	cfg := logging.ViewerConfig{
		Level:      *level,
		NoColor:    *noColor,
		ShowSource: logging.ParseLogSource(*source) == logging.LogSourceAll,
	}
	if *pattern != "" {
		re, err := regexp.Compile(*pattern)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid pattern: %v\n", err)
			os.Exit(2)
		}
		cfg.Pattern = re
	}

	paths, err := logging.FindLogFileBySource(logging.ParseLogSource(*source), *file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	viewer := logging.NewViewer(cfg, os.Stdout)

	entries, err := viewer.TailMultiple(paths, *lines)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	viewer.Print(entries)

	if !*follow {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch := make(chan logging.LogEntry, 64)
	go func() {
		for entry := range ch {
			fmt.Fprintln(os.Stdout, viewer.FormatEntry(entry))
		}
	}()

	if err := viewer.FollowMultiple(ctx, paths, ch); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
