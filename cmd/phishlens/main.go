package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/phishlens/phishlens/internal/cli"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = ""
	commit  = ""
)

func versionString() string {
	v, c := strings.TrimSpace(version), strings.TrimSpace(commit)
	if info, ok := debug.ReadBuildInfo(); ok {
		if v == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
		if c == "" {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" && len(s.Value) >= 12 {
					c = s.Value[:12]
				}
			}
		}
	}
	if v == "" {
		v = "dev"
	}
	if c == "" || strings.Contains(v, c) {
		return v
	}
	return v + "+" + c
}

func run(ctx context.Context, stderr io.Writer) int {
	err := cli.NewRoot(versionString()).ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *cli.ExitError
	if !errors.As(err, &ee) {
		fmt.Fprintln(stderr, "phishlens:", err)
		return 1
	}
	if msg := ee.Message(); msg != "" {
		fmt.Fprintln(stderr, "phishlens:", msg)
	}
	return ee.Code()
}

func main() {
	os.Exit(run(context.Background(), os.Stderr))
}
