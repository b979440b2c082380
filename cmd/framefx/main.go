// Command framefx applies effect chains to videos and images. Video saves are
// rendered by a pool of worker processes; the serve command runs saves from a
// queue behind an HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

var version = "0.1.0-dev"

const usage = `framefx %s

Usage:
  framefx save   --video in.mp4 [--out out.mp4] [--effect kind:key=value]... [flags]
  framefx image  --in a.png [--out b.png] [--effect kind:key=value]... [flags]
  framefx serve  [--port 8000] [flags]
  framefx check  [flags]

Effects:
  pixelate:granularity=3..4096
  grayscale:intensity=0..1
  blur:radius=0..8

Run "framefx <command> --help" for the flags of a command.
`

type command func(ctx context.Context, args []string, stdout, stderr io.Writer) int

var commands = map[string]command{
	"save":   runSave,
	"image":  runImage,
	"serve":  runServe,
	"check":  runCheck,
	"worker": runWorker,
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintf(stderr, usage, version)
		return 2
	}
	switch args[0] {
	case "-h", "--help", "help":
		fmt.Fprintf(stdout, usage, version)
		return 0
	case "-v", "--version", "version":
		fmt.Fprintln(stdout, version)
		return 0
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "framefx: unknown command %q\n\n", args[0])
		fmt.Fprintf(stderr, usage, version)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return cmd(ctx, args[1:], stdout, stderr)
}

// parseFlags parses a command's flags. It returns a non-negative exit code
// when the command should stop.
func parseFlags(fs *pflag.FlagSet, args []string, stderr io.Writer) int {
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "framefx %s: %v\n", fs.Name(), err)
		return 2
	}
	return -1
}

func fail(stderr io.Writer, name string, err error) int {
	fmt.Fprintf(stderr, "framefx %s: %v\n", name, err)
	return 1
}
