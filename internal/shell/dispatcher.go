// Package shell parses command lines and runs them against a device session.
package shell

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/campusrun/campus-run/internal/session"
	"github.com/campusrun/campus-run/internal/ui"
	"github.com/docopt/docopt-go"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("invalid arguments")
)

// Session is the device session the dispatcher drives.
type Session interface {
	Init(ctx context.Context, opts session.InitOptions) error
	Load(path string) error
	Start(ctx context.Context, opts session.StartOptions) error
	Status() session.Status
	Cleanup()
	CheckDeveloperMode(ctx context.Context) (bool, error)
	EnableDeveloperMode(ctx context.Context) error
}

type command struct {
	summary string
	usage   string
	run     func(ctx context.Context, opts docopt.Opts) (exit bool, err error)
}

// Dispatcher runs one command line at a time against a Session. Console and
// remote front-ends share it.
type Dispatcher struct {
	session  Session
	out      ui.Output
	logger   zerolog.Logger
	parser   *docopt.Parser
	commands map[string]command
}

// NewDispatcher creates a new Dispatcher driving s and reporting to out.
func NewDispatcher(s Session, out ui.Output, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		session: s,
		out:     out,
		logger:  logger.With().Str("component", "shell").Logger(),
		parser: &docopt.Parser{
			HelpHandler:   docopt.NoHelpHandler,
			SkipHelpFlags: true,
		},
	}

	exit := command{
		summary: "Clean up and leave the shell.",
		usage:   "Usage:\n  exit",
		run:     func(context.Context, docopt.Opts) (bool, error) { return true, nil },
	}
	d.commands = map[string]command{
		"init": {
			summary: "Connect to the device and start the tunnel.",
			usage: `Usage:
  init [--ios17] [--ios=<version>]

Options:
  --ios17          Use the lockdown tunnel (iOS 17.4 and later).
  --ios=<version>  Device iOS version, picks the tunnel automatically.`,
			run: d.runInit,
		},
		"load": {
			summary: "Load a GeoJSON route (default data.geojson).",
			usage:   "Usage:\n  load [<path>]",
			run:     d.runLoad,
		},
		"start": {
			summary: "Play the loaded route, or a GPX file, on the device.",
			usage:   "Usage:\n  start [<path>]",
			run:     d.runStart,
		},
		"status": {
			summary: "Show the session state.",
			usage:   "Usage:\n  status",
			run:     d.runStatus,
		},
		"cleanup": {
			summary: "Stop all helper processes and reset the session.",
			usage:   "Usage:\n  cleanup",
			run:     d.runCleanup,
		},
		"check_dev_mode_status": {
			summary: "Report whether developer mode is enabled.",
			usage:   "Usage:\n  check_dev_mode_status",
			run:     d.runCheckDevMode,
		},
		"enable_dev_mode": {
			summary: "Enable developer mode on the device.",
			usage:   "Usage:\n  enable_dev_mode",
			run:     d.runEnableDevMode,
		},
		"help": {
			summary: "List commands or show the usage of one.",
			usage:   "Usage:\n  help [<command>]",
			run:     d.runHelp,
		},
		"exit": exit,
		"quit": exit,
		"EOF":  exit,
	}
	return d
}

// Dispatch runs one command line. It reports whether the shell should exit.
// Failures are logged and written to the output; the returned error is for
// callers that need to inspect it.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	name, argv := fields[0], fields[1:]

	cmd, ok := d.commands[name]
	if !ok {
		d.out.AppendOutput(fmt.Sprintf("Unknown command: %s (type help for a list)", name))
		return false, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	opts, err := d.parser.ParseArgs(cmd.usage, argv, "")
	if err != nil {
		d.out.AppendOutput(cmd.usage)
		return false, fmt.Errorf("%w: %s", ErrUsage, strings.Join(fields, " "))
	}

	d.logger.Debug().Str("command", name).Strs("args", argv).Msg("Dispatching command")
	exit, err := cmd.run(ctx, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			d.out.AppendOutput("Interrupted")
			return exit, nil
		}
		d.logger.Error().Err(err).Str("command", name).Msg("Command failed")
		d.out.AppendOutput("Error: " + err.Error())
	}
	return exit, err
}

// Cleanup releases the session's processes.
func (d *Dispatcher) Cleanup() {
	d.session.Cleanup()
}

func (d *Dispatcher) runInit(ctx context.Context, opts docopt.Opts) (bool, error) {
	ios17, _ := opts.Bool("--ios17")
	version, _ := opts.String("--ios")
	return false, d.session.Init(ctx, session.InitOptions{IOS17Plus: ios17, IOSVersion: version})
}

func (d *Dispatcher) runLoad(_ context.Context, opts docopt.Opts) (bool, error) {
	path, _ := opts.String("<path>")
	return false, d.session.Load(path)
}

func (d *Dispatcher) runStart(ctx context.Context, opts docopt.Opts) (bool, error) {
	path, _ := opts.String("<path>")
	return false, d.session.Start(ctx, session.StartOptions{Path: path})
}

func (d *Dispatcher) runStatus(context.Context, docopt.Opts) (bool, error) {
	d.out.AppendOutput(d.session.Status().String())
	return false, nil
}

func (d *Dispatcher) runCleanup(context.Context, docopt.Opts) (bool, error) {
	d.session.Cleanup()
	return false, nil
}

func (d *Dispatcher) runCheckDevMode(ctx context.Context, _ docopt.Opts) (bool, error) {
	_, err := d.session.CheckDeveloperMode(ctx)
	return false, err
}

func (d *Dispatcher) runEnableDevMode(ctx context.Context, _ docopt.Opts) (bool, error) {
	return false, d.session.EnableDeveloperMode(ctx)
}

func (d *Dispatcher) runHelp(_ context.Context, opts docopt.Opts) (bool, error) {
	if name, err := opts.String("<command>"); err == nil {
		cmd, ok := d.commands[name]
		if !ok {
			d.out.AppendOutput("No help for " + name)
			return false, nil
		}
		d.out.AppendOutput(cmd.summary + "\n\n" + cmd.usage)
		return false, nil
	}

	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Commands:")
	for _, name := range names {
		fmt.Fprintf(&b, "\n  %-22s %s", name, d.commands[name].summary)
	}
	d.out.AppendOutput(b.String())
	return false, nil
}
