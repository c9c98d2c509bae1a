// crowctl is a command-line client for the Crow Cloud alarm panel API. It
// lists panels and their areas, zones, outputs and measurements, changes
// area and output states, captures camera images and follows the live event
// stream of a panel.
//
// Credentials come from a YAML config file (--config), the CROW_EMAIL and
// CROW_PASSWORD environment variables, or flags.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	crow "github.com/peteraglen/crowcloud-go-client"
)

type flags struct {
	configPath string
	email      string
	baseURL    string
	timeout    time.Duration
	retries    int
	logLevel   string
	out        string
}

type env struct {
	stdout io.Writer
	stderr io.Writer
	out    string
}

type command struct {
	usage string
	args  int
	run   func(ctx context.Context, c *crow.Client, e *env, args []string) error
}

var commands = map[string]command{
	"panels": {
		usage: "panels",
		run: func(ctx context.Context, c *crow.Client, e *env, _ []string) error {
			panels, err := c.GetPanels(ctx)
			if err != nil {
				return err
			}
			return printJSON(e.stdout, panels)
		},
	},
	"panel": {
		usage: "panel MAC",
		args:  1,
		run: func(ctx context.Context, c *crow.Client, e *env, args []string) error {
			panel, err := c.GetPanel(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(e.stdout, panel)
		},
	},
	"areas": {
		usage: "areas MAC",
		args:  1,
		run: func(ctx context.Context, c *crow.Client, e *env, args []string) error {
			areas, err := c.GetAreas(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(e.stdout, areas)
		},
	},
	"area": {
		usage: "area MAC AREA_ID",
		args:  2,
		run: func(ctx context.Context, c *crow.Client, e *env, args []string) error {
			area, err := c.GetArea(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(e.stdout, area)
		},
	},
	"set-area": {
		usage: "set-area MAC AREA_ID arm|stay|disarm",
		args:  3,
		run: func(ctx context.Context, c *crow.Client, e *env, args []string) error {
			cmd := crow.AreaCommand(strings.ToLower(args[2]))
			if !cmd.Valid() {
				return fmt.Errorf("unknown area command %q, expected arm, stay or disarm", args[2])
			}

			area, err := c.SetAreaState(ctx, args[0], args[1], cmd)
			if err != nil {
				return err
			}

			if area == nil {
				fmt.Fprintln(e.stdout, "state change sent, the panel has not confirmed it yet")
				return nil
			}
			return printJSON(e.stdout, area)
		},
	},
	"zones": {
		usage: "zones MAC",
		args:  1,
		run: func(ctx context.Context, c *crow.Client, e *env, args []string) error {
			zones, err := c.GetZones(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(e.stdout, zones)
		},
	},
	"outputs": {
		usage: "outputs MAC",
		args:  1,
		run: func(ctx context.Context, c *crow.Client, e *env, args []string) error {
			outputs, err := c.GetOutputs(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(e.stdout, outputs)
		},
	},
	"set-output": {
		usage: "set-output MAC OUTPUT_ID on|off",
		args:  3,
		run: func(ctx context.Context, c *crow.Client, e *env, args []string) error {
			var on bool
			switch strings.ToLower(args[2]) {
			case "on":
				on = true
			case "off":
			default:
				return fmt.Errorf("unknown output state %q, expected on or off", args[2])
			}

			if err := c.SetOutputState(ctx, args[0], args[1], on); err != nil {
				return err
			}

			fmt.Fprintf(e.stdout, "output %s switched %s\n", args[1], strings.ToLower(args[2]))
			return nil
		},
	},
	"measurements": {
		usage: "measurements MAC",
		args:  1,
		run: func(ctx context.Context, c *crow.Client, e *env, args []string) error {
			measurements, err := c.GetMeasurements(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(e.stdout, measurements)
		},
	},
	"capture": {
		usage: "capture MAC ZONE_ID [--out FILE]",
		args:  2,
		run:   runCapture,
	},
	"watch": {
		usage: "watch MAC",
		args:  1,
		run:   runWatch,
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) error {
	var f flags

	fs := pflag.NewFlagSet("crowctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&f.configPath, "config", "c", "", "path to a YAML config file")
	fs.StringVar(&f.email, "email", "", "account email (overrides CROW_EMAIL)")
	fs.StringVar(&f.baseURL, "base-url", crow.DefaultBaseURL, "API base URL")
	fs.DurationVar(&f.timeout, "timeout", 30*time.Second, "per-request timeout")
	fs.IntVar(&f.retries, "retries", 3, "attempts per request")
	fs.StringVar(&f.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	fs.StringVarP(&f.out, "out", "o", "", "capture: write the image to this file instead of stdout")
	fs.BoolP("help", "h", false, "show help")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, fs)
			return nil
		}
		return err
	}

	if help, _ := fs.GetBool("help"); help {
		printHelp(stderr, fs)
		return nil
	}

	rest := fs.Args()
	if len(rest) == 0 {
		printHelp(stderr, fs)
		return errors.New("missing command")
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", rest[0])
	}

	if len(rest)-1 != cmd.args {
		return fmt.Errorf("usage: crowctl %s", cmd.usage)
	}

	cfg, err := loadConfig(f.configPath, getenv)
	if err != nil {
		return err
	}

	cfg.applyFlags(fs, &f)

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	c := crow.New(cfg.Email, cfg.Password, cfg.clientOptions(logger.Sugar())...)
	defer func() { _ = c.Close() }()

	if err := c.Connect(ctx); err != nil {
		return err
	}

	e := &env{stdout: stdout, stderr: stderr, out: f.out}

	return cmd.run(ctx, c, e, rest[1:])
}

func runCapture(ctx context.Context, c *crow.Client, e *env, args []string) error {
	image, err := c.CaptureCamImage(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	if image == nil {
		return errors.New("the panel did not deliver an image")
	}

	if e.out == "" {
		_, err := e.stdout.Write(image)
		return err
	}

	if err := os.WriteFile(e.out, image, 0o644); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}

	fmt.Fprintf(e.stderr, "wrote %d bytes to %s\n", len(image), e.out)

	return nil
}

// runWatch prints every stream message as one JSON line until ctx ends.
func runWatch(ctx context.Context, c *crow.Client, e *env, args []string) error {
	enc := json.NewEncoder(e.stdout)

	err := c.Watch(ctx, args[0], func(_ context.Context, msg crow.Message) error {
		return enc.Encode(msg)
	}, crow.WithStateListener(func(s crow.StreamState) {
		fmt.Fprintf(e.stderr, "stream %s\n", s)
	}))

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func printHelp(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprint(w, `crowctl talks to the Crow Cloud alarm panel API.

Usage:
  crowctl [flags] <command> [args]

Commands:
`)

	names := []string{"panels", "panel", "areas", "area", "set-area", "zones", "outputs", "set-output", "measurements", "capture", "watch"}
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}

	fmt.Fprint(w, `
Credentials are read from --config, then CROW_EMAIL and CROW_PASSWORD,
then --email.

Flags:
`)
	fs.SetOutput(w)
	fs.PrintDefaults()
}
