package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the command line options.
type AppOptions struct {
	ConfigFile  string
	Interactive bool
	Steps       int
	OutputFile  string
	Supersample float64
	FitnessPlot string
	LogFile     string
	HttpMode    bool
	HttpPort    int
	MqttMode    bool
	Verbose     bool
}

// Runner is what the command line dispatches to.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunInteractive() error
	RunSteps() error
	RunService() error
}

func main() {
	logger := newLogger(os.Stderr)
	app := NewApp(os.Stdout, logger)
	if err := run(os.Args[1:], os.Stdout, app); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logger.Fatal("icpstep failed", "err", err)
	}
}

func newLogger(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
	})
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("icpstep", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	var showVersion bool
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.BoolVar(&opts.Interactive, "interactive", false, "Step the registration from the terminal (default mode)")
	fs.IntVar(&opts.Steps, "steps", 0, "Run N step triggers headless, print the transform after each and exit")
	fs.StringVar(&opts.OutputFile, "output", "icp-view.png", "Render output file (.png or .svg)")
	fs.Float64Var(&opts.Supersample, "supersample", 0, "Render PNG output through the vector renderer at N pixels per unit")
	fs.StringVar(&opts.FitnessPlot, "fitness-plot", "", "Write the fitness history chart to this file (.png, .svg, .pdf)")
	fs.StringVar(&opts.LogFile, "log-file", "icpstep.log", "Log file used while the terminal viewer is open")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve the session over HTTP")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (default from config)")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Publish step reports and accept step triggers over MQTT")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Log every ICP iteration")
	fs.BoolVar(&showVersion, "version", false, "Print the version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "icpstep version: %s\n", Version)
	if showVersion {
		return nil
	}
	if opts.Steps < 0 {
		return fmt.Errorf("--steps must not be negative, got %d", opts.Steps)
	}

	app.ApplyOptions(opts)

	switch {
	case opts.HttpMode || opts.MqttMode:
		return app.RunService()
	case opts.Steps > 0 && !opts.Interactive:
		return app.RunSteps()
	default:
		return app.RunInteractive()
	}
}
