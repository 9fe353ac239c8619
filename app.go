package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/kwv/icpstep/cloud"
)

const shutdownTimeout = 5 * time.Second

// App encapsulates the application state and dependencies
type App struct {
	Options    AppOptions
	Config     *cloud.Config
	Session    *cloud.Session
	Viewer     *cloud.Viewer
	MQTTClient *cloud.MQTTClient
	Publisher  *cloud.Publisher

	out    io.Writer
	logger *log.Logger
}

// NewApp creates a new App writing reports to out.
func NewApp(out io.Writer, logger *log.Logger) *App {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &App{out: out, logger: logger}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.Options = opts
	if opts.Verbose {
		a.logger.SetLevel(log.DebugLevel)
	}
}

// load reads the configuration and opens the session.
func (a *App) load(ctx context.Context) error {
	config, err := cloud.LoadConfig(a.Options.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	config.ApplyEnv()
	if a.Options.HttpPort > 0 {
		config.HTTP.Port = a.Options.HttpPort
	}
	a.Config = config
	a.logger.Info("loaded config", "path", a.Options.ConfigFile)

	session, err := cloud.OpenSession(ctx, config, a.logger)
	if err != nil {
		return err
	}
	a.Session = session
	a.Viewer = cloud.NewViewer(config.Render)
	return nil
}

// step runs one trigger and publishes the report when MQTT is up.
func (a *App) step() (cloud.StepReport, error) {
	report, err := a.Session.Step()
	if a.Publisher != nil {
		if pubErr := a.Publisher.PublishStep(report); pubErr != nil {
			a.logger.Warn("publishing step report", "err", pubErr)
		}
	}
	return report, err
}

// renderTo writes the current comparison view; the extension picks the format.
func (a *App) renderTo(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".png" && ext != ".svg" {
		return fmt.Errorf("unsupported output format %q (want .png or .svg)", ext)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer func() { _ = f.Close() }()

	scene := a.Session.Scene(a.Viewer)
	switch {
	case ext == ".svg":
		err = a.Viewer.RenderSVG(f, scene)
	case a.Options.Supersample > 0:
		err = a.Viewer.RenderVectorPNG(f, scene, a.Options.Supersample)
	default:
		err = a.Viewer.RenderPNG(f, scene)
	}
	if err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	a.logger.Info("rendered view", "path", path)
	return nil
}

// RunSteps runs the configured number of step triggers without a terminal UI.
func (a *App) RunSteps() error {
	if err := a.load(context.Background()); err != nil {
		return err
	}
	return a.runSteps()
}

func (a *App) runSteps() error {
	fmt.Fprint(a.out, a.Session.Last().String())
	for i := 0; i < a.Options.Steps; i++ {
		report, err := a.step()
		fmt.Fprintln(a.out)
		fmt.Fprint(a.out, report.String())
		if err != nil {
			return fmt.Errorf("step %d: %w", report.Step, err)
		}
	}

	if a.Options.OutputFile != "" {
		if err := a.renderTo(a.Options.OutputFile); err != nil {
			return err
		}
	}
	if a.Options.FitnessPlot != "" {
		if err := cloud.SaveFitnessPlot(a.Options.FitnessPlot, a.Session.History()); err != nil {
			return fmt.Errorf("writing fitness plot: %w", err)
		}
		a.logger.Info("wrote fitness plot", "path", a.Options.FitnessPlot)
	}
	return nil
}

// RunInteractive opens the terminal stepping viewer.
func (a *App) RunInteractive() error {
	if err := a.load(context.Background()); err != nil {
		return err
	}

	logFile, err := a.logToFile()
	if err != nil {
		return err
	}
	defer func() { _ = logFile.Close() }()

	output := a.Options.OutputFile
	if output == "" {
		output = "icp-view.png"
	}
	model := newStepModel(a.Session.Last(), a.step, func() (string, error) {
		return output, a.renderTo(output)
	})
	_, err = tea.NewProgram(model).Run()
	return err
}

// logToFile points the logger at the log file; the terminal viewer owns the
// screen while it runs.
func (a *App) logToFile() (io.Closer, error) {
	path := a.Options.LogFile
	if path == "" {
		path = "icpstep.log"
	}
	f, err := tea.LogToFileWith(path, "icpstep", a.logger)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// RunService runs the HTTP and/or MQTT front ends until SIGINT or SIGTERM.
func (a *App) RunService() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.load(ctx); err != nil {
		return err
	}
	return a.serve(ctx)
}

func (a *App) serve(ctx context.Context) error {
	if a.Options.MqttMode {
		mqttClient := cloud.InitMQTT(ctx, a.Config.MQTT, a.handleStepTrigger, a.logger)
		if mqttClient == nil {
			return errors.New("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
		}
		a.MQTTClient = mqttClient
		a.Publisher = cloud.NewPublisherFromConfig(mqttClient.GetClient(), a.Config.MQTT, a.logger)
		a.logger.Info("MQTT step publisher initialized")
	}

	var server *http.Server
	serverErr := make(chan error, 1)
	if a.Options.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.Config.HTTP.Port),
			Handler:           newHTTPServer(a.Session, a.Viewer, a.step, a.logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("starting HTTP server", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	a.printServiceInfo()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serverErr:
		err = fmt.Errorf("HTTP server: %w", err)
	}

	fmt.Fprintln(a.out, "\nShutting down service...")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			a.logger.Warn("HTTP shutdown", "err", shutdownErr)
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Fprintln(a.out, "Service stopped")
	return err
}

// handleStepTrigger runs a step for a message on the step topic.
func (a *App) handleStepTrigger(_ []byte) {
	report, err := a.step()
	if err != nil {
		a.logger.Warn("remote step failed", "step", report.Step, "err", err)
		return
	}
	a.logger.Info("remote step", "step", report.Step, "iteration", report.Iteration, "fitness", report.Fitness)
}

func (a *App) printServiceInfo() {
	fmt.Fprintln(a.out, "\nService Running")
	fmt.Fprintln(a.out, "===============")
	fmt.Fprintf(a.out, "Session: %s\n", a.Session.ID)

	if a.MQTTClient != nil {
		fmt.Fprintln(a.out, "\nMQTT:")
		fmt.Fprintf(a.out, "  Step trigger topic: %s\n", a.MQTTClient.StepTopic())
		fmt.Fprintf(a.out, "  Publishing to: %s\n", a.Publisher.SessionTopic(a.Session.ID))
		fmt.Fprintf(a.out, "  Latest report: %s\n", a.Publisher.LatestTopic())
	}

	if a.Options.HttpMode {
		fmt.Fprintf(a.out, "\nHTTP endpoints (port %d):\n", a.Config.HTTP.Port)
		fmt.Fprintln(a.out, "  GET  /health      - Health check")
		fmt.Fprintln(a.out, "  POST /step        - Run one step trigger")
		fmt.Fprintln(a.out, "  GET  /session     - Session snapshot")
		fmt.Fprintln(a.out, "  GET  /view.png    - Two-viewport comparison (raster)")
		fmt.Fprintln(a.out, "  GET  /view.svg    - Two-viewport comparison (vector)")
		fmt.Fprintln(a.out, "  GET  /fitness.png - Fitness history chart")
	}

	fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")
}
