package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/council/internal/api"
	"github.com/joescharf/council/internal/daemon"
	"github.com/joescharf/council/internal/review"
)

const (
	shutdownTimeout = 10 * time.Second
	stopTimeout     = 5 * time.Second
)

var serveDaemon bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review API server",
	Long: `Start an HTTP server exposing the review API and its event stream.
By default it listens on port 8080. Use --port to change it and --daemon to
run it in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveDaemon {
			return serveStartRun()
		}
		return serveRun(cmd.Context())
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().BoolVarP(&serveDaemon, "daemon", "d", false, "run in the background")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

func runDir() string {
	return viper.GetString("state_dir")
}

func serverInstance() *daemon.Instance {
	return daemon.NewInstance(runDir())
}

func pidFile() *daemon.PIDFile {
	return serverInstance().PID
}

func serveLogPath() string {
	return filepath.Join(runDir(), "serve.log")
}

// serveRun runs the API server in the foreground until a shutdown signal arrives.
func serveRun(ctx context.Context) error {
	ctx = cmdContext(ctx)
	inst := serverInstance()
	if err := inst.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := inst.Release(); err != nil {
			slog.Warn("release server instance", "error", err)
		}
	}()

	s, err := getStore()
	if err != nil {
		return err
	}
	eng, err := newEngine()
	if err != nil {
		return err
	}
	orch := eng.orchestrator(s, review.DefaultConfig())
	handler := api.NewServer(s, orch, eng.gateway, eng.modelManager()).Router()

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	ui.Info("Serving review API at http://localhost%s/api/v1", addr)
	slog.Info("server started", "addr", addr, "provider", viper.GetString("inference.provider"))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	orch.Cancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// serveStartRun re-executes the binary as a detached foreground server.
func serveStartRun() error {
	inst := serverInstance()
	if pid, running := inst.PID.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}
	if inst.Held() {
		return fmt.Errorf("server already running")
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := os.MkdirAll(runDir(), 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	args := []string{"serve", "--port", fmt.Sprint(viper.GetInt("port"))}
	if cfg := viper.ConfigFileUsed(); cfg != "" {
		args = append(args, "--config", cfg)
	}
	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	ui.Success("Server started in background (pid %d)", child.Process.Pid)
	ui.Info("Logs: %s", serveLogPath())
	return child.Process.Release()
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		return fmt.Errorf("server is not running")
	}
	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal server: %w", err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if _, running := pf.IsRunning(); !running {
			ui.Success("Server stopped (pid %d)", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	ui.Warning("Server did not stop within %s, killing it", stopTimeout)
	if err := pf.Signal(sigKILL()); err != nil {
		return fmt.Errorf("kill server: %w", err)
	}
	_ = pf.Remove()
	return nil
}

func serveStatusRun() error {
	if pid, running := pidFile().IsRunning(); running {
		ui.Success("Server running (pid %d, port %d)", pid, viper.GetInt("port"))
		return nil
	}
	ui.Info("Server not running")
	return nil
}
