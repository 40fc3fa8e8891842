/*
Copyright 2025 SharedVolume

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sharedvolume/drift-detector/internal/config"
	"github.com/sharedvolume/drift-detector/internal/engine"
	"github.com/sharedvolume/drift-detector/internal/gitsource"
	"github.com/sharedvolume/drift-detector/internal/logging"
	"github.com/sharedvolume/drift-detector/internal/models"
	"github.com/sharedvolume/drift-detector/internal/report"
	"github.com/sharedvolume/drift-detector/internal/server"
	"github.com/sharedvolume/drift-detector/internal/service"
	"github.com/sharedvolume/drift-detector/internal/transport"
)

var (
	// Set at build time
	version = "dev"
	commit  = "none"

	// Global flags
	logLevel  string
	logFormat string

	// Check command flags
	projectFile string
	outputFmt   string
	showSynced  bool
	progress    bool
	exitCode    bool
)

// errDrifted makes check exit with status 2
var errDrifted = stderrors.New("drift detected")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if stderrors.Is(err, errDrifted) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "drift-detector",
	Short: "Detect drift between a Git branch and deployed hosts",
	Long: `drift-detector compares the tip of a Git branch with the files deployed on
remote hosts over SSH and reports every path as synced, modified, added or deleted.

It runs as an HTTP service or as a one-shot check driven by a project file.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one drift check from a project file",
	Long: `Check clones the project's branch, indexes every mapped remote root and prints
the drift report. Settings such as timeouts and concurrency come from the same
environment variables the service reads.`,
	RunE: runCheck,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "drift-detector %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console, json, dev); overrides LOG_FORMAT")

	checkCmd.Flags().StringVar(&projectFile, "config", "project.yaml", "project file")
	checkCmd.Flags().StringVarP(&outputFmt, "output", "o", "text", "report format (text, json)")
	checkCmd.Flags().BoolVar(&showSynced, "show-synced", false, "list synced paths in text output")
	checkCmd.Flags().BoolVar(&progress, "progress", false, "show a progress bar on stderr")
	checkCmd.Flags().BoolVar(&exitCode, "exit-code", false, "exit with status 2 when drift is detected")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() *config.Config {
	cfg := config.Load()
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg
}

func setupLogger(cfg *config.Config) *zap.Logger {
	return logging.Must(cfg.Logging())
}

// buildEngine wires the repository cache, SSH dialer and engine from cfg
func buildEngine(cfg *config.Config, opts engine.Options, logger *zap.Logger) (*engine.Engine, error) {
	cloner, err := gitsource.NewCloner(cfg.Detector.GitBackend, logger)
	if err != nil {
		return nil, err
	}
	cache := gitsource.NewCache(cfg.Detector.CacheDir, cloner, cfg.Detector.CloneTimeout, logger)

	dialer, err := transport.NewSSHDialer(transport.SSHOptions{
		KnownHostsFile: cfg.Detector.KnownHostsFile,
		ExecTimeout:    cfg.Detector.ExecTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	opts.Concurrency = cfg.Detector.Concurrency
	opts.ConnectTimeout = cfg.Detector.ConnectTimeout
	opts.ExecTimeout = cfg.Detector.ExecTimeout
	opts.DialRate = cfg.Detector.DialRate
	opts.MaxRemoteFiles = cfg.Detector.MaxRemoteFiles
	return engine.New(cache, dialer, opts, logger), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger := setupLogger(cfg)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting drift detector", zap.String("version", version), zap.Int("pid", os.Getpid()))

	eng, err := buildEngine(cfg, engine.Options{}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Cleanup(); err != nil {
			logger.Warn("failed to remove repository cache", zap.Error(err))
		}
	}()

	publishers, err := report.NewPublishers(cfg.Report, logger)
	if err != nil {
		return err
	}

	driftService := service.NewDriftService(eng, publishers, cfg.Detector.RunTimeout, logger)
	srv := server.NewServer(cfg, driftService, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg := loadConfig()
	logger := setupLogger(cfg)
	defer func() { _ = logger.Sync() }()

	pf, err := config.LoadProject(projectFile)
	if err != nil {
		return err
	}

	bar := newProgress(progress, cmd.ErrOrStderr())
	eng, err := buildEngine(cfg, engine.Options{OnMappingDone: bar.update}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Cleanup() }()

	if cfg.Detector.RunTimeout > 0 {
		var cancelRun context.CancelFunc
		ctx, cancelRun = context.WithTimeout(ctx, cfg.Detector.RunTimeout)
		defer cancelRun()
	}

	rep, err := eng.Run(ctx, pf.Project, pf.Credentials())
	bar.finish()
	if err != nil {
		return err
	}

	if publishers, err := report.NewPublishers(cfg.Report, logger); err != nil {
		logger.Warn("report publishing disabled", zap.Error(err))
	} else {
		report.PublishAll(ctx, publishers, rep, logger)
	}

	if err := writeReport(cmd.OutOrStdout(), rep, outputFmt, showSynced); err != nil {
		return err
	}

	if exitCode && rep.Summary.Drifted() {
		return errDrifted
	}
	return nil
}

func writeReport(w io.Writer, rep *models.SyncReport, format string, synced bool) error {
	switch format {
	case "json":
		return report.WriteJSON(w, rep)
	case "text", "":
		return report.WriteText(w, rep, synced)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// progressBar counts finished mappings; the zero value is disabled
type progressBar struct {
	enabled bool
	w       io.Writer
	once    sync.Once
	bar     *pb.ProgressBar
}

func newProgress(enabled bool, w io.Writer) *progressBar {
	return &progressBar{enabled: enabled, w: w}
}

func (p *progressBar) update(done, total int) {
	if !p.enabled {
		return
	}
	p.once.Do(func() {
		p.bar = pb.New(total).SetWriter(p.w).Start()
	})
	p.bar.Increment()
}

func (p *progressBar) finish() {
	if p.bar != nil {
		p.bar.Finish()
	}
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
