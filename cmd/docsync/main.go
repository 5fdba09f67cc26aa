package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/osvaldoandrade/docsync/internal/reconcile"
	"github.com/osvaldoandrade/docsync/internal/transport"
	"github.com/osvaldoandrade/docsync/pkg/app"
	"github.com/osvaldoandrade/docsync/pkg/config"
	"github.com/osvaldoandrade/docsync/pkg/domain"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var version = "dev"

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func defaultConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("DOCSYNC_CONFIG_DIR")); v != "" {
		return filepath.Join(v, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".docsync", "config.yaml")
}

func interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func main() {
	cfgPath := getenv("DOCSYNC_CONFIG_PATH", defaultConfigPath())
	serverURL := ""
	token := ""
	ui := newUI()

	root := &cobra.Command{
		Use:   "docsync",
		Short: "docsync CLI",
		Long:  "docsync keeps document uploads and processing status in sync with the document service.",
	}
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "Config file path")
	root.PersistentFlags().StringVar(&serverURL, "server", serverURL, "Document service base URL")
	root.PersistentFlags().StringVar(&token, "token", token, "Bearer token")

	loadCfg := func() (*config.Config, error) {
		cfg, err := config.LoadConfig(cfgPath)
		if err != nil {
			return nil, err
		}
		if serverURL != "" {
			cfg.ServerBaseURL = serverURL
		}
		if token != "" {
			cfg.AuthToken = token
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	root.AddCommand(uploadCmd(loadCfg, ui))
	root.AddCommand(statusCmd(loadCfg, ui))
	root.AddCommand(watchCmd(loadCfg, ui))
	root.AddCommand(agentCmd(loadCfg, ui))
	root.AddCommand(versionCmd(ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func uploadCmd(loadCfg func() (*config.Config, error), ui *ui) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:     "upload <files...>",
		Short:   "Upload documents and track their processing",
		Example: "docsync upload report.pdf scan.png --follow",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}

			var rejected atomic.Int32
			application, err := app.NewApplication(cfg, app.WithErrorHandler(func(name string, ferr error) {
				rejected.Add(1)
				fmt.Printf("%s %s: %v\n", ui.err("[FAIL]"), name, ferr)
			}))
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := application.Start(ctx); err != nil {
				return err
			}
			defer application.Close(context.Background())

			application.Orchestrator.Submit(ctx, args)
			accepted := application.Registry.List()
			if len(accepted) == 0 {
				return errors.New("no files accepted for upload")
			}

			if err := renderUploads(ctx, application, ui); err != nil {
				return err
			}
			if n := rejected.Load(); n > 0 {
				fmt.Printf("%s %d file(s) did not upload\n", ui.warn("[WARN]"), n)
			}

			if follow {
				for _, jobID := range application.Reconciler.Jobs() {
					if err := followJob(ctx, application.Client, jobID, time.Duration(cfg.PollIntervalSeconds)*time.Second, ui); err != nil {
						return err
					}
				}
			}
			if n := rejected.Load(); n > 0 {
				return fmt.Errorf("%d upload(s) failed", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&follow, "follow", false, "Wait for processing to finish after uploading")
	return cmd
}

// renderUploads drives one progress bar per file, in upload order, until no
// task is queued or in flight. Failed tasks disappear from the registry; the
// error handler already reported them.
func renderUploads(ctx context.Context, application *app.Application, ui *ui) error {
	var bar *progressbar.ProgressBar
	currentID := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tasks := application.Registry.List()
		pending := false
		for _, t := range tasks {
			switch t.Status {
			case domain.UploadQueued:
				pending = true
			case domain.UploadUploading:
				pending = true
				if t.ID != currentID {
					if bar != nil {
						_ = bar.Finish()
					}
					currentID = t.ID
					if interactive() {
						bar = progressbar.NewOptions(100,
							progressbar.OptionSetDescription(t.DisplayName),
							progressbar.OptionSetWidth(24),
							progressbar.OptionClearOnFinish(),
						)
					} else {
						bar = nil
						fmt.Printf("%s Uploading %s\n", ui.info("[INFO]"), t.DisplayName)
					}
				}
				if bar != nil {
					_ = bar.Set(t.Progress)
				}
			}
		}
		if !pending {
			if bar != nil {
				_ = bar.Finish()
			}
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	for _, t := range application.Registry.List() {
		if t.Status == domain.UploadSucceeded {
			fmt.Printf("%s %s uploaded\n", ui.ok("[OK]"), t.DisplayName)
		}
	}
	return nil
}

func statusCmd(loadCfg func() (*config.Config, error), ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "status <processingId>",
		Short: "Fetch the processing status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			client := transport.NewClient(cfg.ServerBaseURL, cfg.AuthToken, nil)

			var spin *spinner.Spinner
			if interactive() {
				spin = spinner.New(spinner.CharSets[14], 120*time.Millisecond)
				spin.Suffix = " Fetching status..."
				spin.Start()
			}
			rec, err := client.GetProcessingStatus(cmd.Context(), args[0])
			if spin != nil {
				spin.Stop()
			}
			if err != nil {
				return err
			}
			printRecord(rec, ui)
			return nil
		},
	}
}

func watchCmd(loadCfg func() (*config.Config, error), ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <processingId>",
		Short: "Watch a processing job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			client := transport.NewClient(cfg.ServerBaseURL, cfg.AuthToken, nil)
			return followJob(ctx, client, args[0], time.Duration(cfg.PollIntervalSeconds)*time.Second, ui)
		},
	}
}

func followJob(ctx context.Context, fetcher reconcile.StatusFetcher, jobID string, interval time.Duration, ui *ui) error {
	var spin *spinner.Spinner
	if interactive() {
		spin = spinner.New(spinner.CharSets[14], 120*time.Millisecond)
		spin.Suffix = " Waiting for " + jobID + "..."
		spin.Start()
		defer spin.Stop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastStatus := domain.ProcessingStatus("")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		rec, err := fetcher.GetProcessingStatus(ctx, jobID)
		if err != nil {
			if errors.Is(err, transport.ErrJobNotFound) {
				continue
			}
			return err
		}
		if spin != nil {
			spin.Suffix = fmt.Sprintf(" %s: %s %d%% %s", jobID, rec.Status, rec.Progress, rec.CurrentStep)
		} else if rec.Status != lastStatus {
			fmt.Printf("%s %s: %s\n", ui.info("[INFO]"), jobID, rec.Status)
		}
		lastStatus = rec.Status
		if rec.Status.Terminal() {
			if spin != nil {
				spin.Stop()
			}
			printRecord(rec, ui)
			if rec.Status == domain.ProcessingFailed {
				return fmt.Errorf("processing failed: %s", rec.ErrorMessage)
			}
			return nil
		}
	}
}

func printRecord(rec *domain.ProcessingStatusRecord, ui *ui) {
	statusText := ui.info(string(rec.Status))
	switch rec.Status {
	case domain.ProcessingCompleted:
		statusText = ui.ok(string(rec.Status))
	case domain.ProcessingFailed:
		statusText = ui.err(string(rec.Status))
	}
	fmt.Printf("%s %s\n", ui.title("job:"), rec.ProcessingID)
	fmt.Printf("%s %s (%d%%)\n", ui.title("status:"), statusText, rec.Progress)
	if rec.DocumentID != "" {
		fmt.Printf("%s %s\n", ui.title("document:"), rec.DocumentID)
	}
	if rec.CurrentStep != "" {
		fmt.Printf("%s %s\n", ui.title("step:"), rec.CurrentStep)
	}
	if rec.RetryCount > 0 {
		fmt.Printf("%s %d\n", ui.title("retries:"), rec.RetryCount)
	}
	if rec.ErrorMessage != "" {
		fmt.Printf("%s %s\n", ui.title("error:"), ui.err(rec.ErrorMessage))
	}
	if !rec.ObservedAt.IsZero() {
		fmt.Printf("%s %s\n", ui.dim("observed:"), rec.ObservedAt.Format(time.RFC3339))
	}
}

func agentCmd(loadCfg func() (*config.Config, error), ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the sync agent with its view API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			application, err := app.NewApplication(cfg)
			if err != nil {
				return err
			}
			app.SetupMappings(application)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := application.Start(ctx); err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.AgentPort),
				Handler:           application.Engine,
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), "http server:", err)
					cancel()
				}
			}()
			fmt.Printf("%s agent listening on :%d\n", ui.ok("[OK]"), cfg.AgentPort)

			<-ctx.Done()
			fmt.Println(ui.warn("[WARN]"), "Stopping...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
			return application.Close(shutdownCtx)
		},
	}
}

func versionCmd(ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", ui.title("docsync"), version)
		},
	}
}
