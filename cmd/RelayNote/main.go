// Command RelayNote runs the Telegram knowledge-base bot.
//
// Startup order matters: the state directory is locked, the backlog that
// accumulated while the process was down is drained, and only then does the
// live poller start from the durable watermark.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/BTreeMap/RelayNote/internal/api"
	"github.com/BTreeMap/RelayNote/internal/genai"
	"github.com/BTreeMap/RelayNote/internal/lockfile"
	"github.com/BTreeMap/RelayNote/internal/messaging"
	"github.com/BTreeMap/RelayNote/internal/queue"
	"github.com/BTreeMap/RelayNote/internal/recovery"
	"github.com/BTreeMap/RelayNote/internal/report"
	"github.com/BTreeMap/RelayNote/internal/scheduler"
	"github.com/BTreeMap/RelayNote/internal/store"
	"github.com/BTreeMap/RelayNote/internal/telegram"
	"github.com/BTreeMap/RelayNote/internal/webpage"
)

// outboxPollInterval is how often queued notifications are retried.
const outboxPollInterval = 5 * time.Second

func main() {
	slog.SetDefault(newLogger("debug", "text"))

	config := loadEnvironmentConfig()
	config, err := parseCommandLineFlags(config, os.Args[1:])
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}
	slog.SetDefault(newLogger(config.LogLevel, config.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping RelayNote", "state_dir", config.StateDir, "api_addr", config.APIAddr)
	if err := run(ctx, config); err != nil {
		slog.Error("RelayNote failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("RelayNote exited successfully")
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, cfg Config) error {
	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	offsets := store.NewOffsetStore(st, store.WithOffsetHistory(cfg.OffsetHistory))

	tg, err := telegram.NewClient(telegram.WithToken(cfg.TelegramToken))
	if err != nil {
		return fmt.Errorf("telegram client: %w", err)
	}
	if me, err := tg.GetMe(ctx); err != nil {
		// Not fatal: the monitor keeps probing and drains once upstream is back.
		slog.Warn("Telegram getMe failed at startup", "error", err)
	} else {
		slog.Info("Connected to Telegram", "bot", me.Username, "id", me.ID)
	}

	// Notifications
	delivery := messaging.NewDelivery()
	delivery.Register(store.OutboxChannelTelegram, messaging.NewTelegramSender(tg))
	notifierOpts := []messaging.NotifierOption{messaging.WithTelegramRecipients(cfg.AllowedUsers)}
	if cfg.SMSEnabled() {
		sms, err := messaging.NewSMSSender(
			messaging.WithAccountSID(cfg.TwilioAccountSID),
			messaging.WithAuthToken(cfg.TwilioAuthToken),
			messaging.WithFromNumber(cfg.TwilioFromNumber))
		if err != nil {
			slog.Warn("SMS alerts disabled", "error", err)
		} else {
			delivery.Register(store.OutboxChannelSMS, sms)
			notifierOpts = append(notifierOpts, messaging.WithSMSRecipient(cfg.AlertSMSTo))
		}
	}
	notifier := messaging.NewNotifier(st, notifierOpts...)
	outbox := store.NewOutboxSender(st, delivery.Deliver, outboxPollInterval)

	// Enrichment is optional.
	var ai *genai.Client
	if cfg.OpenAIKey != "" {
		ai, err = genai.NewClient(genai.WithAPIKey(cfg.OpenAIKey), genai.WithModel(cfg.OpenAIModel))
		if err != nil {
			slog.Warn("GenAI disabled", "error", err)
			ai = nil
		}
	} else {
		slog.Info("OPENAI_API_KEY not set, entries are stored without generated summaries")
	}

	reportOpts := []report.Option{}
	routerOpts := []messaging.RouterOption{
		messaging.WithAllowedUsers(cfg.AllowedUsers),
		messaging.WithMediaGroupTimeout(cfg.MediaGroupTimeout),
		messaging.WithRouterContext(ctx),
	}
	if cfg.FetchLinks {
		routerOpts = append(routerOpts, messaging.WithPageFetcher(webpage.NewFetcher()))
	}
	if ai != nil {
		reportOpts = append(reportOpts, report.WithSummarizer(ai))
		routerOpts = append(routerOpts, messaging.WithAnalyzer(ai))
	}
	weekly := report.NewJob(st, notifier, reportOpts...)
	routerOpts = append(routerOpts, messaging.WithReporter(weekly))

	// Update pipeline: one handler table for both the drain and the live path.
	router := messaging.NewRouter(st, tg, routerOpts...)
	processor := queue.NewProcessor(offsets, queue.NewFetcher(tg, 0), router.Handlers(),
		queue.WithBatchSize(cfg.BatchSize),
		queue.WithProcessingDelay(cfg.ProcessingDelay))
	router.SetAcknowledger(processor)
	defer router.Collector().Stop()

	monitor := queue.NewMonitor(tg, processor,
		queue.WithCheckInterval(cfg.CheckInterval),
		queue.WithOnRecovered(func(ctx context.Context, res queue.DrainResult, err error) {
			if err != nil {
				notifyDrain(ctx, notifier, "Reconnected to Telegram but the backlog drain was interrupted", res)
				return
			}
			if res.Processed > 0 || res.Failed > 0 || res.Deferred > 0 {
				notifyDrain(ctx, notifier, "Reconnected to Telegram and drained the backlog", res)
			}
		}))

	// Startup recovery: outbox first so drain notifications are not stuck behind stale rows.
	rm := recovery.NewRecoveryManager()
	rm.RegisterRecoverable(outbox)
	rm.RegisterRecoverable(recovery.DrainRecovery(processor, func(ctx context.Context, res queue.DrainResult) {
		notifyDrain(ctx, notifier, "Processed messages received while offline", res)
	}))
	rm.RegisterRecoverable(recovery.CleanupRecovery(offsets, cfg.RetentionDays))
	if _, err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("Startup recovery finished with errors", "error", err)
	}
	if ctx.Err() != nil {
		return nil
	}

	sched := scheduler.NewScheduler(ctx)
	defer sched.Stop()
	if err := sched.AddNamedJob("retention-cleanup", cfg.CleanupCron, func(ctx context.Context) error {
		return offsets.Cleanup(ctx, cfg.RetentionDays)
	}); err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", cfg.CleanupCron, err)
	}
	if err := sched.AddNamedJob("outbox-prune", cfg.CleanupCron, func(ctx context.Context) error {
		n, err := st.DeleteFinishedOutboxMessages(ctx, time.Now().AddDate(0, 0, -cfg.RetentionDays))
		if err == nil && n > 0 {
			slog.Info("Pruned delivered notifications", "count", n)
		}
		return err
	}); err != nil {
		return fmt.Errorf("schedule outbox prune %q: %w", cfg.CleanupCron, err)
	}
	if err := sched.AddNamedJob("weekly-report", cfg.WeeklyReportCron, weekly.Run); err != nil {
		return fmt.Errorf("schedule weekly report %q: %w", cfg.WeeklyReportCron, err)
	}

	var wg sync.WaitGroup
	start := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
			slog.Debug("Background task stopped", "task", name)
		}()
	}

	start("outbox", func() { outbox.Run(ctx) })
	start("monitor", func() { monitor.Run(ctx) })
	if cfg.APIAddr != "" {
		srv := api.NewServer(
			api.WithAddr(cfg.APIAddr),
			api.WithMonitor(monitor),
			api.WithDrainer(processor),
			api.WithOffsets(offsets),
			api.WithPending(router.Collector()))
		start("api", func() {
			if err := srv.Run(ctx); err != nil {
				slog.Error("Status API stopped with error", "error", err)
			}
		})
	}

	// The live poller resumes right after the durable watermark.
	var next *int64
	if last, ok := offsets.GetLastOffset(ctx); ok {
		n := last + 1
		next = &n
	}
	slog.Info("RelayNote is running", "next_update", nextAttr(next))
	telegram.NewPoller(tg, next).Run(ctx, router.HandleLive)

	slog.Info("Shutting down")
	wg.Wait()
	return nil
}

func notifyDrain(ctx context.Context, n *messaging.Notifier, headline string, res queue.DrainResult) {
	text := fmt.Sprintf("%s: %d processed, %d failed, %d skipped.", headline, res.Processed, res.Failed, res.Skipped)
	if res.Deferred > 0 {
		text += fmt.Sprintf(" %d album photos are being grouped.", res.Deferred)
	}
	if err := n.NotifyKeyed(ctx, "drain:"+res.RunID, text); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Drain notification not queued", "runID", res.RunID, "error", err)
	}
}

func nextAttr(next *int64) string {
	if next == nil {
		return "none"
	}
	return strconv.FormatInt(*next, 10)
}
