package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/mama/internal/channels/telegram"
	"github.com/haasonsaas/mama/internal/daemon"
	"github.com/haasonsaas/mama/internal/heartbeat"
	"github.com/haasonsaas/mama/internal/httpapi"
	"github.com/haasonsaas/mama/internal/memory/consolidation"
	"github.com/haasonsaas/mama/internal/triggers/filewatch"
	"github.com/haasonsaas/mama/internal/triggers/webhook"
	"github.com/haasonsaas/mama/pkg/types"
)

// buildServeCmd creates the "serve" command that runs mama in the
// foreground: every configured service (HTTP API, scheduler, heartbeat,
// file-watch/webhook triggers, Telegram channel, memory consolidation)
// starts under one daemon.Supervisor and stops on SIGINT/SIGTERM, grounded
// on the teacher's cmd/nexus buildServeCmd + runServe split.
func buildServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run mama in the foreground",
		Long: `Start mama's daemon services in the foreground: the loopback HTTP API,
the cron scheduler, the heartbeat self-check, file-watch and webhook
triggers, the Telegram adapter (if configured), and the memory
consolidation scheduler.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	return cmd
}

func runServe(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer a.Close()

	services := []daemon.Service{a.httpAPIService()}

	if a.cfg.Scheduler.Enabled {
		services = append(services, daemon.Service{
			Name:  "scheduler",
			Start: func() error { return a.scheduler.Start(ctx) },
			Stop:  func() error { return a.scheduler.Stop(ctx) },
		})
	}

	if a.cfg.Heartbeat.Enabled {
		hb := heartbeat.New(heartbeat.Config{IntervalMinutes: int(a.cfg.Heartbeat.Interval.Minutes())}, a.runAgentTask, a.auditStore)
		services = append(services, daemon.Service{
			Name:  "heartbeat",
			Start: func() error { hb.Start(ctx); return nil },
			Stop:  func() error { hb.Stop(); return nil },
		})
	}

	consolidationScheduler := consolidation.NewScheduler(a.consolidate, consolidation.SchedulerConfig{
		IntervalHours: a.cfg.Memory.ConsolidationHour,
	}, a.logger)
	services = append(services, daemon.Service{
		Name:  "memory-consolidation",
		Start: func() error { consolidationScheduler.Start(ctx); return nil },
		Stop:  func() error { consolidationScheduler.Stop(); return nil },
	})

	if len(a.cfg.Triggers.FileWatches) > 0 {
		watchTask := func(ctx context.Context, prompt string) error {
			_, err := a.runAgentTask(ctx, prompt)
			return err
		}
		watcher, err := filewatch.New(watchTask, a.auditStore)
		if err != nil {
			return fmt.Errorf("build file-watch trigger: %w", err)
		}
		for _, fw := range a.cfg.Triggers.FileWatches {
			trigger := filewatch.Trigger{Path: fw.Path, Template: fw.Task}
			if len(fw.Events) > 0 {
				trigger.Events = make(map[filewatch.Event]struct{}, len(fw.Events))
				for _, ev := range fw.Events {
					trigger.Events[filewatch.Event(ev)] = struct{}{}
				}
			}
			if err := watcher.Add(trigger); err != nil {
				return fmt.Errorf("add file watch %s: %w", fw.Path, err)
			}
		}
		services = append(services, daemon.Service{
			Name:  "file-watch",
			Start: func() error { watcher.Start(ctx); return nil },
			Stop:  func() error { watcher.Stop(); return nil },
		})
	}

	if a.cfg.Triggers.WebhookAddr != "" {
		hookTask := func(ctx context.Context, prompt string) error {
			_, err := a.runAgentTask(ctx, prompt)
			return err
		}
		hook := webhook.New(hookTask, a.auditStore)
		for _, wh := range a.cfg.Triggers.Webhooks {
			hook.AddHook(webhook.Hook{ID: wh.ID, Token: wh.Token, Template: wh.Task})
		}
		services = append(services, daemon.Service{
			Name:  "webhook",
			Start: func() error { return hook.Start(a.cfg.Triggers.WebhookAddr) },
			Stop:  func() error { return hook.Stop(ctx) },
		})
	}

	if a.cfg.Telegram.Enabled {
		adapter := telegram.New(a.cfg.Telegram.Token, a.logger)
		services = append(services, daemon.Service{
			Name: "telegram",
			Start: func() error {
				return adapter.Start(ctx, a.onTelegramMessage(adapter), nil)
			},
			Stop: func() error { adapter.Stop(); return nil },
		})
	}

	supervisor := daemon.New(daemon.DefaultConfig(a.cfg.Daemon.PIDFile), services, daemon.WithLogger(a.logger))
	if err := supervisor.Start(); err != nil {
		return err
	}
	a.logger.Info("mama is running", "services", len(services))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	return supervisor.Stop()
}

func (a *app) httpAPIService() daemon.Service {
	server := httpapi.New(a.cfg.Server.Token, httpapi.Dependencies{
		Chat: func(ctx context.Context, message string) (string, string, string, error) {
			loop := a.newLoop(types.ChannelAPI, "api")
			resp, err := loop.Run(ctx, message)
			if err != nil {
				return "", "", "", err
			}
			return resp.Content, resp.Model, resp.Provider, nil
		},
		MemorySearch: func(ctx context.Context, query string) (string, error) {
			result, err := a.retrieval.Retrieve(ctx, query, 4000)
			if err != nil {
				return "", err
			}
			return result.Formatted, nil
		},
		ListJobs: a.scheduler.ListJobs,
		CreateJob: func(ctx context.Context, name, schedule, task string) (types.Job, error) {
			return a.scheduler.CreateJob(ctx, name, schedule, task, true)
		},
		Audit:  a.auditStore,
		Cost:   a.costTrack,
		Status: a.statusSnapshot,
	}, a.logger)

	return daemon.Service{
		Name:  "http-api",
		Start: func() error { go server.Start(a.cfg.Server.Addr); return nil },
		Stop:  func() error { return server.Stop(context.Background()) },
	}
}

// onTelegramMessage returns an OnMessage handler that drives one agent turn
// per inbound message and replies on the same chat.
func (a *app) onTelegramMessage(adapter *telegram.Adapter) telegram.OnMessage {
	return func(ctx context.Context, msg telegram.IncomingMessage) {
		loop := a.newLoop(types.ChannelTelegram, "telegram:"+strconv.FormatInt(msg.ChatID, 10))
		resp, err := loop.Run(ctx, msg.Text)
		if err != nil {
			a.logger.Error("telegram agent turn failed", "error", err, "chatID", msg.ChatID)
			_ = adapter.SendMessage(ctx, msg.ChatID, "Something went wrong handling that request.", telegram.SendOptions{})
			return
		}
		if sendErr := adapter.SendMessage(ctx, msg.ChatID, resp.Content, telegram.SendOptions{}); sendErr != nil {
			a.logger.Error("failed to send telegram reply", "error", sendErr, "chatID", msg.ChatID)
		}
	}
}
