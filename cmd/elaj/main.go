// Elaj - conversational assistant for Adjara realty listings
// License: MIT
//
// Copyright (c) 2026 Elaj contributors

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/joho/godotenv"

	"github.com/elajbot/elaj/pkg/agent"
	"github.com/elajbot/elaj/pkg/bus"
	"github.com/elajbot/elaj/pkg/channels"
	"github.com/elajbot/elaj/pkg/config"
	"github.com/elajbot/elaj/pkg/cron"
	"github.com/elajbot/elaj/pkg/gateway"
	"github.com/elajbot/elaj/pkg/logger"
	"github.com/elajbot/elaj/pkg/media"
	"github.com/elajbot/elaj/pkg/memory"
	"github.com/elajbot/elaj/pkg/providers"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "elaj"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	fmt.Printf("  Go:    %s\n", goVer)
}

func main() {
	// A local .env is convenient in development; missing files are fine.
	_ = godotenv.Load()

	if err := executeCLI(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "elaj.json"
	}
	return filepath.Join(home, ".elaj", "config.json")
}

// runtimeDeps is everything serve and chat share.
type runtimeDeps struct {
	cfg   *config.Config
	store *memory.SQLiteStore
	bus   *bus.MessageBus
	loop  *agent.Loop
}

func buildRuntime(configPath string) (*runtimeDeps, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.SetLevelName(cfg.LogLevel)

	store, err := memory.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	backend, err := providers.CreateBackend(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	day := 24 * time.Hour
	history := memory.NewHistoryStore(store, cfg.Agent.HistoryTurns, time.Duration(cfg.Agent.HistoryTTLDays)*day)
	profiles := memory.NewProfileStore(store, time.Duration(cfg.Agent.ProfileTTLDays)*day, time.Duration(cfg.Agent.ProfileRefreshDays)*day)
	activity := memory.NewActivityLog(store, cfg.Agent.ActivityEvents, time.Duration(cfg.Agent.ActivityTTLDays)*day)
	assembler := agent.NewAssembler(history, profiles, activity, store,
		cfg.Agent.PromptBudgetChars, cfg.Agent.PromptHistoryTurns, cfg.Agent.ProfileLookback,
		time.Duration(cfg.Agent.HistoryTTLDays)*day)

	invoker := agent.NewInvoker(backend,
		time.Duration(cfg.Agent.PollIntervalMS)*time.Millisecond,
		time.Duration(cfg.Agent.PollDeadlineMS)*time.Millisecond,
		time.Duration(cfg.Agent.TypingIntervalMS)*time.Millisecond)

	verifier := media.NewVerifier(store, nil, time.Duration(cfg.Agent.ImageCacheTTLDays)*day)
	reselect := func(ctx context.Context, failedReply string, deadURLs []string) (string, bool) {
		prompt := "These photo links are unavailable:\n" + strings.Join(deadURLs, "\n") +
			"\n\nThey came from this answer of yours:\n" + failedReply +
			"\n\nSend the same answer again with different photo URLs for those listings."
		outcome, reply := invoker.Run(ctx, prompt, nil)
		return reply, outcome == agent.OutcomeCompleted
	}
	dispatcher := agent.NewDispatcher(verifier, reselect)

	b := bus.NewMessageBus()
	loop := agent.NewLoop(b, history, profiles, assembler, invoker, dispatcher, nil, cfg.Agent.EscalationContact)

	return &runtimeDeps{cfg: cfg, store: store, bus: b, loop: loop}, nil
}

func serve(configPath string) error {
	deps, err := buildRuntime(configPath)
	if err != nil {
		return err
	}
	defer deps.store.Close()
	cfg := deps.cfg

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := channels.NewManager(deps.bus)
	if cfg.Channels.Telegram.Token != "" {
		manager.Register(channels.NewTelegram(cfg.Channels.Telegram, deps.bus))
	}
	if cfg.Channels.Discord.Token != "" {
		discord, err := channels.NewDiscord(cfg.Channels.Discord, deps.bus)
		if err != nil {
			return err
		}
		manager.Register(discord)
	}
	if err := manager.StartAll(ctx); err != nil {
		return err
	}
	defer manager.StopAll()

	metrics := gateway.NewMetrics(appName)
	deps.loop.OnTurn = func(outcome string) {
		metrics.TurnsHandled.WithLabelValues(outcome).Inc()
	}
	gw := gateway.NewServer(cfg.Gateway.Host, cfg.Gateway.Port,
		memory.NewActivityLog(deps.store, cfg.Agent.ActivityEvents, time.Duration(cfg.Agent.ActivityTTLDays)*24*time.Hour),
		metrics)
	go func() {
		if err := gw.Start(); err != nil {
			logger.ErrorCF("main", "Gateway stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	if cfg.Maintenance.Enabled {
		scheduler := cron.NewScheduler()
		err := scheduler.Add(cron.Job{
			Name:     "store-sweep",
			Schedule: cfg.Maintenance.Schedule,
			Run: func(ctx context.Context) error {
				removed, err := deps.store.Sweep(ctx)
				if err != nil {
					return err
				}
				metrics.StoreSweeps.Inc()
				logger.DebugCF("main", "Sweep finished", map[string]interface{}{"removed": removed})
				return nil
			},
		})
		if err != nil {
			return err
		}
		scheduler.Start(ctx)
	}

	go deps.loop.Run(ctx)

	logger.InfoCF("main", "Elaj is up", map[string]interface{}{
		"channels": strings.Join(manager.Channels(), ","),
		"gateway":  fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.InfoC("main", "Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = gw.Shutdown(shutdownCtx)
	cancel()
	deps.bus.Close()
	return nil
}

// consoleChannel renders operations to stdout for the local REPL.
type consoleChannel struct{}

func (consoleChannel) Name() string                { return "cli" }
func (consoleChannel) Start(context.Context) error { return nil }
func (consoleChannel) Stop() error                 { return nil }

func (consoleChannel) SendText(_ context.Context, _ string, text, _ string) error {
	fmt.Println(text)
	return nil
}

func (consoleChannel) SendPhoto(_ context.Context, _ string, url, caption, _ string) error {
	fmt.Printf("[photo] %s\n%s\n", url, caption)
	return nil
}

func (consoleChannel) SendAlbum(_ context.Context, _ string, items []bus.AlbumItem, _ string) error {
	for _, item := range items {
		fmt.Printf("[album] %s %s\n", item.URL, item.Caption)
	}
	return nil
}

func (consoleChannel) SendTyping(context.Context, string) error { return nil }

func chat(configPath, message string) error {
	deps, err := buildRuntime(configPath)
	if err != nil {
		return err
	}
	defer deps.store.Close()
	defer deps.bus.Close()

	ctx := context.Background()
	manager := channels.NewManager(deps.bus)
	manager.Register(consoleChannel{})

	// Drain outbound ops onto the console.
	drainCtx, drainCancel := context.WithCancel(ctx)
	defer drainCancel()
	go func() {
		for {
			op, ok := deps.bus.SubscribeOutbound(drainCtx)
			if !ok {
				return
			}
			manager.Execute(drainCtx, op)
		}
	}()

	send := func(text string) {
		deps.loop.Handle(ctx, bus.InboundMessage{
			Channel:  "cli",
			SenderID: "local",
			ChatID:   "local",
			Content:  text,
		})
		// Give the drain goroutine a beat to flush.
		time.Sleep(50 * time.Millisecond)
	}

	if strings.TrimSpace(message) != "" {
		send(message)
		return nil
	}

	rl, err := readline.New("you> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("Elaj local chat. /reset clears history, Ctrl-D exits.")
	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		send(line)
	}
}
