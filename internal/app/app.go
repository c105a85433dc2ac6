// Package app wires configuration, storage, the event pipeline, chat
// transports and the HTTP surface into one supervised process.
package app

import (
	"context"
	"fmt"
	"time"

	"streamhub/internal/broadcast"
	"streamhub/internal/catalog"
	"streamhub/internal/commands"
	"streamhub/internal/config"
	"streamhub/internal/eventbus"
	"streamhub/internal/events"
	"streamhub/internal/gate"
	"streamhub/internal/httpapi"
	"streamhub/internal/identity"
	"streamhub/internal/metrics"
	"streamhub/internal/notifier"
	rtsup "streamhub/internal/runtime/supervisor"
	"streamhub/internal/scheduler"
	"streamhub/internal/sources"
	"streamhub/internal/state"
	"streamhub/internal/storage"
	"streamhub/internal/transport"
	"streamhub/internal/transport/discord"
	"streamhub/internal/transport/telegram"
	"streamhub/internal/transport/twitch"
	logx "streamhub/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	catalog     *catalog.Catalog
	suppression *state.Suppression
	stream      *state.Stream

	chat     *twitch.Client
	discord  *discord.Announcer
	notif    *notifier.Service
	hub      *broadcast.Hub
	bcast    *broadcast.Broadcaster
	proc     *events.Processor
	disp     *commands.Dispatcher
	platform *sources.Platform
	chatSrc  *sources.Chat
	webhook  *sources.Webhook
	http     *httpapi.Server
	sched    *scheduler.Service
}

// New loads the config and builds every component. It does not start any
// goroutines.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.Component("app")

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	cat, err := catalog.Load(cfg.Catalog.Events, cfg.Catalog.Commands, bus, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("catalog: %w", err)
	}

	tc, err := mapTwitchConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	chat, err := twitch.New(tc, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgm:        cfgm,
		log:         log,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		catalog:     cat,
		suppression: state.NewSuppression(bus, log),
		stream:      state.NewStream(bus),
		chat:        chat,
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.notif = notifier.New(ncfg, chat, a.announcers(cfg), log)

	resolver := identity.NewResolver(store,
		identity.WithDefaultColor(cfg.Channel.DefaultColor),
		identity.WithLogger(log),
	)
	a.hub = broadcast.NewHub(log)
	a.bcast = broadcast.New(a.hub, a.notif, log)
	a.proc = events.NewProcessor(events.Deps{
		Catalog:     cat,
		Resolver:    resolver,
		Suppression: a.suppression,
		Dedup:       gate.NewDedup(store, cfg.Storage.DedupScanLimit),
		Store:       store,
		Broadcaster: a.bcast,
		Log:         log,
	})
	a.disp = commands.NewDispatcher(commands.Deps{
		Catalog:     cat,
		Resolver:    resolver,
		Suppression: a.suppression,
		Stream:      a.stream,
		Cooldowns:   gate.NewCooldowns(),
		Broadcaster: a.bcast,
		Log:         log,
	})
	commands.Builtins{
		Processor:   a.proc,
		Suppression: a.suppression,
		Store:       store,
		Reload:      cat.Reload,
	}.Register(a.disp)
	a.proc.SetCommands(a.disp)

	a.platform = sources.NewPlatform(a.proc, cat, a.stream, log)
	a.chatSrc = sources.NewChat(sources.ChatDeps{
		Sink:     a.proc,
		Commands: a.disp,
		Store:    store,
		Catalog:  cat,
		Stream:   a.stream,
		Log:      log,
	})
	a.webhook = sources.NewWebhook(cfg.Webhook.Token, cfg.Webhook.TestSender, cfg.Webhook.Types)
	a.applyChannel(cfg)

	chat.OnMessage(a.chatSrc.HandleMessage)
	chat.OnNotification(func(ctx context.Context, n sources.Notification) { a.platform.Handle(ctx, n) })
	a.hub.OnConnect(func(c *broadcast.Client) { a.bcast.StateTo(c, a.suppression.Snapshot()) })

	a.sched = scheduler.New(a.disp, time.Local, log)
	a.sched.Apply(mapTimers(cfg))

	a.http = httpapi.New(mapHTTPConfig(cfg), httpapi.Deps{
		Catalog:     cat,
		Store:       store,
		Pipeline:    a.proc,
		Commands:    a.disp,
		Suppression: a.suppression,
		Stream:      a.stream,
		Hub:         a.hub,
		Webhook:     a.webhook,
		Platform:    a.platform,
		Outbox:      a.notif,
		Metrics:     metrics.Handler(),
		Log:         log,
	})
	return a, nil
}

// announcers builds the optional external channels. A misconfigured
// channel is logged and skipped.
func (a *App) announcers(cfg *config.Config) []transport.Announcer {
	var out []transport.Announcer
	if dc := cfg.Discord; dc != nil {
		d, err := discord.New(discord.Config{Token: dc.Token, ChannelID: dc.ChannelID}, a.log)
		if err != nil {
			a.log.Warn("discord announcer disabled", logx.Err(err))
		} else {
			a.discord = d
			out = append(out, d)
		}
	}
	if tc := cfg.Telegram; tc != nil {
		t, err := telegram.New(telegram.Config{Token: tc.Token, ChatID: tc.ChatID}, a.log)
		if err != nil {
			a.log.Warn("telegram announcer disabled", logx.Err(err))
		} else {
			out = append(out, t)
		}
	}
	return out
}

func (a *App) applyChannel(cfg *config.Config) {
	a.proc.SetOwner(cfg.Channel.Name, cfg.Channel.OwnerID)
	a.proc.SetLanguage(cfg.Channel.Language)
	a.disp.SetOwner(cfg.Channel.Name, cfg.Channel.OwnerID)
	a.disp.SetLanguage(cfg.Channel.Language)
	a.platform.SetChannel(cfg.Channel.Name)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.Component("config"))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return a.sched.Validate(mapTimers(cfg))
	})

	a.suppression.OnFocusExpired(func() {
		a.log.Info("focus mode expired")
		a.proc.FocusStopped(run, nil)
	})

	a.notif.Start(run)
	a.sched.Start(run)

	addr := a.cfgm.Get().HTTP.Addr
	a.sup.Go("http", func(c context.Context) error { return a.http.Run(c, addr) })
	a.sup.Go("twitch", a.chat.Run)
	a.sup.Go0("catalog.watch", func(c context.Context) {
		if err := a.catalog.Watch(c); err != nil && c.Err() == nil {
			a.log.Warn("catalog watch stopped", logx.Err(err))
		}
	})

	// Live clients follow suppression changes.
	busEvents, unsub := a.bus.Subscribe(64, "suppression", "stream", "catalog")
	a.sup.Go0("eventbus.fanout", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-busEvents:
				if !ok {
					return
				}
				a.onBusEvent(c, e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("channel", a.cfgm.Get().Channel.Name),
		logx.Any("announcers", a.notif.Announcers()),
	)
	return nil
}

func (a *App) onBusEvent(ctx context.Context, e eventbus.Event) {
	switch e.Type {
	case eventbus.TopicKillSwitch, eventbus.TopicFocusArmed, eventbus.TopicFocusDisarmed:
		snap, ok := e.Data.(state.Snapshot)
		if !ok {
			snap = a.suppression.Snapshot()
		}
		a.bcast.PushState(ctx, snap)
	case eventbus.TopicStreamLive:
		a.log.Info("stream state changed", logx.Any("live", e.Data))
	case eventbus.TopicCatalogReload:
		a.log.Info("catalog reloaded")
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for these sections", logx.Strings("sections", restart))
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.applyChannel(newCfg)
	a.webhook.Apply(newCfg.Webhook.Token, newCfg.Webhook.TestSender, newCfg.Webhook.Types)
	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	a.sched.Apply(mapTimers(newCfg))
	a.bus.Publish(eventbus.Event{Type: eventbus.TopicConfigReload, Data: sections})

	fields := append([]logx.Field{logx.Strings("changed", sections)}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step runs one shutdown step bounded by max so a stuck component cannot
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("clients", time.Second, func(context.Context) error { a.hub.CloseAll(); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("discord", time.Second, func(context.Context) error {
		if a.discord != nil {
			return a.discord.Close()
		}
		return nil
	})
	// supervised goroutines (http, chat, watchers) before the store closes
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
