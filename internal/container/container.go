// Package container wires the panel services using go.uber.org/dig.
package container

import (
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/dig"

	"github.com/bend-n/panel/internal/bus"
	"github.com/bend-n/panel/internal/channels"
	"github.com/bend-n/panel/internal/config"
	"github.com/bend-n/panel/internal/config/bridge"
	"github.com/bend-n/panel/internal/console"
	"github.com/bend-n/panel/internal/cron"
	"github.com/bend-n/panel/internal/events"
	"github.com/bend-n/panel/internal/heartbeat"
	"github.com/bend-n/panel/internal/relay"
	"github.com/bend-n/panel/internal/web"
)

// Container holds the resolved service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	registry  *prometheus.Registry
	bridge    *console.Bridge
	chatBus   *bus.ChatBus
	channels  *channels.Manager
	relay     *relay.Relay
	inbound   *relay.Inbound
	cron      *cron.Service
	heartbeat *heartbeat.Service
	web       *web.Server
}

func (c *Container) Registry() *prometheus.Registry   { return c.registry }
func (c *Container) Bridge() *console.Bridge          { return c.bridge }
func (c *Container) ChatBus() *bus.ChatBus            { return c.chatBus }
func (c *Container) Channels() *channels.Manager      { return c.channels }
func (c *Container) Relay() *relay.Relay              { return c.relay }
func (c *Container) Inbound() *relay.Inbound          { return c.inbound }
func (c *Container) Cron() *cron.Service              { return c.cron }
func (c *Container) Heartbeat() *heartbeat.Service    { return c.heartbeat }
func (c *Container) Web() *web.Server                 { return c.web }

// New builds and wires all services from cfg. Nothing is started.
func New(cfg *config.Config) (*Container, error) {
	d := dig.New()

	providers := []any{
		func() *config.Config { return cfg },
		newRegistry,
		newConsoleMetrics,
		newRelayMetrics,
		newCronMetrics,
		newHeartbeatMetrics,
		newDialer,
		newBridge,
		newChatBus,
		newChannelManager,
		newClassifier,
		newRelay,
		newInbound,
		newCronService,
		newHeartbeat,
		newWebServer,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		reg *prometheus.Registry,
		b *console.Bridge,
		chatBus *bus.ChatBus,
		mgr *channels.Manager,
		r *relay.Relay,
		in *relay.Inbound,
		cronSvc *cron.Service,
		hb *heartbeat.Service,
		ws *web.Server,
	) {
		result = &Container{
			registry:  reg,
			bridge:    b,
			chatBus:   chatBus,
			channels:  mgr,
			relay:     r,
			inbound:   in,
			cron:      cronSvc,
			heartbeat: hb,
			web:       ws,
		}
	})
	return result, err
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func newConsoleMetrics(reg *prometheus.Registry) *console.Metrics { return console.MustNewMetrics(reg) }
func newRelayMetrics(reg *prometheus.Registry) *relay.Metrics     { return relay.MustNewMetrics(reg) }
func newCronMetrics(reg *prometheus.Registry) *cron.Metrics       { return cron.MustNewMetrics(reg) }
func newHeartbeatMetrics(reg *prometheus.Registry) *heartbeat.Metrics {
	return heartbeat.MustNewMetrics(reg)
}

// newDialer picks the console transport named by console.mode.
func newDialer(cfg *config.Config) console.Dialer {
	c := cfg.Console
	if c.Mode == bridge.ModeTCP {
		return console.TCPDialer{Address: c.Address, Timeout: c.DialTimeout.Std()}
	}
	return console.ProcessDialer{Command: c.Command, Args: c.Args, Dir: c.Dir, Env: c.Env}
}

func newBridge(cfg *config.Config, d console.Dialer, m *console.Metrics) *console.Bridge {
	return console.NewBridge(d, BridgeOptions(cfg.Console), m)
}

// BridgeOptions maps the console config section onto bridge options.
func BridgeOptions(c bridge.ConsoleConfig) console.Options {
	opts := console.DefaultOptions()
	opts.Supervisor = console.SupervisorConfig{
		BackoffBase:  c.BackoffBase.Std(),
		BackoffMax:   c.BackoffMax.Std(),
		HealthyAfter: c.HealthyAfter.Std(),
	}
	if c.QueueSize > 0 {
		opts.QueueSize = c.QueueSize
	}
	opts.ChunkWindow = c.ChunkWindow.Std()
	opts.ReplyTimeout = c.ReplyTimeout.Std()
	opts.WriteTimeout = c.WriteTimeout.Std()
	return opts
}

func newChatBus() *bus.ChatBus {
	return bus.NewChatBus(100)
}

func newChannelManager(cfg *config.Config, b *bus.ChatBus) *channels.Manager {
	return channels.NewManager(cfg, b)
}

func newClassifier(cfg *config.Config) events.Classifier {
	return events.MindustryClassifier{NoisePrefixes: cfg.Relay.NoisePrefixes}
}

func newRelay(cfg *config.Config, c events.Classifier, mgr *channels.Manager, m *relay.Metrics) *relay.Relay {
	rc := cfg.Relay
	return relay.New(relay.Config{
		IdleInterval:   rc.IdleInterval.Std(),
		MaxLines:       rc.MaxLines,
		RelayAdminChat: rc.RelayAdminChat,
		SystemName:     rc.SystemName,
		QueueSize:      rc.QueueSize,
	}, c, mgr, m)
}

func newInbound(b *console.Bridge, chatBus *bus.ChatBus, m *relay.Metrics) *relay.Inbound {
	return relay.NewInbound(b, chatBus, m)
}

// CronStorePath is where scheduled jobs persist unless schedule.storePath is set.
func CronStorePath(cfg *config.Config) string {
	if cfg.Schedule.StorePath != "" {
		return cfg.Schedule.StorePath
	}
	return filepath.Join(config.DataDir(), "cron", "jobs.json")
}

func newCronService(cfg *config.Config, b *console.Bridge, m *cron.Metrics) *cron.Service {
	svc := cron.NewService(CronStorePath(cfg), m)
	svc.SetOnJob(cron.IssueWith(b))
	return svc
}

func newHeartbeat(cfg *config.Config, b *console.Bridge, m *heartbeat.Metrics) *heartbeat.Service {
	return heartbeat.NewService(b, cfg.Heartbeat.Command, cfg.Heartbeat.Interval.Std(), m)
}

func newWebServer(cfg *config.Config, b *console.Bridge, reg *prometheus.Registry, hb *heartbeat.Service) *web.Server {
	s := web.NewServer(cfg.Web, b, reg)
	if cfg.Heartbeat.Enabled {
		s.SetHeartbeat(hb)
	}
	return s
}
