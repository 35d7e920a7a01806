// Package avr controls network AV receivers speaking the Denon-style line
// protocol over their telnet control port. Each receiver is exposed as a
// power switch, a mute switch, a volume number and a source select.
//
// The protocol is an unversioned stream of terse event lines ("PWON",
// "MV455", "SIDVD"); lines this parser does not recognize are logged at
// debug level and skipped rather than guessed at.
package avr

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"habridge/internal/clock"
	"habridge/internal/config"
	"habridge/internal/metrics"
	"habridge/pkg/entity"
	"habridge/pkg/platform"
)

const platformName = "avr"

const reconnectDelay = 10 * time.Second

func init() {
	platform.Register(platform.Info{
		Name:        platformName,
		Description: "Controls Denon-style network AV receivers",
		Priority:    platform.PriorityDefault,
		Factory:     New,
	})
}

// Platform holds all configured receivers.
type Platform struct {
	receivers []*Receiver
	logger    *zap.Logger
}

// New creates the AVR platform from the bridge configuration.
func New(ctx *platform.Context) (platform.Platform, error) {
	logger := ctx.Logger.Named(platformName)

	p := &Platform{logger: logger}
	for _, cfg := range ctx.Config.AVRs {
		p.receivers = append(p.receivers, newReceiver(cfg, ctx, DialTCP, logger.Named(cfg.Name)))
	}
	return p, nil
}

// Name returns the platform identifier.
func (p *Platform) Name() string {
	return platformName
}

// Start connects and announces every configured receiver.
func (p *Platform) Start() error {
	if len(p.receivers) == 0 {
		p.logger.Info("No receivers configured")
		return nil
	}

	for _, r := range p.receivers {
		if err := r.Start(); err != nil {
			return err
		}
	}

	p.logger.Info("AVR platform started", zap.Int("receivers", len(p.receivers)))
	return nil
}

// Stop disconnects all receivers.
func (p *Platform) Stop() {
	for _, r := range p.receivers {
		r.Stop()
	}
}

// Receiver drives one receiver: a reader goroutine parses the event stream
// into entity state, command handlers write protocol lines back.
type Receiver struct {
	cfg      config.AVRConfig
	dial     Dialer
	clk      clock.Clock
	logger   *zap.Logger
	readOnly bool

	power  *entity.Base
	mute   *entity.Base
	volume *entity.Base
	source *entity.Base

	mu   sync.Mutex
	conn Conn
	stop chan struct{}
	wg   sync.WaitGroup
}

func newReceiver(cfg config.AVRConfig, ctx *platform.Context, dial Dialer, logger *zap.Logger) *Receiver {
	newBase := func(component, suffix string) *entity.Base {
		return entity.New(component, cfg.Name+" "+suffix, ctx.Config.MQTT.Prefix,
			ctx.Publisher, ctx.Discovery, *ctx.Device, logger)
	}

	return &Receiver{
		cfg:      cfg,
		dial:     dial,
		clk:      ctx.Clock,
		logger:   logger,
		readOnly: ctx.ReadOnly,
		power:    newBase("switch", "Power"),
		mute:     newBase("switch", "Mute"),
		volume:   newBase("number", "Volume"),
		source:   newBase("select", "Source"),
		stop:     make(chan struct{}),
	}
}

// Start announces the entities, subscribes to their command topics and
// launches the connection loop.
func (r *Receiver) Start() error {
	powerCfg := r.power.BaseConfig()
	powerCfg.StateTopic = r.power.Topic("state")
	powerCfg.CommandTopic = r.power.Topic("set")
	powerCfg.PayloadOn = "ON"
	powerCfg.PayloadOff = "OFF"
	if err := r.power.Announce(powerCfg); err != nil {
		return err
	}

	muteCfg := r.mute.BaseConfig()
	muteCfg.StateTopic = r.mute.Topic("state")
	muteCfg.CommandTopic = r.mute.Topic("set")
	muteCfg.PayloadOn = "ON"
	muteCfg.PayloadOff = "OFF"
	muteCfg.Icon = "mdi:volume-mute"
	if err := r.mute.Announce(muteCfg); err != nil {
		return err
	}

	volumeCfg := r.volume.BaseConfig()
	volumeCfg.StateTopic = r.volume.Topic("state")
	volumeCfg.CommandTopic = r.volume.Topic("set")
	volumeCfg.Min = 0
	volumeCfg.Max = 98
	volumeCfg.Step = 0.5
	if err := r.volume.Announce(volumeCfg); err != nil {
		return err
	}

	sourceCfg := r.source.BaseConfig()
	sourceCfg.StateTopic = r.source.Topic("state")
	sourceCfg.CommandTopic = r.source.Topic("set")
	sourceCfg.Options = r.cfg.Sources
	if err := r.source.Announce(sourceCfg); err != nil {
		return err
	}

	subscriptions := map[string]func([]byte){
		r.power.Topic("set"):  r.handlePowerCommand,
		r.mute.Topic("set"):   r.handleMuteCommand,
		r.volume.Topic("set"): r.handleVolumeCommand,
		r.source.Topic("set"): r.handleSourceCommand,
	}
	for _, base := range []*entity.Base{r.power, r.mute, r.volume, r.source} {
		handler := subscriptions[base.Topic("set")]
		if err := base.SubscribeCommand("set", handler); err != nil {
			return err
		}
	}

	r.wg.Add(1)
	go r.run()
	return nil
}

// Stop closes the connection and waits for the reader goroutine to exit.
func (r *Receiver) Stop() {
	close(r.stop)

	r.mu.Lock()
	if r.conn != nil {
		r.conn.Close()
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.setAvailable(false)
}

// run maintains the connection: connect, drain events, reconnect on failure.
func (r *Receiver) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		conn, err := r.dial(r.cfg.Address)
		if err != nil {
			r.logger.Warn("Failed to connect to receiver",
				zap.String("address", r.cfg.Address),
				zap.Error(err))
			r.setAvailable(false)
			if !r.waitRetry() {
				return
			}
			continue
		}

		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()

		r.logger.Info("Connected to receiver", zap.String("address", r.cfg.Address))
		r.setAvailable(true)
		r.queryState()

		r.readLoop(conn)

		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
		conn.Close()
		r.setAvailable(false)

		select {
		case <-r.stop:
			return
		default:
			if !r.waitRetry() {
				return
			}
		}
	}
}

func (r *Receiver) waitRetry() bool {
	select {
	case <-r.stop:
		return false
	case <-r.clk.After(reconnectDelay):
		return true
	}
}

// queryState asks the receiver to report everything we track.
func (r *Receiver) queryState() {
	for _, query := range []string{"PW?", "MV?", "MU?", "SI?"} {
		if err := r.send(query); err != nil {
			r.logger.Warn("State query failed", zap.String("query", query), zap.Error(err))
			return
		}
	}
}

func (r *Receiver) readLoop(conn Conn) {
	for {
		line, err := conn.ReadLine()
		if err != nil {
			select {
			case <-r.stop:
			default:
				r.logger.Warn("Receiver connection lost", zap.Error(err))
			}
			return
		}
		r.handleLine(line)
	}
}

// handleLine maps one event line onto entity state.
func (r *Receiver) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	publish := func(base *entity.Base, value string) {
		if err := base.PublishState("state", value); err != nil {
			r.logger.Warn("Failed to publish state", zap.Error(err))
		}
		metrics.EntityUpdates.WithLabelValues(platformName).Inc()
	}

	switch {
	case line == "PWON":
		publish(r.power, "ON")
	case line == "PWSTANDBY":
		publish(r.power, "OFF")
	case line == "MUON":
		publish(r.mute, "ON")
	case line == "MUOFF":
		publish(r.mute, "OFF")
	case strings.HasPrefix(line, "MVMAX"):
		// volume ceiling report, not a state change
	case strings.HasPrefix(line, "MV"):
		volume, err := parseVolume(line[2:])
		if err != nil {
			r.logger.Warn("Unparseable volume event", zap.String("line", line))
			return
		}
		publish(r.volume, strconv.FormatFloat(volume, 'f', 1, 64))
	case strings.HasPrefix(line, "SI"):
		publish(r.source, line[2:])
	default:
		r.logger.Debug("Ignoring receiver event", zap.String("line", line))
	}
}

// parseVolume decodes the receiver's volume encoding: two digits are whole
// decibels, a third digit is the half-decibel flag ("455" = 45.5).
func parseVolume(s string) (float64, error) {
	if len(s) != 2 && len(s) != 3 {
		return 0, fmt.Errorf("unexpected volume %q", s)
	}

	whole, err := strconv.Atoi(s[:2])
	if err != nil {
		return 0, err
	}

	volume := float64(whole)
	if len(s) == 3 {
		if s[2] != '5' {
			return 0, fmt.Errorf("unexpected volume %q", s)
		}
		volume += 0.5
	}
	return volume, nil
}

func formatVolume(volume float64) string {
	whole := int(volume)
	if volume-float64(whole) >= 0.5 {
		return fmt.Sprintf("MV%02d5", whole)
	}
	return fmt.Sprintf("MV%02d", whole)
}

func (r *Receiver) handlePowerCommand(payload []byte) {
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case "ON":
		r.command("PWON")
	case "OFF":
		r.command("PWSTANDBY")
	default:
		r.logger.Warn("Unknown power command", zap.ByteString("payload", payload))
	}
}

func (r *Receiver) handleMuteCommand(payload []byte) {
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case "ON":
		r.command("MUON")
	case "OFF":
		r.command("MUOFF")
	default:
		r.logger.Warn("Unknown mute command", zap.ByteString("payload", payload))
	}
}

func (r *Receiver) handleVolumeCommand(payload []byte) {
	volume, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil || volume < 0 || volume > 98 {
		r.logger.Warn("Unknown volume command", zap.ByteString("payload", payload))
		return
	}
	r.command(formatVolume(volume))
}

func (r *Receiver) handleSourceCommand(payload []byte) {
	source := strings.TrimSpace(string(payload))
	for _, option := range r.cfg.Sources {
		if source == option {
			r.command("SI" + source)
			return
		}
	}
	r.logger.Warn("Source not in configured list", zap.String("source", source))
	metrics.CommandRejections.WithLabelValues(platformName, "unknown_source").Inc()
}

func (r *Receiver) command(line string) {
	if r.readOnly {
		r.logger.Info("Read-only mode, would send command", zap.String("command", line))
		return
	}
	if err := r.send(line); err != nil {
		r.logger.Error("Command failed", zap.String("command", line), zap.Error(err))
	}
}

func (r *Receiver) send(line string) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("receiver %s is not connected", r.cfg.Name)
	}
	return conn.Send(line)
}

func (r *Receiver) setAvailable(available bool) {
	for _, base := range []*entity.Base{r.power, r.mute, r.volume, r.source} {
		var err error
		if available {
			err = base.Availability.SetOnline()
		} else {
			err = base.Availability.SetOffline()
		}
		if err != nil {
			r.logger.Warn("Failed to publish availability", zap.Error(err))
		}
	}
	gauge := 0.0
	if available {
		gauge = 1.0
	}
	metrics.EntityAvailable.WithLabelValues(platformName, entity.Slug(r.cfg.Name)).Set(gauge)
}
