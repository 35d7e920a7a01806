package gencover

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"habridge/internal/clock"
	"habridge/internal/config"
	"habridge/internal/ha"
	"habridge/internal/metrics"
	"habridge/internal/store"
	"habridge/pkg/entity"
	"habridge/pkg/platform"
)

const (
	fullyOpen   = 100
	fullyClosed = 0

	// One position step per tick; a full traverse takes ticksPerTravel ticks.
	ticksPerTravel = 100

	directionOpen  = 1
	directionIdle  = 0
	directionClose = -1

	defaultAckWait = time.Second
)

// Command payloads accepted on the cover's command topics.
const (
	payloadOpen  = "OPEN"
	payloadClose = "CLOSE"
	payloadStop  = "STOP"
)

// snapshot is the persisted position state, restored on startup.
type snapshot struct {
	Position int `json:"position"`
	Tilt     int `json:"tilt"`
}

// Cover simulates the position of a physical cover that is driven by two
// externally-owned switches (one per direction). No position hardware is ever
// read: while a switch is asserted, a tick timer advances the position one
// step per travel_time/100 toward the active target, and tilt by a larger
// step derived from the tilt time.
type Cover struct {
	cfg      config.CoverConfig
	haClient ha.HAClient
	clk      clock.Clock
	db       *store.Store
	base     *entity.Base
	logger   *zap.Logger
	readOnly bool

	interval time.Duration
	tiltStep int
	ackWait  time.Duration

	mu         sync.Mutex
	position   int
	tilt       int
	target     *int
	tiltTarget *int
	direction  int
	ticker     clock.Timer

	ackMu sync.Mutex
	acks  map[string]chan struct{}

	subs []ha.Subscription
}

func newCover(cfg config.CoverConfig, ctx *platform.Context, logger *zap.Logger) *Cover {
	base := entity.New("cover", cfg.Name, ctx.Config.MQTT.Prefix,
		ctx.Publisher, ctx.Discovery, *ctx.Device, logger)

	interval := cfg.TravelDuration() / ticksPerTravel
	if interval <= 0 {
		interval = time.Millisecond
	}

	// Tilt crosses its full range in tilt_time, so each tick moves it
	// travel_time/tilt_time steps, rounded up, at least 1.
	tiltStep := 0
	if cfg.TiltTime > 0 {
		tiltStep = int(math.Ceil(cfg.TravelTime / cfg.TiltTime))
		if tiltStep < 1 {
			tiltStep = 1
		}
	}

	c := &Cover{
		cfg:      cfg,
		haClient: ctx.HA,
		clk:      ctx.Clock,
		db:       ctx.Store,
		base:     base,
		logger:   logger,
		readOnly: ctx.ReadOnly,
		interval: interval,
		tiltStep: tiltStep,
		ackWait:  defaultAckWait,
		acks:     make(map[string]chan struct{}),
	}
	c.restore()
	return c
}

// restore loads the persisted position; a cover seen for the first time is
// assumed fully closed.
func (c *Cover) restore() {
	if c.db == nil {
		return
	}

	var snap snapshot
	err := c.db.LoadJSON(platformName, c.base.ObjectID, &snap)
	switch {
	case err == nil:
		c.position = clampPosition(snap.Position)
		c.tilt = clampPosition(snap.Tilt)
		c.logger.Info("Restored cover state",
			zap.Int("position", c.position),
			zap.Int("tilt", c.tilt))
	case errors.Is(err, store.ErrNotFound):
	default:
		c.logger.Warn("Failed to restore cover state", zap.Error(err))
	}
}

// Start announces the cover, subscribes to its command topics and begins
// observing the two switches.
func (c *Cover) Start() error {
	cfg := c.base.BaseConfig()
	cfg.DeviceClass = c.cfg.DeviceClass
	cfg.StateTopic = c.base.Topic("state")
	cfg.CommandTopic = c.base.Topic("set")
	cfg.PositionTopic = c.base.Topic("position")
	if c.tiltStep > 0 {
		cfg.TiltStatusTopic = c.base.Topic("tilt-state")
		cfg.TiltCommandTopic = c.base.Topic("tilt")
	}
	if err := c.base.Announce(cfg); err != nil {
		return err
	}

	if err := c.base.SubscribeCommand("set", c.handleCommand); err != nil {
		return err
	}
	if c.tiltStep > 0 {
		if err := c.base.SubscribeCommand("tilt", c.handleTiltCommand); err != nil {
			return err
		}
	}

	for _, obs := range []struct {
		entityID  string
		direction int
	}{
		{c.cfg.OpenSwitch, directionOpen},
		{c.cfg.CloseSwitch, directionClose},
	} {
		sub, err := c.haClient.SubscribeStateChanges(obs.entityID, c.observeSwitch(obs.direction))
		if err != nil {
			return fmt.Errorf("failed to observe %s: %w", obs.entityID, err)
		}
		c.subs = append(c.subs, sub)
	}

	c.base.Attributes.Set("open_switch", c.cfg.OpenSwitch)
	c.base.Attributes.Set("close_switch", c.cfg.CloseSwitch)
	if err := c.base.Attributes.Publish(); err != nil {
		c.logger.Warn("Failed to publish attributes", zap.Error(err))
	}

	c.refreshAvailability()
	c.publishState()
	return nil
}

// Stop cancels tracking and releases the switch subscriptions.
func (c *Cover) Stop() {
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("Failed to unsubscribe", zap.Error(err))
		}
	}
	c.subs = nil

	c.mu.Lock()
	c.stopTrackingLocked()
	c.mu.Unlock()
	c.persist()

	if err := c.base.Availability.SetOffline(); err != nil {
		c.logger.Warn("Failed to publish availability", zap.Error(err))
	}
}

// Open drives the cover fully open. Rejected while the cover is closing.
func (c *Cover) Open() error {
	c.mu.Lock()
	if c.activeDirectionLocked() == directionClose {
		c.mu.Unlock()
		c.logger.Warn("Rejecting open command while closing",
			zap.Int("position", c.Position()))
		metrics.CommandRejections.WithLabelValues(platformName, "conflicting_direction").Inc()
		return fmt.Errorf("cover %s is closing", c.cfg.Name)
	}
	if c.atLocked(fullyOpen) {
		c.mu.Unlock()
		c.logger.Debug("Already fully open, ignoring open command")
		return nil
	}
	if c.readOnly {
		c.mu.Unlock()
		c.logger.Info("Read-only mode, would open cover")
		return nil
	}
	c.setTargetsLocked(fullyOpen)
	c.mu.Unlock()

	c.ensureSwitchOff(c.cfg.CloseSwitch)
	return c.assertSwitch(c.cfg.OpenSwitch)
}

// Close drives the cover fully closed. Rejected while the cover is opening.
func (c *Cover) Close() error {
	c.mu.Lock()
	if c.activeDirectionLocked() == directionOpen {
		c.mu.Unlock()
		c.logger.Warn("Rejecting close command while opening",
			zap.Int("position", c.Position()))
		metrics.CommandRejections.WithLabelValues(platformName, "conflicting_direction").Inc()
		return fmt.Errorf("cover %s is opening", c.cfg.Name)
	}
	if c.atLocked(fullyClosed) {
		c.mu.Unlock()
		c.logger.Debug("Already fully closed, ignoring close command")
		return nil
	}
	if c.readOnly {
		c.mu.Unlock()
		c.logger.Info("Read-only mode, would close cover")
		return nil
	}
	c.setTargetsLocked(fullyClosed)
	c.mu.Unlock()

	c.ensureSwitchOff(c.cfg.OpenSwitch)
	return c.assertSwitch(c.cfg.CloseSwitch)
}

// Halt clears the targets and turns both switches off unconditionally.
func (c *Cover) Halt() error {
	c.mu.Lock()
	c.stopTrackingLocked()
	c.mu.Unlock()

	c.publishState()
	c.persist()

	if c.readOnly {
		c.logger.Info("Read-only mode, would stop cover")
		return nil
	}
	c.releaseSwitches()
	return nil
}

// OpenTilt tilts the slats fully open without a position target.
func (c *Cover) OpenTilt() error {
	return c.tiltTo(fullyOpen)
}

// CloseTilt tilts the slats fully closed without a position target.
func (c *Cover) CloseTilt() error {
	return c.tiltTo(fullyClosed)
}

// CloseTiltTo tilts the slats to a specific position.
func (c *Cover) CloseTiltTo(position int) error {
	return c.tiltTo(clampPosition(position))
}

func (c *Cover) tiltTo(target int) error {
	if c.tiltStep == 0 {
		return fmt.Errorf("cover %s has no tilt configured", c.cfg.Name)
	}

	c.mu.Lock()
	if c.tilt == target && c.tiltTarget == nil {
		c.mu.Unlock()
		c.logger.Debug("Tilt already at target, ignoring tilt command",
			zap.Int("tilt", target))
		return nil
	}

	direction := directionClose
	if target > c.tilt {
		direction = directionOpen
	}
	if active := c.activeDirectionLocked(); active != directionIdle && active != direction {
		c.mu.Unlock()
		c.logger.Warn("Rejecting tilt command against active direction",
			zap.Int("tilt_target", target))
		metrics.CommandRejections.WithLabelValues(platformName, "conflicting_direction").Inc()
		return fmt.Errorf("cover %s is moving in the opposite direction", c.cfg.Name)
	}
	if c.readOnly {
		c.mu.Unlock()
		c.logger.Info("Read-only mode, would tilt cover", zap.Int("tilt_target", target))
		return nil
	}
	tt := target
	c.tiltTarget = &tt
	c.mu.Unlock()

	if direction == directionOpen {
		c.ensureSwitchOff(c.cfg.CloseSwitch)
		return c.assertSwitch(c.cfg.OpenSwitch)
	}
	c.ensureSwitchOff(c.cfg.OpenSwitch)
	return c.assertSwitch(c.cfg.CloseSwitch)
}

// Position returns the current simulated position.
func (c *Cover) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// TiltPosition returns the current simulated tilt position.
func (c *Cover) TiltPosition() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tilt
}

// IsOpening reports whether the integrator is moving the position up.
func (c *Cover) IsOpening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.direction == directionOpen
}

// IsClosing reports whether the integrator is moving the position down.
func (c *Cover) IsClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.direction == directionClose
}

// IsClosed reports whether the cover is fully closed.
func (c *Cover) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position == fullyClosed
}

// observeSwitch returns the state-change handler for one of the two switches.
func (c *Cover) observeSwitch(direction int) ha.StateChangeHandler {
	return func(entityID string, _, newState *ha.State) {
		if newState == nil {
			return
		}
		c.refreshAvailability()

		switch newState.State {
		case ha.StateOn:
			c.switchTurnedOn(direction)
		case ha.StateOff:
			c.switchTurnedOff(direction, entityID)
		}
	}
}

// switchTurnedOn starts the integrator. A switch asserted externally (wall
// button, host automation) with no pending target heads for the extreme.
func (c *Cover) switchTurnedOn(direction int) {
	c.mu.Lock()
	if active := c.activeDirectionLocked(); active != directionIdle && active != direction {
		c.mu.Unlock()
		c.logger.Warn("Conflicting switch assertion observed, not tracking",
			zap.Int("direction", direction))
		return
	}
	if c.direction == direction {
		c.mu.Unlock()
		return
	}

	if c.target == nil && c.tiltTarget == nil {
		extreme := fullyClosed
		if direction == directionOpen {
			extreme = fullyOpen
		}
		if c.position != extreme {
			t := extreme
			c.target = &t
		}
		if c.tiltStep > 0 && c.tilt != extreme {
			tt := extreme
			c.tiltTarget = &tt
		}
		if c.target == nil && c.tiltTarget == nil {
			c.mu.Unlock()
			return
		}
	}

	c.direction = direction
	c.armTickLocked()
	c.mu.Unlock()

	c.publishState()
}

// switchTurnedOff stops the integrator when the asserting switch drops, and
// signals any pending turn-off acknowledgement.
func (c *Cover) switchTurnedOff(direction int, entityID string) {
	c.signalAck(entityID)

	c.mu.Lock()
	if c.direction != direction {
		c.mu.Unlock()
		return
	}
	c.stopTrackingLocked()
	c.mu.Unlock()

	c.publishState()
	c.persist()
}

// tick advances position and tilt one step toward their targets. When both
// are reached the timer is not re-armed and the switches are released.
func (c *Cover) tick() {
	c.mu.Lock()
	if c.direction == directionIdle {
		c.mu.Unlock()
		return
	}

	if c.target != nil {
		c.position = stepToward(c.position, *c.target, 1)
	}
	if c.tiltTarget != nil {
		c.tilt = stepToward(c.tilt, *c.tiltTarget, c.tiltStep)
	}

	positionDone := c.target == nil || c.position == *c.target
	tiltDone := c.tiltTarget == nil || c.tilt == *c.tiltTarget
	done := positionDone && tiltDone
	if done {
		c.stopTrackingLocked()
	} else {
		c.ticker.Reset(c.interval)
	}
	c.mu.Unlock()

	c.publishState()
	c.persist()

	if done && !c.readOnly {
		c.releaseSwitches()
	}
}

func (c *Cover) armTickLocked() {
	if c.ticker == nil {
		c.ticker = c.clk.AfterFunc(c.interval, c.tick)
		return
	}
	c.ticker.Reset(c.interval)
}

func (c *Cover) stopTrackingLocked() {
	c.direction = directionIdle
	c.target = nil
	c.tiltTarget = nil
	if c.ticker != nil {
		c.ticker.Stop()
	}
}

func (c *Cover) setTargetsLocked(extreme int) {
	if c.position != extreme {
		t := extreme
		c.target = &t
	}
	if c.tiltStep > 0 && c.tilt != extreme {
		tt := extreme
		c.tiltTarget = &tt
	}
}

// atLocked reports whether position and tilt already rest at an extreme with
// nothing pending.
func (c *Cover) atLocked(extreme int) bool {
	if c.target != nil || c.tiltTarget != nil {
		return false
	}
	if c.position != extreme {
		return false
	}
	return c.tiltStep == 0 || c.tilt == extreme
}

// activeDirectionLocked is the direction the cover is moving, or will move
// once its pending targets are picked up by the switch observer.
func (c *Cover) activeDirectionLocked() int {
	if c.direction != directionIdle {
		return c.direction
	}
	if c.target != nil && *c.target != c.position {
		if *c.target > c.position {
			return directionOpen
		}
		return directionClose
	}
	if c.tiltTarget != nil && *c.tiltTarget != c.tilt {
		if *c.tiltTarget > c.tilt {
			return directionOpen
		}
		return directionClose
	}
	return directionIdle
}

// ensureSwitchOff turns the opposing switch off and waits, bounded by
// ackWait, for it to report off. The wait is abandoned with a warning on
// timeout; the command proceeds regardless.
func (c *Cover) ensureSwitchOff(entityID string) {
	state, err := c.haClient.GetState(entityID)
	if err != nil || !state.IsOn() {
		return
	}

	ack := c.armAck(entityID)
	if err := c.haClient.TurnOffSwitch(entityID); err != nil {
		c.logger.Error("Failed to turn off switch",
			zap.String("entity_id", entityID),
			zap.Error(err))
		c.clearAck(entityID)
		return
	}

	select {
	case <-ack:
	case <-c.clk.After(c.ackWait):
		c.logger.Warn("Timed out waiting for switch to report off",
			zap.String("entity_id", entityID),
			zap.Duration("timeout", c.ackWait))
		c.clearAck(entityID)
	}
}

func (c *Cover) assertSwitch(entityID string) error {
	if err := c.haClient.TurnOnSwitch(entityID); err != nil {
		return fmt.Errorf("failed to turn on %s: %w", entityID, err)
	}
	return nil
}

// releaseSwitches turns both switches off without waiting.
func (c *Cover) releaseSwitches() {
	for _, entityID := range []string{c.cfg.OpenSwitch, c.cfg.CloseSwitch} {
		if err := c.haClient.TurnOffSwitch(entityID); err != nil {
			c.logger.Error("Failed to turn off switch",
				zap.String("entity_id", entityID),
				zap.Error(err))
		}
	}
}

func (c *Cover) armAck(entityID string) chan struct{} {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()

	ch := make(chan struct{})
	c.acks[entityID] = ch
	return ch
}

func (c *Cover) signalAck(entityID string) {
	c.ackMu.Lock()
	ch, ok := c.acks[entityID]
	if ok {
		delete(c.acks, entityID)
	}
	c.ackMu.Unlock()

	if ok {
		close(ch)
	}
}

func (c *Cover) clearAck(entityID string) {
	c.ackMu.Lock()
	delete(c.acks, entityID)
	c.ackMu.Unlock()
}

// handleCommand handles OPEN/CLOSE/STOP on the command topic.
func (c *Cover) handleCommand(payload []byte) {
	var err error
	switch cmd := strings.ToUpper(strings.TrimSpace(string(payload))); cmd {
	case payloadOpen:
		err = c.Open()
	case payloadClose:
		err = c.Close()
	case payloadStop:
		err = c.Halt()
	default:
		c.logger.Warn("Unknown cover command", zap.String("payload", cmd))
		return
	}
	if err != nil {
		c.logger.Warn("Cover command failed", zap.Error(err))
	}
}

// handleTiltCommand handles OPEN/CLOSE or a numeric position on the tilt
// command topic.
func (c *Cover) handleTiltCommand(payload []byte) {
	var err error
	switch cmd := strings.ToUpper(strings.TrimSpace(string(payload))); cmd {
	case payloadOpen:
		err = c.OpenTilt()
	case payloadClose:
		err = c.CloseTilt()
	default:
		position, parseErr := strconv.Atoi(cmd)
		if parseErr != nil {
			c.logger.Warn("Unknown tilt command", zap.String("payload", cmd))
			return
		}
		err = c.CloseTiltTo(position)
	}
	if err != nil {
		c.logger.Warn("Tilt command failed", zap.Error(err))
	}
}

// refreshAvailability mirrors the observed switches' availability onto the
// cover: the simulation is meaningless when either switch is unreachable.
func (c *Cover) refreshAvailability() {
	available := true
	for _, entityID := range []string{c.cfg.OpenSwitch, c.cfg.CloseSwitch} {
		state, err := c.haClient.GetState(entityID)
		if err != nil || !state.IsAvailable() {
			available = false
			break
		}
	}

	var err error
	gauge := 0.0
	if available {
		err = c.base.Availability.SetOnline()
		gauge = 1.0
	} else {
		err = c.base.Availability.SetOffline()
	}
	if err != nil {
		c.logger.Warn("Failed to publish availability", zap.Error(err))
	}
	metrics.EntityAvailable.WithLabelValues(platformName, c.base.ObjectID).Set(gauge)
}

func (c *Cover) publishState() {
	c.mu.Lock()
	position := c.position
	tilt := c.tilt
	direction := c.direction
	c.mu.Unlock()

	state := "open"
	switch {
	case direction == directionOpen:
		state = "opening"
	case direction == directionClose:
		state = "closing"
	case position == fullyClosed:
		state = "closed"
	}

	if err := c.base.PublishState("state", state); err != nil {
		c.logger.Warn("Failed to publish state", zap.Error(err))
	}
	if err := c.base.PublishState("position", strconv.Itoa(position)); err != nil {
		c.logger.Warn("Failed to publish position", zap.Error(err))
	}
	if c.tiltStep > 0 {
		if err := c.base.PublishState("tilt-state", strconv.Itoa(tilt)); err != nil {
			c.logger.Warn("Failed to publish tilt", zap.Error(err))
		}
	}
	metrics.EntityUpdates.WithLabelValues(platformName).Inc()
}

func (c *Cover) persist() {
	if c.db == nil {
		return
	}

	c.mu.Lock()
	snap := snapshot{Position: c.position, Tilt: c.tilt}
	c.mu.Unlock()

	if err := c.db.SaveJSON(platformName, c.base.ObjectID, snap); err != nil {
		c.logger.Error("Failed to persist cover state", zap.Error(err))
	}
}

func stepToward(current, target, step int) int {
	if current < target {
		current += step
		if current > target {
			current = target
		}
	} else if current > target {
		current -= step
		if current < target {
			current = target
		}
	}
	return current
}

func clampPosition(v int) int {
	if v < fullyClosed {
		return fullyClosed
	}
	if v > fullyOpen {
		return fullyOpen
	}
	return v
}
