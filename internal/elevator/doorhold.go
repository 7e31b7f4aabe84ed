package elevator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"lift-robot-bridge/internal/protocol"
)

// releaseThreshold ends the lease when this little time remains
const releaseThreshold = 500 * time.Millisecond

// HoldKey identifies one door-hold lease
type HoldKey struct {
	DeviceUUID string
	BuildingID string
	GroupID    string
	LiftNo     int
}

// HoldSeed is the protocol context captured from a successful call, needed
// to address hold_open messages at the right deck and landing.
type HoldSeed struct {
	ServedArea int
	LiftDeck   int
	TerminalID int
}

// HoldConfig holds the lease-renewal tuning
type HoldConfig struct {
	MaxHardSec      int           // protocol hard cap per extension
	SoftSec         int           // soft time sent with each extension
	Interval        time.Duration // steady re-send cadence
	ReleaseOnExpire bool          // send an explicit release at the horizon
	AckTimeout      time.Duration
}

// timerHandle abstracts a cancellable timer so tests can drive a virtual clock
type timerHandle interface {
	Stop() bool
}

type realTimer struct{ *time.Timer }

// holdTask is one active lease. Exactly one task exists per key, and exactly
// one open connection backs it; the connection's lifetime is tied to the
// task, not to the request that created it.
type holdTask struct {
	conn   *protocol.Conn
	seed   HoldSeed
	endAt  time.Time
	timer  timerHandle
	active bool
}

// HoldScheduler keeps hold_open leases alive across repeated protocol
// messages until the client's requested horizon, then releases them.
type HoldScheduler struct {
	config  HoldConfig
	connect ConnectFunc
	logger  *logrus.Entry

	mu    sync.Mutex
	tasks map[HoldKey]*holdTask
	seeds map[HoldKey]HoldSeed

	now   func() time.Time
	after func(d time.Duration, f func()) timerHandle
}

// NewHoldScheduler creates a door-hold scheduler
func NewHoldScheduler(config HoldConfig, connect ConnectFunc, logger *logrus.Entry) *HoldScheduler {
	return &HoldScheduler{
		config:  config,
		connect: connect,
		logger:  logger,
		tasks:   make(map[HoldKey]*holdTask),
		seeds:   make(map[HoldKey]HoldSeed),
		now:     time.Now,
		after: func(d time.Duration, f func()) timerHandle {
			return realTimer{time.AfterFunc(d, f)}
		},
	}
}

// SeedContext records the protocol context for a lift after a successful call
func (h *HoldScheduler) SeedContext(key HoldKey, seed HoldSeed) {
	h.mu.Lock()
	h.seeds[key] = seed
	h.mu.Unlock()
}

// Active reports whether a lease is currently running for the key
func (h *HoldScheduler) Active(key HoldKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	task, ok := h.tasks[key]
	return ok && task.active
}

// Hold extends or creates the lease for the key; seconds == 0 releases it
func (h *HoldScheduler) Hold(ctx context.Context, key HoldKey, seconds int) error {
	if seconds == 0 {
		return h.release(ctx, key)
	}
	return h.holdOrExtend(ctx, key, seconds)
}

// release sends a zero-time hold_open and tears down any active task
func (h *HoldScheduler) release(ctx context.Context, key HoldKey) error {
	h.mu.Lock()
	task, ok := h.tasks[key]
	if ok {
		delete(h.tasks, key)
		task.active = false
		if task.timer != nil {
			task.timer.Stop()
		}
	}
	seed, haveSeed := h.seeds[key]
	h.mu.Unlock()

	if ok {
		if err := h.sendHold(ctx, task.conn, key, task.seed, 0, 0); err != nil {
			h.logger.WithError(err).Warn("Door hold release send failed")
		}
		task.conn.Close()
		h.logger.WithField("lift_no", key.LiftNo).Info("Door hold released")
		return nil
	}

	if !haveSeed {
		return fmt.Errorf("no door hold context for lift %d", key.LiftNo)
	}

	conn, err := h.connect(ctx, key.BuildingID, key.GroupID)
	if err != nil {
		return err
	}
	defer conn.Close()

	return h.sendHold(ctx, conn, key, seed, 0, 0)
}

// holdOrExtend extends a running lease's horizon, or creates a new task with
// its own connection. Extension sends nothing; the running tick loop picks up
// the new horizon.
func (h *HoldScheduler) holdOrExtend(ctx context.Context, key HoldKey, seconds int) error {
	horizon := h.now().Add(time.Duration(seconds) * time.Second)

	h.mu.Lock()
	if task, ok := h.tasks[key]; ok && task.active {
		task.endAt = horizon
		h.mu.Unlock()
		h.logger.WithFields(logrus.Fields{
			"lift_no": key.LiftNo,
			"seconds": seconds,
		}).Info("Door hold extended")
		return nil
	}
	seed, haveSeed := h.seeds[key]
	h.mu.Unlock()

	if !haveSeed {
		return fmt.Errorf("no door hold context for lift %d", key.LiftNo)
	}

	conn, err := h.connect(ctx, key.BuildingID, key.GroupID)
	if err != nil {
		return err
	}

	hard := minInt(h.config.MaxHardSec, seconds)
	soft := minInt(h.config.SoftSec, hard)
	if err := h.sendHold(ctx, conn, key, seed, hard, soft); err != nil {
		conn.Close()
		return err
	}

	task := &holdTask{
		conn:   conn,
		seed:   seed,
		endAt:  horizon,
		active: true,
	}

	h.mu.Lock()
	if existing, ok := h.tasks[key]; ok && existing.active {
		// Lost the creation race; fold into the existing task
		existing.endAt = horizon
		h.mu.Unlock()
		conn.Close()
		return nil
	}
	h.tasks[key] = task
	task.timer = h.after(h.config.Interval, func() { h.tick(key) })
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"lift_no": key.LiftNo,
		"seconds": seconds,
	}).Info("Door hold started")

	return nil
}

// tick renews or ends the lease. A failed extension is logged and the loop
// continues, so one lost message does not abandon the lease early.
func (h *HoldScheduler) tick(key HoldKey) {
	h.mu.Lock()
	task, ok := h.tasks[key]
	if !ok || !task.active {
		h.mu.Unlock()
		return
	}

	now := h.now()
	remaining := task.endAt.Sub(now)

	if remaining <= releaseThreshold {
		task.active = false
		delete(h.tasks, key)
		conn, seed := task.conn, task.seed
		h.mu.Unlock()

		if h.config.ReleaseOnExpire {
			if err := h.sendHold(context.Background(), conn, key, seed, 0, 0); err != nil {
				h.logger.WithError(err).Warn("Final door hold release failed")
			}
		}
		conn.Close()
		h.logger.WithField("lift_no", key.LiftNo).Info("Door hold completed")
		return
	}

	conn, seed := task.conn, task.seed
	h.mu.Unlock()

	start := h.now()

	hard := minInt(h.config.MaxHardSec, ceilSeconds(remaining))
	soft := minInt(h.config.SoftSec, hard)
	if err := h.sendHold(context.Background(), conn, key, seed, hard, soft); err != nil {
		h.logger.WithError(err).Warn("Door hold extension failed, keeping lease")
	}

	elapsed := h.now().Sub(start)
	delay := h.config.Interval - elapsed
	if delay < 0 {
		delay = 0
	}

	h.mu.Lock()
	if task, ok := h.tasks[key]; ok && task.active {
		task.timer = h.after(delay, func() { h.tick(key) })
	}
	h.mu.Unlock()
}

// sendHold sends one hold_open message and awaits its acknowledgment.
// Explicit zero hard/soft times release the lease.
func (h *HoldScheduler) sendHold(ctx context.Context, conn *protocol.Conn, key HoldKey, seed HoldSeed, hardSec, softSec int) error {
	requestID := protocol.NewRequestID()
	ackCh := conn.ExpectAck(requestID)

	env := protocol.Envelope{
		Type:       protocol.TypeLiftCall,
		BuildingID: key.BuildingID,
		GroupID:    key.GroupID,
		CallType:   protocol.CallTypeHoldOpen,
		Payload: protocol.Payload{
			RequestID:  requestID,
			Time:       protocol.Timestamp(h.now()),
			Terminal:   seed.TerminalID,
			ServedArea: seed.ServedArea,
			LiftDeck:   seed.LiftDeck,
			HardTime:   protocol.IntPtr(hardSec),
			SoftTime:   protocol.IntPtr(softSec),
		},
	}

	if err := conn.Send(env); err != nil {
		conn.DiscardAck(requestID)
		return err
	}

	ack, err := conn.AwaitAck(ctx, requestID, ackCh, h.config.AckTimeout)
	if err != nil {
		return err
	}
	if !ack.OK() {
		return fmt.Errorf("hold_open rejected with status %d", ack.StatusCode)
	}

	return nil
}

func ceilSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
