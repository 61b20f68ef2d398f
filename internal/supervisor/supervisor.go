// Package supervisor runs the hive's periodic duty loop: liveness
// classification, role reminders, protocol-violation detection, expired
// message reaping, and heartbeat acceptance. It also owns session lifecycle
// (init, role injection, shutdown).
//
// Duties are independent: a failure in one is logged and never aborts the
// others, and the supervisor never surfaces a fault to its caller beyond a
// per-bee status downgrade.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nyasuto/hive/internal/bee"
	"github.com/nyasuto/hive/internal/bus"
	"github.com/nyasuto/hive/internal/common/config"
	"github.com/nyasuto/hive/internal/common/logger"
	"github.com/nyasuto/hive/internal/events"
	eventbus "github.com/nyasuto/hive/internal/events/bus"
	"github.com/nyasuto/hive/internal/injector"
	"github.com/nyasuto/hive/internal/store"
	"github.com/nyasuto/hive/internal/tmux"
)

// anomalyThreshold is the per-sender message count in one sweep window above
// which the supervisor logs an advisory warning.
const anomalyThreshold = 20

// Supervisor drives the duty loop and session lifecycle.
type Supervisor struct {
	store    *store.Store
	bus      *bus.Bus
	injector *injector.Injector
	client   *tmux.Client
	panes    *bee.Panes
	events   eventbus.EventBus
	cfg      config.SupervisorConfig
	observer bee.Name

	beeCommand string
	rolesDir   string
	signalFile string

	logger *logger.Logger
	now    func() time.Time

	mu           sync.Mutex
	lastRemind   time.Time
	lastScan     time.Time
	alertedUntil map[bee.Name]time.Time
}

// New wires a supervisor from the shared components.
func New(cfg *config.Config, st *store.Store, b *bus.Bus, inj *injector.Injector,
	client *tmux.Client, panes *bee.Panes, ev eventbus.EventBus, log *logger.Logger) *Supervisor {
	observer, err := bee.Parse(cfg.Supervisor.ObserverBee)
	if err != nil || !observer.IsReal() {
		observer = bee.Queen
	}
	return &Supervisor{
		store:        st,
		bus:          b,
		injector:     inj,
		client:       client,
		panes:        panes,
		events:       ev,
		cfg:          cfg.Supervisor,
		observer:     observer,
		beeCommand:   cfg.Hive.BeeCommand,
		rolesDir:     cfg.Hive.RolesDir,
		signalFile:   RemindSignalFile(cfg.Supervisor.PidFile),
		logger:       log.WithFields(zap.String("component", "supervisor")),
		now:          time.Now,
		alertedUntil: make(map[bee.Name]time.Time),
	}
}

// SetClock overrides the supervisor clock. Test hook.
func (s *Supervisor) SetClock(now func() time.Time) { s.now = now }

// Run executes the duty loop until the context is cancelled. The current
// sweep finishes before Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor started",
		zap.Duration("tick", s.cfg.TickDuration()),
		zap.String("observer", s.observer.String()))

	var sub eventbus.Subscription
	if s.events != nil {
		var err error
		sub, err = s.events.Subscribe(events.TaskStatusChanged, func(ctx context.Context, _ *eventbus.Event) error {
			return s.refreshWorkloads(ctx)
		})
		if err != nil {
			s.logger.Warn("failed to subscribe to task events", zap.Error(err))
		}
	}
	defer func() {
		if sub != nil {
			_ = sub.Unsubscribe()
		}
	}()

	s.mu.Lock()
	s.lastScan = s.now()
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.TickDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("supervisor stopping")
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs every duty once. Exposed so the CLI's remind path and tests can
// drive ticks directly.
func (s *Supervisor) Sweep(ctx context.Context) {
	s.checkLiveness(ctx)
	if s.remindDue() || ConsumeRemindSignal(s.signalFile) {
		s.SendReminders(ctx)
	}
	s.scanViolations(ctx)
	s.reapExpired(ctx)
}

// Heartbeat records a bee's liveness signal. An offline bee comes back as
// idle, or busy when it holds a current task.
func (s *Supervisor) Heartbeat(ctx context.Context, name bee.Name) error {
	if err := s.store.RecordHeartbeat(ctx, name); err != nil {
		return err
	}
	s.publish(ctx, events.AgentHeartbeat, map[string]any{"bee": name.String()})
	return nil
}

// checkLiveness implements duty 1: bees silent past t_silent go offline and
// the observer is alerted; past t_idle the condition is only recorded.
func (s *Supervisor) checkLiveness(ctx context.Context) {
	states, err := s.store.ListAgentStates(ctx)
	if err != nil {
		s.logger.Warn("liveness sweep failed", zap.Error(err))
		return
	}
	now := s.now()
	for _, state := range states {
		delta := now.Sub(state.LastHeartbeat)
		switch {
		case delta >= s.cfg.SilentThreshold():
			if state.Status == store.AgentOffline {
				continue
			}
			offline := store.AgentOffline
			if err := s.store.UpsertAgentState(ctx, state.BeeName, store.AgentStateUpdate{Status: &offline}); err != nil {
				s.logger.Warn("failed to mark bee offline",
					zap.String("bee", state.BeeName.String()), zap.Error(err))
				continue
			}
			s.logger.Warn("bee went offline",
				zap.String("bee", state.BeeName.String()),
				zap.Duration("silent_for", delta))
			s.alert(ctx, fmt.Sprintf("%s has been silent for %s and was marked offline.",
				state.BeeName, delta.Round(time.Second)), nil)
			s.publish(ctx, events.AgentStatusChanged, map[string]any{
				"bee":    state.BeeName.String(),
				"status": string(store.AgentOffline),
			})
		case delta >= s.cfg.IdleThreshold():
			s.logger.Debug("bee idle",
				zap.String("bee", state.BeeName.String()),
				zap.Duration("since_heartbeat", delta))
		}
	}
}

func (s *Supervisor) remindDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now().Sub(s.lastRemind) < s.cfg.RemindDuration() {
		return false
	}
	s.lastRemind = s.now()
	return true
}

// SendReminders implements duty 2: a brief role_injection note to every bee
// restating its identity and current task.
func (s *Supervisor) SendReminders(ctx context.Context) {
	for _, name := range bee.RealBees() {
		if err := s.RemindBee(ctx, name); err != nil {
			s.logger.Warn("reminder failed",
				zap.String("bee", name.String()), zap.Error(err))
		}
	}
	s.logger.Info("role reminders sent")
}

// RemindBee sends one bee its identity reminder.
func (s *Supervisor) RemindBee(ctx context.Context, name bee.Name) error {
	taskRef := "none"
	var taskID *string
	if state, err := s.store.GetAgentState(ctx, name); err == nil && state.CurrentTaskID != nil {
		taskRef = *state.CurrentTaskID
		taskID = state.CurrentTaskID
	}
	content := fmt.Sprintf(
		"Reminder: you are %s (%s bee) in session %s. Current task: %s. "+
			"Use the beehive CLI for all inter-bee communication.",
		name, bee.RoleOf(name), s.client.Session(), taskRef)
	_, err := s.bus.Send(ctx, bus.SendRequest{
		From:    bee.System,
		To:      name,
		Type:    store.TypeRoleInjection,
		Subject: "role reminder",
		Content: content,
		TaskID:  taskID,
	})
	return err
}

// scanViolations implements duty 3: messages inserted since the last tick
// with sender_cli_used = false and a real-bee sender raise one alert per
// offender per window. It also logs an advisory when a sender floods the
// window.
func (s *Supervisor) scanViolations(ctx context.Context) {
	s.mu.Lock()
	cutoff := s.lastScan
	s.lastScan = s.now()
	s.mu.Unlock()

	msgs, err := s.store.MessagesSince(ctx, cutoff)
	if err != nil {
		s.logger.Warn("violation scan failed", zap.Error(err))
		return
	}

	perSender := make(map[bee.Name]int)
	for _, msg := range msgs {
		sender := bee.Name(msg.FromBee)
		if !sender.IsReal() {
			continue
		}
		perSender[sender]++
		if msg.SenderCLIUsed {
			continue
		}
		s.mu.Lock()
		until, alerted := s.alertedUntil[sender]
		now := s.now()
		if alerted && now.Before(until) {
			s.mu.Unlock()
			continue
		}
		s.alertedUntil[sender] = now.Add(s.cfg.ViolationWindowDuration())
		s.mu.Unlock()

		s.logger.Warn("protocol violation detected",
			zap.String("sender", sender.String()),
			zap.Int64("message_id", msg.ID))
		s.alert(ctx, fmt.Sprintf(
			"Protocol violation: %s sent message %d outside the beehive CLI. "+
				"Remind it to use `beehive task message`.", sender, msg.ID), msg.TaskID)
		s.publish(ctx, events.MessageViolation, map[string]any{
			"sender":     sender.String(),
			"message_id": msg.ID,
		})
	}

	for sender, count := range perSender {
		if count > anomalyThreshold {
			s.logger.Warn("anomalous message rate",
				zap.String("sender", sender.String()),
				zap.Int("messages_in_window", count))
		}
	}
}

// reapExpired implements duty 4.
func (s *Supervisor) reapExpired(ctx context.Context) {
	reaped, err := s.store.ReapExpired(ctx)
	if err != nil {
		s.logger.Warn("expired message reap failed", zap.Error(err))
		return
	}
	if reaped > 0 {
		s.logger.Info("expired messages reaped", zap.Int64("count", reaped))
	}
}

// refreshWorkloads recomputes workload scores from the agent_workload view.
func (s *Supervisor) refreshWorkloads(ctx context.Context) error {
	loads, err := s.store.AgentWorkloads(ctx)
	if err != nil {
		return err
	}
	for _, load := range loads {
		score := load.ActiveTasks*25 + load.ActiveAssignments*10
		if score > 100 {
			score = 100
		}
		if err := s.store.UpsertAgentState(ctx, load.BeeName, store.AgentStateUpdate{
			WorkloadScore: &score,
		}); err != nil {
			s.logger.Warn("failed to refresh workload score",
				zap.String("bee", load.BeeName.String()), zap.Error(err))
		}
	}
	return nil
}

// alert sends a high-priority alert to the observer bee. Alert failure is
// logged; duties never propagate faults.
func (s *Supervisor) alert(ctx context.Context, content string, taskID *string) {
	if _, err := s.bus.Send(ctx, bus.SendRequest{
		From:     bee.System,
		To:       s.observer,
		Type:     store.TypeAlert,
		Subject:  "supervisor alert",
		Content:  content,
		TaskID:   taskID,
		Priority: store.MsgHigh,
	}); err != nil {
		s.logger.Warn("alert delivery failed", zap.Error(err))
	}
}

func (s *Supervisor) publish(ctx context.Context, subject string, data map[string]any) {
	if s.events == nil {
		return
	}
	ev := eventbus.NewEvent(subject, "supervisor", data)
	if err := s.events.Publish(ctx, subject, ev); err != nil {
		s.logger.Debug("event publish failed", zap.Error(err))
	}
}
