package supervisor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nyasuto/hive/internal/bee"
	"github.com/nyasuto/hive/internal/bus"
	apperrors "github.com/nyasuto/hive/internal/common/errors"
	"github.com/nyasuto/hive/internal/store"
)

// ackPollInterval is how often awaitAck re-captures a pane looking for the
// acknowledgement token.
const ackPollInterval = time.Second

// Init creates the tmux session, spawns one interactive process per pane,
// and injects every bee's role document. With force an existing session is
// torn down first; without it an existing session is a precondition failure.
func (s *Supervisor) Init(ctx context.Context, force bool) error {
	exists, err := s.client.HasSession(ctx)
	if err != nil {
		return err
	}
	if exists {
		if !force {
			return apperrors.Precondition("session %q is already running", s.client.Session())
		}
		if err := s.client.KillSession(ctx); err != nil {
			return err
		}
	}

	ordered := s.orderedBees()
	if len(ordered) == 0 {
		return apperrors.Validation("no bees configured")
	}

	if err := s.client.NewSession(ctx, ordered[0].String()); err != nil {
		return err
	}
	for i, name := range ordered {
		if i == 0 {
			pane, err := s.panes.Resolve(name)
			if err != nil {
				return err
			}
			if err := s.client.RespawnPane(ctx, pane, s.beeCommand); err != nil {
				return err
			}
			continue
		}
		if err := s.client.NewWindow(ctx, name.String(), s.beeCommand); err != nil {
			return err
		}
	}
	s.logger.Info("session created",
		zap.String("session", s.client.Session()),
		zap.Int("bees", len(ordered)))

	return s.InjectRoles(ctx, ordered, true)
}

// InjectRoles renders and delivers each bee's role document through the
// message bus, then optionally waits for the acknowledgement token in the
// bee's pane. A bee that never acknowledges is marked error and the first
// such failure is returned.
func (s *Supervisor) InjectRoles(ctx context.Context, targets []bee.Name, awaitAck bool) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range targets {
		name := name
		g.Go(func() error {
			return s.injectRole(gctx, name, awaitAck)
		})
	}
	return g.Wait()
}

func (s *Supervisor) injectRole(ctx context.Context, name bee.Name, awaitAck bool) error {
	taskID := ""
	if state, err := s.store.GetAgentState(ctx, name); err == nil && state.CurrentTaskID != nil {
		taskID = *state.CurrentTaskID
	}
	doc, err := s.roleDocument(name, taskID)
	if err != nil {
		return err
	}

	if _, err := s.bus.Send(ctx, bus.SendRequest{
		From:    bee.Beekeeper,
		To:      name,
		Type:    store.TypeRoleInjection,
		Subject: "role document",
		Content: doc,
	}); err != nil {
		return err
	}
	if !awaitAck {
		return nil
	}

	if err := s.awaitAck(ctx, name); err != nil {
		errStatus := store.AgentError
		if upErr := s.store.UpsertAgentState(ctx, name, store.AgentStateUpdate{Status: &errStatus}); upErr != nil {
			s.logger.Warn("failed to mark bee error",
				zap.String("bee", name.String()), zap.Error(upErr))
		}
		return err
	}

	if err := s.store.RecordHeartbeat(ctx, name); err != nil {
		s.logger.Warn("failed to record post-ack heartbeat",
			zap.String("bee", name.String()), zap.Error(err))
	}
	s.logger.Info("role acknowledged", zap.String("bee", name.String()))
	return nil
}

// awaitAck polls the bee's pane for a bare line equal to the ack token. The
// role document mentions the token only inside backticks, so an unquoted
// line is the bee's reply.
func (s *Supervisor) awaitAck(ctx context.Context, name bee.Name) error {
	pane, err := s.panes.Resolve(name)
	if err != nil {
		return err
	}
	deadline := s.now().Add(s.cfg.AckTimeoutDuration())

	for {
		output, err := s.client.CapturePane(ctx, pane, 200)
		if err == nil && containsAck(output) {
			return nil
		}
		if s.now().After(deadline) {
			return apperrors.AckTimeout(name.String())
		}
		select {
		case <-ctx.Done():
			return apperrors.Cancelled(ctx.Err())
		case <-time.After(ackPollInterval):
		}
	}
}

func containsAck(output string) bool {
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == ackToken {
			return true
		}
	}
	return false
}

// Stop delivers a shutdown sentinel to every bee, then tears the session
// down. Sentinel failures are logged; teardown proceeds regardless.
func (s *Supervisor) Stop(ctx context.Context) error {
	for _, name := range bee.RealBees() {
		if _, err := s.bus.Send(ctx, bus.SendRequest{
			From:    bee.System,
			To:      name,
			Type:    store.TypeInstruction,
			Subject: "shutdown",
			Content: fmt.Sprintf("The hive session %s is shutting down. Finish your current thought; the pane closes next.", s.client.Session()),
		}); err != nil {
			s.logger.Warn("shutdown sentinel failed",
				zap.String("bee", name.String()), zap.Error(err))
		}
	}
	return s.client.KillSession(ctx)
}

// orderedBees returns the real bees sorted by their pane target so window
// creation order matches the configured pane indexes.
func (s *Supervisor) orderedBees() []bee.Name {
	bees := s.panes.Bees()
	sort.Slice(bees, func(i, j int) bool {
		pi, _ := s.panes.Resolve(bees[i])
		pj, _ := s.panes.Resolve(bees[j])
		return pi < pj
	})
	return bees
}
