package session

import (
	"context"
	"fmt"

	"voice-command-router/clients/sync_api"
	"voice-command-router/command_router"
	"voice-command-router/knowledge_store"

	"go.uber.org/zap"
)

// local handles goal bookkeeping and cancellation without the assistant,
// then acknowledges out loud.
func (o *Orchestrator) local(ctx context.Context, d command_router.Decision) {
	if err := o.cfg.Router.Commit(ctx, d); err != nil {
		o.logger.Warn("pattern learning not saved", zap.Error(err))
	}

	reply := o.apply(ctx, d.Local)

	o.logger.Info("local action", zap.Stringer("kind", d.Local.Kind), zap.String("text", d.Local.Text), zap.String("reply", reply))

	o.turn.outcome = outcomeLocal
	o.transition(Speaking)
	o.say(reply)
}

func (o *Orchestrator) apply(ctx context.Context, a *command_router.LocalAction) string {
	if a.Kind == command_router.Cancel {
		return "Okay, cancelled."
	}

	if o.cfg.Store == nil {
		return "I can't keep track of that without the knowledge store."
	}

	switch a.Kind {
	case command_router.SetGoal:
		g, err := o.cfg.Store.SetGoal(ctx, a.Text)
		if err != nil {
			o.logger.Error("goal not saved", zap.Error(err))
			return "Sorry, I couldn't save that goal."
		}

		o.goalID = g.ID
		o.remember(ctx, keyCurrentGoal, g.Description)
		o.share(sync_api.Record{Kind: sync_api.KindGoal, ID: g.ID, Text: g.Description, Status: string(g.Status), At: g.UpdatedAt})

		return fmt.Sprintf("Goal set: %s.", g.Description)

	case command_router.CompleteGoal, command_router.PauseGoal:
		status, verb := knowledge_store.GoalCompleted, "completed"
		if a.Kind == command_router.PauseGoal {
			status, verb = knowledge_store.GoalPaused, "paused"
		}

		active, err := o.cfg.Store.ActiveGoal(ctx)
		if err != nil {
			o.logger.Error("active goal unavailable", zap.Error(err))
			return "Sorry, I couldn't read the current goal."
		}

		if active == nil {
			return "There is no active goal."
		}

		g, err := o.cfg.Store.SetGoalStatus(ctx, active.ID, status)
		if err != nil {
			o.logger.Error("goal status not saved", zap.Error(err))
			return "Sorry, I couldn't update the goal."
		}

		o.goalID = ""
		o.remember(ctx, keyCurrentGoal, "")
		o.share(sync_api.Record{Kind: sync_api.KindGoal, ID: g.ID, Text: g.Description, Status: string(g.Status), At: g.UpdatedAt})

		return fmt.Sprintf("Goal %s: %s.", verb, g.Description)

	case command_router.RecordMilestone:
		goalID := o.activeGoalID(ctx)

		m, err := o.cfg.Store.AddMilestone(ctx, goalID, a.Text, knowledge_store.MilestoneReached)
		if err != nil {
			o.logger.Error("milestone not saved", zap.Error(err))
			return "Sorry, I couldn't record that milestone."
		}

		o.share(sync_api.Record{Kind: sync_api.KindMilestone, ID: m.ID, GoalID: m.GoalID, Text: m.Description, Status: string(m.Status), At: m.CreatedAt})

		return "Milestone recorded."

	case command_router.RecordDecision:
		goalID := o.activeGoalID(ctx)

		dec, err := o.cfg.Store.RecordDecision(ctx, goalID, a.Text, a.Rationale)
		if err != nil {
			o.logger.Error("decision not saved", zap.Error(err))
			return "Sorry, I couldn't record that decision."
		}

		o.share(sync_api.Record{Kind: sync_api.KindDecision, ID: dec.ID, GoalID: dec.GoalID, Text: dec.Description, Rationale: dec.Rationale, At: dec.CreatedAt})

		return "Decision recorded."
	}

	return "Sorry, I don't know how to do that."
}

// activeGoalID falls back to the cached id when the store cannot be read.
func (o *Orchestrator) activeGoalID(ctx context.Context) string {
	g, err := o.cfg.Store.ActiveGoal(ctx)
	if err != nil {
		o.logger.Warn("active goal unavailable", zap.Error(err))
		return o.goalID
	}

	if g == nil {
		o.goalID = ""
		return ""
	}

	o.goalID = g.ID

	return g.ID
}

func (o *Orchestrator) share(rec sync_api.Record) {
	if o.cfg.Sync == nil {
		return
	}

	if !o.cfg.Sync.Enqueue(rec) {
		o.logger.Debug("record not synced", zap.String("kind", string(rec.Kind)), zap.String("id", rec.ID))
	}
}
