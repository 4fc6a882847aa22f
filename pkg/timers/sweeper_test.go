package timers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/flowstate/pkg/channels/gochannel"
	"github.com/dukex/flowstate/pkg/delegation"
	"github.com/dukex/flowstate/pkg/eventbus"
	"github.com/dukex/flowstate/pkg/history"
	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
	"github.com/dukex/flowstate/pkg/persistence/file"
	"github.com/dukex/flowstate/pkg/registry"
	"github.com/dukex/flowstate/pkg/tasks"
	"github.com/dukex/flowstate/pkg/testutil"
)

type fakeEngine struct {
	transitions []string
	err         error
}

func (f *fakeEngine) Transition(_ context.Context, instanceID, transitionName, _, _ string, _ map[string]any) (*models.WorkflowInstance, error) {
	f.transitions = append(f.transitions, transitionName)

	if f.err != nil {
		return nil, f.err
	}

	return &models.WorkflowInstance{ID: instanceID, CurrentState: "escalated"}, nil
}

type sweepEnv struct {
	sweeper     *Sweeper
	scheduler   *Scheduler
	engine      *fakeEngine
	persistence persistence.Persistence
}

func newSweepEnv(t *testing.T, maxRetries int) *sweepEnv {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	reg := registry.NewRegistry(logger)
	resolver := delegation.NewResolver(store.Delegations(), delegation.DefaultMaxDepth, logger)
	recorder := history.NewRecorder(store.History(), logger)
	taskManager := tasks.NewManager(store, resolver, reg, recorder, nil, bus, logger)
	scheduler := NewScheduler(store.Timers(), logger)
	engine := &fakeEngine{}

	sweeper := NewSweeper(scheduler, engine, taskManager, store, bus, logger, time.Minute, maxRetries)

	return &sweepEnv{
		sweeper:     sweeper,
		scheduler:   scheduler,
		engine:      engine,
		persistence: store,
	}
}

func (env *sweepEnv) seedInstance(t *testing.T, state string) *models.WorkflowInstance {
	t.Helper()

	now := time.Now().UTC()
	instance := &models.WorkflowInstance{
		ID:           models.NewID(),
		DefinitionID: "def-1",
		CurrentState: state,
		SubjectType:  "purchase_order",
		SubjectID:    "po-1",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, env.persistence.Instances().Save(context.Background(), instance))

	return instance
}

func TestSweep_FiresDueTransitionTimer(t *testing.T) {
	ctx := context.Background()
	env := newSweepEnv(t, DefaultMaxRetries)

	instance := env.seedInstance(t, "submitted")

	timer, err := env.scheduler.Schedule(ctx, instance.ID, models.TimerTypeEscalation,
		time.Now().UTC().Add(-time.Minute),
		models.TimerAction{
			Kind:          models.TimerActionTransition,
			Transition:    "reject",
			ExpectedState: "submitted",
		}, "")
	require.NoError(t, err)

	env.sweeper.Sweep(ctx, time.Now().UTC())

	assert.Equal(t, []string{"reject"}, env.engine.transitions)

	fired, err := env.persistence.Timers().GetByID(ctx, timer.ID)
	require.NoError(t, err)
	assert.True(t, fired.Fired)
}

func TestSweep_StaleTransitionTimerMarkedFiredWithoutActing(t *testing.T) {
	ctx := context.Background()
	env := newSweepEnv(t, DefaultMaxRetries)

	// The workflow already moved on from the state the timer guards.
	instance := env.seedInstance(t, "approved")

	timer, err := env.scheduler.Schedule(ctx, instance.ID, models.TimerTypeEscalation,
		time.Now().UTC().Add(-time.Minute),
		models.TimerAction{
			Kind:          models.TimerActionTransition,
			Transition:    "reject",
			ExpectedState: "submitted",
		}, "")
	require.NoError(t, err)

	env.sweeper.Sweep(ctx, time.Now().UTC())

	assert.Empty(t, env.engine.transitions)

	fired, err := env.persistence.Timers().GetByID(ctx, timer.ID)
	require.NoError(t, err)
	assert.True(t, fired.Fired)
}

func TestSweep_EscalationTimerForResolvedTask(t *testing.T) {
	ctx := context.Background()
	env := newSweepEnv(t, DefaultMaxRetries)

	task := testutil.CreateTestTask(func(task *models.Task) {
		task.Status = models.TaskStatusCompleted
	})
	require.NoError(t, env.persistence.Tasks().Save(ctx, task))

	timer, err := env.scheduler.Schedule(ctx, task.WorkflowID, models.TimerTypeEscalation,
		time.Now().UTC().Add(-time.Minute),
		models.TimerAction{Kind: models.TimerActionEscalate, TaskID: task.ID}, "")
	require.NoError(t, err)

	env.sweeper.Sweep(ctx, time.Now().UTC())

	// A timer for an already-resolved task is not an error; it is marked
	// fired so it never refires.
	fired, err := env.persistence.Timers().GetByID(ctx, timer.ID)
	require.NoError(t, err)
	assert.True(t, fired.Fired)
	assert.Zero(t, fired.Attempts)
}

func TestSweep_EscalationTimerForMissingTask(t *testing.T) {
	ctx := context.Background()
	env := newSweepEnv(t, DefaultMaxRetries)

	timer, err := env.scheduler.Schedule(ctx, models.NewID(), models.TimerTypeEscalation,
		time.Now().UTC().Add(-time.Minute),
		models.TimerAction{Kind: models.TimerActionEscalate, TaskID: "gone"}, "")
	require.NoError(t, err)

	env.sweeper.Sweep(ctx, time.Now().UTC())

	fired, err := env.persistence.Timers().GetByID(ctx, timer.ID)
	require.NoError(t, err)
	assert.True(t, fired.Fired)
}

func TestSweep_RetriesThenAbandonsFailingTimer(t *testing.T) {
	ctx := context.Background()
	env := newSweepEnv(t, 3)

	instance := env.seedInstance(t, "submitted")
	env.engine.err = errors.New("downstream unavailable")

	timer, err := env.scheduler.Schedule(ctx, instance.ID, models.TimerTypeEscalation,
		time.Now().UTC().Add(-time.Minute),
		models.TimerAction{
			Kind:          models.TimerActionTransition,
			Transition:    "reject",
			ExpectedState: "submitted",
		}, "")
	require.NoError(t, err)

	// First two sweeps bump the attempt counter and keep the timer pending.
	for sweep := 1; sweep <= 2; sweep++ {
		env.sweeper.Sweep(ctx, time.Now().UTC())

		loaded, err := env.persistence.Timers().GetByID(ctx, timer.ID)
		require.NoError(t, err)
		assert.False(t, loaded.Fired)
		assert.Equal(t, sweep, loaded.Attempts)
	}

	// The third failure exhausts the budget; the timer is abandoned.
	env.sweeper.Sweep(ctx, time.Now().UTC())

	loaded, err := env.persistence.Timers().GetByID(ctx, timer.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Fired)
	assert.Len(t, env.engine.transitions, 3)
}

func TestSweep_ReminderReschedulesFromCron(t *testing.T) {
	ctx := context.Background()
	env := newSweepEnv(t, DefaultMaxRetries)

	instance := env.seedInstance(t, "submitted")

	timer, err := env.scheduler.Schedule(ctx, instance.ID, models.TimerTypeReminder,
		time.Now().UTC().Add(-time.Minute),
		models.TimerAction{Kind: models.TimerActionNotify, ExpectedState: "submitted"},
		"*/5 * * * *")
	require.NoError(t, err)

	env.sweeper.Sweep(ctx, time.Now().UTC())

	fired, err := env.persistence.Timers().GetByID(ctx, timer.ID)
	require.NoError(t, err)
	assert.True(t, fired.Fired)

	pending, err := env.persistence.Timers().ListPendingByWorkflow(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.TimerTypeReminder, pending[0].Type)
	assert.Equal(t, "*/5 * * * *", pending[0].CronExpression)
	assert.True(t, pending[0].TriggerAt.After(time.Now().UTC()))
}

func TestSweep_EscalatesOverdueTasksOnce(t *testing.T) {
	ctx := context.Background()
	env := newSweepEnv(t, DefaultMaxRetries)

	task := testutil.CreateTestTask(testutil.WithDueAt(time.Now().UTC().Add(-time.Hour)))
	require.NoError(t, env.persistence.Tasks().Save(ctx, task))

	env.sweeper.Sweep(ctx, time.Now().UTC())

	flagged, err := env.persistence.Tasks().GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, flagged.Metadata)

	escalatedAt, ok := flagged.Metadata["escalated_at"]
	require.True(t, ok)

	// A second sweep leaves the flag untouched.
	env.sweeper.Sweep(ctx, time.Now().UTC())

	reloaded, err := env.persistence.Tasks().GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, escalatedAt, reloaded.Metadata["escalated_at"])
}
