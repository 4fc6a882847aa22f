package engine

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
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dukex/flowstate/pkg/approval"
	"github.com/dukex/flowstate/pkg/channels/gochannel"
	"github.com/dukex/flowstate/pkg/delegation"
	"github.com/dukex/flowstate/pkg/eventbus"
	"github.com/dukex/flowstate/pkg/history"
	"github.com/dukex/flowstate/pkg/lock"
	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
	"github.com/dukex/flowstate/pkg/persistence/file"
	"github.com/dukex/flowstate/pkg/protocol"
	"github.com/dukex/flowstate/pkg/registry"
	"github.com/dukex/flowstate/pkg/tasks"
	"github.com/dukex/flowstate/pkg/testutil"
	"github.com/dukex/flowstate/pkg/timers"
)

type testEnv struct {
	engine      *Engine
	persistence persistence.Persistence
	locker      *lock.MemoryLocker
	recording   *recordingActivity
}

// recordingActivity is a factory whose activities count executions and
// compensations on the shared factory. A binding configured with
// {"fail": true} produces an activity that always fails.
type recordingActivity struct {
	executions    int
	compensations int
}

func (a *recordingActivity) ID() string { return "recording" }

func (a *recordingActivity) Create(config map[string]any) (protocol.Activity, error) {
	fail, _ := config["fail"].(bool)

	return &recordingRun{parent: a, fail: fail}, nil
}

type recordingRun struct {
	parent *recordingActivity
	fail   bool
}

func (r *recordingRun) Execute(_ context.Context, _ *models.WorkflowInstance, _ *slog.Logger) (map[string]any, error) {
	if r.fail {
		return nil, errors.New("activity exploded")
	}

	r.parent.executions++

	return map[string]any{"run": r.parent.executions}, nil
}

func (r *recordingRun) Compensate(_ context.Context, _ *models.WorkflowInstance, _ map[string]any, _ *slog.Logger) error {
	r.parent.compensations++

	return nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	return newTestEnvWithStore(t, file.NewPersistence(t.TempDir()))
}

func newTestEnvWithStore(t *testing.T, store persistence.Persistence) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	recording := &recordingActivity{}
	reg := registry.NewRegistry(logger)
	reg.RegisterActivity(recording)
	reg.RegisterApprovalStrategy(approval.NewUnanimous())

	resolver := delegation.NewResolver(store.Delegations(), delegation.DefaultMaxDepth, logger)
	recorder := history.NewRecorder(store.History(), logger)
	taskManager := tasks.NewManager(store, resolver, reg, recorder, nil, bus, logger)
	scheduler := timers.NewScheduler(store.Timers(), logger)
	locker := lock.NewMemoryLocker()
	tracer := noop.NewTracerProvider().Tracer("test")

	workflowEngine := NewEngine(store, reg, locker, bus, recorder, taskManager, scheduler, tracer, logger)

	return &testEnv{
		engine:      workflowEngine,
		persistence: store,
		locker:      locker,
		recording:   recording,
	}
}

func (env *testEnv) startWorkflow(t *testing.T, definition *models.WorkflowDefinition, data map[string]any) *models.WorkflowInstance {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, env.persistence.Definitions().Save(ctx, definition))

	instance, err := env.engine.Start(ctx, definition, "purchase_order", "po-1", data)
	require.NoError(t, err)

	return instance
}

func TestStart(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	definition := testutil.CreateTestDefinition()
	instance := env.startWorkflow(t, definition, map[string]any{"amount": 150.0})

	assert.Equal(t, "draft", instance.CurrentState)
	assert.Equal(t, definition.ID, instance.DefinitionID)
	assert.Equal(t, definition.Version, instance.DefinitionVersion)
	assert.False(t, instance.IsCompleted())

	entries, err := env.persistence.History().ListByWorkflow(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "draft", entries[0].ToState)
	assert.Empty(t, entries[0].FromState)
}

func TestStart_InactiveDefinition(t *testing.T) {
	env := newTestEnv(t)

	definition := testutil.CreateTestDefinition(testutil.WithInactive())

	_, err := env.engine.Start(context.Background(), definition, "purchase_order", "po-1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDefinitionInactive)
	assert.Equal(t, CodeDefinitionInactive, Code(err))
}

func TestStart_SchemaViolation(t *testing.T) {
	env := newTestEnv(t)

	definition := testutil.CreateTestDefinition(func(d *models.WorkflowDefinition) {
		d.Schema = &models.DataSchema{Document: map[string]any{
			"type":     "object",
			"required": []any{"amount"},
		}}
	})

	_, err := env.engine.Start(context.Background(), definition, "purchase_order", "po-1", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidData, Code(err))

	var invalid *InvalidDataError

	assert.ErrorAs(t, err, &invalid)
}

func TestTransition_FullApprovalPath(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	definition := testutil.CreateTestDefinition()
	instance := env.startWorkflow(t, definition, map[string]any{"amount": 150.0})

	updated, err := env.engine.Transition(ctx, instance.ID, "submit", "alice", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "submitted", updated.CurrentState)
	assert.False(t, updated.IsCompleted())

	updated, err = env.engine.Transition(ctx, instance.ID, "approve", "bob", "approved", nil)
	require.NoError(t, err)
	assert.Equal(t, "approved", updated.CurrentState)
	assert.True(t, updated.IsCompleted())
	require.NotNil(t, updated.CompletedAt)

	entries, err := env.persistence.History().ListByWorkflow(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "submit", entries[1].Transition)
	assert.Equal(t, "alice", entries[1].ActorID)
	assert.Equal(t, "approve", entries[2].Transition)
	assert.Equal(t, "approved", entries[2].Comment)
}

func TestTransition_NotAllowedFromCurrentState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	definition := testutil.CreateTestDefinition()
	instance := env.startWorkflow(t, definition, nil)

	_, err := env.engine.Transition(ctx, instance.ID, "approve", "alice", "", nil)
	require.Error(t, err)

	var invalid *InvalidTransitionError

	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "draft", invalid.CurrentState)
	assert.Equal(t, CodeInvalidTransition, Code(err))
}

func TestTransition_UnknownTransition(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	definition := testutil.CreateTestDefinition()
	instance := env.startWorkflow(t, definition, nil)

	_, err := env.engine.Transition(ctx, instance.ID, "archive", "alice", "", nil)
	assert.ErrorIs(t, err, ErrTransitionNotFound)
}

func TestTransition_GuardBlocksAndLeavesInstanceUnchanged(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	definition := testutil.CreateTestDefinition(testutil.WithGuard("submit", "amount > 1000"))
	instance := env.startWorkflow(t, definition, map[string]any{"amount": 150.0})

	_, err := env.engine.Transition(ctx, instance.ID, "submit", "alice", "", nil)
	require.Error(t, err)

	var guard *GuardNotSatisfiedError

	require.ErrorAs(t, err, &guard)
	assert.Equal(t, CodeGuardNotSatisfied, Code(err))

	loaded, err := env.persistence.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", loaded.CurrentState)
	assert.Equal(t, 150.0, loaded.Data["amount"])
	assert.False(t, loaded.IsLocked)

	// The guard sees the patch, so patching over the threshold unblocks it.
	updated, err := env.engine.Transition(ctx, instance.ID, "submit", "alice", "", map[string]any{"amount": 2500.0})
	require.NoError(t, err)
	assert.Equal(t, "submitted", updated.CurrentState)
	assert.Equal(t, 2500.0, updated.Data["amount"])
}

func TestTransition_EntryActivityFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	definition := testutil.CreateTestDefinition(
		testutil.WithExitActivities("draft", &models.ActivityBinding{Activity: "recording"}),
		testutil.WithEntryActivities("submitted", &models.ActivityBinding{
			Activity: "recording",
			Config:   map[string]any{"fail": true},
		}),
	)
	instance := env.startWorkflow(t, definition, map[string]any{"amount": 150.0})

	_, err := env.engine.Transition(ctx, instance.ID, "submit", "alice", "", map[string]any{"amount": 9000.0})
	require.Error(t, err)

	var activityErr *ActivityExecutionError

	require.ErrorAs(t, err, &activityErr)
	assert.Equal(t, "recording", activityErr.Activity)
	assert.Equal(t, "entry", activityErr.Phase)
	assert.Equal(t, CodeActivityFailed, Code(err))

	// The exit activity ran and was compensated; state and data are intact.
	assert.Equal(t, 1, env.recording.executions)
	assert.Equal(t, 1, env.recording.compensations)

	loaded, err := env.persistence.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", loaded.CurrentState)
	assert.Equal(t, 150.0, loaded.Data["amount"])
	assert.False(t, loaded.IsLocked)

	// No transition was recorded.
	entries, err := env.persistence.History().ListByWorkflow(ctx, instance.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// flakyInstances wraps an instance repository and fails Save on demand.
type flakyInstances struct {
	persistence.InstanceRepository

	failSaves bool
}

func (r *flakyInstances) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	if r.failSaves {
		return errors.New("disk full")
	}

	return r.InstanceRepository.Save(ctx, instance)
}

type flakyStore struct {
	persistence.Persistence

	instances *flakyInstances
}

func (s *flakyStore) Instances() persistence.InstanceRepository {
	return s.instances
}

func TestTransition_InstanceSaveFailureLeavesNoTrace(t *testing.T) {
	ctx := context.Background()

	base := file.NewPersistence(t.TempDir())
	flaky := &flakyInstances{InstanceRepository: base.Instances()}
	env := newTestEnvWithStore(t, &flakyStore{Persistence: base, instances: flaky})

	definition := testutil.CreateTestDefinition(
		testutil.WithExitActivities("draft", &models.ActivityBinding{Activity: "recording"}),
		testutil.WithUserTask("submitted", &models.UserTaskSpec{
			Title:          "Review purchase order",
			AssignedUserID: "alice",
		}),
	)
	instance := env.startWorkflow(t, definition, map[string]any{"amount": 150.0})

	flaky.failSaves = true

	_, err := env.engine.Transition(ctx, instance.ID, "submit", "alice", "", nil)
	require.Error(t, err)

	flaky.failSaves = false

	// The durable record still shows the old state with no transition side
	// effects.
	loaded, err := env.persistence.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", loaded.CurrentState)
	assert.False(t, loaded.IsLocked)

	entries, err := env.persistence.History().ListByWorkflow(ctx, instance.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	createdTasks, err := env.persistence.Tasks().ListByState(ctx, instance.ID, "submitted")
	require.NoError(t, err)
	assert.Empty(t, createdTasks)

	// The exit activity was compensated.
	assert.Equal(t, 1, env.recording.executions)
	assert.Equal(t, 1, env.recording.compensations)
}

func TestTransition_CompletedWorkflowRejectsFurtherTransitions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	definition := testutil.CreateTestDefinition()
	instance := env.startWorkflow(t, definition, nil)

	_, err := env.engine.Transition(ctx, instance.ID, "submit", "alice", "", nil)
	require.NoError(t, err)

	_, err = env.engine.Transition(ctx, instance.ID, "approve", "bob", "", nil)
	require.NoError(t, err)

	_, err = env.engine.Transition(ctx, instance.ID, "reject", "bob", "", nil)
	assert.ErrorIs(t, err, ErrWorkflowCompleted)
	assert.Equal(t, CodeWorkflowCompleted, Code(err))
}

func TestTransition_LockedInstance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	definition := testutil.CreateTestDefinition()
	instance := env.startWorkflow(t, definition, nil)

	// Another worker holds the advisory lock.
	_, err := env.locker.Acquire(ctx, instance.ID, time.Minute)
	require.NoError(t, err)

	_, err = env.engine.Transition(ctx, instance.ID, "submit", "alice", "", nil)
	assert.ErrorIs(t, err, ErrWorkflowLocked)
	assert.Equal(t, CodeWorkflowLocked, Code(err))
}

func TestUnlock_ClearsStuckFlag(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	definition := testutil.CreateTestDefinition()
	instance := env.startWorkflow(t, definition, nil)

	// Simulate a crash that left the persisted flag set.
	require.NoError(t, env.persistence.Instances().SetLocked(ctx, instance.ID, true))

	_, err := env.engine.Transition(ctx, instance.ID, "submit", "alice", "", nil)
	assert.ErrorIs(t, err, ErrWorkflowLocked)

	require.NoError(t, env.engine.Unlock(ctx, instance.ID))

	_, err = env.engine.Transition(ctx, instance.ID, "submit", "alice", "", nil)
	require.NoError(t, err)
}

func TestAvailableTransitions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	definition := testutil.CreateTestDefinition(testutil.WithGuard("approve", "amount < 1000"))
	instance := env.startWorkflow(t, definition, map[string]any{"amount": 2500.0})

	_, err := env.engine.Transition(ctx, instance.ID, "submit", "alice", "", nil)
	require.NoError(t, err)

	available, err := env.engine.AvailableTransitions(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, "reject", available[0].Name)
}

func TestEnterState_CreatesTasksAndTimers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	definition := testutil.CreateTestDefinition(
		testutil.WithUserTask("submitted", &models.UserTaskSpec{
			Title:          "Review purchase order",
			AssignedUserID: "alice",
		}),
		testutil.WithAutomation("submitted", &models.AutomationRules{
			Escalation:  &models.EscalationPolicy{After: time.Hour, Transition: "reject"},
			SLADeadline: 4 * time.Hour,
		}),
	)
	instance := env.startWorkflow(t, definition, nil)

	_, err := env.engine.Transition(ctx, instance.ID, "submit", "alice", "", nil)
	require.NoError(t, err)

	createdTasks, err := env.persistence.Tasks().ListByState(ctx, instance.ID, "submitted")
	require.NoError(t, err)
	require.Len(t, createdTasks, 1)
	assert.Equal(t, "alice", createdTasks[0].AssignedUserID)

	pending, err := env.persistence.Timers().ListPendingByWorkflow(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	types := map[models.TimerType]models.TimerAction{}
	for _, timer := range pending {
		types[timer.Type] = timer.Action
	}

	escalation, ok := types[models.TimerTypeEscalation]
	require.True(t, ok)
	assert.Equal(t, models.TimerActionTransition, escalation.Kind)
	assert.Equal(t, "reject", escalation.Transition)
	assert.Equal(t, "submitted", escalation.ExpectedState)

	_, ok = types[models.TimerTypeSLACheck]
	assert.True(t, ok)

	// Leaving the state cancels its pending tasks and timers.
	_, err = env.engine.Transition(ctx, instance.ID, "approve", "bob", "", nil)
	require.NoError(t, err)

	remaining, err := env.persistence.Timers().ListPendingByWorkflow(ctx, instance.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	tasksAfter, err := env.persistence.Tasks().ListByState(ctx, instance.ID, "submitted")
	require.NoError(t, err)
	require.Len(t, tasksAfter, 1)
	assert.Equal(t, models.TaskStatusCancelled, tasksAfter[0].Status)
}
