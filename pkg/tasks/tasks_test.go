package tasks

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/flowstate/pkg/approval"
	"github.com/dukex/flowstate/pkg/channels/gochannel"
	"github.com/dukex/flowstate/pkg/delegation"
	"github.com/dukex/flowstate/pkg/eventbus"
	"github.com/dukex/flowstate/pkg/history"
	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
	"github.com/dukex/flowstate/pkg/persistence/file"
	"github.com/dukex/flowstate/pkg/registry"
	"github.com/dukex/flowstate/pkg/testutil"
)

func newTestManager(t *testing.T, roles RoleMembership) (*Manager, persistence.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	reg := registry.NewRegistry(logger)
	reg.RegisterApprovalStrategy(approval.NewUnanimous())
	reg.RegisterApprovalStrategy(approval.NewMajority())

	resolver := delegation.NewResolver(store.Delegations(), delegation.DefaultMaxDepth, logger)
	recorder := history.NewRecorder(store.History(), logger)

	return NewManager(store, resolver, reg, recorder, roles, bus, logger), store
}

func seedWorkflow(t *testing.T, store persistence.Persistence, definition *models.WorkflowDefinition, state string) *models.WorkflowInstance {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, store.Definitions().Save(ctx, definition))

	now := time.Now().UTC()
	instance := &models.WorkflowInstance{
		ID:                models.NewID(),
		DefinitionID:      definition.ID,
		DefinitionVersion: definition.Version,
		CurrentState:      state,
		SubjectType:       "purchase_order",
		SubjectID:         "po-1",
		Data:              map[string]any{"amount": 150.0},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, store.Instances().Save(ctx, instance))

	return instance
}

func TestCreateTasks_SingleAssignee(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, nil)

	definition := testutil.CreateTestDefinition(testutil.WithUserTask("submitted", &models.UserTaskSpec{
		Title:          "Review purchase order",
		AssignedUserID: "alice",
		DueIn:          24 * time.Hour,
	}))
	instance := seedWorkflow(t, store, definition, "submitted")

	state, ok := definition.StateByName("submitted")
	require.True(t, ok)

	created, err := manager.CreateTasks(ctx, instance, state)
	require.NoError(t, err)
	require.Len(t, created, 1)

	task := created[0]
	assert.Equal(t, "alice", task.AssignedUserID)
	assert.Equal(t, "Review purchase order", task.Title)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	require.NotNil(t, task.DueAt)
	assert.True(t, task.DueAt.After(time.Now().UTC()))
}

func TestCreateTasks_AssigneeResolvedThroughDelegation(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, nil)

	require.NoError(t, store.Delegations().Save(ctx, testutil.CreateTestDelegation("alice", "bob")))

	definition := testutil.CreateTestDefinition(testutil.WithUserTask("submitted", &models.UserTaskSpec{
		Title:          "Review purchase order",
		AssignedUserID: "alice",
	}))
	instance := seedWorkflow(t, store, definition, "submitted")

	state, _ := definition.StateByName("submitted")

	created, err := manager.CreateTasks(ctx, instance, state)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "bob", created[0].AssignedUserID)
}

func TestCreateTasks_OneTaskPerApprover(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, nil)

	definition := testutil.CreateTestDefinition(testutil.WithUserTask("submitted", &models.UserTaskSpec{
		Title: "Approve purchase order",
		Policy: &models.ApprovalPolicy{
			Strategy:  approval.StrategyUnanimous,
			Approvers: []string{"alice", "bob", "carol"},
		},
	}))
	instance := seedWorkflow(t, store, definition, "submitted")

	state, _ := definition.StateByName("submitted")

	created, err := manager.CreateTasks(ctx, instance, state)
	require.NoError(t, err)
	require.Len(t, created, 3)

	assignees := make([]string, 0, len(created))
	for _, task := range created {
		assignees = append(assignees, task.AssignedUserID)
	}

	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, assignees)
}

func TestCreateTasks_RoleTask(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, nil)

	definition := testutil.CreateTestDefinition(testutil.WithUserTask("submitted", &models.UserTaskSpec{
		Title:        "Review purchase order",
		AssignedRole: "finance",
	}))
	instance := seedWorkflow(t, store, definition, "submitted")

	state, _ := definition.StateByName("submitted")

	created, err := manager.CreateTasks(ctx, instance, state)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "finance", created[0].AssignedRole)
	assert.Empty(t, created[0].AssignedUserID)
}

func TestCreateTasks_NotUserTaskState(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, nil)

	definition := testutil.CreateTestDefinition()
	instance := seedWorkflow(t, store, definition, "draft")

	state, _ := definition.StateByName("draft")

	_, err := manager.CreateTasks(ctx, instance, state)
	assert.ErrorIs(t, err, ErrNotUserTaskState)
}

func TestComplete_SingleAssignee(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, nil)

	definition := testutil.CreateTestDefinition(testutil.WithUserTask("submitted", &models.UserTaskSpec{
		Title:          "Review purchase order",
		AssignedUserID: "alice",
		Routes: map[string]string{
			models.TaskActionApprove: "approve",
			models.TaskActionReject:  "reject",
		},
	}))
	instance := seedWorkflow(t, store, definition, "submitted")

	state, _ := definition.StateByName("submitted")

	created, err := manager.CreateTasks(ctx, instance, state)
	require.NoError(t, err)

	outcome, err := manager.Complete(ctx, created[0].ID, "alice", models.TaskActionApprove, "looks good")
	require.NoError(t, err)
	assert.True(t, outcome.Final)
	assert.Equal(t, models.TaskActionApprove, outcome.Verdict)
	assert.Equal(t, "approve", outcome.Route)
	assert.Equal(t, models.TaskStatusCompleted, outcome.Task.Status)
	assert.Equal(t, "alice", outcome.Task.CompletedBy)
	assert.Equal(t, "looks good", outcome.Task.Comment)
}

func TestComplete_Unauthorized(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, nil)

	definition := testutil.CreateTestDefinition(testutil.WithUserTask("submitted", &models.UserTaskSpec{
		Title:          "Review purchase order",
		AssignedUserID: "alice",
	}))
	instance := seedWorkflow(t, store, definition, "submitted")

	state, _ := definition.StateByName("submitted")

	created, err := manager.CreateTasks(ctx, instance, state)
	require.NoError(t, err)

	_, err = manager.Complete(ctx, created[0].ID, "mallory", models.TaskActionApprove, "")
	require.Error(t, err)

	var unauthorized *UnauthorizedError

	require.ErrorAs(t, err, &unauthorized)
	assert.Equal(t, "mallory", unauthorized.ActorID)

	// The task is untouched.
	task, err := store.Tasks().GetByID(ctx, created[0].ID)
	require.NoError(t, err)
	assert.True(t, task.IsPending())
}

func TestComplete_AlreadyResolved(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, nil)

	definition := testutil.CreateTestDefinition(testutil.WithUserTask("submitted", &models.UserTaskSpec{
		Title:          "Review purchase order",
		AssignedUserID: "alice",
	}))
	instance := seedWorkflow(t, store, definition, "submitted")

	state, _ := definition.StateByName("submitted")

	created, err := manager.CreateTasks(ctx, instance, state)
	require.NoError(t, err)

	_, err = manager.Complete(ctx, created[0].ID, "alice", models.TaskActionApprove, "")
	require.NoError(t, err)

	_, err = manager.Complete(ctx, created[0].ID, "alice", models.TaskActionReject, "")
	assert.ErrorIs(t, err, ErrTaskAlreadyResolved)
}

func TestComplete_DelegateMayAct(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, nil)

	definition := testutil.CreateTestDefinition(testutil.WithUserTask("submitted", &models.UserTaskSpec{
		Title:          "Review purchase order",
		AssignedUserID: "alice",
	}))
	instance := seedWorkflow(t, store, definition, "submitted")

	state, _ := definition.StateByName("submitted")

	created, err := manager.CreateTasks(ctx, instance, state)
	require.NoError(t, err)

	// The delegation was created after the task was assigned, so the task
	// still points at alice but bob may act on her behalf.
	require.NoError(t, store.Delegations().Save(ctx, testutil.CreateTestDelegation("alice", "bob")))

	outcome, err := manager.Complete(ctx, created[0].ID, "bob", models.TaskActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, "bob", outcome.Task.CompletedBy)
}

type staticRoles map[string][]string

func (r staticRoles) IsMember(_ context.Context, userID, role string) (bool, error) {
	for _, member := range r[role] {
		if member == userID {
			return true, nil
		}
	}

	return false, nil
}

func TestComplete_RoleMember(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, staticRoles{"finance": {"dana"}})

	definition := testutil.CreateTestDefinition(testutil.WithUserTask("submitted", &models.UserTaskSpec{
		Title:        "Review purchase order",
		AssignedRole: "finance",
	}))
	instance := seedWorkflow(t, store, definition, "submitted")

	state, _ := definition.StateByName("submitted")

	created, err := manager.CreateTasks(ctx, instance, state)
	require.NoError(t, err)

	_, err = manager.Complete(ctx, created[0].ID, "mallory", models.TaskActionApprove, "")
	require.Error(t, err)

	outcome, err := manager.Complete(ctx, created[0].ID, "dana", models.TaskActionApprove, "")
	require.NoError(t, err)
	assert.True(t, outcome.Final)
}

func TestComplete_UnanimousApproval(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, nil)

	definition := testutil.CreateTestDefinition(testutil.WithUserTask("submitted", &models.UserTaskSpec{
		Title: "Approve purchase order",
		Policy: &models.ApprovalPolicy{
			Strategy:  approval.StrategyUnanimous,
			Approvers: []string{"alice", "bob", "carol"},
		},
		Routes: map[string]string{
			models.TaskActionApprove: "approve",
			models.TaskActionReject:  "reject",
		},
	}))
	instance := seedWorkflow(t, store, definition, "submitted")

	state, _ := definition.StateByName("submitted")

	created, err := manager.CreateTasks(ctx, instance, state)
	require.NoError(t, err)
	require.Len(t, created, 3)

	byAssignee := make(map[string]*models.Task, len(created))
	for _, task := range created {
		byAssignee[task.AssignedUserID] = task
	}

	outcome, err := manager.Complete(ctx, byAssignee["alice"].ID, "alice", models.TaskActionApprove, "")
	require.NoError(t, err)
	assert.False(t, outcome.Final)

	outcome, err = manager.Complete(ctx, byAssignee["bob"].ID, "bob", models.TaskActionApprove, "")
	require.NoError(t, err)
	assert.False(t, outcome.Final)

	outcome, err = manager.Complete(ctx, byAssignee["carol"].ID, "carol", models.TaskActionApprove, "")
	require.NoError(t, err)
	assert.True(t, outcome.Final)
	assert.Equal(t, models.TaskActionApprove, outcome.Verdict)
	assert.Equal(t, "approve", outcome.Route)
}

func TestComplete_DelegatedApproverCountsTowardConsensus(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, nil)

	// alice has delegated before the tasks are created, so her task lands on
	// dave. Dave's approval must still count as alice's toward the verdict.
	require.NoError(t, store.Delegations().Save(ctx, testutil.CreateTestDelegation("alice", "dave")))

	definition := testutil.CreateTestDefinition(testutil.WithUserTask("submitted", &models.UserTaskSpec{
		Title: "Approve purchase order",
		Policy: &models.ApprovalPolicy{
			Strategy:  approval.StrategyUnanimous,
			Approvers: []string{"alice", "bob"},
		},
		Routes: map[string]string{models.TaskActionApprove: "approve"},
	}))
	instance := seedWorkflow(t, store, definition, "submitted")

	state, _ := definition.StateByName("submitted")

	created, err := manager.CreateTasks(ctx, instance, state)
	require.NoError(t, err)
	require.Len(t, created, 2)

	byApprover := make(map[string]*models.Task, len(created))
	for _, task := range created {
		byApprover[task.ApproverID] = task
	}

	require.Contains(t, byApprover, "alice")
	assert.Equal(t, "dave", byApprover["alice"].AssignedUserID)

	outcome, err := manager.Complete(ctx, byApprover["alice"].ID, "dave", models.TaskActionApprove, "")
	require.NoError(t, err)
	assert.False(t, outcome.Final)

	outcome, err = manager.Complete(ctx, byApprover["bob"].ID, "bob", models.TaskActionApprove, "")
	require.NoError(t, err)
	assert.True(t, outcome.Final)
	assert.Equal(t, models.TaskActionApprove, outcome.Verdict)
	assert.Equal(t, "approve", outcome.Route)
}

func TestComplete_RejectionCancelsPendingSiblings(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, nil)

	definition := testutil.CreateTestDefinition(testutil.WithUserTask("submitted", &models.UserTaskSpec{
		Title: "Approve purchase order",
		Policy: &models.ApprovalPolicy{
			Strategy:  approval.StrategyUnanimous,
			Approvers: []string{"alice", "bob", "carol"},
		},
		Routes: map[string]string{models.TaskActionReject: "reject"},
	}))
	instance := seedWorkflow(t, store, definition, "submitted")

	state, _ := definition.StateByName("submitted")

	created, err := manager.CreateTasks(ctx, instance, state)
	require.NoError(t, err)

	byAssignee := make(map[string]*models.Task, len(created))
	for _, task := range created {
		byAssignee[task.AssignedUserID] = task
	}

	outcome, err := manager.Complete(ctx, byAssignee["bob"].ID, "bob", models.TaskActionReject, "over budget")
	require.NoError(t, err)
	assert.True(t, outcome.Final)
	assert.Equal(t, models.TaskActionReject, outcome.Verdict)
	assert.Equal(t, "reject", outcome.Route)

	// The remaining pending tasks are cancelled, not left dangling.
	siblings, err := store.Tasks().ListByState(ctx, instance.ID, "submitted")
	require.NoError(t, err)

	statuses := map[models.TaskStatus]int{}
	for _, task := range siblings {
		statuses[task.Status]++
	}

	assert.Equal(t, 1, statuses[models.TaskStatusCompleted])
	assert.Equal(t, 2, statuses[models.TaskStatusCancelled])
}

func TestCancelPendingForState(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, nil)

	pending := testutil.CreateTestTask()
	completed := testutil.CreateTestTask(func(task *models.Task) {
		task.WorkflowID = pending.WorkflowID
		task.Status = models.TaskStatusCompleted
	})

	require.NoError(t, store.Tasks().Save(ctx, pending))
	require.NoError(t, store.Tasks().Save(ctx, completed))

	require.NoError(t, manager.CancelPendingForState(ctx, pending.WorkflowID, "submitted", "state left"))

	reloaded, err := store.Tasks().GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, reloaded.Status)

	reloaded, err = store.Tasks().GetByID(ctx, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, reloaded.Status)
}
