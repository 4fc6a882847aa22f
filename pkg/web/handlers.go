package web

import (
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/flowstate/pkg/engine"
	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
	"github.com/dukex/flowstate/pkg/tasks"
)

type APIHandlers struct {
	persistence persistence.Persistence
	engine      *engine.Engine
	tasks       *tasks.Manager
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	persistence persistence.Persistence,
	workflowEngine *engine.Engine,
	taskManager *tasks.Manager,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		persistence: persistence,
		engine:      workflowEngine,
		tasks:       taskManager,
		validator:   validator,
		logger:      logger.With("module", "web"),
	}
}

func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	var req CreateDefinitionRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	now := time.Now().UTC()
	definition := &models.WorkflowDefinition{
		ID:          models.NewID(),
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		IsActive:    true,
		Schema:      req.Schema,
		States:      req.States,
		Transitions: req.Transitions,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := definition.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.Definitions().Save(c.Context(), definition); err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(definition)
}

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	definitions, err := h.persistence.Definitions().GetAll(c.Context())
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(definitions)
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	definition, err := h.persistence.Definitions().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(definition)
}

// DeactivateDefinition stops new instances from starting; running instances
// keep their pinned version.
func (h *APIHandlers) DeactivateDefinition(c fiber.Ctx) error {
	if err := h.persistence.Definitions().SetActive(c.Context(), c.Params("id"), false); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) StartWorkflow(c fiber.Ctx) error {
	var req StartWorkflowRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition, err := h.persistence.Definitions().GetByID(c.Context(), req.DefinitionID)
	if err != nil {
		return handleEngineError(c, err)
	}

	instance, err := h.engine.Start(c.Context(), definition, req.SubjectType, req.SubjectID, req.Data)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	instance, err := h.persistence.Instances().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetAvailableTransitions(c fiber.Ctx) error {
	transitions, err := h.engine.AvailableTransitions(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(transitions)
}

func (h *APIHandlers) ApplyTransition(c fiber.Ctx) error {
	var req TransitionRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	instance, err := h.engine.Transition(c.Context(), c.Params("id"), c.Params("name"), req.ActorID, req.Comment, req.Data)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) UnlockWorkflow(c fiber.Ctx) error {
	if err := h.engine.Unlock(c.Context(), c.Params("id")); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetWorkflowHistory(c fiber.Ctx) error {
	entries, err := h.persistence.History().ListByWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(entries)
}

func (h *APIHandlers) GetTasks(c fiber.Ctx) error {
	if c.Query("overdue") == "true" {
		overdue, err := h.tasks.FindOverdue(c.Context(), time.Now().UTC())
		if err != nil {
			return handleEngineError(c, err)
		}

		return c.JSON(overdue)
	}

	assignee := c.Query("assignee")
	if assignee == "" {
		return badRequest(c, "Query parameter 'assignee' or 'overdue=true' is required")
	}

	list, err := h.persistence.Tasks().ListByAssignee(c.Context(), assignee)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(list)
}

// CompleteTask records the actor's action and, when the verdict routes a
// transition, drives the workflow forward in the same request.
func (h *APIHandlers) CompleteTask(c fiber.Ctx) error {
	var req CompleteTaskRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	outcome, err := h.tasks.Complete(c.Context(), c.Params("id"), req.ActorID, req.Action, req.Comment)
	if err != nil {
		return handleEngineError(c, err)
	}

	response := CompleteTaskResponse{
		Task:    outcome.Task,
		Final:   outcome.Final,
		Verdict: outcome.Verdict,
	}

	if outcome.Final && outcome.Route != "" {
		instance, err := h.engine.Transition(c.Context(), outcome.Task.WorkflowID, outcome.Route, req.ActorID, req.Comment, nil)
		if err != nil {
			return handleEngineError(c, err)
		}

		response.Workflow = instance
	}

	return c.JSON(response)
}

func (h *APIHandlers) CreateDelegation(c fiber.Ctx) error {
	var req CreateDelegationRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	delegation := &models.Delegation{
		ID:          models.NewID(),
		DelegatorID: req.DelegatorID,
		DelegateeID: req.DelegateeID,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.persistence.Delegations().Save(c.Context(), delegation); err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(delegation)
}

func (h *APIHandlers) GetDelegations(c fiber.Ctx) error {
	user := c.Query("user")
	if user == "" {
		return badRequest(c, "Query parameter 'user' is required")
	}

	list, err := h.persistence.Delegations().ListForUser(c.Context(), user)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(list)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "healthy"})
}
