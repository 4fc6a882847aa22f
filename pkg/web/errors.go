package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/dukex/flowstate/pkg/delegation"
	"github.com/dukex/flowstate/pkg/engine"
	"github.com/dukex/flowstate/pkg/persistence"
	"github.com/dukex/flowstate/pkg/tasks"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

// handleEngineError maps every engine error category to a problem+json
// response carrying its stable code.
func handleEngineError(c fiber.Ctx, err error) error {
	if code := engine.Code(err); code != "" {
		return engineProblem(c, code, err)
	}

	var (
		unauthorized *tasks.UnauthorizedError
		tooDeep      *delegation.ChainTooDeepError
	)

	switch {
	case errors.As(err, &unauthorized):
		problem := problems.NewStatusProblem(403).
			WithInstance(c.Path()).
			WithType("task_unauthorized").
			WithDetail(err.Error())

		return c.Status(fiber.StatusForbidden).JSON(problem)

	case errors.Is(err, tasks.ErrTaskAlreadyResolved):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("task_already_resolved").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.As(err, &tooDeep):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("delegation_chain_too_deep").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case persistence.IsDefinitionNotFound(err):
		return notFound(c, "definition not found")

	case persistence.IsInstanceNotFound(err):
		return notFound(c, "workflow not found")

	case persistence.IsTaskNotFound(err):
		return notFound(c, "task not found")

	case persistence.IsDelegationNotFound(err):
		return notFound(c, "delegation not found")

	default:
		// Log-worthy internals never leak details to the caller.
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}

func engineProblem(c fiber.Ctx, code string, err error) error {
	status := fiber.StatusConflict

	switch code {
	case engine.CodeInvalidData:
		status = fiber.StatusBadRequest
	case engine.CodeTransitionNotFound:
		status = fiber.StatusNotFound
	case engine.CodeGuardNotSatisfied, engine.CodeInvalidTransition:
		status = fiber.StatusUnprocessableEntity
	case engine.CodeWorkflowLocked:
		status = fiber.StatusLocked
	case engine.CodeActivityFailed:
		status = fiber.StatusInternalServerError
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(code).
		WithDetail(err.Error())

	return c.Status(status).JSON(problem)
}
