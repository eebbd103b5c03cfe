package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/conveyorhq/conveyor/pkg/interpreter"
	"github.com/conveyorhq/conveyor/pkg/store"
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

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleExecutionError maps store and interpreter errors onto problem
// responses.
func handleExecutionError(c fiber.Ctx, err error) error {
	switch {
	case store.IsNotFound(err):
		return notFound(c, "execution not found")
	case store.IsVersionConflict(err):
		return conflict(c, "execution changed concurrently, retry")
	case errors.Is(err, interpreter.ErrUnknownWorkflow):
		return badRequest(c, err.Error())
	default:
		return internalError(c, err)
	}
}
