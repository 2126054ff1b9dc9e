package web

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/heraldkit/herald/pkg/ledger"
	"github.com/heraldkit/herald/pkg/services"
)

type APIHandlers struct {
	schedules  *services.Schedule
	workflows  *services.Workflow
	triggers   *services.Trigger
	execLedger ledger.Ledger
	validate   *validator.Validate
}

func NewAPIHandlers(
	schedules *services.Schedule,
	workflows *services.Workflow,
	triggers *services.Trigger,
	execLedger ledger.Ledger,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		schedules:  schedules,
		workflows:  workflows,
		triggers:   triggers,
		execLedger: execLedger,
		validate:   validate,
	}
}

func (h *APIHandlers) GetSchedules(c fiber.Ctx) error {
	schedules, err := h.schedules.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"schedules": schedules, "total_count": len(schedules)})
}

func (h *APIHandlers) GetSchedule(c fiber.Ctx) error {
	schedule, err := h.schedules.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) CreateSchedule(c fiber.Ctx) error {
	var req CreateScheduleRequest

	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	schedule, err := h.schedules.Create(c.Context(), req.ToModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(schedule)
}

func (h *APIHandlers) ActivateSchedule(c fiber.Ctx) error {
	var req ActivateScheduleRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&req); err != nil {
			return badRequest(c, "Invalid request body: "+err.Error())
		}
	}

	schedule, err := h.schedules.Activate(c.Context(), c.Params("id"), req.FireAt)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) PauseSchedule(c fiber.Ctx) error {
	schedule, err := h.schedules.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) ResumeSchedule(c fiber.Ctx) error {
	schedule, err := h.schedules.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) CancelSchedule(c fiber.Ctx) error {
	schedule, err := h.schedules.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflows.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows, "total_count": len(workflows)})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	wf, err := h.workflows.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	wf, err := h.workflows.Create(c.Context(), c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(wf)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	wf, err := h.workflows.Activate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) ArchiveWorkflow(c fiber.Ctx) error {
	wf, err := h.workflows.Archive(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.workflows.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SubmitTriggerEvent(c fiber.Ctx) error {
	var req SubmitTriggerEventRequest

	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.triggers.Submit(c.Context(), req.ToModel()); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) GetRunSummary(c fiber.Ctx) error {
	summary, err := h.execLedger.Summarize(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(summary)
}

func (h *APIHandlers) GetRunHistory(c fiber.Ctx) error {
	limit := 50
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return badRequest(c, "Invalid limit")
		}

		limit = parsed
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil || parsed < 0 {
			return badRequest(c, "Invalid offset")
		}

		offset = parsed
	}

	page, err := h.execLedger.History(c.Context(), c.Params("id"), limit, offset)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(page)
}
