package web

import "github.com/gofiber/fiber/v3"

// Register mounts every admin route on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	schedules := app.Group("/schedules")
	schedules.Get("/", h.GetSchedules)
	schedules.Post("/", h.CreateSchedule)
	schedules.Get("/:id", h.GetSchedule)
	schedules.Post("/:id/activate", h.ActivateSchedule)
	schedules.Post("/:id/pause", h.PauseSchedule)
	schedules.Post("/:id/resume", h.ResumeSchedule)
	schedules.Post("/:id/cancel", h.CancelSchedule)

	workflows := app.Group("/workflows")
	workflows.Get("/", h.GetWorkflows)
	workflows.Post("/", h.CreateWorkflow)
	workflows.Get("/:id", h.GetWorkflow)
	workflows.Post("/:id/activate", h.ActivateWorkflow)
	workflows.Post("/:id/archive", h.ArchiveWorkflow)
	workflows.Delete("/:id", h.DeleteWorkflow)

	app.Post("/events", h.SubmitTriggerEvent)

	runs := app.Group("/runs")
	runs.Get("/:id/summary", h.GetRunSummary)
	runs.Get("/:id/records", h.GetRunHistory)
}
