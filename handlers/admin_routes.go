// handlers/admin_routes.go
package handlers

import (
	"time"

	"rewards-ledger-system/middleware"
	"rewards-ledger-system/models"
	"rewards-ledger-system/services"

	"github.com/gofiber/fiber/v2"
)

// AdminHandler serves the admin console API.
type AdminHandler struct {
	Accounts    *services.AccountService
	Tasks       *services.TaskService
	Withdrawals *services.WithdrawalService
	Settings    *services.SettingsService
	Stats       *services.StatsService
	Events      *services.EventHub
}

// SetupAdminRoutes mounts /s/admin behind the given role.
func SetupAdminRoutes(r fiber.Router, h *AdminHandler, role string) {
	admin := r.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireRole(role))

	admin.Get("/stats", h.Summary)

	admin.Get("/accounts", h.ListAccounts)
	admin.Patch("/accounts/:id/ban", h.SetBanned)

	admin.Get("/withdrawals", h.ListWithdrawals)
	admin.Post("/withdrawals/:id/resolve", h.ResolveWithdrawal)

	admin.Get("/settings", h.GetSettings)
	admin.Put("/settings", h.UpdateSettings)

	admin.Get("/tasks", h.ListTasks)
	admin.Post("/tasks", h.CreateTask)
	admin.Patch("/tasks/:id", h.UpdateTask)
	admin.Delete("/tasks/:id", h.DeactivateTask)
}

func (h *AdminHandler) Summary(c *fiber.Ctx) error {
	st, err := h.Stats.Summary(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(st)
}

func (h *AdminHandler) ListAccounts(c *fiber.Ctx) error {
	q := services.AccountQuery{
		Search: c.Query("q"),
		Limit:  c.QueryInt("limit", 50),
		Offset: c.QueryInt("offset", 0),
	}
	if raw := c.Query("banned"); raw != "" {
		banned := c.QueryBool("banned")
		q.Banned = &banned
	}

	accounts, total, err := h.Accounts.List(c.UserContext(), q)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"accounts": accounts, "total": total})
}

func (h *AdminHandler) SetBanned(c *fiber.Ctx) error {
	var req struct {
		Banned *bool `json:"banned"`
	}
	if err := c.BodyParser(&req); err != nil || req.Banned == nil {
		return badRequest(c, "body must be {\"banned\": true|false}")
	}

	acct, err := h.Accounts.SetBanned(c.UserContext(), c.Params("id"), *req.Banned)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(acct)
}

func (h *AdminHandler) ListWithdrawals(c *fiber.Ctx) error {
	status := models.WithdrawalStatus(c.Query("status"))
	switch status {
	case "", models.WithdrawalPending, models.WithdrawalApproved, models.WithdrawalRejected:
	default:
		return badRequest(c, "status must be pending, approved or rejected")
	}

	list, err := h.Withdrawals.List(c.UserContext(), status, c.QueryInt("limit", 100))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"withdrawals": list})
}

func (h *AdminHandler) ResolveWithdrawal(c *fiber.Ctx) error {
	var req struct {
		Decision string `json:"decision"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	decision, ok := services.ParseDecision(req.Decision)
	if !ok {
		return writeError(c, services.ErrInvalidDecision)
	}

	w, err := h.Withdrawals.Resolve(c.UserContext(), c.Params("id"), decision, middleware.UserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(w)
}

func (h *AdminHandler) GetSettings(c *fiber.Ctx) error {
	settings, err := h.Settings.Snapshot(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(settings)
}

func (h *AdminHandler) UpdateSettings(c *fiber.Ctx) error {
	var patch services.SettingsPatch
	if err := c.BodyParser(&patch); err != nil {
		return badRequest(c, "invalid request body")
	}

	settings, err := h.Settings.Update(c.UserContext(), patch)
	if err != nil {
		return writeError(c, err)
	}
	h.Events.Publish(services.LedgerEvent{
		Type:   services.EventSettingsChanged,
		Status: "updated",
		At:     time.Now().UTC(),
	})
	return c.JSON(settings)
}

func (h *AdminHandler) ListTasks(c *fiber.Ctx) error {
	tasks, err := h.Tasks.List(c.UserContext(), c.QueryBool("active", false))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"tasks": tasks})
}

func (h *AdminHandler) CreateTask(c *fiber.Ctx) error {
	var in services.TaskInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	task, err := h.Tasks.Create(c.UserContext(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(task)
}

func (h *AdminHandler) UpdateTask(c *fiber.Ctx) error {
	var patch services.TaskPatch
	if err := c.BodyParser(&patch); err != nil {
		return badRequest(c, "invalid request body")
	}
	task, err := h.Tasks.Update(c.UserContext(), c.Params("id"), patch)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(task)
}

func (h *AdminHandler) DeactivateTask(c *fiber.Ctx) error {
	if err := h.Tasks.Deactivate(c.UserContext(), c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
