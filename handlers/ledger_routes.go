// handlers/ledger_routes.go
package handlers

import (
	"rewards-ledger-system/middleware"
	"rewards-ledger-system/models"
	"rewards-ledger-system/services"

	"github.com/gofiber/fiber/v2"
)

// LedgerHandler serves the user-facing ledger API.
type LedgerHandler struct {
	Accounts    *services.AccountService
	Ledger      *services.LedgerService
	Tasks       *services.TaskService
	Withdrawals *services.WithdrawalService
	Journal     *services.JournalService
	Settings    *services.SettingsService
	Events      *services.EventHub
}

// SetupLedgerRoutes mounts the user routes on r. r must already carry
// gateway auth; user context is applied here.
func SetupLedgerRoutes(r fiber.Router, h *LedgerHandler) {
	secured := r.Group("/s", middleware.UserContextMiddleware())

	secured.Post("/me", h.Register)
	secured.Get("/me", h.Me)
	secured.Get("/ledger", h.History)

	secured.Post("/claims/daily", h.ClaimDaily)
	secured.Post("/claims/ad", h.ClaimAd)

	secured.Get("/tasks", h.ListTasks)
	secured.Post("/tasks/:id/complete", h.CompleteTask)

	secured.Post("/withdrawals", h.RequestWithdrawal)
	secured.Get("/withdrawals", h.ListWithdrawals)

	secured.Get("/referrals", h.ListReferrals)
	secured.Get("/stream", h.Stream)
}

// account resolves the caller's account from the gateway identity.
func (h *LedgerHandler) account(c *fiber.Ctx) (models.Account, error) {
	return h.Accounts.GetByExternalID(c.UserContext(), middleware.UserID(c))
}

func (h *LedgerHandler) Register(c *fiber.Ctx) error {
	var in services.Identity
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	in.ExternalID = middleware.UserID(c)

	acct, created, err := h.Accounts.Register(c.UserContext(), in)
	if err != nil {
		return writeError(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"account": acct, "created": created})
}

func (h *LedgerHandler) Me(c *fiber.Ctx) error {
	acct, err := h.account(c)
	if err != nil {
		return writeError(c, err)
	}
	settings, err := h.Settings.Snapshot(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}

	resp := fiber.Map{"account": acct, "settings": settings}
	if acct.LastDailyClaimAt != nil {
		resp["next_daily_claim_at"] = acct.LastDailyClaimAt.Add(services.DailyClaimInterval)
	}
	if acct.LastAdClaimAt != nil {
		resp["next_ad_claim_at"] = acct.LastAdClaimAt.Add(settings.AdCooldown())
	}
	return c.JSON(resp)
}

func (h *LedgerHandler) History(c *fiber.Ctx) error {
	acct, err := h.account(c)
	if err != nil {
		return writeError(c, err)
	}
	entries, err := h.Journal.History(c.UserContext(), acct.ID, c.QueryInt("limit", 50))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"entries": entries, "balance": acct.Balance})
}

func (h *LedgerHandler) ClaimDaily(c *fiber.Ctx) error {
	acct, err := h.account(c)
	if err != nil {
		return writeError(c, err)
	}
	res, err := h.Ledger.ClaimDaily(c.UserContext(), acct.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

func (h *LedgerHandler) ClaimAd(c *fiber.Ctx) error {
	var req struct {
		AdOutcome string `json:"ad_outcome"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	acct, err := h.account(c)
	if err != nil {
		return writeError(c, err)
	}
	res, err := h.Ledger.ClaimAd(c.UserContext(), acct.ID, services.ParseAdOutcome(req.AdOutcome))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

func (h *LedgerHandler) ListTasks(c *fiber.Ctx) error {
	acct, err := h.account(c)
	if err != nil {
		return writeError(c, err)
	}
	tasks, err := h.Tasks.ListForAccount(c.UserContext(), acct.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"tasks": tasks})
}

func (h *LedgerHandler) CompleteTask(c *fiber.Ctx) error {
	acct, err := h.account(c)
	if err != nil {
		return writeError(c, err)
	}
	res, err := h.Ledger.CompleteTask(c.UserContext(), acct.ID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

func (h *LedgerHandler) RequestWithdrawal(c *fiber.Ctx) error {
	var in services.WithdrawalInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}

	acct, err := h.account(c)
	if err != nil {
		return writeError(c, err)
	}
	res, err := h.Withdrawals.Request(c.UserContext(), acct.ID, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"request_id":  res.Request.ID,
		"request":     res.Request,
		"new_balance": res.NewBalance,
	})
}

func (h *LedgerHandler) ListWithdrawals(c *fiber.Ctx) error {
	acct, err := h.account(c)
	if err != nil {
		return writeError(c, err)
	}
	list, err := h.Withdrawals.ListForAccount(c.UserContext(), acct.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"withdrawals": list})
}

func (h *LedgerHandler) ListReferrals(c *fiber.Ctx) error {
	acct, err := h.account(c)
	if err != nil {
		return writeError(c, err)
	}
	refs, err := h.Accounts.Referrals(c.UserContext(), acct.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"referral_code": acct.ReferralCode,
		"count":         len(refs),
		"referrals":     refs,
	})
}
