package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/cora-hq/cora/internal/chat"
	"github.com/cora-hq/cora/internal/middleware"
	"github.com/cora-hq/cora/internal/models"
	"github.com/cora-hq/cora/internal/service"
)

// HeaderAnonymousID identifies anonymous visitors for flag bucketing.
const HeaderAnonymousID = "X-Anonymous-Id"

const maxAnonymousIDLength = 128

// ChatFlag gates the sales chat.
const ChatFlag = "cora_chat"

func userID(c echo.Context) string {
	return middleware.GetUserID(c.Request().Context())
}

func client(c echo.Context) service.Client {
	return service.Client{UserAgent: c.Request().UserAgent(), IP: c.RealIP()}
}

// subject identifies the caller for flag evaluation: the user ID when
// authenticated, otherwise the anonymous ID header or the client IP.
func subject(c echo.Context) string {
	if id := userID(c); id != "" {
		return id
	}
	if anon := strings.TrimSpace(c.Request().Header.Get(HeaderAnonymousID)); anon != "" && len(anon) <= maxAnonymousIDLength {
		return "anon:" + anon
	}
	return "ip:" + c.RealIP()
}

// queryInt parses an optional integer query parameter.
func queryInt(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be an integer")
	}
	return n, nil
}

type userResponse struct {
	User *models.User `json:"user"`
}

func (s *Server) handleRegister(c echo.Context) error {
	var req service.RegisterInput
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.deps.Auth.Register(c.Request().Context(), req, client(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req service.LoginInput
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.deps.Auth.Login(c.Request().Context(), req, client(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleLogout(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.deps.Auth.Logout(ctx, userID(c), middleware.GetSessionID(ctx)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMe(c echo.Context) error {
	user, err := s.deps.Auth.CurrentUser(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userResponse{User: user})
}

func (s *Server) handleCreateExpense(c echo.Context) error {
	var req service.ExpenseInput
	if err := bind(c, &req); err != nil {
		return err
	}
	expense, err := s.deps.Expenses.Create(c.Request().Context(), userID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, expense)
}

func (s *Server) handleListExpenses(c echo.Context) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return err
	}
	expenses, err := s.deps.Expenses.List(c.Request().Context(), userID(c), service.ListParams{
		Category: c.QueryParam("category"),
		From:     c.QueryParam("from"),
		To:       c.QueryParam("to"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"expenses": expenses})
}

func (s *Server) handleGetExpense(c echo.Context) error {
	expense, err := s.deps.Expenses.Get(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, expense)
}

func (s *Server) handleUpdateExpense(c echo.Context) error {
	var req service.ExpenseInput
	if err := bind(c, &req); err != nil {
		return err
	}
	expense, err := s.deps.Expenses.Update(c.Request().Context(), userID(c), c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, expense)
}

func (s *Server) handleDeleteExpense(c echo.Context) error {
	if err := s.deps.Expenses.Delete(c.Request().Context(), userID(c), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSummary(c echo.Context) error {
	summary, err := s.deps.Expenses.Summary(c.Request().Context(), userID(c),
		c.QueryParam("from"), c.QueryParam("to"), c.QueryParam("currency"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleReceipt(c echo.Context) error {
	var req service.ReceiptInput
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.deps.Expenses.SplitReceipt(c.Request().Context(), userID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) handleCategories(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"categories": s.deps.Expenses.Categories()})
}

func (s *Server) handleChecklist(c echo.Context) error {
	items, err := s.deps.Onboarding.Checklist(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleCompleteStep(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.deps.Onboarding.Complete(ctx, userID(c), c.Param("step")); err != nil {
		return err
	}
	items, err := s.deps.Onboarding.Checklist(ctx, userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleProgress(c echo.Context) error {
	progress, err := s.deps.Onboarding.Progress(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, progress)
}

type profileRequest struct {
	BusinessName string `json:"business_name"`
}

func (s *Server) handleProfile(c echo.Context) error {
	var req profileRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	user, err := s.deps.Onboarding.UpdateProfile(c.Request().Context(), userID(c), req.BusinessName)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userResponse{User: user})
}

func (s *Server) handleFeedback(c echo.Context) error {
	var req service.FeedbackInput
	if err := bind(c, &req); err != nil {
		return err
	}
	entry, err := s.deps.Onboarding.SubmitFeedback(c.Request().Context(), userID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, entry)
}

func (s *Server) handleReferralSummary(c echo.Context) error {
	summary, err := s.deps.Referrals.Summary(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

type inviteRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleInvite(c echo.Context) error {
	var req inviteRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	invite, created, err := s.deps.Referrals.Invite(c.Request().Context(), userID(c), req.Email)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, invite)
}

func (s *Server) handleInvites(c echo.Context) error {
	invites, err := s.deps.Referrals.Invites(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"invites": invites})
}

type waitlistResponse struct {
	Position int  `json:"position"`
	Created  bool `json:"created"`
}

func (s *Server) handleJoinWaitlist(c echo.Context) error {
	var req service.WaitlistInput
	if err := bind(c, &req); err != nil {
		return err
	}
	position, created, err := s.deps.Waitlist.Join(c.Request().Context(), req)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, waitlistResponse{Position: position, Created: created})
}

func (s *Server) handleWaitlistCount(c echo.Context) error {
	count, err := s.deps.Waitlist.Count(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"count": count})
}

func (s *Server) handleFlags(c echo.Context) error {
	values, err := s.deps.Flags.Evaluate(c.Request().Context(), subject(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"flags": values})
}

func (s *Server) handleAdminListFlags(c echo.Context) error {
	flags, err := s.deps.Flags.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"flags": flags})
}

func (s *Server) handleAdminUpsertFlag(c echo.Context) error {
	var req service.FlagInput
	if err := bind(c, &req); err != nil {
		return err
	}
	flag, err := s.deps.Flags.Upsert(c.Request().Context(), userID(c), c.Param("name"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, flag)
}

func (s *Server) handleAudit(c echo.Context) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	entries, err := s.deps.Audit.List(c.Request().Context(), userID(c), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleChat(c echo.Context) error {
	var req chat.Request
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if !s.deps.Flags.Enabled(ctx, ChatFlag, subject(c), true) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "chat is currently unavailable")
	}

	resp, err := s.deps.Chat.Handle(ctx, req, userID(c) == "")
	if err != nil {
		return err
	}
	s.deps.Metrics.ChatMessage(resp.Intent)
	return c.JSON(http.StatusOK, resp)
}
