package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/tuvi/internal/bot"
)

// ChatHandler maps requester actions onto the bot.
type ChatHandler struct {
	Bot *bot.Bot
}

// Response is what every chat endpoint returns.
type Response struct {
	RequesterID int64       `json:"requester_id"`
	Events      []bot.Event `json:"events"`
}

func (h *ChatHandler) Register(g *echo.Group) {
	r := g.Group("/requesters/:rid")
	r.POST("/start", h.start)
	r.POST("/cancel", h.cancel)
	r.GET("/help", h.help)
	r.POST("/date", h.date)
	r.POST("/choice", h.choice)
	r.POST("/analysis", h.analysis)
	r.GET("/analysis/:section", h.section)
	r.GET("/history", h.history)
	r.GET("/charts/:id", h.viewChart)
	r.DELETE("/charts/:id", h.deleteChart)

	g.GET("/stats", h.stats, RequireScope(ScopeAdmin))
}

func requesterID(c echo.Context) (int64, error) {
	return positiveParam(c.Param("rid"), "requester id")
}

func positiveParam(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+what)
	}
	return id, nil
}

// run executes one bot call against a fresh recorder and writes the events.
func (h *ChatHandler) run(c echo.Context, fn func(n bot.Notifier, rid int64)) error {
	rid, err := requesterID(c)
	if err != nil {
		return err
	}
	rec := &bot.Recorder{}
	fn(rec, rid)
	return c.JSON(http.StatusOK, Response{RequesterID: rid, Events: rec.Events()})
}

func (h *ChatHandler) start(c echo.Context) error {
	var req struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Username  string `json:"username"`
	}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return h.run(c, func(n bot.Notifier, rid int64) {
		h.Bot.Start(c.Request().Context(), n, bot.Profile{
			RequesterID: rid,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			Username:    req.Username,
		})
	})
}

func (h *ChatHandler) cancel(c echo.Context) error {
	return h.run(c, func(n bot.Notifier, rid int64) {
		h.Bot.Cancel(c.Request().Context(), n, rid)
	})
}

func (h *ChatHandler) help(c echo.Context) error {
	return h.run(c, func(n bot.Notifier, _ int64) {
		h.Bot.Help(n)
	})
}

func (h *ChatHandler) date(c echo.Context) error {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.run(c, func(n bot.Notifier, rid int64) {
		h.Bot.SubmitDateText(c.Request().Context(), n, rid, req.Text)
	})
}

func (h *ChatHandler) choice(c echo.Context) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token required")
	}
	return h.run(c, func(n bot.Notifier, rid int64) {
		h.Bot.SubmitChoice(c.Request().Context(), n, rid, req.Token)
	})
}

func (h *ChatHandler) analysis(c echo.Context) error {
	return h.run(c, func(n bot.Notifier, rid int64) {
		h.Bot.RequestAnalysis(c.Request().Context(), n, rid)
	})
}

func (h *ChatHandler) section(c echo.Context) error {
	key := c.Param("section")
	return h.run(c, func(n bot.Notifier, rid int64) {
		h.Bot.RequestSection(c.Request().Context(), n, rid, key)
	})
}

func (h *ChatHandler) history(c echo.Context) error {
	return h.run(c, func(n bot.Notifier, rid int64) {
		h.Bot.History(c.Request().Context(), n, rid)
	})
}

func (h *ChatHandler) viewChart(c echo.Context) error {
	id, err := positiveParam(c.Param("id"), "chart id")
	if err != nil {
		return err
	}
	return h.run(c, func(n bot.Notifier, rid int64) {
		h.Bot.ViewChart(c.Request().Context(), n, rid, id)
	})
}

func (h *ChatHandler) deleteChart(c echo.Context) error {
	id, err := positiveParam(c.Param("id"), "chart id")
	if err != nil {
		return err
	}
	return h.run(c, func(n bot.Notifier, rid int64) {
		h.Bot.DeleteChart(c.Request().Context(), n, rid, id)
	})
}

// stats takes the requester from the query; the bot still checks it against
// the configured admin ids.
func (h *ChatHandler) stats(c echo.Context) error {
	rid, err := positiveParam(c.QueryParam("requester_id"), "requester id")
	if err != nil {
		return err
	}
	rec := &bot.Recorder{}
	h.Bot.Stats(c.Request().Context(), rec, rid)
	return c.JSON(http.StatusOK, Response{RequesterID: rid, Events: rec.Events()})
}
