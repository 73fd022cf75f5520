package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"polybot/internal/ledger"
	"polybot/internal/risk"
	"polybot/internal/trade"

	"github.com/gin-gonic/gin"
)

const (
	defaultTradeLimit = 100
	maxTradeLimit     = 500
)

type Router struct {
	ledger *ledger.Ledger
	gate   *risk.Gate
}

func NewRouter(l *ledger.Ledger, g *risk.Gate) *Router {
	return &Router{ledger: l, gate: g}
}

// Register 将 /api 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/portfolio", r.handlePortfolio)
	group.GET("/dashboard", r.handleDashboard)
	group.GET("/trades", r.handleTrades)
	group.GET("/trades/:id", r.handleTradeByID)
	group.GET("/snapshots", r.handleSnapshots)
	group.GET("/risk", r.handleRisk)
	group.POST("/risk/halt", r.handleHalt)
	group.POST("/risk/resume", r.handleResume)
}

type riskResponse struct {
	State  risk.State  `json:"state"`
	Limits risk.Limits `json:"limits"`
}

type haltRequest struct {
	Reason string `json:"reason"`
	By     string `json:"by"`
}

func (r *Router) handlePortfolio(c *gin.Context) {
	st := r.ledger.Stats(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"portfolio_value": st.PortfolioValue,
		"initial_capital": r.ledger.InitialCapital(),
		"total_pnl":       st.TotalPnL,
		"daily_pnl":       st.DailyPnL,
		"deployed":        st.Deployed,
		"cash":            st.Cash,
		"win_rate":        st.WinRate,
		"trade_count":     st.TradeCount,
		"open_count":      st.OpenCount,
		"live_balances":   st.LiveBalances,
	})
}

func (r *Router) handleDashboard(c *gin.Context) {
	d, err := r.ledger.Dashboard(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (r *Router) handleTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultTradeLimit)))
	if limit <= 0 {
		limit = defaultTradeLimit
	}
	if limit > maxTradeLimit {
		limit = maxTradeLimit
	}
	f := trade.Filter{
		Status:   trade.Status(strings.ToLower(strings.TrimSpace(c.Query("status")))),
		Strategy: strings.TrimSpace(c.Query("strategy")),
		MarketID: strings.TrimSpace(c.Query("market_id")),
		Limit:    limit,
	}
	if f.Status != "" && f.Status != trade.StatusOpen && !f.Status.Terminal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + string(f.Status)})
		return
	}
	since, err := parseSince(c.Query("since"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f.Since = since
	rows, err := r.ledger.Trades(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": ledger.Views(rows), "count": len(rows)})
}

func (r *Router) handleTradeByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trade id"})
		return
	}
	t, err := r.ledger.Get(c.Request.Context(), id)
	if errors.Is(err, ledger.ErrTradeNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ledger.Views([]trade.Trade{*t})[0])
}

func (r *Router) handleSnapshots(c *gin.Context) {
	since, err := parseSince(c.Query("since"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snaps, err := r.ledger.Snapshots(c.Request.Context(), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (r *Router) handleRisk(c *gin.Context) {
	c.JSON(http.StatusOK, riskResponse{State: r.gate.State(), Limits: r.gate.Limits()})
}

func (r *Router) handleHalt(c *gin.Context) {
	var req haltRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	by := strings.TrimSpace(req.By)
	if by == "" {
		by = "http"
	}
	// 状态已在内存中切换，持久化失败只影响重启后的恢复
	if err := r.gate.EmergencyHalt(c.Request.Context(), strings.TrimSpace(req.Reason), by); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "state": r.gate.State()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": r.gate.State()})
}

func (r *Router) handleResume(c *gin.Context) {
	var req haltRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	by := strings.TrimSpace(req.By)
	if by == "" {
		by = "http"
	}
	if err := r.gate.Resume(c.Request.Context(), by); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "state": r.gate.State()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": r.gate.State()})
}

// parseSince 接受 RFC3339 时间或 "24h" 这样的回看时长。
func parseSince(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return time.Time{}, &badQueryError{field: "since", value: raw}
	}
	return time.Now().Add(-d), nil
}

type badQueryError struct{ field, value string }

func (e *badQueryError) Error() string { return "invalid " + e.field + ": " + e.value }
