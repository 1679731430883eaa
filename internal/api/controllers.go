package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"backtest-core/internal/backtest"
	"backtest-core/internal/engine"
	"backtest-core/internal/sweep"
	"backtest-core/pkg/i18n"

	"github.com/gin-gonic/gin"
)

// runRequest is the JSON body of POST /api/backtests. Omitted fields take
// the defaults of backtest.DefaultConfig.
type runRequest struct {
	Symbol          string   `json:"symbol" binding:"required"`
	Start           string   `json:"start"`
	End             string   `json:"end"`
	InitialCapital  *float64 `json:"initial_capital"`
	CommissionRate  *float64 `json:"commission_rate"`
	TradeQuantity   *int     `json:"trade_quantity"`
	MACDFast        *int     `json:"macd_fast"`
	MACDSlow        *int     `json:"macd_slow"`
	MACDSignal      *int     `json:"macd_signal"`
	RiskFreeRate    *float64 `json:"risk_free_rate"`
	Benchmark       string   `json:"benchmark"`
	MaxPositionSize float64  `json:"max_position_size"`
	StopLoss        *float64 `json:"stop_loss"`
	TakeProfit      *float64 `json:"take_profit"`
}

func (r runRequest) config() (backtest.Config, error) {
	start, err := parseDate("start", r.Start)
	if err != nil {
		return backtest.Config{}, err
	}
	end, err := parseDate("end", r.End)
	if err != nil {
		return backtest.Config{}, err
	}
	cfg := backtest.DefaultConfig(strings.TrimSpace(r.Symbol), start, end)
	setFloat(&cfg.InitialCapital, r.InitialCapital)
	setFloat(&cfg.CommissionRate, r.CommissionRate)
	setFloat(&cfg.RiskFreeRate, r.RiskFreeRate)
	setInt(&cfg.TradeQuantity, r.TradeQuantity)
	setInt(&cfg.MACDFast, r.MACDFast)
	setInt(&cfg.MACDSlow, r.MACDSlow)
	setInt(&cfg.MACDSignal, r.MACDSignal)
	cfg.Benchmark = strings.TrimSpace(r.Benchmark)
	cfg.MaxPositionSize = r.MaxPositionSize
	cfg.StopLoss, cfg.TakeProfit = r.StopLoss, r.TakeProfit
	return cfg, nil
}

func parseDate(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, errors.New(field + " must be YYYY-MM-DD")
	}
	return t, nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

type listRunsQuery struct {
	Symbol  string `form:"symbol"`
	SweepID string `form:"sweep_id"`
	Limit   int    `form:"limit"`
}

func (q *listRunsQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondServiceError maps service errors to status codes.
func respondServiceError(c *gin.Context, err error) {
	switch {
	// sources wrap their context errors in ErrDataUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "TIMEOUT", "request took too long to process")
	case errors.Is(err, context.Canceled):
		respondError(c, 499, "CANCELED", "request canceled")
	case errors.Is(err, backtest.ErrInvalidConfig):
		respondError(c, http.StatusBadRequest, "INVALID_CONFIG", err.Error())
	case errors.Is(err, backtest.ErrDataUnavailable):
		respondError(c, http.StatusUnprocessableEntity, "DATA_UNAVAILABLE", err.Error())
	case errors.Is(err, engine.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "backtest not found")
	case errors.Is(err, engine.ErrNoStore):
		respondError(c, http.StatusServiceUnavailable, "STORE_DISABLED", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}

// runBacktest runs one backtest synchronously and returns its summary, trade
// ledger and equity curve.
func (s *Server) runBacktest(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	cfg, err := req.config()
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	run, err := s.Engine.RunBacktest(c.Request.Context(), cfg)
	if run == nil {
		respondServiceError(c, err)
		return
	}
	if err != nil {
		s.Log.Warn("backtest not stored", "run_id", run.ID, "subject", CurrentSubject(c), "error", err)
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":           run.ID,
		"stored":       run.Stored,
		"summary":      run.Summary,
		"trades":       run.Result.Trades,
		"equity_curve": run.Result.EquityCurve,
		"duration":     run.Duration.String(),
	})
}

func (s *Server) listBacktests(c *gin.Context) {
	var q listRunsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize()
	runs, err := s.Engine.ListRuns(c.Request.Context(), engine.RunFilter{Symbol: q.Symbol, SweepID: q.SweepID, Limit: q.Limit})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if runs == nil {
		runs = []engine.RunInfo{}
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) getBacktest(c *gin.Context) {
	run, err := s.Engine.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) getEquity(c *gin.Context) {
	curve, err := s.Engine.Equity(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, curve)
}

// getReport renders the markdown report. ?lang=zh selects Chinese; the
// Accept-Language header is used otherwise.
func (s *Server) getReport(c *gin.Context) {
	lang := c.Query("lang")
	if lang == "" {
		lang = c.GetHeader("Accept-Language")
	}
	md, err := s.Engine.Report(c.Request.Context(), c.Param("id"), i18n.ParseLanguage(lang))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(md))
}

func (s *Server) deleteBacktest(c *gin.Context) {
	if err := s.Engine.DeleteRun(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// runSweep accepts a sweep definition and runs every expanded config.
// ?top=n trims the ranking.
func (s *Server) runSweep(c *gin.Context) {
	var def sweep.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := def.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	rep, err := s.Engine.RunSweep(c.Request.Context(), engine.SweepRequest{Name: def.Name, Configs: def.Expand()})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if top, err := strconv.Atoi(c.Query("top")); err == nil && top > 0 && top < len(rep.Ranking) {
		rep.Ranking = rep.Ranking[:top]
	}
	c.JSON(http.StatusOK, rep)
}
