package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"spot-trading-engine/internal/auth"
	"spot-trading-engine/internal/autopilot"
	"spot-trading-engine/internal/risk"
)

const maxTradePeriod = 90 * 24 * time.Hour

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.deps.Health))
	healthy := true
	for name, checker := range s.deps.Health {
		if checker == nil {
			continue
		}
		if err := checker.HealthCheck(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":    state,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"checks":    checks,
		"ws_client": s.hub.ClientCount(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.deps.Controller == nil {
		errorResponse(c, http.StatusServiceUnavailable, "engine not running")
		return
	}
	successResponse(c, s.deps.Controller.Status())
}

func (s *Server) handlePositions(c *gin.Context) {
	if s.deps.Book == nil {
		errorResponse(c, http.StatusServiceUnavailable, "engine not running")
		return
	}
	positions := s.deps.Book.Positions()
	successResponse(c, gin.H{
		"positions": positions,
		"count":     len(positions),
		"balance":   s.deps.Book.Balance(),
	})
}

func (s *Server) handlePending(c *gin.Context) {
	if s.deps.Book == nil {
		errorResponse(c, http.StatusServiceUnavailable, "engine not running")
		return
	}
	pending := s.deps.Book.Pending()
	successResponse(c, gin.H{"orders": pending, "count": len(pending)})
}

func (s *Server) handleBlocked(c *gin.Context) {
	if s.deps.Book == nil {
		errorResponse(c, http.StatusServiceUnavailable, "engine not running")
		return
	}
	successResponse(c, s.deps.Book.Blocked())
}

func (s *Server) handleProtection(c *gin.Context) {
	data := gin.H{}
	if s.deps.Protection != nil {
		data["protection"] = s.deps.Protection.Status()
	}
	if s.deps.Breaker != nil {
		data["circuit_breaker"] = s.deps.Breaker.Stats()
	}
	successResponse(c, data)
}

func (s *Server) handleScan(c *gin.Context) {
	if s.deps.Scanner == nil {
		errorResponse(c, http.StatusServiceUnavailable, "scanner not configured")
		return
	}
	report := s.deps.Scanner.LastReport()
	if report == nil {
		errorResponse(c, http.StatusNotFound, "no scan completed yet")
		return
	}
	successResponse(c, report)
}

func (s *Server) handleDailyStats(c *gin.Context) {
	if s.deps.Trades == nil {
		errorResponse(c, http.StatusServiceUnavailable, "trade journal not configured")
		return
	}
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	stats, err := s.deps.Trades.GetDailyStats(c.Request.Context(), dayStart)
	if err != nil {
		s.logger.Error("Failed to load daily stats", "error", err)
		errorResponse(c, http.StatusInternalServerError, "failed to load daily stats")
		return
	}
	successResponse(c, gin.H{
		"stats":    stats,
		"win_rate": stats.WinRate(),
	})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.deps.Trades == nil {
		errorResponse(c, http.StatusServiceUnavailable, "trade journal not configured")
		return
	}
	period, err := parsePeriod(c.DefaultQuery("period", "24h"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := s.deps.Trades.GetTradesSince(c.Request.Context(), time.Now().Add(-period))
	if err != nil {
		s.logger.Error("Failed to load trades", "error", err)
		errorResponse(c, http.StatusInternalServerError, "failed to load trades")
		return
	}
	successResponse(c, gin.H{"trades": trades, "count": len(trades), "period": period.String()})
}

func (s *Server) handleClosePosition(c *gin.Context) {
	if s.deps.Book == nil {
		errorResponse(c, http.StatusServiceUnavailable, "engine not running")
		return
	}
	symbol := strings.ToUpper(c.Param("symbol"))

	operator := "api"
	if claims := auth.GetClaims(c); claims != nil && claims.Subject != "" {
		operator = claims.Subject
	}

	err := s.deps.Book.ClosePosition(c.Request.Context(), symbol, risk.ReasonManual)
	switch {
	case errors.Is(err, autopilot.ErrNotFound):
		errorResponse(c, http.StatusNotFound, fmt.Sprintf("no open position for %s", symbol))
		return
	case err != nil:
		s.logger.Error("Manual close failed", "symbol", symbol, "operator", operator, "error", err)
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}
	s.logger.Info("Position closed manually", "symbol", symbol, "operator", operator)
	successResponse(c, gin.H{"symbol": symbol, "closed": true})
}

// parsePeriod accepts Go durations plus a whole-day suffix, e.g. "7d"
func parsePeriod(raw string) (time.Duration, error) {
	var d time.Duration
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid period %q", raw)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		if d, err = time.ParseDuration(raw); err != nil {
			return 0, fmt.Errorf("invalid period %q", raw)
		}
	}
	if d <= 0 || d > maxTradePeriod {
		return 0, fmt.Errorf("period must be between 1s and 90d")
	}
	return d, nil
}
