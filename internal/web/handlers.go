// internal/web/handlers.go - Status API handlers
package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dwmon/internal/database"
	"dwmon/internal/monitoring"
)

// CheckerSummary is one row of GET /api/checkers.
type CheckerSummary struct {
	Name         string                  `json:"name"`
	Source       string                  `json:"source"`
	Requirements []string                `json:"requirements"`
	Valid        bool                    `json:"valid"`
	Error        string                  `json:"error,omitempty"`
	Latest       *monitoring.CheckResult `json:"latest,omitempty"`
	Stats        *database.CheckerStats  `json:"stats,omitempty"`
}

// CheckerDetail adds the checker's query and audit history.
type CheckerDetail struct {
	CheckerSummary
	Query        string                   `json:"query"`
	Extra        map[string]any           `json:"extra"`
	RecentChecks []database.CheckAudit    `json:"recent_checks"`
	Results      []monitoring.CheckResult `json:"results"`
}

func (s *Server) healthCheck(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	if _, err := s.store.GetDatabaseStats(c.Request.Context()); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	resp := gin.H{
		"status":    status,
		"timestamp": time.Now(),
		"version":   Version,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.scheduler != nil {
		if pass := s.scheduler.LastPass(); pass != nil {
			resp["last_pass"] = pass.StartedAt
		}
	}
	c.JSON(code, resp)
}

func (s *Server) getStats(c *gin.Context) {
	dbStats, err := s.store.GetDatabaseStats(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Error("Failed to get database stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get database stats"})
		return
	}

	counts := map[string]int{
		monitoring.StatusGood: 0,
		monitoring.StatusBad:  0,
	}
	for _, r := range s.engine.RecentResults(0) {
		counts[r.Status]++
	}

	data := gin.H{
		"database": dbStats,
		"results":  counts,
		"clients":  s.hub.Clients(),
	}
	if s.scheduler != nil {
		data["interval"] = s.scheduler.Interval().String()
		if pass := s.scheduler.LastPass(); pass != nil {
			data["last_pass"] = gin.H{
				"started_at": pass.StartedAt,
				"duration":   pass.Duration.String(),
				"checkers":   pass.Checkers,
				"results":    len(pass.Results),
				"bad":        pass.BadCount(),
				"failures":   pass.Failures,
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// GET /api/results?checker=&status=&limit=
func (s *Server) getResults(c *gin.Context) {
	limit, err := intQuery(c, "limit", 50)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}
	checker := c.Query("checker")
	status := strings.ToUpper(c.Query("status"))

	results := make([]monitoring.CheckResult, 0)
	for _, r := range s.engine.RecentResults(0) {
		if checker != "" && r.CheckerName != checker {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		results = append(results, r)
		if limit > 0 && len(results) == limit {
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  results,
		"count": len(results),
	})
}

func (s *Server) getCheckers(c *gin.Context) {
	names, err := s.engine.CheckerNames()
	if err != nil {
		logrus.WithError(err).Error("Failed to list checkers")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	checkers := make([]CheckerSummary, 0, len(names))
	for _, name := range names {
		checkers = append(checkers, s.summarize(c, name))
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  checkers,
		"count": len(checkers),
	})
}

func (s *Server) getChecker(c *gin.Context) {
	name := c.Param("name")
	if !s.knownChecker(c, name) {
		return
	}

	detail := CheckerDetail{CheckerSummary: s.summarize(c, name)}
	if parsed, err := s.engine.LoadChecker(name); err == nil {
		detail.Query = parsed.Config.Query
		detail.Extra = parsed.Config.Extra
	}

	limit, err := intQuery(c, "limit", 20)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	checks, err := s.store.GetRecentChecks(c.Request.Context(), name, limit)
	if err != nil {
		logrus.WithError(err).WithField("checker", name).Error("Failed to get recent checks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get recent checks"})
		return
	}
	detail.RecentChecks = checks

	detail.Results = make([]monitoring.CheckResult, 0)
	for _, r := range s.engine.RecentResults(0) {
		if r.CheckerName == name {
			detail.Results = append(detail.Results, r)
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": detail})
}

// POST /api/checkers/:name/check runs the checker now.
func (s *Server) checkNow(c *gin.Context) {
	name := c.Param("name")
	if !s.knownChecker(c, name) {
		return
	}

	results, err := s.engine.CheckChecker(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": err.Error(),
			"data":  results,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  results,
		"count": len(results),
	})
}

func (s *Server) summarize(c *gin.Context, name string) CheckerSummary {
	summary := CheckerSummary{Name: name, Requirements: []string{}}

	parsed, err := s.engine.LoadChecker(name)
	if err != nil {
		summary.Error = err.Error()
	} else {
		summary.Valid = true
		summary.Source = parsed.Config.Source
		summary.Requirements = parsed.Config.Requirements
	}

	if latest, ok := s.engine.LatestResult(name); ok {
		summary.Latest = &latest
	}

	stats, err := s.store.GetCheckerStats(c.Request.Context(), name)
	if err != nil {
		logrus.WithError(err).WithField("checker", name).Warn("Failed to get checker stats")
	} else {
		summary.Stats = stats
	}
	return summary
}

// knownChecker writes a 404 and returns false when name is not discovered.
func (s *Server) knownChecker(c *gin.Context, name string) bool {
	names, err := s.engine.CheckerNames()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return false
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Checker not found"})
	return false
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
