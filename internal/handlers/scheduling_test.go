package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/csrnotify/internal/models"
	"github.com/charlesng35/csrnotify/internal/services"
)

func schedulingRouter(t *testing.T, env *testEnv) *gin.Engine {
	t.Helper()
	handler, err := NewSchedulingHandler(env.engine, SchedulingOptions{
		DefaultHorizon: 72 * time.Hour,
		Now:            func() time.Time { return baseTime },
	})
	require.NoError(t, err)

	r := newRouter(adminClaims())
	r.GET("/api/scheduling/stats", handler.Stats)
	r.POST("/api/scheduling/process-due", handler.ProcessDue)
	r.POST("/api/scheduling/generate", handler.Generate)
	r.POST("/api/series/:scheduleID/deactivate", handler.DeactivateSeries)
	return r
}

func TestSchedulingHandlerStatsAndProcessDue(t *testing.T) {
	env := newTestEnv(t)
	due := env.seed(t, models.Notification{
		RecipientID:  "donor-1",
		Status:       models.StatusScheduled,
		ScheduledFor: ptr(baseTime.Add(-time.Minute)),
	})
	env.seed(t, models.Notification{
		RecipientID:  "donor-1",
		Status:       models.StatusScheduled,
		ScheduledFor: ptr(baseTime.Add(30 * time.Minute)),
	})
	r := schedulingRouter(t, env)

	rec := perform(t, r, http.MethodGet, "/api/scheduling/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats services.SchedulingStats
	decode(t, rec, &stats)
	require.EqualValues(t, 1, stats.DueNow)
	require.EqualValues(t, 1, stats.DueNextHour)

	rec = perform(t, r, http.MethodPost, "/api/scheduling/process-due?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result services.ProcessResult
	decode(t, rec, &result)
	require.Equal(t, 1, result.Processed)
	require.Equal(t, []string{due.ID}, result.ProcessedIDs)
	require.Equal(t, []string{due.ID}, env.dispatcher.sentIDs())
}

func TestSchedulingHandlerProcessDueRejectsBadLimit(t *testing.T) {
	env := newTestEnv(t)
	rec := perform(t, schedulingRouter(t, env), http.MethodPost, "/api/scheduling/process-due?limit=0", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchedulingHandlerGenerateAndDeactivate(t *testing.T) {
	env := newTestEnv(t)
	template, err := env.engine.Notifications.Create(context.Background(), services.CreateNotificationInput{
		RecipientID:  "donor-1",
		Title:        "Monthly impact report",
		Type:         "impact_report",
		Channel:      models.ChannelEmail,
		ScheduledFor: ptr(baseTime.Add(time.Hour)),
		Recurrence: &models.RecurrenceConfig{
			Frequency:      models.FrequencyDays,
			Interval:       1,
			MaxOccurrences: 3,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, template.ScheduleID)
	r := schedulingRouter(t, env)

	// default horizon of three days fits two daily occurrences after the template
	rec := perform(t, r, http.MethodPost, "/api/scheduling/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report services.GenerationReport
	decode(t, rec, &report)
	require.Equal(t, 2, report.Generated)
	require.Len(t, report.InstanceIDs, 2)

	rec = perform(t, r, http.MethodPost, "/api/scheduling/generate", map[string]any{
		"horizon": baseTime.Add(72 * time.Hour),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	report = services.GenerationReport{}
	decode(t, rec, &report)
	require.Zero(t, report.Generated)

	rec = perform(t, r, http.MethodPost, "/api/series/"+*template.ScheduleID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		ScheduleID string `json:"schedule_id"`
		Cancelled  int64  `json:"cancelled"`
	}
	decode(t, rec, &body)
	require.Equal(t, *template.ScheduleID, body.ScheduleID)
	require.EqualValues(t, 3, body.Cancelled)

	rec = perform(t, r, http.MethodPost, "/api/series/unknown/deactivate", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
