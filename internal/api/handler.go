// Package api exposes the looper registry over HTTP
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mrcode/loop-caregiver/internal/cache"
	"github.com/mrcode/loop-caregiver/internal/models"
	"github.com/mrcode/loop-caregiver/internal/override"
	"github.com/mrcode/loop-caregiver/internal/remotedata"
	"github.com/mrcode/loop-caregiver/internal/schedule"
	"github.com/mrcode/loop-caregiver/internal/timeline"
)

const (
	// DefaultCarbAbsorption applies when a carb request names none
	DefaultCarbAbsorption = 3 * time.Hour
	maxTimelineEntries    = 24 * 60
	maxTargetWindow       = 31 * 24 * time.Hour
)

// Registry is the set of loopers the API serves
type Registry interface {
	timeline.Registry
	Loopers() []models.Looper
	Manager(looperID string) (*remotedata.Manager, bool)
}

// SnapshotReader reads snapshots mirrored by another process
type SnapshotReader interface {
	Get(ctx context.Context, looperID string) (*remotedata.Snapshot, error)
}

// --- Request Structs ---
type BolusRequest struct {
	Units float64 `json:"units" binding:"required,gt=0"`
}

type CarbsRequest struct {
	Grams             float64    `json:"grams" binding:"required,gt=0"`
	AbsorptionMinutes float64    `json:"absorptionMinutes" binding:"gte=0"`
	ConsumedAt        *time.Time `json:"consumedAt,omitempty"`
}

type OverrideRequest struct {
	Name            string  `json:"name" binding:"required"`
	DurationMinutes float64 `json:"durationMinutes" binding:"gte=0"`
}

type ActivationRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// OverrideResponse is the running override with its computed end
type OverrideResponse struct {
	*override.Active
	EndDate          *time.Time `json:"endDate,omitempty"`
	RemainingSeconds *float64   `json:"remainingSeconds,omitempty"`
}

type Handler struct {
	registry  Registry
	timelines *timeline.Generator
	cache     SnapshotReader
	now       func() time.Time
	logger    *zap.Logger
}

// NewHandler creates the API handlers. snapshots may be nil when no cache is
// configured.
func NewHandler(registry Registry, timelines *timeline.Generator, snapshots SnapshotReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry:  registry,
		timelines: timelines,
		cache:     snapshots,
		now:       time.Now,
		logger:    logger,
	}
}

func (h *Handler) manager(c *gin.Context) (*remotedata.Manager, bool) {
	id := c.Param("id")
	m, ok := h.registry.Manager(id)
	if !ok {
		handleError(c, h.logger, fmt.Errorf("%w: %s", timeline.ErrLooperNotFound, id), http.StatusNotFound, "Unknown looper")
		return nil, false
	}
	return m, true
}

// --- Handlers ---
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) ListLoopers(c *gin.Context) {
	loopers := h.registry.Loopers()
	handleSuccess(c, http.StatusOK, loopers, map[string]any{"count": len(loopers)})
}

// GetSnapshot returns the in-memory snapshot, or the cached one with
// ?source=cache
func (h *Handler) GetSnapshot(c *gin.Context) {
	m, ok := h.manager(c)
	if !ok {
		return
	}

	if c.Query("source") != "cache" {
		snapshot := m.CurrentSnapshot()
		handleSuccess(c, http.StatusOK, snapshot, map[string]any{"version": snapshot.Version, "source": "memory"})
		return
	}

	if h.cache == nil {
		handleError(c, h.logger, errors.New("no cache configured"), http.StatusServiceUnavailable, "Snapshot cache unavailable")
		return
	}
	snapshot, err := h.cache.Get(c.Request.Context(), m.LooperID())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, cache.ErrCacheMiss) {
			status = http.StatusNotFound
		}
		handleError(c, h.logger, err, status, "Failed to read cached snapshot")
		return
	}
	handleSuccess(c, http.StatusOK, snapshot, map[string]any{"version": snapshot.Version, "source": "cache"})
}

func (h *Handler) Synchronize(c *gin.Context) {
	m, ok := h.manager(c)
	if !ok {
		return
	}

	result, err := m.Synchronize(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, err, http.StatusBadGateway, "Synchronization failed")
		return
	}

	feedErrors := []string{}
	for _, feedErr := range multierr.Errors(result.FeedErrors) {
		feedErrors = append(feedErrors, feedErr.Error())
	}
	handleSuccess(c, http.StatusOK, result.Snapshot, map[string]any{
		"changed":    result.Changed,
		"feedErrors": feedErrors,
	})
}

func (h *Handler) GetTimeline(c *gin.Context) {
	if _, ok := h.manager(c); !ok {
		return
	}

	count := 0
	if raw := c.Query("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxTimelineEntries {
			if err == nil {
				err = fmt.Errorf("count must be between 1 and %d", maxTimelineEntries)
			}
			handleError(c, h.logger, err, http.StatusBadRequest, "Invalid count")
			return
		}
		count = parsed
	}

	var result timeline.Timeline
	if count > 0 {
		result = h.timelines.TimelineWithCount(c.Request.Context(), c.Param("id"), count)
	} else {
		result = h.timelines.Timeline(c.Request.Context(), c.Param("id"))
	}
	handleSuccess(c, http.StatusOK, result, nil)
}

func (h *Handler) GetOverride(c *gin.Context) {
	m, ok := h.manager(c)
	if !ok {
		return
	}

	active, err := m.FetchActiveOverride(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, err, http.StatusBadGateway, "Failed to fetch override")
		return
	}
	if active == nil {
		handleSuccess(c, http.StatusOK, nil, map[string]any{"active": false})
		return
	}

	response := OverrideResponse{Active: active}
	if end, ok := active.EndDate(); ok {
		response.EndDate = &end
	}
	if remaining, ok := active.Remaining(h.now()); ok {
		seconds := remaining.Seconds()
		response.RemainingSeconds = &seconds
	}
	handleSuccess(c, http.StatusOK, response, map[string]any{"active": true})
}

// GetTargets expands the profile's target schedule over ?from=&to= (RFC3339).
// The window defaults to the current day in the profile's timezone.
func (h *Handler) GetTargets(c *gin.Context) {
	m, ok := h.manager(c)
	if !ok {
		return
	}

	profile := m.CurrentSnapshot().CurrentProfile
	if profile == nil {
		handleError(c, h.logger, errors.New("no profile synchronized"), http.StatusNotFound, "Targets unavailable")
		return
	}
	loc := profile.Location()

	window, err := h.targetWindow(c, loc)
	if err != nil {
		handleError(c, h.logger, err, http.StatusBadRequest, "Invalid window")
		return
	}

	targets := profile.TargetSchedule()
	items := make([]schedule.Item[models.TargetRange], 0, len(targets))
	for _, item := range targets {
		items = append(items, schedule.Item[models.TargetRange]{Offset: item.Offset, Value: item.Range})
	}

	spans := schedule.Expand(items, window, loc)
	if spans == nil {
		spans = []schedule.Span[models.TargetRange]{}
	}
	handleSuccess(c, http.StatusOK, spans, map[string]any{
		"timezone": loc.String(),
		"from":     window.Start,
		"to":       window.End,
	})
}

func (h *Handler) targetWindow(c *gin.Context, loc *time.Location) (schedule.Range, error) {
	now := h.now().In(loc)
	window := schedule.Range{Start: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)}

	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return schedule.Range{}, fmt.Errorf("from: %w", err)
		}
		window.Start = from
	}
	window.End = window.Start.AddDate(0, 0, 1)
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return schedule.Range{}, fmt.Errorf("to: %w", err)
		}
		window.End = to
	}

	if window.IsEmpty() {
		return schedule.Range{}, errors.New("to must be after from")
	}
	if window.Duration() > maxTargetWindow {
		return schedule.Range{}, fmt.Errorf("window longer than %s", maxTargetWindow)
	}
	return window, nil
}

func (h *Handler) runCommand(c *gin.Context, action models.ActionType, send func(ctx context.Context, m *remotedata.Manager) error) {
	m, ok := h.manager(c)
	if !ok {
		return
	}
	if err := send(c.Request.Context(), m); err != nil {
		handleError(c, h.logger, err, http.StatusBadGateway, "Command failed")
		return
	}
	handleSuccess(c, http.StatusAccepted, gin.H{"action": action}, nil)
}

func (h *Handler) bind(c *gin.Context, body interface{}) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		handleError(c, h.logger, err, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

func (h *Handler) PostBolus(c *gin.Context) {
	var body BolusRequest
	if !h.bind(c, &body) {
		return
	}
	h.runCommand(c, models.ActionBolus, func(ctx context.Context, m *remotedata.Manager) error {
		return m.DeliverBolus(ctx, body.Units)
	})
}

func (h *Handler) PostCarbs(c *gin.Context) {
	var body CarbsRequest
	if !h.bind(c, &body) {
		return
	}

	absorption := DefaultCarbAbsorption
	if body.AbsorptionMinutes > 0 {
		absorption = time.Duration(body.AbsorptionMinutes * float64(time.Minute))
	}
	consumedAt := h.now()
	if body.ConsumedAt != nil {
		consumedAt = *body.ConsumedAt
	}

	h.runCommand(c, models.ActionCarbs, func(ctx context.Context, m *remotedata.Manager) error {
		return m.DeliverCarbs(ctx, body.Grams, absorption, consumedAt)
	})
}

func (h *Handler) PostOverride(c *gin.Context) {
	var body OverrideRequest
	if !h.bind(c, &body) {
		return
	}
	duration := time.Duration(body.DurationMinutes * float64(time.Minute))
	h.runCommand(c, models.ActionOverride, func(ctx context.Context, m *remotedata.Manager) error {
		return m.StartOverride(ctx, body.Name, duration)
	})
}

func (h *Handler) PostCancelOverride(c *gin.Context) {
	h.runCommand(c, models.ActionCancelOverride, func(ctx context.Context, m *remotedata.Manager) error {
		return m.CancelOverride(ctx)
	})
}

func (h *Handler) PostAutobolus(c *gin.Context) {
	var body ActivationRequest
	if !h.bind(c, &body) {
		return
	}
	h.runCommand(c, models.ActionAutobolus, func(ctx context.Context, m *remotedata.Manager) error {
		return m.ActivateAutobolus(ctx, *body.Active)
	})
}

func (h *Handler) PostClosedLoop(c *gin.Context) {
	var body ActivationRequest
	if !h.bind(c, &body) {
		return
	}
	h.runCommand(c, models.ActionClosedLoop, func(ctx context.Context, m *remotedata.Manager) error {
		return m.ActivateClosedLoop(ctx, *body.Active)
	})
}

func (h *Handler) DeleteCommands(c *gin.Context) {
	m, ok := h.manager(c)
	if !ok {
		return
	}
	if err := m.DeleteAllCommands(c.Request.Context()); err != nil {
		handleError(c, h.logger, err, http.StatusBadGateway, "Failed to delete commands")
		return
	}
	c.Status(http.StatusNoContent)
}
