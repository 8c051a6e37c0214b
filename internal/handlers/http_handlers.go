package handlers

import (
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cardlottery/internal/metrics"
	"cardlottery/internal/models"
	"cardlottery/internal/services"
	"cardlottery/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
)

// HTTPHandler holds the dependencies for the HTTP handlers, like the lottery service.
type HTTPHandler struct {
	service   *services.LotteryService
	jwtSecret []byte
}

// NewHTTPHandler creates a new HTTPHandler. An empty jwtSecret makes the
// identity middleware trust participant headers.
func NewHTTPHandler(service *services.LotteryService, jwtSecret []byte) *HTTPHandler {
	return &HTTPHandler{
		service:   service,
		jwtSecret: jwtSecret,
	}
}

// RegisterRoutes registers all the application routes.
func (h *HTTPHandler) RegisterRoutes(router *gin.Engine) {
	router.Use(metrics.Middleware())
	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	api.Use(IdentityMiddleware(h.jwtSecret))
	api.POST("/lotteries", h.CreateLottery)
	api.GET("/lotteries", h.ListLotteries)
	api.GET("/lotteries/:id", h.GetLottery)
	api.DELETE("/lotteries/:id", h.DeleteLottery)
	api.POST("/lotteries/:id/draw", h.PerformDraw)
	api.GET("/lotteries/:id/draws", h.ListDraws)
	api.GET("/lotteries/:id/draws/me", h.MyDraw)
	api.GET("/lotteries/:id/export.csv", h.ExportDrawsCSV)
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func abortWithError(c *gin.Context, status int, code, message string, retryable bool) {
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Code: code, Message: message, Retryable: retryable}})
}

// writeError maps service errors to responses. A lost slot race is
// retryable with another slot; finished or repeated participation is not.
func writeError(c *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		abortWithError(c, http.StatusBadRequest, "validation_error", verr.Error(), false)
	case errors.Is(err, services.ErrNotFound):
		abortWithError(c, http.StatusNotFound, "not_found", "lottery not found", false)
	case errors.Is(err, services.ErrInvalidSlot):
		abortWithError(c, http.StatusBadRequest, "invalid_slot", err.Error(), false)
	case errors.Is(err, services.ErrAlreadyClaimed):
		abortWithError(c, http.StatusConflict, "slot_taken", "this card was just drawn, choose another one", true)
	case errors.Is(err, services.ErrAlreadyParticipated):
		abortWithError(c, http.StatusConflict, "already_participated", "you have already drawn in this lottery", false)
	case errors.Is(err, services.ErrLotteryCompleted):
		abortWithError(c, http.StatusConflict, "lottery_completed", "all cards have been drawn", false)
	case errors.Is(err, services.ErrConflict):
		abortWithError(c, http.StatusServiceUnavailable, "conflict", "the lottery is busy, please try again", true)
	case errors.Is(err, services.ErrForbidden):
		abortWithError(c, http.StatusForbidden, "forbidden", err.Error(), false)
	case errors.Is(err, services.ErrNotCompleted):
		abortWithError(c, http.StatusConflict, "not_completed", "only completed lotteries can be deleted", false)
	default:
		logger.Errorf("Request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		abortWithError(c, http.StatusInternalServerError, "internal", "internal error", false)
	}
}

type slotView struct {
	Index     int             `json:"index"`
	Claimed   bool            `json:"claimed"`
	Kind      models.SlotKind `json:"kind,omitempty"`
	PrizeName string          `json:"prizeName,omitempty"`
	Nickname  string          `json:"nickname,omitempty"`
}

type lotteryView struct {
	ID          string               `json:"id"`
	CreatorID   string               `json:"creatorId"`
	CreatorName string               `json:"creatorName,omitempty"`
	Title       string               `json:"title"`
	TotalCount  int                  `json:"totalCount"`
	PrizeTiers  []models.PrizeTier   `json:"prizeTiers"`
	Status      models.LotteryStatus `json:"status"`
	models.Inventory
	Slots     []slotView `json:"slots,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// newLotteryView hides the outcome of unclaimed slots so their positions
// reveal nothing before they are drawn.
func newLotteryView(lot *models.Lottery, withSlots bool) lotteryView {
	v := lotteryView{
		ID:          lot.ID,
		CreatorID:   lot.CreatorID,
		CreatorName: lot.CreatorName,
		Title:       lot.Title,
		TotalCount:  lot.TotalCount,
		PrizeTiers:  lot.PrizeTiers,
		Status:      lot.Status,
		Inventory:   lot.Inventory,
		CreatedAt:   lot.CreatedAt,
		UpdatedAt:   lot.UpdatedAt,
	}
	if !withSlots {
		return v
	}
	v.Slots = make([]slotView, len(lot.Slots))
	for i, s := range lot.Slots {
		sv := slotView{Index: i, Claimed: s.Claimed}
		if s.Claimed {
			sv.Kind = s.Kind
			sv.PrizeName = s.PrizeName
			if s.ClaimedBy != nil {
				sv.Nickname = s.ClaimedBy.Nickname
			}
		}
		v.Slots[i] = sv
	}
	return v
}

// Health reports liveness.
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type tierRequest struct {
	Name  string `json:"name" binding:"required"`
	Count int    `json:"count" binding:"required,min=1"`
}

type createLotteryRequest struct {
	Title      string        `json:"title" binding:"required"`
	TotalCount int           `json:"totalCount" binding:"required,min=1"`
	PrizeTiers []tierRequest `json:"prizeTiers" binding:"required,min=1,dive"`
}

// CreateLottery opens a new lottery owned by the caller.
func (h *HTTPHandler) CreateLottery(c *gin.Context) {
	caller, ok := requireIdentity(c)
	if !ok {
		return
	}
	var req createLotteryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "validation_error", err.Error(), false)
		return
	}

	tiers := make([]models.PrizeTier, len(req.PrizeTiers))
	for i, t := range req.PrizeTiers {
		tiers[i] = models.PrizeTier{Name: t.Name, Count: t.Count}
	}
	lot, err := h.service.Create(c.Request.Context(), services.CreateLotteryInput{
		CreatorID:   caller.ID,
		CreatorName: caller.Name,
		Title:       req.Title,
		TotalCount:  req.TotalCount,
		PrizeTiers:  tiers,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newLotteryView(lot, true))
}

// ListLotteries lists lotteries, optionally by creator ("me" for the
// caller) and status.
func (h *HTTPHandler) ListLotteries(c *gin.Context) {
	filter := storage.LotteryFilter{CreatorID: c.Query("creator")}
	if filter.CreatorID == "me" {
		caller, ok := requireIdentity(c)
		if !ok {
			return
		}
		filter.CreatorID = caller.ID
	}
	switch status := c.Query("status"); status {
	case "":
	case string(models.StatusActive), string(models.StatusCompleted):
		filter.Status = models.LotteryStatus(status)
	default:
		abortWithError(c, http.StatusBadRequest, "validation_error", "status must be active or completed", false)
		return
	}

	lots, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	views := make([]lotteryView, len(lots))
	for i, lot := range lots {
		views[i] = newLotteryView(lot, false)
	}
	c.JSON(http.StatusOK, gin.H{"lotteries": views})
}

// GetLottery returns one lottery with its public slot view.
func (h *HTTPHandler) GetLottery(c *gin.Context) {
	lot, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newLotteryView(lot, true))
}

type drawRequest struct {
	SlotIndex *int   `json:"slotIndex" binding:"required"`
	Nickname  string `json:"nickname"`
}

// PerformDraw claims one slot for the caller.
func (h *HTTPHandler) PerformDraw(c *gin.Context) {
	caller, ok := requireIdentity(c)
	if !ok {
		return
	}
	var req drawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "validation_error", err.Error(), false)
		return
	}
	nickname := req.Nickname
	if nickname == "" {
		nickname = caller.Name
	}

	result, err := h.service.Draw(c.Request.Context(), c.Param("id"), caller.ID, nickname, *req.SlotIndex)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListDraws returns the draw history, newest first.
func (h *HTTPHandler) ListDraws(c *gin.Context) {
	filter := storage.DrawFilter{ParticipantID: c.Query("participant")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			abortWithError(c, http.StatusBadRequest, "validation_error", "limit must be a non-negative integer", false)
			return
		}
		filter.Limit = limit
	}
	records, err := h.service.History(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	if records == nil {
		records = []*models.DrawRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"draws": records})
}

// MyDraw tells the caller whether they already drew and what they got.
func (h *HTTPHandler) MyDraw(c *gin.Context) {
	caller, ok := requireIdentity(c)
	if !ok {
		return
	}
	records, err := h.service.History(c.Request.Context(), c.Param("id"), storage.DrawFilter{ParticipantID: caller.ID, Limit: 1})
	if err != nil {
		writeError(c, err)
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusOK, gin.H{"drawn": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"drawn": true, "draw": records[0]})
}

// ExportDrawsCSV handles the request to download the draw history as a CSV file.
func (h *HTTPHandler) ExportDrawsCSV(c *gin.Context) {
	lotteryID := c.Param("id")
	records, err := h.service.History(c.Request.Context(), lotteryID, storage.DrawFilter{})
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment;filename=draws_"+lotteryID+".csv")

	// Add BOM to ensure UTF-8 compatibility in Excel
	c.Writer.Write([]byte("\xef\xbb\xbf"))

	w := csv.NewWriter(c.Writer)
	if err := w.Write([]string{"drawn_at", "participant_id", "nickname", "slot_index", "outcome", "prize_name"}); err != nil {
		logger.Infof("Error writing CSV header: %v", err)
		c.String(http.StatusInternalServerError, "Error writing CSV")
		return
	}
	for _, r := range records {
		row := []string{
			r.DrawnAt.Format(time.RFC3339),
			r.ParticipantID,
			r.Nickname,
			strconv.Itoa(r.SlotIndex),
			string(r.Outcome),
			r.PrizeName,
		}
		if err := w.Write(row); err != nil {
			logger.Infof("Error writing CSV row: %v", err)
			c.String(http.StatusInternalServerError, "Error writing CSV")
			return
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		logger.Infof("Error flushing CSV writer: %v", err)
		c.String(http.StatusInternalServerError, "Error writing CSV")
	}
}

// DeleteLottery removes a completed lottery owned by the caller.
func (h *HTTPHandler) DeleteLottery(c *gin.Context) {
	caller, ok := requireIdentity(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), caller.ID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
