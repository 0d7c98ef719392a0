// Package httpapi is the thin transport spec.md §6 describes: every
// handler is a direct pass-through to a store/chain/chainvalidator
// call, translating apperr codes to HTTP statuses and nothing more —
// no business logic lives here.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ibx/engine/internal/chain"
	"github.com/ibx/engine/internal/chainvalidator"
	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/modules/config"
	"github.com/ibx/engine/internal/store"
	"github.com/ibx/engine/pkg/apperr"
	"github.com/ibx/engine/pkg/logger"
)

var validate = validator.New()

type Server struct {
	store  store.Store
	chain  *chain.Activator
	limits config.LimitsConfig
}

func NewServer(st store.Store, ch *chain.Activator, cfg *config.Config) *Server {
	return &Server{store: st, chain: ch, limits: cfg.Limits}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	strategies := r.Group("/strategies")
	strategies.POST("", s.create)
	strategies.GET("", s.list)
	strategies.GET("/:id", s.get)
	strategies.DELETE("/:id", s.delete)
	strategies.PATCH("/:id/basic", s.patchBasic)
	strategies.PUT("/:id/conditions", s.putConditions)
	strategies.PUT("/:id/action", s.putAction)
	strategies.POST("/:id/activate", s.activate)
	strategies.POST("/:id/pause", s.pause)
	strategies.POST("/:id/resume", s.resume)
	strategies.POST("/:id/cancel", s.cancel)
	strategies.GET("/:id/events", s.events)

	return r
}

// createRequest mirrors the strategy-creation surface spec.md §3
// names: trade_type/condition_logic pin the owned-symbol pairing
// constraints, conditions/action are optional at creation time.
type createRequest struct {
	IdempotencyKey         string                  `json:"idempotency_key"`
	Market                 string                  `json:"market" validate:"required"`
	SecType                string                  `json:"sec_type" validate:"required,oneof=STK FUT"`
	Exchange               string                  `json:"exchange" validate:"required"`
	Currency               string                  `json:"currency" validate:"required"`
	TradeType              models.TradeType        `json:"trade_type" validate:"required"`
	ConditionLogic         models.ConditionLogic   `json:"condition_logic" validate:"required,oneof=AND OR"`
	UpstreamOnlyActivation bool                    `json:"upstream_only_activation"`
	NextStrategyID         *string                 `json:"next_strategy_id"`
	ExpireMode             models.ExpireMode       `json:"expire_mode" validate:"required,oneof=relative absolute"`
	ExpireInSeconds        *int                    `json:"expire_in_seconds"`
	ExpireAt               *time.Time              `json:"expire_at"`
	Symbols                []symbolRequest         `json:"symbols" validate:"required,min=1,dive"`
}

type symbolRequest struct {
	Symbol    string                 `json:"symbol" validate:"required"`
	TradeType models.SymbolTradeType `json:"trade_type" validate:"required"`
}

func (s *Server) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := chainvalidator.ValidateSecTypeTradeType(req.SecType, req.TradeType); err != nil {
		writeErr(c, err)
		return
	}
	if err := chainvalidator.ValidateExpiry(req.ExpireMode, req.ExpireInSeconds, req.ExpireAt); err != nil {
		writeErr(c, err)
		return
	}

	symbols := make([]models.StrategySymbol, 0, len(req.Symbols))
	for i, sym := range req.Symbols {
		symbols = append(symbols, models.StrategySymbol{Position: i, Symbol: sym.Symbol, TradeType: sym.TradeType})
	}
	if err := chainvalidator.ValidateSymbolTradeTypes(req.TradeType, symbols); err != nil {
		writeErr(c, err)
		return
	}

	id := uuid.New().String()
	if err := chainvalidator.ValidateNoCycle(c.Request.Context(), s.store, id, req.NextStrategyID); err != nil {
		writeErr(c, err)
		return
	}

	detail := models.StrategyDetail{
		Strategy: models.Strategy{
			ID:                     id,
			Market:                 req.Market,
			SecType:                req.SecType,
			Exchange:               req.Exchange,
			Currency:               req.Currency,
			TradeType:              req.TradeType,
			ConditionLogic:         req.ConditionLogic,
			UpstreamOnlyActivation: req.UpstreamOnlyActivation,
			NextStrategyID:         req.NextStrategyID,
			ExpireMode:             req.ExpireMode,
			ExpireInSeconds:        req.ExpireInSeconds,
			ExpireAt:               req.ExpireAt,
			Status:                 models.StatusPendingActivation,
		},
		Symbols: symbols,
	}
	if req.IdempotencyKey != "" {
		detail.Strategy.IdempotencyKey = &req.IdempotencyKey
	}

	created, isNew, err := s.store.Create(c.Request.Context(), detail)
	if err != nil {
		writeErr(c, err)
		return
	}
	status := http.StatusCreated
	if !isNew {
		status = http.StatusOK
	}
	c.JSON(status, created)
}

func (s *Server) get(c *gin.Context) {
	detail, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) list(c *gin.Context) {
	filter := store.ListFilter{
		Status:  models.StrategyStatus(c.Query("status")),
		SecType: c.Query("sec_type"),
		Symbol:  c.Query("symbol"),
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil {
		filter.Offset = offset
	}
	details, err := s.store.List(c.Request.Context(), filter)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (s *Server) delete(c *gin.Context) {
	version, err := strconv.Atoi(c.Query("version"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version query param required"})
		return
	}
	if err := s.store.SoftDelete(c.Request.Context(), c.Param("id"), version); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type patchBasicRequest struct {
	Version        int        `json:"version" validate:"required"`
	NextStrategyID *string    `json:"next_strategy_id"`
	ExpireAt       *time.Time `json:"expire_at"`
}

func (s *Server) patchBasic(c *gin.Context) {
	var req patchBasicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	if err := chainvalidator.ValidateNoCycle(c.Request.Context(), s.store, id, req.NextStrategyID); err != nil {
		writeErr(c, err)
		return
	}
	err := s.store.PatchBasic(c.Request.Context(), id, req.Version, func(strat *models.Strategy) {
		if req.NextStrategyID != nil {
			strat.NextStrategyID = req.NextStrategyID
		}
		if req.ExpireAt != nil {
			strat.ExpireAt = req.ExpireAt
		}
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type putConditionsRequest struct {
	Version    int                `json:"version" validate:"required"`
	Conditions []models.Condition `json:"conditions" validate:"required,dive"`
}

func (s *Server) putConditions(c *gin.Context) {
	var req putConditionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	detail, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	if err := chainvalidator.ValidateConditions(req.Conditions, detail.Symbols, s.limits.MaxConditionsPerStrategy); err != nil {
		writeErr(c, err)
		return
	}
	if err := s.store.PutConditions(c.Request.Context(), c.Param("id"), req.Version, req.Conditions); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type putActionRequest struct {
	Version        int              `json:"version" validate:"required"`
	OrderType      string           `json:"order_type" validate:"required,oneof=MKT LMT"`
	LimitPrice     *decimal.Decimal `json:"limit_price"`
	Quantity       decimal.Decimal  `json:"quantity" validate:"required"`
	AllowOvernight bool             `json:"allow_overnight"`
	CancelOnExpiry bool             `json:"cancel_on_expiry"`
	FutRollTarget  *string          `json:"fut_roll_target"`
}

func (s *Server) putAction(c *gin.Context) {
	var req putActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	action := &models.TradeAction{
		StrategyID:     c.Param("id"),
		OrderType:      req.OrderType,
		LimitPrice:     req.LimitPrice,
		Quantity:       req.Quantity,
		AllowOvernight: req.AllowOvernight,
		CancelOnExpiry: req.CancelOnExpiry,
		FutRollTarget:  req.FutRollTarget,
	}
	if err := chainvalidator.ValidateAction(action); err != nil {
		writeErr(c, err)
		return
	}
	if err := s.store.PutActions(c.Request.Context(), c.Param("id"), req.Version, action); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) activate(c *gin.Context) {
	if err := s.chain.Activate(c.Request.Context(), c.Param("id"), time.Now().UTC()); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) pause(c *gin.Context) {
	s.simpleTransition(c, models.StatusActive, models.StatusPaused, "PAUSED")
}

func (s *Server) resume(c *gin.Context) {
	s.simpleTransition(c, models.StatusPaused, models.StatusActive, "RESUMED")
}

func (s *Server) cancel(c *gin.Context) {
	detail, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	if !store.EligibleForCancel(detail.Strategy.Status) {
		if detail.Strategy.Status.Terminal() {
			c.Status(http.StatusNoContent)
			return
		}
		writeErr(c, apperr.New(apperr.CodeInvalidTransition, "strategy cannot be cancelled from its current status"))
		return
	}
	if err := s.store.Transition(c.Request.Context(), store.TransitionRequest{
		StrategyID:      detail.Strategy.ID,
		From:            detail.Strategy.Status,
		To:              models.StatusCancelled,
		ExpectedVersion: detail.Strategy.Version,
		EventType:       "CANCELLED",
		EventDetail:     "cancelled by request",
	}); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) simpleTransition(c *gin.Context, from, to models.StrategyStatus, eventType string) {
	detail, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	if err := s.store.Transition(c.Request.Context(), store.TransitionRequest{
		StrategyID:      detail.Strategy.ID,
		From:            from,
		To:              to,
		ExpectedVersion: detail.Strategy.Version,
		EventType:       eventType,
	}); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) events(c *gin.Context) {
	limit := 100
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	events, err := s.store.ListEvents(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func writeErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeInvalidArgument, apperr.CodeCycleDetected:
		status = http.StatusBadRequest
	case apperr.CodeConflict, apperr.CodeVersionMismatch, apperr.CodeInvalidTransition:
		status = http.StatusConflict
	case apperr.CodeLeaseHeld:
		status = http.StatusLocked
	case apperr.CodeGatewayUnavailable:
		status = http.StatusBadGateway
	case apperr.CodeNotImplemented:
		status = http.StatusNotImplemented
	}
	if status == http.StatusInternalServerError {
		logger.Error("httpapi internal error: %v", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
