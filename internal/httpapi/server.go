// Package httpapi serves the inventory service over HTTP with gin.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

// Run serves router on cfg.ListenAddr until ctx is cancelled.
func Run(ctx context.Context, cfg Config, router http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownGrace)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("http shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter wires every route onto a gin engine.
func NewRouter(cfg Config, service *inventory.Service, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{logger: logger, service: service, cfg: cfg}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/events/:event/availability", handler.handleAvailability)
	api.POST("/checkout/validate", handler.handleValidate)
	api.POST("/reservations", handler.handleReserve)
	api.POST("/reservations/:id/commit", handler.handleCommit)
	api.DELETE("/reservations/:id", handler.handleRelease)
	api.POST("/purchases", handler.handlePurchase)
	api.POST("/refunds", handler.handleRefund)

	admin := api.Group("/admin")
	admin.Use(requireAdmin([]byte(cfg.AdminJWTKey)))
	admin.GET("/status", handler.handleStatusAll)
	admin.GET("/events/:event/status", handler.handleStatus)
	admin.POST("/expansions", handler.handleExpand)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	service *inventory.Service
	cfg     Config
}

type quantityRequest struct {
	EventID  string `json:"event_id"`
	Tier     string `json:"tier"`
	Quantity int64  `json:"quantity"`
}

type reserveRequest struct {
	quantityRequest
	ReservationID string `json:"reservation_id"`
	TTLSeconds    int64  `json:"ttl_seconds"`
}

type commitRequest struct {
	TransactionID string          `json:"transaction_id"`
	Metadata      json.RawMessage `json:"metadata"`
}

type purchaseRequest struct {
	quantityRequest
	TransactionID string          `json:"transaction_id"`
	ReservationID string          `json:"reservation_id"`
	Metadata      json.RawMessage `json:"metadata"`
}

type refundRequest struct {
	quantityRequest
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

type expansionRequest struct {
	EventID         string `json:"event_id"`
	Tier            string `json:"tier"`
	AdditionalSpots int64  `json:"additional_spots"`
	Reason          string `json:"reason"`
}

func (request quantityRequest) parse() (inventory.RecordKey, inventory.Quantity, error) {
	key, err := inventory.NewRecordKey(request.EventID, request.Tier)
	if err != nil {
		return inventory.RecordKey{}, 0, err
	}
	quantity, err := inventory.NewQuantity(request.Quantity)
	if err != nil {
		return inventory.RecordKey{}, 0, err
	}
	return key, quantity, nil
}

func (handler *httpHandler) handleAvailability(ctx *gin.Context) {
	eventID, err := inventory.NewEventID(ctx.Param("event"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	inventoryStatus, err := handler.service.Status(requestCtx, eventID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	tiers := make([]publicTierPayload, 0, len(inventoryStatus.Tiers))
	for _, tier := range inventoryStatus.Tiers {
		tiers = append(tiers, publicTierPayload{
			Tier:            tier.Tier.String(),
			PublicAvailable: tier.PublicAvailable,
			SoldOut:         tier.IsPublicSoldOut,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"event_id": eventID.String(),
		"sold_out": inventoryStatus.IsPublicSoldOut,
		"tiers":    tiers,
	})
}

func (handler *httpHandler) handleValidate(ctx *gin.Context) {
	var request quantityRequest
	if !handler.bind(ctx, &request) {
		return
	}
	key, quantity, err := request.parse()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	validation, err := handler.service.ValidateForCheckout(requestCtx, key, quantity)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, validationPayload{
		Valid:     validation.Valid,
		Available: validation.Available,
		Reason:    validation.Reason,
	})
}

func (handler *httpHandler) handleReserve(ctx *gin.Context) {
	var request reserveRequest
	if !handler.bind(ctx, &request) {
		return
	}
	key, quantity, err := request.parse()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if request.ReservationID == "" {
		request.ReservationID = uuid.NewString()
	}
	reservationID, err := inventory.NewReservationID(request.ReservationID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if request.TTLSeconds < 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_ttl_seconds", "ttl_seconds must not be negative"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.Reserve(requestCtx, inventory.ReserveRequest{
		Key:           key,
		Quantity:      quantity,
		ReservationID: reservationID,
		TTL:           time.Duration(request.TTLSeconds) * time.Second,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	statusCode := http.StatusCreated
	if result.Replayed {
		statusCode = http.StatusOK
	}
	ctx.JSON(statusCode, gin.H{
		"reservation":      newReservationPayload(result.Reservation),
		"public_available": result.Record.PublicAvailable(),
		"replayed":         result.Replayed,
	})
}

func (handler *httpHandler) handleCommit(ctx *gin.Context) {
	var request commitRequest
	if !handler.bind(ctx, &request) {
		return
	}
	reservationID, err := inventory.NewReservationID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	transactionID, err := inventory.NewTransactionID(request.TransactionID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := parseMetadata(request.Metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.Commit(requestCtx, reservationID, transactionID, metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newSalePayload(result))
}

func (handler *httpHandler) handleRelease(ctx *gin.Context) {
	reservationID, err := inventory.NewReservationID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.Release(requestCtx, reservationID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"reservation": newReservationPayload(result.Reservation),
		"released":    result.Released,
	})
}

func (handler *httpHandler) handlePurchase(ctx *gin.Context) {
	var request purchaseRequest
	if !handler.bind(ctx, &request) {
		return
	}
	key, quantity, err := request.parse()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	transactionID, err := inventory.NewTransactionID(request.TransactionID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := parseMetadata(request.Metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	decrement := inventory.DecrementRequest{Key: key, Quantity: quantity, TransactionID: transactionID, Metadata: metadata}
	if request.ReservationID != "" {
		reservationID, err := inventory.NewReservationID(request.ReservationID)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		decrement.ReservationID = reservationID
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.Decrement(requestCtx, decrement)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newSalePayload(result))
}

func (handler *httpHandler) handleRefund(ctx *gin.Context) {
	var request refundRequest
	if !handler.bind(ctx, &request) {
		return
	}
	key, quantity, err := request.parse()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	increment := inventory.IncrementRequest{Key: key, Quantity: quantity, Reason: request.Reason}
	if request.TransactionID != "" {
		transactionID, err := inventory.NewTransactionID(request.TransactionID)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		increment.TransactionID = transactionID
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.Increment(requestCtx, increment)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"transaction_id":   result.TransactionID.String(),
		"replayed":         result.Replayed,
		"public_available": result.Record.PublicAvailable(),
	})
}

func (handler *httpHandler) handleStatusAll(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	statuses, err := handler.service.StatusAll(requestCtx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	events := make([]statusPayload, 0, len(statuses))
	for _, inventoryStatus := range statuses {
		events = append(events, newStatusPayload(inventoryStatus))
	}
	ctx.JSON(http.StatusOK, gin.H{"events": events})
}

func (handler *httpHandler) handleStatus(ctx *gin.Context) {
	eventID, err := inventory.NewEventID(ctx.Param("event"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	inventoryStatus, err := handler.service.Status(requestCtx, eventID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newStatusPayload(inventoryStatus))
}

func (handler *httpHandler) handleExpand(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusForbidden, errorResponse("authorization_required", "missing principal"))
		return
	}
	var request expansionRequest
	if !handler.bind(ctx, &request) {
		return
	}
	key, err := inventory.NewRecordKey(request.EventID, request.Tier)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	spots, err := inventory.NewQuantity(request.AdditionalSpots)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.Expand(requestCtx, inventory.ExpandRequest{
		Key:             key,
		AdditionalSpots: spots,
		AuthorizedBy:    principal,
		Reason:          request.Reason,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"sequence":         result.Expansion.Sequence,
		"additional_spots": result.Expansion.AdditionalSpots.Int64(),
		"authorized_by":    result.Expansion.AuthorizedBy.String(),
		"applied_unix_utc": result.Expansion.AppliedAt.Unix(),
		"record":           newRecordPayload(result.Record),
	})
}

func (handler *httpHandler) bind(ctx *gin.Context, request any) bool {
	if err := ctx.ShouldBindJSON(request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return false
	}
	return true
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	if insufficient, ok := inventory.AsInsufficientInventory(err); ok {
		ctx.JSON(http.StatusConflict, gin.H{
			"error": gin.H{
				"code":      "insufficient_inventory",
				"available": insufficient.Available,
				"requested": insufficient.Requested,
			},
		})
		return
	}
	statusCode, code := classify(err)
	if statusCode >= http.StatusInternalServerError {
		handler.logger.Error("inventory request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(statusCode, errorResponse(code, http.StatusText(statusCode)))
		return
	}
	ctx.JSON(statusCode, errorResponse(code, err.Error()))
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, inventory.ErrInvalidEventID):
		return http.StatusBadRequest, "invalid_event_id"
	case errors.Is(err, inventory.ErrUnknownTier):
		return http.StatusBadRequest, "unknown_tier"
	case errors.Is(err, inventory.ErrInvalidReservationID):
		return http.StatusBadRequest, "invalid_reservation_id"
	case errors.Is(err, inventory.ErrInvalidTransactionID):
		return http.StatusBadRequest, "invalid_transaction_id"
	case errors.Is(err, inventory.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, inventory.ErrInvalidMetadataJSON):
		return http.StatusBadRequest, "invalid_metadata_json"
	case errors.Is(err, inventory.ErrAuthorizationRequired):
		return http.StatusForbidden, "authorization_required"
	case errors.Is(err, inventory.ErrReservationNotFound):
		return http.StatusNotFound, "reservation_not_found"
	case errors.Is(err, inventory.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, inventory.ErrInsufficientInventory):
		return http.StatusConflict, "insufficient_inventory"
	case errors.Is(err, inventory.ErrReservationExpired):
		return http.StatusGone, "reservation_expired"
	case errors.Is(err, inventory.ErrReservationClosed):
		return http.StatusConflict, "reservation_closed"
	case errors.Is(err, inventory.ErrReservationExists):
		return http.StatusConflict, "reservation_exists"
	case errors.Is(err, inventory.ErrTransactionConflict):
		return http.StatusConflict, "transaction_conflict"
	case errors.Is(err, inventory.ErrInvalidIncrement):
		return http.StatusConflict, "invalid_increment"
	case errors.Is(err, inventory.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func parseMetadata(raw json.RawMessage) (inventory.MetadataJSON, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return inventory.NewMetadataJSON("")
	}
	return inventory.NewMetadataJSON(string(raw))
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type publicTierPayload struct {
	Tier            string `json:"tier"`
	PublicAvailable int64  `json:"public_available"`
	SoldOut         bool   `json:"sold_out"`
}

type validationPayload struct {
	Valid     bool   `json:"valid"`
	Available int64  `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

type reservationPayload struct {
	ReservationID    string `json:"reservation_id"`
	EventID          string `json:"event_id"`
	Tier             string `json:"tier"`
	Quantity         int64  `json:"quantity"`
	Status           string `json:"status"`
	TransactionID    string `json:"transaction_id,omitempty"`
	ExpiresAtUnixUTC int64  `json:"expires_at_unix_utc"`
}

func newReservationPayload(reservation inventory.Reservation) reservationPayload {
	return reservationPayload{
		ReservationID:    reservation.ID.String(),
		EventID:          reservation.Key.EventID.String(),
		Tier:             reservation.Key.Tier.String(),
		Quantity:         reservation.Quantity.Int64(),
		Status:           reservation.Status.String(),
		TransactionID:    reservation.TransactionID.String(),
		ExpiresAtUnixUTC: reservation.ExpiresAt.Unix(),
	}
}

type salePayload struct {
	TransactionID       string `json:"transaction_id"`
	Quantity            int64  `json:"quantity"`
	UsedHiddenInventory bool   `json:"used_hidden_inventory"`
	FromReservation     bool   `json:"from_reservation"`
	Replayed            bool   `json:"replayed"`
	PublicAvailable     int64  `json:"public_available"`
}

// newSalePayload leaves out the hidden split; buyers only learn whether
// hidden seats were used.
func newSalePayload(result inventory.DecrementResult) salePayload {
	return salePayload{
		TransactionID:       result.TransactionID.String(),
		Quantity:            result.Quantity.Int64(),
		UsedHiddenInventory: result.UsedHiddenInventory,
		FromReservation:     result.FromReservation,
		Replayed:            result.Replayed,
		PublicAvailable:     result.Record.PublicAvailable(),
	}
}

type recordPayload struct {
	Tier            string `json:"tier"`
	PublicLimit     int64  `json:"public_limit"`
	HiddenLimit     int64  `json:"hidden_limit"`
	Sold            int64  `json:"sold"`
	Reserved        int64  `json:"reserved"`
	PublicAvailable int64  `json:"public_available"`
	ActualAvailable int64  `json:"actual_available"`
}

func newRecordPayload(record inventory.Record) recordPayload {
	return recordPayload{
		Tier:            record.Key.Tier.String(),
		PublicLimit:     record.PublicLimit,
		HiddenLimit:     record.HiddenLimit,
		Sold:            record.Sold,
		Reserved:        record.Reserved,
		PublicAvailable: record.PublicAvailable(),
		ActualAvailable: record.ActualAvailable(),
	}
}

type tierStatusPayload struct {
	Tier            string `json:"tier"`
	PublicLimit     int64  `json:"public_limit"`
	ActualLimit     int64  `json:"actual_limit"`
	Sold            int64  `json:"sold"`
	Reserved        int64  `json:"reserved"`
	PublicAvailable int64  `json:"public_available"`
	ActualAvailable int64  `json:"actual_available"`
	IsPublicSoldOut bool   `json:"is_public_sold_out"`
	IsActualSoldOut bool   `json:"is_actual_sold_out"`
	IsLowStock      bool   `json:"is_low_stock"`
}

type statusPayload struct {
	EventID         string              `json:"event_id"`
	Status          string              `json:"status"`
	IsPublicSoldOut bool                `json:"is_public_sold_out"`
	IsActualSoldOut bool                `json:"is_actual_sold_out"`
	Tiers           []tierStatusPayload `json:"tiers"`
}

func newStatusPayload(inventoryStatus inventory.InventoryStatus) statusPayload {
	payload := statusPayload{
		EventID:         inventoryStatus.EventID.String(),
		Status:          string(inventoryStatus.Status),
		IsPublicSoldOut: inventoryStatus.IsPublicSoldOut,
		IsActualSoldOut: inventoryStatus.IsActualSoldOut,
		Tiers:           make([]tierStatusPayload, 0, len(inventoryStatus.Tiers)),
	}
	for _, tier := range inventoryStatus.Tiers {
		payload.Tiers = append(payload.Tiers, tierStatusPayload{
			Tier:            tier.Tier.String(),
			PublicLimit:     tier.PublicLimit,
			ActualLimit:     tier.ActualLimit,
			Sold:            tier.Sold,
			Reserved:        tier.Reserved,
			PublicAvailable: tier.PublicAvailable,
			ActualAvailable: tier.ActualAvailable,
			IsPublicSoldOut: tier.IsPublicSoldOut,
			IsActualSoldOut: tier.IsActualSoldOut,
			IsLowStock:      tier.IsLowStock,
		})
	}
	return payload
}

