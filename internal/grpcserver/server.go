package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

const (
	errorInsufficientInventory = "insufficient_inventory"
	errorNotFound              = "not_found"
	errorReservationNotFound   = "reservation_not_found"
	errorReservationExpired    = "reservation_expired"
	errorReservationClosed     = "reservation_closed"
	errorReservationExists     = "reservation_exists"
	errorRecordExists          = "record_exists"
	errorTransactionConflict   = "transaction_conflict"
	errorInvalidIncrement      = "invalid_increment"
	errorInvalidEventID        = "invalid_event_id"
	errorUnknownTier           = "unknown_tier"
	errorInvalidReservationID  = "invalid_reservation_id"
	errorInvalidTransactionID  = "invalid_transaction_id"
	errorInvalidQuantity       = "invalid_quantity"
	errorInvalidMetadata       = "invalid_metadata_json"
	errorInvalidTTL            = "invalid_ttl_seconds"
	errorAuthorizationRequired = "authorization_required"
	errorUnavailable           = "unavailable"

	fieldEventID         = "event_id"
	fieldTier            = "tier"
	fieldQuantity        = "quantity"
	fieldTransactionID   = "transaction_id"
	fieldReservationID   = "reservation_id"
	fieldMetadataJSON    = "metadata_json"
	fieldReason          = "reason"
	fieldTTLSeconds      = "ttl_seconds"
	fieldAdditionalSpots = "additional_spots"
	fieldAuthorizedBy    = "authorized_by"
)

// InventoryServiceServer exposes the inventory service over gRPC.
type InventoryServiceServer struct {
	inventoryService *inventory.Service
}

// NewInventoryServiceServer constructs a gRPC server for the inventory service.
func NewInventoryServiceServer(inventoryService *inventory.Service) *InventoryServiceServer {
	return &InventoryServiceServer{inventoryService: inventoryService}
}

// Register adds the inventory and health services to grpcServer.
func Register(grpcServer *grpc.Server, server *InventoryServiceServer) {
	RegisterInventoryServiceServer(grpcServer, server)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
}

func (service *InventoryServiceServer) Decrement(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := requestFields{request: request}
	key, err := fields.key()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	quantity, err := fields.quantity(fieldQuantity)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transactionID, err := inventory.NewTransactionID(fields.string(fieldTransactionID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := inventory.NewMetadataJSON(fields.string(fieldMetadataJSON))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	decrement := inventory.DecrementRequest{Key: key, Quantity: quantity, TransactionID: transactionID, Metadata: metadata}
	if raw := fields.string(fieldReservationID); raw != "" {
		reservationID, err := inventory.NewReservationID(raw)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		decrement.ReservationID = reservationID
	}
	result, operationError := service.inventoryService.Decrement(ctx, decrement)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return respond(decrementView(result))
}

func (service *InventoryServiceServer) Increment(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := requestFields{request: request}
	key, err := fields.key()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	quantity, err := fields.quantity(fieldQuantity)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	increment := inventory.IncrementRequest{Key: key, Quantity: quantity, Reason: fields.string(fieldReason)}
	if raw := fields.string(fieldTransactionID); raw != "" {
		transactionID, err := inventory.NewTransactionID(raw)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		increment.TransactionID = transactionID
	}
	result, operationError := service.inventoryService.Increment(ctx, increment)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return respond(map[string]any{
		"transaction_id": result.TransactionID.String(),
		"replayed":       result.Replayed,
		"record":         recordView(result.Record),
	})
}

func (service *InventoryServiceServer) Reserve(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := requestFields{request: request}
	key, err := fields.key()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	quantity, err := fields.quantity(fieldQuantity)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservationID, err := inventory.NewReservationID(fields.string(fieldReservationID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	ttlSeconds, err := fields.integer(fieldTTLSeconds)
	if err != nil || ttlSeconds < 0 {
		return nil, status.Error(codes.InvalidArgument, errorInvalidTTL)
	}
	result, operationError := service.inventoryService.Reserve(ctx, inventory.ReserveRequest{
		Key:           key,
		Quantity:      quantity,
		ReservationID: reservationID,
		TTL:           time.Duration(ttlSeconds) * time.Second,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return respond(map[string]any{
		"reservation": reservationView(result.Reservation),
		"replayed":    result.Replayed,
		"record":      recordView(result.Record),
	})
}

func (service *InventoryServiceServer) Release(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := requestFields{request: request}
	reservationID, err := inventory.NewReservationID(fields.string(fieldReservationID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, operationError := service.inventoryService.Release(ctx, reservationID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return respond(map[string]any{
		"reservation": reservationView(result.Reservation),
		"released":    result.Released,
	})
}

func (service *InventoryServiceServer) Commit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := requestFields{request: request}
	reservationID, err := inventory.NewReservationID(fields.string(fieldReservationID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transactionID, err := inventory.NewTransactionID(fields.string(fieldTransactionID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := inventory.NewMetadataJSON(fields.string(fieldMetadataJSON))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, operationError := service.inventoryService.Commit(ctx, reservationID, transactionID, metadata)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return respond(decrementView(result))
}

func (service *InventoryServiceServer) Expand(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := requestFields{request: request}
	key, err := fields.key()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	spots, err := fields.quantity(fieldAdditionalSpots)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	principal, err := inventory.NewPrincipal(fields.string(fieldAuthorizedBy))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, operationError := service.inventoryService.Expand(ctx, inventory.ExpandRequest{
		Key:             key,
		AdditionalSpots: spots,
		AuthorizedBy:    principal,
		Reason:          fields.string(fieldReason),
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return respond(map[string]any{
		"sequence":         result.Expansion.Sequence,
		"additional_spots": result.Expansion.AdditionalSpots.Int64(),
		"authorized_by":    result.Expansion.AuthorizedBy.String(),
		"applied_at_unix":  result.Expansion.AppliedAt.Unix(),
		"record":           recordView(result.Record),
	})
}

func (service *InventoryServiceServer) ValidateForCheckout(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := requestFields{request: request}
	key, err := fields.key()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	quantity, err := fields.quantity(fieldQuantity)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	validation, operationError := service.inventoryService.ValidateForCheckout(ctx, key, quantity)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return respond(map[string]any{
		"valid":     validation.Valid,
		"available": validation.Available,
		"reason":    validation.Reason,
	})
}

func (service *InventoryServiceServer) Availability(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := requestFields{request: request}
	key, err := fields.key()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	record, operationError := service.inventoryService.Record(ctx, key)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return respond(recordView(record))
}

func (service *InventoryServiceServer) Status(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := requestFields{request: request}
	eventID, err := inventory.NewEventID(fields.string(fieldEventID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	inventoryStatus, operationError := service.inventoryService.Status(ctx, eventID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return respond(statusView(inventoryStatus))
}

func (service *InventoryServiceServer) StatusAll(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	statuses, operationError := service.inventoryService.StatusAll(ctx)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	events := make([]any, 0, len(statuses))
	for _, inventoryStatus := range statuses {
		events = append(events, statusView(inventoryStatus))
	}
	return respond(map[string]any{"events": events})
}

type requestFields struct {
	request *structpb.Struct
}

func (fields requestFields) value(name string) *structpb.Value {
	return fields.request.GetFields()[name]
}

func (fields requestFields) string(name string) string {
	return fields.value(name).GetStringValue()
}

// integer reads a whole number; an absent field reads as zero.
func (fields requestFields) integer(name string) (int64, error) {
	value := fields.value(name)
	if value == nil {
		return 0, nil
	}
	number, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", inventory.ErrInvalidAmount, name)
	}
	if number.NumberValue != math.Trunc(number.NumberValue) || math.Abs(number.NumberValue) > 1<<53 {
		return 0, fmt.Errorf("%w: %s must be a whole number", inventory.ErrInvalidAmount, name)
	}
	return int64(number.NumberValue), nil
}

func (fields requestFields) quantity(name string) (inventory.Quantity, error) {
	raw, err := fields.integer(name)
	if err != nil {
		return 0, err
	}
	return inventory.NewQuantity(raw)
}

func (fields requestFields) key() (inventory.RecordKey, error) {
	return inventory.NewRecordKey(fields.string(fieldEventID), fields.string(fieldTier))
}

func respond(view map[string]any) (*structpb.Struct, error) {
	response, err := structpb.NewStruct(view)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return response, nil
}

func recordView(record inventory.Record) map[string]any {
	return map[string]any{
		"event_id":         record.Key.EventID.String(),
		"tier":             record.Key.Tier.String(),
		"public_limit":     record.PublicLimit,
		"hidden_limit":     record.HiddenLimit,
		"sold":             record.Sold,
		"reserved":         record.Reserved,
		"public_available": record.PublicAvailable(),
		"actual_available": record.ActualAvailable(),
	}
}

func decrementView(result inventory.DecrementResult) map[string]any {
	return map[string]any{
		"transaction_id":        result.TransactionID.String(),
		"quantity":              result.Quantity.Int64(),
		"from_public":           result.FromPublic,
		"from_hidden":           result.FromHidden,
		"used_hidden_inventory": result.UsedHiddenInventory,
		"from_reservation":      result.FromReservation,
		"replayed":              result.Replayed,
		"record":                recordView(result.Record),
	}
}

func reservationView(reservation inventory.Reservation) map[string]any {
	view := map[string]any{
		"reservation_id":  reservation.ID.String(),
		"event_id":        reservation.Key.EventID.String(),
		"tier":            reservation.Key.Tier.String(),
		"quantity":        reservation.Quantity.Int64(),
		"status":          reservation.Status.String(),
		"expires_at_unix": reservation.ExpiresAt.Unix(),
	}
	if !reservation.TransactionID.IsZero() {
		view["transaction_id"] = reservation.TransactionID.String()
	}
	return view
}

func statusView(inventoryStatus inventory.InventoryStatus) map[string]any {
	tiers := make([]any, 0, len(inventoryStatus.Tiers))
	for _, tier := range inventoryStatus.Tiers {
		tiers = append(tiers, map[string]any{
			"tier":               tier.Tier.String(),
			"public_limit":       tier.PublicLimit,
			"actual_limit":       tier.ActualLimit,
			"sold":               tier.Sold,
			"reserved":           tier.Reserved,
			"public_available":   tier.PublicAvailable,
			"actual_available":   tier.ActualAvailable,
			"is_public_sold_out": tier.IsPublicSoldOut,
			"is_actual_sold_out": tier.IsActualSoldOut,
			"is_low_stock":       tier.IsLowStock,
		})
	}
	return map[string]any{
		"event_id":           inventoryStatus.EventID.String(),
		"status":             string(inventoryStatus.Status),
		"is_public_sold_out": inventoryStatus.IsPublicSoldOut,
		"is_actual_sold_out": inventoryStatus.IsActualSoldOut,
		"tiers":              tiers,
	}
}

func mapToGRPCError(source error) error {
	if insufficient, ok := inventory.AsInsufficientInventory(source); ok {
		return insufficientInventoryStatus(insufficient)
	}
	if errors.Is(source, inventory.ErrInsufficientInventory) {
		return status.Error(codes.FailedPrecondition, errorInsufficientInventory)
	}
	if errors.Is(source, inventory.ErrInvalidEventID) {
		return status.Error(codes.InvalidArgument, errorInvalidEventID)
	}
	if errors.Is(source, inventory.ErrUnknownTier) {
		return status.Error(codes.InvalidArgument, errorUnknownTier)
	}
	if errors.Is(source, inventory.ErrInvalidReservationID) {
		return status.Error(codes.InvalidArgument, errorInvalidReservationID)
	}
	if errors.Is(source, inventory.ErrInvalidTransactionID) {
		return status.Error(codes.InvalidArgument, errorInvalidTransactionID)
	}
	if errors.Is(source, inventory.ErrInvalidAmount) {
		return status.Error(codes.InvalidArgument, errorInvalidQuantity)
	}
	if errors.Is(source, inventory.ErrInvalidMetadataJSON) {
		return status.Error(codes.InvalidArgument, errorInvalidMetadata)
	}
	if errors.Is(source, inventory.ErrAuthorizationRequired) {
		return status.Error(codes.PermissionDenied, errorAuthorizationRequired)
	}
	if errors.Is(source, inventory.ErrReservationNotFound) {
		return status.Error(codes.NotFound, errorReservationNotFound)
	}
	if errors.Is(source, inventory.ErrNotFound) {
		return status.Error(codes.NotFound, errorNotFound)
	}
	if errors.Is(source, inventory.ErrReservationExpired) {
		return status.Error(codes.FailedPrecondition, errorReservationExpired)
	}
	if errors.Is(source, inventory.ErrReservationClosed) {
		return status.Error(codes.FailedPrecondition, errorReservationClosed)
	}
	if errors.Is(source, inventory.ErrInvalidIncrement) {
		return status.Error(codes.FailedPrecondition, errorInvalidIncrement)
	}
	if errors.Is(source, inventory.ErrReservationExists) {
		return status.Error(codes.AlreadyExists, errorReservationExists)
	}
	if errors.Is(source, inventory.ErrRecordExists) {
		return status.Error(codes.AlreadyExists, errorRecordExists)
	}
	if errors.Is(source, inventory.ErrTransactionConflict) {
		return status.Error(codes.AlreadyExists, errorTransactionConflict)
	}
	if errors.Is(source, inventory.ErrUnavailable) {
		return status.Error(codes.Unavailable, errorUnavailable)
	}
	if errors.Is(source, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, source.Error())
	}
	if errors.Is(source, context.Canceled) {
		return status.Error(codes.Canceled, source.Error())
	}
	return status.Error(codes.Internal, source.Error())
}

// insufficientInventoryStatus attaches the figures as a Struct detail so
// clients can render "only N remaining".
func insufficientInventoryStatus(insufficient inventory.InsufficientInventoryError) error {
	base := status.New(codes.FailedPrecondition, errorInsufficientInventory)
	detail, err := structpb.NewStruct(map[string]any{
		"available": insufficient.Available,
		"requested": insufficient.Requested,
	})
	if err != nil {
		return base.Err()
	}
	withDetail, err := base.WithDetails(detail)
	if err != nil {
		return base.Err()
	}
	return withDetail.Err()
}

// InsufficientInventoryDetail extracts the availability figures from a status error.
func InsufficientInventoryDetail(err error) (available int64, requested int64, ok bool) {
	grpcStatus, isStatus := status.FromError(err)
	if !isStatus || grpcStatus.Code() != codes.FailedPrecondition || grpcStatus.Message() != errorInsufficientInventory {
		return 0, 0, false
	}
	for _, detail := range grpcStatus.Details() {
		fields, isStruct := detail.(*structpb.Struct)
		if !isStruct {
			continue
		}
		values := fields.GetFields()
		return int64(values["available"].GetNumberValue()), int64(values["requested"].GetNumberValue()), true
	}
	return 0, 0, false
}
