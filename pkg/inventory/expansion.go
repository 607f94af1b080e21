package inventory

import (
	"context"
	"fmt"
)

// ExpandRequest authorizes a hidden capacity increase.
type ExpandRequest struct {
	Key             RecordKey
	AdditionalSpots Quantity
	AuthorizedBy    Principal
	Reason          string
}

// ExpandResult reports the ledger line and the record after the expansion.
type ExpandResult struct {
	Expansion ExpansionRecord
	Record    Record
}

// Expand raises the hidden limit of a record. The public limit never changes.
func (service *Service) Expand(ctx context.Context, request ExpandRequest) (ExpandResult, error) {
	var result ExpandResult
	operationError := validateExpand(request)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			record, err := transactionStore.GetRecordForUpdate(ctx, request.Key)
			if err != nil {
				return err
			}
			now := service.now()
			record.HiddenLimit += request.AdditionalSpots.Int64()
			record.UpdatedAt = now
			if err := saveRecord(ctx, transactionStore, record); err != nil {
				return err
			}
			expansion := ExpansionRecord{
				Key:             request.Key,
				AdditionalSpots: request.AdditionalSpots,
				AuthorizedBy:    request.AuthorizedBy,
				Reason:          request.Reason,
				AppliedAt:       now,
			}
			sequence, err := transactionStore.InsertExpansion(ctx, expansion)
			if err != nil {
				return err
			}
			expansion.Sequence = sequence
			result = ExpandResult{Expansion: expansion, Record: record}
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:    operationExpand,
		Key:          request.Key,
		Quantity:     request.AdditionalSpots,
		AuthorizedBy: request.AuthorizedBy,
		Error:        operationError,
	})
	if operationError != nil {
		return ExpandResult{}, operationError
	}
	return result, nil
}

// ListExpansions returns the expansions of a record in the order they were applied.
func (service *Service) ListExpansions(ctx context.Context, key RecordKey) ([]ExpansionRecord, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if _, err := service.store.GetRecord(ctx, key); err != nil {
		return nil, err
	}
	return service.store.ListExpansions(ctx, key)
}

func validateExpand(request ExpandRequest) error {
	if request.AdditionalSpots <= 0 {
		return fmt.Errorf("%w: additional spots must be greater than zero", ErrInvalidAmount)
	}
	if request.AuthorizedBy.String() == "" {
		return fmt.Errorf("%w: expansion needs an authorizing principal", ErrAuthorizationRequired)
	}
	return validateKey(request.Key)
}
