package userdata

import (
	"context"
	"errors"
	"strings"

	"github.com/konnection/roomstate/internal/kvstore"
)

// ContractStatus tracks a contract request through its lifecycle.
type ContractStatus string

const (
	ContractRequested ContractStatus = "requested"
	ContractSent      ContractStatus = "sent"
	ContractSigned    ContractStatus = "signed"
)

var ErrInvalidContract = errors.New("userdata: contract record requires a listing id and known status")

// ContractRecord is one entry of the current identity's contract history.
type ContractRecord struct {
	ListingID       string         `json:"listingId"`
	Title           string         `json:"title"`
	City            string         `json:"city"`
	PriceMonthly    int64          `json:"priceMonthly"`
	Deposit         int64          `json:"deposit"`
	Filename        string         `json:"filename,omitempty"`
	DocumentRef     string         `json:"documentRef,omitempty"`
	Status          ContractStatus `json:"status"`
	CreatedAtMillis int64          `json:"createdAt"`
}

func (s *Service) Contracts(ctx context.Context) ([]ContractRecord, error) {
	key, err := s.scopedKey(ctx, opContracts, kvstore.CategoryContracts)
	if err != nil {
		return nil, err
	}
	records, err := kvstore.Read(ctx, s.store, key, []ContractRecord{})
	if err != nil {
		return nil, newServiceError(opContracts, "read_failed", err)
	}
	return records, nil
}

// AppendContract adds record to the history. Existing entries are never rewritten.
func (s *Service) AppendContract(ctx context.Context, record ContractRecord) (ContractRecord, error) {
	record.ListingID = strings.TrimSpace(record.ListingID)
	if record.Status == "" {
		record.Status = ContractRequested
	}
	switch record.Status {
	case ContractRequested, ContractSent, ContractSigned:
	default:
		return ContractRecord{}, ErrInvalidContract
	}
	if record.ListingID == "" {
		return ContractRecord{}, ErrInvalidContract
	}
	if record.CreatedAtMillis == 0 {
		record.CreatedAtMillis = s.clock().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key, err := s.scopedKey(ctx, opAppendContract, kvstore.CategoryContracts)
	if err != nil {
		return ContractRecord{}, err
	}
	records, err := kvstore.Read(ctx, s.store, key, []ContractRecord{})
	if err != nil {
		return ContractRecord{}, newServiceError(opAppendContract, "read_failed", err)
	}
	if err := s.store.Write(ctx, key, append(records, record)); err != nil {
		s.logError(opAppendContract, "write_failed", err)
		return ContractRecord{}, newServiceError(opAppendContract, "write_failed", err)
	}
	return record, nil
}
