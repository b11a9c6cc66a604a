package eligibility

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

// BatchOp adapts the service to the batch pipeline's Operation contract.
type BatchOp struct {
	svc *Service
}

func NewBatchOp(svc *Service) *BatchOp { return &BatchOp{svc: svc} }

func (o *BatchOp) Name() string { return "eligibility" }

func (o *BatchOp) Validate(raw json.RawMessage) error {
	in, err := decodeInput(raw)
	if err != nil {
		return err
	}
	return in.Validate()
}

func (o *BatchOp) NaturalKey(raw json.RawMessage) (string, error) {
	in, err := decodeInput(raw)
	if err != nil {
		return "", err
	}
	return in.NaturalKey(), nil
}

func (o *BatchOp) Dispatch(ctx context.Context, raw json.RawMessage) (json.RawMessage, *nphies.BusinessRejection, error) {
	in, err := decodeInput(raw)
	if err != nil {
		return nil, nil, err
	}
	result, rejection, err := o.svc.Check(ctx, in)
	if err != nil || rejection != nil {
		return nil, rejection, err
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal eligibility result: %w", err)
	}
	return out, nil, nil
}

func decodeInput(raw json.RawMessage) (*CheckInput, error) {
	var in CheckInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, &nphies.ValidationError{Field: "input", Reason: fmt.Sprintf("decode: %v", err)}
	}
	return &in, nil
}
