package priorauth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

// Service is stateless: each request is an independent exchange and the
// pipeline owns whatever persistence the caller needs.
type Service struct {
	sender     nphies.Sender
	auth       *nphies.AuthContext
	classifier *nphies.RejectionClassifier
	log        zerolog.Logger
	now        func() time.Time
}

func NewService(sender nphies.Sender, auth *nphies.AuthContext, classifier *nphies.RejectionClassifier, log zerolog.Logger) *Service {
	return &Service{
		sender:     sender,
		auth:       auth,
		classifier: classifier,
		log:        log,
		now:        time.Now,
	}
}

// Request runs one prior-authorization exchange.
func (s *Service) Request(ctx context.Context, in *RequestInput) (*Result, *nphies.BusinessRejection, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}

	bundle, err := BuildBundle(in, s.auth, s.now())
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("request_id", in.RequestID).
		Str("member", nphies.MaskID(in.MemberID)).
		Str("payer", in.PayerID).
		Msg("prior authorization request")

	resp, err := s.sender.Send(ctx, bundle)
	if err != nil {
		return nil, nil, err
	}

	result, rejection, err := ParseResponse(resp, s.classifier, s.now())
	if err != nil || rejection != nil {
		return nil, rejection, err
	}
	result.RequestID = in.RequestID

	s.log.Info().
		Str("request_id", in.RequestID).
		Bool("authorized", result.Authorized).
		Str("pre_auth_ref", result.PreAuthRef).
		Msg("prior authorization decided")
	return result, nil, nil
}

// BatchOp adapts the service to the batch pipeline's Operation contract.
type BatchOp struct {
	svc *Service
}

func NewBatchOp(svc *Service) *BatchOp { return &BatchOp{svc: svc} }

func (o *BatchOp) Name() string { return "priorauth" }

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
	result, rejection, err := o.svc.Request(ctx, in)
	if err != nil || rejection != nil {
		return nil, rejection, err
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal authorization result: %w", err)
	}
	return out, nil, nil
}

func decodeInput(raw json.RawMessage) (*RequestInput, error) {
	var in RequestInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, &nphies.ValidationError{Field: "input", Reason: fmt.Sprintf("decode: %v", err)}
	}
	return &in, nil
}
