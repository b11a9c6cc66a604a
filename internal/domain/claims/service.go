package claims

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

// Service drives the claim lifecycle. It is the only component that
// mutates claim status, always in response to a parsed adjudication
// outcome, so transitions stay serialized per claim id at the repository.
type Service struct {
	sender     nphies.Sender
	auth       *nphies.AuthContext
	classifier *nphies.RejectionClassifier
	repo       Repository
	log        zerolog.Logger
	now        func() time.Time
}

func NewService(sender nphies.Sender, auth *nphies.AuthContext, classifier *nphies.RejectionClassifier, repo Repository, log zerolog.Logger) *Service {
	return &Service{
		sender:     sender,
		auth:       auth,
		classifier: classifier,
		repo:       repo,
		log:        log,
		now:        time.Now,
	}
}

// Submit validates the claim, records it as submitted, exchanges it with
// the clearinghouse, and records the adjudication outcome. Submitting a
// claim that already left draft fails with InvalidStateError.
func (s *Service) Submit(ctx context.Context, in *SubmitInput) (*Result, *nphies.BusinessRejection, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}

	claim, err := s.repo.Get(ctx, in.ClaimID)
	if err != nil && err != ErrNotFound {
		return nil, nil, err
	}
	if claim == nil {
		claim = &Claim{
			ID:             in.ClaimID,
			Status:         StatusDraft,
			MemberID:       in.MemberID,
			PayerID:        in.PayerID,
			Total:          in.Total,
			RelatedClaimID: in.RelatedClaimID,
		}
	}
	if err := claim.transition(StatusSubmitted, "submit"); err != nil {
		return nil, nil, err
	}
	claim.SubmittedAt = s.now()
	if err := s.repo.Save(ctx, claim); err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("claim_id", in.ClaimID).
		Str("member", nphies.MaskID(in.MemberID)).
		Str("payer", in.PayerID).
		Str("total", in.Total.String()).
		Msg("claim submission")

	return s.exchange(ctx, in, claim)
}

// Appeal resubmits a denied claim. Any other starting state fails with
// InvalidStateError.
func (s *Service) Appeal(ctx context.Context, in *SubmitInput) (*Result, *nphies.BusinessRejection, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}

	claim, err := s.repo.Get(ctx, in.ClaimID)
	if err != nil {
		return nil, nil, err
	}
	if err := claim.transition(StatusAppealed, "appeal"); err != nil {
		return nil, nil, err
	}
	if err := s.repo.Save(ctx, claim); err != nil {
		return nil, nil, err
	}

	// The appeal bundle references the denied submission as the prior claim.
	appeal := *in
	if appeal.RelatedClaimID == "" {
		appeal.RelatedClaimID = in.ClaimID
	}

	s.log.Info().Str("claim_id", in.ClaimID).Msg("claim appeal")
	return s.exchange(ctx, &appeal, claim)
}

// Status returns the persisted lifecycle record. Draft claims have not
// been exchanged yet and are not queryable.
func (s *Service) Status(ctx context.Context, claimID string) (*Claim, error) {
	claim, err := s.repo.Get(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status == StatusDraft {
		return nil, &nphies.InvalidStateError{Entity: "claim " + claimID, From: string(StatusDraft), Op: "status"}
	}
	return claim, nil
}

// exchange sends the claim bundle and records the parsed outcome. A
// business rejection adjudicates the claim as denied; transport and
// protocol failures leave it in its pre-exchange state for a later retry.
func (s *Service) exchange(ctx context.Context, in *SubmitInput, claim *Claim) (*Result, *nphies.BusinessRejection, error) {
	bundle, err := BuildBundle(in, s.auth, s.now())
	if err != nil {
		return nil, nil, err
	}

	resp, err := s.sender.Send(ctx, bundle)
	if err != nil {
		return nil, nil, err
	}

	result, rejection, err := ParseResponse(resp, s.classifier, in.Total, s.now())
	if err != nil {
		return nil, nil, err
	}
	if rejection != nil {
		now := s.now()
		claim.DenialCode = rejection.Code
		claim.Disposition = rejection.Display
		claim.AdjudicatedAt = &now
		if terr := claim.transition(StatusDenied, "adjudicate"); terr != nil {
			return nil, nil, terr
		}
		if serr := s.repo.Save(ctx, claim); serr != nil {
			return nil, nil, serr
		}
		return nil, rejection, nil
	}

	if terr := claim.transition(result.Status, "adjudicate"); terr != nil {
		return nil, nil, terr
	}
	claim.ApprovedTotal = result.ApprovedTotal
	claim.Disposition = result.Disposition
	claim.AdjudicatedAt = &result.AdjudicatedAt
	if serr := s.repo.Save(ctx, claim); serr != nil {
		return nil, nil, serr
	}

	result.ClaimID = claim.ID
	s.log.Info().
		Str("claim_id", claim.ID).
		Str("status", string(result.Status)).
		Str("approved_total", result.ApprovedTotal.String()).
		Msg("claim adjudicated")
	return result, nil, nil
}
