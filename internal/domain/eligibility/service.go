package eligibility

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/sahlhealth/nphies-bridge/internal/platform/cache"
	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

// Service composes validation, bundle construction, the clearinghouse
// exchange, and response parsing into one domain-level call. Stateless
// apart from the injected result cache.
type Service struct {
	sender     nphies.Sender
	auth       *nphies.AuthContext
	classifier *nphies.RejectionClassifier
	cache      cache.Store
	ttl        time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

func NewService(sender nphies.Sender, auth *nphies.AuthContext, classifier *nphies.RejectionClassifier, store cache.Store, ttl time.Duration, log zerolog.Logger) *Service {
	return &Service{
		sender:     sender,
		auth:       auth,
		classifier: classifier,
		cache:      store,
		ttl:        ttl,
		log:        log,
		now:        time.Now,
	}
}

// Check runs one eligibility check. A cached result within its TTL
// short-circuits the clearinghouse call. BusinessRejection is an expected
// outcome the caller branches on, not an error.
func (s *Service) Check(ctx context.Context, in *CheckInput) (*Result, *nphies.BusinessRejection, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}

	key := "elig:" + in.NaturalKey()
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var cached Result
			if json.Unmarshal(raw, &cached) == nil {
				s.log.Debug().Str("member", nphies.MaskID(in.MemberID)).Msg("eligibility cache hit")
				return &cached, nil, nil
			}
		}
	}

	bundle, err := BuildBundle(in, s.auth, s.now())
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("member", nphies.MaskID(in.MemberID)).
		Str("payer", in.PayerID).
		Str("service_date", in.ServiceDate).
		Msg("eligibility check")

	resp, err := s.sender.Send(ctx, bundle)
	if err != nil {
		return nil, nil, err
	}

	result, rejection, err := ParseResponse(resp, s.classifier, s.now())
	if err != nil || rejection != nil {
		return nil, rejection, err
	}

	if s.cache != nil {
		if raw, merr := json.Marshal(result); merr == nil {
			if cerr := s.cache.Set(ctx, key, raw, s.ttl); cerr != nil {
				s.log.Warn().Err(cerr).Msg("eligibility cache set failed")
			}
		}
	}
	return result, nil, nil
}
