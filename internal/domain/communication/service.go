package communication

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sahlhealth/nphies-bridge/internal/platform/cache"
	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

const pollLockKey = "comm:poll"
const pollLockTTL = 30 * time.Second

// Service polls the clearinghouse message queue. Polling is single-flight
// twice over: an in-process guard stops overlapping calls on one instance,
// and the distributed lock stops overlapping calls across instances.
type Service struct {
	sender     nphies.Sender
	auth       *nphies.AuthContext
	classifier *nphies.RejectionClassifier
	repo       Repository
	locker     cache.Locker
	log        zerolog.Logger
	now        func() time.Time

	polling atomic.Bool
}

func NewService(sender nphies.Sender, auth *nphies.AuthContext, classifier *nphies.RejectionClassifier, repo Repository, locker cache.Locker, log zerolog.Logger) *Service {
	return &Service{
		sender:     sender,
		auth:       auth,
		classifier: classifier,
		repo:       repo,
		locker:     locker,
		log:        log,
		now:        time.Now,
	}
}

// Poll fetches queued payer messages, persists the new ones as read, and
// returns them. A poll already in progress makes this call a no-op with an
// empty result. Messages seen on an earlier poll are skipped, so repeated
// calls are safe.
func (s *Service) Poll(ctx context.Context) ([]*Communication, *nphies.BusinessRejection, error) {
	if !s.polling.CompareAndSwap(false, true) {
		s.log.Debug().Msg("poll already in progress")
		return nil, nil, nil
	}
	defer s.polling.Store(false)

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, pollLockKey, pollLockTTL)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			s.log.Debug().Msg("poll held by another instance")
			return nil, nil, nil
		}
		defer release()
	}

	bundle, err := BuildPollBundle(s.auth, s.now())
	if err != nil {
		return nil, nil, err
	}

	resp, err := s.sender.Send(ctx, bundle)
	if err != nil {
		return nil, nil, err
	}

	msgs, rejection, err := ParsePollResponse(resp, s.classifier, s.now())
	if err != nil || rejection != nil {
		return nil, rejection, err
	}

	var fresh []*Communication
	for _, msg := range msgs {
		if _, err := s.repo.Get(ctx, msg.ID); err == nil {
			continue
		} else if err != ErrNotFound {
			return nil, nil, err
		}
		if err := msg.transition(StatusRead, "poll"); err != nil {
			return nil, nil, err
		}
		if err := s.repo.Save(ctx, msg); err != nil {
			return nil, nil, err
		}
		fresh = append(fresh, msg)
	}

	s.log.Info().Int("received", len(msgs)).Int("new", len(fresh)).Msg("communication poll")
	return fresh, nil, nil
}

// MarkProcessed records that downstream handling of a message finished.
func (s *Service) MarkProcessed(ctx context.Context, id string) error {
	msg, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := msg.transition(StatusProcessed, "process"); err != nil {
		return err
	}
	return s.repo.Save(ctx, msg)
}

// Pending lists messages awaiting downstream handling.
func (s *Service) Pending(ctx context.Context) ([]*Communication, error) {
	return s.repo.List(ctx, StatusRead)
}
