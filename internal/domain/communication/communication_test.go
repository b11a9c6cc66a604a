package communication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sahlhealth/nphies-bridge/internal/platform/cache"
	"github.com/sahlhealth/nphies-bridge/internal/platform/fhir"
	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

func testAuth(t *testing.T) *nphies.AuthContext {
	t.Helper()
	auth, err := nphies.NewAuthContext("10000500", "org-sahl", "prov-001")
	if err != nil {
		t.Fatalf("NewAuthContext: %v", err)
	}
	return auth
}

type fakeSender struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	resp  *fhir.Bundle
	err   error
}

func (f *fakeSender) Send(ctx context.Context, b *fhir.Bundle) (*fhir.Bundle, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.resp, f.err
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func pollResponse(t *testing.T, ids ...string) *fhir.Bundle {
	t.Helper()
	b := fhir.NewMessageBundle("bundle-poll-resp", time.Date(2025, 11, 3, 9, 0, 1, 0, time.UTC))
	hdr := &fhir.MessageHeader{
		ResourceType: "MessageHeader",
		ID:           "hdr-poll-resp",
		EventCoding:  &fhir.Coding{System: fhir.SystemMessageEvents, Code: fhir.EventPollResponse},
	}
	if err := b.AddEntry("MessageHeader", hdr.ID, hdr); err != nil {
		t.Fatalf("add header: %v", err)
	}
	for _, id := range ids {
		res := map[string]interface{}{
			"resourceType": "Communication",
			"id":           id,
			"status":       "completed",
			"about":        []map[string]string{{"reference": "Claim/claim-CLM-2025-0001"}},
			"category": []map[string]interface{}{{
				"coding": []map[string]string{{"code": "additional-information-request"}},
			}},
			"payload": []map[string]string{{"contentString": "please attach the radiology report"}},
		}
		if err := b.AddEntry("Communication", id, res); err != nil {
			t.Fatalf("add communication: %v", err)
		}
	}
	return b
}

func newTestService(sender nphies.Sender, repo Repository, locker cache.Locker, t *testing.T) *Service {
	svc := NewService(sender, testAuth(t), nphies.NewRejectionClassifier(), repo, locker, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC) }
	return svc
}

func TestPollPersistsAsRead(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(&fakeSender{resp: pollResponse(t, "comm-1", "comm-2")}, repo, nil, t)

	msgs, rejection, err := svc.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if rejection != nil {
		t.Fatalf("unexpected rejection: %+v", rejection)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}

	stored, err := repo.Get(context.Background(), "comm-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != StatusRead {
		t.Fatalf("status = %s, want read", stored.Status)
	}
	if stored.AboutID != "Claim/claim-CLM-2025-0001" {
		t.Fatalf("about = %q", stored.AboutID)
	}
	if stored.Payload == "" {
		t.Fatal("payload not captured")
	}
}

func TestPollRepeatSkipsSeenMessages(t *testing.T) {
	repo := NewMemoryRepository()
	sender := &fakeSender{resp: pollResponse(t, "comm-1")}
	svc := newTestService(sender, repo, nil, t)

	first, _, err := svc.Poll(context.Background())
	if err != nil {
		t.Fatalf("first Poll: %v", err)
	}
	second, _, err := svc.Poll(context.Background())
	if err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if len(first) != 1 || len(second) != 0 {
		t.Fatalf("first=%d second=%d, want 1 and 0", len(first), len(second))
	}
	if sender.callCount() != 2 {
		t.Fatalf("sender called %d times, want 2", sender.callCount())
	}
}

func TestPollSingleFlight(t *testing.T) {
	repo := NewMemoryRepository()
	sender := &fakeSender{resp: pollResponse(t, "comm-1"), delay: 200 * time.Millisecond}
	svc := newTestService(sender, repo, nil, t)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			svc.Poll(context.Background())
		}()
	}
	close(start)
	wg.Wait()

	if sender.callCount() != 1 {
		t.Fatalf("sender called %d times, want 1", sender.callCount())
	}
}

func TestPollDistributedLockHeld(t *testing.T) {
	locker := cache.NewMemoryLocker()
	release, ok, err := locker.TryLock(context.Background(), pollLockKey, time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	defer release()

	sender := &fakeSender{resp: pollResponse(t, "comm-1")}
	svc := newTestService(sender, NewMemoryRepository(), locker, t)

	msgs, _, err := svc.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if msgs != nil {
		t.Fatalf("got %d messages, want no-op", len(msgs))
	}
	if sender.callCount() != 0 {
		t.Fatalf("sender called %d times, want 0", sender.callCount())
	}
}

func TestMarkProcessed(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(&fakeSender{resp: pollResponse(t, "comm-1")}, repo, nil, t)

	if _, _, err := svc.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if err := svc.MarkProcessed(context.Background(), "comm-1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	stored, err := repo.Get(context.Background(), "comm-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != StatusProcessed {
		t.Fatalf("status = %s, want processed", stored.Status)
	}

	err = svc.MarkProcessed(context.Background(), "comm-1")
	if _, ok := err.(*nphies.InvalidStateError); !ok {
		t.Fatalf("error = %v, want *nphies.InvalidStateError", err)
	}
}

func TestBuildPollBundleIntegrity(t *testing.T) {
	b, err := BuildPollBundle(testAuth(t), time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("BuildPollBundle: %v", err)
	}
	if err := fhir.CheckReferenceIntegrity(b); err != nil {
		t.Fatalf("reference integrity: %v", err)
	}
	hdr, err := b.Header()
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	if hdr.EventCoding.Code != fhir.EventPollRequest {
		t.Fatalf("event = %q, want %s", hdr.EventCoding.Code, fhir.EventPollRequest)
	}
	if b.FindResource("Task") == nil {
		t.Fatal("bundle missing Task entry")
	}
}
