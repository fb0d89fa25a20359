package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"attendance/internal/fingerprint"
	"attendance/internal/matcher"
	"attendance/internal/metrics"
	"attendance/internal/queue"
)

// CaptureStatus classifies a finished capture cycle.
type CaptureStatus string

const (
	CaptureSuccess       CaptureStatus = "success"
	CaptureAlreadyMarked CaptureStatus = "already_marked"
	CaptureNoMatch       CaptureStatus = "no_match"
	CaptureError         CaptureStatus = "error"
)

// CaptureResult is the typed outcome of one ResolveAndCommit cycle. Failures
// are carried here rather than as Go errors so callers always get a terminal
// status plus a user-facing message.
type CaptureResult struct {
	Status     CaptureStatus `json:"status"`
	IdentityID string        `json:"identity_id,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Method     Method        `json:"method,omitempty"`
	Message    string        `json:"message"`
}

// Events receives post-commit notifications. Satisfied by queue.Queue.
type Events interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Service coordinates identity resolution and ledger commits.
type Service struct {
	dir    Directory
	store  Store
	gate   *Gate
	match  *matcher.Policy
	events Events
}

// NewService creates the attendance service. events may be nil, in which
// case commits are not announced to the audit worker.
func NewService(dir Directory, store Store, match *matcher.Policy, events Events) *Service {
	return &Service{
		dir:    dir,
		store:  store,
		gate:   NewGate(dir, store),
		match:  match,
		events: events,
	}
}

// publishCommit announces a committed entry on the queue. Best effort: a
// publish failure is logged, never surfaced, because the ledger write has
// already happened. Detached from the caller's context so a cycle reset
// cannot drop the audit record of a commit that landed.
func (s *Service) publishCommit(entry Entry) {
	if s.events == nil {
		return
	}
	body, err := json.Marshal(CommitEvent{
		IdentityID:  entry.IdentityID,
		Day:         entry.Day,
		Outcome:     entry.Outcome,
		Method:      entry.Method,
		CommittedBy: entry.CommittedBy,
		CommittedAt: entry.CommittedAt,
	})
	if err != nil {
		log.Printf("commit event marshal failed: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.events.Publish(ctx, queue.Message{Type: queue.TypeCommitted, Body: body}); err != nil {
		log.Printf("commit event publish failed for %s/%s: %v", entry.IdentityID, entry.Day, err)
	}
}

// Gate exposes the validation gate for callers that only need the check.
func (s *Service) Gate() *Gate { return s.gate }

// ResolveAndCommit runs the full pipeline for one captured frame: fingerprint
// fast path, visual matcher fallback, validation gate, ledger commit. The
// fast path short-circuits the matcher; when it hits, the two can never
// disagree because the matcher is not consulted at all.
func (s *Service) ResolveAndCommit(ctx context.Context, image []byte, day, actor string) CaptureResult {
	res := s.resolveAndCommit(ctx, image, day, actor)
	metrics.Resolutions.WithLabelValues(string(res.Status)).Inc()
	return res
}

func (s *Service) resolveAndCommit(ctx context.Context, image []byte, day, actor string) CaptureResult {
	digest, err := fingerprint.Compute(image)
	if err != nil {
		return CaptureResult{Status: CaptureError, Message: "could not read the captured frame, please retake"}
	}

	identityID := ""
	confidence := 1.0
	method := MethodFingerprint

	found, err := s.dir.FindIDByFingerprint(ctx, digest)
	if err != nil {
		return CaptureResult{Status: CaptureError, Message: "identity lookup failed"}
	}
	identityID = found

	if identityID == "" {
		candidates, err := s.dir.ListCandidates(ctx, day)
		if err != nil {
			return CaptureResult{Status: CaptureError, Message: "candidate lookup failed"}
		}

		match, err := s.match.Resolve(ctx, image, candidates)
		if err != nil {
			log.Printf("matcher failure: %v", err)
			return CaptureResult{Status: CaptureError, Message: "face matching service failed, try again"}
		}
		switch match.Status {
		case matcher.StatusNoFace:
			return CaptureResult{Status: CaptureNoMatch, Message: "no face detected in the frame"}
		case matcher.StatusMultipleFaces:
			return CaptureResult{Status: CaptureNoMatch, Message: "multiple faces in the frame, capture one person at a time"}
		case matcher.StatusNoMatch:
			// With an empty gallery the matcher was never consulted, so
			// there is no best confidence to report.
			msg := "no identities enrolled for matching"
			if len(candidates) > 0 {
				msg = fmt.Sprintf("no enrolled identity matched (best confidence %.2f)", match.BestConfidence)
			}
			return CaptureResult{
				Status:     CaptureNoMatch,
				Confidence: match.BestConfidence,
				Message:    msg,
			}
		}
		identityID = match.IdentityID
		confidence = match.Confidence
		method = MethodVisual
	}

	if err := s.gate.Validate(ctx, identityID, day); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyMarked):
			return CaptureResult{
				Status:     CaptureAlreadyMarked,
				IdentityID: identityID,
				Method:     method,
				Message:    fmt.Sprintf("%s is already marked for %s", identityID, day),
			}
		case errors.Is(err, ErrUnknownIdentity):
			// The matcher named someone the registry no longer knows.
			return CaptureResult{Status: CaptureError, IdentityID: identityID, Message: "resolved identity is not enrolled"}
		default:
			return CaptureResult{Status: CaptureError, Message: "validation failed"}
		}
	}

	// The caller may have been reset or torn down while the matcher ran; a
	// late cycle must not land its commit.
	if err := ctx.Err(); err != nil {
		return CaptureResult{Status: CaptureError, Message: "capture cycle cancelled"}
	}

	entry := Entry{
		IdentityID:  identityID,
		Day:         day,
		Outcome:     OutcomePresent,
		Method:      method,
		CommittedBy: actor,
		CommittedAt: time.Now().UTC(),
	}
	if err := s.store.Upsert(ctx, entry); err != nil {
		log.Printf("ledger commit failed for %s/%s: %v", identityID, day, err)
		msg := "attendance could not be saved"
		if errors.Is(err, ErrForbidden) {
			msg = "attendance write was denied"
		}
		return CaptureResult{Status: CaptureError, IdentityID: identityID, Message: msg}
	}
	s.publishCommit(entry)

	metrics.Commits.WithLabelValues(string(method), string(OutcomePresent)).Inc()
	return CaptureResult{
		Status:     CaptureSuccess,
		IdentityID: identityID,
		Confidence: confidence,
		Method:     method,
		Message:    fmt.Sprintf("%s marked present for %s", identityID, day),
	}
}

// ManualCommit records an outcome chosen by an operator, bypassing capture
// and matching but not the validation gate. A leave reason is stored only for
// a present outcome explicitly tagged on-leave; every other commit clears it.
func (s *Service) ManualCommit(ctx context.Context, identityID, day string, outcome Outcome, leaveReason *string, actor string) (*Entry, error) {
	day, err := ParseDay(day)
	if err != nil {
		return nil, err
	}
	if outcome != OutcomePresent && outcome != OutcomeAbsent {
		return nil, fmt.Errorf("invalid outcome %q", outcome)
	}

	if err := s.gate.Validate(ctx, identityID, day); err != nil {
		return nil, err
	}

	entry := Entry{
		IdentityID:  identityID,
		Day:         day,
		Outcome:     outcome,
		LeaveReason: normalizeLeaveReason(outcome, leaveReason),
		Method:      MethodManual,
		CommittedBy: actor,
		CommittedAt: time.Now().UTC(),
	}
	if err := s.store.Upsert(ctx, entry); err != nil {
		return nil, err
	}
	s.publishCommit(entry)

	metrics.Commits.WithLabelValues(string(MethodManual), string(outcome)).Inc()
	return &entry, nil
}

// Recommit rewrites an existing entry deliberately, skipping the gate. This
// is the explicit correction path for administrative flows; automated flows
// always gate first.
func (s *Service) Recommit(ctx context.Context, identityID, day string, outcome Outcome, leaveReason *string, actor string) (*Entry, error) {
	day, err := ParseDay(day)
	if err != nil {
		return nil, err
	}
	if outcome != OutcomePresent && outcome != OutcomeAbsent {
		return nil, fmt.Errorf("invalid outcome %q", outcome)
	}

	enrolled, err := s.dir.Exists(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !enrolled {
		return nil, ErrUnknownIdentity
	}

	entry := Entry{
		IdentityID:  identityID,
		Day:         day,
		Outcome:     outcome,
		LeaveReason: normalizeLeaveReason(outcome, leaveReason),
		Method:      MethodManual,
		CommittedBy: actor,
		CommittedAt: time.Now().UTC(),
	}
	if err := s.store.Upsert(ctx, entry); err != nil {
		return nil, err
	}
	s.publishCommit(entry)

	metrics.Commits.WithLabelValues(string(MethodManual), string(outcome)).Inc()
	return &entry, nil
}

// normalizeLeaveReason enforces the leave-reason invariant: present only,
// non-empty only. Returning nil here is what makes the upsert clear a stale
// reason, since the write fully replaces the row.
func normalizeLeaveReason(outcome Outcome, reason *string) *string {
	if outcome != OutcomePresent || reason == nil || *reason == "" {
		return nil
	}
	return reason
}
