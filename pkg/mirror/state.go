package mirror

import "fmt"

// VideoState is the lifecycle state of a Video.
type VideoState int

const (
	VideoDiscovered VideoState = iota + 1
	VideoDownloaded
	VideoReposted
	VideoStale
	VideoError
	VideoPurged
)

// String returns the lowercase name stored in the database.
func (s VideoState) String() string {
	switch s {
	case VideoDiscovered:
		return "discovered"
	case VideoDownloaded:
		return "downloaded"
	case VideoReposted:
		return "reposted"
	case VideoStale:
		return "stale"
	case VideoError:
		return "error"
	case VideoPurged:
		return "purged"
	}
	return fmt.Sprintf("VideoState(%d)", int(s))
}

// Terminal reports whether no further acquisition or publication may happen.
func (s VideoState) Terminal() bool {
	switch s {
	case VideoReposted, VideoPurged:
		return true
	case VideoDiscovered, VideoDownloaded, VideoStale, VideoError:
		return false
	}
	return false
}

// CanTransitionTo reports whether s -> next is a legal lifecycle step.
// Re-entering the same state is always allowed so repeated runs stay idempotent.
func (s VideoState) CanTransitionTo(next VideoState) bool {
	if s == next {
		return true
	}
	switch s {
	case VideoDiscovered:
		return next == VideoDownloaded || next == VideoError
	case VideoDownloaded:
		// Error covers a local copy that vanished and could not be re-acquired.
		return next == VideoReposted || next == VideoStale || next == VideoError
	case VideoError:
		return next == VideoDownloaded || next == VideoStale
	case VideoReposted:
		return next == VideoPurged
	case VideoStale:
		return next == VideoPurged
	case VideoPurged:
		return false
	}
	return false
}

// ParseVideoState is the inverse of VideoState.String.
func ParseVideoState(s string) (VideoState, error) {
	for st := VideoDiscovered; st <= VideoPurged; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown video state %q", s)
}

// MentionState is the lifecycle state of a Mention.
type MentionState int

const (
	MentionPending MentionState = iota + 1
	MentionFulfilled
	MentionStale
)

func (s MentionState) String() string {
	switch s {
	case MentionPending:
		return "pending"
	case MentionFulfilled:
		return "fulfilled"
	case MentionStale:
		return "stale"
	}
	return fmt.Sprintf("MentionState(%d)", int(s))
}

// CanTransitionTo reports whether s -> next is a legal mention step.
func (s MentionState) CanTransitionTo(next MentionState) bool {
	if s == next {
		return true
	}
	switch s {
	case MentionPending:
		return next == MentionFulfilled || next == MentionStale
	case MentionFulfilled, MentionStale:
		return false
	}
	return false
}

// ParseMentionState is the inverse of MentionState.String.
func ParseMentionState(s string) (MentionState, error) {
	for st := MentionPending; st <= MentionStale; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown mention state %q", s)
}

// TransitionError reports an illegal state change.
type TransitionError struct {
	ID   string
	From fmt.Stringer
	To   fmt.Stringer
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition for %s: %s -> %s", e.ID, e.From, e.To)
}

// Transition moves v to next, refusing illegal steps.
func (v *Video) Transition(next VideoState) error {
	if !v.State.CanTransitionTo(next) {
		return &TransitionError{ID: v.ID, From: v.State, To: next}
	}
	v.State = next
	return nil
}

// Transition moves m to next, refusing illegal steps.
func (m *Mention) Transition(next MentionState) error {
	if !m.State.CanTransitionTo(next) {
		return &TransitionError{ID: m.Permalink, From: m.State, To: next}
	}
	m.State = next
	return nil
}
