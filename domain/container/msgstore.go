package container

import (
	"context"
	"sync"
)

// LogKind tags the variant carried by a LogMsg — spec.md §3's LogMsg sum
// type.
type LogKind string

const (
	LogKindStdout    LogKind = "Stdout"
	LogKindStderr    LogKind = "Stderr"
	LogKindJsonPatch LogKind = "JsonPatch"
	LogKindSessionID LogKind = "SessionId"
	LogKindMessageID LogKind = "MessageId"
	LogKindReady     LogKind = "Ready"
	LogKindFinished  LogKind = "Finished"
)

// LogMsg is one event pushed through a MsgStore. Only Stdout/Stderr/
// JsonPatch/Finished are replayable; SessionId/MessageId/Ready are
// control events consumed internally by the drain task.
type LogMsg struct {
	Kind  LogKind `json:"kind"`
	Text  string  `json:"text,omitempty"`  // Stdout/Stderr
	Patch any     `json:"patch,omitempty"` // JsonPatch
	Value string  `json:"value,omitempty"` // SessionId/MessageId payload
}

// IsReplayable reports whether msg is one of the four kinds persisted to
// and replayed from the log file.
func (m LogMsg) IsReplayable() bool {
	switch m.Kind {
	case LogKindStdout, LogKindStderr, LogKindJsonPatch, LogKindFinished:
		return true
	default:
		return false
	}
}

// Subscription is a live view over a MsgStore returned by
// HistoryPlusStream: first the history snapshot, then every subsequent
// push, until Finished is observed.
type Subscription struct {
	C      <-chan LogMsg
	cancel func()
}

// Close detaches this subscription from the store it was created from.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// MsgStore is the unbounded, multi-consumer, single-producer fan-out
// buffer of spec.md §4.4: push is O(1) and appends to history while
// fanning out to every live subscriber; history_plus_stream replays the
// history snapshot first, then live pushes, terminating after Finished.
type MsgStore struct {
	mu       sync.Mutex
	history  []LogMsg
	subs     map[chan LogMsg]struct{}
	finished bool
}

// NewMsgStore creates an empty store.
func NewMsgStore() *MsgStore {
	return &MsgStore{subs: make(map[chan LogMsg]struct{})}
}

// Push appends msg to history and fans it out to every current
// subscriber. O(1) aside from the fan-out loop over live subscribers.
func (s *MsgStore) Push(msg LogMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return
	}
	s.history = append(s.history, msg)
	if msg.Kind == LogKindFinished {
		s.finished = true
	}
	for ch := range s.subs {
		select {
		case ch <- msg:
		default:
			// Slow consumer: drop rather than block the single producer.
			// The consumer still has the full history available via its
			// own HistoryPlusStream call on reconnect.
		}
	}
}

// PushFinished is equivalent to Push(LogMsg{Kind: LogKindFinished}) and
// marks the stream terminal; no further pushes are accepted.
func (s *MsgStore) PushFinished() {
	s.Push(LogMsg{Kind: LogKindFinished})
}

// HistoryPlusStream returns a subscription that first yields a snapshot
// of history in insertion order, then yields every subsequent push until
// Finished is observed (inclusive), then closes the channel.
func (s *MsgStore) HistoryPlusStream(ctx context.Context) *Subscription {
	s.mu.Lock()
	snapshot := make([]LogMsg, len(s.history))
	copy(snapshot, s.history)
	alreadyFinished := s.finished
	ch := make(chan LogMsg, 256)
	if !alreadyFinished {
		s.subs[ch] = struct{}{}
	}
	s.mu.Unlock()

	out := make(chan LogMsg, 256)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(out)
		for _, m := range snapshot {
			select {
			case out <- m:
				if m.Kind == LogKindFinished {
					return
				}
			case <-subCtx.Done():
				return
			}
		}
		if alreadyFinished {
			return
		}
		defer func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
		}()
		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- m:
					if m.Kind == LogKindFinished {
						return
					}
				case <-subCtx.Done():
					return
				}
			case <-subCtx.Done():
				return
			}
		}
	}()

	return &Subscription{C: out, cancel: cancel}
}

// IsFinished reports whether PushFinished has already been observed.
func (s *MsgStore) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// StoreRegistry is the keyed registry of live MsgStores — spec.md §5's
// msg_stores map, guarded by a single readers-writer lock. Writers:
// Register (insert) and Take (remove, on process termination). Readers:
// log streamers cloning a handle.
type StoreRegistry struct {
	mu     sync.RWMutex
	stores map[string]*MsgStore
}

// NewStoreRegistry creates an empty registry.
func NewStoreRegistry() *StoreRegistry {
	return &StoreRegistry{stores: make(map[string]*MsgStore)}
}

// Register inserts a new store under executionID. Overwrites any
// pre-existing entry (the caller guarantees execution ids are unique).
func (r *StoreRegistry) Register(executionID string) *MsgStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := NewMsgStore()
	r.stores[executionID] = s
	return s
}

// Get returns the live store for executionID, or nil if absent — the
// signal that callers fall back to on-disk replay.
func (r *StoreRegistry) Get(executionID string) *MsgStore {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stores[executionID]
}

// Take removes and returns the store for executionID, if present. Called
// by the process reaper on finalize.
func (r *StoreRegistry) Take(executionID string) *MsgStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[executionID]
	if !ok {
		return nil
	}
	delete(r.stores, executionID)
	return s
}
