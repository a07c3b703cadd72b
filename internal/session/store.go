package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/omegacore/agentrun/internal/loop"
	"github.com/omegacore/agentrun/internal/util"
)

// minCleanupInterval is the smallest allowed TTL to prevent degenerate ticker intervals.
const minCleanupInterval = time.Millisecond

// Store is a TTL-evicting janitor layered over a loop.SessionMemory: the
// Engine's hard-core session memory has no notion of staleness, so Store
// tracks last-touched timestamps alongside it and periodically clears
// sessions nobody has used in a while. It also owns /compact-style history
// summarization, which is an ambient convenience, not part of the loop
// contract.
//
// NOT designed for multi-replica deployments; matches the single-process
// architecture this module was built around.
type Store struct {
	mu       sync.Mutex
	memory   *loop.SessionMemory
	lastUsed map[string]time.Time
	ttl      time.Duration
	done     chan struct{}
}

// NewStore creates a Store wrapping memory, evicting sessions idle longer
// than ttl. A background goroutine performs the eviction sweep; call Close
// to stop it.
func NewStore(memory *loop.SessionMemory, ttl time.Duration) *Store {
	if ttl < minCleanupInterval {
		ttl = minCleanupInterval
	}
	s := &Store{
		memory:   memory,
		lastUsed: make(map[string]time.Time),
		ttl:      ttl,
		done:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Touch records that session id was just used, resetting its TTL clock.
// The Engine itself doesn't know about Store, so callers touch a session
// after every request that reads or writes it.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed[id] = time.Now()
}

// Delete explicitly removes a session (e.g. user clicks "Clear Chat") from
// both the TTL tracker and the underlying memory.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.lastUsed, id)
	s.mu.Unlock()
	s.memory.Clear(id)
}

// Count returns the number of sessions this Store is currently tracking.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastUsed)
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (s *Store) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	cutoff := time.Now().Add(-s.ttl)
	var expired []string
	for id, last := range s.lastUsed {
		if last.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(s.lastUsed, id)
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.memory.Clear(id)
	}
}

// defaultCompactKeepN is the number of recent messages to keep verbatim
// after a /compact call collapses everything older into a summary.
const defaultCompactKeepN = 4

// Compact collapses all but the newest keepN messages of session id's
// history into a single summary message generated by invoker, prepended
// ahead of the retained tail. keepN<=0 uses defaultCompactKeepN. Returns the
// number of messages that were summarized away.
func Compact(ctx context.Context, invoker loop.LLMInvoker, memory *loop.SessionMemory, id string, keepN int) (int, error) {
	if keepN <= 0 {
		keepN = defaultCompactKeepN
	}
	history := memory.Get(id)
	if len(history) <= keepN {
		return 0, nil
	}

	old := history[:len(history)-keepN]
	tail := history[len(history)-keepN:]

	summary, err := summarize(ctx, invoker, old)
	if err != nil {
		return 0, fmt.Errorf("session: compact summary failed: %w", err)
	}

	compacted := append([]loop.ChatMessage{
		{Role: loop.RoleSystem, Content: loop.TextContent("Earlier conversation summary: " + summary)},
	}, tail...)
	memory.Put(id, compacted)
	return len(old), nil
}

func summarize(ctx context.Context, invoker loop.LLMInvoker, turns []loop.ChatMessage) (string, error) {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation in under 200 words. ")
	sb.WriteString("Preserve key facts, decisions and unfinished items:\n\n")
	for _, t := range turns {
		sb.WriteString(string(t.Role))
		sb.WriteString(": ")
		sb.WriteString(util.TruncateRunes(t.Text(), 500))
		sb.WriteString("\n")
	}

	summarizeCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	text, _, _, err := invoker.Invoke(summarizeCtx, "You write terse, factual conversation summaries.",
		[]loop.ChatMessage{{Role: loop.RoleUser, Content: loop.TextContent(sb.String())}},
		loop.CallOptions{Temperature: 0.2})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
