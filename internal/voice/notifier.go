package voice

import "sync"

// SpeakerNotifier is a single-writer, multi-reader broadcast of the current
// speaker. Only the most recent value matters for presence display, so each
// subscriber channel has capacity one and a stale pending value is replaced
// rather than queued (last-write-wins).
type SpeakerNotifier struct {
	mu      sync.Mutex
	current string // empty means nobody is speaking
	subs    []chan string
}

func NewSpeakerNotifier() *SpeakerNotifier {
	return &SpeakerNotifier{}
}

// Subscribe returns a channel that receives the current value immediately
// and every subsequent change. The channel is never closed.
func (n *SpeakerNotifier) Subscribe() <-chan string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan string, 1)
	ch <- n.current
	n.subs = append(n.subs, ch)
	return ch
}

// Notify publishes a new current speaker ("" clears it).
func (n *SpeakerNotifier) Notify(userID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = userID
	for _, ch := range n.subs {
		// Drop whatever the subscriber has not consumed yet.
		select {
		case <-ch:
		default:
		}
		ch <- userID
	}
}

// Clear broadcasts that nobody is speaking.
func (n *SpeakerNotifier) Clear() { n.Notify("") }

// Current returns the last published speaker.
func (n *SpeakerNotifier) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}
