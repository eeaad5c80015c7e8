// Package reconcile holds the client-side timeline reducer: the pure state
// machine a rendering layer drives with server events and local intents. It
// has no transport or UI dependencies, which is what makes the merge rules
// testable on their own.
package reconcile

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"orgmessenger/internal/events"
)

// Local send states. Entries from the server carry StatusSent; only
// optimistic local sends pass through the other two.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// DefaultPendingWait is how long an unconfirmed optimistic send may wait
// before it is shown as failed.
const DefaultPendingWait = 10 * time.Second

// Entry is one timeline row.
type Entry struct {
	Message  events.MessageDTO
	Status   string
	TempID   string
	QueuedAt time.Time
}

// PeerPresence is the last known presence of another user.
type PeerPresence struct {
	Online     bool
	LastSeenAt time.Time
}

// Timeline is the reducer state for one open conversation. All mutation goes
// through the Apply* methods; the caller renders from Entries() after each
// batch of events.
type Timeline struct {
	selfID      uuid.UUID
	pendingWait time.Duration

	entries []*Entry
	byID    map[uuid.UUID]*Entry
	pending map[string]*Entry

	focused      bool
	separatorID  uuid.UUID
	hasSeparator bool
	unreadCount  int
	pendingAcks  []uuid.UUID

	peers map[uuid.UUID]PeerPresence
}

func NewTimeline(selfID uuid.UUID, pendingWait time.Duration) *Timeline {
	if pendingWait <= 0 {
		pendingWait = DefaultPendingWait
	}
	return &Timeline{
		selfID:      selfID,
		pendingWait: pendingWait,
		byID:        make(map[uuid.UUID]*Entry),
		pending:     make(map[string]*Entry),
		focused:     true,
		peers:       make(map[uuid.UUID]PeerPresence),
	}
}

// AppendLocal records an optimistic send. The entry renders immediately with
// a pending marker and is replaced on confirmation.
func (t *Timeline) AppendLocal(tempID, content, messageType string, at time.Time) {
	entry := &Entry{
		Message: events.MessageDTO{
			SenderID:      t.selfID,
			Content:       content,
			Type:          messageType,
			SentAt:        at,
			DeliveryState: "sent",
		},
		Status:   StatusPending,
		TempID:   tempID,
		QueuedAt: at,
	}
	t.pending[tempID] = entry
	t.entries = append(t.entries, entry)
}

// ApplyConfirmed swaps a pending entry's identity for the persisted one. A
// confirm with no matching pending entry (another tab sent it) degrades to a
// plain Apply.
func (t *Timeline) ApplyConfirmed(tempID string, msg events.MessageDTO) {
	entry, ok := t.pending[tempID]
	if !ok {
		t.Apply(msg)
		return
	}
	delete(t.pending, tempID)

	entry.Message = msg
	entry.Status = StatusSent
	entry.TempID = ""
	t.byID[msg.ID] = entry
	t.resort()
}

// ExpirePending marks sends older than the pending wait as failed and
// returns their temp ids. Failed entries stay visible until retried or
// discarded by the user.
func (t *Timeline) ExpirePending(now time.Time) []string {
	var expired []string
	for tempID, entry := range t.pending {
		if entry.Status == StatusPending && now.Sub(entry.QueuedAt) > t.pendingWait {
			entry.Status = StatusFailed
			expired = append(expired, tempID)
		}
	}
	return expired
}

// RetrySend re-arms a failed entry under the same temp id, so the server-side
// dedup still collapses the original send if it did land.
func (t *Timeline) RetrySend(tempID string, now time.Time) bool {
	entry, ok := t.pending[tempID]
	if !ok || entry.Status != StatusFailed {
		return false
	}
	entry.Status = StatusPending
	entry.QueuedAt = now
	return true
}

// Apply merges one server message, from a live push or a history replay.
// Duplicates by id are dropped, so overlap between the two sources is
// harmless. Messages from others either queue a read ack (focused) or grow
// the unread separator (unfocused).
func (t *Timeline) Apply(msg events.MessageDTO) {
	if _, ok := t.byID[msg.ID]; ok {
		return
	}

	entry := &Entry{Message: msg, Status: StatusSent}
	t.byID[msg.ID] = entry
	t.insertSorted(entry)

	if msg.SenderID == t.selfID {
		return
	}
	if t.focused {
		t.pendingAcks = append(t.pendingAcks, msg.ID)
		return
	}
	if !t.hasSeparator {
		t.separatorID = msg.ID
		t.hasSeparator = true
	}
	t.unreadCount++
}

// PendingAcks drains the read acks the caller owes the server.
func (t *Timeline) PendingAcks() []uuid.UUID {
	acks := t.pendingAcks
	t.pendingAcks = nil
	return acks
}

// SetFocus flips window focus. Regaining focus converts accumulated unread
// messages into read acks and clears the separator.
func (t *Timeline) SetFocus(focused bool) {
	if focused == t.focused {
		return
	}
	t.focused = focused
	if !focused {
		return
	}

	if t.hasSeparator {
		start := t.indexOf(t.separatorID)
		if start >= 0 {
			for _, entry := range t.entries[start:] {
				if entry.Message.SenderID != t.selfID && entry.Message.ID != uuid.Nil {
					t.pendingAcks = append(t.pendingAcks, entry.Message.ID)
				}
			}
		}
	}
	t.hasSeparator = false
	t.separatorID = uuid.Nil
	t.unreadCount = 0
}

// Separator reports where the unread divider renders and how many messages
// sit below it.
func (t *Timeline) Separator() (uuid.UUID, int, bool) {
	return t.separatorID, t.unreadCount, t.hasSeparator
}

// PrependHistory merges an older page and returns the scroll adjustment that
// keeps the viewport anchored: the delta between the container's height after
// and before the insert.
func (t *Timeline) PrependHistory(msgs []events.MessageDTO, oldScrollHeight, newScrollHeight int) int {
	for _, msg := range msgs {
		if _, ok := t.byID[msg.ID]; ok {
			continue
		}
		entry := &Entry{Message: msg, Status: StatusSent}
		t.byID[msg.ID] = entry
		t.insertSorted(entry)
	}
	return newScrollHeight - oldScrollHeight
}

func (t *Timeline) ApplyEdited(id uuid.UUID, newContent string, at time.Time) {
	entry, ok := t.byID[id]
	if !ok {
		return
	}
	entry.Message.Content = newContent
	entry.Message.IsEdited = true
	entry.Message.EditedAt = &at
}

// ApplyDeleted removes the entry outright for a hard delete; a notice delete
// turns it into a tombstone with content and attachments dropped.
func (t *Timeline) ApplyDeleted(id uuid.UUID, visibility string) {
	entry, ok := t.byID[id]
	if !ok {
		return
	}
	if visibility == "hard" {
		delete(t.byID, id)
		if i := t.indexOf(id); i >= 0 {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
		}
		return
	}
	entry.Message.IsDeleted = true
	entry.Message.DeleteVisibility = visibility
	entry.Message.Content = ""
	entry.Message.Attachments = nil
	entry.Message.Reactions = nil
}

func (t *Timeline) ApplyReactions(id uuid.UUID, reactions []events.ReactionDTO) {
	if entry, ok := t.byID[id]; ok {
		entry.Message.Reactions = reactions
	}
}

// ApplyDelivered only ever advances the state; a delivered event arriving
// after read is ignored.
func (t *Timeline) ApplyDelivered(id uuid.UUID) {
	if entry, ok := t.byID[id]; ok && entry.Message.DeliveryState == "sent" {
		entry.Message.DeliveryState = "delivered"
	}
}

func (t *Timeline) ApplyRead(id uuid.UUID) {
	if entry, ok := t.byID[id]; ok {
		entry.Message.DeliveryState = "read"
	}
}

func (t *Timeline) ApplyPresence(userID uuid.UUID, online bool, lastSeen time.Time) {
	t.peers[userID] = PeerPresence{Online: online, LastSeenAt: lastSeen}
}

func (t *Timeline) Presence(userID uuid.UUID) (PeerPresence, bool) {
	p, ok := t.peers[userID]
	return p, ok
}

// Entries returns the timeline in render order.
func (t *Timeline) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}

func (t *Timeline) Len() int { return len(t.entries) }

func (t *Timeline) insertSorted(entry *Entry) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return !before(t.entries[i], entry)
	})
	t.entries = append(t.entries, nil)
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = entry
}

func (t *Timeline) resort() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		return before(t.entries[i], t.entries[j])
	})
}

func (t *Timeline) indexOf(id uuid.UUID) int {
	for i, entry := range t.entries {
		if entry.Message.ID == id {
			return i
		}
	}
	return -1
}

// before orders by sent time, ties broken by id so every client converges on
// the same order.
func before(a, b *Entry) bool {
	if !a.Message.SentAt.Equal(b.Message.SentAt) {
		return a.Message.SentAt.Before(b.Message.SentAt)
	}
	return strings.Compare(a.Message.ID.String(), b.Message.ID.String()) < 0
}
