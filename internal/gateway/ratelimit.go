package gateway

import (
	"sync"
	"time"
)

// Rate limits per minute
type RateLimits struct {
	MaxMessages     int
	MaxTypingEvents int
	MaxReadReceipts int
	MaxReactions    int
	MaxPingMessages int
}

var DefaultRateLimits = RateLimits{
	MaxMessages:     120,
	MaxTypingEvents: 60,
	MaxReadReceipts: 120,
	MaxReactions:    60,
	MaxPingMessages: 60,
}

// ClientRateLimiter tracks per-connection action budgets
type ClientRateLimiter struct {
	messageTokens     int
	typingTokens      int
	readReceiptTokens int
	reactionTokens    int
	pingTokens        int
	lastRefill        time.Time
	mu                sync.Mutex
}

func NewClientRateLimiter() *ClientRateLimiter {
	return &ClientRateLimiter{
		messageTokens:     DefaultRateLimits.MaxMessages,
		typingTokens:      DefaultRateLimits.MaxTypingEvents,
		readReceiptTokens: DefaultRateLimits.MaxReadReceipts,
		reactionTokens:    DefaultRateLimits.MaxReactions,
		pingTokens:        DefaultRateLimits.MaxPingMessages,
		lastRefill:        time.Now(),
	}
}

func (rl *ClientRateLimiter) Allow(actionType string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastRefill) >= time.Minute {
		rl.refillTokens()
		rl.lastRefill = now
	}

	switch actionType {
	case ActionSendMessage, ActionEditMessage, ActionDeleteMessage:
		if rl.messageTokens > 0 {
			rl.messageTokens--
			return true
		}
	case ActionTypingStart, ActionTypingStop:
		if rl.typingTokens > 0 {
			rl.typingTokens--
			return true
		}
	case ActionMarkRead, ActionConfirmDelivery, ActionJoinChat:
		if rl.readReceiptTokens > 0 {
			rl.readReceiptTokens--
			return true
		}
	case ActionReact:
		if rl.reactionTokens > 0 {
			rl.reactionTokens--
			return true
		}
	case ActionPing:
		if rl.pingTokens > 0 {
			rl.pingTokens--
			return true
		}
	default:
		// Unknown types pass through so the dispatcher can reject them.
		return true
	}
	return false
}

func (rl *ClientRateLimiter) refillTokens() {
	rl.messageTokens = DefaultRateLimits.MaxMessages
	rl.typingTokens = DefaultRateLimits.MaxTypingEvents
	rl.readReceiptTokens = DefaultRateLimits.MaxReadReceipts
	rl.reactionTokens = DefaultRateLimits.MaxReactions
	rl.pingTokens = DefaultRateLimits.MaxPingMessages
}
