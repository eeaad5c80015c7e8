package events

// Outbound event type constants, format: domain:action.

// Message events
const (
	TypeMessageReceived  = "message:received"
	TypeMessageConfirmed = "message:confirmed"
	TypeMessageDelivered = "message:delivered"
	TypeMessageRead      = "message:read"
	TypeMessageEdited    = "message:edited"
	TypeMessageDeleted   = "message:deleted"
	TypeReactionChanged  = "reaction:changed"
)

// Presence and typing events
const (
	TypeUserOnline    = "user:online"
	TypeUserOffline   = "user:offline"
	TypeTypingStarted = "typing:start"
	TypeTypingStopped = "typing:stop"
)

// Connection-scoped events, never broadcast
const (
	TypeError = "error"
	TypePong  = "pong"
)

// Error codes carried by ErrorEvent
const (
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeNotFound      = "NOT_FOUND"
	CodePolicyExpired = "POLICY_EXPIRED"
	CodeStorage       = "STORAGE_UNAVAILABLE"
	CodeRateLimited   = "RATE_LIMITED"
)
