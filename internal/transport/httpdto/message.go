package httpdto

// SendMessageRequest is used for POST /api/messages. Exactly one of
// receiver_id, group_id, channel_id must be set.
type SendMessageRequest struct {
	ReceiverID  string              `json:"receiver_id,omitempty"`
	GroupID     string              `json:"group_id,omitempty"`
	ChannelID   string              `json:"channel_id,omitempty"`
	Content     string              `json:"content"`
	MessageType string              `json:"message_type,omitempty"`
	ReplyToID   string              `json:"reply_to_id,omitempty"`
	ClientMsgID string              `json:"client_message_id,omitempty"`
	Attachments []AttachmentRequest `json:"attachments,omitempty"`
}

type AttachmentRequest struct {
	FileName string `json:"file_name" binding:"required"`
	FileURL  string `json:"file_url" binding:"required"`
	FileSize int64  `json:"file_size"`
	FileType string `json:"file_type"`
}

// MessagesQuery holds query parameters for GET /api/messages.
type MessagesQuery struct {
	ReceiverID string `form:"receiver_id"`
	GroupID    string `form:"group_id"`
	ChannelID  string `form:"channel_id"`
	BeforeID   string `form:"before_id"`
	Limit      int    `form:"limit"`
}

// MarkReadRequest is used for POST /api/messages/read.
type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required"`
}
