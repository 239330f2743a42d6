package http

import (
	"github.com/sonu-tech-hub/mychat-rtc/internal/store"
)

// UserResponse is the public projection of a user record.
type UserResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Status    string `json:"status"`
	LastSeen  int64  `json:"lastSeen"`
}

// MessageResponse is the REST projection of a stored message.
type MessageResponse struct {
	ID          string   `json:"id"`
	SenderID    string   `json:"senderId"`
	RecipientID *string  `json:"recipientId,omitempty"`
	GroupID     *string  `json:"groupId,omitempty"`
	Content     string   `json:"content"`
	Type        string   `json:"type"`
	Attachments []string `json:"attachments,omitempty"`
	Delivered   bool     `json:"delivered"`
	Read        bool     `json:"read"`
	Edited      bool     `json:"edited"`
	Deleted     bool     `json:"deleted"`
	CreatedAt   int64    `json:"createdAt"`
}

func toUserResponse(user *store.User) UserResponse {
	return UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		AvatarURL: user.AvatarURL,
		Status:    string(user.Status),
		LastSeen:  user.LastSeen.UnixMilli(),
	}
}

func toMessageResponse(msg *store.Message) MessageResponse {
	return MessageResponse{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		GroupID:     msg.GroupID,
		Content:     msg.Content,
		Type:        string(msg.Type),
		Attachments: msg.Attachments,
		Delivered:   msg.Delivered,
		Read:        msg.Read,
		Edited:      msg.Edited,
		Deleted:     msg.State == store.MessageStateDeleted,
		CreatedAt:   msg.CreatedAt.UnixMilli(),
	}
}

func toMessagesResponse(messages []*store.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, msg := range messages {
		out = append(out, toMessageResponse(msg))
	}
	return out
}
