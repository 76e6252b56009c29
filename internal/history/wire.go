// ABOUTME: JSON record shapes returned by the REST API
// ABOUTME: Converts directory and summary records into model conversations

package history

import "github.com/2389/roomsync/internal/model"

// conversationRecord is a directory or summary record. Participant profile
// fields sit at the top level when the record describes a counterpart.
type conversationRecord struct {
	ID             string              `json:"_id"`
	ConversationID string              `json:"conversationId,omitempty"`
	FullName       string              `json:"fullName,omitempty"`
	ProfileImage   string              `json:"profileImage,omitempty"`
	Role           string              `json:"role,omitempty"`
	IdeaID         string              `json:"ideaId,omitempty"`
	Participants   []model.Participant `json:"participants,omitempty"`
	Messages       []model.Message     `json:"messages,omitempty"`
}

func (r conversationRecord) toConversation() model.Conversation {
	conv := model.Conversation{
		ID:      r.ConversationID,
		TopicID: r.IdeaID,
	}

	if len(r.Participants) > 0 {
		conv.Participants = append([]model.Participant(nil), r.Participants...)
		if conv.ID == "" {
			conv.ID = r.ID
		}
		return conv
	}

	conv.Counterpart = &model.Participant{
		ID:     r.ID,
		Name:   r.FullName,
		Avatar: r.ProfileImage,
		Role:   r.Role,
	}
	if conv.ID == "" {
		conv.ID = r.ID
	}
	return conv
}

// withConversation fills in the conversation ID on messages that omit it.
func withConversation(msgs []model.Message, conversationID string) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		m.Origin = model.OriginFetch
		out[i] = m
	}
	return out
}
