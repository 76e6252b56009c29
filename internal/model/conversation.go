// ABOUTME: Participant and Conversation directory entities
// ABOUTME: Conversations are replaced wholesale on refetch, never mutated

package model

// Participant is a user listed in the conversation directory.
type Participant struct {
	ID     string `json:"_id"`
	Name   string `json:"fullName"`
	Avatar string `json:"profileImage,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Conversation is a directory entry. Either Participants holds the pair of
// members, or Counterpart holds the other party of a direct conversation.
type Conversation struct {
	ID           string
	Participants []Participant
	Counterpart  *Participant
	TopicID      string
}

// Title returns a display name for the conversation.
func (c Conversation) Title() string {
	if c.Counterpart != nil && c.Counterpart.Name != "" {
		return c.Counterpart.Name
	}
	for _, p := range c.Participants {
		if p.Name != "" {
			return p.Name
		}
	}
	return c.ID
}

// CounterpartKeyed reports whether history must be fetched by participant
// because the directory did not supply a conversation identifier.
func (c Conversation) CounterpartKeyed() bool {
	return c.Counterpart != nil && c.ID == c.Counterpart.ID
}
