package model

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type Conversation struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	UserID        string `json:"user_id,omitempty"`
	Title         string `json:"title,omitempty"`
	IsArchived    bool   `json:"is_archived"`
	LastMessageAt int64  `json:"last_message_at,omitempty"`
	Ctime         int64  `json:"ctime"`
	Mtime         int64  `json:"mtime"`
}

type Citation struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	DocID   string `json:"doc_id"`
	Page    *int   `json:"page,omitempty"`
	Section string `json:"section,omitempty"`
}

type Message struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	ConversationID string     `json:"conversation_id"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	Citations      []Citation `json:"citations"`
	TokenCount     int        `json:"token_count,omitempty"`
	Ctime          int64      `json:"ctime"`
}

// ConversationSummary compresses every message up to UpToMessageID. The
// highest summary_index per conversation is the authoritative memory.
type ConversationSummary struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenant_id"`
	ConversationID string `json:"conversation_id"`
	SummaryIndex   int    `json:"summary_index"`
	SummaryText    string `json:"summary_text"`
	UpToMessageID  string `json:"up_to_message_id,omitempty"`
	Ctime          int64  `json:"ctime"`
}
