package protocol

import "time"

// Profile is the federated identity's local shadow record (spec.md §3).
type Profile struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

// Guild is the single node guild (spec.md §3, §1 "exactly one guild per node").
type Guild struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Role is a named permission bundle with a hierarchy position (spec.md §3).
type Role struct {
	ID          string     `json:"id"`
	GuildID     string     `json:"guildId"`
	Name        string     `json:"name"`
	Color       int        `json:"color"`
	Permissions Permission `json:"permissions"`
	Hoist       bool       `json:"hoist"`
	Position    int        `json:"position"`
	IconURL     string     `json:"iconUrl,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Member is a user's presence within the guild (spec.md §3). RoleIDs always implicitly includes the guild id.
type Member struct {
	GuildID       string     `json:"guildId"`
	UserID        string     `json:"userId"`
	Nickname      string     `json:"nickname,omitempty"`
	RoleIDs       []string   `json:"roleIds"`
	JoinedAt      time.Time  `json:"joinedAt"`
	TimeoutUntil  *time.Time `json:"timeoutUntil,omitempty"`
	VoiceMuted    bool       `json:"voiceMuted"`
	VoiceDeafened bool       `json:"voiceDeafened"`
}

// Channel types.
const (
	ChannelText     = "text"
	ChannelVoice    = "voice"
	ChannelCategory = "category"
)

// Override holds the allow/deny delta for one principal (role or member) on a channel or category.
type Override struct {
	Allow Permission `json:"allow"`
	Deny  Permission `json:"deny"`
}

// PermissionOverrides groups role and member overrides for a channel or category (spec.md §3).
type PermissionOverrides struct {
	Roles   map[string]Override `json:"roles"`
	Members map[string]Override `json:"members"`
}

// Channel is a text, voice, or category container (spec.md §3).
type Channel struct {
	ID         string              `json:"id"`
	GuildID    string              `json:"guildId"`
	Name       string              `json:"name"`
	Type       string              `json:"type"`
	CategoryID *string             `json:"categoryId,omitempty"`
	Position   int                 `json:"position"`
	CreatedBy  string              `json:"createdBy,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
	Overrides  PermissionOverrides `json:"permissionOverrides"`
}

// Attachment is the view of an Upload embedded in a Message.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	URL      string `json:"url"`
}

// Message is a chat message (spec.md §3). Content is capped at 2000 characters.
type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channelId"`
	AuthorID    string       `json:"authorId"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	ReplyToID   *string      `json:"replyToId,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// MessageAuthor is the author summary embedded in a MessageView, resolved from the local profiles table so clients
// can render a message without a second lookup.
type MessageAuthor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ReplyPreview is the trimmed view of the message a reply points at, embedded in a MessageView so clients can
// render the reply affordance without fetching the referenced message.
type ReplyPreview struct {
	ID      string         `json:"id"`
	Author  *MessageAuthor `json:"author,omitempty"`
	Content string         `json:"content"`
}

// MessageView is the full client-facing shape broadcast as message:new and returned by message history (spec.md
// §4.5 "full view with author and reply preview"). Author is nil when the author's profile was never cached on
// this node (e.g. purged).
type MessageView struct {
	Message
	Author  *MessageAuthor `json:"author,omitempty"`
	ReplyTo *ReplyPreview  `json:"replyTo,omitempty"`
}

// replyPreviewMaxRunes caps the preview snippet; clients only need enough to identify the referenced message.
const replyPreviewMaxRunes = 120

// BuildMessageView assembles a MessageView from a stored message, the profiles of the authors involved (keyed by
// user id), and the optional reply target.
func BuildMessageView(m Message, profiles map[string]Profile, replyTo *Message) MessageView {
	v := MessageView{Message: m}
	if p, ok := profiles[m.AuthorID]; ok {
		v.Author = &MessageAuthor{ID: p.ID, Username: p.Username}
	}
	if replyTo != nil {
		preview := &ReplyPreview{ID: replyTo.ID, Content: trimPreview(replyTo.Content)}
		if p, ok := profiles[replyTo.AuthorID]; ok {
			preview.Author = &MessageAuthor{ID: p.ID, Username: p.Username}
		}
		v.ReplyTo = preview
	}
	return v
}

func trimPreview(content string) string {
	runes := []rune(content)
	if len(runes) <= replyPreviewMaxRunes {
		return content
	}
	return string(runes[:replyPreviewMaxRunes]) + "..."
}

// Upload is a stored file referenced by zero or more messages (spec.md §3).
type Upload struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	AuthorID  string    `json:"authorId"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mimeType"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

// Ban is a persisted ban entry (spec.md §3).
type Ban struct {
	UserID   string    `json:"userId"`
	BannedAt time.Time `json:"bannedAt"`
	Reason   string    `json:"reason,omitempty"`
}

// Audit is an append-only moderation/admin log entry (spec.md §3).
type Audit struct {
	ID        int64          `json:"id"`
	GuildID   string         `json:"guildId"`
	Action    string         `json:"action"`
	ActorID   string         `json:"actorId,omitempty"`
	TargetID  string         `json:"targetId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Settings is the singleton guild configuration (spec.md §3).
type Settings struct {
	AuditMaxEntries   int `json:"auditMaxEntries"`
	TimeoutMaxMinutes int `json:"timeoutMaxMinutes"`
}

// User is the identity resolved by the external authentication authority (spec.md §4.3).
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}
