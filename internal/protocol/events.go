package protocol

import "encoding/json"

// EventType names an inbound or outbound realtime gateway/voice event (spec.md §4.5, §4.6).
type EventType string

// Inbound event names (client -> node).
const (
	EventGuildJoinRoom EventType = "guild:joinRoom"
	EventChannelJoin   EventType = "channel:join"
	EventTypingStart   EventType = "typing:start"
	EventTypingStop    EventType = "typing:stop"
	EventMessageSend   EventType = "message:send"
	EventVoiceSnapshot EventType = "voice:snapshot"

	EventVoiceJoin                EventType = "voice:join"
	EventVoiceGetRouterRTPCaps    EventType = "voice:getRouterRtpCapabilities"
	EventVoiceCreateSendTransport EventType = "voice:createSendTransport"
	EventVoiceCreateRecvTransport EventType = "voice:createRecvTransport"
	EventVoiceConnectTransport    EventType = "voice:connectTransport"
	EventVoiceProduce             EventType = "voice:produce"
	EventVoiceConsume             EventType = "voice:consume"
	EventVoiceResumeConsumer      EventType = "voice:resumeConsumer"
	EventVoiceCloseProducer       EventType = "voice:closeProducer"
	EventVoiceSpeaking            EventType = "voice:speaking"
	EventVoiceLeave               EventType = "voice:leave"
)

// Outbound event names (node -> client), one per spec.md §4.5 list.
const (
	EventMessageNew        EventType = "message:new"
	EventMessageDelete     EventType = "message:delete"
	EventChannelNew        EventType = "channel:new"
	EventChannelUpdate     EventType = "channel:update"
	EventChannelDelete     EventType = "channel:delete"
	EventGuildMemberJoined EventType = "guild:memberJoined"
	EventGuildMemberLeft   EventType = "guild:memberLeft"
	EventGuildKicked       EventType = "guild:kicked"
	EventMemberUpdate      EventType = "member:update"
	EventAuthBanned        EventType = "auth:banned"

	EventVoicePresence          EventType = "voice:presence"
	EventVoicePresenceAll       EventType = "voice:presenceAll"
	EventVoiceSpeakingEvt       EventType = "voice:speaking"
	EventVoiceSpeakingAll       EventType = "voice:speakingAll"
	EventVoiceNewProducer       EventType = "voice:newProducer"
	EventVoiceExistingProducers EventType = "voice:existingProducers"
	EventVoiceProducerClosed    EventType = "voice:producerClosed"
	EventVoiceParticipants      EventType = "voice:participants"
	EventVoiceMove              EventType = "voice:move"
)

// RoomKey identifies a gateway fan-out group (spec.md §4.5 "Rooms"). Rooms are never persisted.
type RoomKey string

// UserRoom, GuildRoom, ChannelRoom and VoiceRoom build the four room kinds named in spec.md §4.5.
func UserRoom(userID string) RoomKey       { return RoomKey("user:" + userID) }
func GuildRoom(guildID string) RoomKey     { return RoomKey("guild:" + guildID) }
func ChannelRoom(channelID string) RoomKey { return RoomKey("channel:" + channelID) }
func VoiceRoom(channelID string) RoomKey   { return RoomKey("voice:" + channelID) }

// InboundFrame is the envelope every client-originated socket message is decoded into before dispatch. Data carries
// the event-specific payload as raw JSON so each handler can decode into its own typed record.
type InboundFrame struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	// AckID, when non-empty, asks the node to reply with an OutboundAck carrying the same ID, modeling the
	// "callback-based emit(event, payload, ack)" pattern from spec.md §9 as an explicit request/response record.
	AckID string `json:"ackId,omitempty"`
}

// OutboundFrame is the envelope every node-originated socket message is encoded from.
type OutboundFrame struct {
	Event EventType `json:"event"`
	Data  any       `json:"data,omitempty"`
}

// OutboundAck replies to an InboundFrame that carried an AckID, per spec.md §9's "either an ack message carries
// {error} or a normal response."
type OutboundAck struct {
	AckID string `json:"ackId"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Payload records for inbound events. Each is the typed decode target for InboundFrame.Data.

type GuildJoinRoomPayload struct {
	GuildID string `json:"guildId"`
}

type ChannelJoinPayload struct {
	ChannelID string `json:"channelId"`
}

type TypingPayload struct {
	ChannelID string `json:"channelId"`
}

type MessageSendPayload struct {
	ChannelID   string   `json:"channelId"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
	ReplyToID   string   `json:"replyToId,omitempty"`
}

type VoiceSnapshotPayload struct {
	GuildID string `json:"guildId"`
}

type VoiceJoinPayload struct {
	ChannelID string `json:"channelId"`
}

type VoiceCreateTransportPayload struct {
	// Intentionally empty: the node decides transport parameters; the client supplies none.
}

type VoiceConnectTransportPayload struct {
	TransportID    string         `json:"transportId"`
	DTLSParameters map[string]any `json:"dtlsParameters"`
}

type VoiceProducePayload struct {
	TransportID   string         `json:"transportId"`
	Kind          string         `json:"kind"`
	RTPParameters map[string]any `json:"rtpParameters"`
	AppData       map[string]any `json:"appData,omitempty"`
}

type VoiceConsumePayload struct {
	ProducerID      string         `json:"producerId"`
	TransportID     string         `json:"transportId"`
	RTPCapabilities map[string]any `json:"rtpCapabilities"`
}

type VoiceResumeConsumerPayload struct {
	ConsumerID string `json:"consumerId"`
}

type VoiceCloseProducerPayload struct {
	ProducerID string `json:"producerId"`
}

type VoiceSpeakingPayload struct {
	ChannelID string `json:"channelId"`
	Speaking  bool   `json:"speaking"`
}
