package voice

import "context"

// MediaAdapter is the sole boundary between the coordinator and the process that actually routes RTP. The
// coordinator never reaches past this interface: no producer, consumer, or transport type crosses it into
// internal/gateway or internal/httpapi. A real deployment backs this with a worker process driven over IPC; no such
// binding exists in the Go ecosystem today, so NewLocalAdapter provides an in-process implementation that honors the
// same lifecycle and id/capability shapes for a single node without performing real SFU packet forwarding.
type MediaAdapter interface {
	CreateWorker(ctx context.Context) (Worker, error)
	CreateRouter(ctx context.Context, w Worker, mediaCodecs []MediaCodec) (Router, error)
}

// Worker represents one media-worker process. Died reports if it has exited; the coordinator treats that as fatal
// and exits the node (spec.md §4.6 "if the worker dies, the process exits").
type Worker interface {
	Died() <-chan struct{}
	Close()
}

// Router owns one set of RTP capabilities shared by every transport/producer/consumer created under it.
type Router interface {
	RTPCapabilities() map[string]any
	CanConsume(producerID string, rtpCapabilities map[string]any) bool
	CreateWebRTCTransport(ctx context.Context, opts TransportOptions) (Transport, error)
	Close()
}

// Transport is one peer's WebRTC connection to the router, in either the send or receive direction.
type Transport interface {
	ID() string
	ICEParameters() map[string]any
	ICECandidates() []map[string]any
	DTLSParameters() map[string]any
	Connect(ctx context.Context, dtlsParameters map[string]any) error
	Produce(ctx context.Context, kind string, rtpParameters map[string]any, appData map[string]any) (Producer, error)
	Consume(ctx context.Context, producerID string, rtpCapabilities map[string]any) (Consumer, error)
	Close()
}

// Producer is one peer's outbound media track.
type Producer interface {
	ID() string
	Kind() string
	AppData() map[string]any
	Close()
}

// Consumer is one peer's inbound view of a remote Producer. Consumers are created paused and must be Resumed
// explicitly by the client (spec.md §4.6 step 6).
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() string
	RTPParameters() map[string]any
	Resume(ctx context.Context) error
	Close()
}

// MediaCodec names one codec the router is configured to route, per spec.md §4.6 "media codecs: Opus audio at 48kHz
// stereo; VP8 video at 90kHz".
type MediaCodec struct {
	Kind      string
	MimeType  string
	ClockRate int
	Channels  int
}

// DefaultMediaCodecs is the fixed codec set the coordinator configures its router with at startup.
func DefaultMediaCodecs() []MediaCodec {
	return []MediaCodec{
		{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: "video", MimeType: "video/VP8", ClockRate: 90000},
	}
}

// ListenIP pairs a bind address with an optional externally-announced address, per spec.md §4.6 step 3
// "{listenIps: [{ip, announcedIp?}]}".
type ListenIP struct {
	IP          string
	AnnouncedIP string
}

// TransportOptions configures a new WebRTC transport (spec.md §4.6 step 3).
type TransportOptions struct {
	ListenIPs []ListenIP
	EnableUDP bool
	EnableTCP bool
	PreferUDP bool
}
