package voice

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// LocalAdapter is an in-process MediaAdapter: it hands out ids and capability shapes that satisfy the coordinator's
// state machine but never forwards real RTP. It exists because no mediasoup-worker Go binding exists to drive the
// real SFU process; swapping in a real adapter means implementing this interface against that process's IPC, not
// changing anything in this package.
type LocalAdapter struct{}

// NewLocalAdapter returns the in-process MediaAdapter.
func NewLocalAdapter() *LocalAdapter { return &LocalAdapter{} }

func (a *LocalAdapter) CreateWorker(context.Context) (Worker, error) {
	return &localWorker{died: make(chan struct{})}, nil
}

func (a *LocalAdapter) CreateRouter(_ context.Context, _ Worker, codecs []MediaCodec) (Router, error) {
	caps := map[string]any{"codecs": codecs}
	return &localRouter{caps: caps}, nil
}

type localWorker struct {
	died chan struct{}
}

func (w *localWorker) Died() <-chan struct{} { return w.died }
func (w *localWorker) Close()                {}

type localRouter struct {
	caps map[string]any
}

func (r *localRouter) RTPCapabilities() map[string]any { return r.caps }

// CanConsume reports true unconditionally: the local adapter has no real codec negotiation to check against.
func (r *localRouter) CanConsume(string, map[string]any) bool { return true }

func (r *localRouter) CreateWebRTCTransport(_ context.Context, _ TransportOptions) (Transport, error) {
	return &localTransport{
		id:             uuid.NewString(),
		iceParameters:  map[string]any{"usernameFragment": uuid.NewString(), "password": uuid.NewString()},
		dtlsParameters: map[string]any{"role": "auto"},
	}, nil
}

func (r *localRouter) Close() {}

type localTransport struct {
	id             string
	iceParameters  map[string]any
	dtlsParameters map[string]any

	mu        sync.Mutex
	producers map[string]*localProducer
}

func (t *localTransport) ID() string                                    { return t.id }
func (t *localTransport) ICEParameters() map[string]any                 { return t.iceParameters }
func (t *localTransport) ICECandidates() []map[string]any               { return nil }
func (t *localTransport) DTLSParameters() map[string]any                { return t.dtlsParameters }
func (t *localTransport) Connect(context.Context, map[string]any) error { return nil }

func (t *localTransport) Produce(_ context.Context, kind string, rtpParameters, appData map[string]any) (Producer, error) {
	p := &localProducer{id: uuid.NewString(), kind: kind, rtpParameters: rtpParameters, appData: appData}
	t.mu.Lock()
	if t.producers == nil {
		t.producers = make(map[string]*localProducer)
	}
	t.producers[p.id] = p
	t.mu.Unlock()
	return p, nil
}

func (t *localTransport) Consume(_ context.Context, producerID string, _ map[string]any) (Consumer, error) {
	return &localConsumer{id: uuid.NewString(), producerID: producerID, kind: "audio"}, nil
}

func (t *localTransport) Close() {}

type localProducer struct {
	id            string
	kind          string
	rtpParameters map[string]any
	appData       map[string]any
}

func (p *localProducer) ID() string              { return p.id }
func (p *localProducer) Kind() string            { return p.kind }
func (p *localProducer) AppData() map[string]any { return p.appData }
func (p *localProducer) Close()                  {}

type localConsumer struct {
	id         string
	producerID string
	kind       string
}

func (c *localConsumer) ID() string                    { return c.id }
func (c *localConsumer) ProducerID() string            { return c.producerID }
func (c *localConsumer) Kind() string                  { return c.kind }
func (c *localConsumer) RTPParameters() map[string]any { return map[string]any{} }
func (c *localConsumer) Resume(context.Context) error  { return nil }
func (c *localConsumer) Close()                        {}
