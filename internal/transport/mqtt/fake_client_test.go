package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken completes immediately unless pending is set.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error, pending bool) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	if !pending {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient records calls and routes Deliver to subscribed handlers.
type fakeClient struct {
	mu          sync.Mutex
	connected   bool
	connectErr  error
	publishErr  error
	hangPublish bool
	published   []published
	handlers    map[string]paho.MessageHandler
	unsubscribe []string
}

var _ paho.Client = (*fakeClient)(nil)

func newFakeClient(connected bool) *fakeClient {
	return &fakeClient{connected: connected, handlers: map[string]paho.MessageHandler{}}
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakeClient) Connect() paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr == nil {
		f.connected = true
	}
	return newToken(f.connectErr, false)
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newToken(f.publishErr, f.hangPublish)
}

func (f *fakeClient) Subscribe(topic string, _ byte, callback paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = callback
	return newToken(nil, false)
}

func (f *fakeClient) SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token {
	for topic, qos := range filters {
		f.Subscribe(topic, qos, callback)
	}
	return newToken(nil, false)
}

func (f *fakeClient) Unsubscribe(topics ...string) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		delete(f.handlers, topic)
		f.unsubscribe = append(f.unsubscribe, topic)
	}
	return newToken(nil, false)
}

func (f *fakeClient) AddRoute(topic string, callback paho.MessageHandler) {
	f.mu.Lock()
	f.handlers[topic] = callback
	f.mu.Unlock()
}

func (f *fakeClient) OptionsReader() paho.ClientOptionsReader {
	return paho.ClientOptionsReader{}
}

// Deliver simulates the broker pushing a message on a subscribed filter.
func (f *fakeClient) Deliver(filter, topic string, payload []byte) bool {
	f.mu.Lock()
	h, ok := f.handlers[filter]
	f.mu.Unlock()
	if ok {
		h(f, fakeMessage{topic: topic, payload: payload})
	}
	return ok
}
