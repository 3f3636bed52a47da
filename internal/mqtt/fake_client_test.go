package mqtt

import (
	"errors"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func hangingToken() *fakeToken { return &fakeToken{done: make(chan struct{})} }

func (t *fakeToken) Wait() bool { <-t.done; return true }

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

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

// fakeClient implements MQTT.Client without a network.
type fakeClient struct {
	opts *MQTT.ClientOptions

	mu           sync.Mutex
	open         bool
	connectErr   error
	subscribeErr error
	publishHang  bool
	connects     int
	disconnects  int
	subs         []string
	pubs         []published
}

func (c *fakeClient) IsConnected() bool { return c.IsConnectionOpen() }

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Connect() MQTT.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connectErr != nil {
		return doneToken(c.connectErr)
	}
	c.open = true
	return doneToken(nil)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.open = false
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var p string
	switch v := payload.(type) {
	case string:
		p = v
	case []byte:
		p = string(v)
	}
	c.pubs = append(c.pubs, published{topic: topic, qos: qos, retained: retained, payload: p})
	if c.publishHang {
		return hangingToken()
	}
	if !c.open {
		return doneToken(errors.New("not connected"))
	}
	return doneToken(nil)
}

func (c *fakeClient) Subscribe(topic string, _ byte, _ MQTT.MessageHandler) MQTT.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return doneToken(c.subscribeErr)
	}
	c.subs = append(c.subs, topic)
	return doneToken(nil)
}

func (c *fakeClient) SubscribeMultiple(map[string]byte, MQTT.MessageHandler) MQTT.Token {
	return doneToken(nil)
}

func (c *fakeClient) Unsubscribe(...string) MQTT.Token { return doneToken(nil) }

func (c *fakeClient) AddRoute(string, MQTT.MessageHandler) {}

func (c *fakeClient) OptionsReader() MQTT.ClientOptionsReader { return MQTT.ClientOptionsReader{} }

func (c *fakeClient) published() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]published, len(c.pubs))
	copy(out, c.pubs)
	return out
}

// dropConnection simulates the library noticing a dead socket.
func (c *fakeClient) dropConnection(err error) {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	c.opts.OnConnectionLost(c, err)
}

func (c *fakeClient) deliver(topic, payload string) {
	c.opts.DefaultPublishHandler(c, &fakeMessage{topic: topic, payload: []byte(payload)})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// factory hands out fake clients and remembers them.
type factory struct {
	mu      sync.Mutex
	clients []*fakeClient
	// prepare customizes every new client.
	prepare func(*fakeClient)
}

func (f *factory) newClient(opts *MQTT.ClientOptions) MQTT.Client {
	c := &fakeClient{opts: opts}
	if f.prepare != nil {
		f.prepare(c)
	}
	f.mu.Lock()
	f.clients = append(f.clients, c)
	f.mu.Unlock()
	return c
}

func (f *factory) last() *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[len(f.clients)-1]
}

type observer struct {
	mu           sync.Mutex
	connected    int
	disconnected []error
	messages     []published
}

func (o *observer) OnConnected() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connected++
}

func (o *observer) OnDisconnected(reason error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.disconnected = append(o.disconnected, reason)
}

func (o *observer) OnMessage(topic string, payload []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, published{topic: topic, payload: string(payload)})
}

func (o *observer) counts() (connected, disconnected int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connected, len(o.disconnected)
}
