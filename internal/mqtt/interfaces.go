// internal/mqtt/interfaces.go
package mqtt

// Observer receives session events. Callbacks run on paho's goroutines and
// must not block; in particular they must not call back into the Session.
type Observer interface {
	OnConnected()
	OnDisconnected(reason error)
	OnMessage(topic string, payload []byte)
}
