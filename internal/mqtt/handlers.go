package mqtt

import (
	"context"
	"encoding/json"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

// defaultHandler receives every message of the device subscription.
// Messages from a replaced client or a connection marked down are dropped.
// The payload is copied because paho may reuse its buffer.
func (s *Session) defaultHandler(gen uint64, msg MQTT.Message) {
	s.mu.Lock()
	stale := gen != s.gen || s.down
	s.mu.Unlock()
	if stale {
		return
	}

	topic := msg.Topic()
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	if e := s.log.Debug(); e.Enabled() {
		logPayload := string(payload)
		if len(logPayload) > logPayloadMax {
			logPayload = logPayload[:logPayloadMax] + "..."
		}
		e.Str("topic", topic).Bool("retained", msg.Retained()).Str("payload", logPayload).Msg("message received")
	}
	s.cfg.Observer.OnMessage(topic, payload)
}

func (s *Session) publishStatus(ctx context.Context, client MQTT.Client, status string) error {
	token := client.Publish(s.topics.Status(), s.cfg.StatusQoS, true, status)
	return s.wait(ctx, token, s.cfg.ConnectTimeout, ErrPublishTimeout)
}

// publishInfo sends the host info retained without waiting; the result is
// checked in the background.
func (s *Session) publishInfo(client MQTT.Client, connectedAt time.Time) {
	info := s.hostInfo(connectedAt)
	payload, err := json.Marshal(info)
	if err != nil {
		s.log.Error().Err(err).Msg("encode host info")
		return
	}
	token := client.Publish(s.topics.Info(), s.cfg.StatusQoS, true, payload)
	go func(t MQTT.Token) {
		if t.WaitTimeout(3*time.Second) && t.Error() != nil {
			s.log.Warn().Err(t.Error()).Msg("host info publish failed")
		}
	}(token)
}
