// Package events fans stream events out to observer sinks. Sinks are
// best-effort: delivery failures are logged and never affect the caller-facing
// stream or the reply commit.
package events

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
)

// SinkSet distributes payloads to a set of watermill publishers, each
// subscribed under a topic. Outgoing messages carry a process-wide sequence
// number in their metadata, assigned in Publish order.
type SinkSet struct {
	log zerolog.Logger

	mu         sync.Mutex
	publishers map[string][]message.Publisher
	sequence   uint64
}

func NewSinkSet(log zerolog.Logger) *SinkSet {
	return &SinkSet{
		log:        log,
		publishers: make(map[string][]message.Publisher),
	}
}

// Attach subscribes a publisher to a topic. Every subsequent Publish delivers
// to it.
func (ss *SinkSet) Attach(topic string, pub message.Publisher) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.publishers[topic] = append(ss.publishers[topic], pub)
}

// Publish serializes the payload to JSON and delivers it to all attached
// publishers. A failing publisher does not prevent delivery to the others.
func (ss *SinkSet) Publish(payload any) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("sequence_number", strconv.FormatUint(ss.sequence, 10))
	ss.sequence++

	for topic, pubs := range ss.publishers {
		for _, pub := range pubs {
			if err := pub.Publish(topic, msg); err != nil {
				ss.log.Warn().Err(err).Str("topic", topic).Msg("failed to publish event to sink")
			}
		}
	}

	return nil
}

// PublishBlind is Publish with serialization failures logged instead of
// returned
func (ss *SinkSet) PublishBlind(payload any) {
	if err := ss.Publish(payload); err != nil {
		ss.log.Warn().Err(err).Msg("failed to publish event")
	}
}
