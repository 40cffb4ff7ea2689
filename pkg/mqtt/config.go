package mqtt

import (
	"context"
	"os"
	"strconv"

	"github.com/levenlabs/go-lflag"
	"github.com/lgesmon/lgesmon/pkg/log"
)

// Configured returns a Publisher built from command-line flags. Leaving
// mqtt-broker empty disables publishing entirely.
func Configured() *Publisher {
	p := &Publisher{
		discovered: make(map[string]bool),
	}

	broker := lflag.String("mqtt-broker", "", "MQTT broker URL (e.g. tcp://localhost:1883), empty disables publishing")
	clientID := lflag.String("mqtt-client-id", "lgesmon", "MQTT client ID")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	topicPrefix := lflag.String("mqtt-topic-prefix", "lgesmon", "Topic prefix for state topics")
	discoveryPrefix := lflag.String("mqtt-discovery-prefix", "homeassistant", "Home Assistant discovery topic prefix")
	qos := lflag.String("mqtt-qos", "1", "MQTT QoS for published messages (0, 1 or 2)")
	retain := lflag.Bool("mqtt-retain", true, "Retain published messages")

	lflag.Do(func() {
		q, err := strconv.Atoi(*qos)
		if err != nil || q < 0 || q > 2 {
			log.Ctx(context.Background()).Error("mqtt-qos must be 0, 1 or 2")
			os.Exit(1)
		}
		p.broker = *broker
		p.clientID = *clientID
		p.username = *username
		p.password = *password
		p.topicPrefix = *topicPrefix
		p.discoveryPrefix = *discoveryPrefix
		p.qos = byte(q)
		p.retain = *retain
	})

	return p
}
