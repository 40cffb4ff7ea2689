package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lgesmon/lgesmon/pkg/log"
	"github.com/lgesmon/lgesmon/pkg/sems"
	"github.com/lgesmon/lgesmon/pkg/types"
)

// Publisher pushes each poll cycle's snapshots to an MQTT broker, with Home
// Assistant discovery configs so sites show up as devices automatically. A
// Publisher with no broker configured is a no-op.
type Publisher struct {
	broker          string
	clientID        string
	username        string
	password        string
	topicPrefix     string
	discoveryPrefix string
	qos             byte
	retain          bool

	client     mqtt.Client
	mu         sync.RWMutex
	connected  bool
	discovered map[string]bool
}

// Enabled reports whether a broker is configured.
func (p *Publisher) Enabled() bool {
	return p.broker != ""
}

// Connect dials the broker and registers the availability will. Safe to call
// when no broker is configured.
func (p *Publisher) Connect(ctx context.Context) error {
	if !p.Enabled() {
		log.Ctx(ctx).InfoContext(ctx, "mqtt publishing disabled")
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.broker)
	opts.SetClientID(p.clientID)
	opts.SetUsername(p.username)
	opts.SetPassword(p.password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(time.Minute)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		p.mu.Lock()
		p.connected = true
		// discovery is re-published after every reconnect in case the broker
		// lost the retained configs
		p.discovered = make(map[string]bool)
		p.mu.Unlock()
		log.Ctx(ctx).InfoContext(ctx, "connected to mqtt broker", slog.String("broker", p.broker))
		p.publishString(ctx, p.availabilityTopic(), "online")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
		log.Ctx(ctx).WarnContext(ctx, "mqtt connection lost", slog.Any("error", err))
	})
	opts.SetWill(p.availabilityTopic(), "offline", p.qos, true)

	p.client = mqtt.NewClient(opts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect failed: %w", token.Error())
	}
	return nil
}

// Close marks the publisher offline and disconnects cleanly.
func (p *Publisher) Close(ctx context.Context) {
	if p.client == nil {
		return
	}
	p.publishString(ctx, p.availabilityTopic(), "offline")
	p.client.Disconnect(1000)
}

func (p *Publisher) availabilityTopic() string {
	return p.topicPrefix + "/status"
}

// Publish sends every site's state, publishing discovery configs first for
// sites the broker has not seen this connection.
func (p *Publisher) Publish(ctx context.Context, snaps map[string]types.Snapshot) {
	if !p.Enabled() {
		return
	}
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	if !connected {
		log.Ctx(ctx).WarnContext(ctx, "mqtt not connected, skipping publish")
		return
	}

	for siteID, snap := range snaps {
		p.mu.Lock()
		seen := p.discovered[siteID]
		p.discovered[siteID] = true
		p.mu.Unlock()
		if !seen {
			p.publishDiscovery(ctx, snap)
		}
		p.publishState(ctx, snap)
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, snap types.Snapshot) {
	model := "Solar Inverter System"
	if snap.Details != nil && snap.Details.Info.StationType != "" {
		model = snap.Details.Info.StationType
	}
	device := map[string]interface{}{
		"identifiers":  []string{"lgesmon_" + snap.SiteID},
		"name":         sems.DisplayName(snap.Details, snap.SiteID),
		"manufacturer": "LG Energy Solutions",
		"model":        model,
	}

	for _, def := range siteSensors(snap) {
		cfg := map[string]interface{}{
			"name":               def.Name,
			"unique_id":          fmt.Sprintf("lgesmon_%s_%s", snap.SiteID, def.Key),
			"state_topic":        p.stateTopic(snap.SiteID, def.Key),
			"availability_topic": p.availabilityTopic(),
			"device":             device,
		}
		if def.Unit != "" {
			cfg["unit_of_measurement"] = def.Unit
		}
		if def.DeviceClass != "" {
			cfg["device_class"] = def.DeviceClass
		}
		if def.StateClass != "" {
			cfg["state_class"] = def.StateClass
		}
		if def.Icon != "" {
			cfg["icon"] = def.Icon
		}
		topic := fmt.Sprintf("%s/sensor/lgesmon_%s/%s/config", p.discoveryPrefix, snap.SiteID, def.Key)
		p.publishJSON(ctx, topic, cfg)
	}
	log.Ctx(ctx).DebugContext(ctx, "published discovery configs", slog.String("siteID", snap.SiteID))
}

func (p *Publisher) stateTopic(siteID, key string) string {
	return fmt.Sprintf("%s/%s/%s", p.topicPrefix, siteID, key)
}

func (p *Publisher) publishState(ctx context.Context, snap types.Snapshot) {
	vals := siteStateValues(snap)
	for key, val := range vals {
		switch v := val.(type) {
		case float64:
			p.publishString(ctx, p.stateTopic(snap.SiteID, key), strconv.FormatFloat(v, 'f', -1, 64))
		case string:
			p.publishString(ctx, p.stateTopic(snap.SiteID, key), v)
		default:
			p.publishString(ctx, p.stateTopic(snap.SiteID, key), fmt.Sprint(v))
		}
	}
	// the full snapshot as one JSON payload for non-HA consumers
	p.publishJSON(ctx, p.stateTopic(snap.SiteID, "state"), vals)
}

func (p *Publisher) publishJSON(ctx context.Context, topic string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to marshal mqtt payload", slog.String("topic", topic), slog.Any("error", err))
		return
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.Wait() && token.Error() != nil {
		log.Ctx(ctx).WarnContext(ctx, "mqtt publish failed", slog.String("topic", topic), slog.Any("error", token.Error()))
	}
}

func (p *Publisher) publishString(ctx context.Context, topic, payload string) {
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.Wait() && token.Error() != nil {
		log.Ctx(ctx).WarnContext(ctx, "mqtt publish failed", slog.String("topic", topic), slog.Any("error", token.Error()))
	}
}
