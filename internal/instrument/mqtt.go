package instrument

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Subscriber delivers messages published on an MQTT topic filter.
type Subscriber interface {
	Subscribe(topic string, handler func(topic string, payload []byte)) error
}

// AttributePayload is the JSON message an instrument publishes for one
// attribute on <prefix>/<device>/<attribute>. A bare number or boolean is
// also accepted as the whole payload.
type AttributePayload struct {
	Value     any    `json:"value"`
	Timestamp string `json:"timestamp,omitempty"` // RFC3339
	Quality   string `json:"quality,omitempty"`
}

type cached struct {
	reading  Reading
	received time.Time
}

// MQTTDevice mirrors the attributes an instrument publishes over MQTT.
// Reads are served from the latest message and never block on the network.
type MQTTDevice struct {
	name   string
	topic  string
	maxAge time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	latest map[string]cached
}

// NewMQTTDevice subscribes to <prefix>/<name>/+ and mirrors every attribute
// published there. Values older than maxAge are reported as stale; a
// non-positive maxAge disables the check.
func NewMQTTDevice(sub Subscriber, prefix, name string, maxAge time.Duration) (*MQTTDevice, error) {
	if name == "" || strings.ContainsAny(name, "+#") {
		return nil, fmt.Errorf("%w: invalid device name %q", ErrUnavailable, name)
	}

	d := &MQTTDevice{
		name:   name,
		topic:  strings.TrimSuffix(prefix, "/") + "/" + name + "/+",
		maxAge: maxAge,
		now:    time.Now,
		latest: make(map[string]cached),
	}
	if prefix == "" {
		d.topic = name + "/+"
	}

	if err := sub.Subscribe(d.topic, d.handle); err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrUnavailable, d.topic, err)
	}
	return d, nil
}

// Name returns the device name.
func (d *MQTTDevice) Name() string {
	return d.name
}

// Topic returns the subscribed topic filter.
func (d *MQTTDevice) Topic() string {
	return d.topic
}

// Read returns the last published value of attr.
func (d *MQTTDevice) Read(attr string) (Reading, error) {
	d.mu.RLock()
	c, ok := d.latest[attr]
	d.mu.RUnlock()

	if !ok {
		return Reading{}, errAttr(ErrNoData, d.name, attr)
	}
	if d.maxAge > 0 && d.now().Sub(c.received) > d.maxAge {
		return Reading{}, errAttr(ErrStale, d.name, attr)
	}
	return c.reading, nil
}

func (d *MQTTDevice) handle(topic string, payload []byte) {
	i := strings.LastIndexByte(topic, '/')
	if i < 0 || i == len(topic)-1 {
		return
	}
	attr := topic[i+1:]

	r, err := ParseAttributePayload(payload)
	if err != nil {
		return
	}
	r.Name = attr
	now := d.now()
	if r.Time.IsZero() {
		r.Time = now
	}

	d.mu.Lock()
	d.latest[attr] = cached{reading: r, received: now}
	d.mu.Unlock()
}

// ParseAttributePayload decodes an instrument message into a Reading.
// Name is left empty; the caller derives it from the topic.
func ParseAttributePayload(payload []byte) (Reading, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return Reading{}, fmt.Errorf("empty payload")
	}

	if !strings.HasPrefix(s, "{") {
		v, err := parseScalar(s)
		if err != nil {
			return Reading{}, err
		}
		return Reading{Value: v, Quality: QualityValid}, nil
	}

	var p AttributePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Reading{}, fmt.Errorf("decode payload: %w", err)
	}

	var r Reading
	switch v := p.Value.(type) {
	case float64:
		r.Value = v
	case bool:
		if v {
			r.Value = 1
		}
	case string:
		x, err := parseScalar(v)
		if err != nil {
			return Reading{}, err
		}
		r.Value = x
	default:
		return Reading{}, fmt.Errorf("unsupported value %v", p.Value)
	}

	r.Quality = QualityValid
	if p.Quality != "" {
		r.Quality = Quality(strings.ToUpper(p.Quality))
	}
	if p.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
		if err != nil {
			return Reading{}, fmt.Errorf("parse timestamp: %w", err)
		}
		r.Time = ts
	}
	return r, nil
}

func parseScalar(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse value %q: %w", s, err)
	}
	return v, nil
}
