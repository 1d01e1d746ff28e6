package mqtt

import "log/slog"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
	shot     bool
}

// outbox holds messages published while disconnected, oldest first.
// When full it evicts the oldest system message before any shot; shots are
// only lost when the outbox holds nothing else. A retained message replaces
// an older retained message for the same topic, since the broker would keep
// only the newest anyway.
// Not safe for concurrent use; the caller must synchronize.
type outbox struct {
	msgs     []bufferedMsg
	capacity int
	dropped  int  // messages evicted since the last drain
	warned   bool // overflow already logged since the last drain
	log      *slog.Logger
}

func newOutbox(capacity int, logger *slog.Logger) *outbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &outbox{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
		log:      logger,
	}
}

func (o *outbox) push(msg bufferedMsg) {
	if msg.retained {
		for i := range o.msgs {
			if o.msgs[i].retained && o.msgs[i].topic == msg.topic {
				o.remove(i)
				break
			}
		}
	}

	if len(o.msgs) == o.capacity {
		victim := 0
		for i := range o.msgs {
			if !o.msgs[i].shot {
				victim = i
				break
			}
		}
		if !o.warned {
			o.log.Warn("mqtt: buffer full, dropping oldest", "capacity", o.capacity,
				"shot", o.msgs[victim].shot)
			o.warned = true
		}
		o.remove(victim)
		o.dropped++
	}
	o.msgs = append(o.msgs, msg)
}

func (o *outbox) remove(i int) {
	copy(o.msgs[i:], o.msgs[i+1:])
	o.msgs[len(o.msgs)-1] = bufferedMsg{}
	o.msgs = o.msgs[:len(o.msgs)-1]
}

// drainAll returns every buffered message in publish order and empties the
// outbox.
func (o *outbox) drainAll() []bufferedMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	result := make([]bufferedMsg, len(o.msgs))
	copy(result, o.msgs)

	for i := range o.msgs {
		o.msgs[i] = bufferedMsg{}
	}
	o.msgs = o.msgs[:0]
	o.dropped = 0
	o.warned = false
	return result
}

func (o *outbox) len() int {
	return len(o.msgs)
}
