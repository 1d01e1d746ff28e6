package instrument

import "time"

// Static serves fixed attribute values. It is used for Start_mode and Period
// when a timer has no proxy of its own and only trigger lines are wired.
type Static struct {
	name   string
	values map[string]float64
	now    func() time.Time
}

// NewStatic creates a Static device serving values.
func NewStatic(name string, values map[string]float64) *Static {
	v := make(map[string]float64, len(values))
	for k, x := range values {
		v[k] = x
	}
	return &Static{name: name, values: v, now: time.Now}
}

// Name returns the device name.
func (s *Static) Name() string {
	return s.name
}

// Read returns the configured value of attr.
func (s *Static) Read(attr string) (Reading, error) {
	v, ok := s.values[attr]
	if !ok {
		return Reading{}, errAttr(ErrUnknownAttribute, s.name, attr)
	}
	return Reading{Name: attr, Value: v, Time: s.now(), Quality: QualityValid}, nil
}
