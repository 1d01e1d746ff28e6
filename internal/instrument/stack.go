package instrument

import "errors"

// Stack combines several devices behind one name. A read is served by the
// first device that knows the attribute; devices answering
// ErrUnknownAttribute are passed over.
type Stack struct {
	name   string
	layers []Device
}

// NewStack creates a Stack. Earlier layers take precedence.
func NewStack(name string, layers ...Device) *Stack {
	return &Stack{name: name, layers: layers}
}

// Name returns the stack name.
func (s *Stack) Name() string {
	return s.name
}

// Read returns attr from the first layer that serves it.
func (s *Stack) Read(attr string) (Reading, error) {
	for _, d := range s.layers {
		r, err := d.Read(attr)
		if errors.Is(err, ErrUnknownAttribute) {
			continue
		}
		return r, err
	}
	return Reading{}, errAttr(ErrUnknownAttribute, s.name, attr)
}

// Sample returns a Stack over the sampled view of each layer.
func (s *Stack) Sample() Device {
	layers := make([]Device, len(s.layers))
	for i, d := range s.layers {
		layers[i] = SampleOf(d)
	}
	return NewStack(s.name, layers...)
}

// Filter hides some attributes of a device. A hidden attribute reads as
// ErrUnknownAttribute, so a Stack passes over it.
type Filter struct {
	dev  Device
	hide func(attr string) bool
}

// NewFilter wraps dev, hiding every attribute for which hide returns true.
func NewFilter(dev Device, hide func(attr string) bool) *Filter {
	return &Filter{dev: dev, hide: hide}
}

// Name returns the wrapped device's name.
func (f *Filter) Name() string {
	return f.dev.Name()
}

// Read returns attr from the wrapped device unless it is hidden.
func (f *Filter) Read(attr string) (Reading, error) {
	if f.hide(attr) {
		return Reading{}, errAttr(ErrUnknownAttribute, f.dev.Name(), attr)
	}
	return f.dev.Read(attr)
}

// Sample returns a Filter over the sampled view of the wrapped device.
func (f *Filter) Sample() Device {
	return NewFilter(SampleOf(f.dev), f.hide)
}

// IsChannelState reports whether attr is one of channel_state0..11.
func IsChannelState(attr string) bool {
	_, ok := ParseChannelState(attr)
	return ok
}
