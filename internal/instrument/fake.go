package instrument

import (
	"sync"
	"time"
)

// FakeDevice is a test double that returns scripted attribute values.
// Each Read of an attribute consumes the next scripted value; once the
// script is exhausted the last value is returned repeatedly.
type FakeDevice struct {
	mu sync.Mutex

	name    string
	scripts map[string][]Reading
	index   map[string]int
	errs    map[string]error

	// Now supplies reading timestamps. Defaults to time.Now.
	Now func() time.Time

	// ReadError, if set, is returned by every Read.
	ReadError error

	// Reads counts calls to Read, keyed by attribute.
	Reads map[string]int
}

// NewFakeDevice creates a FakeDevice with no scripted attributes.
func NewFakeDevice(name string) *FakeDevice {
	return &FakeDevice{
		name:    name,
		scripts: make(map[string][]Reading),
		index:   make(map[string]int),
		errs:    make(map[string]error),
		Now:     time.Now,
		Reads:   make(map[string]int),
	}
}

// Name returns the device name.
func (f *FakeDevice) Name() string {
	return f.name
}

// Set scripts the values returned for attr, all with VALID quality.
func (f *FakeDevice) Set(attr string, values ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs := make([]Reading, len(values))
	for i, v := range values {
		rs[i] = Reading{Name: attr, Value: v, Quality: QualityValid}
	}
	f.scripts[attr] = rs
	f.index[attr] = 0
	delete(f.errs, attr)
}

// SetBool scripts boolean values for attr.
func (f *FakeDevice) SetBool(attr string, values ...bool) {
	fs := make([]float64, len(values))
	for i, v := range values {
		if v {
			fs[i] = 1
		}
	}
	f.Set(attr, fs...)
}

// SetQuality overrides the quality of every scripted value of attr.
func (f *FakeDevice) SetQuality(attr string, q Quality) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.scripts[attr] {
		f.scripts[attr][i].Quality = q
	}
}

// Fail makes reads of attr return err.
func (f *FakeDevice) Fail(attr string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[attr] = err
}

// Read returns the next scripted value of attr.
func (f *FakeDevice) Read(attr string) (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Reads[attr]++

	if f.ReadError != nil {
		return Reading{}, errAttr(f.ReadError, f.name, attr)
	}
	if err, ok := f.errs[attr]; ok {
		return Reading{}, errAttr(err, f.name, attr)
	}

	script := f.scripts[attr]
	if len(script) == 0 {
		return Reading{}, errAttr(ErrNoData, f.name, attr)
	}

	i := f.index[attr]
	r := script[i]
	if i < len(script)-1 {
		f.index[attr] = i + 1
	}
	r.Time = f.Now()
	return r, nil
}

// ReadCount returns how many times attr was read.
func (f *FakeDevice) ReadCount(attr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Reads[attr]
}
