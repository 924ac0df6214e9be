// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metric provides primitives for collecting metrics.
package metric

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/hhh476-tian/xv6/pkg/atomicbitops"
	"github.com/hhh476-tian/xv6/pkg/sync"
)

// ExporterPrefix is prepended to every exported metric name.
const ExporterPrefix = "xv6_"

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidName indicates that a metric name is not of the form
	// "/a/b_c".
	ErrInvalidName = errors.New("metric name is invalid")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")

	// ErrTooManyFields indicates that more than one field was given.
	ErrTooManyFields = errors.New("metric supports at most one field")
)

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues ...string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

// index returns the position of value in the allowed values. It panics on a
// disallowed value.
func (f *Field) index(value string) int {
	for i, v := range f.allowedValues {
		if v == value {
			return i
		}
	}
	panic(fmt.Sprintf("disallowed value %q for field %q", value, f.name))
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to be
// monitored.
//
// A metric has either no field, in which case it is a single counter, or one
// field, in which case there is one counter per allowed value.
type Uint64Metric struct {
	name        string
	description string

	// field is nil for metrics without a field.
	field *Field

	// values is indexed by field value; it has a single entry when field
	// is nil.
	values []atomicbitops.Uint64
}

var (
	// mu protects allMetrics.
	mu sync.Mutex

	// allMetrics are the registered metrics, keyed by name.
	// +checklocks:mu
	allMetrics = make(map[string]*Uint64Metric)
)

func verifyName(name string) error {
	if len(name) < 2 || name[0] != '/' || strings.HasSuffix(name, "/") {
		return ErrInvalidName
	}
	for _, r := range name[1:] {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '/':
		default:
			return ErrInvalidName
		}
	}
	return nil
}

// NewUint64Metric creates and registers a new cumulative metric with the
// given name.
func NewUint64Metric(name, description string, fields ...Field) (*Uint64Metric, error) {
	if err := verifyName(name); err != nil {
		return nil, err
	}
	if len(fields) > 1 {
		return nil, ErrTooManyFields
	}
	m := &Uint64Metric{
		name:        name,
		description: description,
		values:      make([]atomicbitops.Uint64, 1),
	}
	if len(fields) == 1 {
		f := fields[0]
		if len(f.allowedValues) == 0 {
			return nil, ErrFieldHasNoAllowedValues
		}
		m.field = &f
		m.values = make([]atomicbitops.Uint64, len(f.allowedValues))
	}

	mu.Lock()
	defer mu.Unlock()
	if _, ok := allMetrics[name]; ok {
		return nil, ErrNameInUse
	}
	allMetrics[name] = m
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func MustCreateNewUint64Metric(name, description string, fields ...Field) *Uint64Metric {
	m, err := NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

func (m *Uint64Metric) slot(fieldValues []string) *atomicbitops.Uint64 {
	switch {
	case m.field == nil && len(fieldValues) == 0:
		return &m.values[0]
	case m.field != nil && len(fieldValues) == 1:
		return &m.values[m.field.index(fieldValues[0])]
	default:
		panic(fmt.Sprintf("metric %q: got %d field values", m.name, len(fieldValues)))
	}
}

// Value returns the current value of the metric for the given field value.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	return m.slot(fieldValues).Load()
}

// Increment increments the metric field by 1.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.slot(fieldValues).Add(1)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.slot(fieldValues).Add(v)
}

// Name returns the metric name.
func (m *Uint64Metric) Name() string {
	return m.name
}

// exportName converts "/memory/faults" to "xv6_memory_faults".
func exportName(name string) string {
	return ExporterPrefix + strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", "_")
}

func (m *Uint64Metric) toProto() *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: proto.String(exportName(m.name)),
		Help: proto.String(m.description),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	if m.field == nil {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Counter: &dto.Counter{Value: proto.Float64(float64(m.values[0].Load()))},
		})
		return mf
	}
	for i, v := range m.field.allowedValues {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label: []*dto.LabelPair{{
				Name:  proto.String(m.field.name),
				Value: proto.String(v),
			}},
			Counter: &dto.Counter{Value: proto.Float64(float64(m.values[i].Load()))},
		})
	}
	return mf
}

// Snapshot returns the current value of every registered metric, keyed by
// metric name and then by field value ("" for metrics without a field).
func Snapshot() map[string]map[string]uint64 {
	mu.Lock()
	defer mu.Unlock()
	s := make(map[string]map[string]uint64, len(allMetrics))
	for name, m := range allMetrics {
		vals := make(map[string]uint64)
		if m.field == nil {
			vals[""] = m.values[0].Load()
		} else {
			for i, v := range m.field.allowedValues {
				vals[v] = m.values[i].Load()
			}
		}
		s[name] = vals
	}
	return s
}

// WriteText writes every registered metric to w in the Prometheus text
// exposition format, ordered by name.
func WriteText(w io.Writer) error {
	mu.Lock()
	names := make([]string, 0, len(allMetrics))
	for name := range allMetrics {
		names = append(names, name)
	}
	sort.Strings(names)
	families := make([]*dto.MetricFamily, 0, len(names))
	for _, name := range names {
		families = append(families, allMetrics[name].toProto())
	}
	mu.Unlock()

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %q: %w", mf.GetName(), err)
		}
	}
	return nil
}
