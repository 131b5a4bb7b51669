// Package flatten writes object graphs into flat typed streams and reads
// them back.
//
// A Writer keeps one stream per primitive kind plus a handle stream. Each
// value added through AddHandle is written once; later references to the
// same value only record its handle index, so shared references survive a
// round trip. Services that must not be copied (loaders, providers, event
// sinks, strategies) are written by name with AddService and resolved from
// the Reader's service table.
//
// Example:
//
//	w := flatten.NewWriter()
//	w.AddString("Order|o-1")
//	w.AddHandle(endPoint)
//	data, err := w.Bytes()
//
//	r, err := flatten.NewReader(data, services)
//	r.Register("collection-end-point", restoreEndPoint)
//	id := r.GetString()
//	ep, _ := r.GetHandle().(*CollectionEndPoint)
//	if err := r.Err(); err != nil { ... }
package flatten

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Errors
var (
	ErrUnexpectedEnd   = errors.New("flatten: unexpected end of stream")
	ErrUnknownKind     = errors.New("flatten: no factory registered for kind")
	ErrUnknownService  = errors.New("flatten: service not available")
	ErrInvalidHandle   = errors.New("flatten: invalid handle")
	ErrCyclicReference = errors.New("flatten: cyclic reference")
)

const nilHandle = -1

// Flattenable is implemented by values written through AddHandle.
type Flattenable interface {
	// FlattenKind names the factory that restores the value.
	FlattenKind() string
	// Flatten writes the value's contents.
	Flatten(w *Writer)
}

// payload is the serialized form of a Writer.
type payload struct {
	Strings []string `json:"s,omitempty"`
	Ints    []int64  `json:"i,omitempty"`
	Bools   []bool   `json:"b,omitempty"`
	Handles []int    `json:"h,omitempty"`
	Kinds   []string `json:"k,omitempty"`
}

// service kinds are stored as "@name".
const serviceKindPrefix = "@"

// Writer accumulates flattened values.
type Writer struct {
	p       payload
	handles map[any]int
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{handles: make(map[any]int)}
}

func (w *Writer) AddString(s string) { w.p.Strings = append(w.p.Strings, s) }
func (w *Writer) AddInt(i int64)     { w.p.Ints = append(w.p.Ints, i) }
func (w *Writer) AddBool(b bool)     { w.p.Bools = append(w.p.Bools, b) }

// AddHandle writes v once and references to it afterwards. v may be nil.
// v must be comparable, which pointer receivers always are.
func (w *Writer) AddHandle(v Flattenable) {
	if v == nil {
		w.p.Handles = append(w.p.Handles, nilHandle)
		return
	}
	if idx, ok := w.handles[v]; ok {
		w.p.Handles = append(w.p.Handles, idx)
		return
	}
	idx := len(w.p.Kinds)
	w.handles[v] = idx
	w.p.Kinds = append(w.p.Kinds, v.FlattenKind())
	w.p.Handles = append(w.p.Handles, idx)
	v.Flatten(w)
}

// AddService writes a reference to a named service.
func (w *Writer) AddService(name string) {
	key := serviceKindPrefix + name
	if idx, ok := w.handles[key]; ok {
		w.p.Handles = append(w.p.Handles, idx)
		return
	}
	idx := len(w.p.Kinds)
	w.handles[key] = idx
	w.p.Kinds = append(w.p.Kinds, key)
	w.p.Handles = append(w.p.Handles, idx)
}

// Bytes encodes everything written so far.
func (w *Writer) Bytes() ([]byte, error) {
	return json.Marshal(&w.p)
}

// Factory restores a value of one kind from r.
type Factory func(r *Reader) (any, error)

type handleState int

const (
	handleUnread handleState = iota
	handleReading
	handleDone
)

// Reader reads values in the order they were written. The first failure is
// sticky: later reads return zero values and Err reports it.
type Reader struct {
	p         payload
	strings   int
	ints      int
	bools     int
	handles   int
	resolved  []any
	states    []handleState
	factories map[string]Factory
	services  map[string]any
	err       error
}

// NewReader decodes data. services maps service names to instances.
func NewReader(data []byte, services map[string]any) (*Reader, error) {
	r := &Reader{factories: make(map[string]Factory), services: services}
	if err := json.Unmarshal(data, &r.p); err != nil {
		return nil, fmt.Errorf("flatten: decode: %w", err)
	}
	r.resolved = make([]any, len(r.p.Kinds))
	r.states = make([]handleState, len(r.p.Kinds))
	return r, nil
}

// Register installs the factory for kind.
func (r *Reader) Register(kind string, f Factory) {
	r.factories[kind] = f
}

// Service returns the service registered under name.
func (r *Reader) Service(name string) (any, bool) {
	s, ok := r.services[name]
	return s, ok
}

// Err returns the first read failure.
func (r *Reader) Err() error { return r.err }

// Fail records err unless an earlier failure exists. Factories use it to
// report content they cannot accept.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) GetString() string {
	if r.err != nil {
		return ""
	}
	if r.strings >= len(r.p.Strings) {
		r.Fail(fmt.Errorf("%w: string #%d", ErrUnexpectedEnd, r.strings))
		return ""
	}
	s := r.p.Strings[r.strings]
	r.strings++
	return s
}

func (r *Reader) GetInt() int64 {
	if r.err != nil {
		return 0
	}
	if r.ints >= len(r.p.Ints) {
		r.Fail(fmt.Errorf("%w: int #%d", ErrUnexpectedEnd, r.ints))
		return 0
	}
	i := r.p.Ints[r.ints]
	r.ints++
	return i
}

func (r *Reader) GetBool() bool {
	if r.err != nil {
		return false
	}
	if r.bools >= len(r.p.Bools) {
		r.Fail(fmt.Errorf("%w: bool #%d", ErrUnexpectedEnd, r.bools))
		return false
	}
	b := r.p.Bools[r.bools]
	r.bools++
	return b
}

// GetHandle returns the value of the next handle, restoring it on first use.
func (r *Reader) GetHandle() any {
	if r.err != nil {
		return nil
	}
	if r.handles >= len(r.p.Handles) {
		r.Fail(fmt.Errorf("%w: handle #%d", ErrUnexpectedEnd, r.handles))
		return nil
	}
	idx := r.p.Handles[r.handles]
	r.handles++
	if idx == nilHandle {
		return nil
	}
	if idx < 0 || idx >= len(r.p.Kinds) {
		r.Fail(fmt.Errorf("%w: %d", ErrInvalidHandle, idx))
		return nil
	}

	switch r.states[idx] {
	case handleDone:
		return r.resolved[idx]
	case handleReading:
		r.Fail(fmt.Errorf("%w: handle %d (%s)", ErrCyclicReference, idx, r.p.Kinds[idx]))
		return nil
	}

	kind := r.p.Kinds[idx]
	r.states[idx] = handleReading
	var v any
	if name, ok := strings.CutPrefix(kind, serviceKindPrefix); ok {
		s, found := r.services[name]
		if !found {
			r.Fail(fmt.Errorf("%w: %s", ErrUnknownService, name))
			return nil
		}
		v = s
	} else {
		f, found := r.factories[kind]
		if !found {
			r.Fail(fmt.Errorf("%w: %s", ErrUnknownKind, kind))
			return nil
		}
		restored, err := f(r)
		if err != nil {
			r.Fail(fmt.Errorf("flatten: restore %s: %w", kind, err))
			return nil
		}
		v = restored
	}
	r.resolved[idx] = v
	r.states[idx] = handleDone
	return v
}

// Done reports whether every stream has been consumed.
func (r *Reader) Done() bool {
	return r.strings == len(r.p.Strings) && r.ints == len(r.p.Ints) &&
		r.bools == len(r.p.Bools) && r.handles == len(r.p.Handles)
}
