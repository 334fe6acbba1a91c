package schema

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"
)

var (
	ErrUnknownMessage = errors.New("schema: unknown message family")
	ErrEmptyInput     = errors.New("schema: empty input")
	ErrUnknownFields  = errors.New("schema: unknown fields present")
)

// DecodeError reports a failed decode of one message family.
type DecodeError struct {
	Message string
	Err     error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("schema: decode %s: %v", e.Message, e.Err)
}

func (e DecodeError) Unwrap() error {
	return e.Err
}

// Registry holds the resolved mesh message descriptors.
type Registry struct {
	file     protoreflect.FileDescriptor
	messages map[string]protoreflect.MessageDescriptor
}

// Load resolves the mesh schema. It is called once at startup.
func Load() (*Registry, error) {
	fd, err := protodesc.NewFile(meshFileDescriptor(), new(protoregistry.Files))
	if err != nil {
		return nil, fmt.Errorf("schema: build descriptors: %w", err)
	}
	msgs := fd.Messages()
	r := &Registry{
		file:     fd,
		messages: make(map[string]protoreflect.MessageDescriptor, msgs.Len()),
	}
	for i := 0; i < msgs.Len(); i++ {
		md := msgs.Get(i)
		r.messages[string(md.Name())] = md
	}
	log.Debug().Str("file", fd.Path()).Int("messages", len(r.messages)).Msg("schema loaded")
	return r, nil
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry. The embedded descriptors are
// static, so a build failure is a programming error and panics.
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := Load()
		if err != nil {
			panic(err)
		}
		defaultReg = r
	})
	return defaultReg
}

// Descriptor returns the descriptor for a message family.
func (r *Registry) Descriptor(name string) (protoreflect.MessageDescriptor, bool) {
	md, ok := r.messages[name]
	return md, ok
}

// Families lists the loaded message family names.
func (r *Registry) Families() []string {
	out := make([]string, 0, len(r.messages))
	msgs := r.file.Messages()
	for i := 0; i < msgs.Len(); i++ {
		out = append(out, string(msgs.Get(i).Name()))
	}
	return out
}

func (r *Registry) newMessage(name string) (*dynamicpb.Message, error) {
	md, ok := r.messages[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, name)
	}
	return dynamicpb.NewMessage(md), nil
}

// unmarshal parses b as the named family. strict rejects messages carrying
// fields the schema does not declare.
func (r *Registry) unmarshal(name string, b []byte, strict bool) (msg *dynamicpb.Message, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			msg = nil
			err = DecodeError{Message: name, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	msg, err = r.newMessage(name)
	if err != nil {
		return nil, err
	}
	if err := proto.Unmarshal(b, msg); err != nil {
		return nil, DecodeError{Message: name, Err: err}
	}
	if strict && hasUnknown(msg) {
		return nil, DecodeError{Message: name, Err: ErrUnknownFields}
	}
	return msg, nil
}

func hasUnknown(m protoreflect.Message) bool {
	if len(m.GetUnknown()) > 0 {
		return true
	}
	found := false
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.Kind() == protoreflect.MessageKind && !fd.IsList() && !fd.IsMap() {
			if hasUnknown(v.Message()) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func (r *Registry) marshal(msg *dynamicpb.Message) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(msg)
}

// reader reads typed values out of a dynamic message by field name.
type reader struct {
	m protoreflect.Message
}

func (rd reader) field(name string) protoreflect.FieldDescriptor {
	return rd.m.Descriptor().Fields().ByName(protoreflect.Name(name))
}

func (rd reader) has(name string) bool {
	fd := rd.field(name)
	return fd != nil && rd.m.Has(fd)
}

func (rd reader) u32(name string) uint32 {
	fd := rd.field(name)
	if fd == nil {
		return 0
	}
	return uint32(rd.m.Get(fd).Uint())
}

func (rd reader) i32(name string) int32 {
	fd := rd.field(name)
	if fd == nil {
		return 0
	}
	return int32(rd.m.Get(fd).Int())
}

func (rd reader) f32(name string) float32 {
	fd := rd.field(name)
	if fd == nil {
		return 0
	}
	return float32(rd.m.Get(fd).Float())
}

func (rd reader) boolean(name string) bool {
	fd := rd.field(name)
	if fd == nil {
		return false
	}
	return rd.m.Get(fd).Bool()
}

func (rd reader) str(name string) string {
	fd := rd.field(name)
	if fd == nil {
		return ""
	}
	return rd.m.Get(fd).String()
}

func (rd reader) bytes(name string) []byte {
	fd := rd.field(name)
	if fd == nil || !rd.m.Has(fd) {
		return nil
	}
	src := rd.m.Get(fd).Bytes()
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

func (rd reader) u32List(name string) []uint32 {
	fd := rd.field(name)
	if fd == nil || !rd.m.Has(fd) {
		return nil
	}
	list := rd.m.Get(fd).List()
	out := make([]uint32, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		out = append(out, uint32(list.Get(i).Uint()))
	}
	return out
}

// sub returns the nested message. An unset field yields an empty read-only
// message, so nested readers always see defaults.
func (rd reader) sub(name string) reader {
	fd := rd.field(name)
	if fd == nil {
		return reader{m: rd.m}
	}
	return reader{m: rd.m.Get(fd).Message()}
}

func (rd reader) oneof(name string) string {
	od := rd.m.Descriptor().Oneofs().ByName(protoreflect.Name(name))
	if od == nil {
		return ""
	}
	fd := rd.m.WhichOneof(od)
	if fd == nil {
		return ""
	}
	return string(fd.Name())
}

// writer sets typed values on a dynamic message, skipping zero scalars.
type writer struct {
	m *dynamicpb.Message
}

func (w writer) set(name string, v protoreflect.Value) writer {
	fd := w.m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		panic(fmt.Sprintf("schema: %s has no field %q", w.m.Descriptor().Name(), name))
	}
	w.m.Set(fd, v)
	return w
}

func (w writer) u32(name string, v uint32) writer {
	if v == 0 {
		return w
	}
	return w.set(name, protoreflect.ValueOfUint32(v))
}

func (w writer) i32(name string, v int32) writer {
	if v == 0 {
		return w
	}
	return w.set(name, protoreflect.ValueOfInt32(v))
}

func (w writer) f32(name string, v float32) writer {
	if v == 0 {
		return w
	}
	return w.set(name, protoreflect.ValueOfFloat32(v))
}

func (w writer) boolean(name string, v bool) writer {
	if !v {
		return w
	}
	return w.set(name, protoreflect.ValueOfBool(v))
}

func (w writer) str(name string, v string) writer {
	if v == "" {
		return w
	}
	return w.set(name, protoreflect.ValueOfString(v))
}

func (w writer) bytes(name string, v []byte) writer {
	if len(v) == 0 {
		return w
	}
	buf := make([]byte, len(v))
	copy(buf, v)
	return w.set(name, protoreflect.ValueOfBytes(buf))
}

func (w writer) u32List(name string, v []uint32) writer {
	if len(v) == 0 {
		return w
	}
	fd := w.m.Descriptor().Fields().ByName(protoreflect.Name(name))
	list := w.m.Mutable(fd).List()
	for _, x := range v {
		list.Append(protoreflect.ValueOfUint32(x))
	}
	return w
}

func (w writer) msg(name string, sub *dynamicpb.Message) writer {
	if sub == nil {
		return w
	}
	return w.set(name, protoreflect.ValueOfMessage(sub))
}
