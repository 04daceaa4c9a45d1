package pickle

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ClassResolver binds Go struct types to qualified class names.
//
// Encoder uses it to find the class of registered objects, and Decoder uses it
// to find the type to allocate for a class reference. Types that are not
// registered cannot be pickled as objects, and unknown class references fail
// to unpickle unless the decoder is in Symbolic mode.
//
// ClassResolver is safe for concurrent use. It is read-mostly: registration
// usually happens once at init time.
type ClassResolver struct {
	mu      sync.RWMutex
	byType  map[reflect.Type]Class
	byClass map[Class]reflect.Type
}

// NewClassResolver returns new empty resolver.
func NewClassResolver() *ClassResolver {
	return &ClassResolver{
		byType:  make(map[reflect.Type]Class),
		byClass: make(map[Class]reflect.Type),
	}
}

// DefaultResolver is the resolver used when configuration does not specify one.
var DefaultResolver = NewClassResolver()

// structType returns struct type of sample, which may be a struct or a pointer to struct.
func structType(op string, sample any) (reflect.Type, error) {
	t := reflect.TypeOf(sample)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, valueError(op, "%T is not a struct or pointer to struct", sample)
	}
	return t, nil
}

func checkClass(op string, class Class) error {
	for _, s := range []string{class.Module, class.Name} {
		if s == "" || strings.ContainsAny(s, "\n\r") {
			return valueError(op, "invalid class name %q.%q", class.Module, class.Name)
		}
	}
	return nil
}

// Register binds the type of sample to class.
//
// sample must be a struct or a pointer to struct; its value is not used.
// Registering the same binding again is a no-op, while binding either the
// type or the class to something else is an error.
func (r *ClassResolver) Register(class Class, sample any) error {
	t, err := structType("register", sample)
	if err != nil {
		return err
	}
	if err := checkClass("register", class); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if have, ok := r.byType[t]; ok {
		if have == class {
			return nil
		}
		return valueError("register", "type %s is already registered as %s", t, have)
	}
	if have, ok := r.byClass[class]; ok {
		return valueError("register", "class %s is already registered for type %s", class, have)
	}

	r.byType[t] = class
	r.byClass[class] = t
	Logger().Debug("class registered", zap.Stringer("class", class), zap.Stringer("type", t))
	return nil
}

// RegisterType binds the type of sample to class named after the type's
// package path and name.
//
// Types without name, e.g. created with reflect.StructOf, have no importable
// name and must be bound explicitly with Register.
func (r *ClassResolver) RegisterType(sample any) error {
	t, err := structType("register", sample)
	if err != nil {
		return err
	}
	if t.Name() == "" || t.PkgPath() == "" {
		return valueError("register", "type %s has no importable name; bind it with Register", t)
	}
	return r.Register(Class{Module: t.PkgPath(), Name: t.Name()}, sample)
}

// Resolve returns the class bound to struct type t, or to the struct type t points to.
func (r *ClassResolver) Resolve(t reflect.Type) (Class, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.RLock()
	class, ok := r.byType[t]
	r.mu.RUnlock()
	if !ok {
		return Class{}, picklingError("encode", "Can't pickle %s: it's not bound to an importable name", t)
	}
	return class, nil
}

// lookup is comma-ok version of Resolve.
func (r *ClassResolver) lookup(t reflect.Type) (Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	class, ok := r.byType[t]
	return class, ok
}

// Rebuild returns the struct type bound to class.
func (r *ClassResolver) Rebuild(class Class) (reflect.Type, error) {
	r.mu.RLock()
	t, ok := r.byClass[class]
	r.mu.RUnlock()
	if !ok {
		return nil, &Error{Kind: KindUnpickling, Op: "find_class", Pos: -1,
			Detail: fmt.Sprintf("cannot find class %s", class)}
	}
	return t, nil
}

// New allocates zero object of the type bound to class and returns pointer to it.
//
// No constructor of any kind is run: state is to be applied on the bare object.
func (r *ClassResolver) New(class Class) (reflect.Value, error) {
	t, err := r.Rebuild(class)
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.New(t), nil
}

// Register binds the type of sample to module.name in DefaultResolver.
func Register(module, name string, sample any) error {
	return DefaultResolver.Register(Class{Module: module, Name: name}, sample)
}

// MustRegister is like Register but panics on error.
//
// It is intended to be used from init functions.
func MustRegister(module, name string, sample any) {
	if err := Register(module, name, sample); err != nil {
		panic(err)
	}
}
