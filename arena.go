package pickle

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// Mutable containers are not built directly while opcodes are interpreted.
// The decoder pushes arena nodes instead, fills them as opcodes come, and
// turns the whole graph of nodes into Go values at STOP. This way a container
// may be referenced (via memo) before it is complete, and hashed containers
// are filled only when their keys are final.

type listNode struct {
	items []any
}

type dictNode struct {
	items []any // k1 v1 k2 v2 ...
}

type setNode struct {
	items  []any
	frozen bool
}

// tupleNode is a tuple with some items being nodes. Tuples of plain values
// are pushed as Tuple directly.
type tupleNode struct {
	items []any
}

// callNode is a call of an unknown class. It becomes Call, or *Instance if
// BUILD was applied to it.
type callNode struct {
	callable Class
	args     []any
	state    any
	built    bool
}

func isNode(x any) bool {
	switch x.(type) {
	case *listNode, *dictNode, *setNode, *tupleNode, *callNode:
		return true
	}
	return false
}

// hasNode reports whether any of items is a node.
func hasNode(items []any) bool {
	for _, x := range items {
		if isNode(x) {
			return true
		}
	}
	return false
}

// children returns values directly referenced by node x.
func children(x any) []any {
	switch x := x.(type) {
	case *listNode:
		return x.items
	case *dictNode:
		return x.items
	case *setNode:
		return x.items
	case *tupleNode:
		return x.items
	case *callNode:
		if x.built {
			return append(x.args[:len(x.args):len(x.args)], x.state)
		}
		return x.args
	}
	return nil
}

// build is BUILD deferred till materialization.
type build struct {
	obj   reflect.Value // pointer to registered struct
	state any
}

// instanceArgs are constructor arguments of *Instance that contain nodes.
type instanceArgs struct {
	inst *Instance
	args []any
}

// instanceState is BUILD applied to *Instance.
type instanceState struct {
	inst  *Instance
	state any
}

// arena collects what has to be resolved at STOP.
type arena struct {
	builds    []build
	instArgs  []instanceArgs
	instState []instanceState
}

func (a *arena) reset() {
	a.builds = a.builds[:0]
	a.instArgs = a.instArgs[:0]
	a.instState = a.instState[:0]
}

// materializer turns nodes into Go values.
type materializer struct {
	out   map[any]any // node -> value
	order []any       // nodes in post-order
}

func newMaterializer() *materializer {
	return &materializer{out: make(map[any]any)}
}

// resolve returns final value of x.
func (m *materializer) resolve(x any) any {
	if isNode(x) {
		return m.out[x]
	}
	return x
}

func (m *materializer) resolveAll(items []any) Tuple {
	t := make(Tuple, len(items))
	for i, x := range items {
		t[i] = m.resolve(x)
	}
	return t
}

// discover appends nodes reachable from roots to m.order, children before
// parents. Cycles are cut at nodes that are already being visited.
func (m *materializer) discover(roots ...any) {
	type frame struct {
		node any
		kids []any
		next int
	}
	var stack []frame
	seen := make(map[any]bool)
	for node := range m.out {
		seen[node] = true
	}

	for _, root := range roots {
		if !isNode(root) || seen[root] {
			continue
		}
		seen[root] = true
		stack = append(stack, frame{node: root, kids: children(root)})

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(top.kids) {
				kid := top.kids[top.next]
				top.next++
				if isNode(kid) && !seen[kid] {
					seen[kid] = true
					stack = append(stack, frame{node: kid, kids: children(kid)})
				}
				continue
			}
			m.order = append(m.order, top.node)
			stack = stack[:len(stack)-1]
		}
	}
}

// materialize converts all nodes reachable from roots.
func (m *materializer) materialize(roots ...any) (err error) {
	start := len(m.order)
	m.discover(roots...)
	fresh := m.order[start:]

	// shells
	for _, node := range fresh {
		switch n := node.(type) {
		case *listNode:
			m.out[n] = make([]any, len(n.items))
		case *tupleNode:
			m.out[n] = make(Tuple, len(n.items))
		case *dictNode:
			m.out[n] = NewDictWithSizeHint(len(n.items) / 2)
		case *setNode:
			if n.frozen {
				m.out[n] = FrozenSet{newSet(len(n.items))}
			} else {
				m.out[n] = Set{newSet(len(n.items))}
			}
		case *callNode:
			args := make(Tuple, len(n.args))
			if n.built {
				m.out[n] = &Instance{Class: n.callable, Args: args}
			} else {
				m.out[n] = Call{Callable: n.callable, Args: args}
			}
		}
	}

	// sequences
	for _, node := range fresh {
		switch n := node.(type) {
		case *listNode:
			fill(m.out[n].([]any), n.items, m)
		case *tupleNode:
			fill(m.out[n].(Tuple), n.items, m)
		case *callNode:
			switch v := m.out[n].(type) {
			case Call:
				fill(v.Args, n.args, m)
			case *Instance:
				fill(v.Args, n.args, m)
				v.State = m.resolve(n.state)
			}
		}
	}

	// hashed containers, keys before the containers they are part of
	defer func() {
		if r := recover(); r != nil {
			switch u := r.(type) {
			case unhashable:
				err = fmt.Errorf("%s", u)
			case error:
				if u != ErrNesting {
					panic(r)
				}
				err = u
			default:
				panic(r)
			}
		}
	}()
	for _, node := range fresh {
		switch n := node.(type) {
		case *dictNode:
			d := m.out[n].(Dict)
			for i := 0; i+1 < len(n.items); i += 2 {
				d.Set(m.resolve(n.items[i]), m.resolve(n.items[i+1]))
			}
		case *setNode:
			var s *set
			switch v := m.out[n].(type) {
			case Set:
				s = v.s
			case FrozenSet:
				s = v.s
			}
			for _, x := range n.items {
				s.add(m.resolve(x))
			}
		}
	}
	return nil
}

func fill(dst []any, items []any, m *materializer) {
	for i, x := range items {
		dst[i] = m.resolve(x)
	}
}

// finish materializes result together with everything deferred in a, and
// applies deferred states. It returns the final value of result.
func (a *arena) finish(result any) (any, error) {
	if !isNode(result) && len(a.builds) == 0 && len(a.instArgs) == 0 && len(a.instState) == 0 {
		return result, nil
	}

	m := newMaterializer()
	roots := []any{result}
	for _, b := range a.builds {
		roots = append(roots, b.state)
	}
	for _, ia := range a.instArgs {
		roots = append(roots, ia.args...)
	}
	for _, is := range a.instState {
		roots = append(roots, is.state)
	}
	if err := m.materialize(roots...); err != nil {
		return nil, err
	}

	for _, ia := range a.instArgs {
		ia.inst.Args = m.resolveAll(ia.args)
	}
	for _, is := range a.instState {
		is.inst.State = m.resolve(is.state)
	}

	conv := newConverter()
	for _, b := range a.builds {
		if err := conv.applyState(b.obj, m.resolve(b.state)); err != nil {
			return nil, errors.WithMessagef(err, "cannot set state of %s", b.obj.Type())
		}
	}

	return m.resolve(result), nil
}

// snapshot returns x with all nodes in it converted to values as they are now.
func snapshot(x any) (any, error) {
	if !isNode(x) {
		return x, nil
	}
	m := newMaterializer()
	if err := m.materialize(x); err != nil {
		return nil, err
	}
	return m.resolve(x), nil
}
