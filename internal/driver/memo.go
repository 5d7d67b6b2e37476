package driver

import (
	"sync"

	"quire/internal/project/dag"
)

// task is the future of one module's processing. done is closed once node or
// err is set; neither changes afterwards.
type task struct {
	done chan struct{}
	node *dag.Node
	err  error
}

func newTask() *task {
	return &task{done: make(chan struct{})}
}

func (t *task) finish(node *dag.Node, err error) {
	t.node = node
	t.err = err
	close(t.done)
}

// memo maps canonical module ids to their task. Insertion is
// insert-if-absent, so concurrent discoverers of a module agree on one task
// and the module is processed once.
type memo struct {
	tasks sync.Map // string -> *task
}

// claim returns the task of id and whether the caller created it and must
// therefore run it.
func (m *memo) claim(id string) (*task, bool) {
	t := newTask()
	actual, loaded := m.tasks.LoadOrStore(id, t)
	return actual.(*task), !loaded
}

// evict removes id only while it still maps to t.
func (m *memo) evict(id string, t *task) {
	m.tasks.CompareAndDelete(id, t)
}

// len counts tasks; meant for tests and statistics.
func (m *memo) len() int {
	n := 0
	m.tasks.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// nodes returns the successfully processed modules.
func (m *memo) nodes() []dag.Node {
	var out []dag.Node
	m.tasks.Range(func(_, v any) bool {
		t := v.(*task)
		select {
		case <-t.done:
			if t.err == nil && t.node != nil {
				out = append(out, *t.node)
			}
		default:
		}
		return true
	})
	return out
}
