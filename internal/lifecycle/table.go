package lifecycle

import "slices"

// Table holds every component in an arena indexed by component path.
type Table struct {
	components    []Component
	index         map[string]int
	bootstrapping bool
}

// NewTable creates an empty table in bootstrap mode.
func NewTable() *Table {
	return &Table{index: make(map[string]int), bootstrapping: true}
}

// Bootstrapping reports whether the first pass is still running.
func (t *Table) Bootstrapping() bool {
	return t.bootstrapping
}

// Apply routes ev to the component, creating it on first use for every
// event except page deletion.
func (t *Table) Apply(componentPath string, ev Event) []Effect {
	i, ok := t.index[componentPath]
	var effects []Effect
	if !ok {
		if ev.Kind == EventPageDeleted {
			return nil
		}
		var c Component
		c, effects = NewComponent(componentPath, t.bootstrapping)
		i = len(t.components)
		t.components = append(t.components, c)
		t.index[componentPath] = i
	}

	next, more := Transition(t.components[i], ev)
	t.components[i] = next
	return append(effects, more...)
}

// FinishBootstrap leaves bootstrap mode and transitions every component.
func (t *Table) FinishBootstrap() []Effect {
	if !t.bootstrapping {
		return nil
	}
	t.bootstrapping = false

	var effects []Effect
	for _, path := range t.paths() {
		i := t.index[path]
		next, more := Transition(t.components[i], Event{Kind: EventBootstrapFinished})
		t.components[i] = next
		effects = append(effects, more...)
	}
	return effects
}

// Get returns a copy of a component.
func (t *Table) Get(componentPath string) (Component, bool) {
	i, ok := t.index[componentPath]
	if !ok {
		return Component{}, false
	}
	return t.components[i], true
}

// Components returns every component ordered by path.
func (t *Table) Components() []Component {
	out := make([]Component, 0, len(t.components))
	for _, p := range t.paths() {
		out = append(out, t.components[t.index[p]])
	}
	return out
}

// Remove drops a component and returns DeleteQuery effects for its pages.
func (t *Table) Remove(componentPath string) []Effect {
	i, ok := t.index[componentPath]
	if !ok {
		return nil
	}
	c := t.components[i]

	last := len(t.components) - 1
	if i != last {
		t.components[i] = t.components[last]
		t.index[t.components[i].ComponentPath] = i
	}
	t.components = t.components[:last]
	delete(t.index, componentPath)

	effects := make([]Effect, 0, len(c.Pages))
	for _, p := range c.Pages {
		effects = append(effects, Effect{Kind: EffectDeleteQuery, ComponentPath: componentPath, Path: p})
	}
	return effects
}

func (t *Table) paths() []string {
	paths := make([]string, 0, len(t.index))
	for p := range t.index {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}
