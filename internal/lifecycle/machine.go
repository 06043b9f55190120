package lifecycle

import (
	"slices"
	"strings"
)

// State is a component lifecycle state.
type State string

const (
	StateInactive               State = "inactive"
	StateIdle                   State = "idle.inactive"
	StateExtractionSuccess      State = "idle.queryExtractionSuccess"
	StateExtractionGraphQLError State = "idle.queryExtractionGraphQLError"
	StateExtractionBabelError   State = "idle.queryExtractionBabelError"
)

// Idle reports whether s is one of the idle.* states.
func (s State) Idle() bool {
	return strings.HasPrefix(string(s), "idle.")
}

// EventKind identifies a lifecycle event.
type EventKind string

const (
	EventBootstrapFinished   EventKind = "BOOTSTRAP_FINISHED"
	EventQueryExtracted      EventKind = "QUERY_EXTRACTED"
	EventGraphQLError        EventKind = "QUERY_EXTRACTION_GRAPHQL_ERROR"
	EventBabelError          EventKind = "QUERY_EXTRACTION_BABEL_ERROR"
	EventExtractionSucceeded EventKind = "QUERY_EXTRACTION_SUCCEEDED"
	EventPageCreated         EventKind = "PAGE_CREATED"
	EventPageDeleted         EventKind = "PAGE_DELETED"
)

// Event is an input to Transition. Path is set for page events, Query for
// QueryExtracted.
type Event struct {
	Kind            EventKind
	Path            string
	Query           string
	ContextModified bool
}

// EffectKind identifies work the engine must perform after a transition.
type EffectKind string

const (
	EffectExtractQueries EffectKind = "EXTRACT_QUERIES"
	EffectTrackQuery     EffectKind = "TRACK_QUERY"
	EffectMarkDirty      EffectKind = "MARK_DIRTY"
	EffectDeleteQuery    EffectKind = "DELETE_QUERY"
	EffectRunQuery       EffectKind = "RUN_QUERY"
	EffectQueueComponent EffectKind = "QUEUE_COMPONENT"
)

// Effect is one unit of follow-up work.
type Effect struct {
	Kind          EffectKind
	ComponentPath string
	Path          string
}

// Component is the lifecycle record of one template.
type Component struct {
	ComponentPath string
	State         State
	Query         string
	Pages         []string
	Errors        int
	Bootstrapping bool
}

// HasPage reports whether path is bound to the component.
func (c Component) HasPage(path string) bool {
	_, found := slices.BinarySearch(c.Pages, path)
	return found
}

// Runnable reports whether the component's pages may execute.
func (c Component) Runnable() bool {
	return !c.Bootstrapping && c.Errors == 0
}

// NewComponent creates a component. Components created after bootstrap take
// the inactive to idle transition immediately.
func NewComponent(componentPath string, bootstrapping bool) (Component, []Effect) {
	c := Component{ComponentPath: componentPath, State: StateInactive, Bootstrapping: true}
	if bootstrapping {
		return c, nil
	}
	return Transition(c, Event{Kind: EventBootstrapFinished})
}

type rule struct {
	on    EventKind
	from  func(State) bool
	apply func(Component, Event) (Component, []Effect)
}

func anyState(State) bool { return true }

func only(s State) func(State) bool {
	return func(cur State) bool { return cur == s }
}

// rules is the transition table. The first rule matching (event, state)
// applies; an unmatched pair leaves the component unchanged.
var rules = []rule{
	{on: EventBootstrapFinished, from: only(StateInactive), apply: finishBootstrap},
	{on: EventQueryExtracted, from: anyState, apply: extractQuery},
	{on: EventGraphQLError, from: anyState, apply: failExtraction(StateExtractionGraphQLError)},
	{on: EventBabelError, from: anyState, apply: failExtraction(StateExtractionBabelError)},
	{on: EventExtractionSucceeded, from: anyState, apply: succeedExtraction},
	{on: EventPageCreated, from: anyState, apply: createPage},
	{on: EventPageDeleted, from: anyState, apply: deletePage},
}

// Transition applies ev to c. It never mutates c's page slice in place.
func Transition(c Component, ev Event) (Component, []Effect) {
	for _, r := range rules {
		if r.on == ev.Kind && r.from(c.State) {
			return r.apply(c, ev)
		}
	}
	return c, nil
}

func finishBootstrap(c Component, _ Event) (Component, []Effect) {
	c.State = StateIdle
	c.Bootstrapping = false
	return c, []Effect{{Kind: EffectExtractQueries, ComponentPath: c.ComponentPath}}
}

func extractQuery(c Component, ev Event) (Component, []Effect) {
	if NormalizeQuery(ev.Query) == NormalizeQuery(c.Query) {
		return c, nil
	}
	c.Query = ev.Query

	effects := make([]Effect, 0, len(c.Pages)+1)
	for _, p := range c.Pages {
		effects = append(effects, Effect{Kind: EffectMarkDirty, ComponentPath: c.ComponentPath, Path: p})
	}
	if c.State.Idle() && c.Errors == 0 {
		c.State = StateExtractionSuccess
	}
	if c.Runnable() {
		effects = append(effects, Effect{Kind: EffectQueueComponent, ComponentPath: c.ComponentPath})
	}
	return c, effects
}

func failExtraction(to State) func(Component, Event) (Component, []Effect) {
	return func(c Component, _ Event) (Component, []Effect) {
		c.Errors = 1
		if c.State.Idle() {
			c.State = to
		}
		return c, nil
	}
}

func succeedExtraction(c Component, _ Event) (Component, []Effect) {
	wasFailing := c.Errors > 0
	c.Errors = 0
	if !c.State.Idle() {
		return c, nil
	}
	if c.State == StateExtractionGraphQLError || c.State == StateExtractionBabelError {
		c.State = StateExtractionSuccess
	}
	if wasFailing && c.Runnable() {
		return c, []Effect{{Kind: EffectQueueComponent, ComponentPath: c.ComponentPath}}
	}
	return c, nil
}

func createPage(c Component, ev Event) (Component, []Effect) {
	run := Effect{Kind: EffectRunQuery, ComponentPath: c.ComponentPath, Path: ev.Path}

	if c.HasPage(ev.Path) {
		if !ev.ContextModified {
			return c, nil
		}
		effects := []Effect{{Kind: EffectMarkDirty, ComponentPath: c.ComponentPath, Path: ev.Path}}
		if c.Runnable() {
			effects = append(effects, run)
		}
		return c, effects
	}

	pages := slices.Clone(c.Pages)
	i, _ := slices.BinarySearch(pages, ev.Path)
	c.Pages = slices.Insert(pages, i, ev.Path)

	effects := []Effect{{Kind: EffectTrackQuery, ComponentPath: c.ComponentPath, Path: ev.Path}}
	if c.Runnable() {
		effects = append(effects, run)
	}
	return c, effects
}

func deletePage(c Component, ev Event) (Component, []Effect) {
	i, found := slices.BinarySearch(c.Pages, ev.Path)
	if !found {
		return c, nil
	}
	c.Pages = slices.Delete(slices.Clone(c.Pages), i, i+1)
	return c, []Effect{{Kind: EffectDeleteQuery, ComponentPath: c.ComponentPath, Path: ev.Path}}
}

// NormalizeQuery collapses whitespace so that formatting-only edits compare equal.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}
