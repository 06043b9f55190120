package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idleComponent(pages ...string) Component {
	c, _ := NewComponent("src/templates/post.tsx", false)
	c.Pages = pages
	c.Query = "query { a }"
	c.State = StateExtractionSuccess
	return c
}

func TestNewComponent(t *testing.T) {
	c, effects := NewComponent("tmpl", true)
	assert.Equal(t, StateInactive, c.State)
	assert.True(t, c.Bootstrapping)
	assert.Empty(t, effects)

	c, effects = NewComponent("tmpl", false)
	assert.Equal(t, StateIdle, c.State)
	assert.False(t, c.Bootstrapping)
	assert.Equal(t, []Effect{{Kind: EffectExtractQueries, ComponentPath: "tmpl"}}, effects)
}

func TestTransition(t *testing.T) {
	const cp = "src/templates/post.tsx"

	tests := []struct {
		name      string
		start     Component
		event     Event
		wantState State
		wantPages []string
		wantErrs  int
		effects   []Effect
	}{
		{
			name:      "identical query text is a no-op",
			start:     idleComponent("/a/"),
			event:     Event{Kind: EventQueryExtracted, Query: "query {\n  a\n}"},
			wantState: StateExtractionSuccess,
			wantPages: []string{"/a/"},
		},
		{
			name:      "changed query dirties every bound page once",
			start:     idleComponent("/a/", "/b/"),
			event:     Event{Kind: EventQueryExtracted, Query: "query { b }"},
			wantState: StateExtractionSuccess,
			wantPages: []string{"/a/", "/b/"},
			effects: []Effect{
				{Kind: EffectMarkDirty, ComponentPath: cp, Path: "/a/"},
				{Kind: EffectMarkDirty, ComponentPath: cp, Path: "/b/"},
				{Kind: EffectQueueComponent, ComponentPath: cp},
			},
		},
		{
			name:      "graphql error sets error counter",
			start:     idleComponent("/a/"),
			event:     Event{Kind: EventGraphQLError},
			wantState: StateExtractionGraphQLError,
			wantPages: []string{"/a/"},
			wantErrs:  1,
		},
		{
			name:      "babel error sets error counter",
			start:     idleComponent(),
			event:     Event{Kind: EventBabelError},
			wantState: StateExtractionBabelError,
			wantErrs:  1,
		},
		{
			name:      "new page after bootstrap is tracked and run",
			start:     idleComponent(),
			event:     Event{Kind: EventPageCreated, Path: "/a/"},
			wantState: StateExtractionSuccess,
			wantPages: []string{"/a/"},
			effects: []Effect{
				{Kind: EffectTrackQuery, ComponentPath: cp, Path: "/a/"},
				{Kind: EffectRunQuery, ComponentPath: cp, Path: "/a/"},
			},
		},
		{
			name:      "known page without context change is a no-op",
			start:     idleComponent("/a/"),
			event:     Event{Kind: EventPageCreated, Path: "/a/"},
			wantState: StateExtractionSuccess,
			wantPages: []string{"/a/"},
		},
		{
			name:      "known page with modified context is dirtied",
			start:     idleComponent("/a/"),
			event:     Event{Kind: EventPageCreated, Path: "/a/", ContextModified: true},
			wantState: StateExtractionSuccess,
			wantPages: []string{"/a/"},
			effects: []Effect{
				{Kind: EffectMarkDirty, ComponentPath: cp, Path: "/a/"},
				{Kind: EffectRunQuery, ComponentPath: cp, Path: "/a/"},
			},
		},
		{
			name:      "page deletion deletes its query",
			start:     idleComponent("/a/", "/b/"),
			event:     Event{Kind: EventPageDeleted, Path: "/a/"},
			wantState: StateExtractionSuccess,
			wantPages: []string{"/b/"},
			effects:   []Effect{{Kind: EffectDeleteQuery, ComponentPath: cp, Path: "/a/"}},
		},
		{
			name:      "unknown page deletion is a no-op",
			start:     idleComponent("/b/"),
			event:     Event{Kind: EventPageDeleted, Path: "/a/"},
			wantState: StateExtractionSuccess,
			wantPages: []string{"/b/"},
		},
		{
			name:      "bootstrap finished twice is ignored",
			start:     idleComponent(),
			event:     Event{Kind: EventBootstrapFinished},
			wantState: StateExtractionSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, effects := Transition(tt.start, tt.event)
			assert.Equal(t, tt.wantState, got.State)
			assert.Equal(t, tt.wantErrs, got.Errors)
			if len(tt.wantPages) == 0 {
				assert.Empty(t, got.Pages)
			} else {
				assert.Equal(t, tt.wantPages, got.Pages)
			}
			assert.Equal(t, tt.effects, effects)
		})
	}
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	start := idleComponent("/a/", "/c/")
	_, _ = Transition(start, Event{Kind: EventPageCreated, Path: "/b/"})
	_, _ = Transition(start, Event{Kind: EventPageDeleted, Path: "/a/"})

	assert.Equal(t, []string{"/a/", "/c/"}, start.Pages)
}

func TestErrorsClearOnlyOnExplicitSuccess(t *testing.T) {
	c := idleComponent("/a/")

	c, _ = Transition(c, Event{Kind: EventGraphQLError})
	require.Equal(t, 1, c.Errors)

	c, effects := Transition(c, Event{Kind: EventQueryExtracted, Query: "query { fixed }"})
	assert.Equal(t, 1, c.Errors, "query extraction does not reset errors")
	assert.Equal(t, StateExtractionGraphQLError, c.State)
	assert.Equal(t, []Effect{{Kind: EffectMarkDirty, ComponentPath: c.ComponentPath, Path: "/a/"}}, effects)

	c, effects = Transition(c, Event{Kind: EventPageCreated, Path: "/b/"})
	assert.Equal(t, []Effect{{Kind: EffectTrackQuery, ComponentPath: c.ComponentPath, Path: "/b/"}}, effects,
		"pages of a failing component are not run")

	c, effects = Transition(c, Event{Kind: EventExtractionSucceeded})
	assert.Equal(t, 0, c.Errors)
	assert.Equal(t, StateExtractionSuccess, c.State)
	assert.Equal(t, []Effect{{Kind: EffectQueueComponent, ComponentPath: c.ComponentPath}}, effects)
}

func TestBootstrapDefersExecution(t *testing.T) {
	c, _ := NewComponent("tmpl", true)

	c, effects := Transition(c, Event{Kind: EventPageCreated, Path: "/a/"})
	assert.Equal(t, []Effect{{Kind: EffectTrackQuery, ComponentPath: "tmpl", Path: "/a/"}}, effects)

	c, effects = Transition(c, Event{Kind: EventQueryExtracted, Query: "{ a }"})
	assert.Equal(t, StateInactive, c.State)
	assert.Equal(t, []Effect{{Kind: EffectMarkDirty, ComponentPath: "tmpl", Path: "/a/"}}, effects)

	c, _ = Transition(c, Event{Kind: EventBabelError})
	assert.Equal(t, StateInactive, c.State)
	assert.Equal(t, 1, c.Errors)

	c, effects = Transition(c, Event{Kind: EventBootstrapFinished})
	assert.Equal(t, StateIdle, c.State)
	assert.Equal(t, []Effect{{Kind: EffectExtractQueries, ComponentPath: "tmpl"}}, effects)
}
