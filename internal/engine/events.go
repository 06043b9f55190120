package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/pagegraph/internal/extract"
	"github.com/roach88/pagegraph/internal/ir"
)

// EventKind distinguishes between event kinds.
type EventKind int

const (
	EventNodeChanged EventKind = iota + 1
	EventPageCreated
	EventPageDeleted
	EventStaticQueryReplaced
	EventStaticQueryRemoved
	EventQueryExtracted
	EventExtractionFailed
	EventExtractionSucceeded
	EventComponentRemoved
	EventTemplateChanged
	EventBootstrapFinished
	EventPathActivated
	EventPathDeactivated
	EventFlush
	EventCheckpoint
)

var eventNames = map[EventKind]string{
	EventNodeChanged:         "node-changed",
	EventPageCreated:         "page-created",
	EventPageDeleted:         "page-deleted",
	EventStaticQueryReplaced: "static-query-replaced",
	EventStaticQueryRemoved:  "static-query-removed",
	EventQueryExtracted:      "query-extracted",
	EventExtractionFailed:    "extraction-failed",
	EventExtractionSucceeded: "extraction-succeeded",
	EventComponentRemoved:    "component-removed",
	EventTemplateChanged:     "template-changed",
	EventBootstrapFinished:   "bootstrap-finished",
	EventPathActivated:       "path-activated",
	EventPathDeactivated:     "path-deactivated",
	EventFlush:               "flush",
	EventCheckpoint:          "checkpoint",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one input to the engine loop. Only the fields relevant to Kind
// are set; use the constructors below.
type Event struct {
	Kind          EventKind
	Node          ir.NodeEvent
	Page          ir.Page
	ID            string
	ComponentPath string
	Query         string
	Failure       extract.Kind
	Errors        []ir.QueryError

	reply chan reply
}

type reply struct {
	report Report
	err    error
}

// NodeChanged reports a data store mutation.
func NodeChanged(ev ir.NodeEvent) Event {
	return Event{Kind: EventNodeChanged, Node: ev}
}

// PageCreated binds a page to its template. Re-creating a page with a
// different context invalidates it.
func PageCreated(p ir.Page) Event {
	return Event{Kind: EventPageCreated, Page: p, ID: p.Path, ComponentPath: p.ComponentPath}
}

// PageDeleted removes a page and its tracked query.
func PageDeleted(path string) Event {
	return Event{Kind: EventPageDeleted, ID: path}
}

// StaticQueryReplaced sets the text of a static query.
func StaticQueryReplaced(id, query string) Event {
	return Event{Kind: EventStaticQueryReplaced, ID: id, Query: query}
}

// StaticQueryRemoved drops a static query.
func StaticQueryRemoved(id string) Event {
	return Event{Kind: EventStaticQueryRemoved, ID: id}
}

// QueryExtracted delivers a template's query text.
func QueryExtracted(componentPath, query string) Event {
	return Event{Kind: EventQueryExtracted, ComponentPath: componentPath, Query: query}
}

// ExtractionFailed reports that a template's query could not be extracted.
// Errors other than *extract.Error count as source-level failures.
func ExtractionFailed(componentPath string, err error) Event {
	ev := Event{Kind: EventExtractionFailed, ComponentPath: componentPath, Failure: extract.KindSource}
	var xe *extract.Error
	if errors.As(err, &xe) {
		ev.Failure = xe.Kind
		ev.Errors = xe.Errors
	} else if err != nil {
		ev.Errors = []ir.QueryError{{Message: err.Error(), File: componentPath}}
	}
	return ev
}

// ExtractionSucceeded clears a template's extraction error.
func ExtractionSucceeded(componentPath string) Event {
	return Event{Kind: EventExtractionSucceeded, ComponentPath: componentPath}
}

// ComponentRemoved drops a template and every page bound to it.
func ComponentRemoved(componentPath string) Event {
	return Event{Kind: EventComponentRemoved, ComponentPath: componentPath}
}

// TemplateChanged asks the engine to extract a template's query again.
func TemplateChanged(componentPath string) Event {
	return Event{Kind: EventTemplateChanged, ComponentPath: componentPath}
}

// BootstrapFinished ends the initial pass. Queries only run afterwards.
func BootstrapFinished() Event {
	return Event{Kind: EventBootstrapFinished}
}

// PathActivated records that a live client is viewing path.
func PathActivated(path string) Event {
	return Event{Kind: EventPathActivated, ID: path}
}

// PathDeactivated records that a live client stopped viewing path.
func PathDeactivated(path string) Event {
	return Event{Kind: EventPathDeactivated, ID: path}
}
