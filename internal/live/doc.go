// Package live pushes develop-mode query results to connected browsers over
// WebSocket and reports which paths they are viewing back to the engine.
//
// Client messages:
//
//	{"type":"registerPath","payload":"/blog/"}
//	{"type":"unregisterPath","payload":"/blog/"}
//	{"type":"getDataForPath","payload":"/blog/"}
//
// Server messages:
//
//	{"type":"pageQueryResult","payload":{"id":"/blog/","result":{...}}}
//	{"type":"staticQueryResult","payload":{"id":"sq--nav","result":{...}}}
//	{"type":"overlayError","payload":{"id":"/blog/","message":"..."}}
//	{"type":"invalidateQueryResults","payload":["/blog/"]}
//
// Each client views at most one path. Registering a new path deactivates the
// previous one, and a disconnect deactivates whatever the client was viewing.
package live
