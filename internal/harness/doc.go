// Package harness runs end-to-end engine scenarios described in YAML.
//
// A scenario declares template sources, a site and a list of steps. Each
// step mutates the data store or the declared pages, drains the engine and
// compares the batch report with its expectations.
//
// # Scenario Format
//
//	name: blog_incremental
//	description: "Editing one post reruns only its page and the index"
//	mode: build
//	templates:
//	  src/templates/post.js: |
//	    export const query = graphql`query($id: ID!) { node(id: $id) { title } }`
//	site:
//	  nodes:
//	    - {id: post-a, type: Post, fields: {title: First}}
//	  pages:
//	    - {path: /a/, component: src/templates/post.js, context: {id: post-a}}
//	steps:
//	  - name: bootstrap
//	    declare: true
//	    expect:
//	      ran: [/a/]
//	  - name: edit
//	    upsert:
//	      - {id: post-a, type: Post, fields: {title: Revised}}
//	    expect:
//	      written: [/a/]
//	assertions:
//	  - type: dirty
//	    query: /a/
//	    count: 0
//
// An absent expectation list is not checked; an empty one must match an
// empty report list.
//
// # Assertion Types
//
//   - dirty: the query's dirty counter equals count
//   - depends_on: the query recorded a dependency on node or connection
//   - no_dependency: the query has no such dependency
//   - untracked: the query is not tracked
//   - artifact: the query's artifact was written writes times and contains text
//   - executions: the executor ran count times over the whole scenario
//
// # Deterministic Testing
//
// Every batch shares one fixed token (scenario batch_token, or
// "test-batch-default") and the logical clock starts at zero, so a scenario
// snapshot is byte-identical across runs and can be compared with a golden
// file by RunWithGolden.
package harness
