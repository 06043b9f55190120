package cli

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/pagegraph/internal/deps"
	"github.com/roach88/pagegraph/internal/ir"
	"github.com/roach88/pagegraph/internal/store"
)

// DepsOptions holds flags for the deps command.
type DepsOptions struct {
	*RootOptions
	Node       string
	Connection string
}

// DepsResult is the JSON payload of the deps command.
type DepsResult struct {
	Seq     int64       `json:"seq"`
	Queries []QueryDeps `json:"queries"`
}

// QueryDeps is one tracked query and what it read.
type QueryDeps struct {
	ID            string   `json:"id"`
	ComponentPath string   `json:"component_path"`
	Dirty         int      `json:"dirty"`
	Nodes         []string `json:"nodes,omitempty"`
	Connections   []string `json:"connections,omitempty"`
}

// NewDepsCommand creates the deps command.
func NewDepsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DepsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deps [query-id...]",
		Short: "Show the dependency index saved by the last build",
		Long: `Print every tracked query with the nodes and node types it read during its
last successful run, as saved in the state database.

With --node or --connection, print only the queries that would re-run when
that node or any node of that type changes.

Examples:
  pagegraph deps
  pagegraph deps /blog/hello/
  pagegraph deps --node post-a
  pagegraph deps --connection Post --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeps(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Node, "node", "", "list queries that depend on this node id")
	cmd.Flags().StringVar(&opts.Connection, "connection", "", "list queries that depend on every node of this type")
	cmd.MarkFlagsMutuallyExclusive("node", "connection")

	return cmd
}

func runDeps(opts *DepsOptions, ids []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	p, err := LoadProject(opts.Config)
	if err != nil {
		formatter.Error(loadErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load project", err)
	}

	dbPath := p.Path(p.Config.Database)
	if _, err := os.Stat(dbPath); err != nil {
		formatter.Error(ErrCodeNotFound, fmt.Sprintf("no build state at %s; run pagegraph build first", dbPath), nil)
		return NewExitError(ExitCommandError, "no build state")
	}
	st, err := store.Open(dbPath)
	if err != nil {
		formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.Node != "" || opts.Connection != "" {
		dep := ir.NodeDependency(opts.Node)
		if opts.Connection != "" {
			dep = ir.ConnectionDependency(opts.Connection)
		}
		dependents, err := st.Dependents(ctx, dep)
		if err != nil {
			formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to read dependencies", err)
		}
		if formatter.JSON() {
			return formatter.Success(orEmpty(dependents))
		}
		for _, id := range dependents {
			fmt.Fprintln(formatter.Writer, id)
		}
		return nil
	}

	cp, ok, err := st.LoadCheckpoint(ctx)
	if err != nil {
		formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read state", err)
	}
	if !ok {
		formatter.Error(ErrCodeNotFound, "no build state; run pagegraph build first", nil)
		return NewExitError(ExitCommandError, "no build state")
	}

	result := newDepsResult(cp.Seq, cp.Tracker, ids)
	if formatter.JSON() {
		return formatter.Success(result)
	}
	writeDepsText(formatter.Writer, result)
	return nil
}

// newDepsResult inverts the dependency index per query. ids, when non-empty,
// limits the result to those queries.
func newDepsResult(seq int64, snap deps.Snapshot, ids []string) DepsResult {
	nodes := invert(snap.ByNode)
	conns := invert(snap.ByConnection)

	result := DepsResult{Seq: seq, Queries: []QueryDeps{}}
	for _, q := range snap.Queries {
		if len(ids) > 0 && !slices.Contains(ids, q.ID) {
			continue
		}
		result.Queries = append(result.Queries, QueryDeps{
			ID:            q.ID,
			ComponentPath: q.ComponentPath,
			Dirty:         q.Dirty,
			Nodes:         nodes[q.ID],
			Connections:   conns[q.ID],
		})
	}
	return result
}

func invert(index map[string][]string) map[string][]string {
	out := make(map[string][]string)
	for target, ids := range index {
		for _, id := range ids {
			out[id] = append(out[id], target)
		}
	}
	for _, targets := range out {
		slices.Sort(targets)
	}
	return out
}

func writeDepsText(w io.Writer, r DepsResult) {
	fmt.Fprintf(w, "seq %d, %d quer%s\n", r.Seq, len(r.Queries), plural(len(r.Queries), "y", "ies"))
	for _, q := range r.Queries {
		fmt.Fprintf(w, "%s  %s", q.ID, q.ComponentPath)
		if q.Dirty > 0 {
			fmt.Fprintf(w, "  (dirty %d)", q.Dirty)
		}
		fmt.Fprintln(w)
		for _, n := range q.Nodes {
			fmt.Fprintf(w, "  node %s\n", n)
		}
		for _, c := range q.Connections {
			fmt.Fprintf(w, "  connection %s\n", c)
		}
	}
}
