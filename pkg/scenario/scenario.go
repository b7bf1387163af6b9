// Package scenario loads a task-graph fixture (a stand-in for the
// out-of-scope planner's output) from YAML, validates its shape against a
// JSON Schema, and builds the corresponding command graph: one compute
// command per task, with push/await_push pairs synthesized wherever two
// dependent tasks are assigned to different nodes. This is the
// fixture-driven path the CLI's "run" command uses; "simulate" builds its
// tiny two-node graph by hand instead, to keep that command dependency-free.
package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/distex-rt/distex/pkg/alg/interval"
	"github.com/distex-rt/distex/pkg/command"
	"github.com/distex-rt/distex/pkg/graph"
	"github.com/distex-rt/distex/pkg/ids"
	"github.com/distex-rt/distex/pkg/toposort"
)

// fixtureSchema constrains the YAML fixture format: a buffer_len default
// and a list of tasks, each with a numeric id, an owning node, an
// optional buffer length override, an explicit list of task ids it depends
// on, and optional declared buffer read/write ranges used to synthesize
// true- and anti-dependencies from range overlap the way the out-of-scope
// planner would.
const fixtureSchema = `{
  "type": "object",
  "required": ["tasks"],
  "properties": {
    "buffer_len": {"type": "integer", "minimum": 1},
    "tasks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "node"],
        "properties": {
          "id": {"type": "integer", "minimum": 0},
          "node": {"type": "integer", "minimum": 0},
          "buffer_len": {"type": "integer", "minimum": 1},
          "depends_on": {"type": "array", "items": {"type": "integer", "minimum": 0}},
          "writes": {"type": "array", "items": {"$ref": "#/definitions/access"}},
          "reads": {"type": "array", "items": {"$ref": "#/definitions/access"}}
        }
      }
    }
  },
  "definitions": {
    "access": {
      "type": "object",
      "required": ["buffer", "offset", "extent"],
      "properties": {
        "buffer": {"type": "integer", "minimum": 0},
        "offset": {"type": "integer", "minimum": 0},
        "extent": {"type": "integer", "minimum": 1}
      }
    }
  }
}`

// BufferAccess declares that a task reads or writes a subrange of a named
// buffer, for overlap-based dependency synthesis.
type BufferAccess struct {
	Buffer uint64 `yaml:"buffer"`
	Offset uint64 `yaml:"offset"`
	Extent uint64 `yaml:"extent"`
}

// TaskSpec is one task in a Fixture.
type TaskSpec struct {
	ID        uint64         `yaml:"id"`
	Node      uint64         `yaml:"node"`
	BufferLen uint64         `yaml:"buffer_len"`
	DependsOn []uint64       `yaml:"depends_on"`
	Writes    []BufferAccess `yaml:"writes"`
	Reads     []BufferAccess `yaml:"reads"`
}

// Fixture is a whole task-graph fixture.
type Fixture struct {
	BufferLen uint64     `yaml:"buffer_len"`
	Tasks     []TaskSpec `yaml:"tasks"`
}

// ErrInvalidFixture is returned when a fixture fails schema validation.
var ErrInvalidFixture = errors.New("scenario: fixture does not match the expected schema")

// ErrCyclicFixture is returned when a fixture's depends_on edges do not
// form a DAG. The planner this fixture stands in for is expected to
// guarantee acyclicity (§9's same-node/acyclicity invariant rests on that
// guarantee); a cyclic fixture is a fixture-authoring error, caught here
// rather than surfacing later as a confusing serializer assertion.
var ErrCyclicFixture = errors.New("scenario: task dependency graph contains a cycle")

// LoadFixture reads, schema-validates, and parses a task-graph fixture
// from path.
func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read fixture %s: %w", path, err)
	}

	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("scenario: parse fixture %s: %w", path, err)
	}

	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("scenario: convert fixture %s to JSON for validation: %w", path, err)
	}

	schemaLoader := gojsonschema.NewStringLoader(fixtureSchema)
	docLoader := gojsonschema.NewBytesLoader(asJSON)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fmt.Errorf("scenario: validate fixture %s: %w", path, err)
	}

	if !result.Valid() {
		var b bytes.Buffer
		for _, issue := range result.Errors() {
			fmt.Fprintf(&b, "- %s\n", issue)
		}

		return nil, fmt.Errorf("%w: %s:\n%s", ErrInvalidFixture, path, b.String())
	}

	var fixture Fixture
	if err := yaml.Unmarshal(raw, &fixture); err != nil {
		return nil, fmt.Errorf("scenario: decode fixture %s: %w", path, err)
	}

	return &fixture, nil
}

// BuildGraph adds one compute command per task to store, synthesizing a
// push/await_push pair for every cross-node dependency and a direct
// command-graph dependency edge for every same-node one. It returns each
// task's compute command handle, for the caller to drive flush(tid) calls
// in fixture order.
func BuildGraph(store *graph.Store, fixture *Fixture) (map[ids.TaskID]ids.CommandID, error) {
	if err := validateAcyclic(fixture); err != nil {
		return nil, err
	}

	defaultLen := fixture.BufferLen
	if defaultLen == 0 {
		defaultLen = 1
	}

	nodeOf := make(map[ids.TaskID]ids.NodeID, len(fixture.Tasks))
	computeOf := make(map[ids.TaskID]ids.CommandID, len(fixture.Tasks))

	for _, t := range fixture.Tasks {
		tid := ids.TaskID(t.ID)
		nid := ids.NodeID(t.Node)
		nodeOf[tid] = nid

		buflen := t.BufferLen
		if buflen == 0 {
			buflen = defaultLen
		}

		sr := command.Subrange{Offset: 0, Extent: buflen}

		cid := store.AddCommand(command.Compute, nid, tid)
		store.SetPacket(cid, command.Packet{Kind: command.Compute, Compute: command.ComputeData{Task: tid, Subrange: sr}})
		computeOf[tid] = cid
	}

	// linked remembers which (depTid, tid) pairs already have a dependency
	// edge (direct or push/await_push-mediated) so overlap synthesis below
	// never emits a second command-graph edge, or a second push/await_push
	// pair, for a pair already ordered by an explicit depends_on entry.
	linked := make(map[[2]ids.TaskID]bool, len(fixture.Tasks))

	link := func(depTid, tid ids.TaskID, anti bool) error {
		key := [2]ids.TaskID{depTid, tid}
		if linked[key] {
			return nil
		}

		linked[key] = true

		depCid, ok := computeOf[depTid]
		if !ok {
			return fmt.Errorf("scenario: task %s depends on unknown task %s", tid, depTid)
		}

		computeCid := computeOf[tid]
		depNid, nid := nodeOf[depTid], nodeOf[tid]

		if depNid == nid {
			store.AddDependency(depCid, computeCid, anti)

			return nil
		}

		buf := ids.BufferID(depTid)
		sr := command.Subrange{Offset: 0, Extent: defaultLen}

		pushCid := store.AddCommand(command.Push, depNid, ids.TaskID(0))
		store.SetPacket(pushCid, command.Packet{Kind: command.Push, Push: command.PushData{Buffer: buf, Target: nid, Subrange: sr}})
		store.AddDependency(depCid, pushCid, false)

		awaitCid := store.AddCommand(command.AwaitPush, nid, ids.TaskID(0))
		store.SetPacket(awaitCid, command.Packet{
			Kind:      command.AwaitPush,
			AwaitPush: command.AwaitPushData{Buffer: buf, Source: depNid, SourceCommand: pushCid, Subrange: sr},
		})
		store.AddDependency(awaitCid, computeCid, anti)

		return nil
	}

	for _, t := range fixture.Tasks {
		tid := ids.TaskID(t.ID)

		for _, depID := range t.DependsOn {
			if err := link(ids.TaskID(depID), tid, false); err != nil {
				return nil, err
			}
		}
	}

	if err := linkBufferOverlaps(fixture, link); err != nil {
		return nil, err
	}

	return computeOf, nil
}

// linkBufferOverlaps walks tasks in fixture order, tracking each buffer's
// accessed ranges in a pair of interval trees (one for writes, one for
// reads), and calls link for every overlap found between an earlier task's
// access and a later task's access: read-after-write and write-after-write
// overlaps are true dependencies, and a later write overlapping an earlier
// read is an anti-dependency, mirroring the planner's own race-avoidance
// role (data model §3, testable property S5) for this fixture-driven
// stand-in.
func linkBufferOverlaps(fixture *Fixture, link func(depTid, tid ids.TaskID, anti bool) error) error {
	writes := make(map[uint64]*interval.Tree[uint64, ids.TaskID])
	reads := make(map[uint64]*interval.Tree[uint64, ids.TaskID])

	treeFor := func(m map[uint64]*interval.Tree[uint64, ids.TaskID], buf uint64) *interval.Tree[uint64, ids.TaskID] {
		t, ok := m[buf]
		if !ok {
			t = interval.New[uint64, ids.TaskID]()
			m[buf] = t
		}

		return t
	}

	overlapping := func(t *interval.Tree[uint64, ids.TaskID], a BufferAccess, self ids.TaskID) []ids.TaskID {
		var deps []ids.TaskID

		for _, iv := range t.QueryOverlap(a.Offset, a.Offset+a.Extent-1) {
			if iv.Value != self {
				deps = append(deps, iv.Value)
			}
		}

		return deps
	}

	for _, t := range fixture.Tasks {
		tid := ids.TaskID(t.ID)

		for _, w := range t.Writes {
			for _, dep := range overlapping(treeFor(reads, w.Buffer), w, tid) {
				if err := link(dep, tid, true); err != nil {
					return err
				}
			}

			for _, dep := range overlapping(treeFor(writes, w.Buffer), w, tid) {
				if err := link(dep, tid, false); err != nil {
					return err
				}
			}

			treeFor(writes, w.Buffer).Insert(w.Offset, w.Offset+w.Extent-1, tid)
		}

		for _, r := range t.Reads {
			for _, dep := range overlapping(treeFor(writes, r.Buffer), r, tid) {
				if err := link(dep, tid, false); err != nil {
					return err
				}
			}

			treeFor(reads, r.Buffer).Insert(r.Offset, r.Offset+r.Extent-1, tid)
		}
	}

	return nil
}

// validateAcyclic checks the fixture's depends_on edges form a DAG before a
// single command is added to the store, using the same toposort.Graph the
// teacher uses elsewhere for dependency ordering. A cyclic fixture fails
// fast here, with the offending cycle named, rather than deadlocking every
// engine waiting on an unsatisfiable dependency.
func validateAcyclic(fixture *Fixture) error {
	g := toposort.NewGraph()

	for _, t := range fixture.Tasks {
		g.AddNode(ids.TaskID(t.ID).String())
	}

	for _, t := range fixture.Tasks {
		tid := ids.TaskID(t.ID).String()

		for _, depID := range t.DependsOn {
			g.AddEdge(ids.TaskID(depID).String(), tid)
		}
	}

	if _, ok := g.Toposort(); !ok {
		for _, t := range fixture.Tasks {
			seed := ids.TaskID(t.ID).String()
			if cycle := g.FindCycle(seed); len(cycle) > 0 {
				return fmt.Errorf("%w: %s", ErrCyclicFixture, strings.Join(cycle, " -> "))
			}
		}

		return ErrCyclicFixture
	}

	return nil
}
