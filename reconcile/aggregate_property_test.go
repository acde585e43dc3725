package reconcile_test

import (
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/flowtree/agentkit/reconcile"
	"github.com/flowtree/agentkit/store"
	"github.com/flowtree/agentkit/toolspec"
	"github.com/flowtree/agentkit/tree"
)

// TestAggregateToolNamesInvariantUnderSiblingOrderProperty verifies spec
// Testable Property 2 (Aggregate invariance): the collected tool-names
// multiset does not depend on the insertion order of unrelated sibling
// subtrees. Grounded on the teacher's registry property tests (e.g.
// runtime/registry/cache_property_test.go), which build a gopter.Properties
// set and run a single prop.ForAll per invariant.
func TestAggregateToolNamesInvariantUnderSiblingOrderProperty(t *testing.T) {
	names := []string{"alpha", "bravo", "charlie", "delta", "echo"}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("collected tool names equal the declared set regardless of sibling order", prop.ForAll(
		func(order []int) bool {
			children := make([]*tree.Node, len(order))
			for i, idx := range order {
				spec := &toolspec.Spec{Name: names[idx]}
				if err := spec.Compile(); err != nil {
					return false
				}
				children[i] = tree.NewTool(spec)
			}

			root := tree.NewAgent(tree.AgentConfig{Name: "root", Model: "claude-x"}, children...)
			inst, err := reconcile.Mount(root, store.New())
			if err != nil {
				return false
			}

			got := make([]string, len(inst.Tools))
			for i, tl := range inst.Tools {
				got[i] = tl.Name
			}
			sort.Strings(got)

			want := append([]string(nil), names...)
			sort.Strings(want)

			if len(got) != len(want) {
				return false
			}
			for i := range want {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		genPermutation(len(names)),
	))

	properties.TestingRun(t)
}

// genPermutation produces a uniformly shuffled permutation of [0, n) by
// pairing each index with a random sort key and sorting by key (a
// Schwartzian transform), turning a plain gen.SliceOfN of random ints into
// a structured generator via Map — the same composition technique the
// teacher's genRegistryConfigs uses in runtime/registry/manager_property_test.go.
func genPermutation(n int) gopter.Gen {
	return gen.SliceOfN(n, gen.IntRange(0, 1_000_000)).Map(func(keys []int) []int {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool { return keys[order[a]] < keys[order[b]] })
		return order
	})
}
