package depgraph

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/instr"
	"github.com/sarchlab/heracles-asm/memmodel"
	"github.com/sarchlab/heracles-asm/variable"
)

// orderKeygenVars returns, per seed, the keygen variable names in
// ascending key-index order. Grounded on __orderKeygenVars.
func orderKeygenVars(m *memmodel.Model) ([][]string, error) {
	ordered := make([][]string, m.NumSeeds)
	for name, idx := range m.KeygenVars {
		if idx.SeedIdx >= m.NumSeeds {
			return nil, errors.Errorf("depgraph: keygen var %q has seed index %d >= declared seed count %d",
				name, idx.SeedIdx, m.NumSeeds)
		}
		for len(ordered[idx.SeedIdx]) <= idx.KeyIdx {
			ordered[idx.SeedIdx] = append(ordered[idx.SeedIdx], "")
		}
		ordered[idx.SeedIdx][idx.KeyIdx] = name
	}
	for seedIdx, names := range ordered {
		for keyIdx, name := range names {
			if name == "" {
				return nil, errors.Errorf("depgraph: key material %d generation skipped for seed %d", keyIdx, seedIdx)
			}
		}
	}
	return ordered, nil
}

// findVarInPrevDeps reports whether some (possibly indirect) predecessor of
// id has varName among its sources (or also its dests, if onlySources is
// false). Grounded on __findVarInPrevDeps.
func findVarInPrevDeps(g *Graph, id instr.ID, varName string, onlySources bool) bool {
	visited := roaring64.New()
	queue := g.Predecessors(id)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited.Contains(cur.Nonce) {
			continue
		}
		visited.Add(cur.Nonce)

		x, ok := g.Instruction(cur)
		if !ok {
			continue
		}
		for _, v := range x.Header().Sources {
			if v.Name() == varName {
				return true
			}
		}
		if !onlySources {
			for _, v := range x.Header().Dests {
				if v.Name() == varName {
					return true
				}
			}
		}
		queue = append(queue, g.Predecessors(cur)...)
	}
	return false
}

// EnforceKeygenOrdering injects chained synthetic `copy` XInsts per seed, in
// ascending key-index order, so the keygen engine's single-pass production
// order is respected by the schedule. Grounded on enforceKeygenOrdering.
func EnforceKeygenOrdering(g *Graph, m *memmodel.Model) error {
	ordered, err := orderKeygenVars(m)
	if err != nil {
		return err
	}

	for _, kgVars := range ordered {
		var lastCopyID *instr.ID
		bCopyDepsFound := false

		for _, kgVarName := range kgVars {
			src, ok := m.Variable(kgVarName)
			if !ok {
				return errors.Errorf("depgraph: keygen variable %q not declared", kgVarName)
			}

			dstName := m.FreshVarName()
			dst, err := variable.New(dstName, src.SuggestedBank(), memmodel.BankCount)
			if err != nil {
				return err
			}
			if err := m.DeclareVariable(dst); err != nil {
				return err
			}

			copyInst, err := instr.NewXInst(0, "copy")
			if err != nil {
				return err
			}
			copyInst.Header().Dests = []*variable.Variable{dst}
			copyInst.Header().Sources = []*variable.Variable{src}
			copyInst.Header().Comment = "injected copy to generate keygen var " + kgVarName

			g.addNode(copyInst)
			copyID := copyInst.Header().ID

			if lastCopyID != nil {
				g.addEdge(*lastCopyID, copyID)
			}
			lastCopyID = &copyID

			for _, id := range g.Nodes() {
				if id == copyID {
					continue
				}
				x, ok := g.Instruction(id)
				if !ok {
					continue
				}
				usesVar := false
				for _, v := range x.Header().Sources {
					if v.Name() == kgVarName {
						usesVar = true
						break
					}
				}
				if !usesVar {
					continue
				}

				if !bCopyDepsFound {
					if !findVarInPrevDeps(g, id, kgVarName, true) {
						for _, dep := range g.Predecessors(id) {
							g.addEdge(dep, copyID)
						}
						bCopyDepsFound = true
					}
				}

				g.addEdge(copyID, id)
			}
		}
	}

	return verifyDAG(g)
}
