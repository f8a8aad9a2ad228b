package pipeline

import (
	"fmt"

	"github.com/wonny/aegis-analytics/internal/contracts"
)

// Definition is the fixed stage graph, built once and reused across runs
type Definition struct {
	Name   string
	Groups []Group

	// AllowDegraded lets a run continue past a Parallel group in which some
	// member hit its own stage timeout. Run-deadline expiry always fails the run.
	AllowDegraded bool

	kinds map[contracts.StageName]Kind
}

// NewDefinition validates and builds a definition:
//   - at least one group, every group non-empty
//   - stage and group names unique
//   - every dependency resolves to a stage declared earlier; Parallel
//     members may not depend on siblings
func NewDefinition(name string, allowDegraded bool, groups ...Group) (*Definition, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: %s has no groups", ErrInvalidDefinition, name)
	}

	seenGroups := make(map[contracts.GroupName]bool)
	declared := make(map[contracts.StageName]bool)
	kinds := make(map[contracts.StageName]Kind)

	for _, g := range groups {
		if g.Name == "" {
			return nil, fmt.Errorf("%w: group without name", ErrInvalidDefinition)
		}
		if seenGroups[g.Name] {
			return nil, fmt.Errorf("%w: duplicate group %s", ErrInvalidDefinition, g.Name)
		}
		seenGroups[g.Name] = true

		if len(g.Members) == 0 {
			return nil, fmt.Errorf("%w: group %s is empty", ErrInvalidDefinition, g.Name)
		}
		if g.Mode != ModeSequential && g.Mode != ModeParallel {
			return nil, fmt.Errorf("%w: group %s has unknown mode %q", ErrInvalidDefinition, g.Name, g.Mode)
		}

		// Parallel 멤버는 그룹 시작 전 선언된 stage만 참조 가능
		visible := declared
		if g.Mode == ModeParallel {
			visible = make(map[contracts.StageName]bool, len(declared))
			for k := range declared {
				visible[k] = true
			}
		}

		for _, m := range g.Members {
			if m.Stage == nil {
				return nil, fmt.Errorf("%w: nil stage in group %s", ErrInvalidDefinition, g.Name)
			}
			sn := m.Stage.Name()
			if sn == "" {
				return nil, fmt.Errorf("%w: stage without name in group %s", ErrInvalidDefinition, g.Name)
			}
			if _, dup := kinds[sn]; dup {
				return nil, fmt.Errorf("%w: duplicate stage %s", ErrInvalidDefinition, sn)
			}
			for _, dep := range m.Stage.DependsOn() {
				if !visible[dep] {
					return nil, fmt.Errorf("%w: stage %s depends on %s which is not declared before it",
						ErrInvalidDefinition, sn, dep)
				}
			}
			kinds[sn] = m.Stage.Kind()
			if g.Mode == ModeSequential {
				declared[sn] = true
			}
		}

		if g.Mode == ModeParallel {
			for _, m := range g.Members {
				declared[m.Stage.Name()] = true
			}
		}
	}

	return &Definition{
		Name:          name,
		Groups:        groups,
		AllowDegraded: allowDegraded,
		kinds:         kinds,
	}, nil
}

// Stages returns all stage names in pipeline order
func (d *Definition) Stages() []contracts.StageName {
	var out []contracts.StageName
	for _, g := range d.Groups {
		out = append(out, g.StageNames()...)
	}
	return out
}

// KindOf returns the declared kind of a stage
func (d *Definition) KindOf(name contracts.StageName) (Kind, bool) {
	k, ok := d.kinds[name]
	return k, ok
}
