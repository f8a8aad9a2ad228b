package pipeline

import "github.com/wonny/aegis-analytics/internal/contracts"

// Mode is how a group schedules its members
type Mode string

const (
	// ModeSequential runs members in declared order; member i sees 0..i-1
	ModeSequential Mode = "sequential"
	// ModeParallel runs members concurrently against the pre-group snapshot
	ModeParallel Mode = "parallel"
)

// Group is a Sequential or Parallel composition of stages
type Group struct {
	Name    contracts.GroupName
	Mode    Mode
	Members []Member
}

// Sequential creates a fail-fast group
func Sequential(name contracts.GroupName, members ...Member) Group {
	return Group{Name: name, Mode: ModeSequential, Members: members}
}

// Parallel creates a fail-soft concurrent group
func Parallel(name contracts.GroupName, members ...Member) Group {
	return Group{Name: name, Mode: ModeParallel, Members: members}
}

// StageNames returns member names in declared order
func (g Group) StageNames() []contracts.StageName {
	out := make([]contracts.StageName, len(g.Members))
	for i, m := range g.Members {
		out[i] = m.Stage.Name()
	}
	return out
}
