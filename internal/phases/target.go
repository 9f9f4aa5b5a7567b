package phases

import "github.com/cycleforge/agent/internal/cycle"

// target is the single work item a cycle pursues — ever an Issue or an
// Improvement, never both (cycle.Plan's TargetIssueID/TargetImprovementID
// mirror this split).
type target struct {
	issue       *cycle.Issue
	improvement *cycle.Improvement
}

func (t target) file() string {
	switch {
	case t.issue != nil:
		return t.issue.File
	case t.improvement != nil:
		return t.improvement.File
	default:
		return ""
	}
}

func (t target) description() string {
	switch {
	case t.issue != nil:
		return t.issue.Message
	case t.improvement != nil:
		return t.improvement.Description
	default:
		return ""
	}
}

var priorityRank = map[cycle.Priority]int{
	cycle.PriorityHigh:   0,
	cycle.PriorityMedium: 1,
	cycle.PriorityLow:    2,
}

// selectTarget implements the preference rule spec.md §4.K Phase 5 names
// ("Chooses exactly one target from ctx.issues (preferred) or
// ctx.improvements"): the first unresolved issue, else the highest-priority
// improvement. Phase 4 (Search) uses the same rule for a provisional
// retrieval target (see DESIGN.md Open Question decision on phase
// ordering); Phase 5 (Plan) reselects independently using it as the
// authoritative choice.
func selectTarget(cc *cycle.Context) (target, bool) {
	for i := range cc.Issues {
		if !cc.Issues[i].Resolved {
			return target{issue: &cc.Issues[i]}, true
		}
	}
	if len(cc.Improvements) == 0 {
		return target{}, false
	}
	best := 0
	for i := 1; i < len(cc.Improvements); i++ {
		if priorityRank[cc.Improvements[i].Priority] < priorityRank[cc.Improvements[best].Priority] {
			best = i
		}
	}
	return target{improvement: &cc.Improvements[best]}, true
}
