package phases

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/cycleforge/agent/internal/aiprovider"
	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/learning"
	"github.com/cycleforge/agent/internal/queue"
	"github.com/cycleforge/agent/internal/search"
)

// maxUncoveredForAI bounds Phase 3's third discovery layer to files
// layers 1&2 left untouched, and only when that set is small enough that
// an AI pass over it is cheap (spec.md §4.K Phase 3 "only if the uncovered
// set has 1..10 entries").
const maxUncoveredForAI = 10

// markerPattern finds the rule-based quality markers spec.md §4.K names.
var markerPattern = regexp.MustCompile(`(?i)\b(TODO|FIXME|HACK|NOTE|OPTIMIZE)\b[:\-]?\s*(.*)`)

// funcStartPattern approximates a function declaration start across the
// handful of C-like and scripting languages this repo's source tree mixes;
// "length" below is measured as the distance to the next match (or EOF),
// an approximation rather than a real brace/indent parse.
var funcStartPattern = regexp.MustCompile(`^\s*(func\s|def\s|fn\s|public\s+\w|private\s+\w|protected\s+\w)`)

func markerPriorityFor(tag string) (pri cycle.Priority, drop bool) {
	switch strings.ToUpper(tag) {
	case "FIXME":
		return cycle.PriorityHigh, false
	case "TODO", "HACK":
		return cycle.PriorityMedium, false
	default: // NOTE, OPTIMIZE
		return cycle.PriorityLow, true
	}
}

func scanMarkers(file, content string) []cycle.Improvement {
	var out []cycle.Improvement
	for i, line := range strings.Split(content, "\n") {
		m := markerPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		pri, drop := markerPriorityFor(m[1])
		if drop {
			continue
		}
		desc := strings.TrimSpace(m[2])
		if desc == "" {
			desc = strings.ToUpper(m[1]) + " marker"
		}
		out = append(out, cycle.Improvement{
			ID:          uuid.NewString(),
			Type:        "marker-" + strings.ToLower(m[1]),
			Description: desc,
			Priority:    pri,
			File:        file,
			Line:        i + 1,
			Source:      "rule-based",
		})
	}
	return out
}

func scanFunctionLength(file, content string) []cycle.Improvement {
	lines := strings.Split(content, "\n")
	var starts []int
	for i, line := range lines {
		if funcStartPattern.MatchString(line) {
			starts = append(starts, i)
		}
	}
	var out []cycle.Improvement
	for i, start := range starts {
		end := len(lines)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		length := end - start
		var pri cycle.Priority
		switch {
		case length > 100:
			pri = cycle.PriorityHigh
		case length > 50:
			pri = cycle.PriorityMedium
		default:
			continue
		}
		out = append(out, cycle.Improvement{
			ID:          uuid.NewString(),
			Type:        "long-function",
			Description: fmt.Sprintf("function near line %d spans approximately %d lines", start+1, length),
			Priority:    pri,
			File:        file,
			Line:        start + 1,
			Source:      "rule-based",
		})
	}
	return out
}

func scanLineLength(file, content string) []cycle.Improvement {
	var out []cycle.Improvement
	for i, line := range strings.Split(content, "\n") {
		if len(line) > 120 {
			out = append(out, cycle.Improvement{
				ID:          uuid.NewString(),
				Type:        "long-line",
				Description: fmt.Sprintf("line %d exceeds 120 characters (%d)", i+1, len(line)),
				Priority:    cycle.PriorityLow,
				File:        file,
				Line:        i + 1,
				Source:      "rule-based",
			})
		}
	}
	return out
}

// ImproveFind is Phase 3 (spec.md §4.K "Three-layer discovery... Merge
// with queued improvements (top 5 by priority), goal-based opportunities,
// and tool-adoption recommendations").
type ImproveFind struct {
	workspaceRoot string
	patterns      *learning.Repository
	queue         *queue.Queue
	ai            ChatClient
}

// NewImproveFind creates Phase 3. patterns, q, and ai may be nil to disable
// their respective layer/merge contribution.
func NewImproveFind(workspaceRoot string, patterns *learning.Repository, q *queue.Queue, ai ChatClient) *ImproveFind {
	return &ImproveFind{workspaceRoot: workspaceRoot, patterns: patterns, queue: q, ai: ai}
}

func (p *ImproveFind) Name() cycle.FailedPhaseName { return cycle.PhaseImproveFind }

func (p *ImproveFind) Execute(ctx context.Context, cc *cycle.Context) (PhaseResult, error) {
	files, err := search.WalkSourceFiles(p.workspaceRoot)
	if err != nil {
		return PhaseResult{}, fmt.Errorf("phases: improve-find walk workspace: %w", err)
	}

	covered := make(map[string]bool, len(files))
	var found []cycle.Improvement

	// Layer 1: rule-based markers + structural heuristics.
	for file, content := range files {
		layer1 := append(scanMarkers(file, content), append(scanFunctionLength(file, content), scanLineLength(file, content)...)...)
		if len(layer1) > 0 {
			covered[file] = true
			found = append(found, layer1...)
		}
	}

	// Layer 2: learned pattern matching.
	if p.patterns != nil {
		all, perr := p.patterns.All()
		if perr != nil {
			return PhaseResult{}, fmt.Errorf("phases: improve-find load patterns: %w", perr)
		}
		engine := learning.NewRuleEngine(all)
		matches := engine.MatchAll(files, nil)
		for _, m := range matches {
			covered[m.File] = true
			if m.Confidence <= 0.8 {
				continue
			}
			cc.UsedPatterns = appendUniqueString(cc.UsedPatterns, m.PatternID)
			found = append(found, cycle.Improvement{
				ID:          uuid.NewString(),
				Type:        "pattern-match",
				Description: fmt.Sprintf("learned pattern %s matched with confidence %.2f", m.PatternID, m.Confidence),
				Priority:    cycle.PriorityHigh,
				File:        m.File,
				Line:        m.Line,
				Source:      "pattern-match",
			})
		}
	}

	// Layer 3: selective AI analysis, bounded to a small uncovered set.
	var uncovered []string
	for file := range files {
		if !covered[file] {
			uncovered = append(uncovered, file)
		}
	}
	sort.Strings(uncovered)
	if p.ai != nil && len(uncovered) >= 1 && len(uncovered) <= maxUncoveredForAI {
		suggestions, aierr := p.analyzeWithAI(ctx, uncovered, files)
		if aierr != nil {
			return PhaseResult{}, fmt.Errorf("phases: improve-find AI analysis: %w", aierr)
		}
		found = append(found, suggestions...)
	}

	// Merge: queued improvements (top 5 by priority).
	if p.queue != nil {
		items, qerr := p.queue.List()
		if qerr != nil {
			return PhaseResult{}, fmt.Errorf("phases: improve-find list queue: %w", qerr)
		}
		found = append(found, topPendingByPriority(items, 5)...)
	}

	// Goal-based opportunities.
	for _, goal := range cc.ActiveGoals {
		if strings.Contains(strings.ToLower(goal), "token") {
			found = append(found, cycle.Improvement{
				ID:          uuid.NewString(),
				Type:        "token-optimization",
				Description: fmt.Sprintf("active goal %q suggests reviewing AI token usage", goal),
				Priority:    cycle.PriorityLow,
				Source:      "goal-based",
			})
		}
	}

	// Tool-adoption recommendation.
	if hasGoFiles(files) && !hasAny(files, ".golangci.yml", ".golangci.yaml") {
		found = append(found, cycle.Improvement{
			ID:          uuid.NewString(),
			Type:        "tool-adoption",
			Description: "adopt golangci-lint for consistent static analysis",
			Priority:    cycle.PriorityLow,
			Source:      "tool-adoption",
		})
	}

	cc.Improvements = append(cc.Improvements, found...)

	return PhaseResult{
		Success: true,
		Message: fmt.Sprintf("found %d improvements (%d uncovered files considered for AI)", len(found), len(uncovered)),
		Data:    map[string]any{"improvements_found": len(found), "uncovered_files": len(uncovered)},
	}, nil
}

func (p *ImproveFind) analyzeWithAI(ctx context.Context, uncovered []string, files map[string]string) ([]cycle.Improvement, error) {
	var b strings.Builder
	b.WriteString("Suggest concrete improvements for these files. Respond one per line as \"path: description\".\n\n")
	for _, file := range uncovered {
		content := files[file]
		if len(content) > 2000 {
			content = content[:2000]
		}
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", file, content)
	}

	resp, err := p.ai.Chat(ctx, aiprovider.Request{Prompt: b.String(), SystemMsg: "You are a terse code reviewer."})
	if err != nil {
		return nil, err
	}
	return parseAISuggestions(resp.Content), nil
}

var aiSuggestionLine = regexp.MustCompile(`^([\w./\\-]+\.\w+):\s*(.+)$`)

func parseAISuggestions(content string) []cycle.Improvement {
	var out []cycle.Improvement
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		file, desc := "", line
		if m := aiSuggestionLine.FindStringSubmatch(line); m != nil {
			file, desc = m[1], m[2]
		}
		out = append(out, cycle.Improvement{
			ID:          uuid.NewString(),
			Type:        "ai-suggested",
			Description: desc,
			Priority:    cycle.PriorityMedium,
			File:        file,
			Source:      "ai-analysis",
		})
	}
	return out
}

func topPendingByPriority(items []queue.Item, n int) []cycle.Improvement {
	var pending []queue.Item
	for _, it := range items {
		if it.Status == queue.StatusPending {
			pending = append(pending, it)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return priorityRank[pending[i].Improvement.Priority] < priorityRank[pending[j].Improvement.Priority]
	})
	if len(pending) > n {
		pending = pending[:n]
	}
	out := make([]cycle.Improvement, 0, len(pending))
	for _, it := range pending {
		out = append(out, it.Improvement)
	}
	return out
}

func appendUniqueString(s []string, v string) []string {
	for _, existing := range s {
		if existing == v {
			return s
		}
	}
	return append(s, v)
}

func hasGoFiles(files map[string]string) bool {
	for file := range files {
		if strings.HasSuffix(file, ".go") {
			return true
		}
	}
	return false
}

func hasAny(files map[string]string, names ...string) bool {
	for file := range files {
		for _, n := range names {
			if strings.HasSuffix(file, n) {
				return true
			}
		}
	}
	return false
}
