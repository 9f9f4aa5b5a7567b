package verify

import (
	"strconv"
	"strings"

	"github.com/cycleforge/agent/internal/cycle"
)

// parseTestCounts extracts pass/fail/total counts from test-runner output,
// recognizing Go's "--- PASS:"/"--- FAIL:" lines and the common "Tests: N
// passed, N failed, N total" summary line (spec.md §4.L step 6 "parse
// counts").
func parseTestCounts(output string) cycle.TestResult {
	var result cycle.TestResult

	for _, line := range splitLines(output) {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "--- PASS:"):
			result.PassedTests++
			result.TotalTests++
		case strings.HasPrefix(trimmed, "--- FAIL:"):
			result.FailedTests++
			result.TotalTests++
			result.Errors = append(result.Errors, trimmed)
		case strings.Contains(trimmed, "passed,") && strings.Contains(trimmed, "total"):
			parseSummaryLine(trimmed, &result)
		}
	}

	if result.TotalTests == 0 && (result.PassedTests > 0 || result.FailedTests > 0) {
		result.TotalTests = result.PassedTests + result.FailedTests
	}
	result.Passed = result.FailedTests == 0
	return result
}

func parseSummaryLine(line string, result *cycle.TestResult) {
	fields := strings.Fields(line)
	for i, f := range fields {
		if i == 0 {
			continue
		}
		if f == "passed," {
			if n, err := strconv.Atoi(fields[i-1]); err == nil {
				result.PassedTests = n
			}
		}
		if f == "failed," {
			if n, err := strconv.Atoi(fields[i-1]); err == nil {
				result.FailedTests = n
			}
		}
		if f == "total" {
			if n, err := strconv.Atoi(fields[i-1]); err == nil {
				result.TotalTests = n
			}
		}
	}
}
