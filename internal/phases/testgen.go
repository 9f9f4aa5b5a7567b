package phases

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cycleforge/agent/internal/aiprovider"
	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/safety"
)

// TestGen is Phase 7 (spec.md §4.K "For each modified non-test source
// file, generates a test file next to it under ./tests. Same
// retry/validation pipeline as Phase 6").
type TestGen struct {
	guard       *safety.Guard
	ai          ChatClient
	maxAttempts int
}

// NewTestGen creates Phase 7.
func NewTestGen(guard *safety.Guard, ai ChatClient, maxAttempts int) *TestGen {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &TestGen{guard: guard, ai: ai, maxAttempts: maxAttempts}
}

func (p *TestGen) Name() cycle.FailedPhaseName { return cycle.PhaseTestGen }

func (p *TestGen) Execute(ctx context.Context, cc *cycle.Context) (PhaseResult, error) {
	var generated []cycle.Change
	for _, ch := range cc.ImplementedChanges {
		if ch.ChangeType == cycle.ChangeDelete || isTestFile(ch.File) {
			continue
		}
		testPath := testPathFor(ch.File)
		content := p.generate(ctx, ch.File, testPath)
		testCh := cycle.Change{
			File:         testPath,
			ChangeType:   cycle.ChangeCreate,
			Summary:      "generated test for " + ch.File,
			RelatedIssue: ch.RelatedIssue,
		}
		if err := p.guard.SafeWrite(testCh, content); err != nil {
			return PhaseResult{Success: false, Message: fmt.Sprintf("rejected test for %s: %v", ch.File, err)}, nil
		}
		generated = append(generated, testCh)
	}
	cc.ImplementedChanges = append(cc.ImplementedChanges, generated...)

	return PhaseResult{
		Success: true,
		Message: fmt.Sprintf("generated %d test file(s)", len(generated)),
		Data:    map[string]any{"tests_generated": len(generated)},
	}, nil
}

func (p *TestGen) generate(ctx context.Context, sourceFile, testPath string) string {
	description := "test coverage for " + sourceFile
	if p.ai == nil {
		return safeStub(description)
	}

	feedback := ""
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		prompt := fmt.Sprintf("Write test cases exercising %s. Respond with only the test file contents.", sourceFile)
		if feedback != "" {
			prompt += fmt.Sprintf("\nThe previous attempt was rejected: %s. Correct it and try again.", feedback)
		}
		resp, err := p.ai.Chat(ctx, aiprovider.Request{Prompt: prompt})
		if err != nil {
			feedback = err.Error()
			continue
		}
		content := extractCode(resp.Content)
		if verr := validateGenerated(content); verr != nil {
			feedback = verr.Error()
			continue
		}
		return content
	}
	return safeStub(description)
}

// testPathFor mirrors a source file's relative path under a parallel
// ./tests tree (spec.md §4.K "next to it under ./tests"), appending
// "_test" before the extension.
func testPathFor(file string) string {
	ext := filepath.Ext(file)
	base := strings.TrimSuffix(file, ext)
	return filepath.ToSlash(filepath.Join("tests", base+"_test"+ext))
}

func isTestFile(file string) bool {
	slashed := filepath.ToSlash(file)
	return strings.HasPrefix(slashed, "tests/") || strings.Contains(filepath.Base(slashed), "_test.")
}
