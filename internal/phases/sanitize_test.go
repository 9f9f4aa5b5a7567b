package phases

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateGenerated(t *testing.T) {
	assert.Error(t, validateGenerated(""))
	assert.Error(t, validateGenerated("func foo() {"))
	assert.Error(t, validateGenerated("package main\n<<<<<<< HEAD\n"))
	assert.Error(t, validateGenerated("bad\x01byte"))
	assert.NoError(t, validateGenerated("package main\n\nfunc foo() {}\n"))
}

func TestExtractCode_StripsFence(t *testing.T) {
	in := "Here you go:\n```go\npackage main\n```\n"
	assert.Equal(t, "package main", extractCode(in))
}

func TestExtractCode_NoFenceReturnsAsIs(t *testing.T) {
	in := "package main\n"
	assert.Equal(t, in, extractCode(in))
}

func TestSafeStub_ContainsDescription(t *testing.T) {
	out := safeStub("fix the widget")
	assert.Contains(t, out, "fix the widget")
}
