package diffvalidator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `diff --git a/foo.go b/foo.go
--- a/foo.go
+++ b/foo.go
@@ -1,3 +1,4 @@
 package foo
+
 func Foo() {}
`

func TestParseAffectedFiles(t *testing.T) {
	p, err := Parse(sampleDiff)
	require.NoError(t, err)
	assert.Equal(t, []string{"foo.go"}, p.AffectedFiles())
}

func TestParseTreatsCreateAndDelete(t *testing.T) {
	createDiff := "diff --git a/new.go b/new.go\n--- /dev/null\n+++ b/new.go\n@@ -0,0 +1,1 @@\n+package new\n"
	p, err := Parse(createDiff)
	require.NoError(t, err)
	require.Len(t, p.Files, 1)
	assert.True(t, p.Files[0].Created)
	assert.Equal(t, []string{"new.go"}, p.AffectedFiles())

	deleteDiff := "diff --git a/old.go b/old.go\n--- a/old.go\n+++ /dev/null\n@@ -1,1 +0,0 @@\n-package old\n"
	p, err = Parse(deleteDiff)
	require.NoError(t, err)
	require.Len(t, p.Files, 1)
	assert.True(t, p.Files[0].Deleted)
}

func TestParseToleratesCRLF(t *testing.T) {
	crlf := "diff --git a/foo.go b/foo.go\r\n--- a/foo.go\r\n+++ b/foo.go\r\n@@ -1,1 +1,1 @@\r\n-old\r\n+new\r\n"
	p, err := Parse(crlf)
	require.NoError(t, err)
	assert.Equal(t, []string{"foo.go"}, p.AffectedFiles())
	require.Len(t, p.Files[0].NewPath, len("foo.go"))
}

func TestParseMultipleFiles(t *testing.T) {
	multi := sampleDiff + "diff --git a/bar.go b/bar.go\n--- a/bar.go\n+++ b/bar.go\n@@ -1,1 +1,1 @@\n-x\n+y\n"
	p, err := Parse(multi)
	require.NoError(t, err)
	assert.Equal(t, []string{"foo.go", "bar.go"}, p.AffectedFiles())
}

func TestParseHunkHeaderSingleLineForm(t *testing.T) {
	h, err := parseHunkHeader("@@ -5 +5 @@")
	require.NoError(t, err)
	assert.Equal(t, 5, h.OldStart)
	assert.Equal(t, 1, h.OldLines)
	assert.Equal(t, 5, h.NewStart)
	assert.Equal(t, 1, h.NewLines)
}
