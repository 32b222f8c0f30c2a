package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurodesk/tmplc/pkg/compiler"
	"github.com/neurodesk/tmplc/pkg/diag"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestClassname(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"templates/page.spt":     "page",
		"a/b/user-profile.tmpl":  "user_profile",
		"1up.spt":                "_1up",
		"noext":                  "noext",
		"dir/with.dots.html.spt": "with_dots_html",
	}
	for path, want := range tests {
		assert.Equal(t, want, classname(path), path)
	}
}

func TestLineDiff(t *testing.T) {
	t.Parallel()

	got := lineDiff("a\nb\nc\n", "a\nx\nc\n")
	assert.Equal(t, " a\n-b\n+x\n c\n", got)
	assert.Equal(t, " same\n", lineDiff("same\n", "same\n"))
}

func TestSettingsLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	registryPath := writeFile(t, dir, "functions.yaml", "functions:\n  - alias: reg_f\n    name: module.reg_f\n")
	configPath := writeFile(t, dir, "tmplc.yaml", "optimizer_level: 2\nflags: [no-alias-invariants]\noptions:\n  enable_warnings: \"true\"\n")

	s := settings{configPath: configPath, level: noLevel, flags: []string{"batch-buffer-writes"}, registryPath: registryPath, includePath: dir}
	tc, err := s.load(io.Discard)
	require.NoError(t, err)
	assert.True(t, tc.opts.DirectlyAccessDefinedVariables, "level 2 from the config")
	assert.False(t, tc.opts.AliasInvariants, "config flag")
	assert.True(t, tc.opts.BatchBufferWrites, "command line flag")
	assert.True(t, tc.opts.EnableWarnings)
	assert.Equal(t, dir, tc.opts.IncludePath)
	assert.True(t, tc.functions.Contains("reg_f"))

	s.level = 0
	tc, err = s.load(io.Discard)
	require.NoError(t, err)
	assert.False(t, tc.opts.DirectlyAccessDefinedVariables, "-O overrides the config level")

	_, err = settings{level: noLevel, macros: []string{"broken"}}.load(io.Discard)
	require.Error(t, err)
	_, err = settings{level: 7}.load(io.Discard)
	require.Error(t, err)
	_, err = settings{level: noLevel, flags: []string{"not-a-flag"}}.load(io.Discard)
	require.Error(t, err)
}

func TestEnvironmentDefaults(t *testing.T) {
	t.Setenv("TMPLC_CONFIG", "/etc/tmplc.yaml")
	t.Setenv("TMPLC_OPT_LEVEL", "3")
	t.Setenv("TMPLC_DEBUG", "1")

	s := defaultSettings()
	assert.Equal(t, "/etc/tmplc.yaml", s.configPath)
	assert.Equal(t, 3, s.level)
	assert.True(t, s.debug)
}

func TestCompileCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeFile(t, dir, "a.spt", "#def foo($x)\n$x\n#end def\n")
	b := writeFile(t, dir, "b.spt", "hello\n")

	out, err := run(t, "compile", "-O", "3", a, b)
	require.NoError(t, err)
	assert.Contains(t, out, "# "+a)
	assert.Contains(t, out, "# "+b)
	assert.Less(t, strings.Index(out, "# "+a), strings.Index(out, "# "+b))

	out, err = run(t, "compile", "--stage", "parse", a)
	require.NoError(t, err)
	assert.NotContains(t, out, "# "+a, "a single file has no header")
	assert.NotEmpty(t, out)

	_, err = run(t, "compile", "--stage", "lowered", a)
	require.ErrorIs(t, err, compiler.ErrUnknownStage)
}

func TestCompileCommandReportsEveryFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := writeFile(t, dir, "good.spt", "hello\n")
	bad1 := writeFile(t, dir, "bad1.spt", "#if\n")
	bad2 := writeFile(t, dir, "bad2.spt", "#def foo\n#set $foo[1] = 1\n#end def\n")

	out, err := run(t, "compile", bad1, good, bad2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad1.spt")
	assert.Contains(t, err.Error(), "bad2.spt")
	assert.ErrorIs(t, err, diag.ErrParse)
	assert.ErrorIs(t, err, diag.ErrSemantic)
	assert.Contains(t, out, "# "+good)
}

func TestDiffCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := writeFile(t, dir, "page.spt", "#def foo($x)\n$x\n$x\n#end def\n")

	out, err := run(t, "diff", "-O", "3", file)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "--- analyzed\n+++ final\n"), out)
	assert.Contains(t, out, "\n-")
	assert.Contains(t, out, "\n+")

	out, err = run(t, "diff", "--from", "final", "--to", "final", file)
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n")[2:] {
		assert.True(t, strings.HasPrefix(line, " "), line)
	}
}

func TestOptionsCommand(t *testing.T) {
	t.Parallel()

	out, err := run(t, "options")
	require.NoError(t, err)
	assert.Contains(t, out, "[no-]alias-invariants\n")
	assert.Contains(t, out, "[no-]batch-buffer-writes\n")
}
