package weaver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/chazu/loom/ir"
	"github.com/stretchr/testify/require"
)

// testLogger records every line so tests can look for progress output.
type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) add(format string, values ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, values...))
}

func (l *testLogger) Errorf(format string, values ...any)   { l.add(format, values...) }
func (l *testLogger) Warningf(format string, values ...any) { l.add(format, values...) }
func (l *testLogger) Noticef(format string, values ...any)  { l.add(format, values...) }
func (l *testLogger) Infof(format string, values ...any)    { l.add(format, values...) }
func (l *testLogger) Debugf(format string, values ...any)   { l.add(format, values...) }

func (l *testLogger) has(prefix string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// writeTarget writes a module marked for weaving that references refs.
func writeTarget(t *testing.T, dir, name string, refs ...string) string {
	t.Helper()
	m := ir.NewModule(name)
	m.Attributes = []string{ir.WeaveMeAttribute}
	for _, r := range refs {
		m.AddReference(r)
	}
	typ := m.NewType(name, "Program", ir.TypePublic)
	typ.BaseType = m.CoreType("Object")
	path := filepath.Join(dir, name+".lmod")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, m.WriteFile(path, ir.WriteOptions{}))
	return path
}

// marker adds a type Marks.<name> to every open module.
func marker(name string) Weaver {
	return Func(name, func(c *Context) error {
		for _, m := range c.Modules {
			t := m.NewType("Marks", name, ir.TypePublic)
			t.BaseType = m.CoreType("Object")
		}
		return nil
	})
}

func readModule(t *testing.T, path string) *ir.Module {
	t.Helper()
	m, err := ir.ReadFile(path, ir.ReadOptions{})
	require.NoError(t, err)
	return m
}

func snapshot(t *testing.T, paths ...string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		out[p] = data
	}
	return out
}

// chain writes A -> B -> C, where A references B and B references C.
func chain(t *testing.T) (dir string, a, b, c string) {
	dir = t.TempDir()
	a = writeTarget(t, dir, "A", "B")
	b = writeTarget(t, dir, "B", "C")
	c = writeTarget(t, dir, "C")
	return dir, a, b, c
}

func TestRunWritesReferencedModulesFirst(t *testing.T) {
	_, a, b, c := chain(t)
	log := &testLogger{}

	p := NewProcessor(WithLogger(log))
	p.AddTargets(Target{Path: a}, Target{Path: b}, Target{Path: c})
	rep, err := p.Run(context.Background(), marker("one"))
	require.NoError(t, err)
	require.Equal(t, []string{c, b, a}, rep.Woven)

	for _, path := range []string{a, b, c} {
		m := readModule(t, path)
		require.True(t, m.Stamped(), "%s not stamped", path)
		require.NotNil(t, m.Type("Marks", "one"), "%s not woven", path)
	}
	require.True(t, log.has("== finished processing in "), "no timing line in %v", log.lines)
}

func TestRunIsIdempotent(t *testing.T) {
	_, a, b, c := chain(t)

	first := NewProcessor(WithLogger(&testLogger{}))
	first.AddTargets(Target{Path: a}, Target{Path: b}, Target{Path: c})
	_, err := first.Run(context.Background(), marker("one"))
	require.NoError(t, err)
	woven := snapshot(t, a, b, c)

	second := NewProcessor(WithLogger(&testLogger{}))
	second.AddTargets(Target{Path: a}, Target{Path: b}, Target{Path: c})
	rep, err := second.Run(context.Background(), marker("one"))
	require.NoError(t, err)
	require.Empty(t, rep.Woven)
	require.Equal(t, []string{a, b, c}, rep.Skipped)
	require.Equal(t, woven, snapshot(t, a, b, c))

	m := readModule(t, a)
	n := 0
	for _, typ := range m.Types {
		if typ.Namespace == ir.StampNamespace {
			n++
		}
	}
	require.Equal(t, 1, n, "stamp count")
}

func TestFailingUnitWritesNothing(t *testing.T) {
	_, a, b, c := chain(t)
	before := snapshot(t, a, b, c)
	errBoom := errors.New("boom")

	p := NewProcessor(WithLogger(&testLogger{}))
	p.AddTargets(Target{Path: a}, Target{Path: b}, Target{Path: c})
	rep, err := p.Run(context.Background(), marker("one"), Func("boom", func(*Context) error { return errBoom }))
	require.ErrorIs(t, err, errBoom)
	var te *TransformationError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "boom", te.Unit)
	require.True(t, IsTransformationError(err))
	require.Empty(t, rep.Woven)
	require.Equal(t, before, snapshot(t, a, b, c))

	// The next run starts from a clean slate.
	rep, err = p.Run(context.Background(), marker("two"))
	require.NoError(t, err)
	require.Len(t, rep.Woven, 3)
	require.Nil(t, readModule(t, a).Type("Marks", "one"))
}

func TestFailureOnSecondTargetWritesNothing(t *testing.T) {
	_, a, b, c := chain(t)
	before := snapshot(t, a, b, c)

	p := NewProcessor(WithLogger(&testLogger{}))
	p.AddTargets(Target{Path: a}, Target{Path: b}, Target{Path: c})
	_, err := p.Run(context.Background(), Func("second", func(c *Context) error {
		for i, m := range c.Modules {
			if i == 1 {
				return fmt.Errorf("cannot weave %s", m.Name)
			}
			m.NewType("Marks", "partial", ir.TypePublic).BaseType = m.CoreType("Object")
		}
		return nil
	}))
	var te *TransformationError
	require.ErrorAs(t, err, &te)
	require.EqualError(t, te.Err, "cannot weave B")
	require.Equal(t, before, snapshot(t, a, b, c))
}

func TestPanickingUnitWritesNothing(t *testing.T) {
	_, a, b, c := chain(t)
	before := snapshot(t, a, b, c)

	p := NewProcessor(WithLogger(&testLogger{}))
	p.AddTargets(Target{Path: a}, Target{Path: b}, Target{Path: c})
	_, err := p.Run(context.Background(), Func("kaboom", func(*Context) error { panic("kaboom") }))
	var te *TransformationError
	require.ErrorAs(t, err, &te)
	require.Contains(t, te.Error(), "panic: kaboom")
	require.Equal(t, before, snapshot(t, a, b, c))
}

func TestUnimportedReferenceFailsRun(t *testing.T) {
	_, a, b, c := chain(t)
	before := snapshot(t, a, b, c)

	p := NewProcessor(WithLogger(&testLogger{}))
	p.AddTargets(Target{Path: a}, Target{Path: b}, Target{Path: c})
	_, err := p.Run(context.Background(), Func("sloppy", func(c *Context) error {
		prog := c.Modules[0].Type("A", "Program")
		prog.AddField("other", ir.NewTypeRef("Elsewhere", "Elsewhere", "Thing"), false)
		return nil
	}))
	require.ErrorIs(t, err, ir.ErrUnboundReference)
	require.Equal(t, before, snapshot(t, a, b, c))
}

func TestContextSharesOpenModules(t *testing.T) {
	_, a, b, c := chain(t)

	var hierarchyAtStart []int
	check := Func("check", func(c *Context) error {
		hierarchyAtStart = append(hierarchyAtStart, c.Hierarchy.Len())
		for _, m := range c.Modules {
			open, err := c.Resolver.Open(m.Name)
			if err != nil {
				return err
			}
			if open != m {
				return fmt.Errorf("resolver returned a second instance of %s", m.Name)
			}
			c.Hierarchy.DerivesFrom(m.Type(m.Name, "Program").Ref(), "System.Object")
		}
		if c.Hierarchy.Len() == 0 {
			return errors.New("hierarchy cache did not memoize")
		}
		return nil
	})

	p := NewProcessor(WithLogger(&testLogger{}))
	p.AddTargets(Target{Path: a}, Target{Path: b}, Target{Path: c})
	_, err := p.Run(context.Background(), check)
	require.NoError(t, err)

	// Fresh modules for a second run on the same processor.
	writeTarget(t, filepath.Dir(a), "A", "B")
	writeTarget(t, filepath.Dir(b), "B", "C")
	writeTarget(t, filepath.Dir(c), "C")
	_, err = p.Run(context.Background(), check)
	require.NoError(t, err)
	require.Equal(t, []int{0, 0}, hierarchyAtStart)
}

func TestUnreadableTargetIsDropped(t *testing.T) {
	dir := t.TempDir()
	good := writeTarget(t, dir, "Good")
	junk := filepath.Join(dir, "Junk.lmod")
	require.NoError(t, os.WriteFile(junk, []byte("not a module"), 0o644))

	p := NewProcessor(WithLogger(&testLogger{}))
	p.AddTargets(Target{Path: junk}, Target{Path: good})
	rep, err := p.Run(context.Background(), marker("one"))
	require.NoError(t, err)
	require.Equal(t, []string{junk}, rep.Dropped)
	require.Equal(t, []string{good}, rep.Woven)
}

func TestWriteHookSeesContent(t *testing.T) {
	dir := t.TempDir()
	path := writeTarget(t, dir, "App")
	before := snapshot(t, path)[path]

	var got []Written
	p := NewProcessor(WithLogger(&testLogger{}), WithWriteHook(func(w Written) error {
		got = append(got, w)
		return nil
	}))
	p.AddTargets(Target{Path: path})
	_, err := p.Run(context.Background(), marker("one"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "App", got[0].Module)
	require.Equal(t, before, got[0].Before)
	require.Equal(t, snapshot(t, path)[path], got[0].After)
}

func TestFailingWriteHookKeepsBatchWhole(t *testing.T) {
	_, a, b, c := chain(t)
	log := &testLogger{}

	calls := 0
	p := NewProcessor(WithLogger(log), WithWriteHook(func(w Written) error {
		calls++
		// Every file is on disk before the first record is made.
		for _, path := range []string{a, b, c} {
			require.True(t, readModule(t, path).Stamped(), "%s not yet written", path)
		}
		return errors.New("journal unavailable")
	}))
	p.AddTargets(Target{Path: a}, Target{Path: b}, Target{Path: c})
	rep, err := p.Run(context.Background(), marker("one"))
	require.NoError(t, err)
	require.Equal(t, []string{c, b, a}, rep.Woven)
	require.Equal(t, 3, calls)
	require.True(t, log.has("write hook for "), "hook failure not logged")
}

func TestRunRewritesSymbols(t *testing.T) {
	dir := t.TempDir()
	m := ir.NewModule("App")
	m.Attributes = []string{ir.WeaveMeAttribute}
	prog := m.NewType("App", "Program", ir.TypePublic)
	prog.BaseType = m.CoreType("Object")
	main := prog.NewMethod("Main", ir.MethodPublic|ir.MethodStatic, m.CoreType("Void"))
	ret := ir.NewInstruction(ir.OpRet, nil)
	ret.Point = &ir.SequencePoint{Document: "app.src", Line: 3}
	main.EnsureBody().Append(ret)
	path := filepath.Join(dir, "App.lmod")
	require.NoError(t, m.WriteFile(path, ir.WriteOptions{Symbols: true}))

	p := NewProcessor(WithLogger(&testLogger{}))
	p.AddTargets(Target{Path: path})
	require.Equal(t, ir.SymbolPath(path), p.Targets()[0].Symbols)
	_, err := p.Run(context.Background(), Func("noop", func(*Context) error { return nil }))
	require.NoError(t, err)

	woven, err := ir.ReadFile(path, ir.ReadOptions{Symbols: true})
	require.NoError(t, err)
	require.True(t, woven.Stamped())
	body := woven.Type("App", "Program").Method("Main").Body
	require.NotNil(t, body.Instructions[0].Point)
	require.Equal(t, 3, body.Instructions[0].Point.Line)
}

func TestRunCancelled(t *testing.T) {
	_, a, b, c := chain(t)
	before := snapshot(t, a, b, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewProcessor(WithLogger(&testLogger{}))
	p.AddTargets(Target{Path: a}, Target{Path: b}, Target{Path: c})
	_, err := p.Run(ctx, marker("one"))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, before, snapshot(t, a, b, c))
}

func TestAddTargetsDeduplicates(t *testing.T) {
	dir := t.TempDir()
	path := writeTarget(t, dir, "App")
	p := NewProcessor()
	p.AddTargets(Target{Path: path}, Target{Path: path})
	require.Len(t, p.Targets(), 1)
}
