package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDuplicateLabelIsFatal locks in invariant 1 (label uniqueness, §4.1):
// loading two non-"@@"-prefixed Label instructions with the same name is
// a fatal load-time error.
func TestDuplicateLabelIsFatal(t *testing.T) {
	l := newLoader(defaultLogger())
	_, _, err := l.Load(Assembly{LabelAsm("dup"), Asm{Op: OpNop}})
	require.NoError(t, err)

	_, _, err = l.Load(Assembly{LabelAsm("dup")})
	require.ErrorIs(t, err, errDuplicateLabel)
}

// TestRebindableLabelOverwrites covers the "@@"-prefixed escape hatch
// (§4.1) that lets a later Load rebind a label instead of failing.
func TestRebindableLabelOverwrites(t *testing.T) {
	l := newLoader(defaultLogger())
	first, _, err := l.Load(Assembly{LabelAsm("@@rebind"), Asm{Op: OpNop}})
	require.NoError(t, err)

	second, _, err := l.Load(Assembly{LabelAsm("@@rebind"), Asm{Op: OpNop}})
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	idx, ok := l.labelIndex("@@rebind")
	require.True(t, ok)
	require.Equal(t, second, idx)
}

// TestPublicLabelIsResolvable covers spec §4.1's "If asm is Label(l) or
// PublicLabel(l): bind label l" — PublicLabel entries must be resolvable
// the same way plain Label entries are, since they're how Run(label)
// finds its entry point.
func TestPublicLabelIsResolvable(t *testing.T) {
	l := newLoader(defaultLogger())
	start, _, err := l.Load(Assembly{PublicLabelAsm("entry"), Asm{Op: OpHalt}})
	require.NoError(t, err)

	idx, ok := l.labelIndex("entry")
	require.True(t, ok)
	require.Equal(t, start, idx)
}

func TestFetchOutOfRangeReportsMissing(t *testing.T) {
	l := newLoader(defaultLogger())
	_, ok := l.Fetch(0)
	require.True(t, ok, "instruction 0 is the reserved sentinel Nop")

	_, ok = l.Fetch(999)
	require.False(t, ok)
}

// TestStaticRegionRunsInGlobalScopeOnce covers §4.1's static-region rule:
// a Static-flagged instruction executes immediately at Load time, bracketed
// by global-scope switch/back, and must not leak operand-stack state into
// the caller.
func TestStaticRegionRunsInGlobalScopeOnce(t *testing.T) {
	vm := newTestVM()
	// Only the first instruction is flagged Static: it is the region's single
	// entry point (§4.1), and running from it naturally carries execution
	// through the following, unflagged SetVar as part of the same region.
	// Flagging every instruction in a contiguous block would re-run it once
	// per flagged index.
	_, err := vm.Load(Assembly{
		{Op: OpPush, Arg: NewUInteger(1), Static: true},
		{Op: OpSetVar, N: 0},
	})
	require.NoError(t, err)
	require.Equal(t, 0, vm.memory.StackLen(), "a static region must not leave values on the operand stack")

	ref, err := vm.memory.GetVar(0)
	require.NoError(t, err)
	require.Equal(t, KindUInteger, ref.Get().Kind)
	require.EqualValues(t, 1, ref.Get().UInteger)
}
