package callgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ipo-callgraph/internal/program"
	"github.com/ipo-callgraph/internal/testutil"
)

func TestCallSiteInfo_Shapes(t *testing.T) {
	prog := testutil.LoadManifest(t, "shapes.yaml")
	g := mustBuild(t, prog)
	info := NewCallSiteInfo(g, CallSiteOptionsFor(prog, true))

	for _, name := range []string{"Circle.<init>()V", "Registry.register()V", "Registry.count()I"} {
		assert.True(t, info.HasSingleCallSite(mref(t, name)), name)
		assert.False(t, info.IsMultiCallerCandidate(mref(t, name)), name)
	}
	for _, name := range []string{"Circle.area()D", "Square.area()D", "Registry.<clinit>()V"} {
		assert.True(t, info.IsMultiCallerCandidate(mref(t, name)), name)
		assert.False(t, info.HasSingleCallSite(mref(t, name)), name)
	}
	assert.False(t, info.HasSingleCallSite(mref(t, "Main.main()V")))
	assert.False(t, info.IsMultiCallerCandidate(mref(t, "Main.main()V")))

	single, multi := info.Counts()
	assert.Equal(t, 3, single)
	assert.Equal(t, 3, multi)

	info.Unset(mref(t, "Circle.area()D"))
	info.Unset(mref(t, "Registry.count()I"))
	assert.False(t, info.IsMultiCallerCandidate(mref(t, "Circle.area()D")))
	assert.False(t, info.HasSingleCallSite(mref(t, "Registry.count()I")))
}

func TestCallSiteInfo_Exclusions(t *testing.T) {
	prog := testutil.ParseManifest(t, `
types:
  - name: Reflected
    compat_instantiated: true
methods:
  - ref: Main.main()V
    uses:
      - invoke-static Kept.k()V
      - invoke-virtual Impl.toString()Ljava/lang/String;
      - invoke-direct Reflected.<init>()V
      - invoke-direct Plain.<init>()V
  - ref: Kept.k()V
  - ref: Impl.toString()Ljava/lang/String;
    library_override: true
  - ref: Reflected.<init>()V
    default_initializer: true
  - ref: Plain.<init>()V
    default_initializer: true
`)
	g := mustBuild(t, prog)

	opts := CallSiteOptionsFor(prog, true)
	opts.Pinned = func(ref program.MethodRef) bool { return ref.Holder == "Kept" }
	info := NewCallSiteInfo(g, opts)

	assert.False(t, info.HasSingleCallSite(mref(t, "Kept.k()V")), "pinned")
	assert.False(t, info.HasSingleCallSite(mref(t, "Impl.toString()Ljava/lang/String;")), "library override")
	assert.False(t, info.HasSingleCallSite(mref(t, "Reflected.<init>()V")), "compat instantiated")
	assert.True(t, info.HasSingleCallSite(mref(t, "Plain.<init>()V")))

	info = NewCallSiteInfo(g, CallSiteOptionsFor(prog, false))
	assert.True(t, info.HasSingleCallSite(mref(t, "Impl.toString()Ljava/lang/String;")))
	assert.True(t, info.HasSingleCallSite(mref(t, "Kept.k()V")))
}

func TestEmptyCallSiteInfo(t *testing.T) {
	var info CallSiteInfo = EmptyCallSiteInfo{}
	ref := mref(t, "A.a()V")

	info.Unset(ref)
	assert.False(t, info.HasSingleCallSite(ref))
	assert.False(t, info.IsMultiCallerCandidate(ref))
}
