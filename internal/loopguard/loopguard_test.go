package loopguard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsSelfInduced_OpenOperation(t *testing.T) {
	g := New(5 * time.Second)

	opID := g.StartOperation("/repo/a.py", "process")
	assert.True(t, g.IsSelfInduced("/repo/a.py", time.Now()))
	assert.False(t, g.IsSelfInduced("/repo/b.py", time.Now()))

	g.EndOperation(opID)
	assert.Equal(t, 0, g.OpenOperations())
}

func TestIsSelfInduced_SuppressionWindow(t *testing.T) {
	g := New(5 * time.Second)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }

	opID := g.StartOperation("/repo/a.py", "process")
	g.EndOperation(opID)

	// 2s after completion: still suppressed
	assert.True(t, g.IsSelfInduced("/repo/a.py", base.Add(2*time.Second)))

	// 7s after completion: window elapsed, processed normally
	g.now = func() time.Time { return base.Add(7 * time.Second) }
	assert.False(t, g.IsSelfInduced("/repo/a.py", base.Add(7*time.Second)))
}

func TestRegisterPath_RenameAwareness(t *testing.T) {
	g := New(5 * time.Second)

	opID := g.StartOperation("/repo/mod.py", "process")
	g.RegisterPath(opID, "/repo/2025060112000000_mod.py")

	// Both the original and the renamed path suppress while the op is open
	assert.True(t, g.IsSelfInduced("/repo/mod.py", time.Now()))
	assert.True(t, g.IsSelfInduced("/repo/2025060112000000_mod.py", time.Now()))

	g.EndOperation(opID)

	// Both keep suppressing inside the window after completion
	assert.True(t, g.IsSelfInduced("/repo/mod.py", time.Now()))
	assert.True(t, g.IsSelfInduced("/repo/2025060112000000_mod.py", time.Now()))
}

func TestRegisterPath_UnknownOpIsNoop(t *testing.T) {
	g := New(time.Second)
	g.RegisterPath("does-not-exist", "/repo/a.py")
	assert.False(t, g.IsSelfInduced("/repo/a.py", time.Now()))
}

func TestLazyPurge(t *testing.T) {
	g := New(time.Second)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }

	opID := g.StartOperation("/repo/a.py", "process")
	g.EndOperation(opID)
	assert.Len(t, g.recent, 1)

	g.now = func() time.Time { return base.Add(10 * time.Second) }
	g.IsSelfInduced("/repo/other.py", g.now())
	assert.Empty(t, g.recent, "expired completion records should be purged on check")
}

func TestConcurrentAccess(t *testing.T) {
	g := New(time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				opID := g.StartOperation("/repo/a.py", "process")
				g.IsSelfInduced("/repo/a.py", time.Now())
				g.EndOperation(opID)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, g.OpenOperations())
}
