package chain

import "vaultledger/internal/errs"

// Guard is a per-instance reentrancy lock. The zero value is unlocked.
type Guard struct {
	entered bool
}

// Enter takes the lock. The returned release func must run on every exit path.
func (g *Guard) Enter() (func(), error) {
	if g.entered {
		return nil, errs.ErrReentrant
	}
	g.entered = true
	return func() { g.entered = false }, nil
}

// Entered reports whether the lock is held.
func (g *Guard) Entered() bool { return g.entered }
