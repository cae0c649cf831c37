package app

import (
	"fmt"
	"sync"

	"github.com/dkeye/sharedview/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case NoAction:
		return "none"
	case MarkSlow:
		return "mark_slow"
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	}
	return "unknown"
}

// Policy decides what happens to a member whose signaling queue is full.
// Release is called once the member's connection is gone.
type Policy interface {
	OnBackPressure(member core.MemberSession) BackpressureAction
	Release(member core.MemberSession)
}

// NewPolicy picks a policy by config name: "kick" or "tolerant".
func NewPolicy(name string, strikes int) (Policy, error) {
	switch name {
	case "", "kick":
		return SimplePolicy{}, nil
	case "tolerant":
		return NewTolerantPolicy(strikes), nil
	}
	return nil, fmt.Errorf("unknown backpressure policy %q", name)
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.MemberSession) BackpressureAction { return KickMember }
func (SimplePolicy) Release(core.MemberSession)                           {}

// TolerantPolicy marks a member slow on its first overflow, drops frames on
// the following ones and kicks it after strikes overflows.
type TolerantPolicy struct {
	strikes int

	mu   sync.Mutex
	seen map[core.MemberSession]int
}

func NewTolerantPolicy(strikes int) *TolerantPolicy {
	if strikes < 1 {
		strikes = 1
	}
	return &TolerantPolicy{strikes: strikes, seen: make(map[core.MemberSession]int)}
}

func (p *TolerantPolicy) OnBackPressure(member core.MemberSession) BackpressureAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen[member]++
	n := p.seen[member]
	switch {
	case n >= p.strikes:
		delete(p.seen, member)
		return KickMember
	case n == 1:
		return MarkSlow
	}
	return DropFrame
}

func (p *TolerantPolicy) Release(member core.MemberSession) {
	p.mu.Lock()
	delete(p.seen, member)
	p.mu.Unlock()
}
