package app

import (
	"errors"
	"fmt"

	"github.com/dkeye/confrelay/internal/core"
)

type DeliveryAction int

const (
	NoAction DeliveryAction = iota
	KickMember
	DropFrame
)

func (a DeliveryAction) String() string {
	switch a {
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	}
	return "none"
}

// Policy decides what happens to a member that could not take a forwarded frame.
type Policy interface {
	OnDeliveryFailure(c *core.Conference, member *core.Participant, err error) DeliveryAction
}

// SimplePolicy treats every delivery failure like a disconnect.
type SimplePolicy struct{}

func (SimplePolicy) OnDeliveryFailure(*core.Conference, *core.Participant, error) DeliveryAction {
	return KickMember
}

// DropPolicy drops frames for members that fall behind and kicks only members
// whose transport is already gone.
type DropPolicy struct{}

func (DropPolicy) OnDeliveryFailure(_ *core.Conference, _ *core.Participant, err error) DeliveryAction {
	if errors.Is(err, core.ErrBackpressure) {
		return DropFrame
	}
	return KickMember
}

// PolicyFor resolves the slow_member_policy setting.
func PolicyFor(name string) (Policy, error) {
	switch name {
	case "", "kick":
		return SimplePolicy{}, nil
	case "drop":
		return DropPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown slow member policy %q", name)
}
