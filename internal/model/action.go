package model

import (
	"fmt"
	"strings"
)

// ActionKind names a side effect applied to a matched message before it
// is dispatched.
type ActionKind string

const (
	ActionMarkAsRead   ActionKind = "mark_as_read"
	ActionMarkAsUnread ActionKind = "mark_as_unread"
	ActionFlag         ActionKind = "flag"
	ActionDelete       ActionKind = "delete"
	ActionMove         ActionKind = "move"
	ActionCopy         ActionKind = "copy"
)

// Action is one parsed rule action. Mailbox is set for move and copy.
type Action struct {
	Kind    ActionKind
	Mailbox string
}

func (a Action) String() string {
	if a.Mailbox != "" {
		return string(a.Kind) + ":" + a.Mailbox
	}
	return string(a.Kind)
}

// ParseAction parses an action such as "mark_as_read" or "move:Processed".
func ParseAction(s string) (Action, error) {
	name, arg, hasArg := strings.Cut(strings.TrimSpace(s), ":")
	kind := ActionKind(strings.ToLower(strings.TrimSpace(name)))
	arg = strings.TrimSpace(arg)

	switch kind {
	case ActionMarkAsRead, ActionMarkAsUnread, ActionFlag, ActionDelete:
		if hasArg {
			return Action{}, fmt.Errorf("action %q takes no mailbox", name)
		}
		return Action{Kind: kind}, nil
	case ActionMove, ActionCopy:
		if arg == "" {
			return Action{}, fmt.Errorf("action %q needs a mailbox, e.g. %s:Archive", name, name)
		}
		return Action{Kind: kind, Mailbox: arg}, nil
	default:
		return Action{}, fmt.Errorf("unsupported action %q", s)
	}
}
