// Package rules evaluates routing rules against the messages of a mail
// session.
package rules

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/nhle/mailpost/internal/logger"
	"github.com/nhle/mailpost/internal/mailstore"
	"github.com/nhle/mailpost/internal/metrics"
	"github.com/nhle/mailpost/internal/model"
	"github.com/nhle/mailpost/internal/pattern"
	"github.com/nhle/mailpost/internal/run"
)

// Match pairs a message with the rule it satisfied.
type Match struct {
	Message *mailstore.Message
	Rule    *model.Rule
}

// Engine walks the configured rules in order and yields every message
// that satisfies one.
type Engine struct {
	Session *mailstore.Session
	Matcher *pattern.Matcher
	State   *run.State
}

// NewEngine creates an engine over session that records touched
// mailboxes in state.
func NewEngine(session *mailstore.Session, state *run.State) *Engine {
	return &Engine{
		Session: session,
		Matcher: pattern.NewMatcher(),
		State:   state,
	}
}

// Evaluate yields matches for each rule in configuration order, and for
// each rule in ascending UID order. A message matching several rules is
// yielded once per rule. The first error ends the sequence.
//
// The rule's mailbox stays selected while its matches are consumed, so
// callers may act on a message before pulling the next one.
func (e *Engine) Evaluate(ctx context.Context, rules []model.Rule) iter.Seq2[Match, error] {
	return func(yield func(Match, error) bool) {
		for i := range rules {
			rule := &rules[i]
			if !e.evaluateRule(ctx, rule, yield) {
				return
			}
		}
	}
}

func (e *Engine) evaluateRule(ctx context.Context, rule *model.Rule, yield func(Match, error) bool) bool {
	log := logger.With("rule", rule.Name, "mailbox", rule.Mailbox, "run_id", e.State.ID)

	if err := e.Session.SelectMailbox(ctx, rule.Mailbox); err != nil {
		yield(Match{}, err)
		return false
	}
	e.State.Touch(rule.Mailbox)

	coll, err := e.Session.Search(ctx, rule.Query...)
	if err != nil {
		yield(Match{}, fmt.Errorf("rule %s: %w", rule.Name, err))
		return false
	}
	log.DebugContext(ctx, "Evaluating rule", "query", coll.Query())

	for msg, err := range coll.All(ctx) {
		if err != nil {
			yield(Match{}, err)
			return false
		}
		metrics.MessagesEvaluated.WithLabelValues(rule.Name).Inc()

		ok, err := e.Matches(ctx, msg, rule)
		if err != nil {
			yield(Match{}, fmt.Errorf("rule %s: %w", rule.Name, err))
			return false
		}
		if !ok {
			continue
		}

		log.DebugContext(ctx, "Message matched rule", "uid", msg.UID())
		metrics.MessagesMatched.WithLabelValues(rule.Name).Inc()
		if !yield(Match{Message: msg, Rule: rule}, nil) {
			return false
		}
	}
	return true
}

// Matches reports whether msg satisfies every condition of rule. Keys are
// checked in sorted order and evaluation stops at the first failure. A
// field the message does not have fails its condition.
func (e *Engine) Matches(ctx context.Context, msg *mailstore.Message, rule *model.Rule) (bool, error) {
	keys := make([]string, 0, len(rule.Conditions))
	for k := range rule.Conditions {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		value, found, err := msg.Resolve(ctx, key)
		if err != nil {
			return false, err
		}
		if !found {
			return false, nil
		}
		ok, err := e.Matcher.MatchAny(value.Values(), rule.Conditions[key], rule.Syntax)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
