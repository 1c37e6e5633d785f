package mailstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
)

// flagRecent is the IMAP4rev1 \Recent flag used by NEW, OLD and RECENT.
const flagRecent imap.Flag = `\Recent`

var searchDateLayouts = []string{"2-Jan-2006", "02-Jan-2006", "2006-01-02"}

// ParseQuery translates IMAP SEARCH tokens such as
// ["SINCE", "03-Jan-2011", "UNSEEN"] into search criteria. Keys are
// ANDed. A token holding several words, like "(NOT DELETED)" or
// "SUBJECT report UNSEEN", is split when it appears where a search key is
// expected; a token in argument position is used verbatim. An empty query
// means ALL.
func ParseQuery(tokens ...string) (*imap.SearchCriteria, error) {
	s := &tokenStream{}
	for _, t := range tokens {
		s.items = append(s.items, token{text: t})
	}

	criteria, err := s.parseKeys(false)
	if err != nil {
		return nil, fmt.Errorf("parsing search query %q: %w", strings.Join(tokens, " "), err)
	}
	return criteria, nil
}

type token struct {
	text  string
	lexed bool
}

type tokenStream struct {
	items []token
}

func (s *tokenStream) empty() bool {
	return len(s.items) == 0
}

func (s *tokenStream) pop() (token, bool) {
	if len(s.items) == 0 {
		return token{}, false
	}
	t := s.items[0]
	s.items = s.items[1:]
	return t, true
}

// key returns the next search key, splitting a multi-word token first.
func (s *tokenStream) key() (string, bool) {
	for {
		t, ok := s.pop()
		if !ok {
			return "", false
		}
		if t.lexed || !strings.ContainsAny(t.text, " \t()\"") {
			return t.text, true
		}
		parts := lexQuery(t.text)
		if len(parts) == 0 {
			continue
		}
		s.items = append(parts, s.items...)
	}
}

// arg returns the next argument as written.
func (s *tokenStream) arg(key string) (string, error) {
	t, ok := s.pop()
	if !ok {
		return "", fmt.Errorf("%s: missing argument", key)
	}
	if !t.lexed && len(t.text) >= 2 && strings.HasPrefix(t.text, `"`) && strings.HasSuffix(t.text, `"`) {
		return t.text[1 : len(t.text)-1], nil
	}
	return t.text, nil
}

func (s *tokenStream) peekClose() bool {
	if s.empty() {
		return false
	}
	t := s.items[0]
	if t.lexed {
		return t.text == ")"
	}
	return strings.TrimSpace(t.text) == ")"
}

func (s *tokenStream) parseKeys(inGroup bool) (*imap.SearchCriteria, error) {
	criteria := &imap.SearchCriteria{}
	for !s.empty() {
		if inGroup && s.peekClose() {
			s.pop()
			return criteria, nil
		}
		k, err := s.parseKey()
		if err != nil {
			return nil, err
		}
		if k != nil {
			andCriteria(criteria, k)
		}
	}
	if inGroup {
		return nil, fmt.Errorf("unbalanced parenthesis")
	}
	return criteria, nil
}

func (s *tokenStream) parseKey() (*imap.SearchCriteria, error) {
	raw, ok := s.key()
	if !ok {
		return nil, nil
	}
	key := strings.ToUpper(raw)

	switch key {
	case "(":
		return s.parseKeys(true)
	case ")":
		return nil, fmt.Errorf("unexpected ')'")
	case "ALL":
		return &imap.SearchCriteria{}, nil
	case "SEEN", "ANSWERED", "DELETED", "FLAGGED", "DRAFT":
		return &imap.SearchCriteria{Flag: []imap.Flag{systemFlag(key)}}, nil
	case "UNSEEN", "UNANSWERED", "UNDELETED", "UNFLAGGED", "UNDRAFT":
		return &imap.SearchCriteria{NotFlag: []imap.Flag{systemFlag(key[2:])}}, nil
	case "RECENT":
		return &imap.SearchCriteria{Flag: []imap.Flag{flagRecent}}, nil
	case "OLD":
		return &imap.SearchCriteria{NotFlag: []imap.Flag{flagRecent}}, nil
	case "NEW":
		return &imap.SearchCriteria{
			Flag:    []imap.Flag{flagRecent},
			NotFlag: []imap.Flag{imap.FlagSeen},
		}, nil
	case "KEYWORD", "UNKEYWORD":
		v, err := s.arg(key)
		if err != nil {
			return nil, err
		}
		if key == "KEYWORD" {
			return &imap.SearchCriteria{Flag: []imap.Flag{imap.Flag(v)}}, nil
		}
		return &imap.SearchCriteria{NotFlag: []imap.Flag{imap.Flag(v)}}, nil
	case "SINCE", "BEFORE", "ON", "SENTSINCE", "SENTBEFORE", "SENTON":
		v, err := s.arg(key)
		if err != nil {
			return nil, err
		}
		d, err := parseSearchDate(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return dateCriteria(key, d), nil
	case "FROM", "TO", "CC", "BCC", "SUBJECT":
		v, err := s.arg(key)
		if err != nil {
			return nil, err
		}
		return &imap.SearchCriteria{Header: []imap.SearchCriteriaHeaderField{
			{Key: headerName(key), Value: v},
		}}, nil
	case "HEADER":
		name, err := s.arg(key)
		if err != nil {
			return nil, err
		}
		v, err := s.arg(key)
		if err != nil {
			return nil, err
		}
		return &imap.SearchCriteria{Header: []imap.SearchCriteriaHeaderField{
			{Key: name, Value: v},
		}}, nil
	case "BODY", "TEXT":
		v, err := s.arg(key)
		if err != nil {
			return nil, err
		}
		if key == "BODY" {
			return &imap.SearchCriteria{Body: []string{v}}, nil
		}
		return &imap.SearchCriteria{Text: []string{v}}, nil
	case "LARGER", "SMALLER":
		v, err := s.arg(key)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%s: invalid size %q", key, v)
		}
		if key == "LARGER" {
			return &imap.SearchCriteria{Larger: n}, nil
		}
		return &imap.SearchCriteria{Smaller: n}, nil
	case "UID":
		v, err := s.arg(key)
		if err != nil {
			return nil, err
		}
		set, err := parseUIDSet(v)
		if err != nil {
			return nil, fmt.Errorf("UID: %w", err)
		}
		return &imap.SearchCriteria{UID: []imap.UIDSet{set}}, nil
	case "NOT":
		k, err := s.parseKey()
		if err != nil {
			return nil, err
		}
		if k == nil {
			return nil, fmt.Errorf("NOT: missing search key")
		}
		return &imap.SearchCriteria{Not: []imap.SearchCriteria{*k}}, nil
	case "OR":
		a, err := s.parseKey()
		if err != nil {
			return nil, err
		}
		b, err := s.parseKey()
		if err != nil {
			return nil, err
		}
		if a == nil || b == nil {
			return nil, fmt.Errorf("OR: needs two search keys")
		}
		return &imap.SearchCriteria{Or: [][2]imap.SearchCriteria{{*a, *b}}}, nil
	}

	if set, err := parseSeqSet(raw); err == nil {
		return &imap.SearchCriteria{SeqNum: []imap.SeqSet{set}}, nil
	}
	return nil, fmt.Errorf("unsupported search key %q", raw)
}

func systemFlag(key string) imap.Flag {
	switch key {
	case "SEEN":
		return imap.FlagSeen
	case "ANSWERED":
		return imap.FlagAnswered
	case "DELETED":
		return imap.FlagDeleted
	case "FLAGGED":
		return imap.FlagFlagged
	default:
		return imap.FlagDraft
	}
}

func headerName(key string) string {
	return key[:1] + strings.ToLower(key[1:])
}

func dateCriteria(key string, d time.Time) *imap.SearchCriteria {
	next := d.AddDate(0, 0, 1)
	switch key {
	case "SINCE":
		return &imap.SearchCriteria{Since: d}
	case "BEFORE":
		return &imap.SearchCriteria{Before: d}
	case "ON":
		return &imap.SearchCriteria{Since: d, Before: next}
	case "SENTSINCE":
		return &imap.SearchCriteria{SentSince: d}
	case "SENTBEFORE":
		return &imap.SearchCriteria{SentBefore: d}
	default:
		return &imap.SearchCriteria{SentSince: d, SentBefore: next}
	}
}

func parseSearchDate(v string) (time.Time, error) {
	for _, layout := range searchDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (want dd-Mon-yyyy)", v)
}

// andCriteria merges src into dst so that dst matches only messages
// matched by both.
func andCriteria(dst, src *imap.SearchCriteria) {
	dst.SeqNum = append(dst.SeqNum, src.SeqNum...)
	dst.UID = append(dst.UID, src.UID...)
	dst.Since = laterDate(dst.Since, src.Since)
	dst.SentSince = laterDate(dst.SentSince, src.SentSince)
	dst.Before = earlierDate(dst.Before, src.Before)
	dst.SentBefore = earlierDate(dst.SentBefore, src.SentBefore)
	dst.Header = append(dst.Header, src.Header...)
	dst.Body = append(dst.Body, src.Body...)
	dst.Text = append(dst.Text, src.Text...)
	dst.Flag = append(dst.Flag, src.Flag...)
	dst.NotFlag = append(dst.NotFlag, src.NotFlag...)
	if src.Larger > dst.Larger {
		dst.Larger = src.Larger
	}
	if src.Smaller > 0 && (dst.Smaller == 0 || src.Smaller < dst.Smaller) {
		dst.Smaller = src.Smaller
	}
	dst.Not = append(dst.Not, src.Not...)
	dst.Or = append(dst.Or, src.Or...)
}

func laterDate(a, b time.Time) time.Time {
	if a.IsZero() || b.After(a) {
		return b
	}
	return a
}

func earlierDate(a, b time.Time) time.Time {
	if a.IsZero() || (!b.IsZero() && b.Before(a)) {
		return b
	}
	return a
}

// lexQuery splits a query string into words, quoted strings and
// parentheses.
func lexQuery(s string) []token {
	var out []token
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, token{text: cur.String(), lexed: true})
			cur.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			flush()
		case c == '(' || c == ')':
			flush()
			out = append(out, token{text: string(c), lexed: true})
		case c == '"':
			flush()
			var q strings.Builder
			for i++; i < len(s) && s[i] != '"'; i++ {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				q.WriteByte(s[i])
			}
			out = append(out, token{text: q.String(), lexed: true})
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}

func parseUIDSet(s string) (imap.UIDSet, error) {
	var set imap.UIDSet
	err := parseNumRanges(s, func(start, stop uint32) {
		set.AddRange(imap.UID(start), imap.UID(stop))
	})
	return set, err
}

func parseSeqSet(s string) (imap.SeqSet, error) {
	var set imap.SeqSet
	err := parseNumRanges(s, func(start, stop uint32) {
		set.AddRange(start, stop)
	})
	return set, err
}

// parseNumRanges walks a sequence set such as "1,3:5,9:*". A '*' is
// reported as 0.
func parseNumRanges(s string, add func(start, stop uint32)) error {
	if s == "" {
		return fmt.Errorf("empty set")
	}
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, ":")
		start, err := parseSetNum(lo)
		if err != nil {
			return err
		}
		stop := start
		if isRange {
			if stop, err = parseSetNum(hi); err != nil {
				return err
			}
		}
		add(start, stop)
	}
	return nil
}

func parseSetNum(s string) (uint32, error) {
	if s == "*" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid set number %q", s)
	}
	return uint32(n), nil
}
