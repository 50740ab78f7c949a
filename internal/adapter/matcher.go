package adapter

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// Querier reads element text from a live page.
type Querier interface {
	Query(ctx context.Context, selector string) (text string, found bool, err error)
}

// Matcher is one declarative extraction strategy. Kind picks the strategy;
// the remaining fields are its arguments.
type Matcher struct {
	Kind     string `yaml:"kind" mapstructure:"kind"`
	Selector string `yaml:"selector" mapstructure:"selector"`
	Pattern  string `yaml:"pattern,omitempty" mapstructure:"pattern"`
}

// StrategyFunc resolves a matcher against a page.
type StrategyFunc func(ctx context.Context, q Querier, m Matcher) (string, bool, error)

var (
	strategyMu sync.RWMutex
	strategies = map[string]StrategyFunc{
		"selector": selectorStrategy,
		"pattern":  patternStrategy,
	}
)

// RegisterStrategy adds or replaces a matcher strategy.
func RegisterStrategy(kind string, fn StrategyFunc) {
	strategyMu.Lock()
	defer strategyMu.Unlock()
	strategies[kind] = fn
}

func lookupStrategy(kind string) (StrategyFunc, bool) {
	if kind == "" {
		kind = "selector"
	}
	strategyMu.RLock()
	defer strategyMu.RUnlock()
	fn, ok := strategies[kind]
	return fn, ok
}

// Extract runs matchers in order and returns the first non-empty value.
// A query error aborts the run; unresolved matchers fall through.
func Extract(ctx context.Context, q Querier, matchers []Matcher) (string, bool, error) {
	for _, m := range matchers {
		fn, ok := lookupStrategy(m.Kind)
		if !ok {
			return "", false, eris.Errorf("matcher: unknown kind %q", m.Kind)
		}
		val, found, err := fn(ctx, q, m)
		if err != nil {
			return "", false, err
		}
		if found && val != "" {
			return val, true, nil
		}
	}
	return "", false, nil
}

func selectorStrategy(ctx context.Context, q Querier, m Matcher) (string, bool, error) {
	text, found, err := q.Query(ctx, m.Selector)
	if err != nil || !found {
		return "", false, err
	}
	return strings.TrimSpace(text), true, nil
}

var (
	patternCacheMu sync.Mutex
	patternCache   = map[string]*regexp.Regexp{}
)

func compilePattern(p string) (*regexp.Regexp, error) {
	patternCacheMu.Lock()
	defer patternCacheMu.Unlock()
	if re, ok := patternCache[p]; ok {
		return re, nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, eris.Wrapf(err, "matcher: compile pattern %q", p)
	}
	patternCache[p] = re
	return re, nil
}

// patternStrategy applies a regex to the text of Selector (the page body when
// empty). The first capture group wins over the whole match.
func patternStrategy(ctx context.Context, q Querier, m Matcher) (string, bool, error) {
	re, err := compilePattern(m.Pattern)
	if err != nil {
		return "", false, err
	}
	sel := m.Selector
	if sel == "" {
		sel = "body"
	}
	text, found, err := q.Query(ctx, sel)
	if err != nil || !found {
		return "", false, err
	}
	sub := re.FindStringSubmatch(text)
	if sub == nil {
		return "", false, nil
	}
	if len(sub) > 1 {
		return strings.TrimSpace(sub[1]), true, nil
	}
	return strings.TrimSpace(sub[0]), true, nil
}
