package branching

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"surveyflow/internal/model"
)

// DefaultPatternCacheSize bounds the number of compiled RegexMatch patterns kept.
const DefaultPatternCacheSize = 256

// Evaluator decides whether an observed answer satisfies a condition.
// It is safe for concurrent use.
type Evaluator struct {
	patterns *expirable.LRU[string, *regexp.Regexp]
}

// NewEvaluator creates an evaluator with a pattern cache of the given size
func NewEvaluator(cacheSize int) *Evaluator {
	if cacheSize <= 0 {
		cacheSize = DefaultPatternCacheSize
	}
	return &Evaluator{
		patterns: expirable.NewLRU[string, *regexp.Regexp](cacheSize, nil, time.Hour),
	}
}

var defaultEvaluator = NewEvaluator(DefaultPatternCacheSize)

// Matches evaluates a condition given in its persisted string form.
// For CrossQuestion, value must already hold the referenced saved answer
// and value2 the comparison operator.
func Matches(conditionType, value, value2, observed string) (bool, error) {
	ct, ok := ParseConditionType(conditionType)
	if !ok {
		return false, configErr(0, "unknown condition type %q", conditionType)
	}
	return defaultEvaluator.Matches(Condition{Type: ct, Value: value, Value2: value2}, observed)
}

// Matches reports whether observed satisfies c. Non-numeric operands to
// numeric comparisons are a non-match, not an error.
func (e *Evaluator) Matches(c Condition, observed string) (bool, error) {
	switch c.Type {
	case model.ConditionEquals:
		return equalFold(observed, c.Value), nil
	case model.ConditionNotEquals:
		return !equalFold(observed, c.Value), nil
	case model.ConditionContains:
		if strings.TrimSpace(c.Value) == "" {
			return false, configErr(0, "Contains requires conditionValue")
		}
		return contains(observed, c.Value), nil
	case model.ConditionGreaterThan:
		return compare(observed, c.Value, func(a, b float64) bool { return a > b }), nil
	case model.ConditionLessThan:
		return compare(observed, c.Value, func(a, b float64) bool { return a < b }), nil
	case model.ConditionBetween:
		if strings.TrimSpace(c.Value) == "" || strings.TrimSpace(c.Value2) == "" {
			return false, configErr(0, "Between requires both conditionValue and conditionValue2")
		}
		v, ok := parseNumber(observed)
		if !ok {
			return false, nil
		}
		lo, okLo := parseNumber(c.Value)
		hi, okHi := parseNumber(c.Value2)
		if !okLo || !okHi {
			return false, nil
		}
		return v >= lo && v <= hi, nil
	case model.ConditionInList:
		return inList(observed, c.Value), nil
	case model.ConditionRegexMatch:
		re, err := e.pattern(c.Value)
		if err != nil {
			return false, err
		}
		return re.MatchString(observed), nil
	case model.ConditionCrossQuestion:
		op, err := crossOperator(c.Value2)
		if err != nil {
			return false, err
		}
		// An empty referenced answer contains nothing.
		if op == model.ConditionContains && strings.TrimSpace(c.Value) == "" {
			return false, nil
		}
		return e.Matches(Condition{Type: op, Value: c.Value}, observed)
	default:
		return false, configErr(0, "unsupported condition type %q", c.Type)
	}
}

func (e *Evaluator) pattern(expr string) (*regexp.Regexp, error) {
	if re, ok := e.patterns.Get(expr); ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, configErr(0, "invalid pattern %q: %v", expr, err)
	}
	e.patterns.Add(expr, re)
	return re, nil
}

// crossOperator returns the comparison used by CrossQuestion conditions.
func crossOperator(raw string) (model.ConditionType, error) {
	if strings.TrimSpace(raw) == "" {
		return model.ConditionEquals, nil
	}
	op, ok := ParseConditionType(raw)
	if !ok {
		return "", configErr(0, "unknown CrossQuestion operator %q", raw)
	}
	switch op {
	case model.ConditionEquals, model.ConditionNotEquals, model.ConditionContains,
		model.ConditionGreaterThan, model.ConditionLessThan:
		return op, nil
	}
	return "", configErr(0, "CrossQuestion does not support operator %s", op)
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func contains(observed, needle string) bool {
	if strings.TrimSpace(observed) == "" {
		return false
	}
	return strings.Contains(strings.ToLower(observed), strings.ToLower(strings.TrimSpace(needle)))
}

func inList(observed, list string) bool {
	observed = strings.TrimSpace(observed)
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.EqualFold(item, observed) {
			return true
		}
	}
	return false
}

func compare(observed, operand string, cmp func(a, b float64) bool) bool {
	a, ok := parseNumber(observed)
	if !ok {
		return false
	}
	b, ok := parseNumber(operand)
	if !ok {
		return false
	}
	return cmp(a, b)
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
