package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/TimurManjosov/goflagclient/models"
)

// operatorHandler evaluates one attribute comparison operator.
type operatorHandler interface {
	Check(attrValue, ruleValue any) bool
}

var (
	operatorHandlers = map[models.Operator]operatorHandler{
		models.OpIs:                isHandler{},
		models.OpEndsWith:          patternHandler{suffix: true},
		models.OpStartsWith:        patternHandler{suffix: false},
		models.OpContains:          containsHandler{},
		models.OpGreaterThan:       numericCompareHandler{cmp: func(a, b float64) bool { return a > b }},
		models.OpLesserThan:        numericCompareHandler{cmp: func(a, b float64) bool { return a < b }},
		models.OpGreaterThanEquals: numericCompareHandler{cmp: func(a, b float64) bool { return a >= b }},
		models.OpLesserThanEquals:  numericCompareHandler{cmp: func(a, b float64) bool { return a <= b }},
	}

	// regexCache keeps compiled patterns for the hot evaluation path.
	// Values are *regexp.Regexp.
	regexCache sync.Map
)

// checkOperator applies one operator to a single candidate value.
// Unknown operators never match.
func checkOperator(op models.Operator, attrValue, ruleValue any) bool {
	if attrValue == nil || ruleValue == nil {
		return false
	}
	h, ok := operatorHandlers[op]
	if !ok {
		return false
	}
	return h.Check(attrValue, ruleValue)
}

type isHandler struct{}

// Check compares numerically when the attribute carries a number, and as
// strings otherwise.
func (isHandler) Check(attrValue, ruleValue any) bool {
	if isNumber(attrValue) {
		a, _ := toFloat(attrValue)
		b, ok := toFloat(ruleValue)
		return ok && a == b
	}
	return stringify(attrValue) == stringify(ruleValue)
}

// patternHandler anchors the rule value as a case-insensitive regular
// expression at the start or end of the attribute value.
type patternHandler struct {
	suffix bool
}

func (h patternHandler) Check(attrValue, ruleValue any) bool {
	pattern := "(?i)^" + stringify(ruleValue)
	if h.suffix {
		pattern = "(?i)" + stringify(ruleValue) + "$"
	}
	rx, ok := compiledRegex(pattern)
	if !ok {
		return false
	}
	return rx.MatchString(stringify(attrValue))
}

type containsHandler struct{}

func (containsHandler) Check(attrValue, ruleValue any) bool {
	return strings.Contains(stringify(attrValue), stringify(ruleValue))
}

type numericCompareHandler struct {
	cmp func(a, b float64) bool
}

// Check parses both operands as floats; an unparseable operand never
// matches, mirroring NaN comparison semantics.
func (h numericCompareHandler) Check(attrValue, ruleValue any) bool {
	a, ok := toFloat(attrValue)
	if !ok {
		return false
	}
	b, ok := toFloat(ruleValue)
	if !ok {
		return false
	}
	return h.cmp(a, b)
}

func compiledRegex(pattern string) (*regexp.Regexp, bool) {
	if cached, ok := regexCache.Load(pattern); ok {
		rx, ok := cached.(*regexp.Regexp)
		return rx, ok
	}
	rx, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false
	}
	regexCache.Store(pattern, rx)
	return rx, true
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		// Trim the trailing zero so 7.0 compares equal to "7".
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
