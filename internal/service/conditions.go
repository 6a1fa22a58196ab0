package service

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pesio-ai/be-approval-routing/internal/repository"
)

// Subject is the business record a workflow routes. Nested records are maps.
type Subject = map[string]interface{}

// lookupField walks a dot-separated path. ok is false when any segment is
// missing; numeric segments index into slices.
func lookupField(subject Subject, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	var current interface{} = subject
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			v, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = v
		case map[string]string:
			v, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = v
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// evaluateCondition applies one condition to a subject.
func evaluateCondition(subject Subject, cond repository.ApprovalCondition) bool {
	actual, present := lookupField(subject, cond.Field)
	if !present {
		return cond.Operator == repository.OpEq && cond.Value == repository.UndefinedValue
	}
	if cond.Value == repository.UndefinedValue {
		return false
	}

	switch cond.Operator {
	case repository.OpEq:
		return valuesEqual(actual, cond.Value)
	case repository.OpGt:
		c, ok := compareValues(actual, cond.Value)
		return ok && c > 0
	case repository.OpLt:
		c, ok := compareValues(actual, cond.Value)
		return ok && c < 0
	case repository.OpGte:
		c, ok := compareValues(actual, cond.Value)
		return ok && c >= 0
	case repository.OpLte:
		c, ok := compareValues(actual, cond.Value)
		return ok && c <= 0
	case repository.OpIn:
		return memberOf(actual, cond.Value)
	case repository.OpContains:
		return strings.Contains(fmt.Sprint(actual), fmt.Sprint(cond.Value))
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		return ab == bb
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return false
}

// compareValues orders two values of the same kind. Numbers of any Go
// numeric type compare numerically, strings lexically and times
// chronologically. ok is false for any other combination.
func compareValues(a, b interface{}) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// memberOf reports whether actual equals any element of the slice or array
// set. A non-sequence set never matches.
func memberOf(actual, set interface{}) bool {
	if set == nil {
		return false
	}
	rv := reflect.ValueOf(set)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if valuesEqual(actual, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}
