/*
 *     Copyright 2023 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package tracker

import (
	"strconv"
	"strings"
	"unicode"

	"d7y.io/aiops/internal/dferrors"
)

// Scope is what a predicate compares.
type Scope string

const (
	ScopeTag    Scope = "tags"
	ScopeMetric Scope = "metrics"
)

// Operator of a predicate. Tags only support equality.
type Operator string

const (
	OperatorEqual        Operator = "="
	OperatorNotEqual     Operator = "!="
	OperatorGreater      Operator = ">"
	OperatorGreaterEqual Operator = ">="
	OperatorLess         Operator = "<"
	OperatorLessEqual    Operator = "<="
)

// Predicate is one comparison of a filter.
type Predicate struct {
	Scope    Scope
	Key      string
	Operator Operator
	Value    string
	Number   float64
}

// Filter is an AND of predicates, the empty filter matches every run.
type Filter []Predicate

// ParseFilter parses expressions such as
// "tags.model_kind = 'regressor' AND metrics.rmse < 4.5".
func ParseFilter(s string) (Filter, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var filter Filter
	for _, clause := range splitAnd(s) {
		predicate, err := parsePredicate(clause)
		if err != nil {
			return nil, err
		}

		filter = append(filter, predicate)
	}

	return filter, nil
}

// splitAnd splits on the AND keyword outside quotes.
func splitAnd(s string) []string {
	var (
		clauses []string
		quote   rune
		start   int
	)
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case i+5 <= len(s) && strings.EqualFold(s[i:i+5], " and ") && i > start:
			clauses = append(clauses, s[start:i])
			start = i + 5
		}
	}

	return append(clauses, s[start:])
}

func parsePredicate(clause string) (Predicate, error) {
	clause = strings.TrimSpace(clause)
	i := strings.IndexAny(clause, "=!<>")
	if i <= 0 {
		return Predicate{}, dferrors.Newf(dferrors.KindInvalidFilter, "predicate %q has no operator", clause)
	}

	j := i + 1
	if j < len(clause) && clause[j] == '=' {
		j++
	}

	predicate := Predicate{Operator: Operator(clause[i:j])}
	switch predicate.Operator {
	case OperatorEqual, OperatorNotEqual, OperatorGreater, OperatorGreaterEqual, OperatorLess, OperatorLessEqual:
	default:
		return Predicate{}, dferrors.Newf(dferrors.KindInvalidFilter, "unknown operator %q", predicate.Operator)
	}

	identifier := strings.TrimSpace(clause[:i])
	scope, key, ok := strings.Cut(identifier, ".")
	if !ok || key == "" || strings.IndexFunc(key, unicode.IsSpace) >= 0 {
		return Predicate{}, dferrors.Newf(dferrors.KindInvalidFilter, "identifier %q must be tags.<name> or metrics.<name>", identifier)
	}

	predicate.Scope, predicate.Key = Scope(scope), key
	value := strings.TrimSpace(clause[j:])
	if value == "" {
		return Predicate{}, dferrors.Newf(dferrors.KindInvalidFilter, "predicate %q has no value", clause)
	}

	switch predicate.Scope {
	case ScopeTag:
		if predicate.Operator != OperatorEqual {
			return Predicate{}, dferrors.Newf(dferrors.KindInvalidFilter, "tag %s only supports equality", key)
		}

		unquoted, err := unquote(value)
		if err != nil {
			return Predicate{}, err
		}
		predicate.Value = unquoted
	case ScopeMetric:
		number, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Predicate{}, dferrors.Newf(dferrors.KindInvalidFilter, "metric %s compares against %q, not a number", key, value)
		}
		predicate.Value, predicate.Number = value, number
	default:
		return Predicate{}, dferrors.Newf(dferrors.KindInvalidFilter, "unknown scope %q", scope)
	}

	return predicate, nil
}

func unquote(value string) (string, error) {
	if len(value) >= 2 && (value[0] == '\'' || value[0] == '"') {
		if value[len(value)-1] != value[0] {
			return "", dferrors.Newf(dferrors.KindInvalidFilter, "unterminated string %s", value)
		}

		return value[1 : len(value)-1], nil
	}

	return value, nil
}

// Match reports whether a run satisfies every predicate. A run without
// the compared metric or tag does not match.
func (f Filter) Match(run *Run) bool {
	for _, p := range f {
		switch p.Scope {
		case ScopeTag:
			if v, ok := run.Tags[p.Key]; !ok || v != p.Value {
				return false
			}
		case ScopeMetric:
			v, ok := run.Metrics[p.Key]
			if !ok || !compare(v, p.Operator, p.Number) {
				return false
			}
		}
	}

	return true
}

func compare(v float64, op Operator, target float64) bool {
	switch op {
	case OperatorEqual:
		return v == target
	case OperatorNotEqual:
		return v != target
	case OperatorGreater:
		return v > target
	case OperatorGreaterEqual:
		return v >= target
	case OperatorLess:
		return v < target
	case OperatorLessEqual:
		return v <= target
	default:
		return false
	}
}

// Order sorts runs by a metric.
type Order struct {
	Metric     string
	Descending bool
}

// ParseOrder parses "metrics.auc DESC", "rmse" or "rmse asc".
func ParseOrder(s string) (*Order, error) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 0:
		return nil, nil
	case 1, 2:
	default:
		return nil, dferrors.Newf(dferrors.KindInvalidFilter, "order %q must be a metric and a direction", s)
	}

	order := &Order{Metric: strings.TrimPrefix(fields[0], string(ScopeMetric)+".")}
	if order.Metric == "" {
		return nil, dferrors.Newf(dferrors.KindInvalidFilter, "order %q has no metric", s)
	}

	if len(fields) == 2 {
		switch strings.ToUpper(fields[1]) {
		case "ASC":
		case "DESC":
			order.Descending = true
		default:
			return nil, dferrors.Newf(dferrors.KindInvalidFilter, "unknown order direction %q", fields[1])
		}
	}

	return order, nil
}
