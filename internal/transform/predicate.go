// Copyright 2026 The dbmigrate Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dbmigrate/migrator/internal/rowdata"
)

// predicateOp enumerates the comparison operators the conditional()
// predicate grammar supports.
type predicateOp string

const (
	opEq        predicateOp = "="
	opNeq       predicateOp = "!="
	opLt        predicateOp = "<"
	opGt        predicateOp = ">"
	opLe        predicateOp = "<="
	opGe        predicateOp = ">="
	opLike      predicateOp = "LIKE"
	opIsNull    predicateOp = "IS NULL"
	opIsNotNull predicateOp = "IS NOT NULL"
)

var comparisonOps = []predicateOp{opLe, opGe, opNeq, opLike, opEq, opLt, opGt}

// EvalPredicate evaluates a single `col op lit` / `col IS NULL` /
// `col IS NOT NULL` / `col LIKE pattern` predicate against row.
func EvalPredicate(predicate string, row rowdata.Row) (bool, error) {
	trimmed := strings.TrimSpace(predicate)
	upper := strings.ToUpper(trimmed)

	if strings.HasSuffix(upper, "IS NOT NULL") {
		col := strings.TrimSpace(trimmed[:len(trimmed)-len("IS NOT NULL")])
		v, ok := row[col]
		if !ok {
			return false, fmt.Errorf("predicate: unknown column %q", col)
		}
		return !v.IsNull(), nil
	}
	if strings.HasSuffix(upper, "IS NULL") {
		col := strings.TrimSpace(trimmed[:len(trimmed)-len("IS NULL")])
		v, ok := row[col]
		if !ok {
			return false, fmt.Errorf("predicate: unknown column %q", col)
		}
		return v.IsNull(), nil
	}

	for _, op := range comparisonOps {
		idx, opText := findOp(trimmed, op)
		if idx < 0 {
			continue
		}
		col := strings.TrimSpace(trimmed[:idx])
		lit := strings.TrimSpace(trimmed[idx+len(opText):])
		lit = strings.Trim(lit, "'\"")
		return evalComparison(row, col, op, lit)
	}

	return false, fmt.Errorf("predicate: unrecognized predicate %q", predicate)
}

// findOp finds the first case-insensitive occurrence of op (or its
// normalized alias "<>") in s, returning its byte index and the exact
// substring matched. LIKE is matched only as a space-delimited word, so a
// column name merely containing those letters does not read as the operator.
func findOp(s string, op predicateOp) (int, string) {
	upper := strings.ToUpper(s)
	if op == opLike {
		idx := strings.Index(upper, " LIKE ")
		if idx < 0 {
			return -1, ""
		}
		return idx + 1, s[idx+1 : idx+1+len(opLike)]
	}
	candidates := []string{string(op)}
	if op == opNeq {
		candidates = append(candidates, "<>")
	}
	for _, c := range candidates {
		idx := strings.Index(upper, c)
		if idx >= 0 {
			return idx, s[idx : idx+len(c)]
		}
	}
	return -1, ""
}

func evalComparison(row rowdata.Row, col string, op predicateOp, lit string) (bool, error) {
	v, ok := row[col]
	if !ok {
		return false, fmt.Errorf("predicate: unknown column %q", col)
	}
	if v.IsNull() {
		return false, nil
	}

	if op == opLike {
		return matchLike(v.AsText(), lit), nil
	}

	// Numeric comparisons require both sides numeric; otherwise lexicographic.
	lf, lIsNum := v.AsFloat()
	var litAsValue = rowdata.Text(lit)
	rf, rIsNum := litAsValue.AsFloat()

	if lIsNum && rIsNum {
		switch op {
		case opEq:
			return lf == rf, nil
		case opNeq:
			return lf != rf, nil
		case opLt:
			return lf < rf, nil
		case opGt:
			return lf > rf, nil
		case opLe:
			return lf <= rf, nil
		case opGe:
			return lf >= rf, nil
		}
	}

	ls, rs := v.AsText(), lit
	switch op {
	case opEq:
		return ls == rs, nil
	case opNeq:
		return ls != rs, nil
	case opLt:
		return ls < rs, nil
	case opGt:
		return ls > rs, nil
	case opLe:
		return ls <= rs, nil
	case opGe:
		return ls >= rs, nil
	}
	return false, fmt.Errorf("predicate: unsupported operator %q", op)
}

// matchLike reports whether s LIKE pattern: the pattern is translated to
// the regex `^pattern$` with `%`->`.*` and `_`->`.`, everything else
// matched literally.
func matchLike(s, pattern string) bool {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
