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
	"strconv"
	"strings"
	"time"

	"github.com/dbmigrate/migrator/internal/rowdata"
)

// dotnetToGoLayout translates the small set of .NET custom date-format
// tokens this engine accepts in sourceDateFormat/sourceFormat into a Go
// time layout string. Only the tokens actually used by migration table-maps
// in practice are supported; anything else is copied into the layout
// unchanged. ISO-8601 parsing applies only when no format is given.
func dotnetToGoLayout(format string) string {
	replacer := strings.NewReplacer(
		"yyyy", "2006", "yy", "06",
		"MM", "01", "dd", "02",
		"HH", "15", "mm", "04", "ss", "05",
		"fff", "000",
	)
	return replacer.Replace(format)
}

func parseDateTime(text, format string) (time.Time, error) {
	if format != "" {
		return time.Parse(dotnetToGoLayout(format), text)
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("convert(): %q does not parse as ISO-8601", text)
}

// ConvertValue implements the convert() variant's parse-into-target-type
// contract. ok is false when parsing failed (caller substitutes
// nullDefault or null, plus a row-level warning).
func ConvertValue(v rowdata.Value, sourceFormat, targetType string) (out rowdata.Value, ok bool) {
	if v.IsNull() {
		return rowdata.Null(), true
	}
	text := v.AsText()

	switch strings.ToLower(targetType) {
	case "datetime", "datetime2", "smalldatetime", "date":
		t, err := parseDateTime(text, sourceFormat)
		if err != nil {
			return rowdata.Value{}, false
		}
		if strings.ToLower(targetType) == "date" {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		}
		return rowdata.DateTime(t), true
	case "int", "bigint":
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return rowdata.Value{}, false
		}
		return rowdata.Int(n), true
	case "decimal", "float":
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return rowdata.Value{}, false
		}
		return rowdata.Decimal(strconv.FormatFloat(f, 'f', -1, 64)), true
	case "bit":
		t := strings.TrimSpace(strings.ToLower(text))
		switch t {
		case "1", "true", "yes":
			return rowdata.Bool(true), true
		case "0", "false", "no":
			return rowdata.Bool(false), true
		default:
			return rowdata.Value{}, false
		}
	case "varchar", "nvarchar":
		return rowdata.Text(text), true
	case "uniqueidentifier":
		return rowdata.UUID(strings.TrimSpace(text)), true
	default:
		return rowdata.Value{}, false
	}
}
