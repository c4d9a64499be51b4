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

// Package cursor implements the Batch Cursor (C5): ordered, resumable
// page-at-a-time reads from a source table keyed by a chosen batch column.
package cursor

import (
	"context"
	"fmt"

	"github.com/dbmigrate/migrator/internal/rowdata"
	"github.com/dbmigrate/migrator/internal/sources"
)

// Cursor yields pages of a source table in ascending batch-column order.
// One Cursor is used for exactly one table's migration; it is not safe for
// concurrent use, matching the engine's single-threaded-per-table model.
type Cursor struct {
	adapter     sources.Adapter
	schema      string
	table       string
	batchColumn string
	size        int

	after   *rowdata.Value
	done    bool
	unpaged bool // size == 0: the whole table is read in one page, then done
}

// New constructs a Cursor. resumeKey, when non-nil, seeds the cursor so the
// first page only returns rows strictly greater than it; a nil resumeKey
// means "from the beginning".
func New(adapter sources.Adapter, schema, table, batchColumn string, size int, resumeKey *rowdata.Value) *Cursor {
	return &Cursor{
		adapter:     adapter,
		schema:      schema,
		table:       table,
		batchColumn: batchColumn,
		size:        size,
		after:       resumeKey,
		unpaged:     size == 0,
	}
}

// Done reports whether the cursor has no further pages to offer.
func (c *Cursor) Done() bool { return c.done }

// Next fetches the next page. It returns a nil slice and a nil error, with
// c.Done() == true, once exhausted; callers should stop looping at that
// point rather than treating an empty page specially.
func (c *Cursor) Next(ctx context.Context) ([]rowdata.Row, error) {
	if c.done {
		return nil, nil
	}

	size := c.size
	if c.unpaged {
		size = 0
	}

	rows, err := c.adapter.ReadBatch(ctx, c.schema, c.table, c.batchColumn, size, c.after)
	if err != nil {
		return nil, fmt.Errorf("cursor: read batch %s.%s: %w", c.schema, c.table, err)
	}

	if c.unpaged {
		// A single non-paged read always exhausts the table.
		c.done = true
		return rows, nil
	}

	// Terminates when a fetched page is shorter than size.
	if len(rows) < size {
		c.done = true
	}
	if len(rows) > 0 {
		last := rows[len(rows)-1][c.batchColumn]
		c.after = &last
	}
	return rows, nil
}
