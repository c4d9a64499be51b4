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
package cursor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmigrate/migrator/internal/rowdata"
	"github.com/dbmigrate/migrator/internal/sources"
)

// fakeAdapter serves fixed rows for ReadBatch and panics on any other
// method, so a test relying on unrelated adapter behavior fails loudly.
type fakeAdapter struct {
	sources.Adapter
	rows []rowdata.Row
}

func (f *fakeAdapter) ReadBatch(_ context.Context, _, _, batchColumn string, size int, after *rowdata.Value) ([]rowdata.Row, error) {
	var page []rowdata.Row
	for _, r := range f.rows {
		if after != nil && r[batchColumn].Int() <= after.Int() {
			continue
		}
		page = append(page, r)
		if size > 0 && len(page) == size {
			break
		}
	}
	return page, nil
}

func rowsOf(keys ...int64) []rowdata.Row {
	out := make([]rowdata.Row, len(keys))
	for i, k := range keys {
		out[i] = rowdata.Row{"id": rowdata.Int(k)}
	}
	return out
}

// Page size 2 over keys [1,2,3,4,5], resuming after key 4: only key 5
// remains.
func TestResumeContinuesAfterLastAcknowledgedKey(t *testing.T) {
	adapter := &fakeAdapter{rows: rowsOf(1, 2, 3, 4, 5)}
	resumeKey := rowdata.Int(4)

	c := New(adapter, "dbo", "T", "id", 2, &resumeKey)

	page, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(5), page[0]["id"].Int())
	assert.True(t, c.Done())
}

func TestPagesUntilShortPage(t *testing.T) {
	adapter := &fakeAdapter{rows: rowsOf(1, 2, 3, 4, 5)}
	c := New(adapter, "dbo", "T", "id", 2, nil)

	var all []rowdata.Row
	for !c.Done() {
		page, err := c.Next(context.Background())
		require.NoError(t, err)
		all = append(all, page...)
	}
	require.Len(t, all, 5)
	assert.Equal(t, int64(5), all[len(all)-1]["id"].Int())
}

func TestUnpagedReadsEntireTableOnce(t *testing.T) {
	adapter := &fakeAdapter{rows: rowsOf(1, 2, 3)}
	c := New(adapter, "dbo", "T", "id", 0, nil)

	page, err := c.Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.True(t, c.Done())
}
