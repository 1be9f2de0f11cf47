// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRow(t *testing.T) {
	b := &Backend{}

	assert.NoError(t, b.validateRow(&tableConfiguration{Table: "items"}, Row{"name": "x"}))

	tc := &tableConfiguration{Table: "profiles", SchemaID: "profile.json"}
	err := b.validateRow(tc, Row{"name": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot marshal row")
}

func TestDecodeRows(t *testing.T) {
	rows, err := decodeRows([]byte(` {"name":"Alice"}`))
	require.NoError(t, err)
	assert.Equal(t, []Row{{"name": "Alice"}}, rows)

	rows, err = decodeRows([]byte(`[{"name":"Bob"},{"name":"Eve"}]`))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = decodeRows([]byte(`"name"`))
	assert.Error(t, err)
}
