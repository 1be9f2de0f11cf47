// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package kss_test

import (
	"context"
	"sort"
	"testing"

	"github.com/relabs-tech/testall/core/backend/kss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(objects []kss.Object) []string {
	var result []string
	for _, o := range objects {
		result = append(result, o.Name)
	}
	sort.Strings(result)
	return result
}

func test_PutList(t *testing.T, driver kss.Driver, bucket string) {
	ctx := context.Background()

	objects, err := driver.List(ctx, bucket, "")
	require.NoError(t, err)
	assert.Empty(t, objects)

	object, replaced, err := driver.Put(ctx, bucket, "hello.txt", []byte("hello"), "text/plain", false)
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Equal(t, "hello.txt", object.Key)
	assert.Equal(t, int64(5), object.Size)
	assert.NotEmpty(t, object.ID)

	_, _, err = driver.Put(ctx, bucket, "hello.txt", []byte("again"), "text/plain", false)
	assert.ErrorIs(t, err, kss.ErrExists)

	again, replaced, err := driver.Put(ctx, bucket, "hello.txt", []byte("hello again"), "text/plain", true)
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, object.ID, again.ID)
	assert.Equal(t, int64(11), again.Size)

	_, _, err = driver.Put(ctx, bucket, "docs/a.txt", []byte("a"), "", false)
	require.NoError(t, err)
	_, _, err = driver.Put(ctx, bucket, "docs/deep/b.txt", []byte("b"), "", false)
	require.NoError(t, err)

	objects, err = driver.List(ctx, bucket, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "hello.txt"}, names(objects))
	for _, o := range objects {
		assert.Equal(t, o.Name == "docs", o.IsFolder)
	}

	objects, err = driver.List(ctx, bucket, "docs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "deep"}, names(objects))

	_, _, err = driver.Put(ctx, bucket, "../escape", []byte("x"), "", true)
	assert.ErrorIs(t, err, kss.ErrInvalidKey)
	_, err = driver.List(ctx, bucket, "docs/../..")
	assert.ErrorIs(t, err, kss.ErrInvalidKey)
}
