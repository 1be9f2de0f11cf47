// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package kss_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/relabs-tech/testall/core/backend/kss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Local_PutList(t *testing.T) {
	f, err := kss.NewLocalFilesystem(kss.LocalConfiguration{BasePath: t.TempDir()})
	require.NoError(t, err)
	test_PutList(t, f, "test-bucket")
}

func Test_Local_Layout(t *testing.T) {
	dir := t.TempDir()
	driver, err := kss.New(context.Background(), kss.Configuration{
		DriverType:         kss.DriverTypeLocal,
		LocalConfiguration: &kss.LocalConfiguration{BasePath: dir},
	})
	require.NoError(t, err)

	_, _, err = driver.Put(context.Background(), "test-bucket", "/folder/data.bin", []byte{1, 2, 3}, "", false)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "test-bucket", "folder", "data.bin", "file"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	_, _, err = driver.Put(context.Background(), "test-bucket", "folder/file", []byte{1}, "", false)
	assert.ErrorIs(t, err, kss.ErrInvalidKey)
}

func Test_New_Unsupported(t *testing.T) {
	_, err := kss.New(context.Background(), kss.Configuration{DriverType: "FTP"})
	assert.Error(t, err)
	_, err = kss.New(context.Background(), kss.Configuration{DriverType: kss.DriverTypeLocal})
	assert.Error(t, err)
}

func Test_CleanKey(t *testing.T) {
	key, err := kss.CleanKey("/a/b/")
	require.NoError(t, err)
	assert.Equal(t, "a/b", key)
	for _, invalid := range []string{"", "/", "a//b", "a/../b", "./a", `a\b`} {
		_, err = kss.CleanKey(invalid)
		assert.ErrorIs(t, err, kss.ErrInvalidKey, invalid)
	}
}
