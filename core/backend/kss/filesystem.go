// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package kss

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/relabs-tech/testall/core/logger"
)

// LocalFilesystem is the entity which provides local filesystem storage.
//
// Every object is a folder baseFolder/bucket/key containing the data in "file" and
// its metadata in "meta.json".
type LocalFilesystem struct {
	baseFolder string
	mutex      sync.Mutex
	now        func() time.Time
}

type localMeta struct {
	ID          string    `json:"id"`
	ContentType string    `json:"content_type"`
	ETag        string    `json:"etag"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	localDataFile = "file"
	localMetaFile = "meta.json"
)

var _ Driver = (*LocalFilesystem)(nil)

// NewLocalFilesystem returns a new LocalFilesystem. The base folder is created if it does not exist.
func NewLocalFilesystem(config LocalConfiguration) (*LocalFilesystem, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("BasePath must not be empty")
	}
	if err := os.MkdirAll(config.BasePath, 0700); err != nil {
		return nil, fmt.Errorf("cannot create base folder: %w", err)
	}
	logger.Default().Debugln("KSS local filesystem enabled in", config.BasePath)
	return &LocalFilesystem{baseFolder: config.BasePath, now: time.Now}, nil
}

func (f *LocalFilesystem) objectFolder(bucket, key string) string {
	return filepath.Join(f.baseFolder, bucket, filepath.FromSlash(key))
}

// List returns the entries directly below prefix
func (f *LocalFilesystem) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	if _, err := CleanKey(bucket); err != nil {
		return nil, ErrNoSuchBucket
	}
	prefix, err := cleanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()

	bucketFolder := filepath.Join(f.baseFolder, bucket)
	root := filepath.Join(bucketFolder, filepath.FromSlash(prefix))
	var objects []Object
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || d.Name() != localDataFile {
			return nil
		}
		folder := filepath.Dir(path)
		rel, err := filepath.Rel(bucketFolder, folder)
		if err != nil {
			return err
		}
		meta, err := readLocalMeta(folder)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Warnln("skipping object without metadata:", folder)
			return nil
		}
		objects = append(objects, meta.object(filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot list %s/%s: %w", bucket, prefix, err)
	}
	return collapse(prefix, objects), nil
}

// Put stores data under key
func (f *LocalFilesystem) Put(ctx context.Context, bucket, key string, data []byte, contentType string, overwrite bool) (*Object, bool, error) {
	if _, err := CleanKey(bucket); err != nil {
		return nil, false, ErrNoSuchBucket
	}
	key, err := CleanKey(key)
	if err != nil {
		return nil, false, err
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == localDataFile || segment == localMetaFile {
			return nil, false, ErrInvalidKey
		}
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()

	folder := f.objectFolder(bucket, key)
	now := f.now().UTC()
	sum := md5.Sum(data)
	meta := localMeta{
		ID:          uuid.New().String(),
		ContentType: contentType,
		ETag:        hex.EncodeToString(sum[:]),
		Size:        int64(len(data)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	existing, err := readLocalMeta(folder)
	replaced := err == nil
	if replaced {
		if !overwrite {
			return nil, false, ErrExists
		}
		meta.ID = existing.ID
		meta.CreatedAt = existing.CreatedAt
	}

	if err = os.MkdirAll(folder, 0700); err != nil {
		return nil, false, fmt.Errorf("cannot create folder for '%s': %w", key, err)
	}
	if err = writeFileAtomic(folder, localDataFile, data); err != nil {
		return nil, false, err
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return nil, false, err
	}
	if err = writeFileAtomic(folder, localMetaFile, metaData); err != nil {
		return nil, false, err
	}
	logger.FromContext(ctx).Infof("Filesystem: stored %s/%s (%d bytes)", bucket, key, len(data))
	object := meta.object(key)
	return &object, replaced, nil
}

func (m localMeta) object(key string) Object {
	return Object{
		Key:         key,
		Name:        key[strings.LastIndex(key, "/")+1:],
		ID:          m.ID,
		Size:        m.Size,
		ContentType: m.ContentType,
		ETag:        m.ETag,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func readLocalMeta(folder string) (*localMeta, error) {
	data, err := os.ReadFile(filepath.Join(folder, localMetaFile))
	if err != nil {
		return nil, err
	}
	meta := &localMeta{}
	if err = json.Unmarshal(data, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func writeFileAtomic(folder, name string, data []byte) error {
	tmp, err := os.CreateTemp(folder, "."+name+"-*")
	if err != nil {
		return fmt.Errorf("cannot create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot write %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("cannot write %s: %w", name, err)
	}
	if err = os.Rename(tmp.Name(), filepath.Join(folder, name)); err != nil {
		return fmt.Errorf("cannot write %s: %w", name, err)
	}
	return nil
}
