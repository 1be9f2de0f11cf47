// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package kss stores the objects of storage buckets outside of the database.
//
// There are two drivers: a local file system and AWS S3. Both keep the objects of one
// bucket under a common key prefix named after the bucket.
package kss

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Driver defines the interface for the KSS service
type Driver interface {
	// List returns the entries directly below prefix in bucket, in no particular order. Deeper
	// objects show up as a single folder entry.
	List(ctx context.Context, bucket, prefix string) ([]Object, error)
	// Put stores data under key. If the object exists and overwrite is false, Put fails with ErrExists.
	// replaced reports whether an existing object was overwritten.
	Put(ctx context.Context, bucket, key string, data []byte, contentType string, overwrite bool) (object *Object, replaced bool, err error)
}

// Object describes a stored object or, with IsFolder, a folder of objects
type Object struct {
	Key         string
	Name        string
	ID          string
	IsFolder    bool
	Size        int64
	ContentType string
	ETag        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Errors returned by the drivers
var (
	ErrExists       = errors.New("The resource already exists")
	ErrNoSuchBucket = errors.New("Bucket not found")
	ErrInvalidKey   = errors.New("Invalid key")
)

// DriverType represents the different type of KSS Drivers
type DriverType string

// DriverTypeLocal is the local filesystem implementation of the KSS service
const DriverTypeLocal DriverType = "Local"

// DriverTypeAWSS3 is the AWS S3 implementation of the KSS service
const DriverTypeAWSS3 DriverType = "AWSS3"

// Configuration contains the configuration for the KSS service
type Configuration struct {
	DriverType         DriverType
	LocalConfiguration *LocalConfiguration
	S3Configuration    *S3Configuration
}

// LocalConfiguration contains the configuration for the local filesystem KSS service
type LocalConfiguration struct {
	BasePath string
}

// New returns the driver selected by the configuration
func New(ctx context.Context, config Configuration) (Driver, error) {
	switch config.DriverType {
	case DriverTypeLocal:
		if config.LocalConfiguration == nil {
			return nil, fmt.Errorf("missing local configuration")
		}
		return NewLocalFilesystem(*config.LocalConfiguration)
	case DriverTypeAWSS3:
		if config.S3Configuration == nil {
			return nil, fmt.Errorf("missing S3 configuration")
		}
		return NewS3(ctx, *config.S3Configuration)
	}
	return nil, fmt.Errorf("unsupported kss driver '%s'", config.DriverType)
}

// CleanKey validates an object key and strips leading and trailing slashes. Keys with
// empty, "." or ".." segments are rejected with ErrInvalidKey.
func CleanKey(key string) (string, error) {
	key = strings.Trim(key, "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." || strings.ContainsAny(segment, "\\\x00") {
			return "", ErrInvalidKey
		}
	}
	return key, nil
}

// cleanPrefix is CleanKey for list prefixes, which may be empty. A non empty result ends with a slash.
func cleanPrefix(prefix string) (string, error) {
	if strings.Trim(prefix, "/") == "" {
		return "", nil
	}
	p, err := CleanKey(prefix)
	if err != nil {
		return "", err
	}
	return p + "/", nil
}

// collapse turns the objects below a prefix into the entries directly below it
func collapse(prefix string, objects []Object) []Object {
	var entries []Object
	folders := map[string]bool{}
	for _, o := range objects {
		rest := strings.TrimPrefix(o.Key, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			name := rest[:i]
			if !folders[name] {
				folders[name] = true
				entries = append(entries, Object{Key: prefix + name, Name: name, IsFolder: true})
			}
			continue
		}
		o.Name = rest
		entries = append(entries, o)
	}
	return entries
}
