// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"fmt"
	"regexp"
)

// Configuration holds a complete backend configuration
type Configuration struct {
	Tables  []tableConfiguration  `json:"tables"`
	Buckets []bucketConfiguration `json:"buckets"`
}

// tableConfiguration describes a relational table. Every table has a generated
// bigint column "id" in addition to its columns.
type tableConfiguration struct {
	Table       string   `json:"table"`
	Columns     []string `json:"columns"`
	SchemaID    string   `json:"schema_id"`
	Description string   `json:"description"`
}

// bucketConfiguration describes a storage bucket
type bucketConfiguration struct {
	Bucket      string `json:"bucket"`
	Description string `json:"description"`
	// MaxObjectSize is the maximum upload size in bytes, defaults to DefaultMaxObjectSize
	MaxObjectSize int64 `json:"max_object_size"`
}

// DefaultMaxObjectSize is the default upload limit of a bucket
const DefaultMaxObjectSize = 50 << 20

var (
	validIdentifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	validBucket     = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
)

func (c *Configuration) validate() error {
	tables := map[string]bool{}
	for _, t := range c.Tables {
		if !validIdentifier.MatchString(t.Table) {
			return fmt.Errorf("invalid table name '%s'", t.Table)
		}
		if tables[t.Table] {
			return fmt.Errorf("duplicate table '%s'", t.Table)
		}
		tables[t.Table] = true
		columns := map[string]bool{}
		for _, column := range t.Columns {
			if !validIdentifier.MatchString(column) || column == "id" {
				return fmt.Errorf("invalid column '%s' in table '%s'", column, t.Table)
			}
			if columns[column] {
				return fmt.Errorf("duplicate column '%s' in table '%s'", column, t.Table)
			}
			columns[column] = true
		}
	}
	buckets := map[string]bool{}
	for _, b := range c.Buckets {
		if !validBucket.MatchString(b.Bucket) {
			return fmt.Errorf("invalid bucket name '%s'", b.Bucket)
		}
		if buckets[b.Bucket] {
			return fmt.Errorf("duplicate bucket '%s'", b.Bucket)
		}
		buckets[b.Bucket] = true
	}
	return nil
}
