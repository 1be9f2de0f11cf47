// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/testall/core"
	"github.com/relabs-tech/testall/core/backend/kss"
	"github.com/relabs-tech/testall/core/logger"
)

type listRequest struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	SortBy struct {
		Column string `json:"column"`
		Order  string `json:"order"`
	} `json:"sortBy"`
	Search string `json:"search"`
}

type objectMetadata struct {
	ETag          string    `json:"eTag"`
	Size          int64     `json:"size"`
	Mimetype      string    `json:"mimetype"`
	LastModified  time.Time `json:"lastModified"`
	ContentLength int64     `json:"contentLength"`
}

type objectResponse struct {
	Name      string          `json:"name"`
	ID        *string         `json:"id"`
	UpdatedAt *time.Time      `json:"updated_at"`
	CreatedAt *time.Time      `json:"created_at"`
	Metadata  *objectMetadata `json:"metadata"`
}

type uploadResponse struct {
	Key string `json:"Key"`
	ID  string `json:"Id"`
}

type objectNotification struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ID          string `json:"id"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// MaxListLimit is the largest page size of a storage listing
const MaxListLimit = 1000

func (b *Backend) handleStorageRoutes(router *mux.Router) {
	rlog := logger.Default()
	for _, bc := range b.config.Buckets {
		rlog.Debugln("bucket:", bc.Bucket)
		rlog.Debugln("  handle storage route: /storage/v1/object/list/"+bc.Bucket, "POST")
		rlog.Debugln("  handle storage route: /storage/v1/object/"+bc.Bucket+"/{name}", "POST")
	}
	// the list route must come first, it would otherwise match as an upload to bucket "list"
	router.Handle("/object/list/{bucket}", handlers.CompressHandler(http.HandlerFunc(b.listObjects))).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/object/{bucket}/{name:.+}", b.uploadObject).Methods(http.MethodOptions, http.MethodPost)
}

func (b *Backend) bucketFromRequest(w http.ResponseWriter, r *http.Request) (*bucketConfiguration, bool) {
	bc, ok := b.bucketConfigs[mux.Vars(r)["bucket"]]
	if !ok {
		writeStorageError(w, http.StatusNotFound, "Bucket not found", kss.ErrNoSuchBucket.Error())
		return nil, false
	}
	return bc, true
}

func (b *Backend) listObjects(w http.ResponseWriter, r *http.Request) {
	bc, ok := b.bucketFromRequest(w, r)
	if !ok {
		return
	}
	var req listRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil && err != io.EOF {
		writeStorageError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}
	if req.Limit > MaxListLimit {
		req.Limit = MaxListLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	less, err := objectOrder(req.SortBy.Column, req.SortBy.Order)
	if err != nil {
		writeStorageError(w, http.StatusBadRequest, "Invalid Input", err.Error())
		return
	}

	objects, err := b.kss.List(r.Context(), bc.Bucket, req.Prefix)
	if errors.Is(err, kss.ErrInvalidKey) {
		writeStorageError(w, http.StatusBadRequest, "InvalidKey", "Invalid prefix: "+req.Prefix)
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorf("Error 5130: cannot list bucket %s", bc.Bucket)
		writeStorageError(w, http.StatusInternalServerError, "Internal", "Error 5130")
		return
	}

	if req.Search != "" {
		filtered := objects[:0]
		for _, o := range objects {
			if strings.Contains(strings.ToLower(o.Name), strings.ToLower(req.Search)) {
				filtered = append(filtered, o)
			}
		}
		objects = filtered
	}
	sort.SliceStable(objects, func(i, j int) bool { return less(objects[i], objects[j]) })

	page := []objectResponse{}
	for i := req.Offset; i < len(objects) && len(page) < req.Limit; i++ {
		page = append(page, newObjectResponse(objects[i]))
	}
	writeJSON(w, http.StatusOK, page)
}

// objectOrder returns the comparison for a sort column and order. The name breaks ties.
func objectOrder(column, order string) (func(a, b kss.Object) bool, error) {
	var key func(a, b kss.Object) int
	switch column {
	case "", "name":
		key = func(a, b kss.Object) int { return strings.Compare(a.Name, b.Name) }
	case "created_at":
		key = func(a, b kss.Object) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case "updated_at":
		key = func(a, b kss.Object) int { return a.UpdatedAt.Compare(b.UpdatedAt) }
	default:
		return nil, errors.New("invalid sort column: " + column)
	}
	var descending bool
	switch strings.ToLower(order) {
	case "", "asc":
	case "desc":
		descending = true
	default:
		return nil, errors.New("invalid sort order: " + order)
	}
	return func(a, b kss.Object) bool {
		c := key(a, b)
		if c == 0 {
			c = strings.Compare(a.Name, b.Name)
		}
		if descending {
			return c > 0
		}
		return c < 0
	}, nil
}

func newObjectResponse(o kss.Object) objectResponse {
	response := objectResponse{Name: o.Name}
	if o.IsFolder {
		return response
	}
	id, created, updated := o.ID, o.CreatedAt, o.UpdatedAt
	response.ID = &id
	response.CreatedAt = &created
	response.UpdatedAt = &updated
	response.Metadata = &objectMetadata{
		ETag:          `"` + o.ETag + `"`,
		Size:          o.Size,
		Mimetype:      o.ContentType,
		LastModified:  o.UpdatedAt,
		ContentLength: o.Size,
	}
	return response
}

func (b *Backend) uploadObject(w http.ResponseWriter, r *http.Request) {
	bc, ok := b.bucketFromRequest(w, r)
	if !ok {
		return
	}
	rlog := logger.FromContext(r.Context())
	name := mux.Vars(r)["name"]
	upsert := strings.EqualFold(r.Header.Get("x-upsert"), "true")
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, bc.MaxObjectSize))
	if err != nil {
		writeStorageError(w, http.StatusRequestEntityTooLarge, "Payload too large", "The object exceeded the maximum allowed size")
		return
	}

	object, replaced, err := b.kss.Put(r.Context(), bc.Bucket, name, data, contentType, upsert)
	switch {
	case errors.Is(err, kss.ErrExists):
		writeStorageError(w, http.StatusConflict, "Duplicate", err.Error())
		return
	case errors.Is(err, kss.ErrInvalidKey):
		writeStorageError(w, http.StatusBadRequest, "InvalidKey", "Invalid key: "+name)
		return
	case err != nil:
		rlog.WithError(err).Errorf("Error 5131: cannot store %s in bucket %s", name, bc.Bucket)
		writeStorageError(w, http.StatusInternalServerError, "Internal", "Error 5131")
		return
	}

	operation := core.OperationCreate
	if replaced {
		operation = core.OperationUpdate
	}
	b.notify(r, "storage/"+bc.Bucket, operation, objectNotification{
		Bucket:      bc.Bucket,
		Name:        object.Key,
		ID:          object.ID,
		Size:        object.Size,
		ContentType: object.ContentType,
	})
	rlog.Infof("stored %s in bucket %s (%d bytes)", object.Key, bc.Bucket, object.Size)
	writeJSON(w, http.StatusOK, uploadResponse{Key: bc.Bucket + "/" + object.Key, ID: object.ID})
}
