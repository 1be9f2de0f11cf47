// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestOperations_JSON_Unmarshalling(t *testing.T) {

	type Object struct {
		Operations []Operation `json:"operations"`
	}
	var object Object
	jsonRead := `{"operations":["create","read","update","list"]}`
	err := json.Unmarshal([]byte(jsonRead), &object)
	if err != nil {
		t.Fatal(err)
	}
	if len(object.Operations) != 4 || object.Operations[3] != OperationList {
		t.Fatal("unexpected operations:", object.Operations)
	}

	jsonRead = `{"operations":["invalid"]}`
	err = json.Unmarshal([]byte(jsonRead), &object)
	if err == nil {
		t.Fatal("invalid operation accepted")
	}
}
