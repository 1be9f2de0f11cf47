// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import "context"

// Notifier is an interface to receive resource notifications.
//
// resource is the table name for rows, "account" for accounts and
// "storage/{bucket}" for objects. The payload is the JSON representation
// of the created or updated resource.
type Notifier interface {
	Notify(ctx context.Context, resource string, operation Operation, payload []byte) error
}
