// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package backend implements the local development backend

The backend serves the same REST surface as the hosted backend the test-all panel talks to,
so the panel can be developed and tested without an account. It provides

  - /auth/v1: sign up, password login, current user and logout with JWT access tokens
  - /rest/v1/<table>: select and insert rows of configured tables
  - /storage/v1/object: list and upload objects of configured buckets

Every request must carry the anon key, either as apikey header or as apikey query parameter.

Configuration

The configuration is done entirely via JSON. It consists of tables and buckets.

Example:
  {
	"tables": [
	  {
		"table": "profiles",
		"columns": ["name"],
		"schema_id": "https://testall.local/schemas/profile.json"
	  }
	],
	"buckets": [
	  {
		"bucket": "files",
		"max_object_size": 10485760
	  }
	]
  }

Columns are stored as json, every table has an additional bigserial "id". Rows of tables with
a schema_id are validated against that JSON schema before they are inserted.

Notifications

Created accounts, inserted rows and uploaded objects are reported to the optional Notifier.
The resource is "account", the table name, or "storage/<bucket>".
*/
package backend
