// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package baas defines the client contract of a hosted backend-as-a-service and its REST implementation.

A backend-as-a-service offers three capabilities, each behind its own interface:

	Auth     account creation, password login, current user lookup and logout
	Table    select and insert on a relational table
	Bucket   list and upload on an object storage bucket

Client hands them out. Code depending on the backend should accept a Client, so tests can
inject a fake and production code can inject REST.

Access Tokens

The handle itself is stateless and long lived. The access token of the calling user travels in
the request context:

	ctx = baas.ContextWithAccessToken(ctx, session.AccessToken)
	user, err := client.Auth().CurrentUser(ctx)

Without a token, requests are made with the public anon key.

REST Surface

REST speaks the following routes, relative to the service URL:

	POST /auth/v1/signup                      {"email","password"}
	POST /auth/v1/token?grant_type=password   {"email","password"}
	GET  /auth/v1/user
	POST /auth/v1/logout
	GET  /rest/v1/{table}?select=*
	POST /rest/v1/{table}?select=*            Prefer: return=representation
	POST /storage/v1/object/list/{bucket}     {"prefix","limit","offset","sortBy":{"column","order"}}
	POST /storage/v1/object/{bucket}/{name}   x-upsert: true|false

Every request carries the anon key in the "apikey" header and a bearer token in the
Authorization header. Backend errors are returned as *Error.
*/
package baas
