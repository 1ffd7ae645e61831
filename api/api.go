// Package api содержит встроенную OpenAPI-спецификацию сервиса,
// которую роутер отдаёт по /swagger/openapi.json.
package api

import _ "embed"

//go:embed openapi.json
var OpenAPISpec []byte
