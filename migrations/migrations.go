// Package migrations embute o esquema SQL aplicado no boot do core-service.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
