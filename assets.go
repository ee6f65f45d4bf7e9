package assets

import "embed"

//go:embed migrations/*.sql
var MigrationsFS embed.FS

//go:embed targets.yml
var DefaultTargets []byte
