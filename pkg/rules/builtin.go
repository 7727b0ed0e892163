package rules

import "embed"

//go:embed rulesets/*.yaml
var builtinFS embed.FS
