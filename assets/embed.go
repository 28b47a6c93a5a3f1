package assets

import _ "embed"

// Universe is the default instrument universe, used when IDEAS_UNIVERSE_PATH is unset.
//
//go:embed universe.yml
var Universe []byte
