// Package configs provides the embedded configuration template for docpipe.
//
// The template is embedded at build time with //go:embed so it ships with
// every binary. `docpipe init` writes it to docpipe.yaml in the working
// directory; internal/config.Load then layers DOCPIPE_* environment
// variables on top of the file values.
//
// To change the template, edit config.example.yaml and rebuild.
package configs

import _ "embed"

// ConfigTemplate is the annotated starting point for a docpipe.yaml.
// Every value shown matches the hardcoded defaults in internal/config,
// so a freshly written file changes nothing until edited.
//
//go:embed config.example.yaml
var ConfigTemplate string
