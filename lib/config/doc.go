// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the notify client configuration from YAML.
//
// Configuration comes from exactly one file, named by the NOTIFY_CONFIG
// environment variable ([Load]) or a --config flag ([LoadFile]). When
// neither is given, callers use [Default]. There is no search path and
// no per-field environment override.
//
// The file may carry development and production sections that override
// the base values when [Config].Environment matches. Production turns
// off the implicit multiplexing and auto-regeneration that a first
// callback registration would otherwise switch on, so deployments opt
// in explicitly.
//
// ${HOME}, ${XDG_RUNTIME_DIR} and ${VAR:-default} patterns are expanded
// in path fields after loading.
//
// This package depends on no other notify packages.
package config
