// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for switchboard.
//
// Configuration is loaded from a single file named by either the
// SWITCHBOARD_CONFIG environment variable (via [Load]) or the --config
// flag (via [LoadFile]). There is no discovery and no environment
// variable overrides of individual values.
//
// The file may contain development, staging, and production sections
// that override base values when [Config].Environment matches.
// ${HOME} and ${VAR:-default} patterns are expanded in path fields
// only.
package config
