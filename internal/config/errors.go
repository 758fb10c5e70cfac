// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "errors"

// ErrInvalidConfig wraps every validation failure produced while resolving
// a FileConfig into an AppConfig. cmd/cachectl maps this to exit code 2
// ("configuration error") per the startup-failure table.
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrFileNotFound is returned by Load when the YAML path does not exist.
var ErrFileNotFound = errors.New("config file not found")
