// Package config provides the configuration for scriptbridge.
//
// Configuration is assembled from three sources, higher overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← SCRIPTBRIDGE_*
//	├─────────────────────────────┤
//	│  2. Config File             │  ← .toml, .yaml or .yml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │
//	└─────────────────────────────┘
//
// Sources are read into generic maps by the loader sub-package, deep
// merged, decoded into a Config and validated. Durations are written as
// Go duration strings ("250ms", "5s").
//
// # Environment Variables
//
// SCRIPTBRIDGE_SECTION_SETTING_NAME maps to section.settingName, so
// SCRIPTBRIDGE_ENGINE_GC_INTERVAL sets engine.gcInterval. The short forms
// SCRIPTBRIDGE_LOG_LEVEL, SCRIPTBRIDGE_LOG_FORMAT, SCRIPTBRIDGE_CEILING and
// SCRIPTBRIDGE_LIBRARIES are also understood. Lists are comma separated.
//
// # Basic Usage
//
//	cfg, err := config.Load("scriptbridge.toml")
//	if err != nil {
//	    return err
//	}
//	ctx, err := lua.New(cfg.ContextOptions(lua.WithLogger(logger))...)
package config
