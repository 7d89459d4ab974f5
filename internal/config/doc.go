/*
Package config provides configuration management for devstatic.

Values are resolved in increasing order of precedence:

	compiled-in defaults  (NewDefault)
	YAML file             (LoadFromFile)
	DEVSTATIC_* env vars  (LoadFromEnv)
	command-line flags    (applied by cmd/devstatic)

Validate is called once after all sources have been applied. It reports
problems as *errors.Error values with code INVALID_CONFIG.

A minimal file serving a local build directory:

	global:
	  log_level: DEBUG
	static:
	  public_path: /assets/
	  cache_control: no-cache
	  ignore:
	    - "*.map"
	storage:
	  backend: local
	  local:
	    directory: ./dist
*/
package config
