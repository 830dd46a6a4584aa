package config

import (
	"fmt"

	"github.com/loykin/agentvisor/internal/env"
)

// WorkerEnv composes the environment for spawned workers: the OS environment
// (when use_os_env), then env_files in order, then the env list. The resolved
// root and store are always passed on so a worker reads the same records as the
// process that spawned it.
func (c *Config) WorkerEnv() ([]string, error) {
	e := env.New()
	if !c.UseOSEnv {
		e.Isolated()
	}
	for _, f := range c.EnvFiles {
		if err := e.LoadFile(f); err != nil {
			return nil, fmt.Errorf("env file %s: %w", f, err)
		}
	}
	extra := append([]string{}, c.Env...)
	extra = append(extra, EnvPrefix+"_ROOT="+c.Root)
	if c.Store != "" {
		extra = append(extra, EnvPrefix+"_STORE="+c.Store)
	}
	return e.Merge(extra), nil
}
