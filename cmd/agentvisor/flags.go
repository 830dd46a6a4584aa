package main

import "time"

// GlobalFlags holds persistent flags shared by every subcommand
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags select a running supervisor's status API instead of local records
type APIFlags struct {
	APIUrl     string
	APIToken   string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
}

// StatusFlags holds flags for the status command
type StatusFlags struct {
	APIFlags
	Heal bool
}

// RemoteRestartFlags holds flags for the remote-restart command
type RemoteRestartFlags struct {
	APIFlags
}

// SuperviseFlags holds flags for the supervise command
type SuperviseFlags struct {
	Listen    string
	BasePath  string
	NoConsole bool
}

// InitConfigFlags holds flags for the init-config command
type InitConfigFlags struct {
	Template string
	Root     string
	Output   string
	Force    bool
}
