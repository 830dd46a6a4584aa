package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot wires every subcommand onto the root command. Command output goes
// to out.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	statusFlags := &StatusFlags{}
	superviseFlags := &SuperviseFlags{}
	remoteRestartFlags := &RemoteRestartFlags{}
	initConfigFlags := &InitConfigFlags{}

	agentCommand := command{flags: globalFlags, out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)

	root.AddCommand(
		createCreateAgentCommand(agentCommand),
		createListAgentsCommand(agentCommand),
		createStartAgentCommand(agentCommand),
		createStartAllCommand(agentCommand),
		createStopAgentCommand(agentCommand),
		createRestartAgentCommand(agentCommand),
		createRemoveAgentCommand(agentCommand),
		createStatusCommand(agentCommand, statusFlags),
		createSuperviseCommand(agentCommand, superviseFlags),
		createRunAgentCommand(agentCommand),
		createRemoteRestartCommand(agentCommand, remoteRestartFlags),
		createInitConfigCommand(agentCommand, initConfigFlags),
		createHashPasswordCommand(agentCommand),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "agentvisor",
		Short: "Run and supervise long-lived local agents",
		Long: `Agentvisor runs named agents as detached worker processes, each
repeating one work unit, and supervises them through heartbeats.

Examples:
  agentvisor create-agent demo ALPHA_DETECTION
  agentvisor start-agent demo-alpha
  agentvisor status
  agentvisor supervise --listen 127.0.0.1:8090`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

// createCreateAgentCommand creates the create-agent subcommand
func createCreateAgentCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "create-agent <baseName> <workUnit>",
		Short: "Define a new agent",
		Long: `Define a new agent named <baseName>-<suffix>, where the suffix is derived
from the work unit (ALPHA_DETECTION gives "alpha").

Examples:
  agentvisor create-agent demo ALPHA_DETECTION   # defines demo-alpha`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.CreateAgent(cmd.Context(), args[0], args[1])
		},
	}
}

// createListAgentsCommand creates the list-agents subcommand
func createListAgentsCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "list-agents",
		Short: "List defined agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ListAgents(cmd.Context())
		},
	}
}

// createStartAgentCommand creates the start-agent subcommand
func createStartAgentCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "start-agent <name>",
		Short: "Start the worker of an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.StartAgent(cmd.Context(), args[0])
		},
	}
}

// createStartAllCommand creates the start-all subcommand
func createStartAllCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "start-all",
		Short: "Start every defined agent that is not running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.StartAll(cmd.Context())
		},
	}
}

// createStopAgentCommand creates the stop-agent subcommand
func createStopAgentCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-agent <name>",
		Short: "Stop the worker of an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.StopAgent(cmd.Context(), args[0])
		},
	}
}

// createRestartAgentCommand creates the restart-agent subcommand
func createRestartAgentCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "restart-agent <name>",
		Short: "Stop an agent, wait the restart delay and start it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.RestartAgent(cmd.Context(), args[0])
		},
	}
}

// createRemoveAgentCommand creates the remove-agent subcommand
func createRemoveAgentCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-agent <name>",
		Short: "Delete a stopped agent and its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.RemoveAgent(cmd.Context(), args[0])
		},
	}
}

// createStatusCommand creates the status subcommand
func createStatusCommand(c command, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health state of every agent",
		Long: `Classify every agent as STOPPED, RUNNING, CRASHED or HANG and print
one line per agent.

Examples:
  agentvisor status
  agentvisor status --heal    # restart crashed agents first
  agentvisor status --api-url=https://host:8090 --ca-cert=tls_ca.crt --api-token=...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if statusFlags.APIUrl != "" {
				if statusFlags.Heal {
					return fmt.Errorf("--heal is only supported on local records")
				}
				return c.RemoteStatus(cmd.Context(), statusFlags.APIFlags)
			}
			return c.Status(cmd.Context(), *statusFlags)
		},
	}
	cmd.Flags().BoolVar(&statusFlags.Heal, "heal", false, "restart crashed agents before printing status")
	addAPIFlags(cmd, &statusFlags.APIFlags)
	return cmd
}

// createSuperviseCommand creates the supervise subcommand
func createSuperviseCommand(c command, superviseFlags *SuperviseFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run the supervisor loop with its interactive console",
		Long: `Check every agent on a fixed interval and restart crashed or hung ones.
Commands typed on stdin: status, restart <name>, help, exit.

Examples:
  agentvisor supervise
  agentvisor supervise --listen 127.0.0.1:8090   # also serve the HTTP API and /metrics
  agentvisor supervise --no-console              # ignore stdin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Supervise(cmd.Context(), *superviseFlags)
		},
	}
	cmd.Flags().StringVar(&superviseFlags.Listen, "listen", "", "HTTP listen address (overrides [supervisor].listen)")
	cmd.Flags().StringVar(&superviseFlags.BasePath, "base-path", "", "HTTP route prefix, e.g. /api")
	cmd.Flags().BoolVar(&superviseFlags.NoConsole, "no-console", false, "do not read commands from stdin")
	return cmd
}

// createRunAgentCommand creates the run-agent subcommand used as the worker
// entry point of spawned agents
func createRunAgentCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:    "run-agent <name>",
		Short:  "Run the worker loop of an agent in the foreground",
		Args:   cobra.ExactArgs(1),
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.RunAgent(cmd.Context(), args[0])
		},
	}
}

// createHashPasswordCommand creates the hash-password subcommand
func createHashPasswordCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print the bcrypt hash of a password read from stdin",
		Long: `Read one line from stdin and print its bcrypt hash, for use as
[supervisor.auth].password_hash.

Examples:
  echo -n 's3cret' | agentvisor hash-password`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.HashPassword(cmd.InOrStdin())
		},
	}
}

// createRemoteRestartCommand creates the remote-restart subcommand
func createRemoteRestartCommand(c command, f *RemoteRestartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote-restart <name>",
		Short: "Ask a running supervisor to restart an agent",
		Long: `Restart an agent through the status API of a running supervisor.

Examples:
  agentvisor remote-restart demo-alpha --api-url=http://127.0.0.1:8090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.RemoteRestart(cmd.Context(), f.APIFlags, args[0])
		},
	}
	addAPIFlags(cmd, &f.APIFlags)
	if err := cmd.MarkFlagRequired("api-url"); err != nil {
		panic(err)
	}
	return cmd
}

// createInitConfigCommand creates the init-config subcommand
func createInitConfigCommand(c command, f *InitConfigFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Generate a starter agentvisor.toml",
		Long: `Generate a configuration file from a template.

Templates: minimal, server (status API with TLS and token auth), sqlite,
postgres, history.

Examples:
  agentvisor init-config                           # print to stdout
  agentvisor init-config --template server -o agentvisor.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.InitConfig(*f)
		},
	}
	cmd.Flags().StringVarP(&f.Template, "template", "t", "minimal", "template type")
	cmd.Flags().StringVar(&f.Root, "root", ".agentvisor", "state directory written into the file")
	cmd.Flags().StringVarP(&f.Output, "output", "o", "", "file to write (default stdout)")
	cmd.Flags().BoolVar(&f.Force, "force", false, "overwrite an existing output file")
	return cmd
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "supervisor status API URL (e.g. http://127.0.0.1:8090)")
	cmd.Flags().StringVar(&f.APIToken, "api-token", "", "bearer token for the status API")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate to trust for https")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
}
