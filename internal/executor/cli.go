package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/maremma-monitoring/maremma/internal/status"
	"github.com/maremma-monitoring/maremma/internal/types"
)

// envAllowlist is the fixed set of parent-process variables a CLI probe
// inherits; a service that needs anything else must declare it explicitly
// under its "env" config, since spec.md §4.3 requires a CLI check to
// "inherit no environment beyond an allowlist".
var envAllowlist = []string{"PATH", "HOME", "LANG", "LC_ALL", "TZ"}

// CLIExecutor runs a local command line and maps its exit code to a Status,
// the way the teacher's ExecChecker runs a command and maps success/failure
// to Healthy/Unhealthy — except here the mapping is the full Nagios
// exit-code convention (status.FromExitCode) rather than a boolean.
type CLIExecutor struct{}

// NewCLIExecutor returns a CLIExecutor.
func NewCLIExecutor() *CLIExecutor { return &CLIExecutor{} }

func (e *CLIExecutor) Kind() types.ServiceType { return types.ServiceTypeCLI }

func (e *CLIExecutor) Execute(ctx context.Context, target Target) status.Result {
	command := configString(target.Config, "command", "")
	if command == "" {
		return status.Result{Status: status.Error, Text: "cli service has no \"command\" configured"}
	}

	timeout := effectiveTimeout(target.Service)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv, err := shellwords.Parse(command)
	if err != nil {
		return errorResult(err)
	}
	if len(argv) == 0 {
		return status.Result{Status: status.Error, Text: "command parsed to an empty argv"}
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Env = buildEnv(target.Config)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if runCtx.Err() != nil {
		return timeoutResult(timeout)
	}

	if runErr == nil {
		return status.Result{Status: status.Ok, Text: stdout.String()}
	}

	exitErr, ok := runErr.(*exec.ExitError)
	if !ok {
		return errorResult(runErr)
	}

	text := stdout.String()
	if stderr.Len() > 0 {
		text = strings.TrimSpace(text + "\n" + stderr.String())
	}
	return status.Result{
		Status: status.FromExitCode(exitErr.ExitCode(), !exitErr.Exited()),
		Text:   text,
	}
}

// buildEnv assembles a CLI probe's child environment: the fixed
// envAllowlist, passed through from this process's own environment, plus
// any explicit key/value pairs the service declares under "env".
func buildEnv(cfg map[string]any) []string {
	env := make([]string, 0, len(envAllowlist))
	for _, key := range envAllowlist {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	if extra, ok := cfg["env"].(map[string]any); ok {
		for k, v := range extra {
			if s, ok := v.(string); ok {
				env = append(env, k+"="+s)
			}
		}
	}
	return env
}
