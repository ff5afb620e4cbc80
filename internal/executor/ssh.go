package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/maremma-monitoring/maremma/internal/status"
	"github.com/maremma-monitoring/maremma/internal/types"
)

// SSHExecutor either confirms reachability of a host's SSH port (when used
// as a HostCheck) or runs a remote command and maps its exit code to a
// Status (when used as a Service), following the same argv-then-exit-code
// shape as CLIExecutor but over an SSH session instead of a local process.
type SSHExecutor struct{}

// NewSSHExecutor returns an SSHExecutor.
func NewSSHExecutor() *SSHExecutor { return &SSHExecutor{} }

func (e *SSHExecutor) Kind() types.ServiceType { return types.ServiceTypeSSH }

func (e *SSHExecutor) Execute(ctx context.Context, target Target) status.Result {
	host := configString(target.Config, "host", target.Host.Hostname)
	if host == "" {
		return status.Result{Status: status.Error, Text: "ssh service has no host to connect to"}
	}
	port := configInt(target.Config, "port", 22)
	user := configString(target.Config, "user", "maremma")
	keyPath := configString(target.Config, "private_key_path", "")
	command := configString(target.Config, "command", "")

	timeout := effectiveTimeout(target.Service)
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	auth, err := sshAuthMethod(keyPath)
	if err != nil {
		return errorResult(err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // reachability/command probing, not a trust boundary
		Timeout:         timeout,
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		if dialCtx.Err() != nil {
			return timeoutResult(timeout)
		}
		return status.Result{Status: status.Critical, Text: err.Error()}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		// When the transport came up fine but every configured auth method
		// was rejected, NewClientConn returns an "ssh: unable to
		// authenticate" error (a *ssh.ServerAuthError is also accepted) —
		// an Error per spec.md §4.3, distinct from a Critical connection
		// failure.
		var authErr *ssh.ServerAuthError
		if errors.As(err, &authErr) || strings.Contains(err.Error(), "ssh: unable to authenticate") {
			return status.Result{Status: status.Error, Text: fmt.Sprintf("ssh authentication failed: %v", err)}
		}
		return status.Result{Status: status.Critical, Text: fmt.Sprintf("ssh handshake failed: %v", err)}
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	if command == "" {
		return status.Result{Status: status.Ok, Text: fmt.Sprintf("ssh handshake to %s succeeded", addr)}
	}

	session, err := client.NewSession()
	if err != nil {
		return status.Result{Status: status.Error, Text: fmt.Sprintf("opening ssh session: %v", err)}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runErr := session.Run(command)
	text := stdout.String()
	if text == "" {
		text = stderr.String()
	}

	if runErr == nil {
		return status.Result{Status: status.Ok, Text: text}
	}
	if exitErr, ok := runErr.(*ssh.ExitError); ok {
		return status.Result{Status: status.FromExitCode(exitErr.ExitStatus(), false), Text: text}
	}
	if dialCtx.Err() != nil {
		return timeoutResult(timeout)
	}
	return status.Result{Status: status.Error, Text: runErr.Error()}
}

// sshAuthMethod loads a private key from keyPath. It returns an error when
// no key path is configured; there is no SSH agent fallback.
func sshAuthMethod(keyPath string) (ssh.AuthMethod, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("ssh service has no \"private_key_path\" configured")
	}
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading ssh private key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh private key %s: %w", keyPath, err)
	}
	return ssh.PublicKeys(signer), nil
}
