// internal/protocol/subprocess_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"

	"spark-service/internal/model"
)

const (
	defaultSubprocessConnectInterval = 200 * time.Millisecond
	defaultSubprocessConnectTimeout  = 10 * time.Second
)

var simulatorBinaries = map[string]string{
	"amd64": "brewblox-amd64.sim",
	"arm":   "brewblox-arm32.sim",
	"arm64": "brewblox-arm64.sim",
}

// SimulatorBinary returns the simulator executable name for an architecture
func SimulatorBinary(arch string) (string, error) {
	binary, ok := simulatorBinaries[arch]
	if !ok {
		return "", fmt.Errorf("no simulator available for architecture %s: %w", arch, model.ErrConnectionImpossible)
	}
	return binary, nil
}

// subprocess tracks a started child process and its exit
type subprocess struct {
	cmd    *exec.Cmd
	exited chan struct{}
	err    error
}

func startSubprocess(cmd *exec.Cmd) (*subprocess, error) {
	configureProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	proc := &subprocess{cmd: cmd, exited: make(chan struct{})}
	go func() {
		proc.err = proc.cmd.Wait()
		close(proc.exited)
	}()

	return proc, nil
}

func (p *subprocess) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// terminate stops the whole process group and waits briefly for the exit
func (p *subprocess) terminate() error {
	if p.hasExited() {
		return nil
	}
	if err := terminateProcessGroup(p.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to terminate subprocess: %w", err)
	}

	select {
	case <-p.exited:
	case <-time.After(5 * time.Second):
		_ = p.cmd.Process.Kill()
	}
	return nil
}

// ConnectSubprocess polls a local port served by a freshly started child
// process. The returned connection terminates the child when closed.
func ConnectSubprocess(
	ctx context.Context,
	cmd *exec.Cmd,
	port int,
	kind model.ConnectionKind,
	address string,
	config SimulatorConfig,
	callbacks Callbacks,
	logger *zap.Logger,
) (*StreamConnection, error) {
	interval := config.ConnectInterval
	if interval <= 0 {
		interval = defaultSubprocessConnectInterval
	}
	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultSubprocessConnectTimeout
	}

	proc, err := startSubprocess(cmd)
	if err != nil {
		return nil, err
	}

	// Give the process some time to start listening
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := net.JoinHostPort("localhost", strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: interval}
	var lastErr error

	for {
		if proc.hasExited() {
			return nil, fmt.Errorf("subprocess exited: %v", proc.err)
		}

		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err == nil {
			return newStreamConnection(kind, address, conn, proc.terminate, callbacks, logger), nil
		}

		lastErr = err
		logger.Debug("Subprocess connection error", zap.Error(err))

		select {
		case <-ctx.Done():
			_ = proc.terminate()
			return nil, fmt.Errorf("failed to connect to subprocess: %w", lastErr)
		case <-proc.exited:
		case <-time.After(interval):
		}
	}
}

// ConnectSimulation starts the firmware simulator for the current platform
func ConnectSimulation(ctx context.Context, config SimulatorConfig, callbacks Callbacks, logger *zap.Logger) (*StreamConnection, error) {
	binary, err := SimulatorBinary(runtime.GOARCH)
	if err != nil {
		return nil, err
	}

	binaryPath, err := filepath.Abs(filepath.Join(config.FirmwareDir, binary))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve simulator path: %w", err)
	}

	workDir, err := filepath.Abs(config.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve simulator workdir: %w", err)
	}
	if err := os.MkdirAll(workDir, 0o777); err != nil {
		return nil, fmt.Errorf("failed to create simulator workdir: %w", err)
	}

	logger.Info("Starting simulator",
		zap.String("binary", binaryPath),
		zap.String("device_id", config.DeviceID),
		zap.Int("port", config.Port),
	)

	cmd := exec.Command(binaryPath,
		"--device_id", config.DeviceID,
		"--port", strconv.Itoa(config.Port),
		"--display_ws_port", strconv.Itoa(config.DisplayWSPort),
	)
	cmd.Dir = workDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return ConnectSubprocess(ctx, cmd, config.Port, model.ConnectionKindSim, binary, config, callbacks, logger)
}
