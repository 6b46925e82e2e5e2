package support

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// serverLog collects the server process output.
const serverLog = "server.log"

// freePort asks the kernel for an unused TCP port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	return port, l.Close()
}

// StartServer starts "endzone serve" as a separate process and waits for
// its health endpoint.
func (testCtx *TestContext) StartServer(command string) error {
	if testCtx.ServerPort == 0 {
		port, err := freePort()
		if err != nil {
			return err
		}
		testCtx.ServerPort = port
	}
	command = testCtx.substituteCommandVariables(command)
	if err := testCtx.parseServerCommand(command); err != nil {
		return err
	}

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	logFile, err := os.Create(testCtx.TempPath(serverLog))
	if err != nil {
		return fmt.Errorf("failed to create server log: %w", err)
	}

	cmd := exec.Command(parts[0], parts[1:]...) //nolint:gosec // G204: Test command from feature file
	cmd.Dir = testCtx.TempDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return fmt.Errorf("failed to start server: %w", err)
	}

	testCtx.ServerProcess = cmd.Process
	testCtx.serverDone = make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = logFile.Close()
		testCtx.serverDone <- err
	}()

	if err := testCtx.waitForServerReady(); err != nil {
		if stopErr := testCtx.StopServerProcess(); stopErr != nil {
			return fmt.Errorf("server failed to start and also failed to stop: %w; stop error: %w", err, stopErr)
		}
		return fmt.Errorf("server failed to start: %w\n%s", err, testCtx.serverOutput())
	}

	return nil
}

// StopServerProcess asks the server to shut down and kills it if it does not
// exit in time.
func (testCtx *TestContext) StopServerProcess() error {
	if testCtx.ServerProcess == nil {
		return nil
	}
	defer func() { testCtx.ServerProcess = nil }()

	if err := testCtx.ServerProcess.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}
	select {
	case <-testCtx.serverDone:
		return nil
	case <-time.After(15 * time.Second):
		if err := testCtx.ServerProcess.Kill(); err != nil {
			return fmt.Errorf("failed to kill server process: %w", err)
		}
		<-testCtx.serverDone
		return errors.New("server did not stop within timeout")
	}
}

// parseServerCommand extracts the listen address from command.
func (testCtx *TestContext) parseServerCommand(command string) error {
	parts := strings.Fields(command)

	for i, part := range parts {
		value := ""
		switch {
		case (part == "--port" || part == "--host") && i+1 < len(parts):
			value = parts[i+1]
		case strings.HasPrefix(part, "--port="), strings.HasPrefix(part, "--host="):
			part, value, _ = strings.Cut(part, "=")
		default:
			continue
		}

		if part == "--host" {
			testCtx.ServerHost = value
			continue
		}
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid port: %s", value)
		}
		testCtx.ServerPort = port
	}

	return nil
}

// waitForServerReady waits for the server to respond to health checks.
func (testCtx *TestContext) waitForServerReady() error {
	timeout := time.Now().Add(10 * time.Second)

	for time.Now().Before(timeout) {
		select {
		case err := <-testCtx.serverDone:
			testCtx.serverDone <- err
			return fmt.Errorf("server exited early: %v", err)
		default:
		}
		if testCtx.isServerHealthy() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return errors.New("server did not become ready within timeout")
}

// isServerHealthy checks if the server responds to health endpoint.
func (testCtx *TestContext) isServerHealthy() bool {
	client := &http.Client{Timeout: time.Second}

	resp, err := client.Get(testCtx.GetServerURL() + "/health")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// GetServerURL returns the base URL for the running server.
func (testCtx *TestContext) GetServerURL() string {
	if testCtx.HTTPTestServer != nil && testCtx.HTTPTestServer.Server != nil {
		return testCtx.HTTPTestServer.Server.URL
	}
	return "http://" + net.JoinHostPort(testCtx.ServerHost, strconv.Itoa(testCtx.ServerPort))
}

// SendSignalToServer sends a signal to the running server.
func (testCtx *TestContext) SendSignalToServer(signal os.Signal) error {
	if testCtx.ServerProcess == nil {
		return errors.New("no server process running")
	}

	return testCtx.ServerProcess.Signal(signal)
}

func (testCtx *TestContext) serverOutput() string {
	data, _ := os.ReadFile(testCtx.TempPath(serverLog))
	return string(data)
}
