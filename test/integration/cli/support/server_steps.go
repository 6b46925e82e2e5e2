package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/MeKo-Tech/endzone/internal/pipeline"
	"github.com/MeKo-Tech/endzone/internal/server"
	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"
)

// iStartTheServerWith starts the server with given command.
func (testCtx *TestContext) iStartTheServerWith(command string) error {
	return testCtx.StartServer(command)
}

// theHealthEndpointShouldRespondWithStatus verifies health endpoint response.
func (testCtx *TestContext) theHealthEndpointShouldRespondWithStatus(expectedStatus int) error {
	if err := testCtx.makeHTTPRequest(http.MethodGet, "/health", ""); err != nil {
		return err
	}
	return testCtx.theResponseStatusShouldBe(expectedStatus)
}

// iSendSignalToTheServer delivers SIGINT or SIGTERM to the server process.
func (testCtx *TestContext) iSendSignalToTheServer(signalName string) error {
	switch signalName {
	case "SIGINT":
		return testCtx.SendSignalToServer(syscall.SIGINT)
	case "SIGTERM":
		return testCtx.SendSignalToServer(syscall.SIGTERM)
	default:
		return fmt.Errorf("unsupported signal: %s", signalName)
	}
}

// theServerShouldShutdownGracefully waits for a zero exit status.
func (testCtx *TestContext) theServerShouldShutdownGracefully() error {
	if testCtx.ServerProcess == nil {
		return errors.New("no server process running")
	}
	select {
	case err := <-testCtx.serverDone:
		testCtx.ServerProcess = nil
		if err != nil {
			return fmt.Errorf("server exited with error: %w\n%s", err, testCtx.serverOutput())
		}
		return nil
	case <-time.After(15 * time.Second):
		return errors.New("server did not shut down within 15 seconds")
	}
}

func (testCtx *TestContext) theServerLogShouldContain(text string) error {
	if out := testCtx.serverOutput(); !strings.Contains(out, text) {
		return fmt.Errorf("server log does not contain %q\n%s", text, out)
	}
	return nil
}

func (testCtx *TestContext) theControlServerIsRunning() error {
	return testCtx.createTestHTTPServer(ServerOptions{})
}

func (testCtx *TestContext) theControlServerIsRunningWithCORSOrigin(origin string) error {
	return testCtx.createTestHTTPServer(ServerOptions{CORSOrigin: origin})
}

func (testCtx *TestContext) theControlServerAllowsControlRequestsPerMinute(n int) error {
	return testCtx.createTestHTTPServer(ServerOptions{RequestsPerMinute: n})
}

// iStartRunOnTheSyntheticMatch posts a start request for the match frames.
func (testCtx *TestContext) iStartRunOnTheSyntheticMatch(runID string) error {
	if testCtx.Match == nil {
		return errors.New("no synthetic match in this scenario")
	}
	body, err := json.Marshal(server.StartRunRequest{RunID: runID, SourcePath: testCtx.Match.Frames})
	if err != nil {
		return err
	}
	return testCtx.makeHTTPRequest(http.MethodPost, "/runs", string(body))
}

func (testCtx *TestContext) iGET(endpoint string) error {
	return testCtx.makeHTTPRequest(http.MethodGet, endpoint, "")
}

func (testCtx *TestContext) iPOSTWithBody(endpoint, body string) error {
	return testCtx.makeHTTPRequest(http.MethodPost, endpoint, body)
}

func (testCtx *TestContext) iMakeAnOPTIONSRequestTo(endpoint string) error {
	return testCtx.makeHTTPRequest(http.MethodOptions, endpoint, "")
}

// theResponseStatusShouldBe verifies the last HTTP status code.
func (testCtx *TestContext) theResponseStatusShouldBe(expectedStatus int) error {
	if testCtx.LastHTTPStatusCode != expectedStatus {
		return fmt.Errorf("expected status %d, got %d\nBody: %s",
			expectedStatus, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain %q\nBody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

// theResponseShouldBeValidJSON verifies the response body is JSON.
func (testCtx *TestContext) theResponseShouldBeValidJSON() error {
	if !json.Valid([]byte(testCtx.LastHTTPResponse)) {
		return fmt.Errorf("response is not valid JSON: %s", testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, want string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != want {
		return fmt.Errorf("header %s is %q, want %q", name, got, want)
	}
	return nil
}

// runShouldCompleteWithin polls the progress endpoint until the run is complete.
func (testCtx *TestContext) runShouldCompleteWithin(runID string, seconds int) error {
	deadline := time.Now().Add(time.Duration(seconds) * time.Second)
	for time.Now().Before(deadline) {
		if err := testCtx.makeHTTPRequest(http.MethodGet, "/runs/"+runID+"/progress", ""); err != nil {
			return err
		}
		var snap pipeline.Snapshot
		if testCtx.LastHTTPStatusCode == http.StatusOK &&
			json.Unmarshal([]byte(testCtx.LastHTTPResponse), &snap) == nil && snap.IsComplete {
			testCtx.lastSnapshot = &snap
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("run %s did not complete within %ds\nLast progress: %s", runID, seconds, testCtx.LastHTTPResponse)
}

func (testCtx *TestContext) theRunShouldHaveProcessedUnits(units int) error {
	if testCtx.lastSnapshot == nil {
		return errors.New("no completed run observed")
	}
	if got := testCtx.lastSnapshot.FramesProcessed; got != int64(units) {
		return fmt.Errorf("run processed %d units, want %d", got, units)
	}
	if testCtx.lastSnapshot.Error != "" {
		return fmt.Errorf("run finished with error: %s", testCtx.lastSnapshot.Error)
	}
	return nil
}

// theProgressStreamShouldEndWithACompleteMessage reads the websocket until
// the server closes it.
func (testCtx *TestContext) theProgressStreamShouldEndWithACompleteMessage(runID string) error {
	url := "ws" + strings.TrimPrefix(testCtx.GetServerURL(), "http") + "/runs/" + runID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", url, err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	var last server.WebSocketMessage
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return fmt.Errorf("stream failed before completion: %w", err)
		}
		if err := json.Unmarshal(data, &last); err != nil {
			return fmt.Errorf("invalid stream message: %w", err)
		}
	}
	if last.Type != server.MessageComplete || last.Payload == nil || !last.Payload.IsComplete {
		return fmt.Errorf("last stream message was %q, want a complete snapshot", last.Type)
	}
	testCtx.lastSnapshot = last.Payload
	return nil
}

// makeHTTPRequest makes an HTTP request to the server.
func (testCtx *TestContext) makeHTTPRequest(method, endpoint, body string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	url := testCtx.GetServerURL() + endpoint

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Origin", "http://example.com")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(data)
	testCtx.LastHTTPHeaders = make(map[string]string, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) > 0 {
			testCtx.LastHTTPHeaders[key] = values[0]
		}
	}

	return nil
}

// RegisterServerSteps registers all server mode step definitions.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	// Server process lifecycle
	sc.Step(`^I start the server with "([^"]*)"$`, testCtx.iStartTheServerWith)
	sc.Step(`^the health endpoint should respond with status (\d+)$`, testCtx.theHealthEndpointShouldRespondWithStatus)
	sc.Step(`^I send (SIGINT|SIGTERM) to the server$`, testCtx.iSendSignalToTheServer)
	sc.Step(`^the server should shut down gracefully$`, testCtx.theServerShouldShutdownGracefully)
	sc.Step(`^the server log should contain "([^"]*)"$`, testCtx.theServerLogShouldContain)

	// In-process control server
	sc.Step(`^the control server is running$`, testCtx.theControlServerIsRunning)
	sc.Step(`^the control server is running with CORS origin "([^"]*)"$`, testCtx.theControlServerIsRunningWithCORSOrigin)
	sc.Step(`^the control server allows (\d+) control requests per minute$`, testCtx.theControlServerAllowsControlRequestsPerMinute)

	// Requests
	sc.Step(`^I start run "([^"]*)" on the synthetic match$`, testCtx.iStartRunOnTheSyntheticMatch)
	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I POST "([^"]*)" with body '([^']*)'$`, testCtx.iPOSTWithBody)
	sc.Step(`^I make an OPTIONS request to "([^"]*)"$`, testCtx.iMakeAnOPTIONSRequestTo)

	// Responses
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response should be valid JSON$`, testCtx.theResponseShouldBeValidJSON)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)

	// Runs
	sc.Step(`^run "([^"]*)" should complete within (\d+) seconds$`, testCtx.runShouldCompleteWithin)
	sc.Step(`^the run should have processed (\d+) units$`, testCtx.theRunShouldHaveProcessedUnits)
	sc.Step(`^the progress stream for run "([^"]*)" should end with a complete message$`,
		testCtx.theProgressStreamShouldEndWithACompleteMessage)
}
