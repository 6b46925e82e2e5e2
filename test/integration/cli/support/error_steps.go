package support

import (
	"fmt"
	"net"
	"strings"

	"github.com/cucumber/godog"
)

// theErrorShouldMention verifies the failed command's output mentions text.
func (testCtx *TestContext) theErrorShouldMention(errorText string) error {
	if testCtx.LastExitCode == 0 && testCtx.LastHTTPStatusCode < 400 {
		return fmt.Errorf("expected a failure mentioning %q, but nothing failed", errorText)
	}
	haystack := strings.ToLower(testCtx.LastOutput + testCtx.LastHTTPResponse)
	if testCtx.LastError != nil {
		haystack += strings.ToLower(testCtx.LastError.Error())
	}
	if !strings.Contains(haystack, strings.ToLower(errorText)) {
		return fmt.Errorf("error does not mention %q\nOutput: %s", errorText, testCtx.LastOutput)
	}
	return nil
}

// theErrorShouldMentionEither accepts either of two phrasings.
func (testCtx *TestContext) theErrorShouldMentionEither(first, second string) error {
	if err := testCtx.theErrorShouldMention(first); err == nil {
		return nil
	}
	return testCtx.theErrorShouldMention(second)
}

// theErrorShouldSuggestAvailableCommands checks cobra's unknown command hint.
func (testCtx *TestContext) theErrorShouldSuggestAvailableCommands() error {
	if !strings.Contains(testCtx.LastOutput, "unknown command") {
		return fmt.Errorf("output does not report an unknown command\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

// aServiceIsAlreadyRunningOnTheServerPort occupies the scenario's port.
func (testCtx *TestContext) aServiceIsAlreadyRunningOnTheServerPort() error {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	testCtx.ServerPort = l.Addr().(*net.TCPAddr).Port
	testCtx.blockers = append(testCtx.blockers, l)
	return nil
}

// RegisterErrorSteps registers all error handling step definitions.
func (testCtx *TestContext) RegisterErrorSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)
	sc.Step(`^the error should mention "([^"]*)" or "([^"]*)"$`, testCtx.theErrorShouldMentionEither)
	sc.Step(`^the error should suggest available commands$`, testCtx.theErrorShouldSuggestAvailableCommands)
	sc.Step(`^a service is already running on the server port$`, testCtx.aServiceIsAlreadyRunningOnTheServerPort)
}
