package support

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

// aSyntheticMatchWithUnits writes a synthetic match below the temp directory.
func (testCtx *TestContext) aSyntheticMatchWithUnits(units int) error {
	m, err := writeMatch(testCtx.TempPath("match"), units)
	if err != nil {
		return fmt.Errorf("failed to write synthetic match: %w", err)
	}
	testCtx.Match = m
	return nil
}

// theEnvironmentVariableIsSetTo sets an environment variable for later commands.
func (testCtx *TestContext) theEnvironmentVariableIsSetTo(name, value string) error {
	testCtx.AddEnvVar(name, testCtx.substituteCommandVariables(value))
	return nil
}

// iRunCommand executes a command and stores the result.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substituteCommandVariables(command)

	testCtx.LastCommand = command
	testCtx.LastStartTime = time.Now()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = testCtx.TempDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	output, err := cmd.CombinedOutput()
	testCtx.LastOutput = string(output)
	testCtx.LastError = err
	testCtx.LastDuration = time.Since(testCtx.LastStartTime)

	if err != nil {
		exitError := &exec.ExitError{}
		if errors.As(err, &exitError) {
			testCtx.LastExitCode = exitError.ExitCode()
		} else {
			testCtx.LastExitCode = -1
		}
	} else {
		testCtx.LastExitCode = 0
	}

	return nil
}

// substituteCommandVariables expands {tmp}, {port} and the synthetic match
// placeholders {frames}, {regions}, {config} and {output}.
func (testCtx *TestContext) substituteCommandVariables(command string) string {
	pairs := []string{"{tmp}", testCtx.TempDir}
	if testCtx.ServerPort != 0 {
		pairs = append(pairs, "{port}", strconv.Itoa(testCtx.ServerPort))
	}
	if m := testCtx.Match; m != nil {
		pairs = append(pairs,
			"{frames}", m.Frames,
			"{regions}", m.Regions,
			"{config}", m.Config,
			"{output}", m.Output,
		)
	}
	return strings.NewReplacer(pairs...).Replace(command)
}

// theCommandShouldSucceed verifies the command succeeded.
func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nOutput: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

// theCommandShouldFail verifies the command failed.
func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldContain verifies the output contains specific text.
func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	expectedText = testCtx.substituteCommandVariables(expectedText)
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output unexpectedly contains '%s'\nActual output: %s", text, testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldListAvailableSubcommands checks the help lists every command.
func (testCtx *TestContext) theOutputShouldListAvailableSubcommands() error {
	for _, sub := range []string{"process", "serve", "config", "regions", "version"} {
		if !strings.Contains(testCtx.LastOutput, sub) {
			return fmt.Errorf("help does not list subcommand %q\nOutput: %s", sub, testCtx.LastOutput)
		}
	}
	return nil
}

// theOutputShouldContainVersionInformation checks the version line format.
func (testCtx *TestContext) theOutputShouldContainVersionInformation() error {
	for _, part := range []string{"endzone ", "commit: ", "built: "} {
		if !strings.Contains(testCtx.LastOutput, part) {
			return fmt.Errorf("version output lacks %q\nOutput: %s", part, testCtx.LastOutput)
		}
	}
	return nil
}

func (testCtx *TestContext) resolvePath(name string) string {
	name = testCtx.substituteCommandVariables(name)
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(testCtx.TempDir, name)
}

// theFileShouldExist verifies a file exists.
func (testCtx *TestContext) theFileShouldExist(filename string) error {
	path := testCtx.resolvePath(filename)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("file %s does not exist: %w", path, err)
	}
	return nil
}

// theFileShouldContain verifies a file contains specific content.
func (testCtx *TestContext) theFileShouldContain(filename, expectedContent string) error {
	path := testCtx.resolvePath(filename)
	content, err := os.ReadFile(path) //nolint:gosec // G304: Test file read with controlled path
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", path, err)
	}
	if !strings.Contains(string(content), expectedContent) {
		return fmt.Errorf("file %s does not contain %q", path, expectedContent)
	}
	return nil
}

// theFileShouldHaveLines counts newline-terminated lines.
func (testCtx *TestContext) theFileShouldHaveLines(filename string, want int) error {
	path := testCtx.resolvePath(filename)
	f, err := os.Open(path) //nolint:gosec // G304: Test file read with controlled path
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	got := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		got++
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("file %s has %d lines, want %d", path, got, want)
	}
	return nil
}

// theFileShouldBeValidJSON parses a file as a JSON object.
func (testCtx *TestContext) theFileShouldBeValidJSON(filename string) error {
	path := testCtx.resolvePath(filename)
	data, err := os.ReadFile(path) //nolint:gosec // G304: Test file read with controlled path
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", path, err)
	}
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("file %s is not valid JSON: %w", path, err)
	}
	return nil
}

func (testCtx *TestContext) registerBackgroundSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a synthetic match with (\d+) units$`, testCtx.aSyntheticMatchWithUnits)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSetTo)
}

func (testCtx *TestContext) registerCommandSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
}

func (testCtx *TestContext) registerOutputSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should list available subcommands$`, testCtx.theOutputShouldListAvailableSubcommands)
	sc.Step(`^the output should contain version information$`, testCtx.theOutputShouldContainVersionInformation)
}

func (testCtx *TestContext) registerFileSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
	sc.Step(`^the file "([^"]*)" should have (\d+) lines$`, testCtx.theFileShouldHaveLines)
	sc.Step(`^the file "([^"]*)" should be valid JSON$`, testCtx.theFileShouldBeValidJSON)
}

// RegisterCommonSteps registers all common step definitions.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	testCtx.registerBackgroundSteps(sc)
	testCtx.registerCommandSteps(sc)
	testCtx.registerOutputSteps(sc)
	testCtx.registerFileSteps(sc)
}
