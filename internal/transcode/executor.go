package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// ExecResult holds the outcome of a single tool invocation.
type ExecResult struct {
	Stdout []byte
	Stderr string
	Err    error
}

// Runner executes an external command. The default runs the real binary;
// tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ExecResult
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ExecResult {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.String(), Err: err}
}

// Pre-compiled stderr patterns, checked in order; the first match names the
// failure.
var stderrReasons = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`(?i)No such file or directory`), "source file not found"},
	{regexp.MustCompile(`(?i)Invalid data found when processing input|moov atom not found`), "source is not a readable video"},
	{regexp.MustCompile(`(?i)does not contain any stream|Output file #0 does not contain any stream|matches no streams`), "source has no video stream"},
	{regexp.MustCompile(`(?i)Unknown encoder|Encoder not found`), "encoder not available"},
	{regexp.MustCompile(`(?i)No space left on device`), "out of disk space"},
	{regexp.MustCompile(`(?i)Permission denied`), "permission denied"},
}

// ClassifyStderr maps ffmpeg stderr to a short reason, or "" if unknown.
func ClassifyStderr(stderr string) string {
	for _, r := range stderrReasons {
		if r.re.MatchString(stderr) {
			return r.reason
		}
	}
	return ""
}

// ToolError is a failed ffmpeg/ffprobe run.
type ToolError struct {
	Tool   string
	Reason string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s failed: %s", e.Tool, e.Reason)
	}
	if line := lastLine(e.Stderr); line != "" {
		return fmt.Sprintf("%s failed: %s", e.Tool, line)
	}
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

func toolError(tool string, res ExecResult) error {
	if res.Err == nil {
		return nil
	}
	if errors.Is(res.Err, context.DeadlineExceeded) || errors.Is(res.Err, context.Canceled) {
		return res.Err
	}
	return &ToolError{Tool: tool, Reason: ClassifyStderr(res.Stderr), Stderr: res.Stderr, Err: res.Err}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
