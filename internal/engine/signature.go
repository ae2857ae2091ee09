package engine

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
)

var (
	lineNumberPattern  = regexp.MustCompile(`:\d+`)
	syntheticIDPattern = regexp.MustCompile(`\$\d+`)
)

// Signature derives the stable dedup key for an error event: a hash of the
// service, error type, code location, and the normalised top of the stack.
// Line numbers and compiler-generated suffixes are normalised out so the same
// logical failure hashes identically across builds.
func Signature(event models.MonitoringEvent) string {
	parts := []string{
		event.ServiceName,
		event.ErrorType,
		codeLocation(event),
		NormalizeStack(event.StackTrace),
	}
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// NormalizeStack keeps the top three frames with volatile tokens replaced.
func NormalizeStack(stack string) string {
	if stack == "" {
		return ""
	}
	var frames []string
	for _, raw := range strings.Split(stack, "\n") {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, "at ") {
			continue
		}
		frames = append(frames, normalizeFrame(line))
		if len(frames) == 3 {
			break
		}
	}
	if len(frames) == 0 {
		// Free-form stacks still contribute their normalised first line.
		first := strings.TrimSpace(strings.SplitN(stack, "\n", 2)[0])
		return normalizeFrame(first)
	}
	return strings.Join(frames, ";")
}

func normalizeFrame(frame string) string {
	frame = lineNumberPattern.ReplaceAllString(frame, ":XXX")
	// $$ escapes the dollar sign in the replacement template.
	frame = syntheticIDPattern.ReplaceAllString(frame, "$$XXX")
	return frame
}

func codeLocation(event models.MonitoringEvent) string {
	if event.ClassName == "" && event.MethodName == "" {
		return ""
	}
	return event.ClassName + "." + event.MethodName
}
