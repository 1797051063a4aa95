package diffvalidator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// ErrConflict reports that a dry-run apply failed; Stderr carries the
// underlying tool's diagnostic output for surfacing to the caller.
type ErrConflict struct {
	Command string
	Stderr  string
}

func (e *ErrConflict) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("diff does not apply: %s", e.Stderr)
	}
	return "diff does not apply"
}

const dryRunTimeout = 10 * time.Second

// Result is the outcome of validating a diff: its affected files and,
// unless skipped, a successful dry-run apply.
type Result struct {
	AffectedFiles []string
}

// Validate parses diff and, unless skip is true, dry-run applies it against
// workTree using git apply --check, falling back to patch --dry-run only
// when the git executable cannot be found. It never mutates the working
// tree.
func Validate(ctx context.Context, diff string, workTree string, skip bool) (*Result, error) {
	if strings.TrimSpace(diff) == "" {
		return &Result{}, nil
	}

	parsed, err := Parse(diff)
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}
	result := &Result{AffectedFiles: parsed.AffectedFiles()}

	if skip || workTree == "" {
		return result, nil
	}

	if err := dryRunApply(ctx, diff, workTree); err != nil {
		return nil, err
	}
	return result, nil
}

func dryRunApply(ctx context.Context, diff, workTree string) error {
	ctx, cancel := context.WithTimeout(ctx, dryRunTimeout)
	defer cancel()

	if err := runCheck(ctx, workTree, "git", []string{"apply", "--check", "-"}, diff); err == nil {
		return nil
	} else if !errors.Is(err, exec.ErrNotFound) {
		return err
	}

	return runCheck(ctx, workTree, "patch", []string{"--dry-run", "-p1", "--no-backup-if-mismatch"}, diff)
}

func runCheck(ctx context.Context, dir, name string, args []string, stdin string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(stdin)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return err
		}
		return &ErrConflict{
			Command: shellquote.Join(append([]string{name}, args...)...),
			Stderr:  strings.TrimSpace(stderr.String()),
		}
	}
	return nil
}
