package compilecache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/runbox/apperr"
	"github.com/isdmx/runbox/project"
	"github.com/isdmx/runbox/sandbox"
)

// Compiler turns the sources materialized in dir into runnable output in the
// same directory. A compile failure is reported as an apperr.CompilationError
// whose message is the compiler diagnostics.
type Compiler interface {
	Compile(ctx context.Context, dir string) error
}

// CommandCompiler runs an external compiler built from a command template.
// The template may use {out} for the output directory and {sources} for the
// discovered source files.
type CommandCompiler struct {
	logger    *zap.Logger
	template  sandbox.Template
	extension string
	cmdRunner sandbox.CommandRunner
}

// NewCommandCompiler creates a compiler from a command template such as
// "javac -d {out} {sources}".
func NewCommandCompiler(logger *zap.Logger, template, extension string, cmdRunner sandbox.CommandRunner) (*CommandCompiler, error) {
	tmpl, err := sandbox.ParseTemplate(template)
	if err != nil {
		return nil, err
	}
	if extension == "" {
		return nil, fmt.Errorf("source extension must not be empty")
	}
	if cmdRunner == nil {
		cmdRunner = sandbox.RealCommandRunner{}
	}
	return &CommandCompiler{
		logger:    logger,
		template:  tmpl,
		extension: extension,
		cmdRunner: cmdRunner,
	}, nil
}

// Compile discovers every source file under dir and runs the compiler on them.
func (c *CommandCompiler) Compile(ctx context.Context, dir string) error {
	sources, err := project.FindSources(dir, c.extension)
	if err != nil {
		return apperr.Wrap(err, apperr.InternalError, "failed to scan sources")
	}
	if len(sources) == 0 {
		return apperr.Newf(apperr.CompilationError, "No %s source files found", c.extension)
	}

	argv := c.template.Expand(map[string][]string{
		"out":     {dir},
		"sources": sources,
	})
	c.logger.Debug("compiling", zap.String("dir", dir), zap.Int("sources", len(sources)))

	stdout, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, argv)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperr.New(apperr.CompilationError, "Compilation timed out")
		}
		return apperr.Wrapf(err, apperr.InternalError, "failed to run %s", argv[0])
	}
	if exitCode != 0 {
		return apperr.New(apperr.CompilationError, diagnostics(dir, stdout+stderr))
	}
	return nil
}

// diagnostics strips the scratch directory prefix so messages refer to
// project relative paths.
func diagnostics(dir, output string) string {
	output = strings.ReplaceAll(output, dir+string(filepath.Separator), "")
	return strings.TrimRight(output, "\n")
}
