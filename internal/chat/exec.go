package chat

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// ExecSource runs a helper command and reads one JSON chat message per line
// from its stdout. The stream ends when the command exits.
type ExecSource struct {
	cmd []string
	log *slog.Logger
}

func NewExecSource(command string, log *slog.Logger) (*ExecSource, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse chat command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("chat command empty")
	}
	return &ExecSource{cmd: args, log: log.With(slog.String("component", "exec-source"))}, nil
}

func (s *ExecSource) Name() string { return "exec" }

func (s *ExecSource) Run(ctx context.Context, emit func(Event) error) error {
	cmd := exec.CommandContext(ctx, s.cmd[0], s.cmd[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.cmd[0], err)
	}
	s.log.Info("chat command started", slog.String("command", s.cmd[0]), slog.Int("pid", cmd.Process.Pid))

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		evt, err := decodeChatMessage(line)
		if err == nil {
			err = emit(evt)
		}
		if err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return err
		}
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("chat command exited: %w (stderr: %s)", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return scanErr
}
