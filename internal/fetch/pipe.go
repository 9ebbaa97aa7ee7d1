package fetch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/islishude/imgfetch/internal/compress"
)

// ignoredExitStatus is what gzip and friends return for warnings such as
// trailing garbage, and when the reader went away early. The output is
// still usable.
const ignoredExitStatus = 2

// DecompressorFunc returns the argv of a process that decodes t from its
// stdin to its stdout, or nil if there is none.
type DecompressorFunc func(t compress.Type) []string

// DefaultDecompressor prefers the usual tool from PATH and falls back to
// running this binary's own unpack command.
func DefaultDecompressor(t compress.Type) []string {
	argv := compress.Command(t)
	if argv == nil {
		return nil
	}
	if _, err := exec.LookPath(argv[0]); err == nil {
		return argv
	}
	if self, err := os.Executable(); err == nil {
		return []string{self, "unpack", "-t", string(t)}
	}
	return argv
}

// pipedProcess feeds the decompressor. Its stdout is the target file and its
// stderr the capture file; the parent keeps its own handle on the target so
// it can read the shared file offset.
type pipedProcess struct {
	argv   []string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	waited bool
}

func (p *pipedProcess) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *pipedProcess) position() (int64, bool) {
	if p.stdout == nil {
		return 0, false
	}
	off, err := p.stdout.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, false
	}
	return off, true
}

func (p *pipedProcess) release() {
	if !p.waited {
		_ = p.stdin.Close()
		_ = p.cmd.Wait()
		p.waited = true
	}
	if p.stdout != nil {
		_ = p.stdout.Close()
		p.stdout = nil
	}
}

func (s *sink) spawn() (*pipedProcess, *Error) {
	tmp, err := os.CreateTemp(s.tempDir, "imgfetch-*")
	if err != nil {
		return nil, newError(CodeTempFile, "mkstemp: %s", reason(err))
	}
	s.tmpPath = tmp.Name()
	// the child gets its own copy of the descriptor
	defer tmp.Close() //nolint:errcheck

	target, err := os.OpenFile(s.target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, newError(CodeLocal, "open: %s: %s", s.target, reason(err))
	}

	format := s.decision.Format
	argv := s.decompressor(format.Compression())
	if len(argv) == 0 {
		_ = target.Close()
		return nil, newError(CodeLocal, "no decompressor for %s", format)
	}

	cmd := exec.CommandContext(s.ctx, argv[0], argv[1:]...)
	cmd.Stdout = target
	cmd.Stderr = tmp
	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = target.Close()
		return nil, newError(CodeLocal, "pipe: %s", reason(err))
	}
	if err := cmd.Start(); err != nil {
		_ = target.Close()
		return nil, newError(CodeLocal, "exec: %s: %s", argv[0], reason(err))
	}

	if s.decision.SizeHint > 0 {
		s.progress.EstimatedTotal = s.decision.SizeHint << 10
	}
	s.log.Debug("spawn decompressor", "argv", argv, "pid", cmd.Process.Pid,
		"capture", s.tmpPath, "estimated", s.progress.EstimatedTotal)
	return &pipedProcess{argv: argv, cmd: cmd, stdin: stdin, stdout: target}, nil
}

// wait closes the decompressor's input and collects its exit status. A
// failure is only reported when nothing else went wrong first, or when the
// only error was writing into the dying process. Its message is the first
// line the process wrote to stderr.
func (s *sink) wait(p *pipedProcess, terr error) {
	if p.waited {
		return
	}
	_ = p.stdin.Close()
	werr := p.cmd.Wait()
	p.waited = true

	status := exitStatus(werr)
	if status == 0 || status == ignoredExitStatus {
		return
	}
	s.log.Warn("decompressor failed", "argv", p.argv, "status", status)
	if s.err != nil && !s.pipeBroken {
		return
	}
	// a transfer cut short leaves truncated input; the transport's error
	// is the cause
	if s.err == nil && terr != nil {
		return
	}
	s.err = newError(CodeLocal, "%s", s.captured(p, werr))
}

func (s *sink) captured(p *pipedProcess, werr error) string {
	if s.tmpPath != "" {
		if f, err := os.Open(s.tmpPath); err == nil {
			buf := make([]byte, MaxMessageLen-1)
			n, _ := io.ReadFull(f, buf)
			_ = f.Close()
			if msg := firstLine(buf[:n]); msg != "" {
				return msg
			}
		}
	}
	return fmt.Sprintf("%s: %v", p.argv[0], werr)
}

func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() >= 0 {
		return ee.ExitCode()
	}
	return -1
}
