// Package external provides the processor that delegates one message at a
// time to a subprocess in any language.
//
// Contract with the subprocess: the configured command is invoked with two
// synthetic flags --input=<path> and --output=<path> naming temporary files.
// The input file holds the current message as a single JSON document (the
// message body in text input format, which also goes to stdin); the
// subprocess writes the new message to the output file (or to stdout if it
// leaves the file empty). Entries of the processor's config block are
// injected as CONFIG_<UPPER_KEY> environment variables on top of the
// engine's environment snapshot. Exit code 0 is success; any non-zero exit
// drops the message and reports the captured stderr. A subprocess that
// outlives its deadline is sent SIGTERM to the process group, then SIGKILL
// after a two second grace.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
	"github.com/c360/routeflow/processor"
)

// Formats for subprocess input and output.
const (
	FormatJSON = "json"
	FormatText = "text"
)

const (
	// DefaultTimeout bounds one subprocess invocation unless config.timeout
	// overrides it.
	DefaultTimeout = 60 * time.Second
	// killGrace is the pause between SIGTERM and SIGKILL.
	killGrace = 2 * time.Second
	// stderrLimit caps the stderr capture attached to error reports.
	stderrLimit = 8 * 1024
)

// Config holds configuration for the external processor.
type Config struct {
	Command      commandLine    `json:"command"`
	InputFormat  string         `json:"input_format"`
	OutputFormat string         `json:"output_format"`
	Timeout      float64        `json:"timeout"` // seconds
	Async        bool           `json:"async"`
	Config       map[string]any `json:"config"`
}

// commandLine accepts either a single command string (split on whitespace)
// or a list of argv tokens.
type commandLine []string

func (c *commandLine) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*c = strings.Fields(one)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*c = many
	return nil
}

// Processor spawns one subprocess per message. Without async, at most one
// subprocess is in flight per route because the chain is sequential; async
// subprocesses are not waited for and can overlap.
type Processor struct {
	command  []string
	inFmt    string
	outFmt   string
	timeout  time.Duration
	async    bool
	extraEnv []string
	baseEnv  []string
	route    string
	logger   *slog.Logger
}

// New creates an external processor from its raw configuration block.
func New(raw json.RawMessage, deps endpoint.Dependencies) (processor.Processor, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.WrapConfig(err, "external", "New", "config unmarshal")
	}
	if len(cfg.Command) == 0 {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "external", "New", "command required")
	}

	if cfg.InputFormat == "" {
		cfg.InputFormat = FormatJSON
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = FormatJSON
	}
	for _, format := range []string{cfg.InputFormat, cfg.OutputFormat} {
		if format != FormatJSON && format != FormatText {
			return nil, errors.WrapConfig(
				fmt.Errorf("%w: unknown format %q", errors.ErrInvalidConfig, format),
				"external", "New", "format validation")
		}
	}

	timeout := DefaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout * float64(time.Second))
	}
	// config.timeout (seconds) also overrides, matching the env-injected
	// config block subprocesses see.
	if v, ok := cfg.Config["timeout"]; ok {
		if secs, ok := asSeconds(v); ok && secs > 0 {
			timeout = time.Duration(secs * float64(time.Second))
		}
	}

	// CONFIG_* injection, scalars stringified.
	extraEnv := make([]string, 0, len(cfg.Config))
	for key, value := range cfg.Config {
		name := "CONFIG_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		extraEnv = append(extraEnv, name+"="+message.Stringify(value))
	}

	return &Processor{
		command:  []string(cfg.Command),
		inFmt:    cfg.InputFormat,
		outFmt:   cfg.OutputFormat,
		timeout:  timeout,
		async:    cfg.Async,
		extraEnv: extraEnv,
		baseEnv:  deps.Env.Environ(),
		route:    deps.Route,
		logger:   deps.GetLoggerWithComponent("external"),
	}, nil
}

// Name implements processor.Processor.
func (p *Processor) Name() string { return "external" }

// Process implements processor.Processor.
func (p *Processor) Process(ctx context.Context, msg *message.Message) ([]*message.Message, error) {
	inFile, outFile, err := p.writeInputFiles(msg)
	if err != nil {
		return nil, err
	}

	if p.async {
		return p.startDetached(msg, inFile, outFile)
	}
	defer os.Remove(inFile)
	defer os.Remove(outFile)

	output, err := p.run(ctx, msg, inFile, outFile)
	if err != nil {
		return nil, err
	}
	return []*message.Message{output}, nil
}

// writeInputFiles creates the temporary input and output files and writes
// the message into the input file in the configured format.
func (p *Processor) writeInputFiles(msg *message.Message) (inFile, outFile string, err error) {
	in, err := os.CreateTemp("", "routeflow-in-*.json")
	if err != nil {
		return "", "", errors.WrapProcessing(err, "external", "Process", "create input file")
	}
	out, err := os.CreateTemp("", "routeflow-out-*.json")
	if err != nil {
		in.Close()
		os.Remove(in.Name())
		return "", "", errors.WrapProcessing(err, "external", "Process", "create output file")
	}
	out.Close()

	var payload []byte
	if p.inFmt == FormatJSON {
		payload, err = json.Marshal(msg)
	} else {
		payload = []byte(msg.Body())
	}
	if err == nil {
		_, err = in.Write(payload)
	}
	closeErr := in.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(in.Name())
		os.Remove(out.Name())
		return "", "", errors.WrapProcessing(err, "external", "Process", "write input file")
	}
	return in.Name(), out.Name(), nil
}

// run executes the subprocess synchronously and parses its output.
func (p *Processor) run(ctx context.Context, msg *message.Message, inFile, outFile string) (*message.Message, error) {
	argv := append(append([]string(nil), p.command...),
		"--input="+inFile, "--output="+outFile)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(append([]string(nil), p.baseEnv...), p.extraEnv...)
	// Own process group so a timeout can reap descendants too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout bytes.Buffer
	stderr := newCappedBuffer(stderrLimit)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	if p.inFmt == FormatText {
		cmd.Stdin = strings.NewReader(msg.Body())
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, errors.WrapExternalProcess(err, "external", "Process", "spawn subprocess", "")
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		if err != nil {
			p.logger.Warn("subprocess failed",
				"command", p.command[0],
				"elapsed", time.Since(start),
				"error", err)
			return nil, errors.WrapExternalProcess(err, "external", "Process", "subprocess exit", stderr.String())
		}
	case <-timer.C:
		p.terminate(cmd, waitCh)
		return nil, errors.WrapExternalTimeout(
			fmt.Errorf("subprocess exceeded %v", p.timeout),
			"external", "Process", "subprocess wait")
	case <-ctx.Done():
		p.terminate(cmd, waitCh)
		return nil, ctx.Err()
	}

	return p.parseOutput(msg, outFile, stdout.Bytes())
}

// terminate sends SIGTERM to the subprocess group, escalating to SIGKILL
// after the grace period.
func (p *Processor) terminate(cmd *exec.Cmd, waitCh <-chan error) {
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	select {
	case <-waitCh:
		return
	case <-time.After(killGrace):
	}
	_ = syscall.Kill(pgid, syscall.SIGKILL)
	<-waitCh
}

// parseOutput builds the new message from the output file, falling back to
// stdout when the file is empty.
func (p *Processor) parseOutput(in *message.Message, outFile string, stdout []byte) (*message.Message, error) {
	data, err := os.ReadFile(outFile)
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		data = stdout
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.WrapExternalProcess(errors.ErrEmptyOutput, "external", "Process", "read output", "")
	}

	if p.outFmt == FormatText {
		return in.Clone().Set(message.KeyBody, string(data)), nil
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.WrapExternalProcess(err, "external", "Process", "decode output", "")
	}
	out := message.FromFields(fields)
	// Keep routing metadata when the subprocess dropped it.
	if out.Route() == "" {
		out.Set(message.KeyRoute, in.Route())
	}
	if out.Source() == "" && in.Source() != "" {
		out.Set(message.KeySource, in.Source())
	}
	return out, nil
}

// startDetached runs the subprocess without waiting and forwards the input
// message unchanged. A reaper goroutine waits and cleans up the temp files.
func (p *Processor) startDetached(msg *message.Message, inFile, outFile string) ([]*message.Message, error) {
	argv := append(append([]string(nil), p.command...),
		"--input="+inFile, "--output="+outFile)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(append([]string(nil), p.baseEnv...), p.extraEnv...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		os.Remove(inFile)
		os.Remove(outFile)
		return nil, errors.WrapExternalProcess(err, "external", "Process", "spawn detached subprocess", "")
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			p.logger.Warn("detached subprocess failed", "command", p.command[0], "error", err)
		}
		os.Remove(inFile)
		os.Remove(outFile)
	}()

	return []*message.Message{msg}, nil
}

// asSeconds folds the numeric shapes a YAML/JSON config block produces.
func asSeconds(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		secs, err := strconv.ParseFloat(t, 64)
		return secs, err == nil
	default:
		return 0, false
	}
}

// cappedBuffer keeps the first n bytes written and discards the rest.
type cappedBuffer struct {
	buf bytes.Buffer
	cap int
}

func newCappedBuffer(capacity int) *cappedBuffer {
	return &cappedBuffer{cap: capacity}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.cap - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return strings.TrimSpace(b.buf.String())
}
