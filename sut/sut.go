package sut

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/sensepost/exconform/utils"
)

//Controller reconfigures the server under test out of band
type Controller interface {
	SetSSL(enabled bool) error
}

//ErrDeclined is returned when the operator refuses a prompt
var ErrDeclined = errors.New("operator declined the change")

//ScriptController runs a shell command for each change
type ScriptController struct {
	EnableSSL  string
	DisableSSL string
	Shell      string
}

//SetSSL runs the enable or disable command
func (s *ScriptController) SetSSL(enabled bool) error {
	cmd := s.DisableSSL
	if enabled {
		cmd = s.EnableSSL
	}
	if cmd == "" {
		return fmt.Errorf("no command configured to set ssl=%v", enabled)
	}
	shell := s.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	utils.Trace.Printf("Running SUT control: %s", cmd)
	out, err := exec.Command(shell, "-c", cmd).CombinedOutput()
	if len(out) > 0 {
		utils.Debug.Printf("SUT control output:\n%s", out)
	}
	if err != nil {
		return fmt.Errorf("sut control %q: %w", cmd, err)
	}
	return nil
}

//PromptController asks the operator to make the change and waits for an answer
type PromptController struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

//SetSSL prints the instruction and waits for y/n
func (p *PromptController) SetSSL(enabled bool) error {
	if p.reader == nil {
		in := p.In
		if in == nil {
			in = os.Stdin
		}
		p.reader = bufio.NewReader(in)
	}
	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	state := "disable"
	if enabled {
		state = "enable"
	}
	fmt.Fprintf(out, "[?] Please %s SSL for ActiveSync on the server under test, then confirm [y/n]: ", state)
	answer, err := p.reader.ReadString('\n')
	if err != nil && answer == "" {
		return fmt.Errorf("sut prompt: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	}
	return ErrDeclined
}

//New picks the controller configured in the sut section, nil when none is
func New(cfg utils.SUTConfig) Controller {
	switch {
	case cfg.SSLEnable != "" && cfg.SSLDisable != "":
		return &ScriptController{EnableSSL: cfg.SSLEnable, DisableSSL: cfg.SSLDisable}
	case cfg.Prompt:
		return &PromptController{}
	}
	return nil
}
