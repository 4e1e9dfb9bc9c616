package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/apex/log"
)

// RotationPlaceholder is replaced by the rotation angle in command arguments
const RotationPlaceholder = "{rotation}"

// DefaultCommand captures a JPEG to stdout on a Raspberry Pi camera
const DefaultCommand = "libcamera-still -n -t 1 -e jpg -o - --rotation " + RotationPlaceholder

const maxStderr = 4096

// CommandCamera runs an external still-capture command and delivers its stdout
type CommandCamera struct {
	args    []string
	timeout time.Duration
	angle   atomic.Int32
}

// NewCommandCamera splits command on whitespace. A zero timeout means 30s.
func NewCommandCamera(command string, timeout time.Duration) (*CommandCamera, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, errors.New("capture: empty camera command")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &CommandCamera{args: args, timeout: timeout}
	c.angle.Store(90)
	return c, nil
}

// SupportsRotationAngle reports right angles as supported
func (c *CommandCamera) SupportsRotationAngle(angle int) bool {
	switch angle {
	case 0, 90, 180, 270:
		return true
	}
	return false
}

// SetRotationAngle sets the angle substituted into the next command
func (c *CommandCamera) SetRotationAngle(angle int) {
	c.angle.Store(int32(angle))
}

// CapturePhoto starts the command in the background
func (c *CommandCamera) CapturePhoto(deliver Delegate) {
	rotation := strconv.Itoa(int(c.angle.Load()))
	args := make([]string, len(c.args))
	for i, arg := range c.args {
		args[i] = strings.ReplaceAll(arg, RotationPlaceholder, rotation)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		start := time.Now()
		if err := cmd.Run(); err != nil {
			msg := stderr.String()
			if len(msg) > maxStderr {
				msg = msg[:maxStderr]
			}
			log.WithError(err).WithField("command", args[0]).Warn("capture: camera command failed")
			deliver(nil, fmt.Errorf("%s: %w: %s", args[0], err, strings.TrimSpace(msg)))
			return
		}

		log.WithFields(log.Fields{
			"command":  args[0],
			"bytes":    stdout.Len(),
			"rotation": rotation,
			"duration": time.Since(start).String(),
		}).Debug("capture: photo taken")
		deliver(stdout.Bytes(), nil)
	}()
}
