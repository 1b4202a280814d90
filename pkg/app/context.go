package app

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
)

// Context holds application-wide configuration and state
type Context struct {
	context.Context

	// Output preferences
	OutputFormat string
	Verbose      bool
	Quiet        bool

	// ConfigFile overrides the config search path when set
	ConfigFile string

	// Common timeouts
	DefaultTimeout time.Duration

	// Progress reporting
	ProgressCallback func(message string, percent int)
}

// NewContext creates a new application context logging to stderr
func NewContext() *Context {
	return &Context{
		Context:        context.Background(),
		DefaultTimeout: 30 * time.Minute,
	}
}

// SetupLogging attaches a logrus logger to the context. Verbose enables
// debug output, quiet limits it to errors.
func (c *Context) SetupLogging(out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(c.logLevel())
	c.Context = log.WithLogger(c.Context, logrus.NewEntry(logger))
}

func (c *Context) logLevel() logrus.Level {
	switch {
	case c.Quiet:
		return logrus.ErrorLevel
	case c.Verbose:
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// WithTimeout creates a context with timeout
func (c *Context) WithTimeout(timeout time.Duration) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	newCtx := *c
	newCtx.Context = ctx
	return &newCtx, cancel
}

// WithCancel creates a cancellable context
func (c *Context) WithCancel() (*Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(c.Context)
	newCtx := *c
	newCtx.Context = ctx
	return &newCtx, cancel
}

// SetProgress sets the progress callback function
func (c *Context) SetProgress(callback func(string, int)) {
	c.ProgressCallback = callback
}

// Progress reports progress if callback is set
func (c *Context) Progress(message string, percent int) {
	if c.ProgressCallback != nil {
		c.ProgressCallback(message, percent)
	}
}

// Log writes a debug message through the context logger
func (c *Context) Log(message string) {
	log.G(c).Debug(message)
}

// Error writes an error message through the context logger
func (c *Context) Error(message string) {
	log.G(c).Error(message)
}
