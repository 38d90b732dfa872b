package embedded

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dop251/goja"
	"github.com/go-resty/resty/v2"
)

// Program is a compiled server module. It is compiled once and run by
// every process generation.
type Program struct {
	name string
	prog *goja.Program
	size int
}

// Compile compiles JavaScript source into a reusable program.
func Compile(name, source string) (*Program, error) {
	prog, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return &Program{name: name, prog: prog, size: len(source)}, nil
}

// Name returns the module name used in stack traces.
func (p *Program) Name() string { return p.name }

// Size returns the source length in bytes.
func (p *Program) Size() int { return p.size }

// Load reads a module from a file path or fetches it from an http(s) URL
// and compiles it. client may be nil for file locations.
func Load(ctx context.Context, location string, client *resty.Client) (*Program, error) {
	var source string

	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		if client == nil {
			client = resty.New()
		}
		resp, err := client.R().SetContext(ctx).Get(location)
		if err != nil {
			return nil, fmt.Errorf("fetch module %s: %w", location, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("fetch module %s: status %d", location, resp.StatusCode())
		}
		source = string(resp.Body())
	} else {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("read module: %w", err)
		}
		source = string(data)
	}

	return Compile(location, source)
}
