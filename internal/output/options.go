package output

import "io"

// Option configures a Printer.
type Option func(*Printer)

// WithStyles sets the style provider. An unavailable provider is ignored.
func WithStyles(provider StyleProvider) Option {
	return func(p *Printer) {
		if provider != nil && provider.IsAvailable() {
			p.styleProvider = provider
		}
	}
}

// WithWriter sets the destination; the default is os.Stdout.
func WithWriter(writer io.Writer) Option {
	return func(p *Printer) {
		if writer != nil {
			p.writer = writer
		}
	}
}

// WithMode sets the render mode.
func WithMode(mode Mode) Option {
	return func(p *Printer) {
		p.mode = mode
	}
}

// JSON makes the printer emit JSON records.
func JSON() Option {
	return WithMode(ModeJSON)
}

// TestMode forces plain output without terminal detection.
func TestMode() Option {
	return func(p *Printer) {
		p.mode = ModePlain
		p.styleProvider = nil
	}
}

// Silent suppresses all output.
func Silent() Option {
	return func(p *Printer) {
		p.silent = true
	}
}
