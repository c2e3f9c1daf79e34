// Package link carries Ethernet frames between a router interface and the
// outside world. Each transport moves whole frames; framing and checksums
// are left to the caller.
package link

import (
	"context"
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/vrouter/internal/core"
)

// Link is a bidirectional frame channel attached to one interface.
type Link interface {
	// Receive blocks until a frame arrives, the link is closed or ctx is
	// done.
	Receive(ctx context.Context) ([]byte, error)
	// Send transmits one frame.
	Send(frame []byte) error
	Close() error
}

// Type names a link transport.
type Type string

const (
	TypeUDP      Type = "udp"
	TypeUnixgram Type = "unixgram"
)

// Config selects a transport and carries its free-form options. In-memory
// pipes have no peer outside the process and are built with NewPipe.
type Config struct {
	Type    Type           `mapstructure:"type" yaml:"type"`
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// maxFrame bounds a single read. Frames above the Ethernet maximum are
// still read whole so the codec can report them.
const maxFrame = 9216

type constructor func(opts map[string]any) (Link, error)

var registry = map[Type]constructor{
	TypeUDP:      openUDP,
	TypeUnixgram: openUnixgram,
}

// Open creates the link described by cfg.
func Open(cfg Config) (Link, error) {
	ctor, ok := registry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("link type %q: %w", cfg.Type, core.ErrUnknownLinkType)
	}
	l, err := ctor(cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("open %s link: %w", cfg.Type, err)
	}
	return l, nil
}

// Types returns the registered transport names, sorted.
func Types() []string {
	names := make([]string, 0, len(registry))
	for t := range registry {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}

// Validate checks that cfg names a known transport and that its options
// decode.
func Validate(cfg Config) error {
	if _, ok := registry[cfg.Type]; !ok {
		return fmt.Errorf("link type %q: %w", cfg.Type, core.ErrUnknownLinkType)
	}
	var opts socketOptions
	return decodeOptions(cfg.Options, &opts)
}

// socketOptions configures the socket transports.
type socketOptions struct {
	// Local is the address or path to bind.
	Local string `mapstructure:"local"`
	// Remote is the peer frames are sent to. When empty the link replies
	// to the last address it received from.
	Remote string `mapstructure:"remote"`
	// ReadBuffer sets the socket receive buffer, in bytes.
	ReadBuffer int `mapstructure:"read_buffer"`
}

func decodeOptions(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("decode link options: %w", err)
	}
	return nil
}
