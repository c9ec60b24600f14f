// Package midi wraps output-port discovery and opening for the player.
package midi

import (
	"fmt"
	"strings"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
)

// OutPorts returns the names of all available MIDI output ports.
func OutPorts() []string {
	ports := gomidi.GetOutPorts()
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.String()
	}
	return names
}

// InPorts returns the names of all available MIDI input ports.
func InPorts() []string {
	ports := gomidi.GetInPorts()
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.String()
	}
	return names
}

// OpenOut opens the output port whose name contains the given substring
// (case-insensitive). An empty name opens the first available port.
func OpenOut(name string) (drivers.Out, error) {
	ports := gomidi.GetOutPorts()
	if len(ports) == 0 {
		return nil, fmt.Errorf("no MIDI output ports available")
	}

	if name == "" {
		out := ports[0]
		if err := out.Open(); err != nil {
			return nil, err
		}
		return out, nil
	}

	want := strings.ToLower(name)
	for _, p := range ports {
		if strings.Contains(strings.ToLower(p.String()), want) {
			if err := p.Open(); err != nil {
				return nil, err
			}
			return p, nil
		}
	}
	return nil, fmt.Errorf("no MIDI output port matching %q", name)
}

// OpenSender opens the named output port and returns a send function
// plus a close function for the port.
func OpenSender(name string) (func(gomidi.Message) error, func(), error) {
	out, err := OpenOut(name)
	if err != nil {
		return nil, nil, err
	}
	send, err := gomidi.SendTo(out)
	if err != nil {
		out.Close()
		return nil, nil, err
	}
	return send, func() { out.Close() }, nil
}

// Close shuts down the MIDI driver. Call once on program exit.
func Close() {
	gomidi.CloseDriver()
}
