// miditest is a standalone smoke tester for MIDI output: list ports,
// send a test note, or silence a stuck synth. Useful when the main
// binary hears nothing and you want to rule out the port.
package main

import (
	"fmt"
	"os"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"neuroseq/midi"
)

func main() {
	defer midi.Close()

	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "list":
		listPorts()
	case "note":
		testNote(arg(2))
	case "silence":
		silence(arg(2))
	default:
		usage()
	}
}

func arg(i int) string {
	if len(os.Args) > i {
		return os.Args[i]
	}
	return ""
}

func usage() {
	fmt.Println("MIDI Test Scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list            - List all MIDI ports")
	fmt.Println("  note [port]     - Send a middle C to the port")
	fmt.Println("  silence [port]  - Send all-notes-off on every channel")
}

func listPorts() {
	fmt.Println("=== MIDI Input Ports ===")
	for i, name := range midi.InPorts() {
		fmt.Printf("  %d: %s\n", i, name)
	}
	fmt.Println("\n=== MIDI Output Ports ===")
	for i, name := range midi.OutPorts() {
		fmt.Printf("  %d: %s\n", i, name)
	}
}

func testNote(port string) {
	send, closePort, err := midi.OpenSender(port)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer closePort()

	fmt.Println("Sending middle C (500ms)...")
	if err := send(gomidi.NoteOn(0, 60, 100)); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	time.Sleep(500 * time.Millisecond)
	if err := send(gomidi.NoteOff(0, 60)); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("Done")
}

func silence(port string) {
	send, closePort, err := midi.OpenSender(port)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer closePort()

	for ch := 0; ch < 16; ch++ {
		// CC 123 = all notes off
		if err := send(gomidi.ControlChange(uint8(ch), 123, 0)); err != nil {
			fmt.Printf("Error on channel %d: %v\n", ch, err)
		}
	}
	fmt.Println("Sent all-notes-off on 16 channels")
}
