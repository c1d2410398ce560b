package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/straytrace/stray/tracer"
)

// Interactive mode: advance the trace one event at a time from a prompt.
func stepLoop(session *tracer.Session) error {
	rl, err := readline.New("stray > ")
	if err != nil {
		return err
	}
	defer rl.Close()

	printer := newPrinter(os.Stdout)
	defer printer.flush()

	lastLine := "next"
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			line = lastLine
		}
		lastLine = line

		switch {
		case strings.HasPrefix("next", line):
			event, err := session.Next()
			if err != nil {
				return err
			}
			printer.HandleEvent(event)
			if event.Terminal() {
				return nil
			}
		case strings.HasPrefix("continue", line):
			for {
				event, err := session.Next()
				if err != nil {
					return err
				}
				printer.HandleEvent(event)
				if event.Terminal() {
					return nil
				}
			}
		case strings.HasPrefix("dis", line):
			instruction, err := session.CurrentInstruction()
			if err != nil {
				fmt.Println("cannot disassemble:", err)
				continue
			}
			fmt.Println(instruction)
		case strings.HasPrefix("detach", line):
			return session.Detach()
		case strings.HasPrefix("kill", line):
			return session.Kill()
		case strings.HasPrefix("quit", line):
			return nil
		default:
			fmt.Println("invalid command:", line)
			fmt.Println("commands: next continue dis detach kill quit")
		}
	}
}
