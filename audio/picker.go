package audio

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// SelectSource presents an interactive source picker and returns the chosen
// source. The list is ordered so meeting apps come first. A single source is
// returned without prompting.
func SelectSource(ctx Context) (*Source, error) {
	sources := ListSources(ctx)

	if len(sources) == 0 {
		return nil, fmt.Errorf("no capturable sources found")
	}

	if len(sources) == 1 {
		return &sources[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}

	defer term.Restore(fd, oldState)

	cursor := 0
	renderList := func() {
		fmt.Print("\r\x1b[J")
		fmt.Print("Select capture source (↑/↓, Enter to confirm):\r\n\r\n")
		for i, s := range sources {
			tag := ""
			if s.PriorityRank >= 0 {
				tag = " \x1b[32m[meeting app]\x1b[0m"
			}
			if i == cursor {
				fmt.Printf("  \x1b[1;36m▶ %s%s\x1b[0m\r\n", s.DisplayName, tag)
			} else {
				fmt.Printf("    %s%s\r\n", s.DisplayName, tag)
			}
		}
	}

	renderList()

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}

		if n == 1 {
			switch buf[0] {
			case 13: // Enter
				fmt.Print("\r\n")
				term.Restore(fd, oldState)
				return &sources[cursor], nil
			case 3: // Ctrl+C
				fmt.Print("\r\n")
				term.Restore(fd, oldState)
				os.Exit(130)
			case 'j': // vim down
				if cursor < len(sources)-1 {
					cursor++
				}
			case 'k': // vim up
				if cursor > 0 {
					cursor--
				}
			}
		} else if n == 3 && buf[0] == 0x1b && buf[1] == '[' {
			switch buf[2] {
			case 'A': // Up arrow
				if cursor > 0 {
					cursor--
				}
			case 'B': // Down arrow
				if cursor < len(sources)-1 {
					cursor++
				}
			}
		}

		lines := len(sources) + 2
		fmt.Printf("\x1b[%dA", lines)
		renderList()
	}
}
