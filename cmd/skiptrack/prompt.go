package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/mmcdole/skiptrack/internal/domain"
)

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// confirm asks before a destructive change. Without a terminal the caller must pass -yes.
func (c *cli) confirm(yes bool, format string, args ...any) error {
	if yes {
		return nil
	}
	question := fmt.Sprintf(format, args...)
	if !c.interactive {
		return domain.Validationf("%s: pass -yes to confirm without a terminal", question)
	}

	fmt.Fprintf(c.out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	default:
		return domain.Validationf("aborted")
	}
}
