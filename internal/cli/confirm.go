package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ConfirmPhrase must be typed exactly to run a destructive mode.
const ConfirmPhrase = "DELETE ALL"

// confirm reports whether the operator agreed. A non-empty flag value is
// used as is; otherwise one line is read from in after prompting on out.
// End of input without an answer counts as a refusal.
func confirm(flagValue string, in io.Reader, out io.Writer) (bool, error) {
	answer := flagValue
	if answer == "" {
		fmt.Fprintf(out, "Type '%s' to confirm: ", ConfirmPhrase)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		fmt.Fprintln(out)
		answer = strings.TrimRight(line, "\r\n")
	}
	return answer == ConfirmPhrase, nil
}
