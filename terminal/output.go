package terminal

import (
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Terminal control sequences
const (
	Banner       = "\r\n\033[1;34mConnected to runbox terminal\033[0m\r\n"
	compiling    = "Compiling...\r\n"
	busyNotice   = "\r\n\033[33mCompilation in progress, input ignored\033[0m\r\n"
	idleNotice   = "\r\n\033[33mNo program is running. Send a project to start one.\033[0m\r\n"
	inputDropped = "\r\n\033[33mInput buffer full, input dropped\033[0m\r\n"
)

func runningLine(entry string) string {
	return "Running " + entry + "...\r\n\r\n"
}

func finishedLine(code int) string {
	return "\r\n\033[1;30mProcess finished with exit code " + strconv.Itoa(code) + "\033[0m\r\n"
}

func errorLine(msg string) string {
	return "\r\n\033[1;31mError: " + crlf(msg) + "\033[0m\r\n"
}

// crlf turns bare newlines into terminal line breaks.
func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// completePrefix returns the length of the longest prefix of b that does not
// end inside a multi-byte UTF-8 sequence.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}

// forward copies r to send in chunks as data arrives, never splitting a
// UTF-8 sequence across two chunks.
func forward(r io.Reader, bufSize int, send func(string)) error {
	buf := make([]byte, bufSize+utf8.UTFMax)
	pending := 0
	for {
		n, err := r.Read(buf[pending : pending+bufSize])
		total := pending + n
		if total > 0 {
			cut := completePrefix(buf[:total])
			if err != nil {
				cut = total
			}
			if cut > 0 {
				send(string(buf[:cut]))
			}
			pending = copy(buf, buf[cut:total])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
