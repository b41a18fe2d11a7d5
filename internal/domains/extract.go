package domains

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

const commentMarker = "#"

// Extract reads r line by line and collects every hostname-shaped substring,
// lower-cased. Blank lines and lines starting with a comment marker are
// skipped, as are IP literals such as the sinkhole address of hosts files.
// Lines may be of any length. Only read errors are returned.
func Extract(r io.Reader) (Set, error) {
	out := Set{m: make(map[string]struct{})}

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		extractLine(out, line)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return Set{}, fmt.Errorf("reading domains: %w", err)
		}
	}
}

func extractLine(out Set, line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, commentMarker) {
		return
	}
	for _, match := range hostnamePattern.FindAllStringSubmatch(line, -1) {
		host := match[1]
		if net.ParseIP(host) != nil {
			continue
		}
		out.m[strings.ToLower(host)] = struct{}{}
	}
}

// ExtractString is Extract over an in-memory text.
func ExtractString(text string) Set {
	s, err := Extract(strings.NewReader(text))
	if err != nil {
		// a strings.Reader only ever reports io.EOF
		panic(err)
	}
	return s
}
