package main

import (
	"fmt"
	"net"
	"strings"
)

// listenerURL renders a reachable URL for a listener so startup logs can be
// copied straight into a client.
func listenerURL(scheme, address, path string) string {
	return fmt.Sprintf("%s://%s%s", scheme, normaliseHostPort(address), path)
}

func normaliseHostPort(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
