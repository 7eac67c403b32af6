package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ParseTCPKeepAlive parses on, off, or keepidle:keepintvl:keepcnt with the
// first two in seconds.
func ParseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}

	var n [3]int
	for i, name := range []string{"keepidle", "keepintvl", "keepcnt"} {
		v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return net.KeepAliveConfig{}, fmt.Errorf("%s: %w", name, err)
		}
		if v <= 0 {
			return net.KeepAliveConfig{}, fmt.Errorf("%s: must be > 0", name)
		}
		n[i] = v
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(n[0]) * time.Second,
		Interval: time.Duration(n[1]) * time.Second,
		Count:    n[2],
	}, nil
}
