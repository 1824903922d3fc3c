// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
)

// GenerateFingerprint derives a stable identifier for this installation
// from machine traits: primary MAC address, hostname, CPU identity, and
// OS/architecture. Only the SHA-256 of the combined traits leaves this
// function; no raw identifier is exposed. The value is computed fresh at
// activation time, not cached between sessions.
func GenerateFingerprint() string {
	traits := []string{
		primaryMACAddress(),
		machineHostname(),
		cpuIdentity(),
		runtime.GOOS,
		runtime.GOARCH,
	}

	sum := sha256.Sum256([]byte(strings.Join(traits, "|")))
	fingerprint := hex.EncodeToString(sum[:])

	log.Debug().
		Str("fingerprint", MaskKey(fingerprint)).
		Msg("Generated hardware fingerprint")

	return fingerprint
}

// primaryMACAddress returns the MAC of the first up, non-loopback
// interface, falling back to any interface with a hardware address.
func primaryMACAddress() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "unknown-mac"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac
		}
	}

	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac
		}
	}

	return "unknown-mac"
}

func machineHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown-host"
	}

	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "unknown-host"
	}
	return hostname
}

// cpuIdentity returns an OS-specific CPU trait. The trait only feeds the
// fingerprint hash, so a coarse fallback is acceptable.
func cpuIdentity() string {
	switch runtime.GOOS {
	case "linux":
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") {
					return line
				}
			}
		}
	case "windows":
		if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
			return procID
		}
	}

	return fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
}
