// Package wifi joins and restores wireless networks through NetworkManager's
// nmcli tool. The drone exposes its own access point, so the host has to hop
// onto the drone's network for a flight and back afterwards.
package wifi

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/banshee-data/vanishcap/internal/monitoring"
)

// runner executes one command and returns its combined output. Tests inject a
// fake; production uses nmcli.
type runner func(name string, args ...string) (string, error)

func execRunner(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	return string(out), err
}

// Manager switches wifi networks via nmcli and remembers the network that was
// active before the first Connect so ReconnectPrevious can restore it.
type Manager struct {
	log   *monitoring.Logger
	iface string
	run   runner

	previous string
}

// NewManager builds a Manager bound to the given interface. An empty iface
// lets nmcli pick the wifi device itself.
func NewManager(log *monitoring.Logger, iface string) *Manager {
	return &Manager{log: log, iface: iface, run: execRunner}
}

// Connect records the currently active SSID, then joins the requested
// network. Connecting to the already-active SSID is a no-op.
func (m *Manager) Connect(ssid, password string) error {
	current, err := m.activeSSID()
	if err != nil {
		m.log.Warnf("could not read active wifi network: %v", err)
	}
	if current == ssid {
		m.log.Infof("already on wifi network %q", ssid)
		return nil
	}
	if m.previous == "" {
		m.previous = current
	}

	args := []string{"device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	if m.iface != "" {
		args = append(args, "ifname", m.iface)
	}
	out, err := m.run("nmcli", args...)
	if err != nil {
		return fmt.Errorf("nmcli connect %q: %v: %s", ssid, err, strings.TrimSpace(out))
	}
	m.log.Infof("joined wifi network %q", ssid)
	return nil
}

// ReconnectPrevious rejoins the network that was active before Connect. If no
// previous network was recorded it does nothing.
func (m *Manager) ReconnectPrevious() error {
	if m.previous == "" {
		return nil
	}
	out, err := m.run("nmcli", "connection", "up", "id", m.previous)
	if err != nil {
		return fmt.Errorf("nmcli reconnect %q: %v: %s", m.previous, err, strings.TrimSpace(out))
	}
	m.log.Infof("restored wifi network %q", m.previous)
	m.previous = ""
	return nil
}

// activeSSID parses `nmcli -t -f active,ssid dev wifi` for the in-use network.
func (m *Manager) activeSSID() (string, error) {
	out, err := m.run("nmcli", "-t", "-f", "active,ssid", "dev", "wifi")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		active, ssid, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && active == "yes" {
			return ssid, nil
		}
	}
	return "", nil
}
