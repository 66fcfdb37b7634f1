package wifi

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/nugget/wxnode/internal/config"
)

// Open returns the radio driver selected by cfg.
func Open(cfg config.WiFiConfig) (Radio, error) {
	switch cfg.Driver {
	case config.RadioNMCLI:
		return NewNMCLI(cfg.Interface, cfg.CommandTimeout), nil
	case config.RadioNone:
		return &Wired{Interface: cfg.Interface}, nil
	default:
		return nil, fmt.Errorf("unknown wifi driver %q", cfg.Driver)
	}
}

// runFunc executes a command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NMCLI drives NetworkManager through the nmcli command. Every command
// runs under a timeout so a wedged NetworkManager cannot hold the
// control loop past the watchdog.
type NMCLI struct {
	iface   string
	timeout time.Duration
	run     runFunc
}

// NewNMCLI returns an NMCLI radio for iface.
func NewNMCLI(iface string, timeout time.Duration) *NMCLI {
	return &NMCLI{iface: iface, timeout: timeout, run: execRun}
}

func (n *NMCLI) Activate(ctx context.Context) error {
	_, err := n.nmcli(ctx, "radio", "wifi", "on")
	return err
}

// Connect asks NetworkManager to associate with ssid. --wait 0 makes
// nmcli return as soon as the request is queued; the session polls for
// the outcome.
func (n *NMCLI) Connect(ctx context.Context, ssid, password string) error {
	args := []string{"--wait", "0", "device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	args = append(args, "ifname", n.iface)
	_, err := n.nmcli(ctx, args...)
	return err
}

// IsConnected reports whether NetworkManager has the device fully
// activated (state 100) and the interface holds an address.
func (n *NMCLI) IsConnected() bool {
	out, err := n.nmcli(context.Background(), "-g", "GENERAL.STATE", "device", "show", n.iface)
	if err != nil {
		return false
	}
	if !strings.HasPrefix(strings.TrimSpace(string(out)), "100") {
		return false
	}
	return n.Address() != ""
}

func (n *NMCLI) Address() string {
	return interfaceAddress(n.iface)
}

func (n *NMCLI) nmcli(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	out, err := n.run(ctx, "nmcli", args...)
	if err != nil {
		msg := string(bytes.TrimSpace(out))
		if msg == "" {
			return out, fmt.Errorf("nmcli %s: %w", args[0], err)
		}
		return out, fmt.Errorf("nmcli %s: %w: %s", args[0], err, msg)
	}
	return out, nil
}

// Wired is a link the device does not manage: wired Ethernet, or a
// host that associates on its own. It is connected whenever the
// interface (or, if Interface is empty, any interface) has a global
// unicast address.
type Wired struct {
	Interface string
}

func (w *Wired) Activate(context.Context) error { return nil }

func (w *Wired) Connect(context.Context, string, string) error { return nil }

func (w *Wired) IsConnected() bool {
	return w.Address() != ""
}

func (w *Wired) Address() string {
	if w.Interface != "" {
		return interfaceAddress(w.Interface)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if addr := interfaceAddress(iface.Name); addr != "" {
			return addr
		}
	}
	return ""
}

// interfaceAddress returns the first global unicast address on the
// named interface, preferring IPv4.
func interfaceAddress(name string) string {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return ""
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return ""
	}

	var v6 string
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || !ipnet.IP.IsGlobalUnicast() {
			continue
		}
		if ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
		if v6 == "" {
			v6 = ipnet.IP.String()
		}
	}
	return v6
}
