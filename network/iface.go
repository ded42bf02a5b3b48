package network

import (
	"context"
	"net"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// IfaceLink reads link truth from a named OS network interface.
// Association itself belongs to the host (wpa_supplicant, DHCP); an
// optional helper command can be configured to nudge it.
type IfaceLink struct {
	// Name is the interface to watch, e.g. "wlan0".
	Name string

	// AssociateCmd, if non-empty, is run (via the shell) on Associate to
	// trigger (re)association.
	AssociateCmd string
}

// Associate runs the configured helper command, if any.
func (l *IfaceLink) Associate(ctx context.Context) error {
	if l.AssociateCmd == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", l.AssociateCmd)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "associate command failed: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// Status reports whether the interface is up with a non-loopback address.
func (l *IfaceLink) Status(ctx context.Context) (LinkStatus, error) {
	iface, err := net.InterfaceByName(l.Name)
	if err != nil {
		return LinkStatus{}, errors.Wrapf(err, "no interface %q", l.Name)
	}
	if iface.Flags&net.FlagUp == 0 {
		return LinkStatus{}, nil
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return LinkStatus{}, err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.IsLinkLocalUnicast() {
			continue
		}
		return LinkStatus{Up: true, LocalAddr: ipNet.IP.String()}, nil
	}
	return LinkStatus{}, errNoUsableAddress
}
