package provider

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/veesix-networks/dpsync/pkg/dataplane"
	"github.com/veesix-networks/dpsync/pkg/mirror"
)

const MaxShowPort = 32

var (
	ErrJSONUnsupported = errors.New("json output not supported")
	ErrPortRange       = fmt.Errorf("port must be between 1 and %d", MaxShowPort)
)

// ShowPorts renders the mirrored interfaces. port selects one interface by
// dataplane id, 0 lists all of them.
func (p *Provider) ShowPorts(w io.Writer, port int, detail, json bool) error {
	if json {
		return ErrJSONUnsupported
	}
	if port < 0 || port > MaxShowPort {
		return ErrPortRange
	}

	var ifaces []*mirror.Interface
	if port == 0 {
		ifaces = p.store.List()
	} else if iface, ok := p.store.Get(uint32(port)); ok {
		ifaces = append(ifaces, iface)
	}

	if detail {
		return p.showPortsDetail(w, ifaces)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Port", "Device", "IfName", "IfIndex", "VRF", "State", "MTU", "MAC", "Addresses"})
	table.SetAutoWrapText(false)

	for _, iface := range ifaces {
		table.Append([]string{
			strconv.FormatUint(uint64(iface.ID), 10),
			device(iface),
			iface.Name,
			strconv.Itoa(p.store.IfIndex(iface.ID)),
			strconv.FormatUint(uint64(iface.VRF), 10),
			state(iface),
			strconv.FormatUint(uint64(iface.MTU), 10),
			iface.MAC.String(),
			prefixes(iface, ","),
		})
	}

	table.Render()
	return nil
}

func (p *Provider) showPortsDetail(w io.Writer, ifaces []*mirror.Interface) error {
	fmt.Fprintf(w, "Dataplane ports: %d (connection %s)\n", len(ifaces), p.State())

	for _, iface := range ifaces {
		fmt.Fprintf(w, "\nPort %d\n", iface.ID)

		table := tablewriter.NewWriter(w)
		table.SetBorder(false)
		table.SetColumnSeparator("")
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetAutoWrapText(false)

		table.Append([]string{"name", iface.Name})
		table.Append([]string{"device", device(iface)})
		table.Append([]string{"ifindex", strconv.Itoa(p.store.IfIndex(iface.ID))})
		table.Append([]string{"vrf", strconv.FormatUint(uint64(iface.VRF), 10)})
		table.Append([]string{"state", state(iface)})
		table.Append([]string{"flags", flags(iface)})
		table.Append([]string{"mtu", strconv.FormatUint(uint64(iface.MTU), 10)})
		table.Append([]string{"mac", iface.MAC.String()})
		if iface.Kind == dataplane.KindVLAN {
			table.Append([]string{"parent", strconv.FormatUint(uint64(iface.ParentID), 10)})
			table.Append([]string{"vlan", strconv.FormatUint(uint64(iface.VlanID), 10)})
		}
		table.Append([]string{"addresses", prefixes(iface, " ")})
		table.Render()
	}
	return nil
}

func device(iface *mirror.Interface) string {
	if iface.Kind == dataplane.KindVLAN {
		return fmt.Sprintf("vlan.%d", iface.VlanID)
	}
	return iface.Kind.String()
}

func state(iface *mirror.Interface) string {
	switch {
	case iface.IsUp() && iface.IsRunning():
		return "up"
	case iface.IsUp():
		return "no-carrier"
	default:
		return "down"
	}
}

func flags(iface *mirror.Interface) string {
	var out []string
	if iface.IsUp() {
		out = append(out, "up")
	}
	if iface.Flags.Has(dataplane.IfFlagRunning) {
		out = append(out, "running")
	}
	if iface.Flags.Has(dataplane.IfFlagPromisc) {
		out = append(out, "promisc")
	}
	if iface.Flags.Has(dataplane.IfFlagAllMulti) {
		out = append(out, "allmulti")
	}
	return strings.Join(out, ",")
}

func prefixes(iface *mirror.Interface, sep string) string {
	out := make([]string, 0, len(iface.Addresses))
	for _, p := range iface.Addresses {
		out = append(out, p.String())
	}
	return strings.Join(out, sep)
}
