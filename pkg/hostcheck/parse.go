package hostcheck

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vrlab-network/vrlab/pkg/controlplane"
)

// parseInterfaces parses `vhostctl node-interfaces` output into a snapshot.
//
// One interface per line:
//
//	INDEX NAME NET
//	0     f0/0 net=3
//	1     f0/1 -
//	16    f1/0 net=7
//
// "-" in the NET column means unbound. Header lines and blank lines are
// skipped; anything else is a parse error rather than a silently dropped
// line, since a misread here would defeat the cross-check.
func parseInterfaces(output string) (controlplane.InterfaceSnapshot, error) {
	snap := make(controlplane.InterfaceSnapshot)

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "INDEX") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed interface line %q", line)
		}

		index, err := strconv.Atoi(fields[0])
		if err != nil || index < 0 {
			return nil, fmt.Errorf("bad interface index in line %q", line)
		}

		st := controlplane.InterfaceState{Name: fields[1]}
		switch net := fields[2]; {
		case net == "-":
			// unbound
		case strings.HasPrefix(net, "net="):
			id, err := strconv.Atoi(net[len("net="):])
			if err != nil {
				return nil, fmt.Errorf("bad network id in line %q", line)
			}
			st.Network = controlplane.NetworkID(id)
			st.Bound = true
		default:
			return nil, fmt.Errorf("bad network column in line %q", line)
		}

		if _, dup := snap[index]; dup {
			return nil, fmt.Errorf("duplicate interface index %d", index)
		}
		snap[index] = st
	}

	return snap, nil
}
