package daemon

import "net"

// netInterfaceByName resolves device to its kernel interface index using
// the standard library's net package, the same lookup fox.cpp performed
// via if_nametoindex(3) before opening its netlink socket.
func netInterfaceByName(device string) (int, error) {
	iface, err := net.InterfaceByName(device)
	if err != nil {
		return 0, err
	}
	return iface.Index, nil
}
