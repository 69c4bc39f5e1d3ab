package reconcile

import (
	"bufio"
	"bytes"
	"strings"
)

const remoteHostPrefix = "Host remote_"

// ParseRemoteHosts returns the hostnames declared as "Host remote_<name>" in
// an ssh client config, in file order and without duplicates.
func ParseRemoteHosts(data []byte) ([]string, error) {
	var hosts []string
	seen := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, remoteHostPrefix) {
			continue
		}
		name := strings.TrimSpace(line[len(remoteHostPrefix):])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		hosts = append(hosts, name)
	}
	return hosts, sc.Err()
}
