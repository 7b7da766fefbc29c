package workspace

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Host is one inventory host line: the host name plus its inline variables
// (ansible_host, ansible_user, ...). The name lives under the "name" key.
type Host map[string]string

// Inventory returns the folder's inventory, parsed into groups and raw.
func (w *Workspace) Inventory(folder string) (map[string][]Host, string, error) {
	path, err := w.existingFile(folder, inventoryNames)
	if err != nil {
		return nil, "", err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return parseInventory(string(raw)), string(raw), nil
}

// WriteInventoryRaw replaces the inventory file with raw text.
func (w *Workspace) WriteInventoryRaw(folder, raw string) error {
	return w.writeFile(folder, inventoryNames, []byte(raw))
}

// WriteInventory replaces the inventory file with the structured groups,
// rendered back into the INI dialect.
func (w *Workspace) WriteInventory(folder string, groups map[string][]Host) error {
	return w.writeFile(folder, inventoryNames, []byte(formatInventory(groups)))
}

// parseInventory understands the Ansible INI dialect: [group] sections and
// host lines of the form "name key=value key=value". Lines outside any
// group, comments and blanks are skipped. This is intentionally lenient --
// the runner hands the raw file to ansible-playbook untouched, parsing here
// only feeds the editing UI.
func parseInventory(raw string) map[string][]Host {
	groups := map[string][]Host{}
	var current string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			if _, ok := groups[current]; !ok {
				groups[current] = []Host{}
			}
			continue
		}
		if current == "" {
			continue
		}
		fields := strings.Fields(line)
		host := Host{"name": fields[0]}
		for _, f := range fields[1:] {
			if k, v, ok := strings.Cut(f, "="); ok {
				host[k] = v
			}
		}
		groups[current] = append(groups[current], host)
	}
	return groups
}

func formatInventory(groups map[string][]Host) string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sb, "[%s]\n", name)
		for _, host := range groups[name] {
			sb.WriteString(host["name"])
			keys := make([]string, 0, len(host))
			for k := range host {
				if k != "name" {
					keys = append(keys, k)
				}
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&sb, " %s=%s", k, host[k])
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
