package router

import "strings"

func (m *Router) helpText(prefix string, path []string) string {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		lines := []string{"📚 **Commands** (use `" + prefix + "help <cmd>`):"}
		for _, name := range root.childNames() {
			n, _ := root.child(name)
			lines = append(lines, helpLine(prefix+name, n))
		}
		return strings.Join(lines, "\n")
	}

	n := root.find(path)
	if n == nil {
		if len(path) == 1 {
			if leaf, ok := alias[path[0]]; ok && leaf.cmd != nil {
				return m.helpText(prefix, splitRoute(leaf.cmd.Route))
			}
		}
		return "Command not found. Try `" + prefix + "help`"
	}

	var lines []string
	if n.cmd != nil {
		lines = append(lines, "📌 **"+n.cmd.Route+"**", n.cmd.Description)
		if n.cmd.Usage != "" {
			lines = append(lines, "Usage: `"+prefix+n.cmd.Usage+"`")
		}
		if n.cmd.Access != AccessEveryone {
			lines = append(lines, "Requires: "+n.cmd.Access.String())
		}
	} else {
		lines = append(lines, "📚 **"+prefix+strings.Join(path, " ")+"** subcommands:")
	}
	if len(n.children) > 0 {
		base := prefix + strings.Join(path, " ") + " "
		for _, child := range n.childNames() {
			cn, _ := n.child(child)
			lines = append(lines, helpLine(base+child, cn))
		}
	}
	return strings.Join(filterEmpty(lines), "\n")
}

func helpLine(label string, n *cmdNode) string {
	if len(n.children) > 0 {
		label += " …"
	}
	if n.cmd != nil && n.cmd.Description != "" {
		return "- `" + label + "`: " + n.cmd.Description
	}
	return "- `" + label + "`"
}

func filterEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
