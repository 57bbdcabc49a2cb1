package providerpool

// AliasInput describes one aliased provider under an InputConfig: an
// alternate URL/credentials pair competing for the same logical input,
// potentially at a different priority.
type AliasInput struct {
	ID             uint16
	Name           string
	URL            string
	Username       string
	Password       string
	Priority       int16
	MaxConnections uint16
}

// InputConfig is one logical upstream input: a main provider plus any
// number of aliases, as read from operator configuration.
type InputConfig struct {
	ID             uint16
	Name           string
	URL            string
	Username       string
	Password       string
	Enabled        bool
	Priority       int16
	MaxConnections uint16
	Headers        map[string]string
	Aliases        []AliasInput
}

// inputsDiffer reports whether two InputConfigs differ in any field that
// requires rebuilding the lineup, per spec.md's hot-reload equality rule:
// enabled, max_connections, priority, url, username, password must match,
// and aliases must match by name with equal max_connections, priority,
// username, password, url.
func inputsDiffer(a, b InputConfig) bool {
	if a.Enabled != b.Enabled ||
		a.MaxConnections != b.MaxConnections ||
		a.Priority != b.Priority ||
		a.Username != b.Username ||
		a.Password != b.Password ||
		a.URL != b.URL {
		return true
	}
	if len(a.Aliases) != len(b.Aliases) {
		return true
	}
	for _, bAlias := range b.Aliases {
		found := false
		for _, aAlias := range a.Aliases {
			if aAlias.Name != bAlias.Name {
				continue
			}
			found = true
			if aAlias.MaxConnections != bAlias.MaxConnections ||
				aAlias.Priority != bAlias.Priority ||
				aAlias.Username != bAlias.Username ||
				aAlias.Password != bAlias.Password ||
				aAlias.URL != bAlias.URL {
				return true
			}
			break
		}
		if !found {
			return true
		}
	}
	return false
}
