package env

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

// ParamPrefix prefixes invocation parameters exported to shell units.
const ParamPrefix = "HITSUITE_PARAM_"

// MergeVariables merges maps left to right; later sources win.
func MergeVariables(sources ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, src := range sources {
		for k, v := range src {
			result[k] = v
		}
	}
	return result
}

// Environ builds the process environment of one invocation: the OS
// environment, then vars (from .env files), then the invocation's identity
// and parameters.
func Environ(vars map[string]string, inv suite.Invocation) []string {
	merged := make(map[string]string)
	for _, e := range os.Environ() {
		if k, v, ok := strings.Cut(e, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range vars {
		merged[k] = v
	}

	if u := inv.Unit; u != nil {
		merged["HITSUITE_UNIT"] = u.Name
		merged["HITSUITE_CLASS"] = u.Class
		if u.IsConfiguration() {
			merged["HITSUITE_CONFIG"] = string(u.Config)
		}
	}
	merged["HITSUITE_TEST"] = inv.Test
	merged["HITSUITE_INVOCATION"] = strconv.Itoa(inv.Index)
	merged["HITSUITE_ATTEMPT"] = strconv.Itoa(inv.Attempt)
	for k, v := range inv.Parameters {
		merged[ParamPrefix+ParamKey(k)] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	environ := make([]string, 0, len(keys))
	for _, k := range keys {
		environ = append(environ, k+"="+merged[k])
	}
	return environ
}

// ParamKey turns a parameter name into an environment variable suffix:
// upper case, with every character outside [A-Z0-9_] replaced by '_'.
func ParamKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// LoadSystemEnv returns the OS variables starting with prefix, prefix removed.
func LoadSystemEnv(prefix string) map[string]string {
	result := make(map[string]string)
	for _, e := range os.Environ() {
		key, value, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		if prefix == "" {
			result[key] = value
		} else if len(key) > len(prefix) && strings.HasPrefix(key, prefix) {
			result[key[len(prefix):]] = value
		}
	}
	return result
}
