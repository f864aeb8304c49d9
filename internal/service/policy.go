package service

import (
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"
)

// DefaultVerbs is the built-in minimum dispatched when neither a policy file
// nor a capability record widens the set.
var DefaultVerbs = []string{"get", "describe", "logs", "events", "top"}

// forbiddenFlagPrefixes are always rejected, in any argument position. Each
// of these redirects, re-authenticates, or impersonates past the executor's
// own credential.
var forbiddenFlagPrefixes = []string{
	"--kubeconfig",
	"--server",
	"--token",
	"--as",
	"--as-group",
	"--certificate-authority",
	"--client-certificate",
	"--client-key",
	"--username",
	"--password",
	"--insecure-skip-tls-verify",
	"--tls-server-name",
}

// defaultExtraArgFlags is the whitelist of safe formatting flags accepted in
// extra_args.
var defaultExtraArgFlags = []string{
	"-o",
	"--output",
	"-l",
	"--selector",
	"--field-selector",
	"--show-labels",
	"--sort-by",
	"--tail",
	"-A",
	"--all-namespaces",
	"--no-headers",
}

// valueFlags may appear bare, with their value in the following entry.
var valueFlags = map[string]bool{
	"-o":               true,
	"--output":         true,
	"-l":               true,
	"--selector":       true,
	"--field-selector": true,
	"--sort-by":        true,
	"--tail":           true,
}

// PolicyFile is the optional on-disk policy shape. allowed_verbs replaces the
// built-in verb set; the flag lists extend the built-ins, never shrink them.
type PolicyFile struct {
	AllowedVerbs          []string `json:"allowed_verbs,omitempty"`
	ExtraArgFlags         []string `json:"extra_arg_flags,omitempty"`
	ForbiddenFlagPrefixes []string `json:"forbidden_flag_prefixes,omitempty"`
}

// Policy is the fabric-side static gate on verbs and flags. It is the floor:
// per-cluster capability records can only narrow further, never widen past it.
type Policy struct {
	verbs             map[string]bool
	extraFlags        []string
	forbiddenPrefixes []string
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() *Policy {
	return newPolicy(DefaultVerbs, nil, nil)
}

// LoadPolicy reads a YAML policy file and merges it over the built-ins.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	var file PolicyFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	verbs := file.AllowedVerbs
	if len(verbs) == 0 {
		verbs = DefaultVerbs
	}
	for _, v := range verbs {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("policy file contains an empty verb")
		}
	}
	return newPolicy(verbs, file.ExtraArgFlags, file.ForbiddenFlagPrefixes), nil
}

func newPolicy(verbs, extraFlags, forbidden []string) *Policy {
	p := &Policy{
		verbs:             make(map[string]bool, len(verbs)),
		extraFlags:        append(append([]string{}, defaultExtraArgFlags...), extraFlags...),
		forbiddenPrefixes: append(append([]string{}, forbiddenFlagPrefixes...), forbidden...),
	}
	for _, v := range verbs {
		p.verbs[strings.ToLower(strings.TrimSpace(v))] = true
	}
	return p
}

// AllowsVerb reports whether the verb passes the static gate.
func (p *Policy) AllowsVerb(verb string) bool {
	return p.verbs[verb]
}

// Verbs returns the allowed verb set, for logs and admin introspection.
func (p *Policy) Verbs() []string {
	verbs := make([]string, 0, len(p.verbs))
	for v := range p.verbs {
		verbs = append(verbs, v)
	}
	return verbs
}

// CheckForbidden rejects any entry starting with a forbidden flag prefix.
func (p *Policy) CheckForbidden(args []string) error {
	for _, arg := range args {
		for _, prefix := range p.forbiddenPrefixes {
			if strings.HasPrefix(arg, prefix) {
				return fmt.Errorf("forbidden flag %q", arg)
			}
		}
	}
	return nil
}

// CheckExtraArgs enforces the formatting-flag whitelist. A bare value is only
// accepted immediately after a whitelisted flag that takes one.
func (p *Policy) CheckExtraArgs(extra []string) error {
	expectValue := false
	for _, arg := range extra {
		if !strings.HasPrefix(arg, "-") {
			if expectValue {
				expectValue = false
				continue
			}
			return fmt.Errorf("extra arg %q is not a whitelisted flag", arg)
		}
		expectValue = false
		allowed := false
		for _, prefix := range p.extraFlags {
			if strings.HasPrefix(arg, prefix) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("extra arg %q is not a whitelisted flag", arg)
		}
		if valueFlags[arg] {
			expectValue = true
		}
	}
	return nil
}
