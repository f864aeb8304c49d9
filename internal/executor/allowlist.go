package executor

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kubently/kubently/internal/models"
)

// errVerbNotPermitted is the exact error reported back to the fabric when a
// command's verb fails the local gate.
var errVerbNotPermitted = errors.New("verb not permitted")

// shellMetacharacters never belong in a kubectl argv; their presence means
// someone is trying to smuggle a shell past the executor.
const shellMetacharacters = ";|&$`"

// readOnlyVerbs is the base set every mode includes.
var readOnlyVerbs = []string{
	"get",
	"describe",
	"logs",
	"events",
	"top",
	"explain",
	"api-resources",
	"api-versions",
	"version",
	"cluster-info",
}

// extendedReadOnlyVerbs extend the base with read-only inspection verbs that
// can still reveal more than a plain get.
var extendedReadOnlyVerbs = []string{
	"auth",
	"diff",
}

// readWriteVerbs are mutations, only available in readWrite mode.
var readWriteVerbs = []string{
	"apply",
	"create",
	"delete",
	"scale",
	"patch",
	"label",
	"annotate",
	"rollout",
}

// Allowlist is the executor's authoritative verb gate. The fabric applies its
// own policy before publishing, but commands can reach an executor from any
// fabric replica, so the local list is the one that counts.
type Allowlist struct {
	mode  string
	verbs map[string]bool
}

// NewAllowlist computes the verb set for a security mode plus any
// operator-supplied extras.
func NewAllowlist(mode string, extra []string) (*Allowlist, error) {
	verbs := append([]string{}, readOnlyVerbs...)
	switch mode {
	case models.SecurityModeReadOnly:
	case models.SecurityModeExtendedReadOnly:
		verbs = append(verbs, extendedReadOnlyVerbs...)
	case models.SecurityModeReadWrite:
		verbs = append(verbs, extendedReadOnlyVerbs...)
		verbs = append(verbs, readWriteVerbs...)
	default:
		return nil, fmt.Errorf("unknown security mode %q", mode)
	}
	a := &Allowlist{mode: mode, verbs: make(map[string]bool, len(verbs)+len(extra))}
	for _, v := range verbs {
		a.verbs[v] = true
	}
	for _, v := range extra {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			a.verbs[v] = true
		}
	}
	return a, nil
}

// Mode returns the security mode the list was built from.
func (a *Allowlist) Mode() string {
	return a.mode
}

// Verbs returns the allowed verbs sorted, as advertised in the capability
// report.
func (a *Allowlist) Verbs() []string {
	verbs := make([]string, 0, len(a.verbs))
	for v := range a.verbs {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	return verbs
}

// Check validates a received argv before it is handed to kubectl.
func (a *Allowlist) Check(args []string) error {
	if len(args) == 0 {
		return errors.New("empty command")
	}
	if !a.verbs[strings.ToLower(args[0])] {
		return errVerbNotPermitted
	}
	for _, arg := range args {
		if strings.ContainsAny(arg, shellMetacharacters) {
			return fmt.Errorf("argument %q contains shell metacharacters", arg)
		}
	}
	return nil
}
