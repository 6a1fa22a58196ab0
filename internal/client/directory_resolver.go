package client

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/pesio-ai/be-approval-routing/internal/errors"
)

// Approver spec prefixes.
const (
	SpecUser       = "user"
	SpecRole       = "role"
	SpecDepartment = "department"
)

// ParseApproverSpec splits "kind:name". A spec without a prefix names a user.
func ParseApproverSpec(spec string) (kind, name string, err error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", "", errors.InvalidInput("approver", "empty approver spec")
	}
	kind, name, found := strings.Cut(spec, ":")
	if !found {
		return SpecUser, spec, nil
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", errors.InvalidInput("approver", fmt.Sprintf("approver spec %q has no name", spec))
	}
	switch kind {
	case SpecUser, SpecRole, SpecDepartment:
		return kind, name, nil
	}
	return "", "", errors.InvalidInput("approver", fmt.Sprintf("unknown approver spec kind %q", kind))
}

// DirectoryResolver resolves approver specs from a static directory of role
// and department membership loaded from configuration.
type DirectoryResolver struct {
	roles       map[string][]string
	departments map[string][]string
}

// NewDirectoryResolver copies the given membership maps.
func NewDirectoryResolver(roles, departments map[string][]string) *DirectoryResolver {
	return &DirectoryResolver{
		roles:       copyMembership(roles),
		departments: copyMembership(departments),
	}
}

// ResolveApprovers implements service.IdentityResolver. Unknown roles and
// departments are NOT_FOUND errors.
func (d *DirectoryResolver) ResolveApprovers(_ context.Context, spec string) ([]string, error) {
	kind, name, err := ParseApproverSpec(spec)
	if err != nil {
		return nil, err
	}

	switch kind {
	case SpecUser:
		return []string{name}, nil
	case SpecRole:
		members, ok := d.roles[strings.ToLower(name)]
		if !ok {
			return nil, errors.NotFound("role", name)
		}
		return slices.Clone(members), nil
	default:
		members, ok := d.departments[strings.ToLower(name)]
		if !ok {
			return nil, errors.NotFound("department", name)
		}
		return slices.Clone(members), nil
	}
}

func copyMembership(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = slices.Clone(v)
	}
	return out
}
