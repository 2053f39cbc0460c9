package core

import "seedqc/pkg/domain"

// RoleChecker decides whether an actor holds a privileged (checker) role.
type RoleChecker interface {
	IsPrivileged(actor domain.Actor) bool
}

// RoleSet is a RoleChecker backed by a fixed set of privileged roles.
type RoleSet map[domain.Role]struct{}

// NewRoleSet builds a RoleSet from the supplied roles.
func NewRoleSet(roles ...domain.Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// DefaultPrivilegedRoles grants checker rights to managers and administrators.
func DefaultPrivilegedRoles() RoleSet {
	return NewRoleSet(domain.RoleManager, domain.RoleAdmin)
}

// Contains reports whether role is in the set.
func (s RoleSet) Contains(role domain.Role) bool {
	_, ok := s[role]
	return ok
}

// IsPrivileged implements RoleChecker.
func (s RoleSet) IsPrivileged(actor domain.Actor) bool {
	return s.Contains(actor.Role)
}

// requiresReapproval reports whether an edit by actor must send an approved
// record back to pending approval. An empty reapproval set covers every
// non-privileged role.
func requiresReapproval(checker RoleChecker, reapproval RoleSet, actor domain.Actor) bool {
	if checker.IsPrivileged(actor) {
		return false
	}
	if len(reapproval) == 0 {
		return true
	}
	return reapproval.Contains(actor.Role)
}
