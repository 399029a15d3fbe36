package policy

// GetBuiltinPolicies returns all built-in manifest policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		pinnedVersionsPolicy(),
		denylistPolicy(),
		noWildcardPinsPolicy(),
	}
}

// pinnedVersionsPolicy flags requirements without an exact version pin.
// Unpinned requirements make the bootstrap non-reproducible, but are common
// enough in development that this stays a warning.
func pinnedVersionsPolicy() Policy {
	return Policy{
		Name:        "manifest-pinned-versions",
		Description: "Warns when a requirement does not pin an exact version",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package sensorboot.policies.pinning

import rego.v1

deny contains violation if {
	input.requirement
	req := input.requirement

	not req.pinned
	violation := {
		"message": sprintf("Requirement '%s' does not pin an exact version", [req.name]),
		"severity": "warning",
		"requirement": req.name,
	}
}
`,
	}
}

// denylistPolicy rejects packages the operator has denied.
func denylistPolicy() Policy {
	return Policy{
		Name:        "manifest-denylist",
		Description: "Rejects packages on the operator-configured denylist",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package sensorboot.policies.denylist

import rego.v1

deny contains violation if {
	input.requirement
	req := input.requirement

	some denied in input.context.denied_packages
	lower(req.name) == lower(denied)
	violation := {
		"message": sprintf("Package '%s' is on the denylist", [req.name]),
		"severity": "error",
		"requirement": req.name,
	}
}
`,
	}
}

// noWildcardPinsPolicy rejects "==" pins that still contain a wildcard.
func noWildcardPinsPolicy() Policy {
	return Policy{
		Name:        "manifest-no-wildcard-pins",
		Description: "Rejects exact pins containing wildcards, e.g. ==1.*",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package sensorboot.policies.wildcards

import rego.v1

deny contains violation if {
	input.requirement
	req := input.requirement

	startswith(req.constraint, "==")
	contains(req.constraint, "*")
	violation := {
		"message": sprintf("Requirement '%s' pins a wildcard version '%s'", [req.name, req.constraint]),
		"severity": "error",
		"requirement": req.name,
	}
}
`,
	}
}
