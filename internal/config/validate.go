package config

import (
	"fmt"
	"strings"
)

// validLogLevels mirrors logrus's accepted level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "error": true, "fatal": true, "panic": true,
}

var validFilterKinds = map[string]bool{"bitmap": true, "propcmp": true, "expression": true}

var validPropCmpOps = map[string]bool{
	"contains": true, "isequal": true, "isempty": true,
	"startswith": true, "regex": true, "eregex": true,
}

// Validate checks cfg for the mistakes that would otherwise only surface at
// runtime as a panic or a silently-inert Ruleset/Action, mirroring the
// teacher's ConfigValidator pattern: collect every error found, then return
// them joined rather than stopping at the first one.
func Validate(cfg *Config) error {
	var errs []string

	if !validLogLevels[cfg.App.LogLevel] {
		errs = append(errs, fmt.Sprintf("app.log_level: invalid value %q", cfg.App.LogLevel))
	}

	actionNames := make(map[string]bool, len(cfg.Actions))
	for _, a := range cfg.Actions {
		if a.Name == "" {
			errs = append(errs, "actions: an action is missing a name")
			continue
		}
		if actionNames[a.Name] {
			errs = append(errs, fmt.Sprintf("actions: duplicate action name %q", a.Name))
		}
		actionNames[a.Name] = true

		if a.Module == "" {
			errs = append(errs, fmt.Sprintf("actions[%s]: module is required", a.Name))
		}
		if a.Queue.HighWaterMark <= 0 {
			errs = append(errs, fmt.Sprintf("actions[%s].queue.high_water_mark must be positive", a.Name))
		}
	}

	rulesetNames := make(map[string]bool, len(cfg.Rulesets))
	for _, rs := range cfg.Rulesets {
		if rs.Name == "" {
			errs = append(errs, "rulesets: a ruleset is missing a name")
			continue
		}
		if rulesetNames[rs.Name] {
			errs = append(errs, fmt.Sprintf("rulesets: duplicate ruleset name %q", rs.Name))
		}
		rulesetNames[rs.Name] = true

		for fi, f := range rs.Filters {
			if err := validateFilter(rs.Name, fi, f, actionNames); err != "" {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateFilter(rulesetName string, index int, f FilterConfig, actionNames map[string]bool) string {
	var errs []string
	prefix := fmt.Sprintf("rulesets[%s].filters[%d]", rulesetName, index)

	if !validFilterKinds[f.Kind] {
		errs = append(errs, fmt.Sprintf("%s.kind: invalid value %q", prefix, f.Kind))
	}
	switch f.Kind {
	case "propcmp":
		if f.PropCmp == nil {
			errs = append(errs, fmt.Sprintf("%s: kind propcmp requires propcmp config", prefix))
		} else if !validPropCmpOps[strings.ToLower(f.PropCmp.Op)] {
			errs = append(errs, fmt.Sprintf("%s.propcmp.op: invalid value %q", prefix, f.PropCmp.Op))
		}
	case "expression":
		if f.Expression == "" {
			errs = append(errs, fmt.Sprintf("%s: kind expression requires a non-empty expression", prefix))
		}
	}

	if len(f.Actions) == 0 {
		errs = append(errs, fmt.Sprintf("%s.actions: must reference at least one action", prefix))
	}
	for _, name := range f.Actions {
		if !actionNames[name] {
			errs = append(errs, fmt.Sprintf("%s.actions: references unknown action %q", prefix, name))
		}
	}

	if len(errs) == 0 {
		return ""
	}
	return strings.Join(errs, "; ")
}
